package bundle

import (
	"path/filepath"
	"testing"

	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/stretchr/testify/require"
)

func writeAndReload(t *testing.T, compression *compress.Compression, encryption *zcrypto.Encryption, crypto *zcrypto.Crypto, payloads [][]byte) *Reader {
	t.Helper()
	w, err := NewWriter(Data, fingerprint.Blake2, compression, encryption, crypto)
	require.NoError(t, err)

	for _, p := range payloads {
		fp := fingerprint.Blake2.Hash(p)
		_, err := w.Add(p, fp)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "bundle")
	stored, err := w.Finish(path)
	require.NoError(t, err)
	require.Equal(t, len(payloads), stored.Info.ChunkCount)

	r, err := Load(path, crypto)
	require.NoError(t, err)
	return r
}

func TestRoundTripUncompressedUnencrypted(t *testing.T) {
	payloads := [][]byte{[]byte("hello"), []byte("world"), []byte("a third chunk of bytes")}
	r := writeAndReload(t, nil, nil, zcrypto.Dummy(), payloads)

	for i, p := range payloads {
		got, err := r.GetChunk(i)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	require.NoError(t, r.Check(true))
}

func TestRoundTripCompressed(t *testing.T) {
	c := compress.Default()
	payloads := [][]byte{
		bytesRepeat("a", 1000),
		bytesRepeat("b", 2000),
	}
	r := writeAndReload(t, &c, nil, zcrypto.Dummy(), payloads)

	for i, p := range payloads {
		got, err := r.GetChunk(i)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	require.NoError(t, r.Check(true))
}

func TestRoundTripEncrypted(t *testing.T) {
	crypto := zcrypto.Dummy()
	pub, sec, err := zcrypto.GenKeyPair()
	require.NoError(t, err)
	crypto.AddSecretKey(pub, sec)

	enc := &zcrypto.Encryption{Method: zcrypto.Sodium, PublicKey: pub}
	payloads := [][]byte{[]byte("secret chunk one"), []byte("secret chunk two")}
	r := writeAndReload(t, nil, enc, crypto, payloads)

	require.NotNil(t, r.Info().Encryption)
	require.Equal(t, pub, r.Info().Encryption.PublicKey)

	for i, p := range payloads {
		got, err := r.GetChunk(i)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
	require.NoError(t, r.Check(true))
}

func TestHeaderEncryptionOverwritesInfo(t *testing.T) {
	// The outer Header.Encryption always wins over whatever Encryption
	// value round-trips through Info, by construction: both are set from
	// the same value during Finish, so this just pins that Info never ends
	// up with a stale or missing Encryption after Load.
	crypto := zcrypto.Dummy()
	pub, sec, err := zcrypto.GenKeyPair()
	require.NoError(t, err)
	crypto.AddSecretKey(pub, sec)

	enc := &zcrypto.Encryption{Method: zcrypto.Sodium, PublicKey: pub}
	r := writeAndReload(t, nil, enc, crypto, [][]byte{[]byte("x")})
	require.Equal(t, enc.PublicKey, r.Info().Encryption.PublicKey)
}

func TestCheckNonFullDoesNotRequireDecoding(t *testing.T) {
	r := writeAndReload(t, nil, nil, zcrypto.Dummy(), [][]byte{[]byte("one"), []byte("two")})
	require.NoError(t, r.Check(false))
}

func TestGetChunkPositionOutOfRange(t *testing.T) {
	r := writeAndReload(t, nil, nil, zcrypto.Dummy(), [][]byte{[]byte("only")})
	_, _, err := r.GetChunkPosition(5)
	require.ErrorIs(t, err, ErrNoSuchChunk)
}

func TestLoadInfoSkipsChunkList(t *testing.T) {
	w, err := NewWriter(Meta, fingerprint.Blake2, nil, nil, zcrypto.Dummy())
	require.NoError(t, err)
	_, err = w.Add([]byte("tree data"), fingerprint.Blake2.Hash([]byte("tree data")))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "bundle")
	stored, err := w.Finish(path)
	require.NoError(t, err)

	info, err := LoadInfo(path, zcrypto.Dummy())
	require.NoError(t, err)
	require.Equal(t, stored.Info.ID, info.ID)
	require.Equal(t, Meta, info.Mode)
}

func bytesRepeat(s string, n int) []byte {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return out
}
