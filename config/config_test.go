package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/zvault/zcrypto"
	"github.com/stretchr/testify/require"
)

func TestDefaultValues(t *testing.T) {
	c := Default()
	require.NotNil(t, c.Compression)
	require.Equal(t, "brotli/5", c.Compression.String())
	require.Equal(t, 25*1024*1024, c.BundleSize)
	require.Equal(t, "fastcdc", c.Chunker.Method)
	require.Equal(t, 16*1024, c.Chunker.AvgSize)
	require.Equal(t, uint64(0), c.Chunker.Seed)
	require.Equal(t, "sha3-256", c.Checksum.Name())
	require.Equal(t, "blake2", c.Hash.Name())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	c := Default()
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, c.Compression.String(), loaded.Compression.String())
	require.Equal(t, c.BundleSize, loaded.BundleSize)
	require.Equal(t, c.Chunker, loaded.Chunker)
	require.Equal(t, c.Checksum, loaded.Checksum)
	require.Equal(t, c.Hash, loaded.Hash)
}

func TestSaveLoadRoundTripWithEncryption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	pk, _, err := zcrypto.GenKeyPair()
	require.NoError(t, err)

	c := Default()
	c.Encryption = &pk
	require.NoError(t, c.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Encryption)
	require.Equal(t, pk, *loaded.Encryption)
}

func TestLoadRejectsInvalidChunker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
bundle_size: 100
chunker:
  method: bogus
  avg_size: 100
  seed: 0
checksum: sha3-256
hash: blake2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
