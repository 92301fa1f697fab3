package zcrypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	pk, sk, err := GenKeyPair()
	require.NoError(t, err)
	c := Dummy()
	c.AddSecretKey(pk, sk)

	msg := []byte("hello, sealed box")
	ct, err := c.Encrypt(msg, pk)
	require.NoError(t, err)
	require.NotEqual(t, msg, ct)

	pt, err := c.Decrypt(ct, pk)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestDecryptMissingKey(t *testing.T) {
	pk, _, err := GenKeyPair()
	require.NoError(t, err)
	c := Dummy()
	_, err = c.Decrypt([]byte("whatever-at-least-32-bytes-long!!"), pk)
	require.Error(t, err)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	pk, _, err := GenKeyPair()
	require.NoError(t, err)
	_, sk2, err := GenKeyPair()
	require.NoError(t, err)

	c := Dummy()
	c.AddSecretKey(pk, sk2)
	ct, err := Dummy().Encrypt([]byte("secret"), pk)
	require.NoError(t, err)
	_, err = c.Decrypt(ct, pk)
	require.Error(t, err)
}

func TestPasswordDerivationIsDeterministic(t *testing.T) {
	pk1, sk1 := KeypairFromPassword([]byte("hunter2"))
	pk2, sk2 := KeypairFromPassword([]byte("hunter2"))
	require.Equal(t, pk1, pk2)
	require.Equal(t, sk1, sk2)

	pk3, _ := KeypairFromPassword([]byte("different"))
	require.NotEqual(t, pk1, pk3)
}

func TestKeyfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pk, sk, err := GenKeyPair()
	require.NoError(t, err)
	path := filepath.Join(dir, "pair.yaml")
	require.NoError(t, WriteKeyfile(path, pk, sk))

	c, err := Open(dir)
	require.NoError(t, err)
	require.True(t, c.ContainsSecretKey(pk))
	got, err := c.GetSecretKey(pk)
	require.NoError(t, err)
	require.Equal(t, sk, got)
}
