package bundleuploader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueMovesFileIntoPlace(t *testing.T) {
	dir := t.TempDir()
	temp := filepath.Join(dir, "temp-bundle")
	require.NoError(t, os.WriteFile(temp, []byte("bundle contents"), 0o644))

	final := filepath.Join(dir, "ab", "cd", "final.bundle")

	u := New(4)
	require.NoError(t, u.Queue(temp, final))
	require.NoError(t, u.Finish())

	data, err := os.ReadFile(final)
	require.NoError(t, err)
	require.Equal(t, "bundle contents", string(data))
	_, err = os.Stat(temp)
	require.True(t, os.IsNotExist(err))
}

func TestQueueMultipleInOrder(t *testing.T) {
	dir := t.TempDir()
	u := New(2)

	var finals []string
	for i := 0; i < 5; i++ {
		temp := filepath.Join(dir, "temp", string(rune('a'+i)))
		require.NoError(t, os.MkdirAll(filepath.Dir(temp), 0o755))
		require.NoError(t, os.WriteFile(temp, []byte{byte('a' + i)}, 0o644))
		final := filepath.Join(dir, "final", string(rune('a'+i)))
		finals = append(finals, final)
		require.NoError(t, u.Queue(temp, final))
	}
	require.NoError(t, u.Finish())

	for i, final := range finals {
		data, err := os.ReadFile(final)
		require.NoError(t, err)
		require.Equal(t, []byte{byte('a' + i)}, data)
	}
}

func TestWorkerErrorIsLatchedAndSurfaced(t *testing.T) {
	dir := t.TempDir()
	missingTemp := filepath.Join(dir, "does-not-exist")
	final := filepath.Join(dir, "final.bundle")

	u := New(1)
	require.NoError(t, u.Queue(missingTemp, final))
	err := u.Finish()
	require.Error(t, err)
}

func TestFinishIsIdempotentAfterDrain(t *testing.T) {
	u := New(1)
	require.NoError(t, u.Finish())
	require.NoError(t, u.Finish())
}
