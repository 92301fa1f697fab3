package bundlemap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/lock"
	"github.com/stretchr/testify/require"
)

func localWriteMode(t *testing.T) *lock.Mode {
	t.Helper()
	local, err := lock.NewFolder(t.TempDir())
	require.NoError(t, err)
	remote, err := lock.NewFolder(t.TempDir())
	require.NoError(t, err)
	m, err := lock.Acquire(lock.LocalWrite, local, remote, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { m.Release(nil) })
	return m
}

func TestSetGetFind(t *testing.T) {
	m := New()
	mode := localWriteMode(t)

	id := bundle.RandomID()
	require.NoError(t, m.Set(7, id, mode))

	got, err := m.Get(7)
	require.NoError(t, err)
	require.Equal(t, id, got)

	found, ok := m.Find(id)
	require.True(t, ok)
	require.Equal(t, uint32(7), found)

	require.Equal(t, 1, m.Len())
}

func TestGetMissing(t *testing.T) {
	m := New()
	_, err := m.Get(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemove(t *testing.T) {
	m := New()
	mode := localWriteMode(t)
	id := bundle.RandomID()
	require.NoError(t, m.Set(1, id, mode))
	require.NoError(t, m.Remove(1, mode))
	_, err := m.Get(1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSetRequiresLocalWrite(t *testing.T) {
	local, err := lock.NewFolder(t.TempDir())
	require.NoError(t, err)
	remote, err := lock.NewFolder(t.TempDir())
	require.NoError(t, err)
	ro, err := lock.Acquire(lock.Readonly, local, remote, "", nil)
	require.NoError(t, err)
	defer ro.Release(nil)

	m := New()
	err = m.Set(1, bundle.RandomID(), ro)
	require.ErrorIs(t, err, ErrNeedsLocalWrite)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := New()
	mode := localWriteMode(t)
	ids := make([]bundle.ID, 5)
	for i := range ids {
		ids[i] = bundle.RandomID()
		require.NoError(t, m.Set(uint32(i), ids[i], mode))
	}

	path := filepath.Join(t.TempDir(), "bundles.map")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, m.Len(), loaded.Len())

	for i, id := range ids {
		got, err := loaded.Get(uint32(i))
		require.NoError(t, err)
		require.Equal(t, id, got)
	}
}

func TestBundlesSortedByID(t *testing.T) {
	m := New()
	mode := localWriteMode(t)
	require.NoError(t, m.Set(3, bundle.RandomID(), mode))
	require.NoError(t, m.Set(1, bundle.RandomID(), mode))
	require.NoError(t, m.Set(2, bundle.RandomID(), mode))

	entries := m.Bundles()
	require.Len(t, entries, 3)
	require.Equal(t, uint32(1), entries[0].ID)
	require.Equal(t, uint32(2), entries[1].ID)
	require.Equal(t, uint32(3), entries[2].ID)
}

func TestLoadRejectsWrongMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bundles.map")
	require.NoError(t, os.WriteFile(path, []byte("xxxxxxx\x01"), 0o644))
	_, err := Load(path)
	require.ErrorIs(t, err, ErrWrongMagic)
}
