package bundledb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/lock"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/stretchr/testify/require"
)

func newTestDb(t *testing.T) (*Db, layout.Layout, *lock.Mode) {
	t.Helper()
	base := t.TempDir()
	lay := layout.New(base)
	require.NoError(t, lay.EnsureDirs(true))

	local, err := lock.NewFolder(lay.LocalLocksPath())
	require.NoError(t, err)
	remote, err := lock.NewFolder(lay.RemoteLocksPath())
	require.NoError(t, err)
	mode, err := lock.Acquire(lock.Backup, local, remote, lay.DirtyFilePath(), func() error {
		return os.WriteFile(lay.DirtyFilePath(), []byte{}, 0o644)
	})
	require.NoError(t, err)
	t.Cleanup(func() { mode.Release(func() error { return os.Remove(lay.DirtyFilePath()) }) })

	db, err := Open(lay, zcrypto.Dummy())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, lay, mode
}

func addTestBundle(t *testing.T, db *Db, mode *lock.Mode, m bundle.Mode, payloads [][]byte) bundle.Info {
	t.Helper()
	w, err := db.CreateBundle(m, fingerprint.Blake2, nil, nil, mode)
	require.NoError(t, err)
	for _, p := range payloads {
		_, err := w.Add(p, fingerprint.Blake2.Hash(p))
		require.NoError(t, err)
	}
	info, err := db.AddBundle(w, mode)
	require.NoError(t, err)
	return info
}

func TestAddBundleAndGetChunk(t *testing.T) {
	db, _, mode := newTestDb(t)
	payloads := [][]byte{[]byte("hello"), []byte("world")}
	info := addTestBundle(t, db, mode, bundle.Data, payloads)
	require.NoError(t, db.Flush())

	got, err := db.GetChunk(info.ID, 0)
	require.NoError(t, err)
	require.Equal(t, payloads[0], got)

	got, err = db.GetChunk(info.ID, 1)
	require.NoError(t, err)
	require.Equal(t, payloads[1], got)

	// Second read should be served from the LRU.
	got, err = db.GetChunk(info.ID, 0)
	require.NoError(t, err)
	require.Equal(t, payloads[0], got)
}

func TestMetaBundleMirroredLocally(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Meta, [][]byte{[]byte("tree")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	_, ok := db.local[info.ID]
	db.mu.Unlock()
	require.True(t, ok)
}

func TestDataBundleNotMirroredLocally(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("content")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	_, ok := db.local[info.ID]
	db.mu.Unlock()
	require.False(t, ok)
}

func TestGetChunkMissingBundle(t *testing.T) {
	db, _, _ := newTestDb(t)
	_, err := db.GetChunk(bundle.RandomID(), 0)
	require.ErrorIs(t, err, ErrMissingBundle)
}

func TestDeleteBundleRemovesFile(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	path := db.remote[info.ID].Path
	db.mu.Unlock()
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, db.DeleteBundle(info.ID, mode))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDeleteBundleRequiresVacuum(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())

	err := db.DeleteBundle(info.ID, mode) // mode is only Backup here
	require.ErrorIs(t, err, ErrNeedsVacuum)
}

func TestSynchronizeDetectsGoneBundle(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	path := db.remote[info.ID].Path
	db.mu.Unlock()
	require.NoError(t, os.Remove(path))

	newInfos, goneInfos, err := db.Synchronize(mode)
	require.NoError(t, err)
	require.Empty(t, newInfos)
	require.Len(t, goneInfos, 1)
	require.Equal(t, info.ID, goneInfos[0].ID)
}

func TestSynchronizeDetectsNewBundle(t *testing.T) {
	db, lay, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	path := db.remote[info.ID].Path
	delete(db.remote, info.ID)
	db.mu.Unlock()
	_, err := os.Stat(path)
	require.NoError(t, err)
	_ = lay

	newInfos, goneInfos, err := db.Synchronize(mode)
	require.NoError(t, err)
	require.Len(t, newInfos, 1)
	require.Empty(t, goneInfos)
	require.Equal(t, info.ID, newInfos[0].ID)
}

func TestCheckReportsNoErrorsForHealthyBundles(t *testing.T) {
	db, _, mode := newTestDb(t)
	addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x"), []byte("y")})
	require.NoError(t, db.Flush())

	errs, err := db.Check(true, mode)
	require.NoError(t, err)
	require.Empty(t, errs)
}

func TestCheckDetectsCorruption(t *testing.T) {
	db, _, mode := newTestDb(t)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())

	db.mu.Lock()
	path := db.remote[info.ID].Path
	db.mu.Unlock()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	errs, err := db.Check(true, mode)
	require.NoError(t, err)
	require.NotEmpty(t, errs)
}

func TestRepairRecoversChunksBeforeTruncation(t *testing.T) {
	base := t.TempDir()
	lay := layout.New(base)
	require.NoError(t, lay.EnsureDirs(true))

	local, err := lock.NewFolder(lay.LocalLocksPath())
	require.NoError(t, err)
	remote, err := lock.NewFolder(lay.RemoteLocksPath())
	require.NoError(t, err)
	mode, err := lock.Acquire(lock.Vacuum, local, remote, lay.DirtyFilePath(), func() error {
		return os.WriteFile(lay.DirtyFilePath(), []byte{}, 0o644)
	})
	require.NoError(t, err)
	t.Cleanup(func() { mode.Release(func() error { return os.Remove(lay.DirtyFilePath()) }) })

	db, err := Open(lay, zcrypto.Dummy())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// No compression, no encryption: the on-disk content is a plain
	// concatenation of the chunk payloads, so truncating partway through
	// the last chunk leaves the first two fully intact.
	payloads := [][]byte{
		[]byte("first chunk payload"),
		[]byte("second chunk payload"),
		[]byte("third chunk payload, cut off mid-stream"),
	}
	info := addTestBundle(t, db, mode, bundle.Data, payloads)
	require.NoError(t, db.Flush())

	db.mu.Lock()
	path := db.remote[info.ID].Path
	db.mu.Unlock()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	cut := len(raw) - len(payloads[2])/2
	require.NoError(t, os.WriteFile(path, raw[:cut], 0o644))

	require.NoError(t, db.Repair(mode, []bundle.ID{info.ID}, fingerprint.Blake2))

	db.mu.Lock()
	_, stillBroken := db.remote[info.ID]
	var replacement bundle.ID
	for id := range db.remote {
		replacement = id
	}
	db.mu.Unlock()
	require.False(t, stillBroken)
	require.NotEqual(t, bundle.ID{}, replacement)

	_, err = os.Stat(path + ".broken")
	require.NoError(t, err)

	got, err := db.GetChunk(replacement, 0)
	require.NoError(t, err)
	require.Equal(t, payloads[0], got)

	got, err = db.GetChunk(replacement, 1)
	require.NoError(t, err)
	require.Equal(t, payloads[1], got)

	_, err = db.GetChunk(replacement, 2)
	require.Error(t, err)
}

func TestOpenReconcilesExistingBundles(t *testing.T) {
	base := t.TempDir()
	lay := layout.New(base)
	require.NoError(t, lay.EnsureDirs(true))

	local, err := lock.NewFolder(lay.LocalLocksPath())
	require.NoError(t, err)
	remote, err := lock.NewFolder(lay.RemoteLocksPath())
	require.NoError(t, err)
	mode, err := lock.Acquire(lock.Backup, local, remote, lay.DirtyFilePath(), func() error {
		return os.WriteFile(lay.DirtyFilePath(), []byte{}, 0o644)
	})
	require.NoError(t, err)

	db, err := Open(lay, zcrypto.Dummy())
	require.NoError(t, err)
	info := addTestBundle(t, db, mode, bundle.Data, [][]byte{[]byte("x")})
	require.NoError(t, db.Flush())
	require.NoError(t, db.Close())
	require.NoError(t, mode.Release(func() error { return os.Remove(lay.DirtyFilePath()) }))

	// Remove the in-memory cache files to force a full rescan from disk.
	require.NoError(t, os.Remove(lay.RemoteBundleCachePath()))

	reopened, err := Open(lay, zcrypto.Dummy())
	require.NoError(t, err)
	defer reopened.Close()

	reopened.mu.Lock()
	_, ok := reopened.remote[info.ID]
	reopened.mu.Unlock()
	require.True(t, ok)
	_ = filepath.Join // keep filepath import if unused elsewhere
}
