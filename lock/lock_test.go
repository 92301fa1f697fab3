package lock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockExclusiveExcludesEverything(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h, err := f.Lock(true)
	require.NoError(t, err)

	level, err := f.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Exclusive, level)

	require.NoError(t, h.Release())
	level, err = f.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Free, level)
}

func TestSharedLocksCoexist(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h1, err := f.Lock(false)
	require.NoError(t, err)

	level, err := f.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Shared, level)

	require.NoError(t, h1.Release())
}

func TestExclusiveRejectedWhenSharedHeld(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h1, err := f.Lock(false)
	require.NoError(t, err)
	defer h1.Release()

	_, err = f.Lock(true)
	require.ErrorIs(t, err, ErrLocked)
}

func TestSharedRejectedWhenExclusiveHeld(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h1, err := f.Lock(true)
	require.NoError(t, err)
	defer h1.Release()

	_, err = f.Lock(false)
	require.ErrorIs(t, err, ErrLocked)
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h, err := f.Lock(true)
	require.NoError(t, err)
	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
}

func TestUpgradeDowngrade(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h, err := f.Lock(false)
	require.NoError(t, err)

	h, err = h.Upgrade()
	require.NoError(t, err)
	level, err := f.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Exclusive, level)

	h, err = h.Downgrade()
	require.NoError(t, err)
	level, err = f.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Shared, level)

	require.NoError(t, h.Release())
}

func TestRefreshRewritesTimestamp(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	h, err := f.Lock(true)
	require.NoError(t, err)
	defer h.Release()

	require.NoError(t, h.Refresh())

	locks, err := f.GetLocks()
	require.NoError(t, err)
	require.Len(t, locks, 1)
	require.True(t, locks[0].Exclusive)
}

func TestGetLockLevelInvalidState(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFolder(dir)
	require.NoError(t, err)

	lf1 := File{Hostname: "a", ProcessID: 1, Exclusive: true}
	lf2 := File{Hostname: "b", ProcessID: 2, Exclusive: true}
	require.NoError(t, writeLockFile(dir+"/a-1.lock", lf1))
	require.NoError(t, writeLockFile(dir+"/b-2.lock", lf2))

	_, err = f.GetLockLevel()
	require.ErrorIs(t, err, ErrInvalidState)
}
