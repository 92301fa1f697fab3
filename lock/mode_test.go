package lock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireReadonlyTouchesOnlyLocal(t *testing.T) {
	localDir := t.TempDir()
	remoteDir := t.TempDir()
	local, err := NewFolder(localDir)
	require.NoError(t, err)
	remote, err := NewFolder(remoteDir)
	require.NoError(t, err)

	m, err := Acquire(Readonly, local, remote, "", nil)
	require.NoError(t, err)

	level, err := remote.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Free, level)

	require.NoError(t, m.Release(nil))
}

func TestAcquireVacuumTakesExclusiveBoth(t *testing.T) {
	localDir := t.TempDir()
	remoteDir := t.TempDir()
	local, err := NewFolder(localDir)
	require.NoError(t, err)
	remote, err := NewFolder(remoteDir)
	require.NoError(t, err)

	dirtyCreated := false
	m, err := Acquire(Vacuum, local, remote, "dirty", func() error {
		dirtyCreated = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, dirtyCreated)

	ll, err := local.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Exclusive, ll)
	rl, err := remote.GetLockLevel()
	require.NoError(t, err)
	require.Equal(t, Exclusive, rl)

	cleared := false
	require.NoError(t, m.Release(func() error {
		cleared = true
		return nil
	}))
	require.True(t, cleared)
}

func TestImplies(t *testing.T) {
	localDir := t.TempDir()
	remoteDir := t.TempDir()
	local, _ := NewFolder(localDir)
	remote, _ := NewFolder(remoteDir)

	m, err := Acquire(Backup, local, remote, "dirty", func() error { return nil })
	require.NoError(t, err)
	defer m.Release(func() error { return nil })

	require.True(t, m.Implies(Readonly))
	require.True(t, m.Implies(LocalWrite))
	require.True(t, m.Implies(Online))
	require.True(t, m.Implies(Backup))
	require.False(t, m.Implies(Vacuum))
}
