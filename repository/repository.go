// Package repository composes the index, bundle database, bundle map,
// crypto, and layout into the engine's single entry point: content-defined
// chunking on the way in, deduplicated lookup on the way out, and the
// typed lock/mode hierarchy gating every write-shaped operation.
package repository

import (
	"fmt"
	"os"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/bundledb"
	"github.com/rpcpool/zvault/bundlemap"
	"github.com/rpcpool/zvault/config"
	"github.com/rpcpool/zvault/layout"
	"github.com/rpcpool/zvault/lock"
	"github.com/rpcpool/zvault/repoindex"
	"github.com/rpcpool/zvault/zcrypto"
)

var log = logging.Logger("zvault/repository")

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	// ErrNoRemote is returned by Open when the repository's remote side
	// has not been initialized.
	ErrNoRemote = errorType("repository: remote not initialized")
	// ErrNeedsLocalWrite gates operations that require at least LocalWrite.
	ErrNeedsLocalWrite = errorType("repository: requires at least LocalWrite")
	// ErrNeedsOnline gates operations that require at least Online.
	ErrNeedsOnline = errorType("repository: requires at least Online")
	// ErrNeedsBackup gates operations that require at least Backup.
	ErrNeedsBackup = errorType("repository: requires at least Backup")
	// ErrNeedsVacuum gates operations that require Vacuum.
	ErrNeedsVacuum = errorType("repository: requires Vacuum")
	// ErrDirty is returned by ordinary operations when the repository was
	// opened with a stale dirty-file and CheckRepair has not yet run.
	ErrDirty = errorType("repository: dirty flag set, run CheckRepair")
	// ErrMissingChunk is returned by GetChunk for a fingerprint absent
	// from the index.
	ErrMissingChunk = errorType("repository: no such chunk")
	// ErrMissingBundleID is returned when the index references a
	// small-integer bundle id with no entry in the bundle map.
	ErrMissingBundleID = errorType("repository: bundle map has no entry for id")
)

// Repository is the engine's single composed entry point.
type Repository struct {
	lay    layout.Layout
	cfg    config.Config
	crypto *zcrypto.Crypto

	index   *repoindex.Index
	bmap    *bundlemap.Map
	bundles *bundledb.Db

	localLocks  *lock.Folder
	remoteLocks *lock.Folder

	mu             sync.Mutex
	dataWriter     *bundle.Writer
	metaWriter     *bundle.Writer
	nextDataBundle uint32
	nextMetaBundle uint32

	dirtyMu sync.Mutex
	dirty   bool
}

func encryptionFor(cfg config.Config) *zcrypto.Encryption {
	if cfg.Encryption == nil {
		return nil
	}
	return &zcrypto.Encryption{Method: zcrypto.Sodium, PublicKey: *cfg.Encryption}
}

// Create initializes a brand-new repository at lay, symlinking its remote
// side to remotePath, and returns it already opened under a Backup token
// (the minimum level that can usefully populate a fresh repository).
func Create(lay layout.Layout, cfg config.Config, crypto *zcrypto.Crypto, remotePath string) (*Repository, *lock.Mode, error) {
	if err := lay.EnsureDirs(false); err != nil {
		return nil, nil, fmt.Errorf("repository: create local dirs: %w", err)
	}
	if _, err := os.Lstat(lay.RemotePath()); os.IsNotExist(err) {
		if err := os.Symlink(remotePath, lay.RemotePath()); err != nil {
			return nil, nil, fmt.Errorf("repository: symlink remote: %w", err)
		}
	}
	if err := os.MkdirAll(lay.RemoteBundlesPath(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("repository: create remote bundles dir: %w", err)
	}
	if err := os.MkdirAll(lay.RemoteLocksPath(), 0o755); err != nil {
		return nil, nil, fmt.Errorf("repository: create remote locks dir: %w", err)
	}
	if _, err := os.Stat(lay.RemoteReadmePath()); os.IsNotExist(err) {
		readme := "This directory is a zvault repository's remote bundle store.\n" +
			"Do not edit or delete its contents by hand.\n"
		if err := os.WriteFile(lay.RemoteReadmePath(), []byte(readme), 0o644); err != nil {
			return nil, nil, fmt.Errorf("repository: write remote README: %w", err)
		}
	}

	if err := bundlemap.New().Save(lay.BundleMapPath()); err != nil {
		return nil, nil, fmt.Errorf("repository: write empty bundle map: %w", err)
	}
	idx, err := repoindex.Create(lay.IndexPath())
	if err != nil {
		return nil, nil, fmt.Errorf("repository: create index: %w", err)
	}
	idx.Close()

	if err := cfg.Save(lay.ConfigPath()); err != nil {
		return nil, nil, fmt.Errorf("repository: write config: %w", err)
	}

	return Open(lay, crypto, lock.Backup)
}

// Open acquires a lock of level, loads the bundle map and index, and
// starts the bundle database. If the repository was left with a stale
// dirty-file from an unclean exit, ordinary operations refuse until
// CheckRepair runs (see requireClean).
func Open(lay layout.Layout, crypto *zcrypto.Crypto, level lock.AccessLevel) (*Repository, *lock.Mode, error) {
	if !lay.RemoteExists() {
		return nil, nil, ErrNoRemote
	}

	localFolder, err := lock.NewFolder(lay.LocalLocksPath())
	if err != nil {
		return nil, nil, err
	}
	remoteFolder, err := lock.NewFolder(lay.RemoteLocksPath())
	if err != nil {
		return nil, nil, err
	}

	_, statErr := os.Stat(lay.DirtyFilePath())
	wasDirty := statErr == nil

	mode, err := lock.Acquire(level, localFolder, remoteFolder, lay.DirtyFilePath(), func() error {
		return os.WriteFile(lay.DirtyFilePath(), []byte(time.Now().UTC().Format(time.RFC3339)), 0o644)
	})
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(lay.ConfigPath())
	if err != nil {
		mode.Release(nil)
		return nil, nil, fmt.Errorf("repository: load config: %w", err)
	}

	bmap, err := bundlemap.Load(lay.BundleMapPath())
	if err != nil {
		mode.Release(nil)
		return nil, nil, fmt.Errorf("repository: load bundle map: %w", err)
	}

	idx, err := repoindex.Open(lay.IndexPath())
	if err != nil {
		mode.Release(nil)
		return nil, nil, fmt.Errorf("repository: open index: %w", err)
	}

	bdb, err := bundledb.Open(lay, crypto)
	if err != nil {
		idx.Close()
		mode.Release(nil)
		return nil, nil, fmt.Errorf("repository: open bundle db: %w", err)
	}

	r := &Repository{
		lay:            lay,
		cfg:            cfg,
		crypto:         crypto,
		index:          idx,
		bmap:           bmap,
		bundles:        bdb,
		localLocks:     localFolder,
		remoteLocks:    remoteFolder,
		nextDataBundle: 0,
		nextMetaBundle: 1,
	}
	r.dirty = wasDirty
	if wasDirty {
		log.Warnw("repository opened with stale dirty-file, refusing writes until CheckRepair", "path", lay.Base())
	}
	r.reserveNextBundleIDs()

	return r, mode, nil
}

// reserveNextBundleIDs advances next{Data,Meta}Bundle past whatever the
// bundle map already uses, so a freshly opened repository never collides
// with ids assigned in a previous session.
func (r *Repository) reserveNextBundleIDs() {
	maxID := uint32(0)
	any := false
	for _, b := range r.bmap.Bundles() {
		any = true
		if b.ID >= maxID {
			maxID = b.ID
		}
	}
	if !any {
		return
	}
	r.nextDataBundle = r.allocateBundleIDLocked(maxID, 0)
	r.nextMetaBundle = r.allocateBundleIDLocked(maxID, r.nextDataBundle)
}

// allocateBundleIDLocked returns the first id greater than floor that is
// neither already present in the bundle map nor equal to avoid.
func (r *Repository) allocateBundleIDLocked(floor, avoid uint32) uint32 {
	candidate := floor + 1
	for {
		if candidate != avoid {
			if _, err := r.bmap.Get(candidate); err != nil {
				return candidate
			}
		}
		candidate++
	}
}

// requireClean returns ErrDirty unless the repository's dirty flag has
// been cleared (by CheckRepair, or because it was never set).
func (r *Repository) requireClean() error {
	r.dirtyMu.Lock()
	defer r.dirtyMu.Unlock()
	if r.dirty {
		return ErrDirty
	}
	return nil
}

// Close releases the held mode's locks, clearing the dirty-file on clean
// exit, and shuts down the bundle database's upload worker for good.
func (r *Repository) Close(mode *lock.Mode) error {
	if err := r.bundles.Close(); err != nil {
		return err
	}
	if err := r.index.Close(); err != nil {
		return err
	}
	return mode.Release(func() error {
		if err := os.Remove(r.lay.DirtyFilePath()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}
