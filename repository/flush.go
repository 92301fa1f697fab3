package repository

import (
	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/lock"
)

// Flush finalizes any open bundle writers, waits for their uploads (and any
// already queued) to complete, and persists the bundle map. Requires at
// least Backup mode.
func (r *Repository) Flush(lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.Backup) {
		return ErrNeedsBackup
	}

	r.mu.Lock()
	if err := r.finalizeWriterLocked(bundle.Data, lockMode); err != nil {
		r.mu.Unlock()
		return err
	}
	if err := r.finalizeWriterLocked(bundle.Meta, lockMode); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if err := r.bundles.Flush(); err != nil {
		return err
	}
	return r.bmap.Save(r.lay.BundleMapPath())
}
