package repository

import (
	"fmt"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/bundlemap"
	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/lock"
)

// Synchronize reconciles the repository's view of the remote bundle
// directory: bundles uploaded by another process are folded into the
// index under a freshly allocated small-integer id, and bundles that
// vanished remotely are dropped from the bundle map, the index, and the
// local cache. Requires at least Online mode.
func (r *Repository) Synchronize(lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.Online) {
		return ErrNeedsOnline
	}

	newInfos, goneInfos, err := r.bundles.Synchronize(lockMode)
	if err != nil {
		return err
	}

	changed := false

	for _, info := range goneInfos {
		id, ok := r.bmap.Find(info.ID)
		if !ok {
			continue
		}
		if err := r.bmap.Remove(id, lockMode); err != nil {
			return err
		}
		if _, err := r.index.Filter(func(_ fingerprint.Hash, loc chunk.Location) bool {
			return loc.BundleID != id
		}); err != nil {
			return err
		}
		if err := r.bundles.DeleteLocalBundle(info.ID, lockMode); err != nil {
			return err
		}
		changed = true
	}

	for _, info := range newInfos {
		if err := r.reindexNewBundle(info, lockMode); err != nil {
			return err
		}
		changed = true
	}

	if changed {
		r.mu.Lock()
		r.reserveNextBundleIDs()
		r.mu.Unlock()
		return r.bmap.Save(r.lay.BundleMapPath())
	}
	return nil
}

// reindexNewBundle allocates a fresh small-integer id for a bundle
// discovered during Synchronize and inserts an index entry for each of its
// chunks. When a chunk's fingerprint is already indexed against a
// different bundle, the higher bundle.ID wins, matching the duplicate
// resolution rule Vacuum's crash window relies on.
func (r *Repository) reindexNewBundle(info bundle.Info, lockMode *lock.Mode) error {
	reader, err := r.bundles.Open(info.ID)
	if err != nil {
		return err
	}
	chunks, err := reader.Chunks()
	if err != nil {
		return err
	}

	r.mu.Lock()
	floor := r.nextDataBundle
	if r.nextMetaBundle > floor {
		floor = r.nextMetaBundle
	}
	assignedID := r.allocateBundleIDLocked(floor, 0)
	r.mu.Unlock()

	for i, c := range chunks {
		if existingLoc, ok := r.index.Get(c.Fingerprint); ok {
			existingBundleID, err := r.bmap.Get(existingLoc.BundleID)
			if err == nil && !existingBundleID.Less(info.ID) {
				continue
			}
		}
		if err := r.index.Set(c.Fingerprint, chunk.Location{BundleID: assignedID, ChunkID: uint32(i)}); err != nil {
			return err
		}
	}

	return r.bmap.Set(assignedID, info.ID, lockMode)
}

// Check validates index self-consistency, that every indexed fingerprint
// resolves through the bundle map to an existing bundle and chunk, and
// that every remote bundle passes its own structural check. Requires at
// least Online mode.
func (r *Repository) Check(full bool, lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.Online) {
		return ErrNeedsOnline
	}

	if err := r.index.Check(); err != nil {
		return fmt.Errorf("repository: index check: %w", err)
	}

	var walkErr error
	r.index.Walk(func(fp fingerprint.Hash, loc chunk.Location) {
		if walkErr != nil {
			return
		}
		bundleID, err := r.bmap.Get(loc.BundleID)
		if err != nil {
			walkErr = fmt.Errorf("repository: fingerprint %s: %w", fp, ErrMissingBundleID)
			return
		}
		count, err := r.bundleChunkCount(bundleID)
		if err != nil {
			walkErr = fmt.Errorf("repository: bundle %s: %w", bundleID, err)
			return
		}
		if int(loc.ChunkID) >= count {
			walkErr = fmt.Errorf("repository: fingerprint %s: chunk %d out of range for bundle %s (%d chunks)", fp, loc.ChunkID, bundleID, count)
		}
	})
	if walkErr != nil {
		return walkErr
	}

	bundleErrs, err := r.bundles.Check(full, lockMode)
	if err != nil {
		return err
	}
	for id, e := range bundleErrs {
		return fmt.Errorf("repository: bundle %s: %w", id, e)
	}

	remoteCount := len(r.bundles.RemoteBundles())
	if r.bmap.Len() != remoteCount {
		return fmt.Errorf("repository: bundle map has %d entries, remote has %d bundles", r.bmap.Len(), remoteCount)
	}

	return nil
}

// bundleChunkCount reports how many chunks bundleID contains, used by
// Check to validate an index entry's chunk id is in range.
func (r *Repository) bundleChunkCount(bundleID bundle.ID) (int, error) {
	reader, err := r.bundles.Open(bundleID)
	if err != nil {
		return 0, err
	}
	return reader.ChunkCount()
}

// CheckRepair rebuilds the bundle map and index from scratch by
// re-scanning the remote bundle directory in path order and assigning
// fresh small-integer ids, then clears the stale-dirty-file flag. Requires
// Vacuum mode.
func (r *Repository) CheckRepair(lockMode *lock.Mode) error {
	if !lockMode.Implies(lock.Vacuum) {
		return ErrNeedsVacuum
	}

	remoteBundles := r.bundles.RemoteBundles()

	fresh := bundlemap.New()
	r.index.Clear()

	for i, sb := range remoteBundles {
		id := uint32(i)
		reader, err := r.bundles.Open(sb.Info.ID)
		if err != nil {
			return fmt.Errorf("repository: rebuild: open bundle %s: %w", sb.Info.ID, err)
		}
		chunks, err := reader.Chunks()
		if err != nil {
			return fmt.Errorf("repository: rebuild: read chunk list of bundle %s: %w", sb.Info.ID, err)
		}
		for chunkID, c := range chunks {
			if err := r.index.Set(c.Fingerprint, chunk.Location{BundleID: id, ChunkID: uint32(chunkID)}); err != nil {
				return err
			}
		}
		if err := fresh.Set(id, sb.Info.ID, lockMode); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.bmap = fresh
	r.reserveNextBundleIDs()
	r.mu.Unlock()

	if err := r.bmap.Save(r.lay.BundleMapPath()); err != nil {
		return err
	}

	r.dirtyMu.Lock()
	r.dirty = false
	r.dirtyMu.Unlock()
	return nil
}
