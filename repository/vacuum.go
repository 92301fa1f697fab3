package repository

import (
	"github.com/rpcpool/zvault/bitmap"
	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/lock"
	"github.com/rpcpool/zvault/statistics"
)

// combineThreshold bounds what counts as a "small" fully-live bundle that
// combine mode will merge away even though it has nothing dead to reclaim.
func (r *Repository) combineThreshold() int {
	return r.cfg.BundleSize / 2
}

type bundleUsage struct {
	smallID     uint32
	id          bundle.ID
	info        bundle.Info
	liveChunks  *bitmap.Bitmap // nil until a live chunk is seen
	usedRawSize uint64
}

func (u *bundleUsage) ratio() float64 {
	if u.info.RawSize == 0 {
		return 0
	}
	return float64(u.usedRawSize) / float64(u.info.RawSize)
}

// VacuumReport describes what a Vacuum pass selected, and (once applied)
// what it actually reclaimed.
type VacuumReport struct {
	BundlesSelected  []bundle.ID
	ProjectedReclaim uint64
	Applied          bool
}

// Vacuum analyzes chunk usage across the reachable set described by roots
// (one chunk list per live backup root; traversing backup metadata itself
// is the caller's responsibility) and selects bundles whose live-data
// ratio is at or below ratio for reclaiming. With force false it only
// reports the selection and projected savings. With force true it rewrites
// every live chunk of a selected bundle into a fresh bundle, flushes, and
// deletes the old bundles. Requires Vacuum mode.
func (r *Repository) Vacuum(ratio float64, combine, force bool, lockMode *lock.Mode, roots []chunk.List) (VacuumReport, error) {
	if !lockMode.Implies(lock.Vacuum) {
		return VacuumReport{}, ErrNeedsVacuum
	}

	usage, err := r.analyzeUsage(roots)
	if err != nil {
		return VacuumReport{}, err
	}

	selected, err := r.selectForVacuum(usage, ratio, combine)
	if err != nil {
		return VacuumReport{}, err
	}

	report := VacuumReport{}
	for _, u := range selected {
		report.BundlesSelected = append(report.BundlesSelected, u.id)
		report.ProjectedReclaim += uint64(u.info.RawSize) - u.usedRawSize
	}
	if !force {
		return report, nil
	}

	for _, u := range selected {
		if err := r.rewriteLiveChunks(u, lockMode); err != nil {
			return report, err
		}
	}
	if err := r.Flush(lockMode); err != nil {
		return report, err
	}

	for _, u := range selected {
		if err := r.bundles.DeleteBundle(u.id, lockMode); err != nil {
			return report, err
		}
		if err := r.bmap.Remove(u.smallID, lockMode); err != nil {
			return report, err
		}
		if u.liveChunks != nil && u.liveChunks.Count() > 0 {
			statistics.VacuumBundlesRewritten.WithLabelValues().Inc()
		} else {
			statistics.VacuumBundlesDeleted.WithLabelValues().Inc()
		}
	}
	if err := r.bmap.Save(r.lay.BundleMapPath()); err != nil {
		return report, err
	}

	report.Applied = true
	return report, nil
}

// analyzeUsage walks every chunk reachable from roots and tallies, per
// bundle, how much of its raw content is still referenced.
func (r *Repository) analyzeUsage(roots []chunk.List) (map[uint32]*bundleUsage, error) {
	usage := make(map[uint32]*bundleUsage)

	for _, list := range roots {
		for _, c := range list {
			loc, ok := r.index.Get(c.Fingerprint)
			if !ok {
				continue // root refers to a chunk no longer indexed; not this pass's concern
			}
			u, ok := usage[loc.BundleID]
			if !ok {
				bundleID, err := r.bmap.Get(loc.BundleID)
				if err != nil {
					continue
				}
				reader, err := r.bundles.Open(bundleID)
				if err != nil {
					return nil, err
				}
				count, err := reader.ChunkCount()
				if err != nil {
					return nil, err
				}
				u = &bundleUsage{
					smallID:    loc.BundleID,
					id:         bundleID,
					info:       reader.Info(),
					liveChunks: bitmap.New(count),
				}
				usage[loc.BundleID] = u
			}
			if int(loc.ChunkID) >= u.liveChunks.Len() || u.liveChunks.Get(int(loc.ChunkID)) {
				continue
			}
			u.liveChunks.Set(int(loc.ChunkID))
			u.usedRawSize += uint64(c.Length)
		}
	}
	return usage, nil
}

// selectForVacuum adds every known bundle (not just ones analyzeUsage
// already touched) so fully-dead bundles with zero reachable chunks are
// still candidates, then filters by the usage ratio threshold. combine
// additionally selects small, fully-live bundles purely to reduce bundle
// count.
func (r *Repository) selectForVacuum(usage map[uint32]*bundleUsage, ratio float64, combine bool) ([]*bundleUsage, error) {
	for _, entry := range r.bmap.Bundles() {
		if _, ok := usage[entry.ID]; ok {
			continue
		}
		reader, err := r.bundles.Open(entry.BundleID)
		if err != nil {
			return nil, err
		}
		usage[entry.ID] = &bundleUsage{smallID: entry.ID, id: entry.BundleID, info: reader.Info()}
	}

	var selected []*bundleUsage
	for _, u := range usage {
		switch {
		case u.ratio() <= ratio:
			selected = append(selected, u)
		case combine && u.ratio() >= 1.0 && u.info.EncodedSize < r.combineThreshold():
			selected = append(selected, u)
		}
	}
	return selected, nil
}

// rewriteLiveChunks copies every chunk still marked live in u into a fresh
// bundle, overwriting the index entry to point at the new location. Unlike
// PutChunk this does not consult the index's existing entry first: vacuum
// always re-deposits data it already knows is live, and the whole point is
// to move it, not deduplicate it away.
func (r *Repository) rewriteLiveChunks(u *bundleUsage, lockMode *lock.Mode) error {
	if u.liveChunks == nil {
		return nil
	}
	for chunkID := 0; chunkID < u.liveChunks.Len(); chunkID++ {
		if !u.liveChunks.Get(chunkID) {
			continue
		}
		data, err := r.bundles.GetChunk(u.id, chunkID)
		if err != nil {
			return err
		}
		fp := r.cfg.Hash.Hash(data)
		if _, err := r.rewriteChunk(u.info.Mode, fp, data, lockMode); err != nil {
			return err
		}
	}
	return nil
}

// rewriteChunk is PutChunk without the dedup short-circuit; see
// rewriteLiveChunks.
func (r *Repository) rewriteChunk(mode bundle.Mode, fp fingerprint.Hash, data []byte, lockMode *lock.Mode) (chunk.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.writerFor(mode, lockMode)
	if err != nil {
		return chunk.Location{}, err
	}
	chunkID, err := w.Add(data, fp)
	if err != nil {
		return chunk.Location{}, err
	}
	loc := chunk.Location{BundleID: r.nextBundleIDLocked(mode), ChunkID: uint32(chunkID)}
	if err := r.index.Set(fp, loc); err != nil {
		return chunk.Location{}, err
	}
	if shouldFinalize(w, r.cfg.BundleSize) {
		if err := r.finalizeWriterLocked(mode, lockMode); err != nil {
			return chunk.Location{}, err
		}
	}
	return loc, nil
}
