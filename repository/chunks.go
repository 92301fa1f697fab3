package repository

import (
	"bytes"
	"io"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/chunker"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/lock"
)

// writerFor returns the repository's active writer for mode, creating one
// if none is open yet. Caller must hold r.mu.
func (r *Repository) writerFor(mode bundle.Mode, lockMode *lock.Mode) (*bundle.Writer, error) {
	slot := &r.dataWriter
	if mode == bundle.Meta {
		slot = &r.metaWriter
	}
	if *slot != nil {
		return *slot, nil
	}
	w, err := r.bundles.CreateBundle(mode, r.cfg.Hash, r.cfg.Compression, encryptionFor(r.cfg), lockMode)
	if err != nil {
		return nil, err
	}
	*slot = w
	return w, nil
}

// nextBundleIDLocked returns the small integer id the active writer for
// mode will be assigned once finalized. Caller must hold r.mu.
func (r *Repository) nextBundleIDLocked(mode bundle.Mode) uint32 {
	if mode == bundle.Meta {
		return r.nextMetaBundle
	}
	return r.nextDataBundle
}

// finalizeWriterLocked seals the active writer for mode, folds it into the
// bundle map, and allocates a fresh next-bundle id for that mode. Caller
// must hold r.mu.
func (r *Repository) finalizeWriterLocked(mode bundle.Mode, lockMode *lock.Mode) error {
	slot := &r.dataWriter
	if mode == bundle.Meta {
		slot = &r.metaWriter
	}
	w := *slot
	if w == nil {
		return nil
	}

	assignedID := r.nextBundleIDLocked(mode)
	info, err := r.bundles.AddBundle(w, lockMode)
	if err != nil {
		return err
	}
	if err := r.bmap.Set(assignedID, info.ID, lockMode); err != nil {
		return err
	}
	*slot = nil

	floor := r.nextDataBundle
	if r.nextMetaBundle > floor {
		floor = r.nextMetaBundle
	}
	next := r.allocateBundleIDLocked(floor, 0)
	if mode == bundle.Meta {
		r.nextMetaBundle = next
	} else {
		r.nextDataBundle = next
	}
	return nil
}

// shouldFinalize reports whether w has grown enough to roll over into a
// finished bundle. Both predicates are kept deliberately: the estimate
// catches small, chunk-numerous bundles approaching the target size, while
// the raw-size floor bounds how large an individual bundle can grow when
// compression makes EstimateFinalSize an underestimate.
func shouldFinalize(w bundleWriterLike, bundleSize int) bool {
	return w.EstimateFinalSize() >= bundleSize || w.RawSize() >= 4*bundleSize
}

type bundleWriterLike interface {
	EstimateFinalSize() int
	RawSize() int
}

// PutChunk stores data under fingerprint fp in a bundle of the given mode,
// deduplicating against the index, and returns the location it now
// resolves to. Requires at least Backup mode.
func (r *Repository) PutChunk(mode bundle.Mode, fp fingerprint.Hash, data []byte, lockMode *lock.Mode) (chunk.Location, error) {
	if err := r.requireClean(); err != nil {
		return chunk.Location{}, err
	}
	if !lockMode.Implies(lock.Backup) {
		return chunk.Location{}, ErrNeedsBackup
	}

	if loc, ok := r.index.Get(fp); ok {
		return loc, nil
	}

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

// PutStream drives a fresh chunker over r's content, storing each emitted
// chunk via PutChunk, and returns the resulting chunk list. Requires at
// least Backup mode.
func (r *Repository) PutStream(mode bundle.Mode, stream io.Reader, lockMode *lock.Mode) (chunk.List, error) {
	c, err := chunker.New(r.cfg.Chunker)
	if err != nil {
		return nil, err
	}

	var list chunk.List
	for {
		var buf bytes.Buffer
		status, err := c.Chunk(stream, &buf)
		if err != nil {
			return nil, err
		}
		if buf.Len() > 0 {
			data := buf.Bytes()
			fp := r.cfg.Hash.Hash(data)
			if _, err := r.PutChunk(mode, fp, data, lockMode); err != nil {
				return nil, err
			}
			list = append(list, chunk.Chunk{Fingerprint: fp, Length: uint32(len(data))})
		}
		if status == chunker.Finished {
			break
		}
	}
	return list, nil
}

// PutData chunks and stores data in one call.
func (r *Repository) PutData(mode bundle.Mode, data []byte, lockMode *lock.Mode) (chunk.List, error) {
	return r.PutStream(mode, bytes.NewReader(data), lockMode)
}

// GetChunk returns the raw bytes stored under fingerprint fp.
func (r *Repository) GetChunk(fp fingerprint.Hash) ([]byte, error) {
	loc, ok := r.index.Get(fp)
	if !ok {
		return nil, ErrMissingChunk
	}
	bundleID, err := r.bmap.Get(loc.BundleID)
	if err != nil {
		return nil, ErrMissingBundleID
	}
	return r.bundles.GetChunk(bundleID, int(loc.ChunkID))
}

// GetData reassembles the bytes described by list.
func (r *Repository) GetData(list chunk.List) ([]byte, error) {
	out := make([]byte, 0, list.TotalSize())
	for _, c := range list {
		data, err := r.GetChunk(c.Fingerprint)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
