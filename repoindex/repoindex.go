// Package repoindex implements the repository's chunk index: a
// memory-mapped, open-addressed hash table from chunk fingerprint to
// bundle location, using Robin Hood hashing with backward-shift deletion
// so lookups stay close to O(1) even under heavy churn.
package repoindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/statistics"
)

var log = logging.Logger("zvault/repoindex")

const (
	magic   = "zvault\x02"
	version = 1

	maxUsage    = 0.9
	minUsage    = 0.35
	initialSize = 1024

	headerSize = 7 + 1 + 8 + 8 // magic + version + entries + capacity
	entrySize  = 16 + 8        // fingerprint.Hash + chunk.Location
)

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	ErrWrongMagic   = errorType("repoindex: wrong magic header")
	ErrUnsupported  = errorType("repoindex: unsupported version")
	ErrInconsistent = errorType("repoindex: index is inconsistent")
)

// locateResult is the outcome of probing for a key's slot.
type locateKind int

const (
	locateFound locateKind = iota
	locateHole
	locateSteal
)

type locateResult struct {
	kind locateKind
	pos  int
}

// Index is a memory-mapped Hash -> Location table backed by a single file.
type Index struct {
	path       string
	fd         *os.File
	data       mmap.MMap
	capacity   int
	entries    int
	maxEntries int
	minEntries int
}

// Open opens an existing index file.
func Open(path string) (*Index, error) { return newIndex(path, false) }

// Create creates a fresh index file at path, truncating anything there.
func Create(path string) (*Index, error) { return newIndex(path, true) }

func newIndex(path string, create bool) (*Index, error) {
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE | os.O_TRUNC
	}
	fd, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}

	idx := &Index{path: path, fd: fd}
	if create {
		if err := resizeFile(fd, initialSize); err != nil {
			fd.Close()
			return nil, err
		}
	}

	if err := idx.mapFile(); err != nil {
		fd.Close()
		return nil, err
	}

	if create {
		idx.writeMagicAndVersion()
		idx.setCapacity(initialSize)
		idx.entries = 0
		idx.writeHeader()
	} else {
		if string(idx.data[0:7]) != magic {
			idx.data.Unmap()
			fd.Close()
			return nil, ErrWrongMagic
		}
		if idx.data[7] != version {
			v := idx.data[7]
			idx.data.Unmap()
			fd.Close()
			return nil, fmt.Errorf("%w: %d", ErrUnsupported, v)
		}
		capacity := int(binary.LittleEndian.Uint64(idx.data[16:24]))
		entries := int(binary.LittleEndian.Uint64(idx.data[8:16]))
		if err := idx.remapForCapacity(capacity); err != nil {
			fd.Close()
			return nil, err
		}
		idx.setCapacity(capacity)
		idx.entries = entries
	}

	return idx, nil
}

func resizeFile(fd *os.File, capacity int) error {
	return fd.Truncate(int64(headerSize + capacity*entrySize))
}

func (idx *Index) mapFile() error {
	data, err := mmap.Map(idx.fd, mmap.RDWR, 0)
	if err != nil {
		return err
	}
	idx.data = data
	return nil
}

func (idx *Index) remapForCapacity(capacity int) error {
	if len(idx.data) < headerSize+capacity*entrySize {
		if err := idx.data.Unmap(); err != nil {
			return err
		}
		if err := idx.mapFile(); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) writeMagicAndVersion() {
	copy(idx.data[0:7], magic)
	idx.data[7] = version
}

func (idx *Index) writeHeader() {
	binary.LittleEndian.PutUint64(idx.data[8:16], uint64(idx.entries))
	binary.LittleEndian.PutUint64(idx.data[16:24], uint64(idx.capacity))
}

func (idx *Index) setCapacity(capacity int) {
	idx.capacity = capacity
	idx.minEntries = int(float64(capacity) * minUsage)
	idx.maxEntries = int(float64(capacity) * maxUsage)
}

func entryOffset(pos int) int { return headerSize + pos*entrySize }

func (idx *Index) entryUsed(pos int) bool {
	off := entryOffset(pos)
	high := binary.LittleEndian.Uint64(idx.data[off : off+8])
	low := binary.LittleEndian.Uint64(idx.data[off+8 : off+16])
	return high != 0 || low != 0
}

func (idx *Index) entryKey(pos int) fingerprint.Hash {
	off := entryOffset(pos)
	return fingerprint.Hash{
		High: binary.LittleEndian.Uint64(idx.data[off : off+8]),
		Low:  binary.LittleEndian.Uint64(idx.data[off+8 : off+16]),
	}
}

func (idx *Index) entryLocation(pos int) chunk.Location {
	off := entryOffset(pos) + 16
	return chunk.Location{
		BundleID: binary.LittleEndian.Uint32(idx.data[off : off+4]),
		ChunkID:  binary.LittleEndian.Uint32(idx.data[off+4 : off+8]),
	}
}

func (idx *Index) setEntry(pos int, key fingerprint.Hash, loc chunk.Location) {
	off := entryOffset(pos)
	binary.LittleEndian.PutUint64(idx.data[off:off+8], key.High)
	binary.LittleEndian.PutUint64(idx.data[off+8:off+16], key.Low)
	binary.LittleEndian.PutUint32(idx.data[off+16:off+20], loc.BundleID)
	binary.LittleEndian.PutUint32(idx.data[off+20:off+24], loc.ChunkID)
}

func (idx *Index) clearEntry(pos int) {
	off := entryOffset(pos)
	for i := 0; i < entrySize; i++ {
		idx.data[off+i] = 0
	}
}

func (idx *Index) copyEntry(dst, src int) {
	dstOff, srcOff := entryOffset(dst), entryOffset(src)
	copy(idx.data[dstOff:dstOff+entrySize], idx.data[srcOff:srcOff+entrySize])
}

func (idx *Index) idealPos(key fingerprint.Hash) int {
	return int(key.ProbeHash()) & (idx.capacity - 1)
}

// locate finds key's slot, or the slot where it should be inserted.
func (idx *Index) locate(key fingerprint.Hash) locateResult {
	pos := idx.idealPos(key)
	dist := 0
	for {
		if !idx.entryUsed(pos) {
			return locateResult{locateHole, pos}
		}
		if idx.entryKey(pos) == key {
			return locateResult{locateFound, pos}
		}
		odist := (pos + idx.capacity - idx.idealPos(idx.entryKey(pos))) % idx.capacity
		if dist > odist {
			return locateResult{locateSteal, pos}
		}
		pos = (pos + 1) % idx.capacity
		dist++
	}
}

// backshift moves the chain following start leftward by one slot each
// until a hole or an entry already at its ideal position is found,
// erasing the entry at start in the process.
func (idx *Index) backshift(start int) {
	pos := start
	var last int
	for {
		last = pos
		pos = (pos + 1) % idx.capacity
		if !idx.entryUsed(pos) {
			break
		}
		if idx.idealPos(idx.entryKey(pos)) == pos {
			break
		}
		idx.copyEntry(last, pos)
	}
	idx.clearEntry(last)
}

func (idx *Index) increaseCount() error {
	idx.entries++
	if err := idx.extend(); err != nil {
		return err
	}
	idx.writeHeader()
	statistics.IndexEntries.WithLabelValues().Set(float64(idx.entries))
	return nil
}

func (idx *Index) decreaseCount() error {
	idx.entries--
	if err := idx.shrink(); err != nil {
		return err
	}
	idx.writeHeader()
	statistics.IndexEntries.WithLabelValues().Set(float64(idx.entries))
	return nil
}

func (idx *Index) reinsert(start, end int) error {
	for pos := start; pos < end; pos++ {
		if !idx.entryUsed(pos) {
			continue
		}
		key := idx.entryKey(pos)
		loc := idx.entryLocation(pos)
		idx.clearEntry(pos)
		idx.entries--
		if err := idx.Set(key, loc); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) extend() error {
	if idx.entries <= idx.maxEntries {
		return nil
	}
	newCapacity := idx.capacity * 2
	if err := resizeFile(idx.fd, newCapacity); err != nil {
		return err
	}
	if err := idx.data.Unmap(); err != nil {
		return err
	}
	if err := idx.mapFile(); err != nil {
		return err
	}
	log.Debugw("index extend", "from", idx.capacity, "to", newCapacity)
	statistics.IndexResizes.WithLabelValues("extend").Inc()
	idx.setCapacity(newCapacity)
	return idx.reinsert(0, newCapacity)
}

func (idx *Index) shrink() error {
	if idx.entries >= idx.minEntries || idx.capacity <= initialSize {
		return nil
	}
	oldCapacity := idx.capacity
	newCapacity := idx.capacity / 2
	log.Debugw("index shrink", "from", oldCapacity, "to", newCapacity)
	statistics.IndexResizes.WithLabelValues("shrink").Inc()
	idx.setCapacity(newCapacity)
	if err := idx.reinsert(newCapacity, oldCapacity); err != nil {
		return err
	}
	if err := resizeFile(idx.fd, newCapacity); err != nil {
		return err
	}
	if err := idx.data.Unmap(); err != nil {
		return err
	}
	return idx.mapFile()
}

// Set inserts or overwrites the location stored for key, returning the
// previous location if key was already present.
func (idx *Index) Set(key fingerprint.Hash, loc chunk.Location) error {
	res := idx.locate(key)
	switch res.kind {
	case locateFound:
		idx.setEntry(res.pos, key, loc)
		return nil
	case locateHole:
		idx.setEntry(res.pos, key, loc)
		return idx.increaseCount()
	default: // locateSteal
		stolenKey := idx.entryKey(res.pos)
		stolenLoc := idx.entryLocation(res.pos)
		idx.setEntry(res.pos, key, loc)
		cur := res.pos
		for {
			cur = (cur + 1) % idx.capacity
			if idx.entryUsed(cur) {
				nextKey := idx.entryKey(cur)
				nextLoc := idx.entryLocation(cur)
				idx.setEntry(cur, stolenKey, stolenLoc)
				stolenKey, stolenLoc = nextKey, nextLoc
			} else {
				idx.setEntry(cur, stolenKey, stolenLoc)
				break
			}
		}
		return idx.increaseCount()
	}
}

// Get returns the location stored for key, if any.
func (idx *Index) Get(key fingerprint.Hash) (chunk.Location, bool) {
	res := idx.locate(key)
	if res.kind != locateFound {
		return chunk.Location{}, false
	}
	return idx.entryLocation(res.pos), true
}

// Contains reports whether key is present.
func (idx *Index) Contains(key fingerprint.Hash) bool {
	return idx.locate(key).kind == locateFound
}

// Modify applies f to the location stored for key in place, returning
// false if key is absent.
func (idx *Index) Modify(key fingerprint.Hash, f func(*chunk.Location)) bool {
	res := idx.locate(key)
	if res.kind != locateFound {
		return false
	}
	loc := idx.entryLocation(res.pos)
	f(&loc)
	idx.setEntry(res.pos, key, loc)
	return true
}

// Delete removes key, reporting whether it was present.
func (idx *Index) Delete(key fingerprint.Hash) (bool, error) {
	res := idx.locate(key)
	if res.kind != locateFound {
		return false, nil
	}
	idx.backshift(res.pos)
	if err := idx.decreaseCount(); err != nil {
		return false, err
	}
	return true, nil
}

// Filter removes every entry for which keep returns false, shrinking the
// table afterwards if usage now permits it. It returns the number of
// entries removed.
func (idx *Index) Filter(keep func(fingerprint.Hash, chunk.Location) bool) (int, error) {
	deleted := 0
	pos := 0
	for pos < idx.capacity {
		if !idx.entryUsed(pos) || keep(idx.entryKey(pos), idx.entryLocation(pos)) {
			pos++
			continue
		}
		idx.backshift(pos)
		deleted++
	}
	idx.entries -= deleted
	for {
		shrunk, err := idx.tryShrinkOnce()
		if err != nil {
			return deleted, err
		}
		if !shrunk {
			break
		}
	}
	idx.writeHeader()
	return deleted, nil
}

func (idx *Index) tryShrinkOnce() (bool, error) {
	before := idx.capacity
	if err := idx.shrink(); err != nil {
		return false, err
	}
	return idx.capacity != before, nil
}

// Walk calls f for every present entry, in table order.
func (idx *Index) Walk(f func(fingerprint.Hash, chunk.Location)) {
	for pos := 0; pos < idx.capacity; pos++ {
		if idx.entryUsed(pos) {
			f(idx.entryKey(pos), idx.entryLocation(pos))
		}
	}
}

// Len returns the number of entries stored.
func (idx *Index) Len() int { return idx.entries }

// Capacity returns the number of slots currently allocated.
func (idx *Index) Capacity() int { return idx.capacity }

// Size returns the size in bytes of the backing file.
func (idx *Index) Size() int { return len(idx.data) }

// Check verifies that every present entry sits at the position locate
// would compute for it, and that the tracked entry count matches reality.
func (idx *Index) Check() error {
	count := 0
	for pos := 0; pos < idx.capacity; pos++ {
		if !idx.entryUsed(pos) {
			continue
		}
		count++
		res := idx.locate(idx.entryKey(pos))
		if res.kind != locateFound || res.pos != pos {
			return ErrInconsistent
		}
	}
	if count != idx.entries {
		return ErrInconsistent
	}
	return nil
}

// Clear empties the table in place without resizing it.
func (idx *Index) Clear() {
	for pos := 0; pos < idx.capacity; pos++ {
		idx.clearEntry(pos)
	}
	idx.entries = 0
	idx.writeHeader()
}

// Close unmaps and closes the backing file.
func (idx *Index) Close() error {
	if err := idx.data.Unmap(); err != nil {
		idx.fd.Close()
		return err
	}
	return idx.fd.Close()
}
