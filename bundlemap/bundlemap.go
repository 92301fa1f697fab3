// Package bundlemap maps the small integer bundle ids stored in the index
// to the bundle's real content-derived id, and persists that mapping as a
// single file.
package bundlemap

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/rpcpool/zvault/bundle"
	"github.com/rpcpool/zvault/lock"
	"github.com/vmihailenco/msgpack/v5"
)

var magic = [7]byte{'z', 'b', 'u', 'n', 'm', 'a', 'p'}

const version byte = 1

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	// ErrWrongMagic is returned when a file being loaded does not start
	// with the bundle-map magic bytes.
	ErrWrongMagic = errorType("bundlemap: wrong magic")
	// ErrWrongVersion is returned when the file's version byte is not
	// understood by this implementation.
	ErrWrongVersion = errorType("bundlemap: unsupported version")
	// ErrNotFound is returned by Get/Remove for an id with no entry.
	ErrNotFound = errorType("bundlemap: no such entry")
	// ErrNeedsLocalWrite is returned by Set/Remove when the lock mode
	// passed in does not imply at least LocalWrite.
	ErrNeedsLocalWrite = errorType("bundlemap: requires at least LocalWrite")
)

type wireEntry struct {
	ID       uint32
	BundleID [16]byte
}

// Map is the small-integer-id -> BundleId mapping the index's Location
// values resolve through.
type Map struct {
	mu      sync.RWMutex
	entries map[uint32]bundle.ID
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[uint32]bundle.ID)}
}

// Load reads a bundle-map file from path. A missing file is not an error;
// it is treated the same as an empty map only by the caller (Load itself
// still returns the os.Open error so callers can distinguish "no such
// file" from real corruption).
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(magic)+1 {
		return nil, ErrWrongMagic
	}
	var fileMagic [7]byte
	copy(fileMagic[:], data[:7])
	if fileMagic != magic {
		return nil, ErrWrongMagic
	}
	if data[7] != version {
		return nil, ErrWrongVersion
	}

	var wire []wireEntry
	if err := msgpack.Unmarshal(data[8:], &wire); err != nil {
		return nil, fmt.Errorf("bundlemap: decode: %w", err)
	}

	m := New()
	for _, e := range wire {
		m.entries[e.ID] = bundle.ID(idFromBytes(e.BundleID))
	}
	return m, nil
}

// Save writes m to path as a fresh file.
func (m *Map) Save(path string) error {
	m.mu.RLock()
	wire := make([]wireEntry, 0, len(m.entries))
	for id, bid := range m.entries {
		wire = append(wire, wireEntry{ID: id, BundleID: idToBytes(bid)})
	}
	m.mu.RUnlock()

	sort.Slice(wire, func(i, j int) bool { return wire[i].ID < wire[j].ID })

	body, err := msgpack.Marshal(wire)
	if err != nil {
		return fmt.Errorf("bundlemap: encode: %w", err)
	}

	out := make([]byte, 0, 8+len(body))
	out = append(out, magic[:]...)
	out = append(out, version)
	out = append(out, body...)

	return os.WriteFile(path, out, 0o644)
}

// Get resolves a small integer bundle id to its real bundle.ID.
func (m *Map) Get(id uint32) (bundle.ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bid, ok := m.entries[id]
	if !ok {
		return bundle.ID{}, ErrNotFound
	}
	return bid, nil
}

// Find returns the small integer id that resolves to bundleID, if any.
func (m *Map) Find(bundleID bundle.ID) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, bid := range m.entries {
		if bid == bundleID {
			return id, true
		}
	}
	return 0, false
}

// Set records id -> bundleID. Requires at least a LocalWrite mode token.
func (m *Map) Set(id uint32, bundleID bundle.ID, mode *lock.Mode) error {
	if !mode.Implies(lock.LocalWrite) {
		return ErrNeedsLocalWrite
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = bundleID
	return nil
}

// Remove deletes the entry for id, if present. Requires at least a
// LocalWrite mode token.
func (m *Map) Remove(id uint32, mode *lock.Mode) error {
	if !mode.Implies(lock.LocalWrite) {
		return ErrNeedsLocalWrite
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// Len returns the number of entries.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Bundles returns every (id, bundleID) pair, sorted by id.
func (m *Map) Bundles() []struct {
	ID       uint32
	BundleID bundle.ID
} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]struct {
		ID       uint32
		BundleID bundle.ID
	}, 0, len(m.entries))
	for id, bid := range m.entries {
		out = append(out, struct {
			ID       uint32
			BundleID bundle.ID
		}{ID: id, BundleID: bid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func idToBytes(id bundle.ID) [16]byte {
	var out [16]byte
	b := id.Bytes()
	copy(out[:], b)
	return out
}

func idFromBytes(b [16]byte) bundle.ID {
	id, _ := bundle.ParseIDBytes(b[:])
	return id
}
