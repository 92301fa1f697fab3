// Package chunk holds the small value types shared by the index, the bundle
// format, and the repository: a chunk's fingerprint+length pair, the ordered
// list of such pairs that describes a file's content, and the (bundle,
// chunk) location a fingerprint resolves to inside the index.
package chunk

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/zvault/fingerprint"
)

// Chunk is a single content-defined chunk: its fingerprint and its length in
// bytes.
type Chunk struct {
	Fingerprint fingerprint.Hash
	Length      uint32
}

// recordSize is the on-disk size of one Chunk record: 16 bytes fingerprint +
// 4 bytes length.
const recordSize = 20

// List is an ordered sequence of chunks describing a file's content.
type List []Chunk

// Encode concatenates the 20-byte records making up l.
func (l List) Encode() []byte {
	buf := make([]byte, len(l)*recordSize)
	for i, c := range l {
		off := i * recordSize
		binary.LittleEndian.PutUint64(buf[off:off+8], c.Fingerprint.High)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], c.Fingerprint.Low)
		binary.LittleEndian.PutUint32(buf[off+16:off+20], c.Length)
	}
	return buf
}

// Decode parses a concatenation of 20-byte chunk records.
func Decode(data []byte) (List, error) {
	if len(data)%recordSize != 0 {
		return nil, fmt.Errorf("chunk: invalid chunk list length %d, not a multiple of %d", len(data), recordSize)
	}
	n := len(data) / recordSize
	out := make(List, n)
	for i := 0; i < n; i++ {
		off := i * recordSize
		out[i] = Chunk{
			Fingerprint: fingerprint.Hash{
				High: binary.LittleEndian.Uint64(data[off : off+8]),
				Low:  binary.LittleEndian.Uint64(data[off+8 : off+16]),
			},
			Length: binary.LittleEndian.Uint32(data[off+16 : off+20]),
		}
	}
	return out, nil
}

// TotalSize returns the sum of every chunk's length.
func (l List) TotalSize() uint64 {
	var total uint64
	for _, c := range l {
		total += uint64(c.Length)
	}
	return total
}

// Location is where a fingerprint resolves to inside a bundle: the small
// integer bundle id (resolved through the bundle map) and the chunk's index
// within that bundle's chunk list.
type Location struct {
	BundleID uint32
	ChunkID  uint32
}

// IsZero reports whether loc is the zero Location (bundle 0, chunk 0); the
// index never stores this for a non-empty key because bundle id 0 is a
// valid id, so callers must consult the entry's key validity, not Location
// alone.
func (loc Location) IsZero() bool {
	return loc.BundleID == 0 && loc.ChunkID == 0
}

// Entry is a single index slot: the fingerprint key and the location it
// resolves to. The slot is "used" iff Key is non-zero.
type Entry struct {
	Key      fingerprint.Hash
	Location Location
}
