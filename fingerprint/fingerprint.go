// Package fingerprint implements the 128-bit content fingerprint used as the
// primary key throughout the repository: the chunk index, the bundle id, and
// the bundle-map all key off a Hash value.
package fingerprint

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/minio/blake2b-simd"
	"github.com/spaolacci/murmur3"
)

// Hash is a 128-bit fingerprint split into two big-endian halves. Low is
// used as the table-probe hash in repoindex; the all-zero value is reserved
// as the index's "unused slot" sentinel.
type Hash struct {
	High uint64
	Low  uint64
}

// Empty returns the all-zero sentinel value.
func Empty() Hash {
	return Hash{}
}

// IsEmpty reports whether h is the all-zero sentinel.
func (h Hash) IsEmpty() bool {
	return h.High == 0 && h.Low == 0
}

// ProbeHash returns the 64-bit value repoindex uses to compute the ideal
// slot for this key.
func (h Hash) ProbeHash() uint64 {
	return h.Low
}

func (h Hash) String() string {
	return fmt.Sprintf("%016x%016x", h.High, h.Low)
}

// Less orders hashes lexicographically on (High, Low); used to resolve
// duplicate bundle ids during synchronize (higher BundleId wins).
func (h Hash) Less(o Hash) bool {
	if h.High != o.High {
		return h.High < o.High
	}
	return h.Low < o.Low
}

// WriteTo encodes the hash as 16 little-endian bytes.
func (h Hash) WriteTo(w io.Writer) error {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], h.High)
	binary.LittleEndian.PutUint64(buf[8:16], h.Low)
	_, err := w.Write(buf[:])
	return err
}

// ReadFrom decodes a hash from 16 little-endian bytes.
func ReadFrom(r io.Reader) (Hash, error) {
	var buf [16]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Hash{}, err
	}
	return Hash{
		High: binary.LittleEndian.Uint64(buf[0:8]),
		Low:  binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// FromBytes decodes a hash from a 16-byte little-endian slice.
func FromBytes(b []byte) (Hash, error) {
	if len(b) != 16 {
		return Hash{}, fmt.Errorf("fingerprint: invalid length %d, expected 16", len(b))
	}
	return Hash{
		High: binary.LittleEndian.Uint64(b[0:8]),
		Low:  binary.LittleEndian.Uint64(b[8:16]),
	}, nil
}

// Bytes encodes the hash as a 16-byte little-endian slice.
func (h Hash) Bytes() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], h.High)
	binary.LittleEndian.PutUint64(buf[8:16], h.Low)
	return buf
}

// FromString parses the hex representation produced by String.
func FromString(s string) (Hash, error) {
	if len(s) != 32 {
		return Hash{}, fmt.Errorf("fingerprint: invalid string length %d, expected 32", len(s))
	}
	var high, low uint64
	if _, err := fmt.Sscanf(s[:16], "%016x", &high); err != nil {
		return Hash{}, fmt.Errorf("fingerprint: %w", err)
	}
	if _, err := fmt.Sscanf(s[16:], "%016x", &low); err != nil {
		return Hash{}, fmt.Errorf("fingerprint: %w", err)
	}
	return Hash{High: high, Low: low}, nil
}

// Method selects the hash function used to fingerprint chunk content.
type Method uint8

const (
	// Blake2 is the default, cryptographic fingerprint method.
	Blake2 Method = 1
	// Murmur3 trades collision resistance for speed.
	Murmur3 Method = 2
)

const errUnsupportedHashMethod = methodError("fingerprint: unsupported hash method")

type methodError string

func (e methodError) Error() string { return string(e) }

// ParseMethod maps a config string to a Method.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "blake2":
		return Blake2, nil
	case "murmur3":
		return Murmur3, nil
	default:
		return 0, errUnsupportedHashMethod
	}
}

// Name returns the canonical config string for m.
func (m Method) Name() string {
	switch m {
	case Blake2:
		return "blake2"
	case Murmur3:
		return "murmur3"
	default:
		return "unknown"
	}
}

// Hash fingerprints data using method m.
func (m Method) Hash(data []byte) Hash {
	switch m {
	case Murmur3:
		a, b := murmur3.Sum128(data)
		return Hash{High: a, Low: b}
	default:
		h, err := blake2b.New(&blake2b.Config{Size: 16})
		if err != nil {
			panic(err)
		}
		h.Write(data)
		digest := h.Sum(nil)
		return Hash{
			High: binary.BigEndian.Uint64(digest[0:8]),
			Low:  binary.BigEndian.Uint64(digest[8:16]),
		}
	}
}
