// Package bundle implements the bundle file format: the container that
// holds a compressed, encrypted stream of chunk data plus the msgpack
// header describing it.
package bundle

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/rpcpool/zvault/fingerprint"
)

// ID identifies a bundle by the same 128-bit fingerprint type used for
// chunk keys. A bundle's real id is the hash of its chunk-list bytes,
// computed by Writer.Finish; RandomID exists only to name a bundle before
// that hash is known, e.g. a temp or scratch remote path during upload.
type ID fingerprint.Hash

// RandomID generates a fresh random bundle id, for scratch/placeholder use
// before a bundle's content-derived id is known.
func RandomID() ID {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return ID{
		High: binary.LittleEndian.Uint64(buf[0:8]),
		Low:  binary.LittleEndian.Uint64(buf[8:16]),
	}
}

func (id ID) String() string { return fingerprint.Hash(id).String() }

// Less reports whether id sorts before other; used to resolve duplicate
// bundle assignments during synchronize (the higher id wins).
func (id ID) Less(other ID) bool {
	return fingerprint.Hash(id).Less(fingerprint.Hash(other))
}

// Bytes returns the 16-byte little-endian encoding of id.
func (id ID) Bytes() []byte { return fingerprint.Hash(id).Bytes() }

// ParseID parses the hex representation produced by String.
func ParseID(s string) (ID, error) {
	h, err := fingerprint.FromString(s)
	if err != nil {
		return ID{}, err
	}
	return ID(h), nil
}

// ParseIDBytes decodes the 16-byte little-endian encoding produced by
// Bytes.
func ParseIDBytes(b []byte) (ID, error) {
	h, err := fingerprint.FromBytes(b)
	if err != nil {
		return ID{}, err
	}
	return ID(h), nil
}
