package bundle

import (
	"fmt"

	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/zcrypto"
)

var headerString = [7]byte{'z', 'v', 'a', 'u', 'l', 't', 0x01}

const headerVersion byte = 1

// Mode tags whether a bundle holds file content or backup/tree metadata.
// Meta bundles are additionally mirrored into the local cache; Data
// bundles live remote-only once uploaded.
type Mode uint8

const (
	Data Mode = 0
	Meta Mode = 1
)

func (m Mode) String() string {
	if m == Meta {
		return "meta"
	}
	return "data"
}

type errorType string

func (e errorType) Error() string { return string(e) }

const (
	ErrWrongHeader  = errorType("bundle: wrong header")
	ErrWrongVersion = errorType("bundle: unsupported version")
	ErrIntegrity    = errorType("bundle: integrity check failed")
	ErrNoSuchChunk  = errorType("bundle: no such chunk")
)

// Info is the bundle's self-describing header, stored (optionally sealed)
// right after the outer Header.
type Info struct {
	ID            ID
	Mode          Mode
	HashMethod    fingerprint.Method
	Compression   *compress.Compression
	Encryption    *zcrypto.Encryption
	RawSize       int
	EncodedSize   int
	ChunkCount    int
	ChunkListSize int
	Timestamp     int64
}

// Header is the small, always-cleartext record written right after the
// magic and version bytes. Its Encryption field is authoritative: whatever
// Encryption value ends up inside the (possibly decrypted) Info is
// discarded and replaced with this one when a bundle is loaded — see
// Reader.Load.
type Header struct {
	Encryption *zcrypto.Encryption
	InfoSize   int
}

func wrongChunk(id int) error {
	return fmt.Errorf("%w: %d", ErrNoSuchChunk, id)
}
