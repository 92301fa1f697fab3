// Package chunker splits a byte stream into content-defined chunks using one
// of four interchangeable policies: fixed-size, asymmetric-extremum (AE),
// Rabin polynomial rolling hash, and FastCDC.
package chunker

import (
	"fmt"
	"io"
)

// Status is the result of one Chunk call.
type Status int

const (
	// Continue means a full chunk was written and the source has more data.
	Continue Status = iota
	// Finished means the source reader reached EOF with nothing buffered.
	Finished
)

// Chunker copies exactly one chunk's bytes from r to w per call, retaining
// any look-ahead bytes internally for the next call.
type Chunker interface {
	Chunk(r io.Reader, w io.Writer) (Status, error)
	Type() Type
}

// Type identifies a chunker policy together with the parameters needed to
// recreate it; it is what gets persisted in Config.
type Type struct {
	Method  string
	AvgSize int
	Seed    uint64
}

// New constructs the chunker named by t.Method.
func New(t Type) (Chunker, error) {
	switch t.Method {
	case "fixed":
		return NewFixed(t.AvgSize), nil
	case "ae":
		return NewAE(t.AvgSize), nil
	case "rabin":
		return NewRabin(t.AvgSize, uint32(t.Seed)), nil
	case "fastcdc":
		return NewFastCDC(t.AvgSize, t.Seed), nil
	default:
		return nil, fmt.Errorf("chunker: unsupported chunker type %q", t.Method)
	}
}

const bufSize = 4096
