// Package compress implements the block and streaming compression codecs
// used by bundle contents: Deflate, Brotli, Lzma, and Lz4, each at a
// configurable integer level.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

// Method identifies a compression codec.
type Method uint8

const (
	Deflate Method = 0
	Brotli  Method = 1
	Lzma    Method = 2
	Lz4     Method = 3
)

// Compression pairs a codec with an integer level.
type Compression struct {
	Method Method
	Level  uint8
}

// Default matches the reference configuration: Brotli at level 3.
func Default() Compression {
	return Compression{Method: Brotli, Level: 3}
}

func (m Method) Name() string {
	switch m {
	case Deflate:
		return "deflate"
	case Brotli:
		return "brotli"
	case Lzma:
		return "lzma"
	case Lz4:
		return "lz4"
	default:
		return "unknown"
	}
}

type parseError string

func (e parseError) Error() string { return string(e) }

// ParseMethod maps a config name (including its aliases) to a Method.
func ParseMethod(name string) (Method, error) {
	switch name {
	case "deflate", "zlib", "gzip":
		return Deflate, nil
	case "brotli":
		return Brotli, nil
	case "lzma", "lzma2", "xz":
		return Lzma, nil
	case "lz4":
		return Lz4, nil
	default:
		return 0, parseError(fmt.Sprintf("compress: unsupported codec %q", name))
	}
}

// String renders as "name/level", e.g. "brotli/5".
func (c Compression) String() string {
	return fmt.Sprintf("%s/%d", c.Method.Name(), c.Level)
}

// ParseString parses the "name/level" form produced by String; a bare name
// defaults to level 5.
func ParseString(s string) (Compression, error) {
	name := s
	level := uint8(5)
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		name = s[:idx]
		lvl, err := strconv.Atoi(s[idx+1:])
		if err != nil {
			return Compression{}, parseError(fmt.Sprintf("compress: invalid level in %q", s))
		}
		level = uint8(lvl)
	}
	method, err := ParseMethod(name)
	if err != nil {
		return Compression{}, err
	}
	return Compression{Method: method, Level: level}, nil
}

// Compress returns the one-shot compressed form of data.
func (c Compression) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	stream, err := c.CompressStream(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := stream.Write(data); err != nil {
		return nil, err
	}
	if err := stream.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress returns the one-shot decompressed form of data.
func (c Compression) Decompress(data []byte) ([]byte, error) {
	r, err := c.DecompressReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// flateLevel maps the codec-agnostic 0-11 scale onto flate's -2..9 range.
func flateLevel(level uint8) int {
	l := int(level)
	if l > 9 {
		l = 9
	}
	return l
}

// CompressStream returns a WriteCloser that compresses into w.
func (c Compression) CompressStream(w io.Writer) (io.WriteCloser, error) {
	switch c.Method {
	case Deflate:
		fw, err := flate.NewWriter(w, flateLevel(c.Level))
		if err != nil {
			return nil, err
		}
		return fw, nil
	case Brotli:
		return brotli.NewWriterLevel(w, int(c.Level)), nil
	case Lzma:
		cfg := lzma.WriterConfig{}
		lw, err := cfg.NewWriter(w)
		if err != nil {
			return nil, err
		}
		return lw, nil
	case Lz4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4ToNativeLevel(c.Level))); err != nil {
			return nil, err
		}
		return lw, nil
	default:
		return nil, fmt.Errorf("compress: unsupported method %d", c.Method)
	}
}

// DecompressReader returns a Reader that decompresses r.
func (c Compression) DecompressReader(r io.Reader) (io.Reader, error) {
	switch c.Method {
	case Deflate:
		return flate.NewReader(r), nil
	case Brotli:
		return brotli.NewReader(r), nil
	case Lzma:
		return lzma.NewReader(r)
	case Lz4:
		return lz4.NewReader(r), nil
	default:
		return nil, fmt.Errorf("compress: unsupported method %d", c.Method)
	}
}

func lz4ToNativeLevel(level uint8) lz4.CompressionLevel {
	switch {
	case level <= 1:
		return lz4.Fast
	case level >= 9:
		return lz4.Level9
	default:
		return lz4.CompressionLevel(1 << (8 + level))
	}
}
