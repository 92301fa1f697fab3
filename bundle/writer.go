package bundle

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/compress"
	"github.com/rpcpool/zvault/fingerprint"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Stored is what a finished Writer hands back to its caller: the bundle's
// header plus the path of the temp file it was written to, still awaiting
// upload to its final location.
type Stored struct {
	Info Info
	Path string
}

// Writer accumulates chunks into a single bundle: each Add call feeds the
// active compression stream (if any), and Finish seals, hashes, and
// writes the whole thing out to a temp path.
type Writer struct {
	mode        Mode
	hashMethod  fingerprint.Method
	compression *compress.Compression
	encryption  *zcrypto.Encryption
	crypto      *zcrypto.Crypto

	buf            bytes.Buffer
	compressWriter interface {
		Write([]byte) (int, error)
		Close() error
	}

	rawSize    int
	chunkCount int
	chunks     chunk.List
}

// NewWriter starts a fresh bundle of the given mode; a nil compression or
// encryption disables that stage.
func NewWriter(mode Mode, hashMethod fingerprint.Method, compression *compress.Compression, encryption *zcrypto.Encryption, crypto *zcrypto.Crypto) (*Writer, error) {
	w := &Writer{
		mode:        mode,
		hashMethod:  hashMethod,
		compression: compression,
		encryption:  encryption,
		crypto:      crypto,
	}
	if compression != nil {
		stream, err := compression.CompressStream(&w.buf)
		if err != nil {
			return nil, err
		}
		w.compressWriter = stream
	}
	return w, nil
}

// Add appends chunk to the bundle under fingerprint fp, returning its
// chunk id within this bundle.
func (w *Writer) Add(data []byte, fp fingerprint.Hash) (int, error) {
	if w.compressWriter != nil {
		if _, err := w.compressWriter.Write(data); err != nil {
			return 0, err
		}
	} else {
		w.buf.Write(data)
	}
	w.rawSize += len(data)
	w.chunkCount++
	w.chunks = append(w.chunks, chunk.Chunk{Fingerprint: fp, Length: uint32(len(data))})
	return w.chunkCount - 1, nil
}

// Size returns the number of bytes buffered for the encoded stream so far.
func (w *Writer) Size() int { return w.buf.Len() }

// RawSize returns the uncompressed total written so far.
func (w *Writer) RawSize() int { return w.rawSize }

// EstimateFinalSize predicts the bundle's file size once finished, used by
// the repository to decide when to roll a bundle over.
func (w *Writer) EstimateFinalSize() int {
	return w.buf.Len() + w.chunkCount*20 + 500
}

// Finish seals the compression stream, encrypts if configured, computes
// the bundle id from the chunk list's hash, and writes the complete bundle
// file to tempPath.
func (w *Writer) Finish(tempPath string) (Stored, error) {
	if w.compressWriter != nil {
		if err := w.compressWriter.Close(); err != nil {
			return Stored{}, err
		}
	}

	data := w.buf.Bytes()
	if w.encryption != nil {
		enc, err := w.crypto.Encrypt(data, w.encryption.PublicKey)
		if err != nil {
			return Stored{}, fmt.Errorf("bundle: encrypt contents: %w", err)
		}
		data = enc
	}
	encodedSize := len(data)

	chunkListBytes := w.chunks.Encode()
	id := ID(w.hashMethod.Hash(chunkListBytes))
	if w.encryption != nil {
		enc, err := w.crypto.Encrypt(chunkListBytes, w.encryption.PublicKey)
		if err != nil {
			return Stored{}, fmt.Errorf("bundle: encrypt chunk list: %w", err)
		}
		chunkListBytes = enc
	}

	info := Info{
		ID:            id,
		Mode:          w.mode,
		HashMethod:    w.hashMethod,
		Compression:   w.compression,
		Encryption:    w.encryption,
		RawSize:       w.rawSize,
		EncodedSize:   encodedSize,
		ChunkCount:    w.chunkCount,
		ChunkListSize: len(chunkListBytes),
		Timestamp:     time.Now().Unix(),
	}

	infoBytes, err := msgpack.Marshal(&info)
	if err != nil {
		return Stored{}, fmt.Errorf("bundle: encode info: %w", err)
	}
	if w.encryption != nil {
		enc, err := w.crypto.Encrypt(infoBytes, w.encryption.PublicKey)
		if err != nil {
			return Stored{}, fmt.Errorf("bundle: encrypt info: %w", err)
		}
		infoBytes = enc
	}

	header := Header{Encryption: w.encryption, InfoSize: len(infoBytes)}
	headerBytes, err := msgpack.Marshal(&header)
	if err != nil {
		return Stored{}, fmt.Errorf("bundle: encode header: %w", err)
	}

	f, err := os.Create(tempPath)
	if err != nil {
		return Stored{}, err
	}
	defer f.Close()

	if _, err := f.Write(headerString[:]); err != nil {
		return Stored{}, err
	}
	if _, err := f.Write([]byte{headerVersion}); err != nil {
		return Stored{}, err
	}
	if _, err := f.Write(headerBytes); err != nil {
		return Stored{}, err
	}
	if _, err := f.Write(infoBytes); err != nil {
		return Stored{}, err
	}
	if _, err := f.Write(chunkListBytes); err != nil {
		return Stored{}, err
	}
	if _, err := f.Write(data); err != nil {
		return Stored{}, err
	}

	return Stored{Info: info, Path: tempPath}, nil
}
