package bundle

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rpcpool/zvault/chunk"
	"github.com/rpcpool/zvault/zcrypto"
	"github.com/vmihailenco/msgpack/v5"
)

// Reader opens a bundle file written by Writer.Finish and serves its
// chunks back by id. The chunk list is parsed lazily, on first access, so
// callers that only need Info never pay for it.
type Reader struct {
	path   string
	crypto *zcrypto.Crypto
	info   Info

	contentStart int64
	rawChunkList []byte // info.ChunkListSize bytes, still sealed if info.Encryption != nil

	listOnce sync.Once
	listErr  error
	chunks   chunk.List
	offsets  []int // byte offset of each chunk within the decoded content stream
}

// Info reports the bundle's header. readHeaderAndInfo does the work shared
// with LoadInfo.
func readHeaderAndInfo(f *os.File, crypto *zcrypto.Crypto) (Info, Header, error) {
	var magic [7]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		return Info{}, Header{}, fmt.Errorf("bundle: read magic: %w", err)
	}
	if magic != headerString {
		return Info{}, Header{}, ErrWrongHeader
	}
	var version [1]byte
	if _, err := io.ReadFull(f, version[:]); err != nil {
		return Info{}, Header{}, fmt.Errorf("bundle: read version: %w", err)
	}
	if version[0] != headerVersion {
		return Info{}, Header{}, ErrWrongVersion
	}

	dec := msgpack.NewDecoder(f)
	var header Header
	if err := dec.Decode(&header); err != nil {
		return Info{}, Header{}, fmt.Errorf("bundle: decode header: %w", err)
	}

	infoBytes := make([]byte, header.InfoSize)
	if _, err := io.ReadFull(f, infoBytes); err != nil {
		return Info{}, Header{}, fmt.Errorf("bundle: read info: %w", err)
	}
	if header.Encryption != nil {
		dec, err := crypto.Decrypt(infoBytes, header.Encryption.PublicKey)
		if err != nil {
			return Info{}, Header{}, fmt.Errorf("bundle: decrypt info: %w", err)
		}
		infoBytes = dec
	}

	var info Info
	if err := msgpack.Unmarshal(infoBytes, &info); err != nil {
		return Info{}, Header{}, fmt.Errorf("bundle: decode info: %w", err)
	}
	// The outer header's encryption is authoritative: it reflects what the
	// bundle was actually sealed with, regardless of what ended up encoded
	// inside info.
	info.Encryption = header.Encryption

	return info, header, nil
}

// LoadInfo reads just the bundle's header and info, skipping the chunk
// list and contents. Used to populate a bundle map without paying for a
// full Load.
func LoadInfo(path string, crypto *zcrypto.Crypto) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	info, _, err := readHeaderAndInfo(f, crypto)
	return info, err
}

// Load opens path and reads its header, info, and chunk list bytes (the
// chunk list itself is decoded lazily).
func Load(path string, crypto *zcrypto.Crypto) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, _, err := readHeaderAndInfo(f, crypto)
	if err != nil {
		return nil, err
	}

	rawChunkList := make([]byte, info.ChunkListSize)
	if _, err := io.ReadFull(f, rawChunkList); err != nil {
		return nil, fmt.Errorf("bundle: read chunk list: %w", err)
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	return &Reader{
		path:         path,
		crypto:       crypto,
		info:         info,
		contentStart: pos,
		rawChunkList: rawChunkList,
	}, nil
}

// Info returns the bundle's header.
func (r *Reader) Info() Info { return r.info }

func (r *Reader) ensureChunkList() error {
	r.listOnce.Do(func() {
		data := r.rawChunkList
		if r.info.Encryption != nil {
			dec, err := r.crypto.Decrypt(data, r.info.Encryption.PublicKey)
			if err != nil {
				r.listErr = fmt.Errorf("bundle: decrypt chunk list: %w", err)
				return
			}
			data = dec
		}
		list, err := chunk.Decode(data)
		if err != nil {
			r.listErr = fmt.Errorf("bundle: decode chunk list: %w", err)
			return
		}
		r.chunks = list
		r.offsets = make([]int, len(list))
		off := 0
		for i, c := range list {
			r.offsets[i] = off
			off += int(c.Length)
		}
	})
	return r.listErr
}

// ChunkCount returns the number of chunks in the bundle.
func (r *Reader) ChunkCount() (int, error) {
	if err := r.ensureChunkList(); err != nil {
		return 0, err
	}
	return len(r.chunks), nil
}

// Chunks returns the bundle's decoded chunk list (fingerprint and length
// per chunk, in bundle order). Used to re-derive index entries for a
// bundle discovered during synchronize.
func (r *Reader) Chunks() (chunk.List, error) {
	if err := r.ensureChunkList(); err != nil {
		return nil, err
	}
	return r.chunks, nil
}

// GetChunkPosition returns the byte offset and length of chunk id within
// the decoded content stream.
func (r *Reader) GetChunkPosition(id int) (offset, length int, err error) {
	if err := r.ensureChunkList(); err != nil {
		return 0, 0, err
	}
	if id < 0 || id >= len(r.chunks) {
		return 0, 0, wrongChunk(id)
	}
	return r.offsets[id], int(r.chunks[id].Length), nil
}

// loadEncodedContents reads the raw (compressed, possibly encrypted)
// content bytes from disk. It does not require info.EncodedSize bytes to
// actually be present: a bundle file truncated mid-stream simply yields
// whatever prefix survived, so a streaming decompressor can still make
// progress through it (see decodeContents/RecoverContents).
func (r *Reader) loadEncodedContents() ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(r.contentStart, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(r.info.EncodedSize)))
	if err != nil {
		return nil, fmt.Errorf("bundle: read contents: %w", err)
	}
	return data, nil
}

// decodeContents decrypts and decompresses encoded, returning whatever raw
// chunk bytes decoded before the first error and whether decoding finished
// cleanly (full decompression succeeded and the result matches
// info.RawSize). Sealed bundles decrypt as a single authenticated unit, so
// a truncated encrypted bundle recovers nothing; only the compression
// layer is truncation-tolerant.
func (r *Reader) decodeContents(encoded []byte) ([]byte, bool) {
	data := encoded
	if r.info.Encryption != nil {
		dec, err := r.crypto.Decrypt(data, r.info.Encryption.PublicKey)
		if err != nil {
			return nil, false
		}
		data = dec
	}
	if r.info.Compression == nil {
		return data, len(data) == r.info.RawSize
	}
	reader, err := r.info.Compression.DecompressReader(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	decoded, err := io.ReadAll(reader)
	return decoded, err == nil && len(decoded) == r.info.RawSize
}

// LoadContents decrypts and decompresses the whole bundle, returning the
// concatenated raw chunk bytes.
func (r *Reader) LoadContents() ([]byte, error) {
	encoded, err := r.loadEncodedContents()
	if err != nil {
		return nil, err
	}
	data, complete := r.decodeContents(encoded)
	if !complete {
		return nil, fmt.Errorf("%w: raw size %d, expected %d", ErrIntegrity, len(data), r.info.RawSize)
	}
	return data, nil
}

// RecoverContents decodes as much of the content stream as survives a
// truncated or otherwise corrupted file, returning whatever prefix decoded
// cleanly even when the stream as a whole never completes. Used by repair
// to salvage the chunks preceding a corruption point.
func (r *Reader) RecoverContents() []byte {
	encoded, err := r.loadEncodedContents()
	if err != nil {
		return nil
	}
	data, _ := r.decodeContents(encoded)
	return data
}

// GetChunk returns the raw bytes of a single chunk.
func (r *Reader) GetChunk(id int) ([]byte, error) {
	offset, length, err := r.GetChunkPosition(id)
	if err != nil {
		return nil, err
	}
	contents, err := r.LoadContents()
	if err != nil {
		return nil, err
	}
	if offset+length > len(contents) {
		return nil, wrongChunk(id)
	}
	return contents[offset : offset+length], nil
}

// Check validates the bundle's structural invariants. When full is true it
// additionally decodes the entire content stream and verifies its size;
// otherwise it only checks the file's length against the header.
func (r *Reader) Check(full bool) error {
	if err := r.ensureChunkList(); err != nil {
		return err
	}
	if len(r.chunks) != r.info.ChunkCount {
		return fmt.Errorf("%w: chunk count %d, header says %d", ErrIntegrity, len(r.chunks), r.info.ChunkCount)
	}
	if int(r.chunks.TotalSize()) != r.info.RawSize {
		return fmt.Errorf("%w: chunk total %d, header raw size %d", ErrIntegrity, r.chunks.TotalSize(), r.info.RawSize)
	}

	if !full {
		fi, err := os.Stat(r.path)
		if err != nil {
			return err
		}
		want := r.contentStart + int64(r.info.EncodedSize)
		if fi.Size() != want {
			return fmt.Errorf("%w: file size %d, expected %d", ErrIntegrity, fi.Size(), want)
		}
		return nil
	}

	encoded, err := r.loadEncodedContents()
	if err != nil {
		return err
	}
	if len(encoded) != r.info.EncodedSize {
		return fmt.Errorf("%w: encoded size %d, expected %d", ErrIntegrity, len(encoded), r.info.EncodedSize)
	}
	contents, err := r.LoadContents()
	if err != nil {
		return err
	}
	for i, c := range r.chunks {
		off := r.offsets[i]
		got := r.info.HashMethod.Hash(contents[off : off+int(c.Length)])
		if got != c.Fingerprint {
			return fmt.Errorf("%w: chunk %d hash mismatch", ErrIntegrity, i)
		}
	}
	return nil
}
