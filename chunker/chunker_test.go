package chunker

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// lcgInput reproduces the deterministic pseudo-random fixture used by the
// fixed/AE/FastCDC test vectors: n bytes derived from a Knuth-MMIX LCG
// seeded with 0.
func lcgInput(n int) []byte {
	if n%4 != 0 {
		panic("lcgInput: n must be a multiple of 4")
	}
	buf := make([]byte, n)
	v := uint64(0)
	for i := 0; i < n/4; i++ {
		v = v*lcgMul + lcgInc
		buf[4*i] = byte(v >> 24)
		buf[4*i+1] = byte(v >> 16)
		buf[4*i+2] = byte(v >> 8)
		buf[4*i+3] = byte(v)
	}
	return buf
}

func runChunker(t *testing.T, c Chunker, input []byte) [][]byte {
	t.Helper()
	r := bytes.NewReader(input)
	var chunks [][]byte
	for {
		var buf bytes.Buffer
		status, err := c.Chunk(r, &buf)
		require.NoError(t, err)
		if buf.Len() > 0 || status == Continue {
			chunks = append(chunks, buf.Bytes())
		}
		if status == Finished {
			break
		}
	}
	return chunks
}

func TestFastCDCFixture(t *testing.T) {
	input := lcgInput(128 * 1024)
	c := NewFastCDC(8192, 0)
	chunks := runChunker(t, c, input)
	want := []int{8712, 8018, 2847, 9157, 8997, 8581, 8867, 5422, 5412, 9478, 11553, 9206, 4606, 8529, 3821, 11342, 6524}
	require.Len(t, chunks, len(want))
	var got []int
	var total []byte
	for _, ch := range chunks {
		got = append(got, len(ch))
		total = append(total, ch...)
	}
	require.Equal(t, want, got)
	require.Equal(t, input, total)
}

func TestFixedFixture(t *testing.T) {
	input := lcgInput(128 * 1024)
	c := NewFixed(8192)
	chunks := runChunker(t, c, input)
	require.Len(t, chunks, 17)
	for i := 0; i < 16; i++ {
		require.Len(t, chunks[i], 8192)
	}
	require.Len(t, chunks[16], 0)
}

func TestAEFixture(t *testing.T) {
	input := lcgInput(128 * 1024)
	c := NewAE(8192)
	chunks := runChunker(t, c, input)
	want := []int{7979, 8046, 7979, 8192, 8192, 8192, 7965, 8158, 8404, 8241, 8011, 8302, 8120, 8335, 8192, 8192, 572}
	var got []int
	var total []byte
	for _, ch := range chunks {
		got = append(got, len(ch))
		total = append(total, ch...)
	}
	require.Equal(t, want, got)
	require.Equal(t, input, total)
}

func TestChunkerLossless(t *testing.T) {
	input := lcgInput(64 * 1024)
	for _, c := range []Chunker{NewFixed(4096), NewAE(4096), NewRabin(4096, 0), NewFastCDC(4096, 0)} {
		chunks := runChunker(t, c, input)
		var total []byte
		for _, ch := range chunks {
			total = append(total, ch...)
		}
		require.Equal(t, input, total)
	}
}

func TestNewFromType(t *testing.T) {
	c, err := New(Type{Method: "fastcdc", AvgSize: 1024, Seed: 7})
	require.NoError(t, err)
	require.Equal(t, Type{Method: "fastcdc", AvgSize: 1024, Seed: 7}, c.Type())
	_, err = New(Type{Method: "bogus"})
	require.Error(t, err)
}

var _ = io.EOF
