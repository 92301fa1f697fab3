package compress

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func testData(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * i * i)
	}
	return buf
}

func TestParseString(t *testing.T) {
	cases := map[string]Compression{
		"deflate/1": {Deflate, 1},
		"zlib/2":    {Deflate, 2},
		"gzip/3":    {Deflate, 3},
		"brotli/1":  {Brotli, 1},
		"lzma/1":    {Lzma, 1},
		"lzma2/2":   {Lzma, 2},
		"xz/3":      {Lzma, 3},
		"lz4/1":     {Lz4, 1},
	}
	for s, want := range cases {
		got, err := ParseString(s)
		require.NoError(t, err, s)
		require.Equal(t, want, got, s)
	}
}

func TestRoundTrip(t *testing.T) {
	input := testData(16 * 1024)
	for _, c := range []Compression{
		{Deflate, 5}, {Brotli, 5}, {Lzma, 5}, {Lz4, 5},
	} {
		compressed, err := c.Compress(input)
		require.NoError(t, err, c.String())
		decompressed, err := c.Decompress(compressed)
		require.NoError(t, err, c.String())
		require.Equal(t, input, decompressed, c.String())
	}
}

func TestStreamRoundTrip(t *testing.T) {
	input := testData(64 * 1024)
	for _, c := range []Compression{
		{Deflate, 3}, {Brotli, 3}, {Lzma, 3}, {Lz4, 3},
	} {
		var buf bytes.Buffer
		w, err := c.CompressStream(&buf)
		require.NoError(t, err, c.String())
		_, err = w.Write(input)
		require.NoError(t, err, c.String())
		require.NoError(t, w.Close(), c.String())

		r, err := c.DecompressReader(&buf)
		require.NoError(t, err, c.String())
		out, err := io.ReadAll(r)
		require.NoError(t, err, c.String())
		require.Equal(t, input, out, c.String())
	}
}
