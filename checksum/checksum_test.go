package checksum

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseName(t *testing.T) {
	typ, err := Parse("sha3-256")
	require.NoError(t, err)
	require.Equal(t, Sha3_256, typ)
	require.Equal(t, "sha3-256", typ.Name())

	_, err = Parse("bogus")
	require.Error(t, err)
}

func TestSumMatchesStreaming(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	sum, err := Sum(Sha3_256, data)
	require.NoError(t, err)

	c, err := NewCreator(Sha3_256)
	require.NoError(t, err)
	c.Update(data[:10])
	c.Update(data[10:])
	_, streamed := c.Finish()

	require.Equal(t, sum, streamed)
}
