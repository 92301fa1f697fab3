package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetUnset(t *testing.T) {
	b := New(17)
	require.Equal(t, 17, b.Len())
	require.False(t, b.Get(10))
	b.Set(10)
	require.True(t, b.Get(10))
	require.Equal(t, 1, b.Count())
	b.Unset(10)
	require.False(t, b.Get(10))
	require.Equal(t, 0, b.Count())
}

func TestFromBytes(t *testing.T) {
	b := New(16)
	b.Set(0)
	b.Set(15)
	b2 := FromBytes(b.Bytes())
	require.True(t, b2.Get(0))
	require.True(t, b2.Get(15))
	require.False(t, b2.Get(1))
}
