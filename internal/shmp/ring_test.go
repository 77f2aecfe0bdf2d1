package shmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingPutGetChar(t *testing.T) {
	r := NewRing(4)
	r.PutChar('a')
	r.PutChar('b')

	b, ok := r.GetChar()
	require.True(t, ok)
	require.Equal(t, byte('a'), b)

	b, ok = r.GetChar()
	require.True(t, ok)
	require.Equal(t, byte('b'), b)

	_, ok = r.GetChar()
	require.False(t, ok)
}

func TestRingOverflowDropsOldest(t *testing.T) {
	r := NewRing(2)
	r.PutChar(1)
	r.PutChar(2)
	r.PutChar(3) // ring is full, drops the oldest (1)

	var got []byte
	for {
		b, ok := r.GetChar()
		if !ok {
			break
		}
		got = append(got, b)
	}
	require.Equal(t, []byte{2, 3}, got)
}

func TestRingPutBufGetBuf(t *testing.T) {
	r := NewRing(8)
	r.PutBuf([]byte("hello"))

	out := make([]byte, 3)
	n := r.GetBuf(out)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("hel"), out)

	require.Equal(t, 2, r.RXCount())
}

func TestNewRingDefaultsCapacity(t *testing.T) {
	r := NewRing(0)
	for i := 0; i < defaultRingCapacity; i++ {
		r.PutChar(byte(i))
	}
	require.Equal(t, defaultRingCapacity, r.RXCount())
}
