package shmp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReadNodeIdClassicWidth(t *testing.T) {
	d := newTestDispatcher(t)
	require.False(t, d.LongRangeEnabled())

	buf := d.AppendNodeId(nil, NodeId(42))
	require.Len(t, buf, 1)

	got, rest := d.ReadNodeId(buf)
	require.Equal(t, NodeId(42), got)
	require.Empty(t, rest)
}

func TestAppendReadNodeIdLongRangeWidth(t *testing.T) {
	d := newTestDispatcher(t)
	d.setLongRangeEnabled(true)
	require.True(t, d.LongRangeEnabled())

	buf := d.AppendNodeId(nil, NodeId(1000))
	require.Len(t, buf, 2)

	got, rest := d.ReadNodeId(buf)
	require.Equal(t, NodeId(1000), got)
	require.Empty(t, rest)
}

func TestReadNodeIdShortBufferReturnsNoNode(t *testing.T) {
	d := newTestDispatcher(t)
	d.setLongRangeEnabled(true)

	got, rest := d.ReadNodeId([]byte{0x01})
	require.Equal(t, NoNode, got)
	require.Equal(t, []byte{0x01}, rest)
}

func TestNodeIdValidRanges(t *testing.T) {
	require.True(t, NodeId(1).Valid())
	require.True(t, NodeId(232).Valid())
	require.False(t, NodeId(233).Valid())
	require.True(t, NodeId(256).Valid())
	require.True(t, NodeId(4000).Valid())
	require.False(t, NodeId(4001).Valid())
	require.False(t, NodeId(0).Valid())
}

func TestNodeIdLongRange(t *testing.T) {
	require.False(t, NodeId(232).LongRange())
	require.True(t, NodeId(256).LongRange())
}
