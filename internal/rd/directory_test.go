package rd

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

func newTestDirectory() *Directory {
	return NewDirectory(nil, nil, zerolog.Nop())
}

func TestAllocUniqueness(t *testing.T) {
	d := newTestDirectory()
	_, err := d.Alloc(5)
	require.NoError(t, err)

	_, err = d.Alloc(5)
	assert.Error(t, err, "allocating an already-occupied node-id must fail")

	_, err = d.Alloc(6)
	assert.NoError(t, err)
}

func TestFreeRemovesEndpoints(t *testing.T) {
	d := newTestDirectory()
	_, err := d.Alloc(5)
	require.NoError(t, err)
	_, err = d.AddEndpoint(5, 1)
	require.NoError(t, err)

	d.Free(5)

	_, ok := d.Get(5)
	assert.False(t, ok)
	_, ok = d.FirstEndpoint(5)
	assert.False(t, ok, "endpoints must not survive their node being freed")
}

func TestDSKDedupEvictsOlderHolder(t *testing.T) {
	d := newTestDirectory()
	_, err := d.Alloc(1)
	require.NoError(t, err)
	_, err = d.Alloc(2)
	require.NoError(t, err)

	key := []byte{0xAA, 0xBB, 0xCC}
	require.NoError(t, d.AddDSK(1, key))
	require.NoError(t, d.AddDSK(2, key))

	nodeA, _ := d.Get(1)
	nodeB, _ := d.Get(2)
	assert.Empty(t, nodeA.DSK, "older holder's DSK must be zeroed on collision")
	assert.Equal(t, key, nodeB.DSK)

	found, ok := d.LookupByDSK(key)
	require.True(t, ok)
	assert.Equal(t, shmp.NodeId(2), found.NodeId)
}

func TestEndpointIteration(t *testing.T) {
	d := newTestDirectory()
	_, err := d.Alloc(3)
	require.NoError(t, err)
	_, err = d.AddEndpoint(3, 2)
	require.NoError(t, err)
	_, err = d.AddEndpoint(3, 1)
	require.NoError(t, err)
	_, err = d.AddEndpoint(3, 5)
	require.NoError(t, err)

	first, ok := d.FirstEndpoint(3)
	require.True(t, ok)
	assert.Equal(t, uint8(1), first.EndpointId)

	next, ok := d.NextEndpoint(3, first.EndpointId)
	require.True(t, ok)
	assert.Equal(t, uint8(2), next.EndpointId)

	next, ok = d.NextEndpoint(3, next.EndpointId)
	require.True(t, ok)
	assert.Equal(t, uint8(5), next.EndpointId)

	_, ok = d.NextEndpoint(3, next.EndpointId)
	assert.False(t, ok)
}

func TestNodeAdvanceStateReachesDone(t *testing.T) {
	n := newNode(7)
	for i := 0; i < len(nodeTransitions)*2; i++ {
		n.AdvanceState()
	}
	assert.Equal(t, StateDone, n.State)
	assert.True(t, n.IsDone())
}

func TestNodeFailIsTerminal(t *testing.T) {
	n := newNode(7)
	n.AdvanceState()
	n.Fail()
	assert.Equal(t, StateProbeFail, n.State)
	assert.Equal(t, ModeFailed, n.Mode)
}

func TestLookupByNameMiss(t *testing.T) {
	d := newTestDirectory()
	_, err := d.GetByName("nonexistent")
	require.Error(t, err)
	var nf NotFound
	assert.ErrorAs(t, err, &nf)
}
