package netif

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// newTestVirtual builds a Virtual without touching netlink, since
// creating real dummy links requires root/CAP_NET_ADMIN; NodeAddress,
// LookupByAddress and MatchesPrefix never need v.link.
func newTestVirtual(t *testing.T) *Virtual {
	t.Helper()
	_, rioPrefix, err := net.ParseCIDR("fd00:aaaa::/64")
	require.NoError(t, err)
	_, pioPrefix, err := net.ParseCIDR("fd00:bbbb::/64")
	require.NoError(t, err)
	return &Virtual{
		rioPrefix: rioPrefix,
		pioPrefix: pioPrefix,
		log:       zerolog.Nop(),
		assigned:  make(map[shmp.NodeId]net.IP),
	}
}

func TestNodeAddressEncodesNodeIdInHostBits(t *testing.T) {
	v := newTestVirtual(t)

	addr := v.NodeAddress(shmp.NodeId(0x0102))
	want := net.ParseIP("fd00:aaaa::102")
	require.True(t, addr.Equal(want), "got %s, want %s", addr, want)
}

func TestNodeAddressDistinctPerNode(t *testing.T) {
	v := newTestVirtual(t)
	a := v.NodeAddress(shmp.NodeId(1))
	b := v.NodeAddress(shmp.NodeId(2))
	require.False(t, a.Equal(b))
}

func TestLookupByAddressRoundTrip(t *testing.T) {
	v := newTestVirtual(t)
	id := shmp.NodeId(7)
	ip := v.NodeAddress(id)
	v.assigned[id] = ip

	got, ok := v.LookupByAddress(ip)
	require.True(t, ok)
	require.Equal(t, id, got)

	_, ok = v.LookupByAddress(net.ParseIP("fd00:aaaa::ff"))
	require.False(t, ok)
}

func TestMatchesPrefix(t *testing.T) {
	v := newTestVirtual(t)
	require.True(t, v.MatchesPrefix(net.ParseIP("fd00:aaaa::5")))
	require.False(t, v.MatchesPrefix(net.ParseIP("fd00:cccc::5")))
}
