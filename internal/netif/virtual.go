// Package netif implements Module G, the Virtual Netif: a synthetic
// "zw" pseudo-interface exposing each Resource-Directory node as a
// distinct IPv6 address, grounded on
// original_source/projects/apps/threads/sl_zw_netif.c and the
// netlink-management idiom from sakateka-yanet2's route discovery
// package.
package netif

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"

	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// InterfaceName matches the original firmware's two-character netif
// name (spec.md §6 "Pseudo-netif name zw").
const InterfaceName = "zw"

// staticHWAddr mirrors the original's hard-coded hwaddr
// (zw_netif_low_level_init's netif->hwaddr[0..5]), used to derive the
// link-local address deterministically.
var staticHWAddr = net.HardwareAddr{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}

// AddrScope is the reachability scope of a synthesised address, mirrored
// from the original's IP6_ADDR_PREFERRED / IP6_ADDR_INVALID states.
type AddrScope int

const (
	ScopePreferred AddrScope = iota
	ScopeInvalid
)

// Virtual owns the "zw" dummy link and the per-node address lifecycle
// described in spec.md §4.G: "On RD transition to Done: synthesise
// address, mark Preferred. On RD transition to Failed/Deleted: mark
// Invalid."
type Virtual struct {
	rioPrefix *net.IPNet
	pioPrefix *net.IPNet

	log  zerolog.Logger
	link netlink.Link

	assigned map[shmp.NodeId]net.IP
}

// NewVirtual creates (or reuses) the "zw" dummy interface and assigns it
// a link-local address derived from staticHWAddr.
func NewVirtual(pioPrefix, rioPrefix *net.IPNet, log zerolog.Logger) (*Virtual, error) {
	v := &Virtual{
		rioPrefix: rioPrefix,
		pioPrefix: pioPrefix,
		log:       log.With().Str("component", "netif.virtual").Logger(),
		assigned:  make(map[shmp.NodeId]net.IP),
	}

	existing, err := netlink.LinkByName(InterfaceName)
	if err == nil {
		v.link = existing
		return v, nil
	}

	dummy := &netlink.Dummy{
		LinkAttrs: netlink.LinkAttrs{
			Name:         InterfaceName,
			MTU:          1500,
			HardwareAddr: staticHWAddr,
		},
	}
	if err := netlink.LinkAdd(dummy); err != nil {
		return nil, fmt.Errorf("netif: creating %s dummy link: %w", InterfaceName, err)
	}
	if err := netlink.LinkSetUp(dummy); err != nil {
		return nil, fmt.Errorf("netif: bringing up %s: %w", InterfaceName, err)
	}
	v.link = dummy
	return v, nil
}

// NodeAddress computes RIO_PREFIX::hex(n), the address node n is
// reachable at (spec.md §4.G "Node n is reachable at
// RIO_PREFIX::hex(n)").
func (v *Virtual) NodeAddress(id shmp.NodeId) net.IP {
	ip := make(net.IP, len(v.rioPrefix.IP))
	copy(ip, v.rioPrefix.IP)
	ones, bits := v.rioPrefix.Mask.Size()
	hostBits := bits - ones
	hostBytes := hostBits / 8
	nodeBytes := []byte{byte(id >> 8), byte(id)}
	copy(ip[len(ip)-hostBytes:], make([]byte, hostBytes))
	copy(ip[len(ip)-len(nodeBytes):], nodeBytes)
	return ip
}

// Assign synthesises and attaches the address for a node that reached
// the Done state.
func (v *Virtual) Assign(id shmp.NodeId) error {
	ip := v.NodeAddress(id)
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}}
	if err := netlink.AddrAdd(v.link, addr); err != nil {
		return fmt.Errorf("netif: assigning %s to node %d: %w", ip, id, err)
	}
	v.assigned[id] = ip
	v.log.Info().Uint16("node", uint16(id)).Str("addr", ip.String()).Msg("address assigned, preferred")
	return nil
}

// Withdraw marks a node's address invalid (node entered Failed or
// Deleted) by removing it from the interface.
func (v *Virtual) Withdraw(id shmp.NodeId) error {
	ip, ok := v.assigned[id]
	if !ok {
		return nil
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(128, 128)}}
	if err := netlink.AddrDel(v.link, addr); err != nil {
		return fmt.Errorf("netif: withdrawing %s from node %d: %w", ip, id, err)
	}
	delete(v.assigned, id)
	v.log.Info().Uint16("node", uint16(id)).Str("addr", ip.String()).Msg("address withdrawn, invalid")
	return nil
}

// LookupByAddress reverses NodeAddress: finds the node currently
// assigned ip, used by the UDP listener to route an inbound datagram.
func (v *Virtual) LookupByAddress(ip net.IP) (shmp.NodeId, bool) {
	for id, assigned := range v.assigned {
		if assigned.Equal(ip) {
			return id, true
		}
	}
	return 0, false
}

// MatchesPrefix reports whether ip falls under the routed node prefix
// (spec.md §4.G "Packets whose destination prefix does not match
// RIO_PREFIX are ignored").
func (v *Virtual) MatchesPrefix(ip net.IP) bool {
	return v.rioPrefix.Contains(ip)
}
