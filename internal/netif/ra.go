package netif

import (
	"context"
	"net"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/rs/zerolog"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
)

// icmpv6TypeRA is ICMPv6 type 134, Router Advertisement (spec.md §6
// "both advertised every 60 s via ICMPv6 RA (Type 134)").
const icmpv6TypeRA = 134

const (
	optPrefixInformation = 3 // RFC 4861 §4.6.2
	optRouteInformation  = 24
)

// prefixInfoOption is the Prefix Information Option (PIO), a
// gopacket.SerializableLayer so it composes with gopacket's
// SerializeLayers pipeline the way the rest of the pack builds wire
// layers (sakateka-yanet2's dataplane modules), even though the RA
// itself rides over golang.org/x/net/icmp rather than a gopacket handle.
type prefixInfoOption struct {
	Prefix            *net.IPNet
	OnLink            bool
	Autonomous        bool
	ValidLifetime     uint32
	PreferredLifetime uint32
}

func (o *prefixInfoOption) LayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (o *prefixInfoOption) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	ones, _ := o.Prefix.Mask.Size()
	buf, err := b.PrependBytes(32)
	if err != nil {
		return err
	}
	buf[0] = optPrefixInformation
	buf[1] = 4 // length in units of 8 bytes
	buf[2] = byte(ones)
	var flags byte
	if o.OnLink {
		flags |= 0x80
	}
	if o.Autonomous {
		flags |= 0x40
	}
	buf[3] = flags
	putUint32(buf[4:8], o.ValidLifetime)
	putUint32(buf[8:12], o.PreferredLifetime)
	buf[12], buf[13], buf[14], buf[15] = 0, 0, 0, 0 // reserved
	copy(buf[16:32], o.Prefix.IP.To16())
	return nil
}

// routeInfoOption is the Route Information Option (RIO, RFC 4191),
// advertising the routed node prefix.
type routeInfoOption struct {
	Prefix        *net.IPNet
	Preference    uint8 // 0 = medium
	RouteLifetime uint32
}

func (o *routeInfoOption) LayerType() gopacket.LayerType { return gopacket.LayerTypePayload }

func (o *routeInfoOption) SerializeTo(b gopacket.SerializeBuffer, _ gopacket.SerializeOptions) error {
	ones, _ := o.Prefix.Mask.Size()
	buf, err := b.PrependBytes(24)
	if err != nil {
		return err
	}
	buf[0] = optRouteInformation
	buf[1] = 3
	buf[2] = byte(ones)
	buf[3] = o.Preference << 3
	putUint32(buf[4:8], o.RouteLifetime)
	copy(buf[8:24], o.Prefix.IP.To16())
	return nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

// RAAdvertiser periodically sends a Router Advertisement carrying the
// PIO and RIO options to ff02::1, per spec.md §6.
type RAAdvertiser struct {
	pioPrefix *net.IPNet
	rioPrefix *net.IPNet
	period    time.Duration
	ifaceName string
	log       zerolog.Logger
}

// NewRAAdvertiser constructs an advertiser for the given prefixes, sent
// out ifaceName (the *default*, non-zw interface: spec.md's Non-goals
// exclude RA advertisement of the zw interface itself).
func NewRAAdvertiser(pio, rio *net.IPNet, period time.Duration, ifaceName string, log zerolog.Logger) *RAAdvertiser {
	return &RAAdvertiser{
		pioPrefix: pio,
		rioPrefix: rio,
		period:    period,
		ifaceName: ifaceName,
		log:       log.With().Str("component", "netif.ra").Logger(),
	}
}

func (a *RAAdvertiser) buildMessage() ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}

	if err := (&routeInfoOption{Prefix: a.rioPrefix, RouteLifetime: uint32(2 * a.period.Seconds())}).SerializeTo(buf, opts); err != nil {
		return nil, err
	}
	if err := (&prefixInfoOption{
		Prefix:            a.pioPrefix,
		OnLink:            true,
		Autonomous:        true,
		ValidLifetime:     uint32(2 * a.period.Seconds()),
		PreferredLifetime: uint32(2 * a.period.Seconds()),
	}).SerializeTo(buf, opts); err != nil {
		return nil, err
	}
	// RA fixed part (RFC 4861 §4.2): cur hop limit, M/O flags, router
	// lifetime, reachable time, retrans timer; all zero ("unspecified").
	fixed, err := buf.PrependBytes(12)
	if err != nil {
		return nil, err
	}
	for i := range fixed {
		fixed[i] = 0
	}

	msg := icmp.Message{
		Type: ipv6.ICMPTypeRouterAdvertisement,
		Code: 0,
		Body: &icmp.DefaultMessageBody{Data: buf.Bytes()},
	}
	return msg.Marshal(nil)
}

// Run sends the RA every a.period until ctx is cancelled.
func (a *RAAdvertiser) Run(ctx context.Context) error {
	iface, err := net.InterfaceByName(a.ifaceName)
	if err != nil {
		return err
	}
	conn, err := icmp.ListenPacket("ip6:ipv6-icmp", "::")
	if err != nil {
		return err
	}
	defer conn.Close()

	pc := conn.IPv6PacketConn()
	if err := pc.SetMulticastInterface(iface); err != nil {
		return err
	}

	dst := &net.IPAddr{IP: net.ParseIP("ff02::1"), Zone: a.ifaceName}
	ticker := time.NewTicker(a.period)
	defer ticker.Stop()

	for {
		wire, err := a.buildMessage()
		if err != nil {
			a.log.Warn().Err(err).Msg("failed to build RA message")
		} else if _, err := pc.WriteTo(wire, nil, dst); err != nil {
			a.log.Warn().Err(err).Msg("failed to send RA")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
