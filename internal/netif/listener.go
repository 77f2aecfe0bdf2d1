package netif

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DefaultUDPListenerPort is SL_ZW_NETIF_UDP_LISTENER_PORT's default
// value, configurable per spec.md §6.
const DefaultUDPListenerPort = 4123

// Datagram is a UDP6 packet delivered to the listener together with the
// node it resolved to, handed off to the Z/IP Bridge (spec.md §4.G
// "hand the payload plus source endpoint to the Z/IP Bridge").
type Datagram struct {
	Src     *net.UDPAddr
	DstNode net.IP
	Payload []byte
}

// Listener is the single UDP6 socket bound to ::0 with IPV6_RECVPKTINFO
// enabled, grounded directly on
// sl_zw_netif.c's sli_zw_netif_udp_listener (recvmsg + CMSG_FIRSTHDR
// walk for IPV6_PKTINFO), reimplemented with golang.org/x/sys/unix's
// socket-option constants and a net.ListenConfig.Control callback
// instead of a raw setsockopt call before bind.
type Listener struct {
	conn *net.UDPConn
	log  zerolog.Logger
}

// NewListener opens the listener on port, enabling IPV6_RECVPKTINFO via
// the dial-control hook — the idiomatic Go way to touch a socket's file
// descriptor before it's wrapped in a net.Conn.
func NewListener(ctx context.Context, port int, log zerolog.Logger) (*Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(ctx, "udp6", fmt.Sprintf("[::]:%d", port))
	if err != nil {
		return nil, fmt.Errorf("netif: opening UDP6 listener on port %d: %w", port, err)
	}
	return &Listener{conn: pc.(*net.UDPConn), log: log.With().Str("component", "netif.listener").Logger()}, nil
}

func (l *Listener) Close() error { return l.conn.Close() }

// Conn exposes the underlying socket so the Z/IP Bridge can send
// unsolicited/egress datagrams from the same local port this listener
// receives on.
func (l *Listener) Conn() *net.UDPConn { return l.conn }

// ReadFrom reads the next datagram together with its destination
// address, recovered from the IPV6_PKTINFO ancillary message. Packets
// with no destination prefix match are the caller's responsibility to
// filter (Virtual.MatchesPrefix), per spec.md §4.G.
func (l *Listener) ReadFrom() (*Datagram, error) {
	buf := make([]byte, 1500)
	oob := make([]byte, unix.CmsgSpace(16)) // space for one in6_pktinfo

	n, oobn, _, src, err := l.conn.ReadMsgUDP(buf, oob)
	if err != nil {
		return nil, err
	}

	dst, err := parsePktInfo(oob[:oobn])
	if err != nil {
		l.log.Debug().Err(err).Msg("no IPV6_PKTINFO on datagram, dropping")
		return nil, nil
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])
	return &Datagram{Src: src, DstNode: dst, Payload: payload}, nil
}

// parsePktInfo walks the control-message buffer for IPV6_PKTINFO,
// extracting the packet's destination address (in6_pktinfo.ipi6_addr),
// mirroring extract_pktinfo's CMSG_FIRSTHDR/CMSG_NXTHDR walk.
func parsePktInfo(oob []byte) (net.IP, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.Header.Level == unix.IPPROTO_IPV6 && m.Header.Type == unix.IPV6_PKTINFO {
			if len(m.Data) < 16 {
				continue
			}
			ip := make(net.IP, 16)
			copy(ip, m.Data[:16])
			return ip, nil
		}
	}
	return nil, fmt.Errorf("netif: no IPV6_PKTINFO control message present")
}
