package zip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
	"github.com/siliconlabs/zwave-ip-gateway/internal/netif"
	"github.com/siliconlabs/zwave-ip-gateway/internal/rd"
	"github.com/siliconlabs/zwave-ip-gateway/internal/s0"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// Command-Class identifiers the bridge needs to recognise directly:
// Security (S0) Message Encapsulation, spec.md §4.E/§4.H.
const (
	ccSecurity          = 0x98
	cmdSecurityMessageEncap = 0x81
)

// txWaitRetryDelay is the back-off the bridge applies when SHMP reports
// it cannot accept another send yet, per spec.md §4.H "Back-pressure".
const txWaitRetryDelay = 2 * time.Second

// txOptACK requests a return transmit-acknowledgement, the ordinary
// txopts value for ZW_SEND_DATA.
const txOptACK = 0x01

// txStatusOK is the TRANSMIT_COMPLETE_OK value the ZW_SEND_DATA
// completion callback reports in its second data byte.
const txStatusOK = 0x00

// zwSendDataCallbackTimeout bounds the wait for the ZW_SEND_DATA
// completion callback (spec.md §8: "global SendData callback timeout
// is the caller's responsibility").
const zwSendDataCallbackTimeout = 10 * time.Second

// Bridge implements Module H: translates Z/IP UDP6 traffic to and from
// SHMP SendData calls, grounded on spec.md §4.H.
type Bridge struct {
	dispatcher *shmp.Dispatcher
	directory  *rd.Directory
	virtual    *netif.Virtual
	transport  *s0.Transport
	handlers   *HandlerRegistry

	unsolicitedDest *net.UDPAddr
	conn            *net.UDPConn

	log zerolog.Logger
	met *metrics.Registry

	// seqNo is the Z/IP wire correlation value spec.md §4.H specifies:
	// HandleDatagram blocks on sendDataWithRetry (itself now blocking on
	// the radio's real completion callback, see shmp.Dispatcher.
	// SendWithCallback) before calling replyCompletion with the same
	// req.SeqNo, so no separate internal correlation map is needed — the
	// originating peer is already in scope for the whole call.
	seqNo uint8
}

// NewBridge constructs a Bridge. conn is the already-open UDP6 socket
// used both to receive ingress datagrams and to send unsolicited
// egress ones.
func NewBridge(dispatcher *shmp.Dispatcher, directory *rd.Directory, virtual *netif.Virtual, transport *s0.Transport, unsolicitedDest *net.UDPAddr, conn *net.UDPConn, met *metrics.Registry, log zerolog.Logger) *Bridge {
	return &Bridge{
		dispatcher:      dispatcher,
		directory:       directory,
		virtual:         virtual,
		transport:       transport,
		handlers:        NewHandlerRegistry(),
		unsolicitedDest: unsolicitedDest,
		conn:            conn,
		log:             log.With().Str("component", "zip.bridge").Logger(),
		met:             met,
	}
}

// Handlers exposes the gateway-resident Command-Class handler registry
// for packets not meant to be relayed over IP.
func (b *Bridge) Handlers() *HandlerRegistry { return b.handlers }

// SetTransport backfills the S0 transport once constructed. The bridge
// and the transport are mutually dependent at startup (Transport needs
// Bridge.SendData as its collaborator, Bridge needs a *Transport to
// strip/wrap Security Message Encapsulation), so Bridge is built first
// with transport left nil and this setter closes the loop.
func (b *Bridge) SetTransport(t *s0.Transport) { b.transport = t }

// HandleApplicationCommand implements the outbound (node -> IP) path of
// spec.md §4.H: strip S0 if present, wrap in Z/IP, send to the
// unsolicited destination. Registered as the shmp.Dispatcher's
// APPLICATION_COMMAND_HANDLER callback.
func (b *Bridge) HandleApplicationCommand(src shmp.NodeId, endpoint uint8, ccPayload []byte) {
	if len(ccPayload) == 0 {
		b.log.Warn().Uint16("node", uint16(src)).Msg("empty command-class payload, dropping")
		return
	}

	secure := false
	payload := ccPayload

	if len(ccPayload) >= 2 && ccPayload[0] == ccSecurity && ccPayload[1] == cmdSecurityMessageEncap {
		plain, err := b.transport.Decrypt(src, 0, ccPayload[0], ccPayload[2:])
		if err != nil {
			b.log.Warn().Err(err).Uint16("node", uint16(src)).Msg("S0 decrypt failed, dropping")
			return
		}
		if len(plain) == 0 {
			b.log.Warn().Uint16("node", uint16(src)).Msg("empty decrypted payload, dropping")
			return
		}
		payload = plain
		secure = true
	}

	b.handlers.Dispatch(payload[0], uint16(src), endpoint, payload)

	pkt := &Packet{
		CmdClass: CmdClassZIP,
		Cmd:      CmdZIPPacket,
		SeqNo:    b.nextSeqNo(),
		DEndpoint: endpoint,
		Payload:  payload,
	}
	if secure {
		pkt.Flags0 |= Flags0Secure
	}

	if _, err := b.conn.WriteToUDP(pkt.Encode(), b.unsolicitedDest); err != nil {
		b.log.Warn().Err(err).Msg("failed to forward frame to unsolicited destination")
		if b.met != nil {
			b.met.ZipSendFailures.Inc()
		}
	}
}

func (b *Bridge) nextSeqNo() uint8 {
	b.seqNo++
	return b.seqNo
}

// HandleDatagram implements the inbound (IP -> node) path of spec.md
// §4.H: parse the Z/IP header, secure-wrap via §4.E if required, and
// issue SendData, retrying once after txWaitRetryDelay if the link
// reports it cannot accept the send yet.
func (b *Bridge) HandleDatagram(ctx context.Context, d *netif.Datagram) error {
	nodeId, ok := b.virtual.LookupByAddress(d.DstNode)
	if !ok {
		return fmt.Errorf("zip: no node assigned address %s, dropping", d.DstNode)
	}
	node, ok := b.directory.Get(nodeId)
	if !ok || node.Mode == rd.ModeFailed {
		return fmt.Errorf("zip: node %d not in a deliverable state, dropping", nodeId)
	}

	pkt, err := Decode(d.Payload)
	if err != nil {
		return fmt.Errorf("zip: %w", err)
	}

	payload := pkt.Payload
	if pkt.Secure() && node.SecurityFlags != 0 {
		start := time.Now()
		frame, err := b.transport.Encrypt(ctx, 0, nodeId, payload[0], payload)
		if err != nil {
			return fmt.Errorf("zip: S0 encrypt failed: %w", err)
		}
		if b.met != nil {
			b.met.ZipSendLatencyMs.Update(float64(time.Since(start).Milliseconds()))
		}
		payload = append([]byte{ccSecurity, cmdSecurityMessageEncap}, frame...)
	}

	sendErr := b.sendDataWithRetry(ctx, nodeId, payload)
	b.replyCompletion(pkt, d.Src, sendErr)
	return sendErr
}

// replyCompletion sends a minimal Z/IP completion status back to the
// originating UDP peer, correlated by the same seqNo the peer sent,
// per spec.md §4.H "Correlate completion status back to the originating
// UDP peer via a per-send sequence number."
func (b *Bridge) replyCompletion(req *Packet, peer *net.UDPAddr, sendErr error) {
	status := uint8(0)
	if sendErr != nil {
		status = 1
	}
	ack := &Packet{
		CmdClass:  CmdClassZIP,
		Cmd:       CmdZIPPacket,
		Flags0:    Flags0AckRes,
		SeqNo:     req.SeqNo,
		SEndpoint: req.DEndpoint,
		DEndpoint: req.SEndpoint,
		Payload:   []byte{status},
	}
	if _, err := b.conn.WriteToUDP(ack.Encode(), peer); err != nil {
		b.log.Debug().Err(err).Msg("failed to send completion status")
	}
}

// sendDataWithRetry issues ZW_SEND_DATA and blocks until the radio's
// actual transmit-done callback arrives (spec.md §4.H step 4
// "correlate the completion status... back to the originating UDP
// peer"), retrying once after txWaitRetryDelay if the first attempt
// never completes (link busy / no ACK).
func (b *Bridge) sendDataWithRetry(ctx context.Context, nodeId shmp.NodeId, payload []byte) error {
	buf := b.dispatcher.AppendNodeId(nil, nodeId)
	buf = append(buf, uint8(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, txOptACK)

	completion, err := b.dispatcher.SendWithCallback(ctx, shmp.CmdZWSendData, buf, zwSendDataCallbackTimeout)
	if err != nil {
		select {
		case <-time.After(txWaitRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		completion, err = b.dispatcher.SendWithCallback(ctx, shmp.CmdZWSendData, buf, zwSendDataCallbackTimeout)
		if err != nil {
			if b.met != nil {
				b.met.ZipSendFailures.Inc()
			}
			return err
		}
	}

	if len(completion.Data) < 2 || completion.Data[1] != txStatusOK {
		if b.met != nil {
			b.met.ZipSendFailures.Inc()
		}
		return fmt.Errorf("zip: SendData to node %d failed: completion %v", nodeId, completion.Data)
	}
	return nil
}

// SendData is the s0.SendDataFunc collaborator handed to the Transport
// constructed alongside this bridge, so Nonce-Get requests issued by
// s0.Transport go out over the same Dispatcher as everything else.
func (b *Bridge) SendData(ctx context.Context, dst shmp.NodeId, payload []byte) error {
	return b.sendDataWithRetry(ctx, dst, payload)
}
