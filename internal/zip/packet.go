// Package zip implements Module H, the Z/IP Bridge: bidirectional
// translation between UDP/IPv6 Z/IP packets and the SHMP SendData
// operation, grounded on spec.md §4.H and the teacher's
// FrameReceiver/firehose dispatch pattern (npi_linkmgr.go).
package zip

import (
	"fmt"

	"github.com/gopacket/gopacket"
)

// LayerTypeZIP registers the Z/IP packet as a first-class gopacket
// layer, the idiom sakateka-yanet2's dataplane modules use for
// declaring domain-specific wire layers (a custom LayerType plus a
// struct implementing gopacket.Layer).
var LayerTypeZIP = gopacket.RegisterLayerType(2000, gopacket.LayerTypeMetadata{Name: "ZIP", Decoder: gopacket.DecodeFunc(decodeZIP)})

// CmdClassZIP and CmdZIPPacket are the Z/IP Command Class identifiers,
// spec.md §4.H "header: cmdClass=ZIP, cmd=ZIP_PACKET, ...".
const (
	CmdClassZIP uint8 = 0x23
	CmdZIPPacket uint8 = 0x02
)

// Flags0/Flags1 bit layout, spec.md §4.H.
const (
	Flags0Secure   = 0x80
	Flags0AckReq   = 0x40
	Flags0AckRes   = 0x20
	Flags1HeaderExtIncluded = 0x80
)

// Packet is a Z/IP packet: cmdClass/cmd/flags0/flags1/seqNo/sEndpoint/
// dEndpoint followed by the encapsulated Command-Class payload, per
// spec.md §4.H.
type Packet struct {
	CmdClass  uint8
	Cmd       uint8
	Flags0    uint8
	Flags1    uint8
	SeqNo     uint8
	SEndpoint uint8
	DEndpoint uint8
	Payload   []byte

	contents []byte
}

func (p *Packet) LayerType() gopacket.LayerType   { return LayerTypeZIP }
func (p *Packet) LayerContents() []byte           { return p.contents }
func (p *Packet) LayerPayload() []byte            { return p.Payload }

// Secure reports whether the secure bit (flags0 bit 7) is set.
func (p *Packet) Secure() bool { return p.Flags0&Flags0Secure != 0 }

// Encode serialises the packet header followed by Payload.
func (p *Packet) Encode() []byte {
	buf := make([]byte, 7+len(p.Payload))
	buf[0] = p.CmdClass
	buf[1] = p.Cmd
	buf[2] = p.Flags0
	buf[3] = p.Flags1
	buf[4] = p.SeqNo
	buf[5] = p.SEndpoint
	buf[6] = p.DEndpoint
	copy(buf[7:], p.Payload)
	return buf
}

// Decode parses a Z/IP packet out of buf.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < 7 {
		return nil, fmt.Errorf("zip: packet too short (%d bytes)", len(buf))
	}
	p := &Packet{
		CmdClass:  buf[0],
		Cmd:       buf[1],
		Flags0:    buf[2],
		Flags1:    buf[3],
		SeqNo:     buf[4],
		SEndpoint: buf[5],
		DEndpoint: buf[6],
		Payload:   append([]byte(nil), buf[7:]...),
		contents:  append([]byte(nil), buf[:7]...),
	}
	if p.CmdClass != CmdClassZIP || p.Cmd != CmdZIPPacket {
		return nil, fmt.Errorf("zip: not a ZIP_PACKET (cmdClass=%#02x cmd=%#02x)", p.CmdClass, p.Cmd)
	}
	return p, nil
}

func decodeZIP(data []byte, pb gopacket.PacketBuilder) error {
	p, err := Decode(data)
	if err != nil {
		return err
	}
	pb.AddLayer(p)
	return pb.NextDecoder(gopacket.LayerTypePayload)
}
