package shmp

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Inter-byte and ACK-wait timeouts, spec.md §4.B.
const (
	interByteTimeout = 260 * time.Millisecond
	ackWaitTimeout   = 10 * time.Millisecond
)

// rxState is the Framer's RX state machine state, spec.md §4.B.
type rxState int

const (
	stateHuntSOF rxState = iota
	stateHaveLen
)

// EventKind distinguishes the outcomes a Framer surfaces to the
// Dispatcher.
type EventKind int

const (
	EventFrameReceived EventKind = iota
	EventFrameSent
	EventTxErr
	EventTxWait
	EventFramingError
)

// Event is a single occurrence surfaced by the Framer's RX loop.
type Event struct {
	Kind  EventKind
	Frame Frame // valid when Kind == EventFrameReceived
	Err   error // valid when Kind == EventFramingError
}

// Framer turns a byte stream into whole frames and single-byte control
// events, and serialises outbound frames with a correct checksum
// (spec.md §4.B). It owns the Ring populated by the UART reader
// goroutine and the io.Writer side of the serial link used to write
// ACK/NAK/CAN and outbound frame bytes.
type Framer struct {
	ring *Ring
	w    io.Writer
	log  zerolog.Logger

	waitingForAck bool
	// suppressAck is set while we are mid-transmit: if the peer starts a
	// REQUEST of its own during that window (the full-duplex stall
	// spec.md §4.B calls out), we answer with CAN instead of ACK/NAK so
	// it knows to retransmit once we're done, rather than racing it.
	suppressAck bool
}

// NewFramer constructs a Framer reading from ring and writing control
// bytes/frames to w.
func NewFramer(ring *Ring, w io.Writer, log zerolog.Logger) *Framer {
	return &Framer{ring: ring, w: w, log: gwComponent(log)}
}

func gwComponent(log zerolog.Logger) zerolog.Logger {
	return log.With().Str("component", "shmp.framer").Logger()
}

// TxFrame serialises and writes a complete outbound frame in one burst,
// then marks the framer as awaiting the peer's ACK/NAK/CAN. No further
// TX may be started until that wait resolves (enforced by the
// Dispatcher's TX-lock, spec.md invariant 5).
func (f *Framer) TxFrame(fr Frame) error {
	buf, err := fr.Encode()
	if err != nil {
		return err
	}
	f.suppressAck = true
	defer func() { f.suppressAck = false }()
	if _, err := f.w.Write(buf); err != nil {
		return err
	}
	f.waitingForAck = true
	return nil
}

// Run drives the RX state machine until ctx is cancelled, delivering
// events on the returned channel. The channel is closed when Run
// returns.
func (f *Framer) Run(ctx context.Context) <-chan Event {
	events := make(chan Event, 16)
	go f.loop(ctx, events)
	return events
}

func (f *Framer) loop(ctx context.Context, events chan<- Event) {
	defer close(events)

	state := stateHuntSOF
	var body []byte // LEN..last DATA byte, accumulated while in stateHaveLen
	var length uint8
	deadline := time.NewTimer(time.Hour)
	if !deadline.Stop() {
		<-deadline.C
	}

	reset := func() {
		state = stateHuntSOF
		body = nil
		length = 0
	}

	for {
		var timeout <-chan time.Time
		if state == stateHaveLen {
			deadline.Reset(interByteTimeout)
			timeout = deadline.C
		} else if f.waitingForAck {
			deadline.Reset(ackWaitTimeout)
			timeout = deadline.C
		}

		select {
		case <-ctx.Done():
			return
		case <-timeout:
			if state == stateHaveLen {
				f.log.Debug().Msg("inter-byte timeout, resyncing")
				reset()
			}
			// An ACK-wait timeout is the Dispatcher's concern (it owns
			// the retry counter); the Framer itself just keeps waiting
			// for the next byte, since the peer may still answer late.
		case b, ok := <-f.ring.Chan():
			if !ok {
				return
			}
			switch state {
			case stateHuntSOF:
				switch {
				case b == SOF:
					reset()
					state = stateHaveLen
				case f.waitingForAck && (b == ACK || b == NAK || b == CAN):
					f.waitingForAck = false
					switch b {
					case ACK:
						events <- Event{Kind: EventFrameSent}
					case NAK:
						events <- Event{Kind: EventTxErr}
					case CAN:
						events <- Event{Kind: EventTxWait}
					}
				default:
					// silently drop, per spec.md §4.B
				}
			case stateHaveLen:
				if length == 0 {
					if b < MinLen || b == MaxLen {
						f.log.Debug().Uint8("len", b).Msg("invalid LEN, resyncing")
						reset()
						continue
					}
					length = b
				}
				body = append(body, b)
				if len(body) == int(length)+1 {
					fr, err := DecodeBody(body)
					if err != nil {
						f.ackOrCan(NAK)
						events <- Event{Kind: EventFramingError, Err: err}
					} else {
						f.ackOrCan(ACK)
						events <- Event{Kind: EventFrameReceived, Frame: fr}
					}
					reset()
				}
			}
		}
	}
}

// ackOrCan writes ok (ACK or NAK) unless we are mid-transmit, in which
// case it writes CAN so the peer knows to back off instead of racing us
// (spec.md §4.B).
func (f *Framer) ackOrCan(ok uint8) {
	b := ok
	if f.suppressAck {
		b = CAN
	}
	if _, err := f.w.Write([]byte{b}); err != nil {
		f.log.Warn().Err(err).Msg("failed writing RX handshake byte")
	}
}
