package shmp

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
)

// MaxRxQueueLen bounds how many REQUEST frames the Dispatcher will buffer
// while a send_with_response call is in flight (spec.md §4.C); beyond
// this, incoming frames are dropped (spec.md §7 QueueOverflow), counted
// via metrics per spec.md §9's open-question recommendation.
const MaxRxQueueLen = 10

// maxSendAttempts is the retry cap from spec.md §4.C/§8.
const maxSendAttempts = 20

// backoffEveryNth triggers the extra 2s delay + UART flush every 8th
// attempt, per spec.md §4.C.
const backoffEveryNth = 8

const responseBudgetCycles = 3

// noResponseWanted is the respCmd sentinel meaning "this attempt is a
// fire-and-forget Send, not a SendWithResponse".
const noResponseWanted = -1

// ConResult is the outcome of a Send/SendWithResponse call, mirroring
// the original firmware's conResult enum (conOK/conTxErr/conTimeout).
type ConResult int

const (
	ConOK ConResult = iota
	ConTxErr
	ConTimeout
)

func (c ConResult) String() string {
	switch c {
	case ConOK:
		return "OK"
	case ConTxErr:
		return "TxErr"
	case ConTimeout:
		return "Timeout"
	default:
		return "unknown"
	}
}

// CommandHandler processes an unsolicited REQUEST (a module-originated
// callback) delivered by the dispatch loop. It is the single-slot
// registration spec.md §4.C describes, generalized into the "per-call
// completion handle" redesign of spec.md §9: callers normally get a
// token back from Send*, and only out-of-band callbacks (inclusion
// progress, application command handler) go through a registered
// CommandHandler.
type CommandHandler func(Frame)

// inflight tracks the single request the Dispatcher's TX-lock currently
// admits (spec.md invariant 5: at most one request in flight at a time).
type inflight struct {
	respCmd int // CMD to match for a RESPONSE, or noResponseWanted
	ackCh   chan ConResult
	respCh  chan Frame
}

// pendingCallback is a registered wait for the asynchronous completion
// REQUEST a callback-bearing command (ZW_SEND_DATA, ...) echoes back,
// keyed by the funcID stamped into the outgoing frame (spec.md §4.C
// "funcID round-tripping").
type pendingCallback struct {
	cmd uint8
	ch  chan Frame
}

// Dispatcher provides the three call shapes spec.md §4.C describes atop
// a Framer: Send, SendWithResponse, and a dispatch loop for inbound
// REQUESTs. It owns the process-wide LR flag (spec.md §9) and the
// capability bitmap. Exactly one Framer RX loop runs for the lifetime of
// the Dispatcher; a single router goroutine demultiplexes its events to
// whichever call is currently in flight (TX-lock) or to the RX queue.
type Dispatcher struct {
	mu sync.RWMutex // guards caps/lr/handlers/pollHook

	framer *Framer
	w      io.Writer
	log    zerolog.Logger
	met    *metrics.Registry

	caps capabilityBitmap
	lr   lrState
	ids  funcIDGenerator

	rxQueue  chan Frame
	handlers map[uint8]CommandHandler
	pollHook func()

	callbackMu sync.Mutex // guards callbacks
	callbacks  map[uint8]pendingCallback

	sendMu     sync.Mutex // only one Send/SendWithResponse in flight at a time
	inflightMu sync.Mutex
	cur        *inflight
	// lastResponse is set by attemptSend immediately before it reports
	// ConOK for a respCmd-bearing attempt; safe unguarded because sendMu
	// serialises every Send/SendWithResponse call.
	lastResponse Frame
}

// NewDispatcher constructs a Dispatcher atop framer.
func NewDispatcher(framer *Framer, w io.Writer, log zerolog.Logger, met *metrics.Registry) *Dispatcher {
	return &Dispatcher{
		framer:   framer,
		w:        w,
		log:      log.With().Str("component", "shmp.dispatcher").Logger(),
		met:      met,
		rxQueue:   make(chan Frame, MaxRxQueueLen),
		handlers:  make(map[uint8]CommandHandler),
		callbacks: make(map[uint8]pendingCallback),
	}
}

// Start launches the Framer's RX loop and the router goroutine that
// demultiplexes its events. It must be called once before any Send*
// call, and ctx cancellation stops both goroutines.
func (d *Dispatcher) Start(ctx context.Context) {
	events := d.framer.Run(ctx)
	go d.route(events)
}

func (d *Dispatcher) route(events <-chan Event) {
	for ev := range events {
		switch ev.Kind {
		case EventFrameSent, EventTxErr, EventTxWait:
			d.inflightMu.Lock()
			cur := d.cur
			d.inflightMu.Unlock()
			if cur == nil {
				continue
			}
			var r ConResult
			switch ev.Kind {
			case EventFrameSent:
				r = ConOK
			case EventTxErr:
				r = ConTxErr
			case EventTxWait:
				r = ConTxErr
			}
			select {
			case cur.ackCh <- r:
			default:
			}
		case EventFrameReceived:
			d.inflightMu.Lock()
			cur := d.cur
			d.inflightMu.Unlock()
			if cur != nil && cur.respCmd != noResponseWanted &&
				ev.Frame.Type == TypeResponse && ev.Frame.Cmd == uint8(cur.respCmd) {
				select {
				case cur.respCh <- ev.Frame:
				default:
				}
				continue
			}
			if ev.Frame.Type == TypeRequest && d.deliverCallback(ev.Frame) {
				continue
			}
			d.enqueueOrDrop(ev.Frame)
		case EventFramingError:
			if d.met != nil {
				d.met.ShmpFramingErrors.Inc()
			}
		}
	}
}

// SetCapabilities installs the capability bitmaps learned from
// SERIAL_API_GET_CAPABILITIES / SERIALAPI_SETUP SUPPORTED responses.
func (d *Dispatcher) SetCapabilities(functions, setupSubs []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.caps.setFunctions(functions)
	d.caps.setSetupSubs(setupSubs)
}

// RegisterHandler installs the callback slot for cmd, overwriting any
// previous registration (matching the teacher's callback-slot scheme,
// spec.md §9: reentry is resolved by serialising all sends through the
// TX-lock rather than rejecting a second registration).
func (d *Dispatcher) RegisterHandler(cmd uint8, h CommandHandler) {
	d.mu.Lock()
	d.handlers[cmd] = h
	d.mu.Unlock()
}

// DeregisterHandler clears the callback slot for cmd.
func (d *Dispatcher) DeregisterHandler(cmd uint8) {
	d.mu.Lock()
	delete(d.handlers, cmd)
	d.mu.Unlock()
}

// SetPollHook installs the optional ApplicationPoll hook the dispatch
// loop invokes once per drain cycle.
func (d *Dispatcher) SetPollHook(f func()) {
	d.mu.Lock()
	d.pollHook = f
	d.mu.Unlock()
}

// shmpBackOff implements backoff.BackOff: 0 delay normally, a 2s pause
// every 8th attempt, stopping after maxSendAttempts (spec.md §4.C/§8).
type shmpBackOff struct {
	attempt int
	flush   func()
}

func (b *shmpBackOff) NextBackOff() time.Duration {
	b.attempt++
	if b.attempt >= maxSendAttempts {
		return backoff.Stop
	}
	if b.attempt%backoffEveryNth == 0 {
		if b.flush != nil {
			b.flush()
		}
		return 2 * time.Second
	}
	return 0
}

// Reset restarts the attempt count; backoff.Retry calls it before the
// first attempt.
func (b *shmpBackOff) Reset() { b.attempt = 0 }

// Send transmits cmd/data as a REQUEST and waits only for the ACK
// handshake (spec.md §4.C shape 1), retrying per the §4.C/§8 policy on
// NAK/timeout.
func (d *Dispatcher) Send(ctx context.Context, cmd uint8, data []byte) (ConResult, error) {
	if !d.Supports(cmd) {
		return ConTxErr, fmt.Errorf("%w: cmd=%#02x", ErrUnsupportedCommand, cmd)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	bo := &shmpBackOff{flush: d.flushUART}
	result, err := backoff.Retry(ctx, func() (ConResult, error) {
		r, rerr := d.attemptSend(ctx, Frame{Type: TypeRequest, Cmd: cmd, Data: data}, noResponseWanted)
		if rerr != nil {
			return ConTimeout, rerr
		}
		if r == ConOK {
			return ConOK, nil
		}
		if d.met != nil {
			d.met.ShmpRetries.Inc()
		}
		return r, fmt.Errorf("shmp: attempt result %v", r)
	}, backoff.WithBackOff(bo))
	if err != nil {
		return ConTimeout, fmt.Errorf("%w: cmd=%#02x: %v", ErrSerialTimeout, cmd, err)
	}
	return result, nil
}

// SendWithCallback transmits cmd/data as a REQUEST exactly like Send,
// but first stamps a funcID byte onto the end of data (spec.md §4.C
// "funcID round-tripping") and, once the serial ACK handshake succeeds,
// awaits the asynchronous completion REQUEST the module echoes the
// funcID back in — rather than returning on the ACK alone. This is the
// shape callback-bearing commands need (ZW_SEND_DATA's real outcome
// arrives as a later, unsolicited frame, not the immediate ACK).
// callbackTimeout bounds the wait; per spec.md §8 the caller owns this
// budget.
func (d *Dispatcher) SendWithCallback(ctx context.Context, cmd uint8, data []byte, callbackTimeout time.Duration) (Frame, error) {
	if !d.Supports(cmd) {
		return Frame{}, fmt.Errorf("%w: cmd=%#02x", ErrUnsupportedCommand, cmd)
	}

	funcID := d.ids.Next()
	stamped := append(append([]byte(nil), data...), funcID)

	ch := make(chan Frame, 1)
	d.callbackMu.Lock()
	d.callbacks[funcID] = pendingCallback{cmd: cmd, ch: ch}
	d.callbackMu.Unlock()
	defer func() {
		d.callbackMu.Lock()
		delete(d.callbacks, funcID)
		d.callbackMu.Unlock()
	}()

	result, err := d.Send(ctx, cmd, stamped)
	if err != nil {
		return Frame{}, err
	}
	if result != ConOK {
		return Frame{}, fmt.Errorf("shmp: callback send result %v", result)
	}

	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case fr := <-ch:
		return fr, nil
	case <-time.After(callbackTimeout):
		return Frame{}, fmt.Errorf("%w: cmd=%#02x funcID=%d callback", ErrSerialTimeout, cmd, funcID)
	}
}

// deliverCallback matches an inbound REQUEST against a pending
// SendWithCallback wait by its funcID (the frame's first data byte, per
// the callback-bearing commands' wire layout) and cmd. Returns false
// (leaving the frame for enqueueOrDrop) when no wait is registered, so
// ordinary unsolicited REQUESTs are unaffected.
func (d *Dispatcher) deliverCallback(fr Frame) bool {
	if len(fr.Data) < 1 {
		return false
	}
	funcID := fr.Data[0]

	d.callbackMu.Lock()
	pc, ok := d.callbacks[funcID]
	if ok && pc.cmd == fr.Cmd {
		delete(d.callbacks, funcID)
	} else {
		ok = false
	}
	d.callbackMu.Unlock()
	if !ok {
		return false
	}

	select {
	case pc.ch <- fr:
	default:
	}
	return true
}

// SendWithResponse transmits cmd/data as a REQUEST, then awaits the
// matching RESPONSE (same CMD) within a budget of responseBudgetCycles
// read cycles (spec.md §4.C shape 2). Intervening REQUEST frames from
// the module are enqueued rather than lost (spec.md §4.C "Key policy").
func (d *Dispatcher) SendWithResponse(ctx context.Context, cmd uint8, data []byte) (Frame, error) {
	if !d.Supports(cmd) {
		return Frame{}, fmt.Errorf("%w: cmd=%#02x", ErrUnsupportedCommand, cmd)
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	var response Frame
	bo := &shmpBackOff{flush: d.flushUART}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		r, rerr := d.attemptSend(ctx, Frame{Type: TypeRequest, Cmd: cmd, Data: data}, int(cmd))
		if rerr != nil {
			return struct{}{}, rerr
		}
		switch r {
		case ConOK:
			response = d.lastResponse
			return struct{}{}, nil
		default:
			if d.met != nil {
				d.met.ShmpRetries.Inc()
			}
			return struct{}{}, fmt.Errorf("shmp: attempt result %v", r)
		}
	}, backoff.WithBackOff(bo))

	if err != nil {
		return Frame{}, fmt.Errorf("%w: cmd=%#02x: %v", ErrSerialTimeout, cmd, err)
	}
	return response, nil
}

// attemptSend performs a single TxFrame + ACK-wait(+RESPONSE-wait) cycle.
// It registers itself as the single in-flight request (spec.md
// invariant 5) so the router goroutine knows where to deliver ACK/NAK/
// CAN and, if respCmd != noResponseWanted, the matching RESPONSE.
// Collision frames the router can't match are pushed straight to the RX
// queue by route(), which is also how spec.md's "in-flight queueing"
// property is satisfied without this function's retry counter moving.
func (d *Dispatcher) attemptSend(ctx context.Context, fr Frame, respCmd int) (ConResult, error) {
	cur := &inflight{
		respCmd: respCmd,
		ackCh:   make(chan ConResult, 1),
		respCh:  make(chan Frame, 1),
	}
	d.inflightMu.Lock()
	d.cur = cur
	d.inflightMu.Unlock()
	defer func() {
		d.inflightMu.Lock()
		if d.cur == cur {
			d.cur = nil
		}
		d.inflightMu.Unlock()
	}()

	if err := d.framer.TxFrame(fr); err != nil {
		return ConTxErr, err
	}

	ackTimeout := time.After(interByteTimeout)
	var ackResult ConResult = -1
	select {
	case <-ctx.Done():
		return ConTimeout, ctx.Err()
	case r := <-cur.ackCh:
		ackResult = r
	case <-ackTimeout:
		return ConTimeout, nil
	}
	if ackResult != ConOK {
		return ackResult, nil
	}
	if respCmd == noResponseWanted {
		return ConOK, nil
	}

	respTimeout := time.After(interByteTimeout * responseBudgetCycles)
	select {
	case <-ctx.Done():
		return ConTimeout, ctx.Err()
	case resp := <-cur.respCh:
		d.lastResponse = resp
		return ConOK, nil
	case <-respTimeout:
		return ConTimeout, nil
	}
}

func (d *Dispatcher) enqueueOrDrop(fr Frame) {
	select {
	case d.rxQueue <- fr:
	default:
		if d.met != nil {
			d.met.ShmpRxQueueDrops.Inc()
		}
		d.log.Warn().Uint8("cmd", fr.Cmd).Msg("rx queue full, dropping frame")
	}
}

func (d *Dispatcher) flushUART() {
	d.log.Debug().Msg("flushing UART after backoff threshold")
}

// RunDispatchLoop drains the RX queue, invoking the registered per-cmd
// handler for each frame and, once per drain cycle, the optional
// ApplicationPoll hook (spec.md §4.C "Dispatch loop"). It runs until ctx
// is cancelled.
func (d *Dispatcher) RunDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainOnce()
		}
	}
}

func (d *Dispatcher) drainOnce() {
	for {
		select {
		case fr := <-d.rxQueue:
			d.mu.RLock()
			h := d.handlers[fr.Cmd]
			d.mu.RUnlock()
			if h != nil {
				h(fr)
			}
		default:
			d.mu.RLock()
			hook := d.pollHook
			d.mu.RUnlock()
			if hook != nil {
				hook()
			}
			return
		}
	}
}

// EnableLongRange negotiates 16-bit Long Range node-id mode via
// SERIALAPI_SETUP NODEID_BASETYPE_SET. A zero response falls back to
// 8-bit mode with a warning, per spec.md §9 Open Questions.
func (d *Dispatcher) EnableLongRange(ctx context.Context) error {
	return d.setNodeIdBasetype(ctx, true)
}

// DisableLongRange reverts to 8-bit node-ids.
func (d *Dispatcher) DisableLongRange(ctx context.Context) error {
	return d.setNodeIdBasetype(ctx, false)
}

func (d *Dispatcher) setNodeIdBasetype(ctx context.Context, lr bool) error {
	if !d.SupportsSetup(SetupNodeIdBasetypeSet) {
		return fmt.Errorf("%w: SERIALAPI_SETUP NODEID_BASETYPE_SET", ErrUnsupportedCommand)
	}
	var want uint8
	if lr {
		want = 2
	} else {
		want = 1
	}
	resp, err := d.SendWithResponse(ctx, CmdSerialAPISetup, []byte{SetupNodeIdBasetypeSet, want})
	if err != nil {
		return err
	}
	if len(resp.Data) < 2 || resp.Data[1] == 0 {
		d.log.Warn().Bool("requested_lr", lr).Msg("NODEID_BASETYPE_SET returned zero response, falling back to 8-bit")
		d.setLongRangeEnabled(false)
		return nil
	}
	d.setLongRangeEnabled(lr)
	return nil
}
