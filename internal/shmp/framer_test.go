package shmp

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// newLoopbackFramer wires a Framer over a pair of io.Pipes, matching
// npi_test.go's dry-testing-the-PHY approach generalized to a
// bidirectional link: txR is what the Framer writes out (read by the
// test to see outbound bytes/handshake replies), rxW is what the test
// writes to feed the Framer's ring (simulating the module's half of
// the link).
func newLoopbackFramer(t *testing.T) (f *Framer, txR *io.PipeReader, rxW *io.PipeWriter, cleanup func()) {
	t.Helper()
	txR, txW := io.Pipe()
	rxR, rxW := io.Pipe()

	ring := NewRing(256)
	stop := make(chan struct{})
	go PumpReader(rxR, ring, stop)

	f = NewFramer(ring, txW, zerolog.Nop())
	cleanup = func() {
		close(stop)
		txR.Close()
		txW.Close()
		rxR.Close()
		rxW.Close()
	}
	return f, txR, rxW, cleanup
}

// readOneByteAsync reads a single byte from r on its own goroutine so the
// calling test can continue draining the Framer's events channel without
// deadlocking against r's unbuffered io.Pipe write.
func readOneByteAsync(r *io.PipeReader) <-chan byte {
	ch := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		if n, err := r.Read(buf); err == nil && n == 1 {
			ch <- buf[0]
		}
	}()
	return ch
}

func TestFramerTxFrameThenACKEmitsFrameSent(t *testing.T) {
	f, txR, rxW, cleanup := newLoopbackFramer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.Run(ctx)

	go func() {
		buf := make([]byte, 16)
		n, err := txR.Read(buf)
		require.NoError(t, err)
		require.True(t, n > 0)
		_, err = rxW.Write([]byte{ACK})
		require.NoError(t, err)
	}()

	require.NoError(t, f.TxFrame(Frame{Type: TypeRequest, Cmd: CmdSerialAPIGetCapabilities}))

	select {
	case ev := <-events:
		require.Equal(t, EventFrameSent, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventFrameSent")
	}
}

func TestFramerTxFrameThenNAKEmitsTxErr(t *testing.T) {
	f, txR, rxW, cleanup := newLoopbackFramer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.Run(ctx)

	go func() {
		buf := make([]byte, 16)
		_, err := txR.Read(buf)
		require.NoError(t, err)
		_, err = rxW.Write([]byte{NAK})
		require.NoError(t, err)
	}()

	require.NoError(t, f.TxFrame(Frame{Type: TypeRequest, Cmd: CmdSerialAPIGetCapabilities}))

	select {
	case ev := <-events:
		require.Equal(t, EventTxErr, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventTxErr")
	}
}

func TestFramerReceivesValidFrameAndSendsACK(t *testing.T) {
	f, txR, rxW, cleanup := newLoopbackFramer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.Run(ctx)

	wire, err := Frame{Type: TypeResponse, Cmd: 0x07, Data: []byte{1, 2, 3}}.Encode()
	require.NoError(t, err)

	ackByte := readOneByteAsync(txR)
	go func() {
		_, werr := rxW.Write(wire)
		require.NoError(t, werr)
	}()

	select {
	case ev := <-events:
		require.Equal(t, EventFrameReceived, ev.Kind)
		require.Equal(t, uint8(0x07), ev.Frame.Cmd)
		require.Equal(t, []byte{1, 2, 3}, ev.Frame.Data)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventFrameReceived")
	}

	select {
	case b := <-ackByte:
		require.Equal(t, ACK, b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ACK byte")
	}
}

func TestFramerReceivesBadChecksumSendsNAKAndResyncs(t *testing.T) {
	f, txR, rxW, cleanup := newLoopbackFramer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.Run(ctx)

	wire, err := Frame{Type: TypeResponse, Cmd: 0x07, Data: []byte{1, 2, 3}}.Encode()
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF // flip the checksum byte

	goodWire, err := Frame{Type: TypeResponse, Cmd: 0x09, Data: []byte{9}}.Encode()
	require.NoError(t, err)

	nakByte := readOneByteAsync(txR)
	go func() {
		_, werr := rxW.Write(wire)
		require.NoError(t, werr)
	}()

	select {
	case ev := <-events:
		require.Equal(t, EventFramingError, ev.Kind)
		require.Error(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventFramingError")
	}

	select {
	case b := <-nakByte:
		require.Equal(t, NAK, b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NAK byte")
	}

	// After the NAK the framer must have resynced and accept the next
	// well-formed frame cleanly.
	ackByte := readOneByteAsync(txR)
	go func() {
		_, werr := rxW.Write(goodWire)
		require.NoError(t, werr)
	}()

	select {
	case ev := <-events:
		require.Equal(t, EventFrameReceived, ev.Kind)
		require.Equal(t, uint8(0x09), ev.Frame.Cmd)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-resync EventFrameReceived")
	}

	select {
	case b := <-ackByte:
		require.Equal(t, ACK, b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-resync ACK byte")
	}
}

func TestFramerInvalidLenResyncsWithoutEvent(t *testing.T) {
	f, txR, rxW, cleanup := newLoopbackFramer(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := f.Run(ctx)

	goodWire, err := Frame{Type: TypeResponse, Cmd: 0x09, Data: []byte{9}}.Encode()
	require.NoError(t, err)

	ackByte := readOneByteAsync(txR)
	go func() {
		// SOF followed by LEN=255 (the reserved "invalid" sentinel), then
		// a well-formed frame; the framer must silently resync rather
		// than ever emitting an event for the bad LEN byte.
		_, werr := rxW.Write([]byte{SOF, MaxLen})
		require.NoError(t, werr)
		_, werr = rxW.Write(goodWire)
		require.NoError(t, werr)
	}()

	select {
	case ev := <-events:
		require.Equal(t, EventFrameReceived, ev.Kind)
		require.Equal(t, uint8(0x09), ev.Frame.Cmd)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EventFrameReceived after LEN resync")
	}

	select {
	case b := <-ackByte:
		require.Equal(t, ACK, b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ACK byte after LEN resync")
	}
}
