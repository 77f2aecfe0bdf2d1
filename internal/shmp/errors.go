package shmp

import "errors"

// Error taxonomy, spec.md §7, entries (1)-(4) owned by this package.
var (
	// ErrSerialTimeout: no ACK or RESPONSE within budget. Local recovery
	// is "retry up to policy cap, then surface" — SendWithResponse
	// returns this after the retry cap is exhausted.
	ErrSerialTimeout = errors.New("shmp: serial timeout")

	// ErrFraming: bad LEN or checksum. Recovered locally via NAK +
	// resync; surfaced here only for callers that want to observe it
	// (e.g. tests, metrics).
	ErrFraming = errors.New("shmp: framing error")

	// ErrUnsupportedCommand: command not in the capability bitmap.
	// Fatal to the call, non-fatal to the system.
	ErrUnsupportedCommand = errors.New("shmp: unsupported command")

	// ErrQueueOverflow: the RX queue was full and a frame was dropped.
	// By design this is not normally returned to a caller (the frame is
	// silently dropped per spec.md §7(4)); it exists for the rare path
	// that wants to observe the drop explicitly.
	ErrQueueOverflow = errors.New("shmp: rx queue overflow")

	// ErrLinkClosed names a stopped link; no function in this package
	// returns it.
	ErrLinkClosed = errors.New("shmp: link closed")
)
