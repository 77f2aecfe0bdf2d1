package shmp

import "sync/atomic"

// funcIDGenerator hands out the opaque "funcID" byte some REQUESTs carry
// so the Dispatcher can correlate an asynchronous completion REQUEST
// back to the call that started it (spec.md §4.C: "the caller stamps an
// opaque byte into the outgoing frame, the module echoes it... the core
// treats the funcID as an opaque token but must round-trip it intact").
type funcIDGenerator struct {
	next atomic.Uint32
}

// Next returns the next funcID, cycling through 1..255 (0 is reserved to
// mean "no funcID / not requested").
func (g *funcIDGenerator) Next() uint8 {
	for {
		v := uint8(g.next.Add(1))
		if v != 0 {
			return v
		}
	}
}
