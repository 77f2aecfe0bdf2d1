package shmp

import "fmt"

// NodeId identifies a Z-Wave node. It holds either an 8-bit classic
// node-id (1..=232) or a 16-bit Long Range node-id (256..=4000); 0 is the
// sentinel "no node" value. Which width a NodeId serialises to on the
// wire is never decided by its value — only by the Dispatcher's LR flag
// (LongRangeEnabled), per spec.md invariant 2.
type NodeId uint16

// NoNode is the sentinel "no node" id.
const NoNode NodeId = 0

// Valid reports whether id falls in the classic or Long Range range.
func (id NodeId) Valid() bool {
	return (id >= 1 && id <= 232) || (id >= 256 && id <= 4000)
}

// LongRange reports whether id can only be represented in 16-bit form.
func (id NodeId) LongRange() bool {
	return id > 232
}

func (id NodeId) String() string {
	return fmt.Sprintf("node:%d", uint16(id))
}

// HomeId is the 32-bit Z-Wave network identifier, big-endian on the wire
// and in persistent storage.
type HomeId uint32
