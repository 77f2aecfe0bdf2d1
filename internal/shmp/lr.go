package shmp

// lrState holds the single process-wide Long Range flag as a field of
// the Dispatcher value (spec.md §9 design note: "Process-wide lr_enabled
// flag... make it a field of the SHMP Dispatcher value; all node-id
// serialisers take a reference to that value. The flag changes only
// under the TX-lock.").
type lrState struct {
	enabled bool
}

// AppendNodeId writes id to buf in the correct width for the current LR
// mode: one byte if LR is disabled, two bytes MSB-first if enabled. This
// is the single helper spec.md §4.C requires every command that
// serialises a node-id to use — no other call site may decide the width.
func (d *Dispatcher) AppendNodeId(buf []byte, id NodeId) []byte {
	d.mu.RLock()
	lr := d.lr.enabled
	d.mu.RUnlock()
	if lr {
		return append(buf, uint8(id>>8), uint8(id))
	}
	return append(buf, uint8(id))
}

// ReadNodeId consumes a node-id from the front of buf in the current LR
// width, returning the id and the remaining bytes.
func (d *Dispatcher) ReadNodeId(buf []byte) (NodeId, []byte) {
	d.mu.RLock()
	lr := d.lr.enabled
	d.mu.RUnlock()
	if lr {
		if len(buf) < 2 {
			return NoNode, buf
		}
		return NodeId(buf[0])<<8 | NodeId(buf[1]), buf[2:]
	}
	if len(buf) < 1 {
		return NoNode, buf
	}
	return NodeId(buf[0]), buf[1:]
}

// LongRangeEnabled reports the current LR mode.
func (d *Dispatcher) LongRangeEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lr.enabled
}

// setLongRangeEnabled changes LR mode. The flag changes only under the
// TX-lock (sendMu); d.mu additionally guards it for the readers above.
// Outside tests its only caller is setNodeIdBasetype (dispatcher.go),
// after the NODEID_BASETYPE_SET exchange with the module has returned.
func (d *Dispatcher) setLongRangeEnabled(v bool) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	d.mu.Lock()
	d.lr.enabled = v
	d.mu.Unlock()
}
