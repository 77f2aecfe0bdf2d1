package zip

import "sync"

// CommandClassReceiver is a gateway-resident handler for a Z/IP-carried
// Command-Class payload, generalized from the teacher's FrameReceiver
// interface (npi_linkmgr.go): Receive returns false to stop further
// handlers in the chain from running, matching the teacher's "do not
// process further" firehose convention.
type CommandClassReceiver interface {
	Receive(nodeId uint16, endpoint uint8, payload []byte) bool
}

// HandlerRegistry is the per-Command-Class analogue of the teacher's
// RxRegistryProgram/RxFirehose split: frames carrying a command class
// destined for the gateway itself (rather than relayed over IP) are
// dispatched here instead of through the Z/IP UDP path.
type HandlerRegistry struct {
	mu       sync.Mutex
	byClass  map[uint8]CommandClassReceiver
	firehose []CommandClassReceiver
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{byClass: make(map[uint8]CommandClassReceiver)}
}

// RegisterClassHandler installs (overwriting) the handler for cc.
func (r *HandlerRegistry) RegisterClassHandler(cc uint8, h CommandClassReceiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClass[cc] = h
}

// RegisterFirehose appends a handler that sees every frame, mirroring
// RegisterAllHandler.
func (r *HandlerRegistry) RegisterFirehose(h CommandClassReceiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.firehose {
		if existing == h {
			return
		}
	}
	r.firehose = append(r.firehose, h)
}

// Deregister removes h from both the class registry and the firehose.
func (r *HandlerRegistry) Deregister(h CommandClassReceiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for cc, v := range r.byClass {
		if v == h {
			delete(r.byClass, cc)
		}
	}
	var kept []CommandClassReceiver
	for _, existing := range r.firehose {
		if existing != h {
			kept = append(kept, existing)
		}
	}
	r.firehose = kept
}

// Dispatch runs cc's registered handler (if any) followed by the
// firehose, stopping early the first time a handler returns false.
func (r *HandlerRegistry) Dispatch(cc uint8, nodeId uint16, endpoint uint8, payload []byte) {
	r.mu.Lock()
	handler := r.byClass[cc]
	firehose := append([]CommandClassReceiver(nil), r.firehose...)
	r.mu.Unlock()

	if handler != nil {
		if !handler.Receive(nodeId, endpoint, payload) {
			return
		}
	}
	for _, h := range firehose {
		if !h.Receive(nodeId, endpoint, payload) {
			return
		}
	}
}
