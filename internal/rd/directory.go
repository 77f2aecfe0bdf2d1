package rd

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/siliconlabs/zwave-ip-gateway/internal/metrics"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// NotFound is returned by the lookup-by-key operations when nothing
// matches, adapted from the teacher's appdrivers/queryable.go NotFound
// string-error type.
type NotFound string

func (n NotFound) Error() string { return string(n) }

// ByDSK implements GetByDSK(dsk string) (interface{}, error), the
// Resource Directory's generalization of the teacher's QueryAddress
// interface (GetByAddress(uint32)) to DSK-keyed lookup.
type ByDSK interface {
	GetByDSK(dsk string) (interface{}, error)
}

// ByName implements GetByName(name string) (interface{}, error), the
// generalization of the teacher's QueryDevice interface
// (GetByDevice(uint16)) to name-keyed lookup.
type ByName interface {
	GetByName(name string) (interface{}, error)
}

// Directory is the Module F in-memory map nodeid -> *Node plus the
// endpoint arena, with write-through persistence to an optional Store.
// Invariant 1 (spec.md §3): a node occupies at most one slot, indexed by
// its NodeId; invariant 3: a node's endpoint list is owned solely by its
// entry.
type Directory struct {
	mu sync.RWMutex

	nodes     map[shmp.NodeId]*Node
	endpoints map[shmp.NodeId][]*Endpoint
	dskIndex  map[string]shmp.NodeId // dedup tracking, spec.md §4.F invariant

	store *Store
	met   *metrics.Registry
	log   zerolog.Logger
}

// NewDirectory constructs an empty Directory. store may be nil (no
// persistence, useful for tests).
func NewDirectory(store *Store, met *metrics.Registry, log zerolog.Logger) *Directory {
	return &Directory{
		nodes:     make(map[shmp.NodeId]*Node),
		endpoints: make(map[shmp.NodeId][]*Endpoint),
		dskIndex:  make(map[string]shmp.NodeId),
		store:     store,
		met:       met,
		log:       log.With().Str("component", "rd.directory").Logger(),
	}
}

func (d *Directory) refreshGauge() {
	if d.met != nil {
		d.met.SetRDNodesTotal(len(d.nodes))
	}
}

// Alloc creates a new node entry in StateCreated. Returns an error if
// the slot is already occupied (invariant 1).
func (d *Directory) Alloc(id shmp.NodeId) (*Node, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("rd: invalid node-id %d", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.nodes[id]; exists {
		return nil, fmt.Errorf("rd: node %d already allocated", id)
	}
	n := newNode(id)
	d.nodes[id] = n
	d.refreshGauge()
	if d.store != nil {
		if err := d.store.SaveNode(n); err != nil {
			d.log.Warn().Err(err).Uint16("node", uint16(id)).Msg("failed to persist new node")
		}
	}
	return n, nil
}

// ImportFromStore loads a previously persisted node back into memory at
// startup, skipping silently (spec.md §7 ConfigInvalid) if the record is
// absent or unreadable.
func (d *Directory) ImportFromStore(id shmp.NodeId) (*Node, bool) {
	if d.store == nil {
		return nil, false
	}
	n, ok, err := d.store.LoadNode(id)
	if err != nil {
		d.log.Warn().Err(err).Uint16("node", uint16(id)).Msg("failed to import node from store")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	d.mu.Lock()
	d.nodes[id] = n
	if len(n.DSK) > 0 {
		d.dskIndex[string(n.DSK)] = id
	}
	d.mu.Unlock()
	d.refreshGauge()
	return n, true
}

// Free removes a node entry and all of its endpoints (invariant 3).
func (d *Directory) Free(id shmp.NodeId) {
	d.mu.Lock()
	n, ok := d.nodes[id]
	if ok {
		if len(n.DSK) > 0 && d.dskIndex[string(n.DSK)] == id {
			delete(d.dskIndex, string(n.DSK))
		}
		delete(d.nodes, id)
		delete(d.endpoints, id)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	d.refreshGauge()
	if d.store != nil {
		if err := d.store.DeleteNode(id); err != nil {
			d.log.Warn().Err(err).Uint16("node", uint16(id)).Msg("failed to delete node from store")
		}
	}
}

// Get returns the node entry for id, if any.
func (d *Directory) Get(id shmp.NodeId) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	return n, ok
}

// Save persists the current in-memory state of the node identified by
// id, called by the router after every state transition (write-through,
// spec.md §4.F "Persistence is write-through via an external key-value
// store").
func (d *Directory) Save(id shmp.NodeId) error {
	if d.store == nil {
		return nil
	}
	d.mu.RLock()
	n, ok := d.nodes[id]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("rd: node %d not allocated", id)
	}
	return d.store.SaveNode(n)
}

// AddEndpoint creates (or returns the existing) endpoint epId under node
// id.
func (d *Directory) AddEndpoint(id shmp.NodeId, epId uint8) (*Endpoint, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.nodes[id]; !ok {
		return nil, fmt.Errorf("rd: node %d not allocated", id)
	}
	for _, ep := range d.endpoints[id] {
		if ep.EndpointId == epId {
			return ep, nil
		}
	}
	ep := newEndpoint(id, epId)
	d.endpoints[id] = append(d.endpoints[id], ep)
	return ep, nil
}

// FirstEndpoint returns the lowest-numbered endpoint under id, if any.
func (d *Directory) FirstEndpoint(id shmp.NodeId) (*Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	eps := d.endpoints[id]
	if len(eps) == 0 {
		return nil, false
	}
	first := eps[0]
	for _, ep := range eps[1:] {
		if ep.EndpointId < first.EndpointId {
			first = ep
		}
	}
	return first, true
}

// NextEndpoint returns the endpoint under id immediately after cur in
// endpoint-id order, if any.
func (d *Directory) NextEndpoint(id shmp.NodeId, cur uint8) (*Endpoint, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var next *Endpoint
	for _, ep := range d.endpoints[id] {
		if ep.EndpointId <= cur {
			continue
		}
		if next == nil || ep.EndpointId < next.EndpointId {
			next = ep
		}
	}
	if next == nil {
		return nil, false
	}
	return next, true
}

// AddDSK records dsk against node id, evicting (zeroing) any other
// node's DSK equal to dsk — the dedup invariant from spec.md §4.F: "the
// event is logged but is not fatal."
func (d *Directory) AddDSK(id shmp.NodeId, dsk []byte) error {
	d.mu.Lock()
	n, ok := d.nodes[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("rd: node %d not allocated", id)
	}
	key := string(dsk)
	if holder, exists := d.dskIndex[key]; exists && holder != id {
		if other, ok := d.nodes[holder]; ok {
			other.DSK = nil
			d.log.Warn().
				Uint16("evicted_node", uint16(holder)).
				Uint16("new_node", uint16(id)).
				Msg("DSK collision, evicting older holder")
		}
	}
	n.DSK = dsk
	d.dskIndex[key] = id
	d.mu.Unlock()

	if d.store != nil {
		return d.store.SaveNode(n)
	}
	return nil
}

// LookupByDSK returns the node holding dsk, if any.
func (d *Directory) LookupByDSK(dsk []byte) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.dskIndex[string(dsk)]
	if !ok {
		return nil, false
	}
	n := d.nodes[id]
	return n, n != nil
}

// GetByDSK implements ByDSK.
func (d *Directory) GetByDSK(dsk string) (interface{}, error) {
	n, ok := d.LookupByDSK([]byte(dsk))
	if !ok {
		return nil, NotFound(fmt.Sprintf("no node with DSK %x", dsk))
	}
	return n, nil
}

// LookupByName returns the first node whose Name equals name.
func (d *Directory) LookupByName(name string) (*Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, n := range d.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}

// GetByName implements ByName.
func (d *Directory) GetByName(name string) (interface{}, error) {
	n, ok := d.LookupByName(name)
	if !ok {
		return nil, NotFound(fmt.Sprintf("no node named %q", name))
	}
	return n, nil
}

// CCVersionGet returns the cached version for cc under node id.
func (d *Directory) CCVersionGet(id shmp.NodeId, cc uint8) (uint8, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return 0, false
	}
	v, ok := n.CCVersions[cc]
	return v, ok
}

// CCVersionSet records the version for cc under node id and persists it.
func (d *Directory) CCVersionSet(id shmp.NodeId, cc, version uint8) error {
	d.mu.Lock()
	n, ok := d.nodes[id]
	if ok {
		n.CCVersions[cc] = version
	}
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("rd: node %d not allocated", id)
	}
	if d.store != nil {
		return d.store.SaveNode(n)
	}
	return nil
}

// Nodes returns a snapshot slice of every allocated node, used by the
// router loop to find pending probe work and by netif/zip to enumerate
// Done nodes.
func (d *Directory) Nodes() []*Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	return out
}
