// Package rd implements Module F, the Resource Directory: the
// authoritative in-memory map nodeid -> node entry, its lifecycle state
// machines, and write-through persistence, grounded on spec.md §3/§4.F
// and original_source/.../RD_internal.c.
package rd

import (
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
)

// NodeState is the node probe lifecycle, spec.md §3, supplemented with
// the Wake-Up Command Class probing steps from RD_internal.c (CheckWUVer,
// GetWUCap, SetWakeUpInterval, ProbeWakeUpInterval) and the mDNS-probe
// states.
type NodeState int

const (
	StateCreated NodeState = iota
	StateProbeNodeInfo
	StateProbeProductId
	StateEnumerateEndpoints
	StateFindEndpoints
	StateCheckWUCCVersion
	StateGetWUCap
	StateSetWakeUpInterval
	StateAssignReturnRoute
	StateProbeWakeUpInterval
	StateProbeEndpoints
	StateMdnsProbe
	StateMdnsEPProbe
	StateDone
	StateProbeFail
	StateFailing
)

func (s NodeState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateProbeNodeInfo:
		return "ProbeNodeInfo"
	case StateProbeProductId:
		return "ProbeProductId"
	case StateEnumerateEndpoints:
		return "EnumerateEndpoints"
	case StateFindEndpoints:
		return "FindEndpoints"
	case StateCheckWUCCVersion:
		return "CheckWUCCVersion"
	case StateGetWUCap:
		return "GetWUCap"
	case StateSetWakeUpInterval:
		return "SetWakeUpInterval"
	case StateAssignReturnRoute:
		return "AssignReturnRoute"
	case StateProbeWakeUpInterval:
		return "ProbeWakeUpInterval"
	case StateProbeEndpoints:
		return "ProbeEndpoints"
	case StateMdnsProbe:
		return "MdnsProbe"
	case StateMdnsEPProbe:
		return "MdnsEPProbe"
	case StateDone:
		return "Done"
	case StateProbeFail:
		return "ProbeFail"
	case StateFailing:
		return "Failing"
	default:
		return "Unknown"
	}
}

// nodeTransitions is the ordered happy-path sequence from spec.md §4.F;
// AdvanceState walks it one step at a time, driven by serial callbacks.
var nodeTransitions = []NodeState{
	StateCreated,
	StateProbeNodeInfo,
	StateProbeProductId,
	StateEnumerateEndpoints,
	StateFindEndpoints,
	StateCheckWUCCVersion,
	StateGetWUCap,
	StateSetWakeUpInterval,
	StateAssignReturnRoute,
	StateProbeWakeUpInterval,
	StateProbeEndpoints,
	StateMdnsProbe,
	StateMdnsEPProbe,
	StateDone,
}

// Mode is the node's administrative/health mode, orthogonal to probe
// progress (spec.md §3 "mode").
type Mode int

const (
	ModeProbing Mode = iota
	ModeDeleted
	ModeFailed
	ModeLowBattery
)

func (m Mode) String() string {
	switch m {
	case ModeProbing:
		return "Probing"
	case ModeDeleted:
		return "Deleted"
	case ModeFailed:
		return "Failed"
	case ModeLowBattery:
		return "LowBat"
	default:
		return "Unknown"
	}
}

// Node is the Resource Directory node record, spec.md §3 "Resource
// Directory — Node". Endpoints hold a NodeId back-reference rather than a
// pointer to this struct (spec.md §9 "Cyclic graphs" design note), so a
// Node never needs finalization logic to break a cycle.
type Node struct {
	NodeId         shmp.NodeId
	NodeType       uint8
	SecurityFlags  uint8
	WakeupInterval uint32
	DSK            []byte
	Name           string
	CCVersions     map[uint8]uint8

	State NodeState
	Mode  Mode

	ProbeFlags uint32
	Endpoints  []shmp.NodeId // kept for symmetry; actual endpoint rows live in Directory.endpoints

	refcnt int
}

func newNode(id shmp.NodeId) *Node {
	return &Node{
		NodeId:     id,
		State:      StateCreated,
		Mode:       ModeProbing,
		CCVersions: make(map[uint8]uint8),
		refcnt:     1,
	}
}

// AdvanceState moves the node to the next step in the happy-path
// sequence. It is a no-op past Done and leaves ProbeFail/Failing
// untouched (those are terminal until the router explicitly resets the
// node), matching spec.md §4.F: "any step may transition to ProbeFail or
// Failing" independently of the happy path.
func (n *Node) AdvanceState() {
	for i, s := range nodeTransitions {
		if s == n.State && i+1 < len(nodeTransitions) {
			n.State = nodeTransitions[i+1]
			return
		}
	}
}

// Fail transitions the node directly to ProbeFail, per spec.md §4.F:
// "any step may transition to ProbeFail or Failing."
func (n *Node) Fail() {
	n.State = StateProbeFail
	n.Mode = ModeFailed
}

// IsDone reports whether the node has completed its probe sequence,
// the trigger for virtual-netif address assignment and mDNS publication
// (spec.md §4.F "Entry into Done triggers...").
func (n *Node) IsDone() bool { return n.State == StateDone }
