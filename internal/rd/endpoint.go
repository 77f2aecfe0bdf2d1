package rd

import "github.com/siliconlabs/zwave-ip-gateway/internal/shmp"

// EndpointState is the endpoint probe lifecycle, spec.md §3 "Resource
// Directory — Endpoint", a subset of the node lifecycle covering the
// per-security-class command-class probe steps.
type EndpointState int

const (
	EPStateProbeInfo EndpointState = iota
	EPStateProbeSec2C2Info
	EPStateProbeSec2C1Info
	EPStateProbeSec2C0Info
	EPStateProbeSec0Info
	EPStateProbeVersion
	EPStateProbeZWavePlus
	EPStateMdnsProbe
	EPStateMdnsProbeInProgress
	EPStateProbeDone
	EPStateProbeFail
)

func (s EndpointState) String() string {
	switch s {
	case EPStateProbeInfo:
		return "ProbeInfo"
	case EPStateProbeSec2C2Info:
		return "ProbeSec2C2Info"
	case EPStateProbeSec2C1Info:
		return "ProbeSec2C1Info"
	case EPStateProbeSec2C0Info:
		return "ProbeSec2C0Info"
	case EPStateProbeSec0Info:
		return "ProbeSec0Info"
	case EPStateProbeVersion:
		return "ProbeVersion"
	case EPStateProbeZWavePlus:
		return "ProbeZWavePlus"
	case EPStateMdnsProbe:
		return "MdnsProbe"
	case EPStateMdnsProbeInProgress:
		return "MdnsProbeInProgress"
	case EPStateProbeDone:
		return "ProbeDone"
	case EPStateProbeFail:
		return "ProbeFail"
	default:
		return "Unknown"
	}
}

var endpointTransitions = []EndpointState{
	EPStateProbeInfo,
	EPStateProbeSec2C2Info,
	EPStateProbeSec2C1Info,
	EPStateProbeSec2C0Info,
	EPStateProbeSec0Info,
	EPStateProbeVersion,
	EPStateProbeZWavePlus,
	EPStateMdnsProbe,
	EPStateMdnsProbeInProgress,
	EPStateProbeDone,
}

// Endpoint is a multi-channel endpoint under a node. NodeId is a
// back-reference, not a pointer (spec.md §9 "Cyclic graphs"): endpoints
// never outlive the node they belong to, and invariant 3 (spec.md §3)
// says a node's endpoint list is owned solely by the node entry.
type Endpoint struct {
	NodeId     shmp.NodeId
	EndpointId uint8

	Info     []byte // generic/specific/cmdclass bitmap, opaque to rd
	Name     string
	Location string
	Agg      []byte

	State EndpointState
}

func newEndpoint(nodeId shmp.NodeId, epId uint8) *Endpoint {
	return &Endpoint{NodeId: nodeId, EndpointId: epId, State: EPStateProbeInfo}
}

// AdvanceState moves the endpoint to the next step in its probe
// sequence, mirroring Node.AdvanceState.
func (e *Endpoint) AdvanceState() {
	for i, s := range endpointTransitions {
		if s == e.State && i+1 < len(endpointTransitions) {
			e.State = endpointTransitions[i+1]
			return
		}
	}
}

func (e *Endpoint) Fail() { e.State = EPStateProbeFail }
