package onvif

// Phase is the lifecycle stage of a controller
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseResolvingEndpoints
	PhaseEndpointsResolved
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseResolvingEndpoints:
		return "resolving_endpoints"
	case PhaseEndpointsResolved:
		return "endpoints_resolved"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen
func (p Phase) Terminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// State is an immutable snapshot of a controller. Endpoints is set from
// PhaseEndpointsResolved on, Profile only in PhaseReady, Err only in
// PhaseFailed.
type State struct {
	Phase     Phase
	Endpoints ServiceEndpoints
	Profile   MediaProfile
	Err       error
}

// Ready reports whether move commands may be sent
func (s State) Ready() bool {
	return s.Phase == PhaseReady && s.Profile.Token != ""
}

// canAdvance enforces monotonic transitions
func (s State) canAdvance(next State) bool {
	return !s.Phase.Terminal() && next.Phase > s.Phase
}
