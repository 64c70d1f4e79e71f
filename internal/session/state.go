package session

// SignalingState is the negotiation state of one peer session.
//
// Initiator path: Idle → LocalOfferPending → Stable.
// Receiver path:  Idle → RemoteOfferPending → Stable.
// Closed is terminal.
type SignalingState int

const (
	StateIdle SignalingState = iota
	StateLocalOfferPending
	StateRemoteOfferPending
	StateStable
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLocalOfferPending:
		return "local-offer-pending"
	case StateRemoteOfferPending:
		return "remote-offer-pending"
	case StateStable:
		return "stable"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
