package session

import "github.com/pion/webrtc/v4"

// EventType identifies a notification published to the presentation layer.
type EventType int

const (
	EventStateChanged EventType = iota
	EventIncomingCall
	EventRemoteTrack
	EventConnectionState
	EventCallFailed
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventIncomingCall:
		return "incoming-call"
	case EventRemoteTrack:
		return "remote-track"
	case EventConnectionState:
		return "connection-state"
	case EventCallFailed:
		return "call-failed"
	default:
		return "unknown"
	}
}

// Event is a read-only notification about one session. Only the field
// matching Type is set.
type Event struct {
	Type       EventType
	SessionID  string
	State      SignalingState
	Track      *webrtc.TrackRemote
	Connection webrtc.PeerConnectionState
	Err        error
}
