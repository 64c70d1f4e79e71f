package session

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
)

// Engine is the connection engine a session drives. The production
// implementation is transport.Transport on top of a pion PeerConnection.
type Engine interface {
	CandidateApplier

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error

	// OnICECandidate is invoked for every locally gathered candidate. The
	// end-of-gathering marker is not delivered.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnTrack(func(*webrtc.TrackRemote))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// CandidateApplier is the part of Engine a CandidateBuffer flushes into.
type CandidateApplier interface {
	AddICECandidate(webrtc.ICECandidateInit) error
}

// EngineFactory builds a fresh engine for every new session.
type EngineFactory func() (Engine, error)

// Sender delivers outbound signaling messages to the other participant.
type Sender interface {
	Send(signaling.Message) error
}
