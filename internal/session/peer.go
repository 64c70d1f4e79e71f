// Package session implements the per-call signaling core: the negotiation
// state machine, the remote candidate buffer, and the PeerSession aggregate
// handed to the presentation layer.
package session

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

const defaultEventBuffer = 32

// Config describes one PeerSession.
type Config struct {
	ID          string
	Polite      bool
	Engine      Engine
	Sender      Sender
	EventBuffer int // capacity of the Events channel
}

// PeerSession owns exactly one connection engine and one CandidateBuffer for
// the lifetime of a call. It never outlives its engine: Teardown closes both.
type PeerSession struct {
	engine     Engine
	buffer     *CandidateBuffer
	negotiator *Negotiator

	events    chan Event
	mu        sync.Mutex
	failed    bool
	closeOnce sync.Once
}

// NewPeerSession wires cfg.Engine's callbacks into a fresh negotiator.
func NewPeerSession(cfg Config) *PeerSession {
	size := cfg.EventBuffer
	if size <= 0 {
		size = defaultEventBuffer
	}

	s := &PeerSession{
		engine: cfg.Engine,
		buffer: NewCandidateBuffer(),
		events: make(chan Event, size),
	}
	s.negotiator = newNegotiator(cfg.ID, cfg.Polite, cfg.Engine, s.buffer, cfg.Sender, s.publish)

	cfg.Engine.OnICECandidate(s.negotiator.onLocalCandidate)
	cfg.Engine.OnTrack(func(track *webrtc.TrackRemote) {
		s.publish(Event{Type: EventRemoteTrack, SessionID: s.ID(), Track: track})
	})
	cfg.Engine.OnConnectionStateChange(s.onConnectionState)

	util.Stats.AddSessionOpened()
	return s
}

// publish delivers an event without ever blocking the negotiator. When the
// subscriber falls behind the event is dropped and logged.
func (s *PeerSession) publish(ev Event) {
	if ev.Type == EventCallFailed {
		s.mu.Lock()
		already := s.failed
		s.failed = true
		s.mu.Unlock()
		if already {
			return
		}
	}

	select {
	case s.events <- ev:
	default:
		util.LogWarning("[%s] event queue full, dropping %s", util.ShortID(s.ID()), ev.Type)
	}
}

func (s *PeerSession) onConnectionState(state webrtc.PeerConnectionState) {
	s.publish(Event{Type: EventConnectionState, SessionID: s.ID(), Connection: state})

	switch state {
	case webrtc.PeerConnectionStateFailed:
		s.publish(Event{Type: EventCallFailed, SessionID: s.ID(), Err: ErrConnectionFailed})
		// The engine invokes this callback on its own goroutine; closing it
		// from inside would deadlock.
		go s.Teardown()
	case webrtc.PeerConnectionStateClosed:
		go s.Teardown()
	}
}

// ID returns the session identifier carried in every signaling message. A
// polite session that resolves glare takes over the remote identifier.
func (s *PeerSession) ID() string { return s.negotiator.ID() }

// State returns the current signaling state.
func (s *PeerSession) State() SignalingState { return s.negotiator.State() }

// Polite reports the glare role of this side.
func (s *PeerSession) Polite() bool { return s.negotiator.Polite() }

// Events returns the read-only notification stream. It is never closed; use
// Done to learn when the session ends.
func (s *PeerSession) Events() <-chan Event { return s.events }

// Done is closed when the session is torn down.
func (s *PeerSession) Done() <-chan struct{} { return s.negotiator.Done() }

// PendingCandidates reports how many remote candidates are waiting for a
// remote description.
func (s *PeerSession) PendingCandidates() int { return s.buffer.Len() }

// InitiateCall starts negotiation as the offerer.
func (s *PeerSession) InitiateCall(ctx context.Context) error {
	return s.negotiator.InitiateCall(ctx)
}

// Dispatch hands an inbound signaling message to the negotiator.
func (s *PeerSession) Dispatch(ctx context.Context, msg signaling.Message) error {
	return s.negotiator.Dispatch(ctx, msg)
}

// Teardown ends the call. Safe to call multiple times and from any goroutine.
func (s *PeerSession) Teardown() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.negotiator.Teardown()
		util.Stats.AddSessionClosed()
	})
	return err
}
