package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned by every operation after Teardown.
	ErrSessionClosed = errors.New("session closed")

	// ErrStaleMessage marks an offer or answer that arrived in a state where
	// it cannot apply. It is logged and never returned to callers.
	ErrStaleMessage = errors.New("stale signaling message ignored")

	// ErrInvalidState is returned when InitiateCall is used outside Idle.
	ErrInvalidState = errors.New("invalid signaling state")

	// ErrCallInProgress is returned by Registry.Start in single-call mode
	// while another session is live.
	ErrCallInProgress = errors.New("a call is already in progress")
)

// NegotiationError reports a failed description step. The attempt is over and
// the session is back in Idle (or in Stable when a renegotiation failed).
type NegotiationError struct {
	Op  string
	Err error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation failed: %s: %v", e.Op, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// CandidateApplicationError reports one remote candidate the engine refused.
// It never aborts the call.
type CandidateApplicationError struct {
	Candidate string
	Err       error
}

func (e *CandidateApplicationError) Error() string {
	return fmt.Sprintf("apply candidate %q: %v", e.Candidate, e.Err)
}

func (e *CandidateApplicationError) Unwrap() error { return e.Err }

// ErrConnectionFailed is carried by the call-failed event when the engine
// reports a failed connection after negotiation.
var ErrConnectionFailed = errors.New("peer connection failed")
