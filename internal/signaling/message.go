// Package signaling carries offer/answer/candidate messages between the two
// call participants over a WebSocket relay.
package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// MessageType identifies the kind of signaling message.
type MessageType string

const (
	TypeOffer     MessageType = "offer"
	TypeAnswer    MessageType = "answer"
	TypeCandidate MessageType = "ice-candidate"
)

var (
	ErrUnknownType = errors.New("unknown signaling message type")
	ErrMalformed   = errors.New("malformed signaling message")
)

// Message is a decoded signaling message. Offer and answer carry SDP;
// ice-candidate carries Candidate.
type Message struct {
	Type      MessageType
	SessionID string
	SDP       string
	Candidate webrtc.ICECandidateInit
}

// Offer builds an offer message.
func Offer(sessionID, sdp string) Message {
	return Message{Type: TypeOffer, SessionID: sessionID, SDP: sdp}
}

// Answer builds an answer message.
func Answer(sessionID, sdp string) Message {
	return Message{Type: TypeAnswer, SessionID: sessionID, SDP: sdp}
}

// Candidate builds an ice-candidate message.
func Candidate(sessionID string, c webrtc.ICECandidateInit) Message {
	return Message{Type: TypeCandidate, SessionID: sessionID, Candidate: c}
}

// envelope is the JSON structure exchanged over the relay.
type envelope struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

// description is the offer/answer payload, shaped like a browser
// RTCSessionDescriptionInit.
type description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Encode serializes msg into its wire envelope.
func Encode(msg Message) ([]byte, error) {
	if msg.SessionID == "" {
		return nil, fmt.Errorf("%w: missing sessionId", ErrMalformed)
	}

	var payload any
	switch msg.Type {
	case TypeOffer, TypeAnswer:
		payload = description{Type: string(msg.Type), SDP: msg.SDP}
	case TypeCandidate:
		payload = msg.Candidate
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type, err)
	}
	return json.Marshal(envelope{Type: msg.Type, SessionID: msg.SessionID, Payload: raw})
}

// Decode parses a wire envelope. Unknown types yield ErrUnknownType; missing
// or unparsable fields yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.SessionID == "" {
		return Message{}, fmt.Errorf("%w: missing sessionId", ErrMalformed)
	}
	if len(env.Payload) == 0 {
		return Message{}, fmt.Errorf("%w: missing payload", ErrMalformed)
	}

	msg := Message{Type: env.Type, SessionID: env.SessionID}
	switch env.Type {
	case TypeOffer, TypeAnswer:
		var d description
		if err := json.Unmarshal(env.Payload, &d); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if d.SDP == "" {
			return Message{}, fmt.Errorf("%w: empty sdp", ErrMalformed)
		}
		msg.SDP = d.SDP

	case TypeCandidate:
		if err := json.Unmarshal(env.Payload, &msg.Candidate); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msg.Candidate.Candidate == "" {
			return Message{}, fmt.Errorf("%w: empty candidate", ErrMalformed)
		}

	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return msg, nil
}
