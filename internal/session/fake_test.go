package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

func init() {
	util.SetLogOutput(discard{})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// Compile-time interface checks.
var (
	_ Engine = (*fakeEngine)(nil)
	_ Sender = (*fakeSender)(nil)
)

var errInjected = errors.New("injected failure")

// fakeEngine records every command in order. Operations named in failOn
// return their error; candidates listed in reject are refused.
type fakeEngine struct {
	name string

	mu         sync.Mutex
	ops        []string
	candidates []string
	failOn     map[string]error
	reject     map[string]bool
	closeCount int

	// When offerGate is set, CreateOffer closes offerEntered and blocks
	// until offerGate is closed.
	offerGate    chan struct{}
	offerEntered chan struct{}

	onCandidate func(webrtc.ICECandidateInit)
	onTrack     func(*webrtc.TrackRemote)
	onState     func(webrtc.PeerConnectionState)
}

func newFakeEngine(name string) *fakeEngine {
	return &fakeEngine{
		name:   name,
		failOn: make(map[string]error),
		reject: make(map[string]bool),
	}
}

func (e *fakeEngine) record(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, op)
	return e.failOn[op]
}

func (e *fakeEngine) CreateOffer() (webrtc.SessionDescription, error) {
	if e.offerGate != nil {
		close(e.offerEntered)
		<-e.offerGate
	}
	if err := e.record("create-offer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer from " + e.name}, nil
}

func (e *fakeEngine) CreateAnswer() (webrtc.SessionDescription, error) {
	if err := e.record("create-answer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer from " + e.name}, nil
}

func (e *fakeEngine) SetLocalDescription(d webrtc.SessionDescription) error {
	return e.record("set-local:" + d.Type.String())
}

func (e *fakeEngine) SetRemoteDescription(d webrtc.SessionDescription) error {
	return e.record("set-remote:" + d.Type.String())
}

func (e *fakeEngine) AddICECandidate(c webrtc.ICECandidateInit) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, "add-candidate")
	if e.reject[c.Candidate] {
		return errInjected
	}
	e.candidates = append(e.candidates, c.Candidate)
	return nil
}

func (e *fakeEngine) OnICECandidate(fn func(webrtc.ICECandidateInit))             { e.onCandidate = fn }
func (e *fakeEngine) OnTrack(fn func(*webrtc.TrackRemote))                        { e.onTrack = fn }
func (e *fakeEngine) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) { e.onState = fn }

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeCount++
	return nil
}

func (e *fakeEngine) opsSnapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ops...)
}

func (e *fakeEngine) applied() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

func (e *fakeEngine) count(op string) int {
	n := 0
	for _, o := range e.opsSnapshot() {
		if o == op {
			n++
		}
	}
	return n
}

func (e *fakeEngine) closes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCount
}

// fakeSender records outbound messages. When forward is set, each message is
// also handed to it synchronously.
type fakeSender struct {
	mu      sync.Mutex
	sent    []signaling.Message
	err     error
	forward func(signaling.Message)
}

func (s *fakeSender) Send(msg signaling.Message) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	s.sent = append(s.sent, msg)
	fwd := s.forward
	s.mu.Unlock()

	if fwd != nil {
		fwd(msg)
	}
	return nil
}

func (s *fakeSender) messages() []signaling.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]signaling.Message(nil), s.sent...)
}

func (s *fakeSender) ofType(t signaling.MessageType) []signaling.Message {
	var out []signaling.Message
	for _, m := range s.messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// eventLog collects negotiator notifications.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) ofType(t EventType) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) states() []SignalingState {
	var out []SignalingState
	for _, ev := range l.ofType(EventStateChanged) {
		out = append(out, ev.State)
	}
	return out
}

type negotiatorFixture struct {
	n      *Negotiator
	engine *fakeEngine
	sender *fakeSender
	events *eventLog
	buffer *CandidateBuffer
}

func newFixture(t *testing.T, name string, polite bool) *negotiatorFixture {
	t.Helper()

	f := &negotiatorFixture{
		engine: newFakeEngine(name),
		sender: &fakeSender{},
		events: &eventLog{},
		buffer: NewCandidateBuffer(),
	}
	f.n = newNegotiator("session-"+name, polite, f.engine, f.buffer, f.sender, f.events.add)
	t.Cleanup(func() { f.n.Teardown() })
	return f
}

func candidate(s string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: s}
}
