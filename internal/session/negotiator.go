package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

const jobQueueSize = 64

// Negotiator is the signaling state machine of one session. Every operation
// runs as a job on a single goroutine, so description commits never
// interleave and remote candidates keep their FIFO order.
//
// Teardown does not wait for the running job. Jobs re-check the closed state
// after every engine call and stop before committing anything once the
// session is closed.
type Negotiator struct {
	polite bool
	engine Engine
	buffer *CandidateBuffer
	out    Sender
	notify func(Event)

	jobs    chan job
	done    chan struct{}
	queueMu sync.Mutex
	once    sync.Once

	mu        sync.Mutex
	id        string
	tag       string
	state     SignalingState
	remoteSet bool
	gathered  []webrtc.ICECandidateInit // local candidates sent so far
}

type job struct {
	run   func() error
	reply chan error
}

func newNegotiator(id string, polite bool, engine Engine, buffer *CandidateBuffer, out Sender, notify func(Event)) *Negotiator {
	if notify == nil {
		notify = func(Event) {}
	}
	n := &Negotiator{
		id:     id,
		tag:    fmt.Sprintf("[%s]", util.ShortID(id)),
		polite: polite,
		engine: engine,
		buffer: buffer,
		out:    out,
		notify: notify,
		jobs:   make(chan job, jobQueueSize),
		done:   make(chan struct{}),
		state:  StateIdle,
	}
	go n.loop()
	return n
}

// ---------------------------------------------------------------------------
// Job queue
// ---------------------------------------------------------------------------

func (n *Negotiator) loop() {
	for {
		select {
		case j := <-n.jobs:
			j.reply <- j.run()

		case <-n.done:
			// Submitters hold queueMu while enqueueing, so nothing can slip in
			// behind this drain.
			n.queueMu.Lock()
			defer n.queueMu.Unlock()
			for {
				select {
				case j := <-n.jobs:
					j.reply <- ErrSessionClosed
				default:
					return
				}
			}
		}
	}
}

// submit enqueues fn and waits for its result.
func (n *Negotiator) submit(ctx context.Context, fn func() error) error {
	j := job{run: fn, reply: make(chan error, 1)}

	n.queueMu.Lock()
	if n.isClosed() {
		n.queueMu.Unlock()
		return ErrSessionClosed
	}
	select {
	case n.jobs <- j:
	case <-n.done:
		n.queueMu.Unlock()
		return ErrSessionClosed
	case <-ctx.Done():
		n.queueMu.Unlock()
		return ctx.Err()
	}
	n.queueMu.Unlock()

	select {
	case err := <-j.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ignoreStale hides ErrStaleMessage from callers.
func ignoreStale(err error) error {
	if errors.Is(err, ErrStaleMessage) {
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State returns the current signaling state.
func (n *Negotiator) State() SignalingState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// ID returns the session identifier carried by outbound messages. It only
// changes when a glare offer is adopted.
func (n *Negotiator) ID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.id
}

func (n *Negotiator) logTag() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tag
}

// Polite reports the glare role fixed at construction.
func (n *Negotiator) Polite() bool { return n.polite }

// Done is closed by Teardown.
func (n *Negotiator) Done() <-chan struct{} { return n.done }

func (n *Negotiator) isClosed() bool {
	return n.State() == StateClosed
}

func (n *Negotiator) hasRemoteDescription() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remoteSet
}

func (n *Negotiator) setRemoteDescription(set bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateClosed {
		n.remoteSet = set
	}
}

// transition moves to next and publishes the change. It refuses to leave
// Closed.
func (n *Negotiator) transition(next SignalingState) bool {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return false
	}
	prev := n.state
	n.state = next
	n.mu.Unlock()

	if prev != next {
		util.LogDebug("%s %s → %s", n.logTag(), prev, next)
		n.notify(Event{Type: EventStateChanged, SessionID: n.ID(), State: next})
	}
	return true
}

// fail ends the current attempt: the session moves to restore and a single
// call-failed event is published.
func (n *Negotiator) fail(op string, err error, restore SignalingState) error {
	if n.isClosed() {
		return ErrSessionClosed
	}
	n.transition(restore)

	nerr := &NegotiationError{Op: op, Err: err}
	util.LogError("%s %v", n.logTag(), nerr)
	n.notify(Event{Type: EventCallFailed, SessionID: n.ID(), Err: nerr})
	return nerr
}

func (n *Negotiator) rollbackLocal() {
	if err := n.engine.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		util.LogWarning("%s rollback local description: %v", n.logTag(), err)
	}
}

func (n *Negotiator) rollbackRemote() {
	if err := n.engine.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
		util.LogWarning("%s rollback remote description: %v", n.logTag(), err)
	}
}

func (n *Negotiator) flush() {
	if n.buffer.Len() == 0 {
		return
	}
	applied, failures := n.buffer.Flush(n.engine)
	util.LogDebug("%s flushed %d buffered candidates (%d refused)", n.logTag(), applied+len(failures), len(failures))
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// InitiateCall creates and commits a local offer and sends it. It is only
// valid in Idle; on engine failure the session stays Idle and the caller may
// retry.
func (n *Negotiator) InitiateCall(ctx context.Context) error {
	return n.submit(ctx, n.initiateCall)
}

// HandleRemoteOffer answers an incoming offer. In glare the polite side
// rolls back its own offer and answers; the impolite side keeps its offer
// and ignores this one.
func (n *Negotiator) HandleRemoteOffer(ctx context.Context, sdp string) error {
	return ignoreStale(n.submit(ctx, func() error { return n.handleRemoteOffer(sdp) }))
}

// AdoptRemoteOffer handles an offer that names a session identifier other
// than ours, which is how glare looks when both sides picked their own
// identifier. The polite side rolls back, takes over the remote identifier,
// answers under it and re-sends the candidates it already gathered. The
// impolite side ignores the offer. Outside LocalOfferPending the offer
// belongs to some other call and is dropped.
func (n *Negotiator) AdoptRemoteOffer(ctx context.Context, id, sdp string) error {
	return ignoreStale(n.submit(ctx, func() error { return n.adoptRemoteOffer(id, sdp) }))
}

// HandleRemoteAnswer commits the answer to our outstanding offer. Answers
// that arrive in any other state, including duplicates, are dropped.
func (n *Negotiator) HandleRemoteAnswer(ctx context.Context, sdp string) error {
	return ignoreStale(n.submit(ctx, func() error { return n.handleRemoteAnswer(sdp) }))
}

// HandleRemoteCandidate applies a remote candidate, or buffers it until a
// remote description is committed. Engine refusals are logged, not returned.
func (n *Negotiator) HandleRemoteCandidate(ctx context.Context, c webrtc.ICECandidateInit) error {
	return n.submit(ctx, func() error { return n.handleRemoteCandidate(c) })
}

// Dispatch routes one inbound signaling message to its handler.
func (n *Negotiator) Dispatch(ctx context.Context, msg signaling.Message) error {
	switch msg.Type {
	case signaling.TypeOffer:
		return n.HandleRemoteOffer(ctx, msg.SDP)
	case signaling.TypeAnswer:
		return n.HandleRemoteAnswer(ctx, msg.SDP)
	case signaling.TypeCandidate:
		return n.HandleRemoteCandidate(ctx, msg.Candidate)
	default:
		return fmt.Errorf("%w: %q", signaling.ErrUnknownType, msg.Type)
	}
}

// Teardown closes the engine, discards buffered candidates and moves to
// Closed. Later calls are no-ops.
func (n *Negotiator) Teardown() error {
	var err error
	first := false
	n.once.Do(func() {
		first = true

		n.mu.Lock()
		n.state = StateClosed
		n.remoteSet = false
		n.mu.Unlock()

		close(n.done)
		n.buffer.Close()
		if cerr := n.engine.Close(); cerr != nil {
			err = fmt.Errorf("close engine: %w", cerr)
		}
	})

	if first {
		util.LogDebug("%s closed", n.logTag())
		n.notify(Event{Type: EventStateChanged, SessionID: n.ID(), State: StateClosed})
	}
	return err
}

func (n *Negotiator) initiateCall() error {
	switch st := n.State(); st {
	case StateIdle:
	case StateClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("%w: cannot initiate a call in %s", ErrInvalidState, st)
	}

	offer, err := n.engine.CreateOffer()
	if err != nil {
		return n.fail("create offer", err, StateIdle)
	}
	if n.isClosed() {
		return ErrSessionClosed
	}
	if err := n.engine.SetLocalDescription(offer); err != nil {
		return n.fail("set local offer", err, StateIdle)
	}
	if !n.transition(StateLocalOfferPending) || n.isClosed() {
		return ErrSessionClosed
	}

	if err := n.out.Send(signaling.Offer(n.ID(), offer.SDP)); err != nil {
		n.rollbackLocal()
		return n.fail("send offer", err, StateIdle)
	}
	util.LogInfo("%s offer sent", n.logTag())
	return nil
}

func (n *Negotiator) handleRemoteOffer(sdp string) error {
	prev := n.State()
	switch prev {
	case StateClosed:
		return ErrSessionClosed

	case StateLocalOfferPending:
		if !n.polite {
			util.LogInfo("%s glare: keeping our offer, ignoring the remote one", n.logTag())
			return ErrStaleMessage
		}
		util.LogInfo("%s glare: rolling back our offer to accept the remote one", n.logTag())
		if err := n.engine.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return n.fail("roll back local offer", err, StateLocalOfferPending)
		}
		prev = StateIdle

	case StateStable:
		util.LogInfo("%s offer received while stable, negotiating again", n.logTag())
	}
	prevRemote := n.hasRemoteDescription()

	if !n.transition(StateRemoteOfferPending) {
		return ErrSessionClosed
	}
	n.notify(Event{Type: EventIncomingCall, SessionID: n.ID()})

	if err := n.engine.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return n.fail("set remote offer", err, prev)
	}
	n.setRemoteDescription(true)

	// abort undoes the committed remote offer so the state matches the engine.
	abort := func(op string, err error) error {
		if n.isClosed() {
			return ErrSessionClosed
		}
		n.rollbackRemote()
		n.setRemoteDescription(prevRemote)
		return n.fail(op, err, prev)
	}

	answer, err := n.engine.CreateAnswer()
	if err != nil {
		return abort("create answer", err)
	}
	if n.isClosed() {
		return ErrSessionClosed
	}
	if err := n.engine.SetLocalDescription(answer); err != nil {
		return abort("set local answer", err)
	}
	if !n.transition(StateStable) || n.isClosed() {
		return ErrSessionClosed
	}

	sendErr := n.out.Send(signaling.Answer(n.ID(), answer.SDP))
	n.flush()
	if sendErr != nil {
		return n.fail("send answer", sendErr, StateStable)
	}
	util.LogInfo("%s answer sent", n.logTag())
	return nil
}

func (n *Negotiator) adoptRemoteOffer(id, sdp string) error {
	switch st := n.State(); st {
	case StateClosed:
		return ErrSessionClosed
	case StateLocalOfferPending:
	default:
		util.LogDebug("%s busy in %s, dropping offer for session %s", n.logTag(), st, util.ShortID(id))
		return ErrStaleMessage
	}
	if !n.polite {
		util.LogInfo("%s glare with session %s: keeping our offer", n.logTag(), util.ShortID(id))
		return ErrStaleMessage
	}

	util.LogInfo("%s glare: adopting session %s", n.logTag(), util.ShortID(id))
	gathered := n.rekey(id)
	if err := n.handleRemoteOffer(sdp); err != nil {
		return err
	}

	for _, c := range gathered {
		if n.isClosed() {
			return ErrSessionClosed
		}
		if err := n.out.Send(signaling.Candidate(id, c)); err != nil {
			util.LogWarning("%s re-send local candidate: %v", n.logTag(), err)
		}
	}
	return nil
}

func (n *Negotiator) handleRemoteAnswer(sdp string) error {
	st := n.State()
	if st == StateClosed {
		return ErrSessionClosed
	}
	if st != StateLocalOfferPending || n.hasRemoteDescription() {
		util.LogDebug("%s dropping answer received in %s", n.logTag(), st)
		return ErrStaleMessage
	}

	if err := n.engine.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		if n.isClosed() {
			return ErrSessionClosed
		}
		n.rollbackLocal()
		return n.fail("set remote answer", err, StateIdle)
	}
	n.setRemoteDescription(true)
	if !n.transition(StateStable) {
		return ErrSessionClosed
	}

	n.flush()
	util.LogInfo("%s answer applied", n.logTag())
	return nil
}

func (n *Negotiator) handleRemoteCandidate(c webrtc.ICECandidateInit) error {
	if n.isClosed() {
		return ErrSessionClosed
	}
	if !n.hasRemoteDescription() {
		return n.buffer.Append(c)
	}

	if err := n.engine.AddICECandidate(c); err != nil {
		util.LogWarning("%s %v", n.logTag(), &CandidateApplicationError{Candidate: c.Candidate, Err: err})
		util.Stats.AddFailed()
		return nil
	}
	util.Stats.AddApplied()
	return nil
}

// onLocalCandidate forwards a locally gathered candidate. It bypasses the
// job queue: outbound candidates do not depend on signaling state.
func (n *Negotiator) onLocalCandidate(c webrtc.ICECandidateInit) {
	n.mu.Lock()
	if n.state == StateClosed {
		n.mu.Unlock()
		return
	}
	id, tag := n.id, n.tag
	n.gathered = append(n.gathered, c)
	n.mu.Unlock()

	if err := n.out.Send(signaling.Candidate(id, c)); err != nil {
		util.LogWarning("%s send local candidate: %v", tag, err)
	}
}

// rekey switches the outbound session identifier and returns the candidates
// already sent under the old one.
func (n *Negotiator) rekey(id string) []webrtc.ICECandidateInit {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.id = id
	n.tag = fmt.Sprintf("[%s]", util.ShortID(id))
	return append([]webrtc.ICECandidateInit(nil), n.gathered...)
}
