package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/util"
)

// Limits on candidates held for sessions that do not exist yet.
const (
	maxOrphanSessions   = 4
	maxOrphanCandidates = 64
)

// RegistryConfig holds what every session created by a Registry shares.
type RegistryConfig struct {
	Polite    bool
	NewEngine EngineFactory
	Sender    Sender

	// SingleCall allows at most one live session. An offer naming an
	// unknown identifier while a session is live is treated as glare with
	// that session instead of a new call.
	SingleCall bool

	// OnSession is called once per new session, before its first inbound
	// message is dispatched. It must not block.
	OnSession func(*PeerSession)

	// NewID generates session identifiers. Defaults to random UUIDs.
	NewID func() string
}

// Registry maps session identifiers to live sessions so that several calls,
// or several calls in a row, can share one signaling channel. A closed
// session is never revived: late messages for it are dropped.
//
// Sessions are only created by Start or by an offer. Candidates for an
// unknown identifier are held, within limits, until its offer arrives.
type Registry struct {
	cfg RegistryConfig

	// opMu orders Start against inbound dispatch, so a remote offer is never
	// routed while our own offer is half sent.
	opMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*PeerSession
	ended    map[string]struct{}
	orphans  map[string][]webrtc.ICECandidateInit
	order    []string // orphan identifiers, oldest first
	closed   bool
}

type route int

const (
	routeDrop route = iota
	routeExisting
	routeCreated
	routeGlare
)

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Registry{
		cfg:      cfg,
		sessions: make(map[string]*PeerSession),
		ended:    make(map[string]struct{}),
		orphans:  make(map[string][]webrtc.ICECandidateInit),
	}
}

// Start creates a fresh session and sends its offer. A session whose offer
// fails is torn down and removed. In single-call mode Start fails with
// ErrCallInProgress while another session is live.
func (r *Registry) Start(ctx context.Context) (*PeerSession, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if r.cfg.SingleCall && len(r.sessions) > 0 {
		r.mu.Unlock()
		return nil, ErrCallInProgress
	}
	s, err := r.create(r.cfg.NewID())
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}
	r.announce(s)

	if err := s.InitiateCall(ctx); err != nil {
		r.Remove(s.ID())
		return nil, err
	}
	return s, nil
}

// Dispatch routes msg to its session, creating the session when an offer
// names an unknown identifier. Answers for unknown sessions and any message
// for an ended session are dropped.
func (r *Registry) Dispatch(ctx context.Context, msg signaling.Message) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	s, rt, err := r.lookup(msg)
	switch rt {
	case routeDrop:
		return err
	case routeGlare:
		return r.adopt(ctx, s, msg)
	case routeCreated:
		r.announce(s)
		if err := s.Dispatch(ctx, msg); err != nil {
			return err
		}
		r.drainOrphans(ctx, s, msg.SessionID)
		return nil
	default:
		return s.Dispatch(ctx, msg)
	}
}

func (r *Registry) lookup(msg signaling.Message) (*PeerSession, route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, routeDrop, ErrSessionClosed
	}
	if s, ok := r.sessions[msg.SessionID]; ok {
		return s, routeExisting, nil
	}
	if _, ok := r.ended[msg.SessionID]; ok {
		util.LogDebug("[%s] dropping %s for ended session", util.ShortID(msg.SessionID), msg.Type)
		return nil, routeDrop, nil
	}

	switch msg.Type {
	case signaling.TypeAnswer:
		util.LogDebug("[%s] dropping answer for unknown session", util.ShortID(msg.SessionID))
		return nil, routeDrop, nil
	case signaling.TypeCandidate:
		r.holdOrphan(msg.SessionID, msg.Candidate)
		return nil, routeDrop, nil
	}

	if r.cfg.SingleCall && len(r.sessions) > 0 {
		return r.liveSession(), routeGlare, nil
	}

	s, err := r.create(msg.SessionID)
	if err != nil {
		return nil, routeDrop, err
	}
	return s, routeCreated, nil
}

// liveSession must be called with r.mu held. In single-call mode there is at
// most one.
func (r *Registry) liveSession() *PeerSession {
	var live *PeerSession
	for _, s := range r.sessions {
		live = s
	}
	return live
}

// adopt hands an offer for a foreign identifier to the live session. When
// the session takes the identifier over it is re-keyed here.
func (r *Registry) adopt(ctx context.Context, s *PeerSession, msg signaling.Message) error {
	old := s.ID()
	err := s.negotiator.AdoptRemoteOffer(ctx, msg.SessionID, msg.SDP)
	if id := s.ID(); id != old {
		r.rekey(s, old, id)
		r.drainOrphans(ctx, s, id)
	}
	return err
}

func (r *Registry) rekey(s *PeerSession, old, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[old] == s {
		delete(r.sessions, old)
	}
	r.ended[old] = struct{}{}

	select {
	case <-s.Done():
		r.ended[id] = struct{}{}
	default:
		r.sessions[id] = s
		util.LogDebug("[%s] session now known as %s", util.ShortID(old), util.ShortID(id))
	}
}

// holdOrphan must be called with r.mu held. The oldest identifier is
// evicted when too many are waiting.
func (r *Registry) holdOrphan(id string, c webrtc.ICECandidateInit) {
	pending, ok := r.orphans[id]
	if !ok {
		if len(r.order) >= maxOrphanSessions {
			evict := r.order[0]
			r.order = r.order[1:]
			delete(r.orphans, evict)
			util.LogDebug("[%s] discarding candidates for a session that never started", util.ShortID(evict))
		}
		r.order = append(r.order, id)
	}
	if len(pending) >= maxOrphanCandidates {
		util.LogWarning("[%s] too many candidates before offer, dropping", util.ShortID(id))
		return
	}
	r.orphans[id] = append(pending, c)
}

// takeOrphans must be called with r.mu held.
func (r *Registry) takeOrphans(id string) []webrtc.ICECandidateInit {
	pending, ok := r.orphans[id]
	if !ok {
		return nil
	}
	delete(r.orphans, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return pending
}

// drainOrphans feeds held candidates for id to s, in arrival order.
func (r *Registry) drainOrphans(ctx context.Context, s *PeerSession, id string) {
	r.mu.Lock()
	pending := r.takeOrphans(id)
	r.mu.Unlock()

	for _, c := range pending {
		if err := s.negotiator.HandleRemoteCandidate(ctx, c); err != nil {
			util.LogDebug("[%s] held candidate not delivered: %v", util.ShortID(id), err)
			return
		}
	}
}

// create must be called with r.mu held.
func (r *Registry) create(id string) (*PeerSession, error) {
	engine, err := r.cfg.NewEngine()
	if err != nil {
		return nil, fmt.Errorf("create connection engine: %w", err)
	}

	s := NewPeerSession(Config{
		ID:     id,
		Polite: r.cfg.Polite,
		Engine: engine,
		Sender: r.cfg.Sender,
	})
	r.sessions[id] = s

	go func() {
		<-s.Done()
		r.forget(s)
	}()

	util.LogDebug("[%s] session created", util.ShortID(id))
	return s, nil
}

func (r *Registry) announce(s *PeerSession) {
	if r.cfg.OnSession != nil {
		r.cfg.OnSession(s)
	}
}

func (r *Registry) forget(s *PeerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := s.ID()
	if r.sessions[id] == s {
		delete(r.sessions, id)
	}
	r.ended[id] = struct{}{}
	r.takeOrphans(id)
}

// Get returns the live session with the given identifier.
func (r *Registry) Get(id string) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove tears a session down and forgets it.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	err := s.Teardown()
	r.forget(s)
	return err
}

// CloseAll tears down every live session and refuses new ones.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	live := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range live {
		if err := s.Teardown(); err != nil {
			errs = append(errs, err)
		}
		r.forget(s)
	}
	return errors.Join(errs...)
}
