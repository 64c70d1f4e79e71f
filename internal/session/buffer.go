package session

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// CandidateBuffer parks remote ICE candidates that arrive before the remote
// description is committed, and replays them in arrival order once it is.
type CandidateBuffer struct {
	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	closed  bool
}

// NewCandidateBuffer creates an empty, open buffer.
func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Append queues a candidate. It only fails after Close.
func (b *CandidateBuffer) Append(c webrtc.ICECandidateInit) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrSessionClosed
	}
	b.pending = append(b.pending, c)
	util.Stats.AddBuffered()
	return nil
}

// Flush applies every queued candidate to a in arrival order and empties the
// buffer. A candidate the engine refuses is logged and skipped; the rest are
// still applied. It returns the number applied and one
// *CandidateApplicationError per refusal. Flushing an empty buffer is a no-op.
func (b *CandidateBuffer) Flush(a CandidateApplier) (int, []error) {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	applied := 0
	var failures []error
	for _, c := range batch {
		if err := a.AddICECandidate(c); err != nil {
			failure := &CandidateApplicationError{Candidate: c.Candidate, Err: err}
			util.LogWarning("%v", failure)
			util.Stats.AddFailed()
			failures = append(failures, failure)
			continue
		}
		util.Stats.AddApplied()
		applied++
	}
	return applied, failures
}

// Len reports how many candidates are waiting.
func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close discards every queued candidate and refuses further appends.
func (b *CandidateBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.closed = true
}
