package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	MessagesSent       atomic.Int64 // signaling messages written to the relay
	MessagesRecv       atomic.Int64 // signaling messages read from the relay
	CandidatesBuffered atomic.Int64 // remote candidates parked before a remote description
	CandidatesApplied  atomic.Int64 // remote candidates accepted by the engine
	CandidatesFailed   atomic.Int64 // remote candidates rejected by the engine
	SessionsOpened     atomic.Int64 // peer sessions created since process start
	SessionsClosed     atomic.Int64 // peer sessions torn down since process start
}

func (s *stats) AddSent()          { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()          { s.MessagesRecv.Add(1) }
func (s *stats) AddBuffered()      { s.CandidatesBuffered.Add(1) }
func (s *stats) AddApplied()       { s.CandidatesApplied.Add(1) }
func (s *stats) AddFailed()        { s.CandidatesFailed.Add(1) }
func (s *stats) AddSessionOpened() { s.SessionsOpened.Add(1) }
func (s *stats) AddSessionClosed() { s.SessionsClosed.Add(1) }

// snapshot is a point-in-time copy of the counters.
type snapshot struct {
	sent, recv, buffered, applied, failed, opened, closed int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:     s.MessagesSent.Load(),
		recv:     s.MessagesRecv.Load(),
		buffered: s.CandidatesBuffered.Load(),
		applied:  s.CandidatesApplied.Load(),
		failed:   s.CandidatesFailed.Load(),
		opened:   s.SessionsOpened.Load(),
		closed:   s.SessionsClosed.Load(),
	}
}

func (a snapshot) sub(b snapshot) snapshot {
	return snapshot{
		sent:     a.sent - b.sent,
		recv:     a.recv - b.recv,
		buffered: a.buffered - b.buffered,
		applied:  a.applied - b.applied,
		failed:   a.failed - b.failed,
		opened:   a.opened - b.opened,
		closed:   a.closed - b.closed,
	}
}

func (a snapshot) empty() bool {
	return a == snapshot{}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if delta := cur.sub(prev); !delta.empty() {
					pterm.DefaultLogger.Info(formatStats(delta))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary of a counter delta for the logger.
func formatStats(d snapshot) string {
	return fmt.Sprintf("Msg: %3d↑ %3d↓ | Cand: %3d buffered %3d applied %3d failed | Sess: %2d↑ %2d↓",
		d.sent,
		d.recv,
		d.buffered,
		d.applied,
		d.failed,
		d.opened,
		d.closed,
	)
}
