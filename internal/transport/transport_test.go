package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/p2pcall/internal/session"
	"github.com/1ureka/p2pcall/internal/signaling"
)

// Compile-time interface check.
var _ session.Engine = (*Transport)(nil)

// pipe delivers messages to one session in order on its own goroutine, the
// way a relay read loop would. Nothing is delivered until gate is closed.
type pipe struct {
	ch chan signaling.Message
}

func newPipe(ctx context.Context, gate <-chan struct{}, to func() *session.PeerSession) *pipe {
	p := &pipe{ch: make(chan signaling.Message, 64)}
	go func() {
		select {
		case <-gate:
		case <-ctx.Done():
			return
		}
		for {
			select {
			case msg := <-p.ch:
				// Errors are reported through session events.
				_ = to().Dispatch(ctx, msg)
			case <-ctx.Done():
				return
			}
		}
	}()
	return p
}

func (p *pipe) Send(msg signaling.Message) error {
	p.ch <- msg
	return nil
}

func newTestTransport(t *testing.T) *Transport {
	t.Helper()
	tr, err := New(Options{Audio: true, Video: true})
	require.NoError(t, err)
	return tr
}

func waitForState(t *testing.T, s *session.PeerSession, want session.SignalingState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, 10*time.Second, 10*time.Millisecond,
		"session %s stuck in %s", s.ID(), s.State())
}

// linkedSessions builds two sessions whose outbound messages reach each other
// once gate is closed.
func linkedSessions(t *testing.T, gate <-chan struct{}, aPolite, bPolite bool) (a, b *session.PeerSession) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	toA := newPipe(ctx, gate, func() *session.PeerSession { return a })
	toB := newPipe(ctx, gate, func() *session.PeerSession { return b })

	a = session.NewPeerSession(session.Config{ID: "call", Polite: aPolite, Engine: newTestTransport(t), Sender: toB})
	b = session.NewPeerSession(session.Config{ID: "call", Polite: bPolite, Engine: newTestTransport(t), Sender: toA})
	t.Cleanup(func() {
		a.Teardown()
		b.Teardown()
	})
	return a, b
}

func TestOfferWithoutTracksFails(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.CreateOffer()
	assert.ErrorIs(t, err, ErrNoTracks)
}

func TestNewAddsRequestedTracks(t *testing.T) {
	tr, err := New(Options{Audio: true, StreamID: "s"})
	require.NoError(t, err)
	defer tr.Close()

	require.Len(t, tr.LocalTracks(), 1)
	assert.Equal(t, "audio", tr.LocalTracks()[0].ID())
	assert.Equal(t, "s", tr.LocalTracks()[0].StreamID())
}

func TestSessionsNegotiateOverPion(t *testing.T) {
	open := make(chan struct{})
	close(open)
	a, b := linkedSessions(t, open, false, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.InitiateCall(ctx))

	waitForState(t, a, session.StateStable)
	waitForState(t, b, session.StateStable)
}

func TestGlareResolvesOverPion(t *testing.T) {
	gate := make(chan struct{})
	a, b := linkedSessions(t, gate, true, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Both offers are committed before either is delivered.
	require.NoError(t, a.InitiateCall(ctx))
	require.NoError(t, b.InitiateCall(ctx))
	close(gate)

	waitForState(t, a, session.StateStable)
	waitForState(t, b, session.StateStable)
}
