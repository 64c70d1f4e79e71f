package session

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/p2pcall/internal/signaling"
)

func newTestSession(t *testing.T, id string, polite bool) (*PeerSession, *fakeEngine, *fakeSender) {
	t.Helper()
	engine := newFakeEngine(id)
	sender := &fakeSender{}
	s := NewPeerSession(Config{ID: id, Polite: polite, Engine: engine, Sender: sender})
	t.Cleanup(func() { s.Teardown() })
	return s, engine, sender
}

// nextEvent waits for the next event of type want, skipping others.
func nextEvent(t *testing.T, s *PeerSession, want EventType) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestPeerSessionPublishesIncomingCall(t *testing.T) {
	ctx := testContext(t)
	s, _, sender := newTestSession(t, "b", false)

	require.NoError(t, s.Dispatch(ctx, signaling.Offer("b", "offer from a")))

	ev := nextEvent(t, s, EventIncomingCall)
	assert.Equal(t, "b", ev.SessionID)
	assert.Equal(t, StateStable, nextEvent(t, s, EventStateChanged).State)
	assert.Equal(t, StateStable, s.State())
	assert.Len(t, sender.ofType(signaling.TypeAnswer), 1)
}

func TestPeerSessionForwardsEngineCallbacks(t *testing.T) {
	s, engine, sender := newTestSession(t, "a", false)

	engine.onCandidate(webrtc.ICECandidateInit{Candidate: "host"})
	engine.onTrack(nil)
	engine.onState(webrtc.PeerConnectionStateConnected)

	assert.Len(t, sender.ofType(signaling.TypeCandidate), 1)
	assert.Equal(t, EventRemoteTrack, nextEvent(t, s, EventRemoteTrack).Type)
	assert.Equal(t, webrtc.PeerConnectionStateConnected, nextEvent(t, s, EventConnectionState).Connection)
}

func TestPeerSessionTearsDownOnConnectionFailure(t *testing.T) {
	s, engine, _ := newTestSession(t, "a", false)

	engine.onState(webrtc.PeerConnectionStateFailed)

	ev := nextEvent(t, s, EventCallFailed)
	assert.ErrorIs(t, ev.Err, ErrConnectionFailed)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not torn down")
	}
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, engine.closes())
}

func TestPeerSessionReportsCallFailedOnce(t *testing.T) {
	ctx := testContext(t)
	s, engine, _ := newTestSession(t, "a", false)
	engine.failOn["create-offer"] = errInjected

	require.Error(t, s.InitiateCall(ctx))
	engine.onState(webrtc.PeerConnectionStateFailed)
	<-s.Done()

	failures := 0
	for {
		select {
		case ev := <-s.Events():
			if ev.Type == EventCallFailed {
				failures++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, failures)
}

func TestPeerSessionBuffersUntilOffer(t *testing.T) {
	ctx := testContext(t)
	s, engine, _ := newTestSession(t, "b", false)

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, s.Dispatch(ctx, signaling.Candidate("b", candidate(c))))
	}
	assert.Equal(t, 3, s.PendingCandidates())
	assert.Empty(t, engine.applied())

	require.NoError(t, s.Dispatch(ctx, signaling.Offer("b", "offer")))

	assert.Equal(t, 0, s.PendingCandidates())
	assert.Equal(t, []string{"c1", "c2", "c3"}, engine.applied())
}
