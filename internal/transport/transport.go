// Package transport is the pion/webrtc connection engine behind a call
// session.
package transport

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/util"
)

// ErrNoTracks is returned by CreateOffer when no outbound track is attached.
var ErrNoTracks = errors.New("no local media tracks attached")

// Options configures one Transport.
type Options struct {
	STUNServers []string
	StreamID    string // groups the local tracks on the remote side
	Audio       bool
	Video       bool
}

// Transport wraps a single PeerConnection and its outbound tracks. It
// implements the connection-engine contract the session negotiator drives.
//
// Its lifecycle ends with Close; the PeerConnection state is recorded for
// callers but does not close the Transport by itself.
type Transport struct {
	pc     *webrtc.PeerConnection
	tracks []*webrtc.TrackLocalStaticSample

	mu      sync.RWMutex
	pcState webrtc.PeerConnectionState
	onState func(webrtc.PeerConnectionState)
}

// New creates a Transport backed by a new PeerConnection with the requested
// local tracks already added.
func New(opts Options) (*Transport, error) {
	pc, err := newPeerConnection(opts.STUNServers)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	streamID := opts.StreamID
	if streamID == "" {
		streamID = "p2pcall"
	}
	tracks, err := newLocalTracks(streamID, opts.Audio, opts.Video)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create local tracks: %w", err)
	}
	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
	}

	t := &Transport{
		pc:      pc,
		tracks:  tracks,
		pcState: webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		t.mu.Lock()
		t.pcState = state
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})

	return t, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close shuts down the PeerConnection.
func (t *Transport) Close() error {
	return t.pc.Close()
}

// ConnectionState returns the last observed PeerConnection state.
func (t *Transport) ConnectionState() webrtc.PeerConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pcState
}

// LocalTracks returns the outbound tracks so a media source can write
// samples into them.
func (t *Transport) LocalTracks() []*webrtc.TrackLocalStaticSample {
	return t.tracks
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer covering the local tracks.
func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	if len(t.tracks) == 0 {
		return webrtc.SessionDescription{}, ErrNoTracks
	}
	return t.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (t *Transport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP, including rollbacks.
func (t *Transport) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetLocalDescription(sdp)
}

// SetRemoteDescription applies the remote SDP, including rollbacks.
func (t *Transport) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(sdp)
}

// OnICECandidate registers a callback invoked for every locally gathered
// candidate. The nil end-of-gathering marker is swallowed.
func (t *Transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ICE gathering complete")
			return
		}
		fn(c.ToJSON())
	})
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (t *Transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

// OnTrack registers a callback invoked when the remote side's media arrives.
func (t *Transport) OnTrack(fn func(*webrtc.TrackRemote)) {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

// OnConnectionStateChange registers a callback invoked after the recorded
// state is updated.
func (t *Transport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}
