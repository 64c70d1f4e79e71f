// Package app wires the relay connection, the session registry, and the
// pion transport into one call.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/session"
	"github.com/1ureka/p2pcall/internal/signaling"
	"github.com/1ureka/p2pcall/internal/transport"
	"github.com/1ureka/p2pcall/internal/util"
)

// ErrCallSetupTimeout is returned when the call does not reach the Stable
// state within Config.SetupTimeout.
var ErrCallSetupTimeout = errors.New("call setup timed out")

// Run joins the relay room named by cfg.RelayURL and drives a single call:
//  1. Connect to the relay
//  2. Start the signaling read loop, routing messages by session ID
//  3. Send an offer (cfg.Initiate) or wait for the other side's offer
//  4. Supervise the call until it ends or ctx is cancelled
//
// Incoming calls are accepted automatically.
func Run(ctx context.Context, cfg config.Config) error {
	return run(ctx, cfg, hooks{})
}

// hooks lets tests watch a run. Both fields are optional.
type hooks struct {
	observe     func(session.Event) // sees every session event
	beforeStart func()              // runs once the read loop is up
}

func run(ctx context.Context, cfg config.Config, h hooks) error {
	// ── 1. Connect to the relay ────────────────────────────────────────
	gw, err := signaling.Dial(ctx, cfg.RelayURL)
	if err != nil {
		return err
	}
	defer gw.Close()
	util.LogInfo("connected to relay: %s", cfg.RelayURL)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slot := newCallSlot()
	reg := session.NewRegistry(session.RegistryConfig{
		Polite:     cfg.Role.Polite(),
		NewEngine:  engineFactory(cfg),
		Sender:     gw,
		SingleCall: true,
		OnSession:  slot.offer,
	})
	defer reg.CloseAll()

	// ── 2. Signaling read loop ─────────────────────────────────────────
	readErr := make(chan error, 1)
	go func() {
		err := gw.Run(ctx, func(msg signaling.Message) {
			if err := reg.Dispatch(ctx, msg); err != nil && !errors.Is(err, session.ErrSessionClosed) {
				util.LogWarning("[%s] dispatch %s: %v", util.ShortID(msg.SessionID), msg.Type, err)
			}
		})
		if ctx.Err() != nil {
			err = nil
		}
		readErr <- err
	}()

	// ── 3. Offer or wait ───────────────────────────────────────────────
	if h.beforeStart != nil {
		h.beforeStart()
	}
	if cfg.Initiate {
		_, err := reg.Start(ctx)
		switch {
		case errors.Is(err, session.ErrCallInProgress):
			util.LogInfo("the other side called first, answering")
		case err != nil:
			return fmt.Errorf("start call: %w", err)
		}
	} else {
		util.LogInfo("waiting for an incoming call...")
	}

	var s *session.PeerSession
	select {
	case s = <-slot.accepted:
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return nil
	}

	// ── 4. Supervise ───────────────────────────────────────────────────
	return supervise(ctx, s, cfg.SetupTimeout, readErr, h.observe)
}

// callSlot admits the first session of a run and tears down every later one.
type callSlot struct {
	taken    atomic.Bool
	accepted chan *session.PeerSession
}

func newCallSlot() *callSlot {
	return &callSlot{accepted: make(chan *session.PeerSession, 1)}
}

// offer is the registry's OnSession hook. It never blocks.
func (c *callSlot) offer(s *session.PeerSession) {
	if c.taken.CompareAndSwap(false, true) {
		c.accepted <- s
		return
	}
	util.LogWarning("[%s] rejecting second call", util.ShortID(s.ID()))
	s.Teardown()
}

// engineFactory builds one pion transport per session with both local tracks.
func engineFactory(cfg config.Config) session.EngineFactory {
	return func() (session.Engine, error) {
		t, err := transport.New(transport.Options{
			STUNServers: cfg.STUNServers,
			Audio:       true,
			Video:       true,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

// supervise logs the session's events and returns once it ends. A session
// that has not reached Stable before timeout is torn down.
func supervise(ctx context.Context, s *session.PeerSession, timeout time.Duration,
	readErr <-chan error, observe func(session.Event)) error {

	id := util.ShortID(s.ID())
	role := "impolite"
	if s.Polite() {
		role = "polite"
	}
	util.LogInfo("[%s] call session started (%s)", id, role)

	var setup <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		setup = timer.C
	}

	var failure error
	for {
		select {
		case ev := <-s.Events():
			if observe != nil {
				observe(ev)
			}
			// A polite session that resolved glare carries the remote id.
			id = util.ShortID(ev.SessionID)
			switch ev.Type {
			case session.EventStateChanged:
				util.LogInfo("[%s] signaling state: %s", id, ev.State)
				if ev.State == session.StateStable {
					setup = nil
				}
			case session.EventIncomingCall:
				util.LogInfo("[%s] incoming call, accepting", id)
			case session.EventRemoteTrack:
				util.LogInfo("[%s] remote %s track (%s)", id, ev.Track.Kind(), ev.Track.Codec().MimeType)
				go drainTrack(s.ID(), ev.Track)
			case session.EventConnectionState:
				util.LogInfo("[%s] connection state: %s", id, ev.Connection)
				if ev.Connection == webrtc.PeerConnectionStateConnected {
					util.LogSuccess("[%s] call connected", id)
				}
			case session.EventCallFailed:
				util.LogError("[%s] call failed: %v", id, ev.Err)
				failure = ev.Err
			}

		case <-setup:
			util.LogError("[%s] call not established within %s", id, timeout)
			s.Teardown()
			return ErrCallSetupTimeout

		case <-s.Done():
			util.LogInfo("[%s] call ended", id)
			if failure != nil {
				return fmt.Errorf("call failed: %w", failure)
			}
			return nil

		case err := <-readErr:
			s.Teardown()
			return err

		case <-ctx.Done():
			s.Teardown()
			return nil
		}
	}
}

// drainTrack reads RTP packets off a remote track until it ends so the
// engine's receive buffers never fill.
func drainTrack(sessionID string, track *webrtc.TrackRemote) {
	var packets int
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			util.LogDebug("[%s] remote %s track ended after %d packets", util.ShortID(sessionID), track.Kind(), packets)
			return
		}
		packets++
	}
}
