// p2pcall — CLI entry point.
//
// This tool places a two-party audio/video call over WebRTC. Signaling goes
// through a small WebSocket relay, which the same binary can run with
// -mode relay.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-mode, -relay, -role, -initiate, -stun, -timeout, -listen).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/p2pcall/internal/app"
	"github.com/1ureka/p2pcall/internal/config"
	"github.com/1ureka/p2pcall/internal/relay"
	"github.com/1ureka/p2pcall/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	mode := flag.String("mode", "", "Mode: call or relay")
	role := flag.String("role", string(cfg.Role), "Glare role: polite or impolite (one side of a call must be polite)")
	relayURL := flag.String("relay", cfg.RelayURL, "Relay room URL, e.g. ws://127.0.0.1:8080/ws/room-1 (call only)")
	initiate := flag.Bool("initiate", false, "Send the first offer instead of waiting for one (call only)")
	stun := flag.String("stun", strings.Join(cfg.STUNServers, ","), "Comma-separated STUN server URLs (call only)")
	timeout := flag.Duration("timeout", cfg.SetupTimeout, "Give up if the call is not established in time (call only)")
	listen := flag.String("listen", cfg.ListenAddr, "Listen address (relay only)")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	stats := flag.Duration("stats", 5*time.Second, "Interval between signaling stats reports, 0 to disable")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("p2pcall — v%s", version))
	pterm.Println()

	if *mode == "" {
		// No -mode flag → interactive mode.
		cfg = askConfig(cfg)
	} else {
		cfg.Mode = config.Mode(*mode)
		cfg.Role = config.Role(*role)
		cfg.Initiate = *initiate
		cfg.STUNServers = config.SplitList(*stun)
		cfg.SetupTimeout = *timeout
		cfg.ListenAddr = *listen

		if cfg.Mode == config.ModeCall && *relayURL != "" {
			u, err := normalizeRelayURL(*relayURL)
			if err != nil {
				util.LogError("%v", err)
				os.Exit(1)
			}
			cfg.RelayURL = u
		}
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if *stats > 0 {
		util.StartStatsReporter(ctx, *stats)
	}

	switch cfg.Mode {
	case config.ModeRelay:
		runRelay(ctx, cfg)
	case config.ModeCall:
		runCall(ctx, cfg)
	}
}

// ---------------------------------------------------------------------------
// Run modes
// ---------------------------------------------------------------------------

// runRelay serves the signaling relay until Ctrl+C.
func runRelay(ctx context.Context, cfg config.Config) {
	srv := relay.NewServer()
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		util.LogError("relay stopped: %v", err)
		os.Exit(1)
	}
	util.LogInfo("relay shut down")
}

// runCall joins the relay room and runs one call to completion.
func runCall(ctx context.Context, cfg config.Config) {
	util.LogInfo("joining %s as %s", cfg.RelayURL, cfg.Role)

	err := app.Run(ctx, cfg)
	switch {
	case errors.Is(err, app.ErrCallSetupTimeout):
		util.LogError("no call established within %s", cfg.SetupTimeout)
		os.Exit(1)
	case err != nil:
		util.LogError("call ended with error: %v", err)
		os.Exit(1)
	}
	util.LogInfo("call closed")
}

// ---------------------------------------------------------------------------
// Helper Functions
// ---------------------------------------------------------------------------

// normalizeRelayURL validates a relay room URL, defaulting the scheme to wss.
func normalizeRelayURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid relay URL: %s", raw)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid relay URL scheme: %s", u.Scheme)
	}
	if !strings.HasPrefix(u.Path, "/ws/") || len(u.Path) <= len("/ws/") {
		return "", fmt.Errorf("relay URL must name a room, e.g. /ws/room-1: %s", raw)
	}
	return u.String(), nil
}

// askConfig falls back to interactive prompts when no -mode flag is provided.
func askConfig(cfg config.Config) config.Config {
	mode, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Call  — Join a room and start or answer a call", "Relay — Run the signaling relay"}).
		WithDefaultText("Select mode").
		Show()

	pterm.Println()

	if strings.HasPrefix(mode, "Relay") {
		cfg.Mode = config.ModeRelay
		return cfg
	}

	cfg.Mode = config.ModeCall
	cfg.RelayURL = askRelayURL()

	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{string(config.RoleImpolite), string(config.RolePolite)}).
		WithDefaultText("Glare role (the other side must pick the opposite)").
		Show()
	cfg.Role = config.Role(role)
	pterm.Println()

	cfg.Initiate, _ = pterm.DefaultInteractiveConfirm.
		WithDefaultText("Start the call now?").
		Show()
	pterm.Println()

	return cfg
}

// askRelayURL prompts the user for a valid relay room URL until one is entered.
func askRelayURL() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Relay room URL (e.g. ws://127.0.0.1:8080/ws/room-1)").
			Show()

		u, err := normalizeRelayURL(raw)
		if err == nil {
			pterm.Println()
			return u
		}

		pterm.Println()
		util.LogWarning("invalid input: %v", err)
	}
}
