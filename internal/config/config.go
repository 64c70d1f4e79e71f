// Package config holds the CLI configuration types.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Mode selects what the process runs.
type Mode string

const (
	ModeCall  Mode = "call"  // join a relay room and negotiate a call
	ModeRelay Mode = "relay" // run the two-party signaling relay
)

// Role is the fixed glare tie-break role agreed by both participants.
// Exactly one side of a call must be polite.
type Role string

const (
	RolePolite   Role = "polite"
	RoleImpolite Role = "impolite"
)

// Polite reports whether the role yields its own offer on glare.
func (r Role) Polite() bool { return r == RolePolite }

// DefaultSTUNServers is used when neither a flag nor P2PCALL_STUN is set.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// Config stores all parameters gathered from flags, environment, or the
// interactive prompts.
type Config struct {
	Mode Mode

	// Call mode.
	Role         Role
	RelayURL     string        // e.g. ws://127.0.0.1:8080/ws/room-1
	Initiate     bool          // send the first offer instead of waiting for one
	STUNServers  []string      // ICE servers handed to the connection engine
	SetupTimeout time.Duration // tear the call down if not stable in time

	// Relay mode.
	ListenAddr string
}

// Default returns a Config seeded from the environment.
func Default() Config {
	return Config{
		Mode:         ModeCall,
		Role:         RoleImpolite,
		RelayURL:     GetEnv("P2PCALL_RELAY", ""),
		STUNServers:  SplitList(GetEnv("P2PCALL_STUN", strings.Join(DefaultSTUNServers, ","))),
		SetupTimeout: 30 * time.Second,
		ListenAddr:   GetEnv("P2PCALL_LISTEN", ":8080"),
	}
}

// Validate checks the fields required by the selected mode.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeRelay:
		if c.ListenAddr == "" {
			return errors.New("missing listen address for relay mode")
		}
		return nil

	case ModeCall:
		if c.Role != RolePolite && c.Role != RoleImpolite {
			return fmt.Errorf("invalid role %q: must be 'polite' or 'impolite'", c.Role)
		}
		if c.RelayURL == "" {
			return errors.New("missing relay URL for call mode")
		}
		u, err := url.Parse(c.RelayURL)
		if err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("invalid relay URL: %s", c.RelayURL)
		}
		if c.SetupTimeout <= 0 {
			return errors.New("setup timeout must be positive")
		}
		return nil

	default:
		return fmt.Errorf("invalid mode %q: must be 'call' or 'relay'", c.Mode)
	}
}

// GetEnv returns the environment value for key, or defaultValue when unset.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SplitList splits a comma-separated list, dropping empty entries.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
