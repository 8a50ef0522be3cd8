// Package adapter defines the capability contract every provider-specific
// playback driver implements, so the orchestrator and UI never branch on
// provider internals.
package adapter

import (
	"context"
	"errors"

	"github.com/JanekDr/music-hub/internal/catalog"
)

// State is the explicit lifecycle state of a driver. Each driver uses the
// subset that makes sense for its backend; transitions out of the subset are
// rejected with ErrInvalidState rather than silently ignored.
type State int

const (
	StateUninitialized State = iota
	StateAwaitingCredential
	StateAwaitingDevice
	StateReady
	StatePlaying
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateAwaitingDevice:
		return "awaiting_device"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Active reports whether the driver currently owns the audio resource.
// At most one driver may be active at any time.
func (s State) Active() bool { return s == StatePlaying || s == StatePaused }

var ErrInvalidState = errors.New("adapter: operation invalid in current state")

// Session is a point-in-time snapshot of a driver's playback state. It is
// emitted on every backend state change and is eventually consistent with
// commands issued by the orchestrator, never a command itself.
type Session struct {
	Playing    bool
	PositionMs int
	DurationMs int
}

// Progress returns playback progress in [0,1].
func (s Session) Progress() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	p := float64(s.PositionMs) / float64(s.DurationMs)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// TrackInfo is display metadata resolved lazily by a driver for providers
// whose queue-held Track is not reliably populated.
type TrackInfo struct {
	TrackID    string
	Title      string
	Artist     string
	ArtworkURL string
}

// Listener receives a driver's side-channel events. Calls arrive on driver
// goroutines at arbitrary times relative to issued commands; implementations
// must be safe for concurrent use.
type Listener interface {
	// StateChanged delivers a fresh session snapshot.
	StateChanged(p catalog.Platform, s Session)
	// TrackEnded fires exactly once per naturally finished track.
	TrackEnded(p catalog.Platform)
	// TrackInfoChanged delivers lazily resolved display metadata,
	// deduplicated by track id.
	TrackInfoChanged(p catalog.Platform, info TrackInfo)
	// ReadyChanged reports the driver becoming able (or unable) to accept
	// playback commands.
	ReadyChanged(p catalog.Platform, ready bool)
}

// Adapter is the unified driver contract.
//
// Initialize is idempotent and must no-op (not fail) when prerequisite
// credentials are absent. Stop fully releases the playback resource; the
// orchestrator always stops the outgoing driver before activating another so
// two drivers never play concurrently.
type Adapter interface {
	Platform() catalog.Platform

	Initialize(ctx context.Context) error
	// Activate prepares the driver to receive playback after a handoff
	// (device transfer for the SDK-backed driver, no-op otherwise).
	Activate(ctx context.Context) error

	PlayCurrent(ctx context.Context) error
	PlayURIs(ctx context.Context, uris []string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	// SetVolume clamps v to [0,1].
	SetVolume(ctx context.Context, v float64) error

	State() State
}

// ClampVolume clamps v to the unified [0,1] volume range.
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
