// Package soundcloud drives the stream-backed provider: tracks play through
// the local media element from hub-proxied HTTP streams, and track end is the
// element's native end-of-file signal rather than an inference.
package soundcloud

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JanekDr/music-hub/internal/adapter"
	"github.com/JanekDr/music-hub/internal/catalog"
	"github.com/JanekDr/music-hub/internal/player"
)

// mediaController is the slice of player.Controller the driver needs.
type mediaController interface {
	Load(url string, headers map[string]string) error
	SetPause(paused bool) error
	SetVolume(vol float64) error
	Unload() error
	Events() <-chan player.Event
}

// streamResolver resolves hub stream URLs and display metadata for track ids.
// *hub.Client satisfies it.
type streamResolver interface {
	SoundCloudStreamURL(trackID string) string
	SoundCloudTrackInfo(ctx context.Context, trackID string) (catalog.Track, error)
}

// CurrentEntryFunc resolves the queue entry under the cursor.
type CurrentEntryFunc func() (catalog.QueueEntry, bool)

// Adapter implements adapter.Adapter over the media element.
type Adapter struct {
	media    mediaController
	hub      streamResolver
	logger   *slog.Logger
	current  CurrentEntryFunc
	listener adapter.Listener

	mu      sync.Mutex
	state   adapter.State
	session adapter.Session
	loaded  bool
	started bool
	// fetched dedupes lazy metadata lookups by track id.
	fetched map[string]bool
}

func New(media mediaController, hub streamResolver, current CurrentEntryFunc, listener adapter.Listener, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		media:    media,
		hub:      hub,
		logger:   logger,
		current:  current,
		listener: listener,
		state:    adapter.StateUninitialized,
		fetched:  make(map[string]bool),
	}
}

func (a *Adapter) Platform() catalog.Platform { return catalog.PlatformSoundCloud }

func (a *Adapter) State() adapter.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize starts the event loop. The stream backend needs no credential
// or device, so the driver is immediately ready.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.state = adapter.StateReady
	a.mu.Unlock()

	go a.eventLoop()
	a.listener.ReadyChanged(catalog.PlatformSoundCloud, true)
	return nil
}

// Activate is a no-op: the media element has no handoff protocol.
func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	if a.state == adapter.StateStopped {
		a.state = adapter.StateReady
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) eventLoop() {
	for ev := range a.media.Events() {
		if ev.Err != nil {
			a.logger.Warn("media element error", slog.Any("err", ev.Err))
			continue
		}
		if ev.EndReason != "" {
			a.handleEndFile(ev)
			continue
		}
		a.handleProperty(ev)
	}
}

func (a *Adapter) handleEndFile(ev player.Event) {
	// Unload emits reason "stop"; only "eof" is a natural track end.
	if !ev.Ended {
		return
	}
	a.mu.Lock()
	a.loaded = false
	a.session = adapter.Session{}
	if a.state.Active() {
		a.state = adapter.StateReady
	}
	a.mu.Unlock()
	a.listener.TrackEnded(catalog.PlatformSoundCloud)
}

func (a *Adapter) handleProperty(ev player.Event) {
	a.mu.Lock()
	changed := false
	if ev.TimePos != nil {
		a.session.PositionMs = int(*ev.TimePos * 1000)
		changed = true
	}
	if ev.Duration != nil {
		a.session.DurationMs = int(*ev.Duration * 1000)
		changed = true
	}
	if ev.Paused != nil && a.state.Active() {
		a.session.Playing = !*ev.Paused
		if *ev.Paused {
			a.state = adapter.StatePaused
		} else {
			a.state = adapter.StatePlaying
		}
		changed = true
	}
	snap := a.session
	a.mu.Unlock()
	if changed {
		a.listener.StateChanged(catalog.PlatformSoundCloud, snap)
	}
}

// PlayCurrent streams the queue entry under the cursor and kicks off the
// lazy metadata fetch for it.
func (a *Adapter) PlayCurrent(ctx context.Context) error {
	entry, ok := a.current()
	if !ok {
		return catalog.ErrNotFound
	}
	if err := a.load(a.hub.SoundCloudStreamURL(entry.Track.ID)); err != nil {
		return err
	}
	a.maybeFetchInfo(entry.Track)
	return nil
}

// PlayURIs loads the first URI. Bare track ids are resolved through the hub
// stream proxy.
func (a *Adapter) PlayURIs(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	u := uris[0]
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = a.hub.SoundCloudStreamURL(u)
	}
	return a.load(u)
}

func (a *Adapter) load(url string) error {
	if err := a.media.Load(url, nil); err != nil {
		return err
	}
	a.mu.Lock()
	a.loaded = true
	a.state = adapter.StatePlaying
	a.session = adapter.Session{Playing: true}
	a.mu.Unlock()
	return nil
}

// maybeFetchInfo resolves display metadata in the background, once per track
// id. Queue entries for this provider often carry only the track id.
func (a *Adapter) maybeFetchInfo(t catalog.Track) {
	a.mu.Lock()
	if a.fetched[t.ID] {
		a.mu.Unlock()
		return
	}
	a.fetched[t.ID] = true
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		full, err := a.hub.SoundCloudTrackInfo(ctx, t.ID)
		if err != nil {
			a.logger.Debug("track metadata fetch failed", slog.String("track", t.ID), slog.Any("err", err))
			a.mu.Lock()
			delete(a.fetched, t.ID)
			a.mu.Unlock()
			return
		}
		a.listener.TrackInfoChanged(catalog.PlatformSoundCloud, adapter.TrackInfo{
			TrackID:    full.ID,
			Title:      full.Title,
			Artist:     full.Artist,
			ArtworkURL: full.ArtworkURL,
		})
	}()
}

func (a *Adapter) Pause(ctx context.Context) error {
	a.mu.Lock()
	if a.state != adapter.StatePlaying {
		a.mu.Unlock()
		return adapter.ErrInvalidState
	}
	a.mu.Unlock()
	if err := a.media.SetPause(true); err != nil {
		return err
	}
	a.setState(adapter.StatePaused)
	return nil
}

// Resume unpauses, or starts the current queue entry when nothing is loaded.
func (a *Adapter) Resume(ctx context.Context) error {
	a.mu.Lock()
	loaded := a.loaded
	a.mu.Unlock()
	if !loaded {
		return a.PlayCurrent(ctx)
	}
	if err := a.media.SetPause(false); err != nil {
		return err
	}
	a.setState(adapter.StatePlaying)
	return nil
}

// Stop unloads the current source. The resulting end-file event carries
// reason "stop" and is not reported as a track end.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	wasLoaded := a.loaded
	a.loaded = false
	a.state = adapter.StateStopped
	a.session = adapter.Session{}
	a.mu.Unlock()
	if !wasLoaded {
		return nil
	}
	return a.media.Unload()
}

func (a *Adapter) SetVolume(ctx context.Context, v float64) error {
	return a.media.SetVolume(adapter.ClampVolume(v) * 100)
}

func (a *Adapter) setState(s adapter.State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}
