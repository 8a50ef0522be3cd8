// Package spotify drives the SDK-backed provider through its remote control
// surface. The backend exposes no discrete track-end event, only periodic
// player-state snapshots, so end-of-track is inferred by comparing
// consecutive snapshots.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/JanekDr/music-hub/internal/adapter"
	"github.com/JanekDr/music-hub/internal/auth"
	"github.com/JanekDr/music-hub/internal/catalog"
)

const defaultAPIBaseURL = "https://api.spotify.com/v1"

// Config configures the driver.
type Config struct {
	// APIBaseURL overrides the control surface base URL (tests).
	APIBaseURL string
	Tokens     auth.Source
	HTTPClient *http.Client
	Logger     *slog.Logger
	// DeviceName selects the playback device by name; empty picks the
	// first device the provider reports.
	DeviceName string
	// PollInterval is the session snapshot cadence.
	PollInterval time.Duration
	// TransferSettle bounds how long Activate waits for the remote device
	// to confirm control transfer.
	TransferSettle time.Duration
}

// CurrentEntryFunc resolves the queue entry under the cursor. Injected so
// the driver does not depend on the orchestrator.
type CurrentEntryFunc func() (catalog.QueueEntry, bool)

// Adapter implements adapter.Adapter for the SDK-backed provider.
type Adapter struct {
	cfg      Config
	client   *http.Client
	listener adapter.Listener
	current  CurrentEntryFunc

	mu          sync.Mutex
	state       adapter.State
	deviceID    string
	transferred bool
	lastSnap    *playerState
	lastInfoID  string
	pollStop    chan struct{}
	polling     bool
}

func New(cfg Config, current CurrentEntryFunc, listener adapter.Listener) *Adapter {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.TransferSettle <= 0 {
		cfg.TransferSettle = 700 * time.Millisecond
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	return &Adapter{
		cfg:      cfg,
		client:   client,
		listener: listener,
		current:  current,
		state:    adapter.StateUninitialized,
	}
}

func (a *Adapter) Platform() catalog.Platform { return catalog.PlatformSpotify }

func (a *Adapter) State() adapter.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Initialize is idempotent and cheap to re-call. Without a credential it
// parks in AwaitingCredential and returns nil; the orchestrator re-invokes it
// before every dispatch, so the session loop starts as soon as the account is
// connected in the hub. With a credential it starts the session loop that
// discovers the device handle and polls state snapshots.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	if a.polling {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	if _, err := a.cfg.Tokens.Token(ctx); err != nil {
		a.mu.Lock()
		a.state = adapter.StateAwaitingCredential
		a.mu.Unlock()
		a.cfg.Logger.Debug("spotify adapter waiting for credential")
		return nil
	}

	a.mu.Lock()
	a.state = adapter.StateAwaitingDevice
	a.pollStop = make(chan struct{})
	a.polling = true
	stop := a.pollStop
	a.mu.Unlock()

	go a.sessionLoop(stop)
	return nil
}

// Close stops the session loop.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.polling {
		close(a.pollStop)
		a.polling = false
	}
}

// sessionLoop stands in for the provider's embedded SDK: it discovers the
// device handle (the "ready" event) and then emits state snapshots (the
// "player_state_changed" events).
func (a *Adapter) sessionLoop(stop chan struct{}) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.PollInterval)
		a.mu.Lock()
		haveDevice := a.deviceID != ""
		a.mu.Unlock()

		if !haveDevice {
			a.discoverDevice(ctx)
		} else {
			a.pollState(ctx)
		}
		cancel()
	}
}

func (a *Adapter) discoverDevice(ctx context.Context) {
	var r struct {
		Devices []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"devices"`
	}
	if err := a.doAPI(ctx, http.MethodGet, "/me/player/devices", nil, nil, &r); err != nil {
		a.cfg.Logger.Debug("device discovery failed", slog.Any("err", err))
		return
	}
	for _, d := range r.Devices {
		if d.ID == "" {
			continue
		}
		if a.cfg.DeviceName != "" && d.Name != a.cfg.DeviceName {
			continue
		}
		a.mu.Lock()
		a.deviceID = d.ID
		if a.state == adapter.StateAwaitingDevice || a.state == adapter.StateAwaitingCredential {
			a.state = adapter.StateReady
		}
		a.mu.Unlock()
		a.cfg.Logger.Info("playback device registered", slog.String("device", d.ID))
		a.listener.ReadyChanged(catalog.PlatformSpotify, true)
		return
	}
}

// playerState is the provider's session snapshot.
type playerState struct {
	Device struct {
		ID       string `json:"id"`
		IsActive bool   `json:"is_active"`
	} `json:"device"`
	IsPlaying  bool `json:"is_playing"`
	ProgressMs int  `json:"progress_ms"`
	Item       struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		DurationMs int    `json:"duration_ms"`
		URI        string `json:"uri"`
		Artists    []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name   string `json:"name"`
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
		} `json:"album"`
	} `json:"item"`
}

func (a *Adapter) pollState(ctx context.Context) {
	var snap playerState
	if err := a.doAPI(ctx, http.MethodGet, "/me/player", nil, nil, &snap); err != nil {
		a.cfg.Logger.Debug("state poll failed", slog.Any("err", err))
		return
	}
	a.handleSnapshot(snap)
}

// handleSnapshot updates the session, reports metadata changes, and runs the
// end-of-track inference against the previous snapshot. The heuristic:
// previously playing, now paused at position 0 with the same track duration.
// A user who manually seeks to 0 and pauses within one poll interval
// produces a false positive; the remote surface offers nothing better.
func (a *Adapter) handleSnapshot(snap playerState) {
	a.mu.Lock()
	prev := a.lastSnap
	a.lastSnap = &snap
	ended := false
	if prev != nil && a.state.Active() &&
		prev.IsPlaying && !snap.IsPlaying &&
		snap.ProgressMs == 0 &&
		snap.Item.DurationMs == prev.Item.DurationMs {
		ended = true
		a.state = adapter.StateReady
	} else if a.state.Active() {
		if snap.IsPlaying {
			a.state = adapter.StatePlaying
		} else {
			a.state = adapter.StatePaused
		}
	}
	infoChanged := snap.Item.ID != "" && snap.Item.ID != a.lastInfoID
	if infoChanged {
		a.lastInfoID = snap.Item.ID
	}
	a.mu.Unlock()

	a.listener.StateChanged(catalog.PlatformSpotify, adapter.Session{
		Playing:    snap.IsPlaying && !ended,
		PositionMs: snap.ProgressMs,
		DurationMs: snap.Item.DurationMs,
	})
	if infoChanged {
		artist := ""
		if len(snap.Item.Artists) > 0 {
			artist = snap.Item.Artists[0].Name
		}
		artwork := ""
		if len(snap.Item.Album.Images) > 0 {
			artwork = snap.Item.Album.Images[0].URL
		}
		a.listener.TrackInfoChanged(catalog.PlatformSpotify, adapter.TrackInfo{
			TrackID:    snap.Item.ID,
			Title:      snap.Item.Name,
			Artist:     artist,
			ArtworkURL: artwork,
		})
	}
	if ended {
		a.listener.TrackEnded(catalog.PlatformSpotify)
	}
}

// Activate transfers playback control to our device handle and confirms the
// transfer by polling the snapshot endpoint within the settle budget. The
// remote device needs time to accept control; confirmation is polled rather
// than hard-slept.
func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	device := a.deviceID
	already := a.transferred
	a.mu.Unlock()
	if device == "" {
		return catalog.ErrDeviceNotReady
	}
	if already {
		return nil
	}

	body := map[string]any{"device_ids": []string{device}, "play": false}
	if err := a.doAPI(ctx, http.MethodPut, "/me/player", nil, body, nil); err != nil {
		return fmt.Errorf("transfer playback: %w", err)
	}

	deadline := time.Now().Add(a.cfg.TransferSettle)
	step := a.cfg.TransferSettle / 7
	if step <= 0 {
		step = 100 * time.Millisecond
	}
	for time.Now().Before(deadline) {
		var snap playerState
		if err := a.doAPI(ctx, http.MethodGet, "/me/player", nil, nil, &snap); err == nil {
			if snap.Device.ID == device && snap.Device.IsActive {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}

	a.mu.Lock()
	a.transferred = true
	if a.state == adapter.StateStopped || a.state == adapter.StateAwaitingDevice {
		a.state = adapter.StateReady
	}
	a.mu.Unlock()
	return nil
}

// PlayCurrent plays the queue entry under the cursor.
func (a *Adapter) PlayCurrent(ctx context.Context) error {
	entry, ok := a.current()
	if !ok {
		return queueEmptyErr
	}
	return a.PlayURIs(ctx, []string{entry.Track.SourceURI})
}

// PlayURIs issues the play command for the given source URIs. Commands
// arriving before a device handle exists are dropped, not queued; the caller
// re-issues once the driver reports ready.
func (a *Adapter) PlayURIs(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	device, err := a.requireDevice()
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("device_id", device)
	body := map[string]any{"uris": uris}
	if err := a.doAPI(ctx, http.MethodPut, "/me/player/play", q, body, nil); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	a.setState(adapter.StatePlaying)
	return nil
}

func (a *Adapter) Pause(ctx context.Context) error {
	a.mu.Lock()
	if a.state != adapter.StatePlaying {
		a.mu.Unlock()
		return adapter.ErrInvalidState
	}
	a.mu.Unlock()
	device, err := a.requireDevice()
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("device_id", device)
	if err := a.doAPI(ctx, http.MethodPut, "/me/player/pause", q, nil, nil); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	a.setState(adapter.StatePaused)
	return nil
}

func (a *Adapter) Resume(ctx context.Context) error {
	device, err := a.requireDevice()
	if err != nil {
		return err
	}
	a.mu.Lock()
	resumable := a.state == adapter.StatePaused
	a.mu.Unlock()
	if !resumable {
		// Nothing loaded on the remote device yet; start from the queue.
		return a.PlayCurrent(ctx)
	}
	q := url.Values{}
	q.Set("device_id", device)
	if err := a.doAPI(ctx, http.MethodPut, "/me/player/play", q, nil, nil); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	a.setState(adapter.StatePlaying)
	return nil
}

// Stop releases the remote playback session so the other driver can take
// over. The control surface has no unload, so stop pauses and marks the
// transfer stale; the next Activate re-transfers control.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	active := a.state.Active()
	device := a.deviceID
	a.state = adapter.StateStopped
	a.transferred = false
	a.lastSnap = nil
	a.mu.Unlock()
	if !active || device == "" {
		return nil
	}
	q := url.Values{}
	q.Set("device_id", device)
	if err := a.doAPI(ctx, http.MethodPut, "/me/player/pause", q, nil, nil); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	return nil
}

func (a *Adapter) SetVolume(ctx context.Context, v float64) error {
	device, err := a.requireDevice()
	if err != nil {
		return err
	}
	v = adapter.ClampVolume(v)
	q := url.Values{}
	q.Set("device_id", device)
	q.Set("volume_percent", strconv.Itoa(int(v*100)))
	if err := a.doAPI(ctx, http.MethodPut, "/me/player/volume", q, nil, nil); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

func (a *Adapter) requireDevice() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == adapter.StateUninitialized || a.state == adapter.StateAwaitingCredential {
		return "", catalog.ErrCredentialMissing
	}
	if a.deviceID == "" {
		return "", catalog.ErrDeviceNotReady
	}
	return a.deviceID, nil
}

func (a *Adapter) setState(s adapter.State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// doAPI performs one control-surface call. The bearer credential is resolved
// at call time, never cached, since the hub rotates it.
func (a *Adapter) doAPI(ctx context.Context, method, path string, query url.Values, body, out any) error {
	token, err := a.cfg.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	u := a.cfg.APIBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return catalog.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return catalog.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return catalog.ErrRateLimited
	case resp.StatusCode >= 500:
		return catalog.ErrTemporary
	case resp.StatusCode >= 400:
		return fmt.Errorf("spotify: status %d", resp.StatusCode)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("spotify: decode: %w", err)
		}
	}
	return nil
}

var queueEmptyErr = fmt.Errorf("spotify: no current queue entry")
