// Package orchestrator owns the unified playback session: one queue, one
// transport surface, and a registry of provider drivers of which at most one
// is active at a time.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JanekDr/music-hub/internal/adapter"
	"github.com/JanekDr/music-hub/internal/catalog"
	"github.com/JanekDr/music-hub/internal/queue"
)

// State is the session-level playback state, independent of which driver is
// active.
type State int

const (
	NoSession State = iota
	SessionReady
	Playing
	Paused
	Ended
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no_session"
	case SessionReady:
		return "session_ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Ended:
		return "ended"
	default:
		return "unknown"
	}
}

// Event is pushed to the UI whenever the session changes. Fields other than
// State are filled when relevant.
type Event struct {
	State        State
	Platform     catalog.Platform
	Session      adapter.Session
	Info         *adapter.TrackInfo
	QueueChanged bool
	Ready        *bool
	Err          error
}

// hubQueue is the slice of the hub client used for queue persistence.
// A nil hubQueue runs the session offline against the local snapshot only.
type hubQueue interface {
	AddTrack(ctx context.Context, t catalog.Track) (string, error)
	AddToQueue(ctx context.Context, trackID string) (string, error)
	RemoveFromQueue(ctx context.Context, entryID string) error
	ReorderQueue(ctx context.Context, orderedEntryIDs []string) error
	ReplaceQueue(ctx context.Context, tracks []catalog.Track) ([]catalog.QueueEntry, error)
	GetQueue(ctx context.Context) ([]catalog.QueueEntry, error)
}

// snapshotStore is the local queue mirror. *queue.SnapshotStore satisfies it.
type snapshotStore interface {
	Save(ctx context.Context, q *queue.Queue) error
	Load(ctx context.Context) (queue.LoadResult, error)
}

type Options struct {
	Hub      hubQueue
	Store    snapshotStore
	Logger   *slog.Logger
	Volume   float64
	EventBuf int
}

// Orchestrator coordinates queue, drivers, and persistence. Command methods
// are serialized; listener callbacks arrive on driver goroutines.
type Orchestrator struct {
	hub    hubQueue
	store  snapshotStore
	logger *slog.Logger

	// cmdMu serializes commands so stop-before-start ordering holds across
	// a platform handoff.
	cmdMu sync.Mutex

	mu       sync.Mutex
	adapters map[catalog.Platform]adapter.Adapter
	queue    *queue.Queue
	state    State
	active   catalog.Platform
	session  adapter.Session
	volume   float64

	events chan Event
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventBuf <= 0 {
		opts.EventBuf = 64
	}
	vol := adapter.ClampVolume(opts.Volume)
	return &Orchestrator{
		hub:      opts.Hub,
		store:    opts.Store,
		logger:   opts.Logger,
		adapters: make(map[catalog.Platform]adapter.Adapter),
		queue:    queue.New(),
		state:    NoSession,
		volume:   vol,
		events:   make(chan Event, opts.EventBuf),
	}
}

// Register installs a driver for its platform.
func (o *Orchestrator) Register(a adapter.Adapter) {
	o.mu.Lock()
	o.adapters[a.Platform()] = a
	o.mu.Unlock()
}

// Events returns the UI event channel. Events are dropped, not blocked on,
// when the consumer lags.
func (o *Orchestrator) Events() <-chan Event { return o.events }

func (o *Orchestrator) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		o.logger.Debug("event dropped, consumer lagging")
	}
}

// CurrentEntry resolves the queue entry under the cursor. Wired into drivers
// as their queue accessor.
func (o *Orchestrator) CurrentEntry() (catalog.QueueEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, err := o.queue.Current()
	return e, err == nil
}

func (o *Orchestrator) Queue() []catalog.QueueEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Entries()
}

func (o *Orchestrator) CurrentIndex() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.CurrentIndex()
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) ActivePlatform() catalog.Platform {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

func (o *Orchestrator) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Restore loads the persisted queue, preferring the hub and falling back to
// the local snapshot when the hub is unreachable. Playback does not start.
func (o *Orchestrator) Restore(ctx context.Context) error {
	var entries []catalog.QueueEntry
	cursor := -1

	if o.hub != nil {
		got, err := o.hub.GetQueue(ctx)
		if err == nil {
			entries = got
		} else {
			o.logger.Warn("hub queue fetch failed, trying local snapshot", slog.Any("err", err))
		}
	}
	if entries == nil && o.store != nil {
		res, err := o.store.Load(ctx)
		if err != nil {
			return err
		}
		entries = res.Entries
		cursor = res.CurrentIndex
	}
	if len(entries) == 0 {
		return nil
	}

	o.mu.Lock()
	o.queue.ReplaceAll(entries)
	if cursor >= 0 {
		_ = o.queue.SetCurrent(cursor)
	}
	o.state = SessionReady
	o.mu.Unlock()

	o.emit(Event{State: SessionReady, QueueChanged: true})
	o.saveSnapshot()
	return nil
}

// Enqueue appends a track. The hub assigns the durable entry id; when it is
// unreachable the entry is kept locally under a provisional id and a warning
// logged, never rolled back.
func (o *Orchestrator) Enqueue(ctx context.Context, t catalog.Track) error {
	entryID := ""
	if o.hub != nil {
		trackID, err := o.hub.AddTrack(ctx, t)
		if err == nil {
			entryID, err = o.hub.AddToQueue(ctx, trackID)
		}
		if err != nil {
			o.logger.Warn("queue persistence failed, keeping local entry", slog.Any("err", err))
			entryID = ""
		}
	}
	if entryID == "" {
		entryID = uuid.NewString()
	}

	o.mu.Lock()
	o.queue.Append(catalog.QueueEntry{EntryID: entryID, Track: t})
	if o.state == NoSession || o.state == Ended {
		o.state = SessionReady
	}
	st := o.state
	o.mu.Unlock()

	o.emit(Event{State: st, QueueChanged: true})
	o.saveSnapshot()
	return nil
}

// PlayEntryAt moves the cursor to idx and starts playback there.
func (o *Orchestrator) PlayEntryAt(ctx context.Context, idx int) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	if err := o.queue.SetCurrent(idx); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()
	return o.playCurrent(ctx)
}

// Play starts (or restarts) playback of the entry under the cursor.
func (o *Orchestrator) Play(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()
	return o.playCurrent(ctx)
}

// playCurrent dispatches the current entry to its platform driver, stopping
// the outgoing driver first when the platform changes. Callers hold cmdMu.
func (o *Orchestrator) playCurrent(ctx context.Context) error {
	o.mu.Lock()
	entry, err := o.queue.Current()
	if err != nil {
		o.mu.Unlock()
		return err
	}
	target, ok := o.adapters[entry.Track.Platform]
	if !ok {
		o.mu.Unlock()
		o.logger.Error("no driver for platform", slog.String("platform", string(entry.Track.Platform)))
		return catalog.ErrNotFound
	}
	outgoing := adapter.Adapter(nil)
	if o.active != "" && o.active != entry.Track.Platform {
		outgoing = o.adapters[o.active]
	}
	vol := o.volume
	o.mu.Unlock()

	if outgoing != nil {
		if err := outgoing.Stop(ctx); err != nil {
			o.logger.Warn("stopping outgoing driver failed", slog.Any("err", err))
		}
	}
	// Initialize is idempotent and cheap once a driver is running. A driver
	// parked without a credential gets another bootstrap attempt here, so
	// connecting the account mid-session is enough to bring it up.
	if err := target.Initialize(ctx); err != nil {
		o.logger.Warn("driver init failed", slog.Any("err", err))
	}
	if err := target.Activate(ctx); err != nil {
		if o.dropNotReady(entry.Track.Platform, err) {
			return nil
		}
		return err
	}
	if err := target.PlayCurrent(ctx); err != nil {
		if o.dropNotReady(entry.Track.Platform, err) {
			return nil
		}
		return err
	}
	if err := target.SetVolume(ctx, vol); err != nil {
		o.logger.Debug("volume apply failed", slog.Any("err", err))
	}

	o.mu.Lock()
	o.active = entry.Track.Platform
	o.state = Playing
	o.mu.Unlock()

	o.emit(Event{State: Playing, Platform: entry.Track.Platform})
	return nil
}

// dropNotReady applies the policy for commands reaching a driver that has no
// credential or device yet: drop, log, report on the event channel. The
// driver announces ready later and the user re-issues.
func (o *Orchestrator) dropNotReady(p catalog.Platform, err error) bool {
	if !catalog.IsDeviceNotReady(err) && !catalog.IsCredentialMissing(err) {
		return false
	}
	o.logger.Info("command dropped, driver not ready",
		slog.String("platform", string(p)), slog.Any("err", err))
	o.emit(Event{State: o.State(), Err: err})
	return true
}

func (o *Orchestrator) Pause(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	a := o.activeAdapter()
	if a == nil {
		return nil
	}
	if err := a.Pause(ctx); err != nil {
		return err
	}
	o.setState(Paused)
	o.emit(Event{State: Paused, Platform: a.Platform()})
	return nil
}

func (o *Orchestrator) Resume(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	a := o.activeAdapter()
	if a == nil {
		return o.playCurrent(ctx)
	}
	if err := a.Resume(ctx); err != nil {
		return err
	}
	o.setState(Playing)
	o.emit(Event{State: Playing, Platform: a.Platform()})
	return nil
}

// Toggle pauses when playing and resumes otherwise.
func (o *Orchestrator) Toggle(ctx context.Context) error {
	if o.State() == Playing {
		return o.Pause(ctx)
	}
	return o.Resume(ctx)
}

// Next advances to the following entry. At the last entry a user-initiated
// Next is a no-op; the queue never wraps.
func (o *Orchestrator) Next(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	_, err := o.queue.Next()
	o.mu.Unlock()
	if err != nil {
		if err == queue.ErrEndOfQueue || err == queue.ErrEmpty {
			o.logger.Debug("next ignored", slog.Any("err", err))
			return nil
		}
		return err
	}
	o.emit(Event{QueueChanged: true, State: o.State()})
	o.saveSnapshot()
	return o.playCurrent(ctx)
}

// Previous moves back one entry, staying on the first.
func (o *Orchestrator) Previous(ctx context.Context) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	_, err := o.queue.Prev()
	o.mu.Unlock()
	if err != nil {
		o.logger.Debug("previous ignored", slog.Any("err", err))
		return nil
	}
	o.emit(Event{QueueChanged: true, State: o.State()})
	o.saveSnapshot()
	return o.playCurrent(ctx)
}

// SetVolume clamps v to [0,1], remembers it for future activations, and
// applies it to the active driver.
func (o *Orchestrator) SetVolume(ctx context.Context, v float64) error {
	v = adapter.ClampVolume(v)
	o.mu.Lock()
	o.volume = v
	o.mu.Unlock()

	if a := o.activeAdapter(); a != nil {
		return a.SetVolume(ctx, v)
	}
	return nil
}

// Remove deletes a queue entry. Removing the entry being played stops the
// active driver; the cursor clamps to the next entry (or the new last) and
// playback waits for an explicit play.
func (o *Orchestrator) Remove(ctx context.Context, entryID string) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	res, err := o.queue.Remove(entryID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	wasActive := res.WasCurrent && o.active != ""
	if res.QueueNowEmpty {
		o.state = NoSession
		o.active = ""
	} else if res.WasCurrent {
		o.state = SessionReady
	}
	st := o.state
	var stopTarget adapter.Adapter
	if wasActive {
		stopTarget = o.adapters[o.active]
		o.active = ""
	}
	o.mu.Unlock()

	if stopTarget != nil {
		if err := stopTarget.Stop(ctx); err != nil {
			o.logger.Warn("stop after remove failed", slog.Any("err", err))
		}
	}

	o.emit(Event{State: st, QueueChanged: true})
	o.persistAsync(func(ctx context.Context) error {
		return o.hub.RemoveFromQueue(ctx, entryID)
	})
	o.saveSnapshot()
	return nil
}

// Reorder installs a new ordering of entry ids. The cursor follows the entry
// it pointed at.
func (o *Orchestrator) Reorder(ctx context.Context, orderedIDs []string) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	err := o.queue.Reorder(orderedIDs)
	o.mu.Unlock()
	if err != nil {
		return err
	}
	o.emit(Event{State: o.State(), QueueChanged: true})
	o.persistAsync(func(ctx context.Context) error {
		return o.hub.ReorderQueue(ctx, orderedIDs)
	})
	o.saveSnapshot()
	return nil
}

// SaveOrder persists the current ordering to the hub.
func (o *Orchestrator) SaveOrder(ctx context.Context) error {
	if o.hub == nil {
		return nil
	}
	o.mu.Lock()
	ids := o.queue.EntryIDs()
	o.mu.Unlock()
	return o.hub.ReorderQueue(ctx, ids)
}

// ReplaceWith clears the queue, installs tracks, and starts playing the
// first one ("play this playlist now").
func (o *Orchestrator) ReplaceWith(ctx context.Context, tracks []catalog.Track) error {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	var entries []catalog.QueueEntry
	if o.hub != nil {
		got, err := o.hub.ReplaceQueue(ctx, tracks)
		if err == nil {
			entries = got
		} else {
			o.logger.Warn("queue replace persistence failed, keeping local entries", slog.Any("err", err))
		}
	}
	if entries == nil {
		entries = make([]catalog.QueueEntry, 0, len(tracks))
		for _, t := range tracks {
			entries = append(entries, catalog.QueueEntry{EntryID: uuid.NewString(), Track: t})
		}
	}

	o.mu.Lock()
	o.queue.ReplaceAll(entries)
	if len(entries) == 0 {
		o.state = NoSession
	} else {
		o.state = SessionReady
	}
	empty := len(entries) == 0
	o.mu.Unlock()

	o.emit(Event{State: o.State(), QueueChanged: true})
	o.saveSnapshot()
	if empty {
		return nil
	}
	return o.playCurrent(ctx)
}

// StopAll stops whichever driver is active. Used on shutdown.
func (o *Orchestrator) StopAll(ctx context.Context) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	a := o.activeAdapter()
	if a == nil {
		return
	}
	if err := a.Stop(ctx); err != nil {
		o.logger.Warn("stop failed", slog.Any("err", err))
	}
	o.mu.Lock()
	o.active = ""
	if o.state == Playing || o.state == Paused {
		o.state = SessionReady
	}
	o.mu.Unlock()
}

// StateChanged implements adapter.Listener. Snapshots from a driver that is
// not active are stale echoes of a finished handoff and are dropped.
func (o *Orchestrator) StateChanged(p catalog.Platform, s adapter.Session) {
	o.mu.Lock()
	if o.active != p {
		o.mu.Unlock()
		return
	}
	o.session = s
	if o.state == Playing || o.state == Paused {
		if s.Playing {
			o.state = Playing
		} else {
			o.state = Paused
		}
	}
	st := o.state
	o.mu.Unlock()
	o.emit(Event{State: st, Platform: p, Session: s})
}

// TrackEnded implements adapter.Listener: advance to the next entry, handing
// off across platforms when needed. Past the last entry the session ends
// without wrapping.
func (o *Orchestrator) TrackEnded(p catalog.Platform) {
	o.cmdMu.Lock()
	defer o.cmdMu.Unlock()

	o.mu.Lock()
	if o.active != p {
		o.mu.Unlock()
		return
	}
	_, err := o.queue.Next()
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		a := o.activeAdapter()
		if a != nil {
			if stopErr := a.Stop(ctx); stopErr != nil {
				o.logger.Warn("stop at end of queue failed", slog.Any("err", stopErr))
			}
		}
		o.mu.Lock()
		o.active = ""
		o.state = Ended
		o.mu.Unlock()
		o.emit(Event{State: Ended})
		return
	}

	o.emit(Event{QueueChanged: true, State: o.State()})
	o.saveSnapshot()
	if err := o.playCurrent(ctx); err != nil {
		o.logger.Error("auto-advance failed", slog.Any("err", err))
		o.emit(Event{State: o.State(), Err: err})
	}
}

// TrackInfoChanged implements adapter.Listener.
func (o *Orchestrator) TrackInfoChanged(p catalog.Platform, info adapter.TrackInfo) {
	o.emit(Event{State: o.State(), Platform: p, Info: &info})
}

// ReadyChanged implements adapter.Listener.
func (o *Orchestrator) ReadyChanged(p catalog.Platform, ready bool) {
	o.logger.Info("driver readiness changed",
		slog.String("platform", string(p)), slog.Bool("ready", ready))
	o.emit(Event{State: o.State(), Platform: p, Ready: &ready})
}

func (o *Orchestrator) activeAdapter() adapter.Adapter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == "" {
		return nil
	}
	return o.adapters[o.active]
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// persistAsync runs a best-effort hub mutation off the command path. A
// failure means the local queue has diverged from the hub; the local state
// stands, the divergence is logged and reported as ErrQueueDesync.
func (o *Orchestrator) persistAsync(fn func(ctx context.Context) error) {
	if o.hub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			err = fmt.Errorf("%w: %v", catalog.ErrQueueDesync, err)
			o.logger.Warn("queue persistence failed, local state kept", slog.Any("err", err))
			o.emit(Event{State: o.State(), Err: err})
		}
	}()
}

func (o *Orchestrator) saveSnapshot() {
	if o.store == nil {
		return
	}
	o.mu.Lock()
	snap := queue.New()
	snap.ReplaceAll(o.queue.Entries())
	if idx := o.queue.CurrentIndex(); idx >= 0 {
		_ = snap.SetCurrent(idx)
	}
	o.mu.Unlock()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.store.Save(ctx, snap); err != nil {
			o.logger.Warn("queue snapshot save failed", slog.Any("err", err))
		}
	}()
}
