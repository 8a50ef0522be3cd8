package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JanekDr/music-hub/internal/adapter"
	"github.com/JanekDr/music-hub/internal/catalog"
	"github.com/JanekDr/music-hub/internal/queue"
)

// callLog records driver calls across all fakes so cross-driver ordering can
// be asserted.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) indexOf(call string) int {
	for i, c := range l.snapshot() {
		if c == call {
			return i
		}
	}
	return -1
}

type fakeAdapter struct {
	platform catalog.Platform
	log      *callLog

	mu          sync.Mutex
	state       adapter.State
	playErr     error
	activateErr error
}

func newFakeAdapter(p catalog.Platform, log *callLog) *fakeAdapter {
	return &fakeAdapter{platform: p, log: log, state: adapter.StateReady}
}

func (f *fakeAdapter) Platform() catalog.Platform { return f.platform }

func (f *fakeAdapter) Initialize(ctx context.Context) error {
	f.log.add(string(f.platform) + ":init")
	return nil
}

func (f *fakeAdapter) Activate(ctx context.Context) error {
	f.mu.Lock()
	err := f.activateErr
	f.mu.Unlock()
	if err != nil {
		f.log.add(string(f.platform) + ":activate-failed")
		return err
	}
	f.log.add(string(f.platform) + ":activate")
	return nil
}

func (f *fakeAdapter) PlayCurrent(ctx context.Context) error {
	f.mu.Lock()
	err := f.playErr
	f.mu.Unlock()
	if err != nil {
		f.log.add(string(f.platform) + ":play-failed")
		return err
	}
	f.log.add(string(f.platform) + ":play")
	f.setState(adapter.StatePlaying)
	return nil
}

func (f *fakeAdapter) PlayURIs(ctx context.Context, uris []string) error {
	f.log.add(string(f.platform) + ":play-uris")
	f.setState(adapter.StatePlaying)
	return nil
}

func (f *fakeAdapter) Pause(ctx context.Context) error {
	f.log.add(string(f.platform) + ":pause")
	f.setState(adapter.StatePaused)
	return nil
}

func (f *fakeAdapter) Resume(ctx context.Context) error {
	f.log.add(string(f.platform) + ":resume")
	f.setState(adapter.StatePlaying)
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.log.add(string(f.platform) + ":stop")
	f.setState(adapter.StateStopped)
	return nil
}

func (f *fakeAdapter) SetVolume(ctx context.Context, v float64) error {
	f.log.add(fmt.Sprintf("%s:volume=%.2f", f.platform, v))
	return nil
}

func (f *fakeAdapter) State() adapter.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeAdapter) setState(s adapter.State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// fakeHub counts persistence calls and can be told to fail.
type fakeHub struct {
	mu       sync.Mutex
	fail     bool
	added    []string
	removed  []string
	reorders [][]string
	nextID   int
}

func (h *fakeHub) err() error {
	if h.fail {
		return errors.New("hub unreachable")
	}
	return nil
}

func (h *fakeHub) AddTrack(ctx context.Context, t catalog.Track) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.err(); err != nil {
		return "", err
	}
	h.nextID++
	return fmt.Sprintf("t%d", h.nextID), nil
}

func (h *fakeHub) AddToQueue(ctx context.Context, trackID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.err(); err != nil {
		return "", err
	}
	h.nextID++
	id := fmt.Sprintf("q%d", h.nextID)
	h.added = append(h.added, id)
	return id, nil
}

func (h *fakeHub) RemoveFromQueue(ctx context.Context, entryID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, entryID)
	return h.err()
}

func (h *fakeHub) ReorderQueue(ctx context.Context, ids []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reorders = append(h.reorders, append([]string(nil), ids...))
	return h.err()
}

func (h *fakeHub) ReplaceQueue(ctx context.Context, tracks []catalog.Track) ([]catalog.QueueEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.err(); err != nil {
		return nil, err
	}
	out := make([]catalog.QueueEntry, 0, len(tracks))
	for _, t := range tracks {
		h.nextID++
		out = append(out, catalog.QueueEntry{EntryID: fmt.Sprintf("q%d", h.nextID), Track: t})
	}
	return out, nil
}

func (h *fakeHub) GetQueue(ctx context.Context) ([]catalog.QueueEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func spTrack(id string) catalog.Track {
	return catalog.Track{ID: id, Title: "sp " + id, Platform: catalog.PlatformSpotify, SourceURI: "spotify:track:" + id}
}

func scTrack(id string) catalog.Track {
	return catalog.Track{ID: id, Title: "sc " + id, Platform: catalog.PlatformSoundCloud}
}

func newTestOrch(t *testing.T) (*Orchestrator, *fakeAdapter, *fakeAdapter, *callLog) {
	t.Helper()
	log := &callLog{}
	o := New(Options{Logger: nil, Volume: 0.7})
	sp := newFakeAdapter(catalog.PlatformSpotify, log)
	sc := newFakeAdapter(catalog.PlatformSoundCloud, log)
	o.Register(sp)
	o.Register(sc)
	return o, sp, sc, log
}

func seed(t *testing.T, o *Orchestrator, tracks ...catalog.Track) {
	t.Helper()
	for i, tr := range tracks {
		o.mu.Lock()
		o.queue.Append(catalog.QueueEntry{EntryID: fmt.Sprintf("e%d", i+1), Track: tr})
		o.state = SessionReady
		o.mu.Unlock()
	}
}

func TestPlayDispatchesToPlatformDriver(t *testing.T) {
	o, sp, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"))

	if err := o.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	if o.State() != Playing || o.ActivePlatform() != catalog.PlatformSpotify {
		t.Fatalf("state=%v active=%v", o.State(), o.ActivePlatform())
	}
	if sp.State() != adapter.StatePlaying {
		t.Fatalf("driver state = %v", sp.State())
	}
	if log.indexOf("spotify:activate") > log.indexOf("spotify:play") {
		t.Fatalf("activate did not precede play: %v", log.snapshot())
	}
}

func TestHandoffStopsOutgoingBeforeStartingIncoming(t *testing.T) {
	o, _, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"), scTrack("b"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := o.PlayEntryAt(ctx, 1); err != nil {
		t.Fatalf("jump: %v", err)
	}

	stop := log.indexOf("spotify:stop")
	start := log.indexOf("soundcloud:play")
	if stop < 0 || start < 0 || stop > start {
		t.Fatalf("stop-before-start violated: %v", log.snapshot())
	}
	if o.ActivePlatform() != catalog.PlatformSoundCloud {
		t.Fatalf("active = %v", o.ActivePlatform())
	}
}

func TestTrackEndedAdvancesAcrossPlatforms(t *testing.T) {
	o, sp, sc, log := newTestOrch(t)
	seed(t, o, spTrack("a"), scTrack("b"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}

	o.TrackEnded(catalog.PlatformSpotify)

	if o.CurrentIndex() != 1 {
		t.Fatalf("cursor = %d, want 1", o.CurrentIndex())
	}
	stop := log.indexOf("spotify:stop")
	start := log.indexOf("soundcloud:play")
	if stop < 0 || start < 0 || stop > start {
		t.Fatalf("handoff order wrong: %v", log.snapshot())
	}
	if sp.State() != adapter.StateStopped || sc.State() != adapter.StatePlaying {
		t.Fatalf("driver states sp=%v sc=%v", sp.State(), sc.State())
	}
}

func TestTrackEndedAtLastEntryEndsSession(t *testing.T) {
	o, sp, _, _ := newTestOrch(t)
	seed(t, o, spTrack("a"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}

	o.TrackEnded(catalog.PlatformSpotify)

	if o.State() != Ended {
		t.Fatalf("state = %v, want Ended", o.State())
	}
	if o.CurrentIndex() != 0 {
		t.Fatalf("cursor wrapped to %d", o.CurrentIndex())
	}
	if sp.State() != adapter.StateStopped {
		t.Fatalf("driver not stopped at end of queue")
	}
}

func TestTrackEndedFromInactiveDriverIgnored(t *testing.T) {
	o, _, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"), spTrack("b"))

	if err := o.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	before := len(log.snapshot())

	o.TrackEnded(catalog.PlatformSoundCloud)

	if o.CurrentIndex() != 0 {
		t.Fatalf("stale end event advanced the cursor")
	}
	if len(log.snapshot()) != before {
		t.Fatalf("stale end event drove the adapters: %v", log.snapshot())
	}
}

func TestNextAtEndIsNoOp(t *testing.T) {
	o, _, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	before := len(log.snapshot())

	if err := o.Next(ctx); err != nil {
		t.Fatalf("next at end: %v", err)
	}
	if o.CurrentIndex() != 0 || len(log.snapshot()) != before {
		t.Fatalf("next at end moved cursor or drove adapters")
	}
}

func TestNextOnEmptyQueueIsNoOp(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	if err := o.Next(context.Background()); err != nil {
		t.Fatalf("next on empty queue: %v", err)
	}
}

func TestVolumeClamping(t *testing.T) {
	o, _, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"))
	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}

	if err := o.SetVolume(ctx, 1.5); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if o.Volume() != 1.0 {
		t.Fatalf("volume = %v, want 1.0", o.Volume())
	}
	if err := o.SetVolume(ctx, -0.2); err != nil {
		t.Fatalf("set volume: %v", err)
	}
	if o.Volume() != 0.0 {
		t.Fatalf("volume = %v, want 0.0", o.Volume())
	}

	calls := log.snapshot()
	var got []string
	for _, c := range calls {
		if strings.Contains(c, "volume") {
			got = append(got, c)
		}
	}
	// Initial play applies 0.70, then the two clamped values.
	want := []string{"spotify:volume=0.70", "spotify:volume=1.00", "spotify:volume=0.00"}
	if len(got) != len(want) {
		t.Fatalf("volume calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("volume calls = %v, want %v", got, want)
		}
	}
}

func TestRemoveCurrentStopsDriverAndClamps(t *testing.T) {
	o, sp, _, _ := newTestOrch(t)
	seed(t, o, spTrack("a"), spTrack("b"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := o.Remove(ctx, "e1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if sp.State() != adapter.StateStopped {
		t.Fatalf("active driver not stopped on current removal")
	}
	if o.State() != SessionReady {
		t.Fatalf("state = %v, want SessionReady", o.State())
	}
	cur, ok := o.CurrentEntry()
	if !ok || cur.EntryID != "e2" {
		t.Fatalf("cursor on %+v, want e2", cur)
	}
}

func TestRemoveLastRemainingEntryClearsSession(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	seed(t, o, spTrack("a"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := o.Remove(ctx, "e1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if o.State() != NoSession {
		t.Fatalf("state = %v, want NoSession", o.State())
	}
	if _, ok := o.CurrentEntry(); ok {
		t.Fatalf("current entry survived removal")
	}
}

func TestEnqueueKeepsLocalEntryWhenHubFails(t *testing.T) {
	h := &fakeHub{fail: true}
	log := &callLog{}
	o := New(Options{Hub: h})
	o.Register(newFakeAdapter(catalog.PlatformSpotify, log))

	if err := o.Enqueue(context.Background(), spTrack("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entries := o.Queue()
	if len(entries) != 1 {
		t.Fatalf("entry rolled back on hub failure")
	}
	if entries[0].EntryID == "" {
		t.Fatalf("no provisional id assigned")
	}
	if o.State() != SessionReady {
		t.Fatalf("state = %v, want SessionReady", o.State())
	}
}

func TestEnqueueUsesHubAssignedID(t *testing.T) {
	h := &fakeHub{}
	o := New(Options{Hub: h})

	if err := o.Enqueue(context.Background(), spTrack("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entries := o.Queue()
	if len(entries) != 1 || entries[0].EntryID != "q2" {
		t.Fatalf("entries = %+v, want hub id q2", entries)
	}
}

func TestStateChangedFromInactivePlatformDropped(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	seed(t, o, spTrack("a"))
	if err := o.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	drain(o)

	o.StateChanged(catalog.PlatformSoundCloud, adapter.Session{Playing: true, PositionMs: 9})
	select {
	case ev := <-o.Events():
		t.Fatalf("stale snapshot emitted: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	o.StateChanged(catalog.PlatformSpotify, adapter.Session{Playing: true, PositionMs: 9})
	select {
	case ev := <-o.Events():
		if ev.Session.PositionMs != 9 {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("active snapshot not emitted")
	}
}

func TestReorderPersistsToHub(t *testing.T) {
	h := &fakeHub{}
	log := &callLog{}
	o := New(Options{Hub: h})
	o.Register(newFakeAdapter(catalog.PlatformSpotify, log))
	seed(t, o, spTrack("a"), spTrack("b"))

	if err := o.Reorder(context.Background(), []string{"e2", "e1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	ids := o.Queue()
	if ids[0].EntryID != "e2" {
		t.Fatalf("reorder not applied locally: %+v", ids)
	}

	deadline := time.After(2 * time.Second)
	for {
		h.mu.Lock()
		n := len(h.reorders)
		h.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("reorder never persisted")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRestoreFallsBackToSnapshotStore(t *testing.T) {
	store, err := queue.NewSnapshotStore(t.TempDir() + "/queue.db")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	q := queue.New()
	q.Append(
		catalog.QueueEntry{EntryID: "1", Track: spTrack("a")},
		catalog.QueueEntry{EntryID: "2", Track: scTrack("b")},
	)
	if err := q.SetCurrent(1); err != nil {
		t.Fatalf("set current: %v", err)
	}
	if err := store.Save(context.Background(), q); err != nil {
		t.Fatalf("save: %v", err)
	}

	h := &fakeHub{fail: true}
	o := New(Options{Hub: h, Store: store})
	if err := o.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if len(o.Queue()) != 2 || o.CurrentIndex() != 1 {
		t.Fatalf("restored %d entries, cursor %d", len(o.Queue()), o.CurrentIndex())
	}
	if o.State() != SessionReady {
		t.Fatalf("state = %v, want SessionReady", o.State())
	}
}

func TestActivateNotReadyDroppedNotSurfaced(t *testing.T) {
	o, sp, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"))
	sp.mu.Lock()
	sp.activateErr = catalog.ErrDeviceNotReady
	sp.mu.Unlock()
	drain(o)

	if err := o.Play(context.Background()); err != nil {
		t.Fatalf("not-ready activation surfaced to the caller: %v", err)
	}
	if o.State() == Playing {
		t.Fatalf("session claims playing with no device")
	}
	if log.indexOf("spotify:play") >= 0 {
		t.Fatalf("play issued despite failed activation: %v", log.snapshot())
	}
	ev := waitEvent(t, o, func(ev Event) bool { return ev.Err != nil })
	if !catalog.IsDeviceNotReady(ev.Err) {
		t.Fatalf("event err = %v, want device not ready", ev.Err)
	}
}

func TestDispatchReinitializesDriver(t *testing.T) {
	o, _, _, log := newTestOrch(t)
	seed(t, o, spTrack("a"))

	if err := o.Play(context.Background()); err != nil {
		t.Fatalf("play: %v", err)
	}
	init := log.indexOf("spotify:init")
	activate := log.indexOf("spotify:activate")
	if init < 0 || activate < 0 || init > activate {
		t.Fatalf("init did not precede activation: %v", log.snapshot())
	}
}

func TestReplaceWithInstallsHubEntriesAndPlaysFirst(t *testing.T) {
	h := &fakeHub{}
	log := &callLog{}
	o := New(Options{Hub: h, Volume: 0.7})
	o.Register(newFakeAdapter(catalog.PlatformSpotify, log))
	o.Register(newFakeAdapter(catalog.PlatformSoundCloud, log))

	err := o.ReplaceWith(context.Background(), []catalog.Track{scTrack("x"), spTrack("y")})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	entries := o.Queue()
	if len(entries) != 2 || entries[0].EntryID != "q1" || entries[1].EntryID != "q2" {
		t.Fatalf("entries = %+v, want hub ids q1/q2", entries)
	}
	if o.CurrentIndex() != 0 {
		t.Fatalf("cursor = %d, want 0", o.CurrentIndex())
	}
	if log.indexOf("soundcloud:play") < 0 {
		t.Fatalf("first entry not played: %v", log.snapshot())
	}
	if o.State() != Playing || o.ActivePlatform() != catalog.PlatformSoundCloud {
		t.Fatalf("state=%v active=%v", o.State(), o.ActivePlatform())
	}
}

func TestReplaceWithKeepsProvisionalIDsWhenHubFails(t *testing.T) {
	h := &fakeHub{fail: true}
	log := &callLog{}
	o := New(Options{Hub: h})
	o.Register(newFakeAdapter(catalog.PlatformSpotify, log))

	if err := o.ReplaceWith(context.Background(), []catalog.Track{spTrack("a")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	entries := o.Queue()
	if len(entries) != 1 || entries[0].EntryID == "" {
		t.Fatalf("entries = %+v, want one provisional id", entries)
	}
	if log.indexOf("spotify:play") < 0 {
		t.Fatalf("replace did not start playback: %v", log.snapshot())
	}
}

func TestPersistenceFailureReportsQueueDesync(t *testing.T) {
	h := &fakeHub{fail: true}
	log := &callLog{}
	o := New(Options{Hub: h})
	o.Register(newFakeAdapter(catalog.PlatformSpotify, log))
	seed(t, o, spTrack("a"), spTrack("b"))
	drain(o)

	if err := o.Reorder(context.Background(), []string{"e2", "e1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if o.Queue()[0].EntryID != "e2" {
		t.Fatalf("local reorder rolled back on hub failure")
	}
	ev := waitEvent(t, o, func(ev Event) bool { return ev.Err != nil })
	if !catalog.IsQueueDesync(ev.Err) {
		t.Fatalf("event err = %v, want queue desync", ev.Err)
	}
}

func TestReorderConcurrentWithTransport(t *testing.T) {
	o, _, _, _ := newTestOrch(t)
	seed(t, o, spTrack("a"), spTrack("b"), spTrack("c"))

	ctx := context.Background()
	if err := o.Play(ctx); err != nil {
		t.Fatalf("play: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = o.Reorder(ctx, []string{"e3", "e1", "e2"})
			_ = o.Reorder(ctx, []string{"e1", "e2", "e3"})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = o.Next(ctx)
			_ = o.Previous(ctx)
		}
	}()
	wg.Wait()

	ids := map[string]bool{}
	for _, e := range o.Queue() {
		ids[e.EntryID] = true
	}
	if len(ids) != 3 || !ids["e1"] || !ids["e2"] || !ids["e3"] {
		t.Fatalf("entry set corrupted: %+v", o.Queue())
	}
	if idx := o.CurrentIndex(); idx < 0 || idx > 2 {
		t.Fatalf("cursor out of range: %d", idx)
	}
}

func waitEvent(t *testing.T, o *Orchestrator, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-o.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event never arrived")
		}
	}
}

func drain(o *Orchestrator) {
	for {
		select {
		case <-o.Events():
		default:
			return
		}
	}
}
