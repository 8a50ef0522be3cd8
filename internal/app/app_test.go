package app

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/JanekDr/music-hub/internal/catalog"
	"github.com/JanekDr/music-hub/internal/config"
	"github.com/JanekDr/music-hub/internal/orchestrator"
	"github.com/JanekDr/music-hub/internal/search"
)

func testModel(t *testing.T) Model {
	t.Helper()
	cfg := &config.Config{}
	cfg.UI.Theme = "nocolor"
	cfg.Player.VolumeStep = 5
	orch := orchestrator.New(orchestrator.Options{Volume: 0.7})
	m := New(cfg, orch, search.New(search.Config{SoundCloud: nilSC{}}))
	m.screen = screenNowPlaying
	m.width = 80
	m.height = 24
	return m
}

type nilSC struct{}

func (nilSC) SearchSoundCloud(ctx context.Context, q string, limit int) ([]catalog.Track, error) {
	return nil, nil
}

func key(s string) tea.KeyMsg {
	if s == " " {
		return tea.KeyMsg{Type: tea.KeySpace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTabCyclesScreens(t *testing.T) {
	m := testModel(t)
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.screen != screenSearch {
		t.Fatalf("screen = %v, want search", m.screen)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.screen != screenQueue {
		t.Fatalf("screen = %v, want queue", m.screen)
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	if m.screen != screenNowPlaying {
		t.Fatalf("screen = %v, want now playing", m.screen)
	}
}

func TestSlashEntersSearchTyping(t *testing.T) {
	m := testModel(t)
	next, _ := m.Update(key("/"))
	m = next.(Model)
	if m.screen != screenSearch || !m.searchTyping {
		t.Fatalf("slash did not open search input")
	}

	for _, r := range "abba" {
		next, _ = m.Update(key(string(r)))
		m = next.(Model)
	}
	if m.searchQ != "abba" {
		t.Fatalf("query = %q", m.searchQ)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyBackspace})
	m = next.(Model)
	if m.searchQ != "abb" {
		t.Fatalf("backspace: query = %q", m.searchQ)
	}

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if m.searchTyping {
		t.Fatalf("enter did not leave typing mode")
	}
	if cmd == nil {
		t.Fatalf("enter did not issue search command")
	}
}

func TestEscCancelsSearchTyping(t *testing.T) {
	m := testModel(t)
	next, _ := m.Update(key("/"))
	m = next.(Model)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	if m.searchTyping {
		t.Fatalf("esc did not cancel typing")
	}
}

func TestHelpToggle(t *testing.T) {
	m := testModel(t)
	next, _ := m.Update(key("?"))
	m = next.(Model)
	if !m.showHelp {
		t.Fatalf("help not shown")
	}
	if !strings.Contains(m.View(), "Keybindings") {
		t.Fatalf("help view missing keybindings")
	}
	next, _ = m.Update(key("?"))
	m = next.(Model)
	if m.showHelp {
		t.Fatalf("help not hidden")
	}
}

func TestSearchResultsNavigation(t *testing.T) {
	m := testModel(t)
	m.screen = screenSearch
	m.searchResults = catalog.SearchResults{
		Spotify:    []catalog.Track{{ID: "a", Title: "A", Platform: catalog.PlatformSpotify}},
		SoundCloud: []catalog.Track{{ID: "b", Title: "B", Platform: catalog.PlatformSoundCloud}},
	}

	next, _ := m.Update(key("j"))
	m = next.(Model)
	if m.selection != 1 {
		t.Fatalf("selection = %d, want 1", m.selection)
	}
	// Does not run past the end of the flattened results.
	next, _ = m.Update(key("j"))
	m = next.(Model)
	if m.selection != 1 {
		t.Fatalf("selection ran past end: %d", m.selection)
	}
	next, _ = m.Update(key("k"))
	m = next.(Model)
	if m.selection != 0 {
		t.Fatalf("selection = %d, want 0", m.selection)
	}

	sel, ok := m.selectedSearchTrack()
	if !ok || sel.ID != "a" {
		t.Fatalf("selected = %+v", sel)
	}
}

func TestShiftPPlaysAllSearchResults(t *testing.T) {
	m := testModel(t)
	m.screen = screenSearch
	m.searchResults = catalog.SearchResults{
		Spotify:    []catalog.Track{{ID: "a", Title: "A", Platform: catalog.PlatformSpotify}},
		SoundCloud: []catalog.Track{{ID: "b", Title: "B", Platform: catalog.PlatformSoundCloud}},
	}
	_, cmd := m.Update(key("P"))
	if cmd == nil {
		t.Fatalf("P on search results issued no command")
	}

	// No results, nothing to replace with.
	m.searchResults = catalog.SearchResults{}
	if _, cmd := m.Update(key("P")); cmd != nil {
		t.Fatalf("P with no results issued a command")
	}
}

func TestViewRendersEmptyQueue(t *testing.T) {
	m := testModel(t)
	m.screen = screenQueue
	if !strings.Contains(m.View(), "Queue is empty") {
		t.Fatalf("empty queue hint missing")
	}
}

func TestViewRendersSearchResultsWithPlatformTags(t *testing.T) {
	m := testModel(t)
	m.screen = screenSearch
	m.searchResults = catalog.SearchResults{
		Spotify:    []catalog.Track{{ID: "a", Title: "Alpha", Artist: "X", Platform: catalog.PlatformSpotify}},
		SoundCloud: []catalog.Track{{ID: "b", Title: "Beta", Artist: "Y", Platform: catalog.PlatformSoundCloud}},
	}
	view := m.View()
	if !strings.Contains(view, "[Spotify] X — Alpha") || !strings.Contains(view, "[SoundCloud] Y — Beta") {
		t.Fatalf("view missing tagged results:\n%s", view)
	}
}

func TestFormatMs(t *testing.T) {
	if got := formatMs(83000); got != "1:23" {
		t.Fatalf("formatMs = %q", got)
	}
	if got := formatMs(0); got != "0:00" {
		t.Fatalf("formatMs zero = %q", got)
	}
}
