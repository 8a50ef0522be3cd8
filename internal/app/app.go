// Package app is the terminal front end: one transport bar over the unified
// session, plus search and queue screens.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/JanekDr/music-hub/internal/adapter"
	"github.com/JanekDr/music-hub/internal/catalog"
	"github.com/JanekDr/music-hub/internal/config"
	"github.com/JanekDr/music-hub/internal/orchestrator"
	"github.com/JanekDr/music-hub/internal/search"
	"github.com/JanekDr/music-hub/internal/ui"
)

type screen int

const (
	screenLoading screen = iota
	screenNowPlaying
	screenSearch
	screenQueue
)

type Model struct {
	cfg    *config.Config
	orch   *orchestrator.Orchestrator
	search *search.Service
	theme  ui.Theme

	screen   screen
	status   string
	errorMsg string
	fatalErr error

	searchQ       string
	searchTyping  bool
	searchResults catalog.SearchResults
	selection     int

	nowPlaying   catalog.Track
	displayInfo  adapter.TrackInfo
	session      adapter.Session
	playerState  orchestrator.State
	platform     catalog.Platform
	spotifyReady bool

	width    int
	height   int
	showHelp bool
}

func New(cfg *config.Config, orch *orchestrator.Orchestrator, svc *search.Service) Model {
	return Model{
		cfg:    cfg,
		orch:   orch,
		search: svc,
		theme:  ui.GetTheme(cfg.UI.Theme, false),
		screen: screenLoading,
		status: "Loading…",
	}
}

type initMsg struct {
	err error
}

type orchEventMsg orchestrator.Event

type searchMsg struct {
	res catalog.SearchResults
	err error
}

type actionMsg struct {
	status string
	err    error
}

type clearErrorMsg struct{}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.restoreCmd(), m.watchOrchCmd())
}

func (m Model) restoreCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return initMsg{err: m.orch.Restore(ctx)}
	}
}

func (m Model) watchOrchCmd() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.orch.Events()
		if !ok {
			return nil
		}
		return orchEventMsg(evt)
	}
}

func (m Model) searchCmd(q string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		res, err := m.search.Search(ctx, q)
		return searchMsg{res: res, err: err}
	}
}

// actionCmd runs one orchestrator command off the UI goroutine.
func (m Model) actionCmd(status string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return actionMsg{status: status, err: fn(ctx)}
	}
}

func (m Model) clearErrorCmd() tea.Cmd {
	return tea.Tick(4*time.Second, func(time.Time) tea.Msg {
		return clearErrorMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case initMsg:
		if msg.err != nil {
			m.status = "Queue restore failed"
			m.errorMsg = msg.err.Error()
		} else {
			m.status = "Ready"
		}
		m.screen = screenNowPlaying
		return m, nil
	case orchEventMsg:
		return m.handleOrchEvent(orchestrator.Event(msg))
	case searchMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		m.searchResults = msg.res
		m.selection = 0
		m.status = fmt.Sprintf("%d results", len(msg.res.Tracks()))
		return m, nil
	case actionMsg:
		if msg.err != nil {
			return m.setError(msg.err)
		}
		if msg.status != "" {
			m.status = msg.status
		}
		return m, nil
	case clearErrorMsg:
		m.errorMsg = ""
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleOrchEvent(evt orchestrator.Event) (tea.Model, tea.Cmd) {
	m.playerState = evt.State
	if evt.Platform != "" {
		m.platform = evt.Platform
	}
	if evt.Session != (adapter.Session{}) {
		m.session = evt.Session
	}
	if evt.Info != nil {
		m.displayInfo = *evt.Info
	}
	if evt.Ready != nil && evt.Platform == catalog.PlatformSpotify {
		m.spotifyReady = *evt.Ready
		if *evt.Ready {
			m.status = "Spotify device ready"
		}
	}
	if evt.QueueChanged || evt.State == orchestrator.Playing {
		if cur, ok := m.orch.CurrentEntry(); ok {
			m.nowPlaying = cur.Track
			if m.displayInfo.TrackID != "" && m.displayInfo.TrackID != cur.Track.ID {
				m.displayInfo = adapter.TrackInfo{}
			}
		} else {
			m.nowPlaying = catalog.Track{}
		}
	}
	if evt.State == orchestrator.Ended {
		m.status = "End of queue"
	}
	var cmd tea.Cmd
	if evt.Err != nil {
		m.errorMsg = evt.Err.Error()
		cmd = m.clearErrorCmd()
	}
	return m, tea.Batch(m.watchOrchCmd(), cmd)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.searchTyping {
		return m.handleSearchInput(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	case "tab":
		m.screen++
		if m.screen > screenQueue {
			m.screen = screenNowPlaying
		}
		m.selection = 0
		return m, nil
	case "/":
		m.screen = screenSearch
		m.searchTyping = true
		m.searchQ = ""
		m.status = "Enter search query"
		return m, nil
	case "e":
		m.screen = screenQueue
		m.selection = 0
		return m, nil
	case " ":
		return m, m.actionCmd("", m.orch.Toggle)
	case "n":
		return m, m.actionCmd("Next", m.orch.Next)
	case "p":
		return m, m.actionCmd("Previous", m.orch.Previous)
	case "+", "=":
		return m, m.volumeCmd(float64(m.cfg.Player.VolumeStep) / 100)
	case "-":
		return m, m.volumeCmd(-float64(m.cfg.Player.VolumeStep) / 100)
	case "j", "down":
		if m.selection < m.currentListLen()-1 {
			m.selection++
		}
		return m, nil
	case "k", "up":
		if m.selection > 0 {
			m.selection--
		}
		return m, nil
	case "enter":
		return m.handleEnter()
	case "a":
		if m.screen == screenSearch {
			if t, ok := m.selectedSearchTrack(); ok {
				return m, m.actionCmd("Added to queue: "+t.Title, func(ctx context.Context) error {
					return m.orch.Enqueue(ctx, t)
				})
			}
		}
		return m, nil
	case "P":
		if m.screen == screenSearch {
			tracks := m.searchResults.Tracks()
			if len(tracks) > 0 {
				return m, m.actionCmd("Playing all results", func(ctx context.Context) error {
					return m.orch.ReplaceWith(ctx, tracks)
				})
			}
		}
		return m, nil
	case "d":
		if m.screen == screenQueue {
			entries := m.orch.Queue()
			if m.selection < len(entries) {
				id := entries[m.selection].EntryID
				if m.selection >= len(entries)-1 && m.selection > 0 {
					m.selection--
				}
				return m, m.actionCmd("Removed from queue", func(ctx context.Context) error {
					return m.orch.Remove(ctx, id)
				})
			}
		}
		return m, nil
	case "J":
		if m.screen == screenQueue {
			return m.moveSelected(1)
		}
		return m, nil
	case "K":
		if m.screen == screenQueue {
			return m.moveSelected(-1)
		}
		return m, nil
	case "w":
		if m.screen == screenQueue {
			return m, m.actionCmd("Queue order saved", m.orch.SaveOrder)
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleSearchInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.searchTyping = false
		return m, nil
	case "enter":
		m.searchTyping = false
		if strings.TrimSpace(m.searchQ) == "" {
			return m, nil
		}
		m.status = "Searching…"
		return m, m.searchCmd(m.searchQ)
	case "backspace":
		if len(m.searchQ) > 0 {
			m.searchQ = m.searchQ[:len(m.searchQ)-1]
		}
		return m, nil
	case "ctrl+c":
		return m, tea.Quit
	default:
		if msg.Type == tea.KeyRunes {
			m.searchQ += string(msg.Runes)
		} else if msg.Type == tea.KeySpace {
			m.searchQ += " "
		}
		return m, nil
	}
}

// handleEnter plays the selection: a search result is enqueued and played
// when the session is idle, a queue row is jumped to directly.
func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.screen {
	case screenSearch:
		t, ok := m.selectedSearchTrack()
		if !ok {
			return m, nil
		}
		playNow := m.playerState != orchestrator.Playing
		return m, m.actionCmd("Added to queue: "+t.Title, func(ctx context.Context) error {
			if err := m.orch.Enqueue(ctx, t); err != nil {
				return err
			}
			if playNow {
				n := len(m.orch.Queue())
				return m.orch.PlayEntryAt(ctx, n-1)
			}
			return nil
		})
	case screenQueue:
		idx := m.selection
		if idx >= len(m.orch.Queue()) {
			return m, nil
		}
		return m, m.actionCmd("", func(ctx context.Context) error {
			return m.orch.PlayEntryAt(ctx, idx)
		})
	case screenNowPlaying:
		return m, m.actionCmd("", m.orch.Toggle)
	}
	return m, nil
}

// moveSelected swaps the selected queue row with its neighbor and installs
// the new ordering.
func (m Model) moveSelected(delta int) (tea.Model, tea.Cmd) {
	entries := m.orch.Queue()
	i := m.selection
	j := i + delta
	if i < 0 || i >= len(entries) || j < 0 || j >= len(entries) {
		return m, nil
	}
	ids := make([]string, len(entries))
	for k, e := range entries {
		ids[k] = e.EntryID
	}
	ids[i], ids[j] = ids[j], ids[i]
	m.selection = j
	return m, m.actionCmd("", func(ctx context.Context) error {
		return m.orch.Reorder(ctx, ids)
	})
}

func (m Model) volumeCmd(delta float64) tea.Cmd {
	target := m.orch.Volume() + delta
	return m.actionCmd(fmt.Sprintf("Volume %d%%", int(adapter.ClampVolume(target)*100)),
		func(ctx context.Context) error {
			return m.orch.SetVolume(ctx, target)
		})
}

func (m Model) selectedSearchTrack() (catalog.Track, bool) {
	all := m.searchResults.Tracks()
	if m.selection < 0 || m.selection >= len(all) {
		return catalog.Track{}, false
	}
	return all[m.selection], true
}

func (m Model) currentListLen() int {
	switch m.screen {
	case screenSearch:
		return len(m.searchResults.Tracks())
	case screenQueue:
		return len(m.orch.Queue())
	default:
		return 0
	}
}

func (m Model) setError(err error) (tea.Model, tea.Cmd) {
	m.errorMsg = err.Error()
	return m, m.clearErrorCmd()
}

func (m Model) View() string {
	if m.fatalErr != nil {
		return m.renderFatalError()
	}
	if m.showHelp {
		return m.renderHelp()
	}
	var main string
	switch m.screen {
	case screenLoading:
		main = m.theme.Title.Render("Loading… " + m.status)
	case screenNowPlaying:
		main = m.renderNowPlaying()
	case screenSearch:
		main = m.renderSearch()
	case screenQueue:
		main = m.renderQueue()
	}
	top := lipgloss.NewStyle().Bold(true).Render("MusicHub ▸ " + m.screenTitle())
	status := m.theme.Dim.Render(m.status)
	if m.errorMsg != "" {
		status = m.theme.Error.Render(m.errorMsg)
	}
	bottom := m.renderPlayerBar()
	return lipgloss.JoinVertical(lipgloss.Left, top, main, status, bottom)
}

func (m Model) screenTitle() string {
	switch m.screen {
	case screenNowPlaying:
		return "Now Playing"
	case screenSearch:
		return "Search"
	case screenQueue:
		return "Queue"
	default:
		return "Loading"
	}
}

func (m Model) renderFatalError() string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
		m.theme.Border.Render(
			lipgloss.JoinVertical(lipgloss.Center,
				m.theme.Error.Render("Fatal Error"),
				"",
				m.theme.Text.Render(m.fatalErr.Error()),
				"",
				m.theme.Dim.Render("Press Ctrl+C to quit"),
			),
		),
	)
}

// displayTitle prefers the lazily resolved metadata over whatever the queue
// entry carried.
func (m Model) displayTitle() (title, artist string) {
	title = m.nowPlaying.Title
	artist = m.nowPlaying.Artist
	if m.displayInfo.TrackID != "" && m.displayInfo.TrackID == m.nowPlaying.ID {
		if m.displayInfo.Title != "" {
			title = m.displayInfo.Title
		}
		if m.displayInfo.Artist != "" {
			artist = m.displayInfo.Artist
		}
	}
	return title, artist
}

func (m Model) renderNowPlaying() string {
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Now Playing") + "\n\n")

	title, artist := m.displayTitle()
	if title == "" && m.nowPlaying.ID == "" {
		b.WriteString(m.theme.Dim.Render("Nothing playing") + "\n")
	} else {
		if title == "" {
			title = m.nowPlaying.ID
		}
		b.WriteString(m.theme.Accent.Render(title) + "\n")
		if artist != "" {
			b.WriteString(m.theme.Text.Render(artist) + "\n")
		}
		b.WriteString(m.theme.Dim.Render(platformLabel(m.platform)) + "\n\n")

		width := m.width - 4
		if width < 10 {
			width = 10
		}
		filled := int(float64(width) * m.session.Progress())
		empty := width - filled
		if filled < 0 {
			filled = 0
		}
		if empty < 0 {
			empty = 0
		}
		bar := strings.Repeat("━", filled) + strings.Repeat("─", empty)
		b.WriteString(m.theme.Highlight.Render(bar) + "\n")
		b.WriteString(m.theme.Dim.Render(fmt.Sprintf("%s / %s",
			formatMs(m.session.PositionMs), formatMs(m.session.DurationMs))) + "\n")
	}

	b.WriteString("\n" + m.theme.Title.Render("Up Next") + "\n")
	entries := m.orch.Queue()
	idx := m.orch.CurrentIndex()
	if idx >= 0 && idx+1 < len(entries) {
		next := entries[idx+1].Track
		b.WriteString(m.theme.Text.Render(fmt.Sprintf("%s — %s", next.Artist, next.Title)) + "\n")
	} else {
		b.WriteString(m.theme.Dim.Render("(End of queue)") + "\n")
	}
	return b.String()
}

func (m Model) renderSearch() string {
	var b strings.Builder
	q := m.searchQ
	if m.searchTyping {
		q += "▌"
	}
	b.WriteString(m.theme.Title.Render("Search: "+q) + "\n")

	all := m.searchResults.Tracks()
	for i, t := range all {
		prefix := "  "
		if i == m.selection {
			prefix = "⏵ "
		}
		line := fmt.Sprintf("%s[%s] %s — %s", prefix, platformLabel(t.Platform), t.Artist, t.Title)
		if i == m.selection {
			b.WriteString(m.theme.Highlight.Render(line) + "\n")
		} else {
			b.WriteString(m.theme.Text.Render(line) + "\n")
		}
	}
	if len(all) == 0 && !m.searchTyping {
		b.WriteString(m.theme.Dim.Render("No results") + "\n")
	}
	return b.String()
}

func (m Model) renderQueue() string {
	var b strings.Builder
	entries := m.orch.Queue()
	currentIdx := m.orch.CurrentIndex()
	b.WriteString(m.theme.Title.Render("Queue") + "\n")
	for i, e := range entries {
		prefix := "   "
		if i == currentIdx {
			prefix = "🔊 "
		}
		if i == m.selection {
			prefix = "⏵ "
			if i == currentIdx {
				prefix = "⏵🔊"
			}
		}
		title := e.Track.Title
		if title == "" {
			title = e.Track.ID
		}
		line := fmt.Sprintf("%s[%s] %s — %s", prefix, platformLabel(e.Track.Platform), e.Track.Artist, title)
		if i == m.selection {
			b.WriteString(m.theme.Highlight.Render(line) + "\n")
		} else {
			b.WriteString(m.theme.Text.Render(line) + "\n")
		}
	}
	if len(entries) == 0 {
		b.WriteString(m.theme.Dim.Render("Queue is empty — search with / and press enter") + "\n")
	}
	return b.String()
}

func (m Model) renderPlayerBar() string {
	state := m.playerState.String()
	icon := "⏹"
	switch m.playerState {
	case orchestrator.Playing:
		icon = "⏵"
	case orchestrator.Paused:
		icon = "⏸"
	}
	vol := fmt.Sprintf("vol %d%%", int(m.orch.Volume()*100))
	left := fmt.Sprintf("%s %s", icon, state)
	if m.platform != "" {
		left += " · " + platformLabel(m.platform)
	}
	return m.theme.Border.Render(left + " · " + vol)
}

func (m Model) renderHelp() string {
	rows := []string{
		"space       play/pause",
		"n / p       next / previous",
		"+ / -       volume",
		"/           search both platforms",
		"e           queue screen",
		"enter       play selection",
		"a           add to queue",
		"P           replace queue with results and play",
		"d           remove from queue",
		"J / K       move queue entry down / up",
		"w           save queue order",
		"tab         cycle screens",
		"q, ctrl+c   quit",
	}
	var b strings.Builder
	b.WriteString(m.theme.Title.Render("Keybindings") + "\n\n")
	for _, r := range rows {
		b.WriteString(m.theme.Text.Render(r) + "\n")
	}
	b.WriteString("\n" + m.theme.Dim.Render("Press ? to close"))
	return b.String()
}

func platformLabel(p catalog.Platform) string {
	switch p {
	case catalog.PlatformSpotify:
		return "Spotify"
	case catalog.PlatformSoundCloud:
		return "SoundCloud"
	default:
		return string(p)
	}
}

func formatMs(ms int) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
