// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     monitor
// Description: Terminal view of the running voice pipeline
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/msto63/wake/internal/voice"
)

// entryKind classifies a line of the activity log
type entryKind int

const (
	entryHeard entryKind = iota
	entryForwarded
	entryWake
	entryDismiss
	entryError
)

type entry struct {
	at   time.Time
	kind entryKind
	text string
}

// Config holds monitor configuration
type Config struct {
	// Start launches capture; it runs from Init so pipeline callbacks
	// never block on a program that is not yet reading
	Start      func() error
	WakeWord   string
	Listener   string
	MaxEntries int
}

// Model is the Bubbletea model of the monitor
type Model struct {
	width   int
	height  int
	ready   bool
	loading bool
	err     error

	viewport viewport.Model
	spinner  spinner.Model

	running   bool
	active    bool
	entries   []entry
	heard     int
	forwarded int
	errors    int

	cfg Config
}

// New creates a monitor model
func New(cfg Config) Model {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 500
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	return Model{
		spinner: sp,
		loading: cfg.Start != nil,
		active:  cfg.WakeWord == "",
		cfg:     cfg,
	}
}

// Init starts capture
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.cfg.Start != nil {
		start := m.cfg.Start
		cmds = append(cmds, func() tea.Msg {
			return startedMsg{err: start()}
		})
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 4
		footerHeight := 3
		viewportHeight := msg.Height - headerHeight - footerHeight
		if viewportHeight < 1 {
			viewportHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = viewportHeight
		}
		m.refresh()

	case spinner.TickMsg:
		if m.loading {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case startedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			m.add(entry{at: time.Now(), kind: entryError, text: msg.err.Error()})
		}

	case stateMsg:
		m.running = msg.running

	case recognitionMsg:
		if msg.r.Kind == voice.KindFragment && strings.TrimSpace(msg.r.Text) != "" {
			m.heard++
		}

	case decisionMsg:
		m.applyDecision(msg)

	case errorMsg:
		m.errors++
		m.add(entry{at: msg.at, kind: entryError, text: msg.err.Error()})
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) applyDecision(msg decisionMsg) {
	d := msg.decision
	m.active = d.State.Active
	switch {
	case d.Woke:
		m.add(entry{at: msg.at, kind: entryWake, text: msg.utterance})
	case d.Dismissed:
		m.add(entry{at: msg.at, kind: entryDismiss, text: msg.utterance})
	case !d.OK:
		m.add(entry{at: msg.at, kind: entryHeard, text: msg.utterance})
	}
	if d.OK {
		m.forwarded++
		m.add(entry{at: msg.at, kind: entryForwarded, text: d.Forwarded})
	}
}

func (m *Model) add(e entry) {
	m.entries = append(m.entries, e)
	if over := len(m.entries) - m.cfg.MaxEntries; over > 0 {
		m.entries = m.entries[over:]
	}
	m.refresh()
}

// refresh renders the entries into the viewport
func (m *Model) refresh() {
	if !m.ready {
		return
	}
	lines := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		lines = append(lines, renderEntry(e))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.viewport.GotoBottom()
}

func renderEntry(e entry) string {
	ts := TimestampStyle.Render(e.at.Format("15:04:05"))
	switch e.kind {
	case entryForwarded:
		return ts + " " + ForwardedStyle.Render("→ "+e.text)
	case entryWake:
		return ts + " " + WakeStyle.Render("wach: "+e.text)
	case entryDismiss:
		return ts + " " + WakeStyle.Render("ruhe: "+e.text)
	case entryError:
		return ts + " " + ErrorStyle.Render("fehler: "+e.text)
	default:
		return ts + " " + HeardStyle.Render(e.text)
	}
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "q":
			return m, tea.Quit
		case "c":
			m.entries = nil
			m.refresh()
			return m, nil
		}

	case tea.KeyPgUp:
		m.viewport.ViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.ViewDown()
		return m, nil
	}
	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "Starte Monitor..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(PanelStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m Model) renderHeader() string {
	var capture string
	switch {
	case m.loading:
		capture = m.spinner.View() + " starte Aufnahme"
	case m.running:
		capture = ActiveStyle.Render("● Aufnahme läuft")
	default:
		capture = InactiveStyle.Render("○ Aufnahme gestoppt")
	}

	var gate string
	switch {
	case m.cfg.WakeWord == "":
		gate = InactiveStyle.Render("ohne Aktivierungswort")
	case m.active:
		gate = ActiveStyle.Render("aktiv")
	default:
		gate = InactiveStyle.Render(fmt.Sprintf("wartet auf %q", m.cfg.WakeWord))
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		LogoStyle.Render(Logo),
		strings.Repeat(" ", 3),
		capture,
		strings.Repeat(" ", 3),
		gate,
	)
	return TitlePanelStyle.Width(m.width - 4).Render(header)
}

func (m Model) renderStatusBar() string {
	stats := HelpDescStyle.Render(fmt.Sprintf("gehört: %d  weitergeleitet: %d  fehler: %d  quelle: %s",
		m.heard, m.forwarded, m.errors, m.cfg.Listener))
	keys := RenderKeyHint("q", "beenden") + "  " + RenderKeyHint("c", "leeren")
	return StatusBarStyle.Width(m.width - 2).Render(stats + "   " + keys)
}

// Running reports whether capture was last seen running
func (m Model) Running() bool { return m.running }

// Active reports the last known gate state
func (m Model) Active() bool { return m.active }

// Err returns the start failure, if any
func (m Model) Err() error { return m.err }
