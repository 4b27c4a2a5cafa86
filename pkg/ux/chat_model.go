// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/govchat/pkg/access"
	"github.com/AleutianAI/govchat/pkg/chatstream"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Toasts shown when a gated feature is requested without permission.
const (
	toastNoBuildScore    = "Build score is not enabled for your account."
	toastNoAssessmentRAG = "Assessment retrieval is not enabled for your account."
	toastNoStop          = "Stopping a stream is not enabled for your account."
)

// toastTick drives toast expiry and pending scroll requests.
const toastTick = 500 * time.Millisecond

// =============================================================================
// Interface Definition
// =============================================================================

// Session is the part of chatstream.Controller the chat screen drives.
type Session interface {
	Snapshot() chatstream.Snapshot
	Updates() <-chan chatstream.Snapshot
	Submit(text string, opts chatstream.SubmitOptions) bool
	Stop()
}

var _ Session = (*chatstream.Controller)(nil)

// =============================================================================
// Messages
// =============================================================================

type snapshotMsg chatstream.Snapshot

type sessionEndedMsg struct{}

type tickMsg time.Time

func waitForUpdate(ch <-chan chatstream.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return sessionEndedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func tick() tea.Cmd {
	return tea.Tick(toastTick, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// =============================================================================
// ChatModel
// =============================================================================

// ChatConfig wires a ChatModel.
type ChatConfig struct {
	// Session is required.
	Session Session

	// State is required. It is shared with the command that started the UI.
	State *AppState

	// Anchor follows the tail while tokens stream. Optional.
	Anchor *ViewportAnchor

	// Toasts shows transient notices. Optional.
	Toasts *ToastQueue

	// Capabilities gates sending and the feature toggles. Nil grants
	// nothing; pass access.Default() when permissions are unknown.
	Capabilities access.Capabilities

	// CollectionID is attached to every query when set.
	CollectionID string

	// Title is shown in the header.
	Title string
}

// ChatModel is the interactive chat screen.
//
// # Description
//
// It renders the session transcript in a scrollable viewport, reads
// queries from a single-line input and shows a spinner while the session
// connects or a turn is in flight. Every state change arrives as a
// Snapshot from the session's Updates channel; the model never mutates
// the transcript itself.
//
// When the session drops a submission (gate closed, blank text) the input
// keeps its text so the user can retry.
type ChatModel struct {
	cfg      ChatConfig
	keys     KeyMap
	styles   Styles
	renderer *Renderer

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model

	snap          chatstream.Snapshot
	width, height int
	ready         bool
	buildScore    bool
	assessmentRAG bool
}

// NewChatModel creates the model. It panics if Session or State is nil.
func NewChatModel(cfg ChatConfig) ChatModel {
	if cfg.Session == nil || cfg.State == nil {
		panic("ux: ChatConfig requires Session and State")
	}
	if cfg.Anchor == nil {
		cfg.Anchor = NewViewportAnchor()
	}
	if cfg.Toasts == nil {
		cfg.Toasts = NewToastQueue(0, nil)
	}
	if cfg.Title == "" {
		cfg.Title = "govchat"
	}

	theme := cfg.State.Theme()
	styles := NewStyles(theme)

	ti := textinput.New()
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Highlight

	m := ChatModel{
		cfg:      cfg,
		keys:     DefaultKeyMap(),
		styles:   styles,
		renderer: NewRenderer(theme, 80, !cfg.State.Interactive()),
		viewport: viewport.New(80, 20),
		input:    ti,
		spinner:  sp,
		help:     help.New(),
		snap:     cfg.Session.Snapshot(),
	}
	m.input.Placeholder = m.placeholder()
	m.refreshContent()
	return m
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		waitForUpdate(m.cfg.Session.Updates()),
		tick(),
	)
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.layout()
		return m, nil

	case snapshotMsg:
		m.snap = chatstream.Snapshot(msg)
		m.input.Placeholder = m.placeholder()
		m.refreshContent()
		return m, waitForUpdate(m.cfg.Session.Updates())

	case sessionEndedMsg:
		return m, nil

	case tickMsg:
		if m.cfg.Anchor.Apply(&m.viewport) {
			m.cfg.Anchor.Record(m.viewport)
		}
		m.layout()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		model, cmd, handled := m.handleKey(msg)
		if handled {
			return model, cmd
		}
		m = model
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	if _, isKey := msg.(tea.KeyMsg); !isKey {
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
		m.cfg.Anchor.Record(m.viewport)
	}
	return m, tea.Batch(cmds...)
}

func (m ChatModel) handleKey(msg tea.KeyMsg) (ChatModel, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		if !m.allows(access.FeatureChat, access.ActionCreate) {
			return m, nil, true
		}
		if m.cfg.Session.Submit(m.input.Value(), m.submitOptions()) {
			m.input.Reset()
			m.cfg.Anchor.ScrollToBottom()
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Stop):
		if !m.allows(access.FeatureStopStream, access.ActionCreate) {
			m.cfg.Toasts.Notify(toastNoStop)
			return m, nil, true
		}
		if m.snap.Loading() {
			m.cfg.Session.Stop()
		}
		return m, nil, true

	case key.Matches(msg, m.keys.BuildScore):
		if !m.allows(access.FeatureBuildScore, access.ActionCreate) {
			m.cfg.Toasts.Notify(toastNoBuildScore)
			return m, nil, true
		}
		m.buildScore = !m.buildScore
		return m, nil, true

	case key.Matches(msg, m.keys.AssessmentRAG):
		if !m.allows(access.FeatureAssessmentRAG, access.ActionCreate) {
			m.cfg.Toasts.Notify(toastNoAssessmentRAG)
			return m, nil, true
		}
		m.assessmentRAG = !m.assessmentRAG
		return m, nil, true

	case key.Matches(msg, m.keys.Theme):
		theme := m.cfg.State.ToggleTheme()
		m.styles = NewStyles(theme)
		m.spinner.Style = m.styles.Highlight
		m.renderer = NewRenderer(theme, m.renderer.Width(), m.renderer.Plain())
		m.refreshContent()
		return m, nil, true

	case key.Matches(msg, m.keys.FullScreen):
		if m.cfg.State.ToggleFullScreen() {
			return m, tea.EnterAltScreen, true
		}
		return m, tea.ExitAltScreen, true

	case key.Matches(msg, m.keys.Help):
		m.cfg.State.ToggleHelp()
		m.layout()
		return m, nil, true

	case key.Matches(msg, m.keys.PageUp, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.cfg.Anchor.Record(m.viewport)
		return m, cmd, true
	}
	return m, nil, false
}

// View implements tea.Model.
func (m ChatModel) View() string {
	sections := []string{
		m.styles.Header.Render(m.cfg.Title + "  " + m.styles.Muted.Render(m.snap.SessionID)),
		m.viewport.View(),
	}
	if toasts := m.renderToasts(); toasts != "" {
		sections = append(sections, toasts)
	}
	sections = append(sections,
		m.styles.InputBox.Render(m.input.View()),
		m.statusLine(),
	)
	if m.cfg.State.ShowHelp() {
		m.help.ShowAll = true
		sections = append(sections, m.styles.HelpBox.Render(m.help.View(m.keys)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Helpers
// =============================================================================

func (m ChatModel) allows(feature access.FeatureKey, action access.Action) bool {
	return m.cfg.Capabilities.Allows(feature, action)
}

func (m ChatModel) submitOptions() chatstream.SubmitOptions {
	return chatstream.SubmitOptions{
		CollectionID:  m.cfg.CollectionID,
		BuildScore:    m.buildScore,
		AssessmentRAG: m.assessmentRAG,
	}
}

func (m ChatModel) placeholder() string {
	if !m.allows(access.FeatureChat, access.ActionCreate) {
		return "Read-only access"
	}
	if !m.snap.CanSubmit() {
		return StatusText(m.snap)
	}
	return "Ask about a regulation…"
}

func (m *ChatModel) refreshContent() {
	if len(m.snap.Messages) == 0 {
		m.viewport.SetContent(m.styles.Muted.Render("No messages yet."))
	} else {
		m.viewport.SetContent(m.renderer.RenderTranscript(m.snap.Messages))
	}
	m.cfg.Anchor.Apply(&m.viewport)
	m.cfg.Anchor.Record(m.viewport)
}

// layout sizes the viewport to whatever the fixed rows leave.
func (m *ChatModel) layout() {
	if !m.ready {
		return
	}
	fixed := 2 + 3 + 1 // header, input box, status line
	if toasts := m.renderToasts(); toasts != "" {
		fixed += lipgloss.Height(toasts)
	}
	if m.cfg.State.ShowHelp() {
		m.help.ShowAll = true
		fixed += lipgloss.Height(m.styles.HelpBox.Render(m.help.View(m.keys)))
	}

	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-fixed, 3)
	m.input.Width = max(m.width-6, 10)
	m.help.Width = m.width

	if m.renderer.Width() != m.width {
		m.renderer = NewRenderer(m.cfg.State.Theme(), m.width, m.renderer.Plain())
		m.refreshContent()
	}
}

func (m ChatModel) renderToasts() string {
	active := m.cfg.Toasts.Active()
	if len(active) == 0 {
		return ""
	}
	lines := make([]string, 0, len(active))
	for _, t := range active {
		lines = append(lines, t.Text)
	}
	return m.styles.Toast.Render(strings.Join(lines, "\n"))
}

func (m ChatModel) statusLine() string {
	status := StatusText(m.snap)
	if m.snap.Loading() || m.snap.State == chatstream.StateConnecting {
		status = m.spinner.View() + " " + status
	}

	var flags []string
	if m.buildScore {
		flags = append(flags, "build score")
	}
	if m.assessmentRAG {
		flags = append(flags, "assessment RAG")
	}
	if m.cfg.CollectionID != "" {
		flags = append(flags, "collection "+m.cfg.CollectionID)
	}
	if len(flags) > 0 {
		status += "  [" + strings.Join(flags, ", ") + "]"
	}

	return m.styles.StatusBar.Render(fmt.Sprintf("%s  %s", status, m.help.ShortHelpView(m.keys.ShortHelp())))
}

// StatusText describes the session for the status line.
func StatusText(snap chatstream.Snapshot) string {
	switch {
	case snap.State == chatstream.StateUnconnected:
		return "not connected"
	case snap.State == chatstream.StateConnecting:
		return "connecting…"
	case snap.State == chatstream.StateClosed:
		return "disconnected"
	case !snap.Validated:
		return "validating session…"
	case snap.Phase == chatstream.PhaseAwaiting:
		return "waiting for answer…"
	case snap.Phase == chatstream.PhaseStreaming, snap.Phase == chatstream.PhaseFinalizing:
		return "streaming…"
	default:
		return "ready"
	}
}
