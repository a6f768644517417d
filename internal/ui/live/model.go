// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/monitor"
	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/ui/styles"
)

// =============================================================================
// MESSAGES
// =============================================================================

// Opener opens a new stream body. It is called once at start and again for
// every restart.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// ThresholdMsg changes the high-risk threshold used for the metrics bar.
type ThresholdMsg struct {
	Value float64
}

// refreshMsg means the controller published something.
type refreshMsg struct{}

// openedMsg carries the result of an Opener call.
type openedMsg struct {
	body io.ReadCloser
	err  error
}

// =============================================================================
// MODEL
// =============================================================================

// Options configures New.
type Options struct {
	// Context bounds every session the view starts. Default: Background.
	Context    context.Context
	Controller *monitor.Controller
	Open       Opener
	Theme      *styles.Theme
	// Title is shown in the header, usually the prompt being sent.
	Title             string
	HighRiskThreshold float64
	// MaxTimeline caps the timeline rows kept in the viewport.
	MaxTimeline int
}

// Model is the bubbletea model for the live view.
type Model struct {
	ctx   context.Context
	ctrl  *monitor.Controller
	open  Opener
	theme *styles.Theme
	title string

	threshold   float64
	maxTimeline int

	wake        chan struct{}
	unsubscribe func()

	spinner  spinner.Model
	timeline viewport.Model

	state   session.State
	openErr error
	opening bool
	width   int
	height  int
}

// New creates the model and subscribes it to the controller. Call Close when
// the program has exited.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme("auto")
	}
	threshold := opts.HighRiskThreshold
	if threshold <= 0 {
		threshold = metrics.DefaultHighRiskThreshold
	}
	maxTimeline := opts.MaxTimeline
	if maxTimeline <= 0 {
		maxTimeline = 200
	}

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	wake := make(chan struct{}, 1)
	unsubscribe := opts.Controller.Subscribe(func(monitor.Update) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	return Model{
		ctx:         ctx,
		ctrl:        opts.Controller,
		open:        opts.Open,
		theme:       theme,
		title:       opts.Title,
		threshold:   threshold,
		maxTimeline: maxTimeline,
		wake:        wake,
		unsubscribe: unsubscribe,
		spinner:     sp,
		timeline:    viewport.New(80, 10),
		state:       opts.Controller.Snapshot(),
		width:       80,
		height:      24,
	}
}

// Close detaches the model from the controller.
func (m Model) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// State returns the snapshot the view last rendered.
func (m Model) State() session.State {
	return m.state
}

// Init opens the first stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.openCmd(), m.waitCmd())
}

func (m Model) openCmd() tea.Cmd {
	open, ctx := m.open, m.ctx
	return func() tea.Msg {
		body, err := open(ctx)
		return openedMsg{body: body, err: err}
	}
}

func (m Model) waitCmd() tea.Cmd {
	wake := m.wake
	return func() tea.Msg {
		<-wake
		return refreshMsg{}
	}
}

// =============================================================================
// UPDATE
// =============================================================================

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshTimeline()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case openedMsg:
		m.opening = false
		if msg.err != nil {
			m.openErr = msg.err
			return m, nil
		}
		m.openErr = nil
		m.ctrl.Start(m.ctx, msg.body)
		m.sync()
		return m, nil

	case refreshMsg:
		m.sync()
		return m, m.waitCmd()

	case ThresholdMsg:
		if msg.Value > 0 {
			m.threshold = msg.Value
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.ctrl.Cancel()
		m.sync()
		return m, tea.Quit

	case "c":
		if m.ctrl.Cancel() {
			m.sync()
		}
		return m, nil

	case "r":
		if m.opening {
			return m, nil
		}
		m.opening = true
		return m, m.openCmd()
	}

	var cmd tea.Cmd
	m.timeline, cmd = m.timeline.Update(msg)
	return m, cmd
}

// sync pulls a fresh snapshot from the controller.
func (m *Model) sync() {
	m.state = m.ctrl.Snapshot()
	m.refreshTimeline()
}

func (m *Model) refreshTimeline() {
	atBottom := m.timeline.AtBottom()
	m.timeline.SetContent(m.renderTimeline())
	if atBottom {
		m.timeline.GotoBottom()
	}
}

// layout sizes the timeline to whatever the fixed rows leave over.
func (m *Model) layout() {
	// header 2, metrics 3, tokens 8, timeline title 2, status bar 1
	const fixedRows = 16
	h := m.height - fixedRows
	if h < 3 {
		h = 3
	}
	m.timeline.Width = max(m.width-2, 20)
	m.timeline.Height = h
}
