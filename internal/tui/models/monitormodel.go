package models

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/fwbuild/internal/tui/components"
	"github.com/allbin/fwbuild/internal/tui/keys"
	"github.com/allbin/fwbuild/internal/tui/styles"
)

// LineMsg carries one line of monitor output into the model
type LineMsg struct {
	Timestamp time.Time
	Text      string
}

// PhaseMsg reports a coordinator phase change
type PhaseMsg struct {
	Phase string
}

// DoneMsg reports that the request finished, successfully or not
type DoneMsg struct {
	Err error
}

// MonitorModel is the bubbletea model for the live monitor view. Lines and
// phase changes arrive as messages sent from the coordinator goroutine; the
// quit keys cancel the request, which in turn produces DoneMsg.
type MonitorModel struct {
	port   string
	cancel func()

	logView   *components.LogView
	statusBar *components.StatusBar
	keys      keys.MonitorKeys
	help      help.Model

	showHelp bool
	ready    bool
	quitting bool
	err      error
	width    int
	height   int
}

func NewMonitorModel(port string, baudRate int, cancel func()) *MonitorModel {
	return &MonitorModel{
		port:      port,
		cancel:    cancel,
		logView:   components.NewLogView(80, 24),
		statusBar: components.NewStatusBar(port, baudRate),
		keys:      keys.NewMonitorKeys(),
		help:      help.New(),
	}
}

func (m *MonitorModel) Init() tea.Cmd {
	return nil
}

func (m *MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.statusBar.SetWidth(msg.Width)
		m.help.Width = msg.Width
		m.logView.SetSize(msg.Width, m.contentHeight())
		m.ready = true

	case LineMsg:
		m.logView.AddLine(components.LogLine{Timestamp: msg.Timestamp, Text: msg.Text})

	case PhaseMsg:
		m.statusBar.SetPhase(msg.Phase)

	case DoneMsg:
		m.err = msg.Err
		if msg.Err != nil && !m.quitting {
			m.statusBar.SetError(msg.Err)
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.logView.SetSize(m.width, m.contentHeight())
		case key.Matches(msg, m.keys.Clear):
			m.logView.Clear()
		case key.Matches(msg, m.keys.ToggleTimestamps):
			m.logView.ToggleTimestamps()
		case key.Matches(msg, m.keys.Up):
			m.logView.LineUp()
		case key.Matches(msg, m.keys.Down):
			m.logView.LineDown()
		case key.Matches(msg, m.keys.GotoTop):
			m.logView.GotoTop()
		case key.Matches(msg, m.keys.GotoBottom):
			m.logView.GotoBottom()
		}
	}

	return m, nil
}

func (m *MonitorModel) contentHeight() int {
	h := m.height - 2 // title and status bar
	if m.showHelp {
		h -= 3
	}
	if h < 1 {
		h = 1
	}
	return h
}

func (m *MonitorModel) View() string {
	if !m.ready {
		return styles.InfoStyle.Render("Starting…")
	}

	title := styles.TitleStyle.Render("fwbuild monitor")

	sections := []string{
		title,
		m.logView.View(),
		m.statusBar.View(m.logView.LineCount()),
	}
	if m.err != nil {
		sections = append(sections, styles.ErrorStyle.Render(m.err.Error()))
	}
	if m.showHelp {
		helpView := styles.ContentBorderStyle.Width(m.width).Render(m.help.FullHelpView(m.keys.FullHelp()))
		sections = append(sections, helpView)
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// Err returns the failure reported by DoneMsg, if any
func (m *MonitorModel) Err() error { return m.err }
