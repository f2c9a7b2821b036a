package components

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/allbin/fwbuild/internal/tui/styles"
)

// LogLine is one line of monitor output with its arrival time
type LogLine struct {
	Timestamp time.Time
	Text      string
}

// LogView is a scrolling viewport over monitor output. New lines keep the
// view pinned to the bottom unless the user scrolled up.
type LogView struct {
	viewport       viewport.Model
	lines          []LogLine
	showTimestamps bool
}

func NewLogView(width, height int) *LogView {
	vp := viewport.New(width, height)
	return &LogView{
		viewport:       vp,
		lines:          make([]LogLine, 0),
		showTimestamps: true,
	}
}

func (l *LogView) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
	l.refresh()
}

func (l *LogView) AddLine(line LogLine) {
	atBottom := l.viewport.AtBottom()
	l.lines = append(l.lines, line)
	l.refresh()
	if atBottom {
		l.viewport.GotoBottom()
	}
}

func (l *LogView) Clear() {
	l.lines = make([]LogLine, 0)
	l.viewport.SetContent("")
}

func (l *LogView) ToggleTimestamps() {
	l.showTimestamps = !l.showTimestamps
	l.refresh()
}

func (l *LogView) ShowingTimestamps() bool {
	return l.showTimestamps
}

func (l *LogView) LineCount() int {
	return len(l.lines)
}

func (l *LogView) LineUp()     { l.viewport.LineUp(1) }
func (l *LogView) LineDown()   { l.viewport.LineDown(1) }
func (l *LogView) GotoTop()    { l.viewport.GotoTop() }
func (l *LogView) GotoBottom() { l.viewport.GotoBottom() }

func (l *LogView) refresh() {
	rendered := make([]string, len(l.lines))
	for i, line := range l.lines {
		rendered[i] = l.render(line)
	}
	l.viewport.SetContent(strings.Join(rendered, "\n"))
}

func (l *LogView) render(line LogLine) string {
	if !l.showTimestamps {
		return line.Text
	}
	ts := styles.TimestampStyle.Render(line.Timestamp.Format("15:04:05.000"))
	return ts + " " + line.Text
}

func (l *LogView) Update(msg tea.Msg) (viewport.Model, tea.Cmd) {
	// Only pass certain message types to the viewport to keep it from
	// consuming our key bindings
	switch msg.(type) {
	case tea.WindowSizeMsg:
		return l.viewport.Update(msg)
	default:
		return l.viewport, nil
	}
}

func (l *LogView) View() string {
	return l.viewport.View()
}
