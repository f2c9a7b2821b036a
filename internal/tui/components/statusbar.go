package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/allbin/fwbuild/internal/tui/colors"
)

// StatusBar renders the bottom bar of the monitor view: current phase, port,
// baud rate, line count and session clock.
type StatusBar struct {
	port     string
	baudRate int
	phase    string
	err      error
	started  time.Time
	width    int
}

func NewStatusBar(port string, baudRate int) *StatusBar {
	return &StatusBar{
		port:     port,
		baudRate: baudRate,
		phase:    "starting",
		started:  time.Now(),
	}
}

func (sb *StatusBar) SetWidth(width int) {
	sb.width = width
}

func (sb *StatusBar) SetPhase(phase string) {
	sb.phase = phase
}

func (sb *StatusBar) SetError(err error) {
	sb.err = err
	if err != nil {
		sb.phase = "failed"
	}
}

func (sb *StatusBar) View(lineCount int) string {
	width := sb.width
	if width <= 0 {
		width = 80
	}

	phase := lipgloss.NewStyle().
		Foreground(colors.Base).
		Background(phaseColor(sb.phase)).
		Bold(true).
		Padding(0, 1).
		Render(sb.phase)

	portStyle := lipgloss.NewStyle().
		Foreground(colors.Mauve).
		Bold(true).
		Padding(0, 1)
	port := portStyle.Render(sb.port)

	var indicator string
	switch {
	case sb.err != nil:
		indicator = lipgloss.NewStyle().Foreground(colors.Red).Render("✗")
	case sb.phase == "monitoring":
		indicator = lipgloss.NewStyle().Foreground(colors.Green).Render("●")
	default:
		indicator = lipgloss.NewStyle().Foreground(colors.Yellow).Render("○")
	}

	detailStyle := lipgloss.NewStyle().
		Foreground(colors.Subtext0).
		Padding(0, 1)
	details := detailStyle.Render(fmt.Sprintf("⚡ %d baud │ %d lines", sb.baudRate, lineCount))

	clockStyle := lipgloss.NewStyle().
		Foreground(colors.Subtext1).
		Padding(0, 1)
	clock := clockStyle.Render(time.Since(sb.started).Round(time.Second).String())

	left := lipgloss.JoinHorizontal(lipgloss.Left, phase, port, indicator)
	right := lipgloss.JoinHorizontal(lipgloss.Left, details, clock)

	spacerWidth := width - lipgloss.Width(left) - lipgloss.Width(right)
	if spacerWidth < 1 {
		spacerWidth = 1
	}
	spacer := lipgloss.NewStyle().Width(spacerWidth).Render("")

	barStyle := lipgloss.NewStyle().
		Foreground(colors.Text).
		Background(colors.Surface0).
		Width(width)

	return barStyle.Render(lipgloss.JoinHorizontal(lipgloss.Left, left, spacer, right))
}

func phaseColor(phase string) lipgloss.Color {
	switch phase {
	case "building":
		return colors.Yellow
	case "deploying":
		return colors.Peach
	case "monitoring":
		return colors.Green
	case "failed":
		return colors.Red
	default:
		return colors.Blue
	}
}
