package tui

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/tuisync/internal/model"
)

// Recorder persists calibration outcomes. *store.Store satisfies it.
type Recorder interface {
	InsertSession(ctx context.Context, rec model.SessionRecord, samples []model.SampleRecord) (string, error)
	SaveLatency(ctx context.Context, rec model.LatencyRecord) error
}

const frameInterval = time.Second / 120

type frameMsg time.Time

func frameCmd() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return frameMsg(t)
	})
}

func ringBell(w io.Writer) {
	if w == nil {
		return
	}
	if _, err := io.WriteString(w, "\a"); err != nil {
		// Best-effort bell.
		_ = err
	}
}

type calibrationKeyMap struct {
	Tap   key.Binding
	Start key.Binding
	Abort key.Binding
	Quit  key.Binding
}

func (k calibrationKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tap, k.Start, k.Abort, k.Quit}
}

func (k calibrationKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newCalibrationKeys() calibrationKeyMap {
	return calibrationKeyMap{
		Tap:   key.NewBinding(key.WithKeys(" ", "j", "f"), key.WithHelp("space", "tap")),
		Start: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "start")),
		Abort: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "abort")),
		Quit:  key.NewBinding(key.WithKeys("ctrl+c", "q"), key.WithHelp("q", "quit")),
	}
}

type fineTuneKeyMap struct {
	Earlier   key.Binding
	Later     key.Binding
	Coarse    key.Binding
	Commit    key.Binding
	Cancel    key.Binding
	ForceQuit key.Binding
}

func (k fineTuneKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Earlier, k.Later, k.Coarse, k.Commit, k.Cancel}
}

func (k fineTuneKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func newFineTuneKeys() fineTuneKeyMap {
	return fineTuneKeyMap{
		Earlier:   key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "-1 step")),
		Later:     key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "+1 step")),
		Coarse:    key.NewBinding(key.WithKeys("H", "L"), key.WithHelp("H/L", "±10 steps")),
		Commit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "save")),
		Cancel:    key.NewBinding(key.WithKeys("esc", "q"), key.WithHelp("esc", "cancel")),
		ForceQuit: key.NewBinding(key.WithKeys("ctrl+c")),
	}
}

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	textStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#B0B0B0"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	flashOnStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#F0F0F0")).
			Width(12).
			Height(5)
	flashOffStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A")).
			Width(10).
			Height(3)
)

func place(width, height int, content, footer string) string {
	if width == 0 || height == 0 {
		if footer == "" {
			return content
		}
		return content + "\n\n" + footer
	}
	if footer == "" || height < 3 {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, content)
	}
	body := lipgloss.Place(width, height-1, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}
