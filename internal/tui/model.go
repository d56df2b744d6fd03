// Package tui provides the Bubble Tea calibration and fine-tune interfaces.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/tuisync/internal/calibration"
	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/metronome"
	"github.com/verte-zerg/tuisync/internal/model"
	"github.com/verte-zerg/tuisync/internal/stats"
)

const flashDuration = 90 * time.Millisecond

type phase int

const (
	phaseIntro phase = iota
	phaseRunning
	phaseResult
)

// Options wire a calibration Model.
type Options struct {
	Calibrator *calibration.Calibrator
	Clock      clock.Source
	Metronome  *metronome.Metronome
	Recorder   Recorder
	Config     model.CalibrationConfig
	// Kinds lists the sessions to run in order; empty runs audio then video.
	Kinds []calibration.Kind
	// Bell receives the audio cue; nil disables it.
	Bell   io.Writer
	Logger logrus.FieldLogger
}

// Model implements the Bubble Tea calibration UI.
type Model struct {
	cal   *calibration.Calibrator
	src   clock.Source
	metro *metronome.Metronome
	rec   Recorder
	cfg   model.CalibrationConfig
	bell  io.Writer
	log   logrus.FieldLogger

	kinds []calibration.Kind
	step  int
	phase phase

	armed      bool
	armedBeat  int
	cues       int
	lastCueAt  clock.Tick
	flashUntil clock.Tick
	now        clock.Tick

	lastTap     string
	status      string
	needMore    bool
	results     []calibration.Result
	failed      error
	quitting    bool
	width       int
	height      int
	progressBar progress.Model
	help        help.Model
	keys        calibrationKeyMap
}

// NewModel constructs a calibration TUI model.
func NewModel(opts Options) *Model {
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = []calibration.Kind{calibration.Audio, calibration.Video}
	}
	m := &Model{
		cal:         opts.Calibrator,
		src:         opts.Clock,
		metro:       opts.Metronome,
		rec:         opts.Recorder,
		cfg:         opts.Config,
		bell:        opts.Bell,
		log:         logging.OrDiscard(opts.Logger),
		kinds:       kinds,
		progressBar: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		help:        help.New(),
		keys:        newCalibrationKeys(),
	}
	m.syncKeys()
	return m
}

// Results returns the finalized sessions in completion order.
func (m *Model) Results() []calibration.Result {
	return m.results
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progressBar.Width = max(10, min(msg.Width-8, 60))
		m.help.Width = msg.Width
		return m, nil
	case frameMsg:
		if m.phase != phaseRunning {
			return m, nil
		}
		m.onFrame(m.src.Now())
		if m.phase != phaseRunning {
			return m, nil
		}
		return m, frameCmd()
	case tea.KeyMsg:
		return m.handleKey(msg)
	default:
		return m, nil
	}
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.cal.Abort()
		m.quitting = true
		return m, tea.Quit
	}
	switch m.phase {
	case phaseIntro:
		switch {
		case key.Matches(msg, m.keys.Start):
			return m, m.startSession()
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	case phaseRunning:
		switch {
		case key.Matches(msg, m.keys.Tap):
			m.tap()
		case key.Matches(msg, m.keys.Abort):
			m.abort()
		}
	case phaseResult:
		switch {
		case key.Matches(msg, m.keys.Start):
			if m.failed != nil || m.step+1 >= len(m.kinds) {
				m.quitting = true
				return m, tea.Quit
			}
			m.step++
			m.phase = phaseIntro
			m.status = ""
			m.syncKeys()
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) kind() calibration.Kind {
	return m.kinds[m.step]
}

func (m *Model) startSession() tea.Cmd {
	if _, err := m.cal.Start(m.kind()); err != nil {
		m.status = err.Error()
		if errors.Is(err, calibration.ErrAudioRequired) {
			m.status = "Run the audio test first (or enable allow-video-first)."
		}
		return nil
	}
	now := m.src.Now()
	m.now = now
	m.metro.Start(now)
	m.armed = false
	m.cues = 0
	m.flashUntil = 0
	m.lastTap = ""
	m.status = ""
	m.needMore = false
	m.phase = phaseRunning
	m.syncKeys()
	return frameCmd()
}

func (m *Model) onFrame(now clock.Tick) {
	m.now = now
	interval := m.metro.Interval()
	// Register each cue half a beat early so anticipating taps attribute to it.
	if !m.armed && now >= m.metro.Next()-interval/2 {
		if beat, err := m.cal.Stimulus(m.metro.Next()); err == nil {
			m.armed = true
			m.armedBeat = beat
		}
	}
	if at, _, ok := m.metro.Due(now); ok {
		beat := m.armedBeat
		if !m.armed {
			var err error
			if beat, err = m.cal.Stimulus(at); err != nil {
				m.log.WithError(err).Warn("failed to register stimulus")
			}
		}
		m.armed = false
		m.fireCue(now)
		// The cue leaves on this frame, not at its scheduled tick.
		if err := m.cal.Retime(beat, now); err != nil {
			m.log.WithError(err).Debug("cue emitted without a pending stimulus")
		}
		m.cues++
		m.lastCueAt = now
	}

	sess := m.cal.Active()
	if sess == nil || sess.Elapsed(now) < sess.MinDuration() {
		return
	}
	res, err := m.cal.Finish()
	switch {
	case errors.Is(err, calibration.ErrInsufficientData):
		if !m.needMore {
			m.needMore = true
			m.status = "Not enough taps yet; keep tapping."
		}
	case err != nil:
		m.failed = err
		m.needMore = false
		m.status = ""
		m.phase = phaseResult
		m.syncKeys()
	default:
		m.needMore = false
		m.status = ""
		m.results = append(m.results, res)
		m.persist(res)
		m.phase = phaseResult
		m.syncKeys()
	}
}

func (m *Model) fireCue(at clock.Tick) {
	switch m.kind() {
	case calibration.Audio:
		if m.cfg.Bell {
			ringBell(m.bell)
		}
	case calibration.Video:
		m.flashUntil = at + flashDuration
	}
}

func (m *Model) tap() {
	smp, err := m.cal.Respond()
	switch {
	case errors.Is(err, calibration.ErrUnattributedResponse):
		m.lastTap = "ignored (no cue pending)"
	case err != nil:
		m.lastTap = err.Error()
	default:
		m.lastTap = fmt.Sprintf("%+.1fms", stats.Millis(smp.Latency))
	}
}

func (m *Model) abort() {
	m.cal.Abort()
	m.phase = phaseIntro
	m.status = "Aborted; latency settings unchanged."
	m.syncKeys()
}

func (m *Model) persist(res calibration.Result) {
	if m.rec == nil {
		return
	}
	ctx := context.Background()
	rec, samples := res.Records(time.Now())
	if _, err := m.rec.InsertSession(ctx, rec, samples); err != nil {
		m.log.WithError(err).Error("failed to save calibration session")
		m.status = "Failed to save session history."
	}
	current := m.cal.Settings()
	err := m.rec.SaveLatency(ctx, model.LatencyRecord{
		Audio:     current.Audio,
		Video:     current.Video,
		Source:    "calibration:" + res.Kind.String(),
		UpdatedAt: rec.EndedAt,
	})
	if err != nil {
		m.log.WithError(err).Error("failed to save latency settings")
		m.status = "Failed to save latency settings."
	}
}

func (m *Model) syncKeys() {
	m.keys.Tap.SetEnabled(m.phase == phaseRunning)
	m.keys.Abort.SetEnabled(m.phase == phaseRunning)
	m.keys.Start.SetEnabled(m.phase != phaseRunning)
	m.keys.Quit.SetEnabled(m.phase != phaseRunning)
	switch {
	case m.phase == phaseResult && (m.failed != nil || m.step+1 >= len(m.kinds)):
		m.keys.Start.SetHelp("enter", "finish")
	case m.phase == phaseResult:
		m.keys.Start.SetHelp("enter", "next test")
	default:
		m.keys.Start.SetHelp("enter", "start")
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var content string
	switch m.phase {
	case phaseIntro:
		content = m.viewIntro()
	case phaseRunning:
		content = m.viewRunning()
	case phaseResult:
		content = m.viewResult()
	}
	footer := m.renderFooter()
	if h := m.help.View(m.keys); h != "" {
		if footer != "" {
			footer += "  "
		}
		footer += h
	}
	return place(m.width, m.height, content, footer)
}

func (m *Model) viewIntro() string {
	lines := []string{titleStyle.Render(fmt.Sprintf("%s latency test (%d/%d)", title(m.kind()), m.step+1, len(m.kinds)))}
	switch m.kind() {
	case calibration.Audio:
		lines = append(lines, textStyle.Render("Tap space in time with the beeps. Keep your eyes closed if you can."))
		if !m.cfg.Bell {
			lines = append(lines, warnStyle.Render("The bell is disabled; enable it to hear the cue."))
		}
	case calibration.Video:
		lines = append(lines, textStyle.Render("Tap space in time with the flashing box. The test is silent."))
		if audio, ok := m.cal.AudioResult(); ok {
			lines = append(lines, textStyle.Render(fmt.Sprintf("Your input delay of %s (audio test) is subtracted.", stats.FormatMillis(audio))))
		}
	}
	lines = append(lines, textStyle.Render(fmt.Sprintf("Runs for at least %s.", m.minDuration())))
	if m.status != "" {
		lines = append(lines, "", accentStyle.Render(m.status))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) viewRunning() string {
	lines := []string{titleStyle.Render(title(m.kind()) + " latency test"), ""}
	if m.kind() == calibration.Video {
		if m.now < m.flashUntil {
			lines = append(lines, flashOnStyle.Render(""))
		} else {
			lines = append(lines, flashOffStyle.Render(""))
		}
		lines = append(lines, "")
	}
	percent := 0.0
	if sess := m.cal.Active(); sess != nil && sess.MinDuration() > 0 {
		percent = min(1, float64(sess.Elapsed(m.now))/float64(sess.MinDuration()))
	}
	lines = append(lines, m.progressBar.ViewAs(percent))
	if m.status != "" {
		lines = append(lines, accentStyle.Render(m.status))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) viewResult() string {
	if m.failed != nil {
		return warnStyle.Render("Calibration failed: " + m.failed.Error())
	}
	res := m.results[len(m.results)-1]
	lines := []string{
		titleStyle.Render(fmt.Sprintf("%s latency: %s", title(res.Kind), stats.FormatMillis(res.Latency))),
		textStyle.Render(fmt.Sprintf("%d samples, %d rejected, %d missed", len(res.Samples)-res.Rejected, res.Rejected, res.Misses)),
	}
	if res.Kind == calibration.Video && res.Correction != 0 {
		lines = append(lines, textStyle.Render("Input delay subtracted: "+stats.FormatMillis(res.Correction)))
	}
	if res.DoubleCountsInput {
		lines = append(lines, warnStyle.Render("Measured without an audio baseline: includes your input delay."))
	}
	lines = append(lines, "", accentStyle.Render("Published "+m.cal.Settings().String()))
	if m.status != "" {
		lines = append(lines, warnStyle.Render(m.status))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) renderFooter() string {
	if m.phase != phaseRunning {
		return ""
	}
	sess := m.cal.Active()
	if sess == nil {
		return ""
	}
	segments := []string{fmt.Sprintf("Samples %d", len(sess.Samples()))}
	if misses := sess.Misses(); misses > 0 {
		segments = append(segments, fmt.Sprintf("Missed %d", misses))
	}
	if m.lastTap != "" {
		segments = append(segments, "Last "+m.lastTap)
	}
	return footerStyle.Render(strings.Join(segments, " · "))
}

func (m *Model) minDuration() time.Duration {
	if m.cfg.MinDuration > 0 {
		return m.cfg.MinDuration
	}
	return calibration.DefaultMinDuration
}

func title(k calibration.Kind) string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}
