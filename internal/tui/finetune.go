package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/tuisync/internal/calibration"
	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/model"
	"github.com/verte-zerg/tuisync/internal/playhead"
	"github.com/verte-zerg/tuisync/internal/render"
	"github.com/verte-zerg/tuisync/internal/settings"
	"github.com/verte-zerg/tuisync/internal/songtime"
	"github.com/verte-zerg/tuisync/internal/stats"
)

const (
	defaultLaneLength = 40
	coarseSteps       = 10
)

// FineTuneOptions wire a FineTuneModel.
type FineTuneOptions struct {
	Tuner     *calibration.FineTuner
	Clock     clock.Source
	Backend   playhead.Backend
	Estimator songtime.Options
	BPM       float64
	LaneWidth int
	Recorder  Recorder
	Bell      io.Writer
	Logger    logrus.FieldLogger
}

// FineTuneModel loops a click track with falling notes so the player can
// nudge video latency until sound and picture line up.
type FineTuneModel struct {
	tuner    *calibration.FineTuner
	src      clock.Source
	backend  playhead.Backend
	sampler  *playhead.Sampler
	est      *songtime.Estimator
	interval time.Duration
	lane     render.Lane
	rec      Recorder
	bell     io.Writer
	log      logrus.FieldLogger

	pos       time.Duration
	lastBeat  int
	committed *settings.Latency
	quitting  bool

	width  int
	height int
	help   help.Model
	keys   fineTuneKeyMap
}

// NewFineTuneModel constructs a fine-tune TUI model.
func NewFineTuneModel(opts FineTuneOptions) *FineTuneModel {
	bpm := opts.BPM
	if bpm <= 0 {
		bpm = 100
	}
	interval := time.Duration(float64(time.Minute) / bpm)
	length := opts.LaneWidth
	if length <= 1 {
		length = defaultLaneLength
	}
	log := logging.OrDiscard(opts.Logger)
	estOpts := opts.Estimator
	estOpts.Logger = log
	return &FineTuneModel{
		tuner:    opts.Tuner,
		src:      opts.Clock,
		backend:  opts.Backend,
		sampler:  playhead.NewSampler(),
		est:      songtime.New(estOpts, opts.Clock.Now()),
		interval: interval,
		lane:     render.Lane{Length: length, Lead: interval},
		rec:      opts.Recorder,
		bell:     opts.Bell,
		log:      log,
		lastBeat: -1,
		help:     help.New(),
		keys:     newFineTuneKeys(),
	}
}

// Committed returns the published pair when the player saved.
func (m *FineTuneModel) Committed() (settings.Latency, bool) {
	if m.committed == nil {
		return settings.Latency{}, false
	}
	return *m.committed, true
}

// Init implements tea.Model.
func (m *FineTuneModel) Init() tea.Cmd {
	now := m.src.Now()
	m.sampler.Reset()
	m.est.Reset(now)
	m.backend.Start(now)
	return frameCmd()
}

// Update implements tea.Model.
func (m *FineTuneModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil
	case frameMsg:
		if m.quitting {
			return m, nil
		}
		m.onFrame(m.src.Now())
		return m, frameCmd()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Earlier):
			m.tuner.Nudge(-1)
		case key.Matches(msg, m.keys.Later):
			m.tuner.Nudge(1)
		case key.Matches(msg, m.keys.Coarse):
			if msg.String() == "H" {
				m.tuner.Nudge(-coarseSteps)
			} else {
				m.tuner.Nudge(coarseSteps)
			}
		case key.Matches(msg, m.keys.Commit):
			m.commit()
			return m, m.quit()
		case key.Matches(msg, m.keys.Cancel, m.keys.ForceQuit):
			m.tuner.Cancel()
			return m, m.quit()
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m *FineTuneModel) onFrame(now clock.Tick) {
	playhead.Poll(m.backend, m.sampler, now)
	m.pos = m.est.Observe(now, m.sampler.Drain())
	// Clicks leave early by the audio latency so they are heard on the beat.
	click := m.pos + m.tuner.Audio()
	if click < 0 {
		return
	}
	beat := int(click / m.interval)
	if beat > m.lastBeat {
		m.lastBeat = beat
		if beat > 0 {
			ringBell(m.bell)
		}
	}
}

func (m *FineTuneModel) commit() {
	next := m.tuner.Commit()
	m.committed = &next
	m.log.WithField("video", next.Video).Info("video latency fine-tuned")
	if m.rec == nil {
		return
	}
	err := m.rec.SaveLatency(context.Background(), model.LatencyRecord{
		Audio:     next.Audio,
		Video:     next.Video,
		Source:    "finetune",
		UpdatedAt: time.Now(),
	})
	if err != nil {
		m.log.WithError(err).Error("failed to save latency settings")
	}
}

func (m *FineTuneModel) quit() tea.Cmd {
	m.quitting = true
	m.backend.Stop()
	return tea.Quit
}

// View implements tea.Model.
func (m *FineTuneModel) View() string {
	if m.quitting {
		return ""
	}
	video := m.tuner.Value()
	var offsets []time.Duration
	for k := max(m.lastBeat, 0); k <= m.lastBeat+2; k++ {
		offsets = append(offsets, render.Offset(time.Duration(k)*m.interval, m.pos, video))
	}
	lines := []string{
		titleStyle.Render("Fine-tune video latency"),
		textStyle.Render("Adjust until each note reaches the bar exactly on the click."),
		"",
		accentStyle.Render(drawLane(m.lane, offsets)),
		"",
		titleStyle.Render(fmt.Sprintf("video %s (%+.0f steps)", stats.FormatMillis(video), float64(m.tuner.Delta())/float64(m.tuner.Step()))),
	}
	return place(m.width, m.height, strings.Join(lines, "\n"), m.help.View(m.keys))
}

// drawLane renders a horizontal lane whose last cell is the hit line.
func drawLane(lane render.Lane, offsets []time.Duration) string {
	if lane.Length <= 0 {
		return ""
	}
	cells := make([]rune, lane.Length)
	for i := range cells {
		cells[i] = '·'
	}
	cells[len(cells)-1] = '┃'
	for _, off := range offsets {
		if c, ok := lane.Cell(off); ok {
			cells[c] = '●'
		}
	}
	return string(cells)
}
