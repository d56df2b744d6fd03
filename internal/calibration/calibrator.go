package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/settings"
)

var (
	// ErrAudioRequired means a video session was started before an audio result existed.
	ErrAudioRequired = errors.New("audio calibration must finish before video")
	// ErrSessionActive means another session is still running.
	ErrSessionActive = errors.New("calibration session already running")
	// ErrNoSession means there is no running session.
	ErrNoSession = errors.New("no calibration session running")
)

// Calibrator runs sessions one at a time and publishes finalized results.
//
// The audio session runs first; its result is subtracted from every video
// sample so the player's input delay is not counted twice.
type Calibrator struct {
	src      clock.Source
	pub      *settings.Publisher
	opts     Options
	log      logrus.FieldLogger
	active   *Session
	audio    time.Duration
	hasAudio bool
}

// NewCalibrator returns a Calibrator reading ticks from src and publishing to pub.
func NewCalibrator(src clock.Source, pub *settings.Publisher, opts Options) *Calibrator {
	opts = opts.withDefaults()
	return &Calibrator{
		src:  src,
		pub:  pub,
		opts: opts,
		log:  opts.Logger,
	}
}

// UseAudioResult seeds the audio baseline from an earlier finalized audio session.
func (c *Calibrator) UseAudioResult(d time.Duration) {
	c.audio = d
	c.hasAudio = true
}

// AudioResult returns the audio baseline, if any.
func (c *Calibrator) AudioResult() (time.Duration, bool) {
	return c.audio, c.hasAudio
}

// Active returns the running session or nil.
func (c *Calibrator) Active() *Session {
	return c.active
}

// Settings returns the published latency pair.
func (c *Calibrator) Settings() settings.Latency {
	return c.pub.Load()
}

// Start opens a session of the given kind.
func (c *Calibrator) Start(kind Kind) (*Session, error) {
	if c.active != nil && !c.active.Closed() {
		return nil, ErrSessionActive
	}
	s := NewSession(kind, c.opts, c.src.Now())
	if kind == Video {
		switch {
		case c.hasAudio:
			s.SetCorrection(c.audio)
		case c.opts.AllowVideoFirst:
			c.log.Warn("video calibration without audio baseline; result double counts input latency")
		default:
			return nil, ErrAudioRequired
		}
	}
	c.active = s
	return s, nil
}

// Stimulus registers a cue on the running session.
func (c *Calibrator) Stimulus(at clock.Tick) (int, error) {
	if c.active == nil || c.active.Closed() {
		return 0, ErrNoSession
	}
	return c.active.Stimulus(at), nil
}

// Retime restamps beat on the running session with its emission tick.
func (c *Calibrator) Retime(beat int, at clock.Tick) error {
	if c.active == nil || c.active.Closed() {
		return ErrNoSession
	}
	if !c.active.Retime(beat, at) {
		return fmt.Errorf("beat %d is not pending", beat)
	}
	return nil
}

// Respond records a response at the current tick on the running session.
func (c *Calibrator) Respond() (Sample, error) {
	if c.active == nil || c.active.Closed() {
		return Sample{}, ErrNoSession
	}
	return c.active.Respond(c.src.Now())
}

// Finish finalizes the running session and publishes the new latency pair.
// On error the session stays open and published settings are unchanged.
func (c *Calibrator) Finish() (Result, error) {
	if c.active == nil || c.active.Closed() {
		return Result{}, ErrNoSession
	}
	res, err := c.active.Finalize(c.src.Now())
	if err != nil {
		return Result{}, err
	}
	next := c.pub.Load()
	switch res.Kind {
	case Audio:
		next.Audio = res.Latency
		c.audio = res.Latency
		c.hasAudio = true
	case Video:
		_, corrected := c.active.Correction()
		res.DoubleCountsInput = !corrected
		next.Video = res.Latency
	}
	version := c.pub.Publish(next)
	c.log.WithFields(logrus.Fields{
		"kind":    res.Kind.String(),
		"version": version,
		"audio":   next.Audio,
		"video":   next.Video,
	}).Info("latency settings published")
	c.active = nil
	return res, nil
}

// Abort discards the running session. Published settings are untouched.
func (c *Calibrator) Abort() {
	if c.active == nil {
		return
	}
	c.active.Abort()
	c.active = nil
}

// DefaultFineTuneStep is the default manual nudge increment.
const DefaultFineTuneStep = time.Millisecond

// FineTuner adjusts the published video latency by hand.
type FineTuner struct {
	pub   *settings.Publisher
	step  time.Duration
	audio time.Duration
	base  time.Duration
	value time.Duration
}

// NewFineTuner starts from the currently published video latency.
func NewFineTuner(pub *settings.Publisher, step time.Duration) *FineTuner {
	if step <= 0 {
		step = DefaultFineTuneStep
	}
	cur := pub.Load()
	return &FineTuner{pub: pub, step: step, audio: cur.Audio, base: cur.Video, value: cur.Video}
}

// Audio returns the audio latency the loop is corrected for.
func (f *FineTuner) Audio() time.Duration {
	return f.audio
}

// Nudge moves the working value by steps increments and returns it.
func (f *FineTuner) Nudge(steps int) time.Duration {
	f.value += time.Duration(steps) * f.step
	return f.value
}

// Value returns the working video latency.
func (f *FineTuner) Value() time.Duration {
	return f.value
}

// Delta returns the working value's distance from where tuning started.
func (f *FineTuner) Delta() time.Duration {
	return f.value - f.base
}

// Step returns the nudge increment.
func (f *FineTuner) Step() time.Duration {
	return f.step
}

// Commit publishes the working value as the video latency.
func (f *FineTuner) Commit() settings.Latency {
	next := f.pub.Load()
	next.Video = f.value
	f.pub.Publish(next)
	f.base = f.value
	return next
}

// Cancel discards the working value.
func (f *FineTuner) Cancel() {
	f.value = f.base
}
