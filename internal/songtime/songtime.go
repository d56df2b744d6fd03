// Package songtime fuses a monotonic clock with coarse playhead reports into a
// smooth estimate of the current song position.
//
// The estimate free-runs on clock ticks between reports and is pulled toward the
// playhead only when a fresh (changed) report arrives. Repeated reports never
// apply a correction.
package songtime

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/playhead"
)

const (
	DefaultSmoothing     = 0.5
	DefaultMaxFrameGap   = time.Second
	DefaultJumpThreshold = 250 * time.Millisecond
)

// State is the estimator's mutable state for one playback session.
type State struct {
	Position  time.Duration
	LastTick  clock.Tick
	LastFresh time.Duration
	// HasFresh is false until the first report is seen; it stands in for the
	// "no report yet" sentinel so that a first report of 0 still counts as fresh.
	HasFresh bool
}

// Step applies one plain fusion step: advance by elapsed time, then average with
// the report if it is fresh. It performs no discontinuity checks.
func Step(s State, now clock.Tick, r playhead.Report, smoothing float64) State {
	s.Position += now - s.LastTick
	s.LastTick = now
	if !s.HasFresh || r.Position != s.LastFresh {
		s.Position = blend(s.Position, r.Position, smoothing)
		s.LastFresh = r.Position
		s.HasFresh = true
	}
	return s
}

func blend(estimate, report time.Duration, smoothing float64) time.Duration {
	if smoothing == 0.5 {
		return estimate + (report-estimate)/2
	}
	return estimate + time.Duration(smoothing*float64(report-estimate))
}

// Options tune an Estimator. Zero values select the defaults.
type Options struct {
	// Smoothing is the weight given to a fresh report, in (0, 1].
	Smoothing float64
	// MaxFrameGap bounds the tick step accepted as continuous playback.
	MaxFrameGap time.Duration
	// JumpThreshold is the report-vs-estimate distance treated as a seek or
	// rebuffer rather than drift. Negative disables the check.
	JumpThreshold time.Duration
	Logger        logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.Smoothing <= 0 || o.Smoothing > 1 {
		o.Smoothing = DefaultSmoothing
	}
	if o.MaxFrameGap <= 0 {
		o.MaxFrameGap = DefaultMaxFrameGap
	}
	if o.JumpThreshold == 0 {
		o.JumpThreshold = DefaultJumpThreshold
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Estimator owns one State. It is not safe for concurrent use; a single
// frame loop must drive it.
type Estimator struct {
	opts   Options
	guard  clock.Guard
	state  State
	resets int
}

// New returns an Estimator reset at now.
func New(opts Options, now clock.Tick) *Estimator {
	opts = opts.withDefaults()
	e := &Estimator{
		opts:  opts,
		guard: clock.Guard{MaxGap: opts.MaxFrameGap},
	}
	e.Reset(now)
	return e
}

// Reset restarts the estimate at zero, used on playback start or song restart.
func (e *Estimator) Reset(now clock.Tick) {
	e.state = State{LastTick: now}
}

// State returns a copy of the current state.
func (e *Estimator) State() State {
	return e.state
}

// Position returns the last estimate without advancing.
func (e *Estimator) Position() time.Duration {
	return e.state.Position
}

// Resets counts discontinuity-triggered resyncs since construction.
func (e *Estimator) Resets() int {
	return e.resets
}

// Advance moves the estimate to now and folds in r if it is fresh. Unlike
// Step, a correction that would move the estimate below its previous value is
// clamped there, so the result is not always the plain weighted average.
func (e *Estimator) Advance(now clock.Tick, r playhead.Report) time.Duration {
	return e.step(now, &r)
}

// Tick moves the estimate to now with no playhead information.
func (e *Estimator) Tick(now clock.Tick) time.Duration {
	return e.step(now, nil)
}

// Observe processes queued reports in arrival order, each at its own receive
// tick, then advances to now.
func (e *Estimator) Observe(now clock.Tick, reports []playhead.Report) time.Duration {
	for _, r := range reports {
		at := r.ReceivedAt
		if at < e.state.LastTick {
			at = e.state.LastTick
		}
		if at > now {
			at = now
		}
		e.step(at, &r)
	}
	return e.step(now, nil)
}

func (e *Estimator) step(now clock.Tick, r *playhead.Report) time.Duration {
	prev := e.state.Position
	if err := e.guard.Check(e.state.LastTick, now); err != nil {
		e.resync(now, r, err)
		return e.state.Position
	}
	e.state.Position += now - e.state.LastTick
	e.state.LastTick = now
	if r == nil || !e.isFresh(r.Position) {
		return e.state.Position
	}

	if e.opts.JumpThreshold > 0 && absDuration(r.Position-e.state.Position) > e.opts.JumpThreshold {
		e.opts.Logger.WithFields(logrus.Fields{
			"estimate": e.state.Position,
			"report":   r.Position,
		}).Warn("playhead jumped; snapping estimate")
		e.state.Position = r.Position
		e.markFresh(r.Position)
		e.resets++
		return e.state.Position
	}

	corrected := blend(e.state.Position, r.Position, e.opts.Smoothing)
	// A correction may slow the estimate but never moves it backwards.
	if corrected < prev {
		corrected = prev
	}
	e.state.Position = corrected
	e.markFresh(r.Position)
	return e.state.Position
}

// resync handles a clock discontinuity: the gap is dropped rather than fed into
// the correction, and a fresh report becomes the new ground truth.
func (e *Estimator) resync(now clock.Tick, r *playhead.Report, cause error) {
	fields := logrus.Fields{"last_tick": e.state.LastTick, "now": now}
	e.opts.Logger.WithFields(fields).WithError(cause).Warn("clock discontinuity; resyncing estimate")
	e.state.LastTick = now
	e.resets++
	if r != nil && e.isFresh(r.Position) {
		e.state.Position = r.Position
		e.markFresh(r.Position)
	}
}

func (e *Estimator) isFresh(pos time.Duration) bool {
	return !e.state.HasFresh || pos != e.state.LastFresh
}

func (e *Estimator) markFresh(pos time.Duration) {
	e.state.LastFresh = pos
	e.state.HasFresh = true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
