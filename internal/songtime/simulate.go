package songtime

import (
	"math/rand"
	"time"

	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/playhead"
)

// Scenario describes a headless playback run against a simulated backend.
type Scenario struct {
	Duration time.Duration
	// Frame is the nominal render interval; FrameJitter widens each step by a
	// uniform amount in [-FrameJitter, FrameJitter].
	Frame         time.Duration
	FrameJitter   time.Duration
	Quantum       time.Duration
	OutputLatency time.Duration
	Stalls        []playhead.Stall
	// Hitch, when positive, stretches one frame halfway through the run.
	Hitch time.Duration
	Seed  int64
}

// Trace is the outcome of Simulate.
type Trace struct {
	// Errors holds estimate minus true song time, one entry per frame.
	Errors []time.Duration
	Resets int
	Frames int
}

// Simulate drives an Estimator frame by frame against a quantized playhead and
// records its error relative to the unquantized, unstalled song time.
func Simulate(opts Options, sc Scenario) Trace {
	if sc.Frame <= 0 {
		sc.Frame = time.Second / 60
	}
	rnd := rand.New(rand.NewSource(sc.Seed))
	src := clock.NewManual(0)
	backend := playhead.NewSimulated(sc.Quantum, sc.OutputLatency, sc.Stalls...)
	sampler := playhead.NewSampler()
	est := New(opts, src.Now())
	backend.Start(src.Now())

	var trace Trace
	hitched := sc.Hitch <= 0
	for src.Now() < sc.Duration {
		step := sc.Frame
		if sc.FrameJitter > 0 {
			step += time.Duration(rnd.Int63n(int64(2*sc.FrameJitter)+1)) - sc.FrameJitter
		}
		if step <= 0 {
			step = time.Millisecond
		}
		if !hitched && src.Now() >= sc.Duration/2 {
			step += sc.Hitch
			hitched = true
		}
		now := src.Advance(step)
		playhead.Poll(backend, sampler, now)
		pos := est.Observe(now, sampler.Drain())
		truth := max(now-sc.OutputLatency, 0)
		trace.Errors = append(trace.Errors, pos-truth)
		trace.Frames++
	}
	backend.Stop()
	trace.Resets = est.Resets()
	return trace
}
