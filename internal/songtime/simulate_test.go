package songtime

import (
	"testing"
	"time"

	"github.com/verte-zerg/tuisync/internal/playhead"
)

func maxAbsAfter(errs []time.Duration, skip int) time.Duration {
	var worst time.Duration
	for _, e := range errs[min(skip, len(errs)):] {
		worst = max(worst, absDuration(e))
	}
	return worst
}

func TestSimulateTracksQuantizedPlayhead(t *testing.T) {
	trace := Simulate(Options{}, Scenario{
		Duration: 3 * time.Second,
		Frame:    time.Millisecond,
		Quantum:  10 * time.Millisecond,
	})
	if trace.Frames != 3000 || len(trace.Errors) != trace.Frames {
		t.Fatalf("unexpected frame count %d/%d", trace.Frames, len(trace.Errors))
	}
	if trace.Resets != 0 {
		t.Fatalf("unexpected resets %d", trace.Resets)
	}
	if worst := maxAbsAfter(trace.Errors, 100); worst > 10*time.Millisecond {
		t.Fatalf("estimate drifted %v from song time", worst)
	}
}

func TestSimulateIgnoresFrozenReports(t *testing.T) {
	trace := Simulate(Options{}, Scenario{
		Duration: 2 * time.Second,
		Frame:    2 * time.Millisecond,
		Quantum:  10 * time.Millisecond,
		Stalls:   []playhead.Stall{{From: 500 * time.Millisecond, To: 900 * time.Millisecond}},
	})
	if trace.Resets != 0 {
		t.Fatalf("frozen reports must not resync, got %d resets", trace.Resets)
	}
	if worst := maxAbsAfter(trace.Errors, 50); worst > 10*time.Millisecond {
		t.Fatalf("stale reports pulled the estimate by %v", worst)
	}
}

func TestSimulateHitchResyncs(t *testing.T) {
	trace := Simulate(Options{}, Scenario{
		Duration: 5 * time.Second,
		Frame:    4 * time.Millisecond,
		Quantum:  20 * time.Millisecond,
		Hitch:    2 * time.Second,
	})
	if trace.Resets != 1 {
		t.Fatalf("expected one resync, got %d", trace.Resets)
	}
	if worst := maxAbsAfter(trace.Errors, 50); worst > 20*time.Millisecond {
		t.Fatalf("estimate did not recover after hitch: %v", worst)
	}
}

func TestSimulateIsDeterministicPerSeed(t *testing.T) {
	sc := Scenario{
		Duration:    time.Second,
		Frame:       8 * time.Millisecond,
		FrameJitter: 3 * time.Millisecond,
		Quantum:     10 * time.Millisecond,
		Seed:        7,
	}
	a := Simulate(Options{}, sc)
	b := Simulate(Options{}, sc)
	if a.Frames != b.Frames {
		t.Fatalf("frame counts differ: %d vs %d", a.Frames, b.Frames)
	}
	for i := range a.Errors {
		if a.Errors[i] != b.Errors[i] {
			t.Fatalf("frame %d differs: %v vs %v", i, a.Errors[i], b.Errors[i])
		}
	}
}
