package songtime

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/playhead"
)

const frame = 16 * time.Millisecond

func report(pos, at time.Duration) playhead.Report {
	return playhead.Report{Position: pos, ReceivedAt: at}
}

func TestMonotonicUnderSteadyPlayback(t *testing.T) {
	e := New(Options{}, 0)
	backend := playhead.NewSimulated(50*time.Millisecond, 0)
	backend.Start(0)

	var last time.Duration
	for i := 1; i <= 500; i++ {
		now := time.Duration(i) * frame
		pos, _ := backend.Position(now)
		got := e.Advance(now, report(pos, now))
		if got < last {
			t.Fatalf("frame %d: estimate went backwards %v -> %v", i, last, got)
		}
		last = got
	}
}

func TestStaleReportAppliesSmoothingOnce(t *testing.T) {
	e := New(Options{}, 0)
	e.Advance(0, report(0, 0))

	// Estimate runs to 100ms; fresh report at 60ms pulls it to 80ms.
	got := e.Advance(100*time.Millisecond, report(60*time.Millisecond, 100*time.Millisecond))
	if got != 80*time.Millisecond {
		t.Fatalf("expected 80ms after fresh report, got %v", got)
	}
	// Same report again within the same tick: no further correction.
	got = e.Advance(100*time.Millisecond, report(60*time.Millisecond, 100*time.Millisecond))
	if got != 80*time.Millisecond {
		t.Fatalf("expected stale report to leave estimate at 80ms, got %v", got)
	}
	// Stale report on a later tick: pure free-run.
	got = e.Advance(116*time.Millisecond, report(60*time.Millisecond, 116*time.Millisecond))
	if got != 96*time.Millisecond {
		t.Fatalf("expected free-run to 96ms, got %v", got)
	}
}

func TestStepMatchesAverageFormula(t *testing.T) {
	s := State{Position: 100 * time.Millisecond, LastTick: 0, LastFresh: 40 * time.Millisecond, HasFresh: true}
	s = Step(s, 20*time.Millisecond, report(40*time.Millisecond, 20*time.Millisecond), 0.5)
	if s.Position != 120*time.Millisecond {
		t.Fatalf("stale step should only advance, got %v", s.Position)
	}
	s = Step(s, 40*time.Millisecond, report(100*time.Millisecond, 40*time.Millisecond), 0.5)
	if s.Position != 120*time.Millisecond {
		t.Fatalf("expected (140+100)/2 = 120ms, got %v", s.Position)
	}
	if s.LastFresh != 100*time.Millisecond {
		t.Fatalf("expected last fresh 100ms, got %v", s.LastFresh)
	}
}

func TestFirstReportOfZeroIsFresh(t *testing.T) {
	s := Step(State{}, 10*time.Millisecond, report(0, 10*time.Millisecond), 0.5)
	if !s.HasFresh {
		t.Fatalf("expected first report to be fresh")
	}
	if s.Position != 5*time.Millisecond {
		t.Fatalf("expected 5ms, got %v", s.Position)
	}
}

func TestAccuratePlayheadConvergesInOneStep(t *testing.T) {
	e := New(Options{}, 0)
	for i := 1; i <= 20; i++ {
		now := time.Duration(i) * frame
		got := e.Advance(now, report(now, now))
		if got != now {
			t.Fatalf("frame %d: expected %v, got %v", i, now, got)
		}
	}
}

func TestFrozenPlayheadThenJumpCorrectsDrift(t *testing.T) {
	e := New(Options{}, 0)
	// Backend reports 0 at 100ms, so the estimate starts 50ms behind true time.
	e.Advance(100*time.Millisecond, report(0, 100*time.Millisecond))

	now := 100 * time.Millisecond
	for i := 0; i < 18; i++ {
		now += frame
		e.Advance(now, report(0, now))
	}
	pre := e.Position()
	truth := now
	if truth-pre != 50*time.Millisecond {
		t.Fatalf("expected 50ms lag while frozen, got %v", truth-pre)
	}

	now += frame
	truth = now
	post := e.Advance(now, report(truth, now))
	preErr := absDuration(truth - (pre + frame))
	postErr := absDuration(truth - post)
	if postErr >= preErr {
		t.Fatalf("expected post-jump error %v below pre-jump %v", postErr, preErr)
	}
}

func TestFreeRunsWithoutReports(t *testing.T) {
	e := New(Options{}, 5*time.Millisecond)
	e.Tick(5 * time.Millisecond)
	e.Tick(5 * time.Millisecond)
	if got := e.Tick(105 * time.Millisecond); got != 100*time.Millisecond {
		t.Fatalf("expected 100ms free-run, got %v", got)
	}
	if e.State().HasFresh {
		t.Fatalf("expected no fresh report recorded")
	}
}

func TestResetRestartsAtZero(t *testing.T) {
	e := New(Options{}, 0)
	e.Advance(200*time.Millisecond, report(200*time.Millisecond, 200*time.Millisecond))
	e.Reset(300 * time.Millisecond)
	st := e.State()
	if st.Position != 0 || st.HasFresh || st.LastTick != 300*time.Millisecond {
		t.Fatalf("unexpected state after reset: %+v", st)
	}
	// The previously seen value counts as fresh again after a reset: (16+200)/2.
	if got := e.Advance(316*time.Millisecond, report(200*time.Millisecond, 316*time.Millisecond)); got != 108*time.Millisecond {
		t.Fatalf("expected 108ms after reset, got %v", got)
	}
}

func TestClockRegressionResyncs(t *testing.T) {
	var buf bytes.Buffer
	e := New(Options{Logger: logging.New(&buf, false)}, 0)
	e.Advance(500*time.Millisecond, report(500*time.Millisecond, 500*time.Millisecond))

	got := e.Advance(100*time.Millisecond, report(520*time.Millisecond, 100*time.Millisecond))
	if got != 520*time.Millisecond {
		t.Fatalf("expected resync to fresh report, got %v", got)
	}
	if e.Resets() != 1 {
		t.Fatalf("expected 1 reset, got %d", e.Resets())
	}
	if got := e.Tick(116 * time.Millisecond); got != 536*time.Millisecond {
		t.Fatalf("expected normal advance after resync, got %v", got)
	}
	if !strings.Contains(buf.String(), "clock discontinuity") {
		t.Fatalf("expected discontinuity warning, got %q", buf.String())
	}
}

func TestClockJumpIsNotFedIntoCorrection(t *testing.T) {
	e := New(Options{MaxFrameGap: 100 * time.Millisecond}, 0)
	e.Advance(16*time.Millisecond, report(16*time.Millisecond, 16*time.Millisecond))

	// Process suspended for ten seconds: no fresh report, so the estimate holds.
	got := e.Tick(10 * time.Second)
	if got != 16*time.Millisecond {
		t.Fatalf("expected estimate to hold across the gap, got %v", got)
	}
	if got := e.Tick(10*time.Second + frame); got != 32*time.Millisecond {
		t.Fatalf("expected normal advance after the gap, got %v", got)
	}
}

func TestPlayheadJumpSnaps(t *testing.T) {
	e := New(Options{}, 0)
	e.Advance(frame, report(frame, frame))
	got := e.Advance(2*frame, report(5*time.Second, 2*frame))
	if got != 5*time.Second {
		t.Fatalf("expected snap to seek target, got %v", got)
	}
}

func TestPlayheadJumpCheckDisabled(t *testing.T) {
	e := New(Options{JumpThreshold: -1}, 0)
	e.Advance(0, report(0, 0))
	got := e.Advance(0, report(time.Second, 0))
	if got != 500*time.Millisecond {
		t.Fatalf("expected plain average with jump check disabled, got %v", got)
	}
}

func TestCorrectionNeverMovesBackwards(t *testing.T) {
	e := New(Options{}, 0)
	e.Advance(100*time.Millisecond, report(100*time.Millisecond, 100*time.Millisecond))
	// Report far behind the estimate, but under the jump threshold.
	got := e.Advance(101*time.Millisecond, report(0, 101*time.Millisecond))
	if got != 100*time.Millisecond {
		t.Fatalf("expected estimate to hold at 100ms, got %v", got)
	}
}

func TestObserveProcessesReportsInOrder(t *testing.T) {
	e := New(Options{}, 0)
	reports := []playhead.Report{
		report(0, 0),
		report(20*time.Millisecond, 20*time.Millisecond),
		report(20*time.Millisecond, 25*time.Millisecond),
		report(40*time.Millisecond, 40*time.Millisecond),
	}
	got := e.Observe(48*time.Millisecond, reports)
	if got != 48*time.Millisecond {
		t.Fatalf("expected 48ms, got %v", got)
	}
	if e.State().LastFresh != 40*time.Millisecond {
		t.Fatalf("expected last fresh 40ms, got %v", e.State().LastFresh)
	}
}

func TestCustomSmoothing(t *testing.T) {
	e := New(Options{Smoothing: 0.25}, 0)
	e.Advance(0, report(0, 0))
	got := e.Advance(100*time.Millisecond, report(200*time.Millisecond, 100*time.Millisecond))
	if got != 125*time.Millisecond {
		t.Fatalf("expected 125ms with smoothing 0.25, got %v", got)
	}
}
