package playhead

import (
	"testing"
	"time"
)

func TestSamplerDrainKeepsArrivalOrder(t *testing.T) {
	s := NewSampler()
	s.Push(Report{Position: 30 * time.Millisecond, ReceivedAt: 3})
	s.Push(Report{Position: 10 * time.Millisecond, ReceivedAt: 4})
	s.Push(Report{Position: 20 * time.Millisecond, ReceivedAt: 5})

	got := s.Drain()
	want := []time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond}
	if len(got) != len(want) {
		t.Fatalf("expected %d reports, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Position != w {
			t.Fatalf("report %d: expected %v, got %v", i, w, got[i].Position)
		}
	}
	if again := s.Drain(); again != nil {
		t.Fatalf("expected empty queue after drain, got %v", again)
	}
	latest, ok := s.Latest()
	if !ok || latest.Position != 20*time.Millisecond {
		t.Fatalf("unexpected latest report: %+v %v", latest, ok)
	}
}

func TestSamplerReset(t *testing.T) {
	s := NewSampler()
	s.Push(Report{Position: time.Second})
	s.Reset()
	if _, ok := s.Latest(); ok {
		t.Fatalf("expected no latest report after reset")
	}
	if s.Drain() != nil {
		t.Fatalf("expected empty queue after reset")
	}
}

func TestSimulatedQuantizesPosition(t *testing.T) {
	b := NewSimulated(10*time.Millisecond, 0)
	if _, ok := b.Position(0); ok {
		t.Fatalf("expected no position before start")
	}
	b.Start(100 * time.Millisecond)
	pos, ok := b.Position(137 * time.Millisecond)
	if !ok {
		t.Fatalf("expected position while playing")
	}
	if pos != 30*time.Millisecond {
		t.Fatalf("expected 30ms, got %v", pos)
	}
	b.Stop()
	if _, ok := b.Position(200 * time.Millisecond); ok {
		t.Fatalf("expected no position after stop")
	}
}

func TestSimulatedOutputLatencyAndStall(t *testing.T) {
	b := NewSimulated(0, 5*time.Millisecond, Stall{From: 100 * time.Millisecond, To: 200 * time.Millisecond})
	b.Start(0)
	if pos, _ := b.Position(2 * time.Millisecond); pos != 0 {
		t.Fatalf("expected clamp to zero inside output latency, got %v", pos)
	}
	if pos, _ := b.Position(150 * time.Millisecond); pos != 95*time.Millisecond {
		t.Fatalf("expected frozen 95ms during stall, got %v", pos)
	}
	if pos, _ := b.Position(250 * time.Millisecond); pos != 245*time.Millisecond {
		t.Fatalf("expected 245ms after stall, got %v", pos)
	}
}

func TestPollPushesOnlyWhilePlaying(t *testing.T) {
	b := NewSimulated(0, 0)
	s := NewSampler()
	if Poll(b, s, 10) {
		t.Fatalf("expected no report while stopped")
	}
	b.Start(0)
	if !Poll(b, s, 40*time.Millisecond) {
		t.Fatalf("expected report while playing")
	}
	reports := s.Drain()
	if len(reports) != 1 || reports[0].Position != 40*time.Millisecond || reports[0].ReceivedAt != 40*time.Millisecond {
		t.Fatalf("unexpected reports: %+v", reports)
	}
}
