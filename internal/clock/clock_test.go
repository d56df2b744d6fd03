package clock

import (
	"errors"
	"testing"
	"time"
)

func TestGuardCheck(t *testing.T) {
	g := Guard{MaxGap: time.Second}
	cases := []struct {
		name    string
		prev    Tick
		now     Tick
		wantErr bool
	}{
		{name: "steady", prev: 10 * time.Millisecond, now: 26 * time.Millisecond},
		{name: "same tick", prev: time.Second, now: time.Second},
		{name: "regression", prev: time.Second, now: 900 * time.Millisecond, wantErr: true},
		{name: "jump", prev: 0, now: 2 * time.Second, wantErr: true},
		{name: "at limit", prev: 0, now: time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Check(tc.prev, tc.now)
			if tc.wantErr {
				if !errors.Is(err, ErrDiscontinuous) {
					t.Fatalf("expected ErrDiscontinuous, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestGuardZeroGapOnlyRejectsRegression(t *testing.T) {
	g := Guard{}
	if err := g.Check(0, time.Hour); err != nil {
		t.Fatalf("expected forward jump to pass with zero MaxGap, got %v", err)
	}
	if err := g.Check(time.Hour, 0); !errors.Is(err, ErrDiscontinuous) {
		t.Fatalf("expected regression to fail, got %v", err)
	}
}

func TestManualAdvance(t *testing.T) {
	m := NewManual(5 * time.Millisecond)
	if got := m.Advance(10 * time.Millisecond); got != 15*time.Millisecond {
		t.Fatalf("expected 15ms, got %v", got)
	}
	m.Set(time.Millisecond)
	if got := m.Now(); got != time.Millisecond {
		t.Fatalf("expected 1ms, got %v", got)
	}
}

func TestSystemIsMonotonic(t *testing.T) {
	s := NewSystem()
	a := s.Now()
	b := s.Now()
	if b < a {
		t.Fatalf("system clock regressed: %v then %v", a, b)
	}
}
