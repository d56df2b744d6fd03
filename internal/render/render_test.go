package render

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestOffset(t *testing.T) {
	got := Offset(1200*time.Millisecond, 1000*time.Millisecond, -15*time.Millisecond)
	if got != -215*time.Millisecond {
		t.Fatalf("expected -215ms, got %v", got)
	}
}

func TestOffsetMillis(t *testing.T) {
	got, err := OffsetMillis(1200, 1000, -15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != -215 {
		t.Fatalf("expected -215, got %v", got)
	}
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := OffsetMillis(bad, 0, 0); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %v, got %v", bad, err)
		}
	}
}

func TestLaneCell(t *testing.T) {
	lane := Lane{Length: 11, Lead: time.Second}
	cases := []struct {
		offset time.Duration
		cell   int
		ok     bool
	}{
		{offset: -time.Second, cell: 0, ok: true},
		{offset: -500 * time.Millisecond, cell: 5, ok: true},
		{offset: 0, cell: 10, ok: true},
		{offset: -2 * time.Second, ok: false},
		{offset: time.Millisecond, ok: false},
	}
	for _, tc := range cases {
		cell, ok := lane.Cell(tc.offset)
		if ok != tc.ok || (ok && cell != tc.cell) {
			t.Fatalf("offset %v: expected (%d,%v), got (%d,%v)", tc.offset, tc.cell, tc.ok, cell, ok)
		}
	}
}
