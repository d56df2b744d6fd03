package playhead

import (
	"time"

	"github.com/verte-zerg/tuisync/internal/clock"
)

// Stall freezes the reported position between From and To (ticks relative to start).
type Stall struct {
	From time.Duration
	To   time.Duration
}

// Simulated is a Backend that reports an ideal playhead floored to a quantum.
type Simulated struct {
	quantum time.Duration
	latency time.Duration
	stalls  []Stall

	playing bool
	start   clock.Tick
}

// NewSimulated returns a simulated backend. A quantum <= 0 reports exact positions.
func NewSimulated(quantum, outputLatency time.Duration, stalls ...Stall) *Simulated {
	return &Simulated{
		quantum: quantum,
		latency: outputLatency,
		stalls:  stalls,
	}
}

// Start implements Backend.
func (s *Simulated) Start(at clock.Tick) {
	s.playing = true
	s.start = at
}

// Stop implements Backend.
func (s *Simulated) Stop() {
	s.playing = false
}

// Quantum implements Backend.
func (s *Simulated) Quantum() time.Duration {
	return s.quantum
}

// OutputLatency implements Backend.
func (s *Simulated) OutputLatency() time.Duration {
	return s.latency
}

// Position implements Backend.
func (s *Simulated) Position(now clock.Tick) (time.Duration, bool) {
	if !s.playing {
		return 0, false
	}
	elapsed := now - s.start
	for _, st := range s.stalls {
		if elapsed >= st.From && elapsed < st.To {
			elapsed = st.From
			break
		}
	}
	pos := elapsed - s.latency
	if pos < 0 {
		pos = 0
	}
	if s.quantum > 0 {
		pos -= pos % s.quantum
	}
	return pos, true
}
