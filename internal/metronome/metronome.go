// Package metronome schedules calibration stimuli.
package metronome

import (
	"math/rand"
	"time"

	"github.com/verte-zerg/tuisync/internal/clock"
)

// Metronome produces stimulus times at a tempo, optionally jittered so the
// player cannot settle into pure anticipation.
type Metronome struct {
	rnd      *rand.Rand
	interval time.Duration
	jitter   float64
	next     clock.Tick
	beat     int
}

// New returns a Metronome seeded with the current time.
func New(bpm, jitter float64) *Metronome {
	return NewSeeded(bpm, jitter, time.Now().UnixNano())
}

// NewSeeded returns a Metronome with a fixed seed.
func NewSeeded(bpm, jitter float64, seed int64) *Metronome {
	if bpm <= 0 {
		bpm = 60
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 0.5 {
		jitter = 0.5
	}
	return &Metronome{
		rnd:      rand.New(rand.NewSource(seed)),
		interval: time.Duration(float64(time.Minute) / bpm),
		jitter:   jitter,
	}
}

// Interval is the nominal beat period.
func (m *Metronome) Interval() time.Duration {
	return m.interval
}

// Start schedules the first beat one lead-in interval after at.
func (m *Metronome) Start(at clock.Tick) {
	m.beat = 0
	m.next = at + m.interval
}

// Next returns the tick of the upcoming beat.
func (m *Metronome) Next() clock.Tick {
	return m.next
}

// Due reports whether the upcoming beat is at or before now. When it is, the
// beat is consumed and its scheduled tick and index are returned.
func (m *Metronome) Due(now clock.Tick) (clock.Tick, int, bool) {
	if now < m.next {
		return 0, 0, false
	}
	at := m.next
	beat := m.beat
	m.beat++
	m.next = at + m.nextInterval()
	// Skip beats lost to a stalled frame loop instead of firing them in a burst.
	for m.next <= now {
		m.next += m.nextInterval()
	}
	return at, beat, true
}

func (m *Metronome) nextInterval() time.Duration {
	if m.jitter <= 0 {
		return m.interval
	}
	factor := 1 + (m.rnd.Float64()*2-1)*m.jitter
	return time.Duration(float64(m.interval) * factor)
}
