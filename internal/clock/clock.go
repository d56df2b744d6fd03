// Package clock provides the monotonic tick source shared by the estimator and calibrator.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Tick is a monotonic offset from a source's origin.
type Tick = time.Duration

// ErrDiscontinuous reports a tick that went backwards or jumped implausibly far forward.
var ErrDiscontinuous = errors.New("discontinuous clock source")

// Source yields monotonic ticks.
type Source interface {
	Now() Tick
}

// System reads the process monotonic clock relative to its creation.
type System struct {
	origin time.Time
}

// NewSystem returns a System anchored at the current instant.
func NewSystem() *System {
	return &System{origin: time.Now()}
}

// Now returns the elapsed monotonic time since the origin.
func (s *System) Now() Tick {
	return time.Since(s.origin)
}

// Manual is a Source driven by the caller. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now Tick
}

// NewManual returns a Manual source positioned at start.
func NewManual(start Tick) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual tick.
func (m *Manual) Now() Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed so tests can simulate regressions.
func (m *Manual) Set(t Tick) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new tick.
func (m *Manual) Advance(d time.Duration) Tick {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	return m.now
}

// Guard detects discontinuities between consecutive ticks.
// A zero MaxGap disables the forward-jump check; regressions are always rejected.
type Guard struct {
	MaxGap time.Duration
}

// Check validates the step from prev to now.
func (g Guard) Check(prev, now Tick) error {
	if now < prev {
		return fmt.Errorf("%w: tick regressed by %v", ErrDiscontinuous, prev-now)
	}
	if g.MaxGap > 0 && now-prev > g.MaxGap {
		return fmt.Errorf("%w: tick jumped %v (limit %v)", ErrDiscontinuous, now-prev, g.MaxGap)
	}
	return nil
}
