// Package playhead models the audio backend's coarse position reports.
package playhead

import (
	"sync"
	"time"

	"github.com/verte-zerg/tuisync/internal/clock"
)

// Report is a playhead value observed at a clock tick.
type Report struct {
	Position   time.Duration
	ReceivedAt clock.Tick
}

// Backend is the audio playback collaborator.
type Backend interface {
	Start(at clock.Tick)
	Stop()
	// Position returns the backend playhead at now; ok is false when not playing.
	Position(now clock.Tick) (pos time.Duration, ok bool)
	// Quantum is the granularity of reported positions.
	Quantum() time.Duration
	// OutputLatency is the backend's own estimate of time to reach the speaker.
	OutputLatency() time.Duration
}

// Sampler queues reports pushed by the backend until the frame loop drains them.
// Push may be called from a backend callback goroutine.
type Sampler struct {
	mu      sync.Mutex
	pending []Report
	latest  Report
	seen    bool
}

// NewSampler returns an empty Sampler.
func NewSampler() *Sampler {
	return &Sampler{}
}

// Push records a report in arrival order.
func (s *Sampler) Push(r Report) {
	s.mu.Lock()
	s.pending = append(s.pending, r)
	s.latest = r
	s.seen = true
	s.mu.Unlock()
}

// Drain returns queued reports in arrival order and clears the queue.
func (s *Sampler) Drain() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	out := s.pending
	s.pending = nil
	return out
}

// Latest returns the most recent report ever pushed.
func (s *Sampler) Latest() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.seen
}

// Reset drops queued reports and forgets the latest one.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.pending = nil
	s.latest = Report{}
	s.seen = false
	s.mu.Unlock()
}

// Poll reads the backend at now and pushes a report when it is playing.
func Poll(b Backend, s *Sampler, now clock.Tick) bool {
	pos, ok := b.Position(now)
	if !ok {
		return false
	}
	s.Push(Report{Position: pos, ReceivedAt: now})
	return true
}
