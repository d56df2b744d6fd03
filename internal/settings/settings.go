// Package settings holds the published audio/video latency pair.
package settings

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// Latency is the calibrated offset pair consumed by rendering and judgment code.
// Either value may be negative.
type Latency struct {
	Audio time.Duration
	Video time.Duration
}

func (l Latency) String() string {
	return fmt.Sprintf("audio=%s video=%s", formatMs(l.Audio), formatMs(l.Video))
}

func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d)/float64(time.Millisecond))
}

// Publisher stores the active Latency. Many goroutines may read while a single
// finalized calibration writes; a reader always sees a complete pair.
type Publisher struct {
	current *atomic.Pointer[Latency]
	version *atomic.Uint64
}

// NewPublisher returns a Publisher holding initial.
func NewPublisher(initial Latency) *Publisher {
	return &Publisher{
		current: atomic.NewPointer(&initial),
		version: atomic.NewUint64(0),
	}
}

// Load returns the active pair.
func (p *Publisher) Load() Latency {
	return *p.current.Load()
}

// Publish replaces the active pair and returns the new version.
func (p *Publisher) Publish(l Latency) uint64 {
	p.current.Store(&l)
	return p.version.Inc()
}

// Version counts publications since construction.
func (p *Publisher) Version() uint64 {
	return p.version.Load()
}
