// Package render maps song time to on-screen offsets for scheduled events.
package render

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidInput is returned for NaN or infinite millisecond inputs.
var ErrInvalidInput = errors.New("invalid render input")

// Offset returns how far past its scheduled time an event appears on screen.
// Negative values mean the event is still upcoming.
func Offset(scheduled, current, videoLatency time.Duration) time.Duration {
	return current - scheduled + videoLatency
}

// OffsetMillis is Offset over float milliseconds, for hosts that keep time as floats.
func OffsetMillis(scheduled, current, videoLatency float64) (float64, error) {
	for _, v := range [...]float64{scheduled, current, videoLatency} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, ErrInvalidInput
		}
	}
	return current - scheduled + videoLatency, nil
}

// Lane positions falling notes along a lane of the given length.
type Lane struct {
	// Length is the lane size in cells; the hit line sits at Length-1.
	Length int
	// Lead is how long before its scheduled time a note enters the lane.
	Lead time.Duration
}

// Cell returns the lane cell for an offset from Offset, and false when the note
// is outside the lane.
func (l Lane) Cell(offset time.Duration) (int, bool) {
	if l.Length <= 0 || l.Lead <= 0 {
		return 0, false
	}
	if offset < -l.Lead || offset > 0 {
		return 0, false
	}
	progress := float64(offset+l.Lead) / float64(l.Lead)
	cell := int(math.Round(progress * float64(l.Length-1)))
	return cell, true
}
