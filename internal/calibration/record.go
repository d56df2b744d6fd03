package calibration

import (
	"time"

	"github.com/verte-zerg/tuisync/internal/model"
)

// Records converts a finalized result into persisted rows. Wall-clock times are
// derived from endedAt and the result's tick span.
func (r Result) Records(endedAt time.Time) (model.SessionRecord, []model.SampleRecord) {
	rec := model.SessionRecord{
		Kind:       r.Kind.String(),
		StartedAt:  endedAt.Add(-(r.EndedAt - r.StartedAt)),
		EndedAt:    endedAt,
		Latency:    r.Latency,
		Correction: r.Correction,
		Samples:    len(r.Samples) - r.Rejected,
		Rejected:   r.Rejected,
		Misses:     r.Misses,
	}
	samples := make([]model.SampleRecord, len(r.Samples))
	for i, smp := range r.Samples {
		samples[i] = model.SampleRecord{
			Beat:      smp.Beat,
			Raw:       smp.Raw,
			Effective: smp.Latency,
			Rejected:  smp.Rejected,
		}
	}
	return rec, samples
}
