// Package calibration measures audio and video latency from repeated
// stimulus/response round trips.
package calibration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/stats"
)

// Kind selects the stimulus channel under test.
type Kind int

const (
	Audio Kind = iota
	Video
)

func (k Kind) String() string {
	switch k {
	case Audio:
		return "audio"
	case Video:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses "audio" or "video".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "audio":
		return Audio, nil
	case "video":
		return Video, nil
	default:
		return 0, fmt.Errorf("unknown calibration kind %q", s)
	}
}

var (
	// ErrInsufficientData means a session was finalized too early or with too few samples.
	ErrInsufficientData = errors.New("insufficient calibration data")
	// ErrUnattributedResponse means a response arrived with no outstanding stimulus.
	ErrUnattributedResponse = errors.New("unattributed response")
	// ErrSessionClosed means the session was already finalized or aborted.
	ErrSessionClosed = errors.New("calibration session closed")
)

const (
	DefaultMinDuration = 20 * time.Second
	DefaultOutlierK    = 3.0
	minSamples         = 2
)

// Options configure sessions.
type Options struct {
	MinDuration time.Duration
	// RejectOutliers drops samples beyond OutlierK median absolute deviations
	// before averaging.
	RejectOutliers bool
	OutlierK       float64
	// AllowVideoFirst permits a video session without an audio result. Such a
	// result includes the player's input delay, which the audio test would
	// otherwise absorb, so it double counts input latency.
	AllowVideoFirst bool
	Logger          logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	if o.OutlierK <= 0 {
		o.OutlierK = DefaultOutlierK
	}
	o.Logger = logging.OrDiscard(o.Logger)
	return o
}

// Sample is one recorded round trip. Latency may be negative when the player
// anticipated the cue.
type Sample struct {
	Beat     int
	Stimulus clock.Tick
	Response clock.Tick
	Raw      time.Duration
	// Latency is Raw minus the session correction.
	Latency  time.Duration
	Rejected bool
}

// Result is a finalized session.
type Result struct {
	Kind       Kind
	Latency    time.Duration
	Correction time.Duration
	Samples    []Sample
	Rejected   int
	Misses     int
	StartedAt  clock.Tick
	EndedAt    clock.Tick
	// DoubleCountsInput is set for video results measured without an audio baseline.
	DoubleCountsInput bool
}

type stimulus struct {
	beat int
	at   clock.Tick
}

// Session collects samples for one channel. It is driven from a single
// event loop and is not safe for concurrent use.
type Session struct {
	kind       Kind
	opts       Options
	log        logrus.FieldLogger
	start      clock.Tick
	correction time.Duration
	corrected  bool

	beats       int
	outstanding *stimulus
	samples     []Sample
	misses      int
	unattrib    int
	closed      bool
}

// NewSession starts an empty session at start.
func NewSession(kind Kind, opts Options, start clock.Tick) *Session {
	opts = opts.withDefaults()
	return &Session{
		kind:  kind,
		opts:  opts,
		log:   opts.Logger.WithField("kind", kind.String()),
		start: start,
	}
}

// Kind returns the channel under test.
func (s *Session) Kind() Kind {
	return s.kind
}

// Start returns the session start tick.
func (s *Session) Start() clock.Tick {
	return s.start
}

// MinDuration returns the minimum run time before finalize can succeed.
func (s *Session) MinDuration() time.Duration {
	return s.opts.MinDuration
}

// SetCorrection sets the offset subtracted from every raw sample, past and future.
func (s *Session) SetCorrection(d time.Duration) {
	s.correction = d
	s.corrected = true
}

// Correction returns the offset subtracted from raw samples.
func (s *Session) Correction() (time.Duration, bool) {
	return s.correction, s.corrected
}

// Stimulus registers a cue scheduled at tick at and returns its beat index.
// The cue may be registered ahead of its tick so that early responses yield
// negative latencies. An unanswered previous cue is counted as a miss.
func (s *Session) Stimulus(at clock.Tick) int {
	if s.closed {
		return -1
	}
	if s.outstanding != nil {
		s.misses++
		s.log.WithField("beat", s.outstanding.beat).Debug("stimulus superseded without response")
	}
	beat := s.beats
	s.beats++
	s.outstanding = &stimulus{beat: beat, at: at}
	return beat
}

// Retime moves the stimulus tick of beat to at, the tick the cue was actually
// emitted. A response already attributed to beat is re-measured from at.
// It reports whether beat was found.
func (s *Session) Retime(beat int, at clock.Tick) bool {
	if s.closed {
		return false
	}
	if s.outstanding != nil && s.outstanding.beat == beat {
		s.outstanding.at = at
		return true
	}
	if n := len(s.samples); n > 0 && s.samples[n-1].Beat == beat {
		smp := &s.samples[n-1]
		smp.Stimulus = at
		smp.Raw = smp.Response - at
		return true
	}
	return false
}

// Respond attributes a response to the most recent outstanding stimulus.
func (s *Session) Respond(at clock.Tick) (Sample, error) {
	if s.closed {
		return Sample{}, ErrSessionClosed
	}
	if s.outstanding == nil {
		s.unattrib++
		s.log.WithField("at", at).Info("discarded response with no outstanding stimulus")
		return Sample{}, ErrUnattributedResponse
	}
	st := s.outstanding
	s.outstanding = nil
	recorded := Sample{
		Beat:     st.beat,
		Stimulus: st.at,
		Response: at,
		Raw:      at - st.at,
	}
	s.samples = append(s.samples, recorded)
	recorded.Latency = recorded.Raw - s.correction
	return recorded, nil
}

// Samples returns the recorded samples with the current correction applied.
func (s *Session) Samples() []Sample {
	out := make([]Sample, len(s.samples))
	for i, smp := range s.samples {
		smp.Latency = smp.Raw - s.correction
		out[i] = smp
	}
	return out
}

// Misses counts stimuli superseded without a response.
func (s *Session) Misses() int {
	return s.misses
}

// Unattributed counts discarded responses.
func (s *Session) Unattributed() int {
	return s.unattrib
}

// Elapsed returns the run time at now.
func (s *Session) Elapsed(now clock.Tick) time.Duration {
	return now - s.start
}

// Ready reports whether Finalize at now would have enough data, ignoring outlier rejection.
func (s *Session) Ready(now clock.Tick) bool {
	return !s.closed && s.Elapsed(now) >= s.opts.MinDuration && len(s.samples) >= minSamples
}

// Closed reports whether the session was finalized or aborted.
func (s *Session) Closed() bool {
	return s.closed
}

// Finalize computes the mean latency. On ErrInsufficientData the session stays
// open so the caller may keep collecting.
func (s *Session) Finalize(now clock.Tick) (Result, error) {
	if s.closed {
		return Result{}, ErrSessionClosed
	}
	elapsed := s.Elapsed(now)
	if elapsed < s.opts.MinDuration {
		return Result{}, fmt.Errorf("%w: ran %v of required %v", ErrInsufficientData, elapsed.Round(time.Millisecond), s.opts.MinDuration)
	}
	samples := s.Samples()
	if len(samples) < minSamples {
		return Result{}, fmt.Errorf("%w: %d samples, need at least %d", ErrInsufficientData, len(samples), minSamples)
	}

	rejected := 0
	if s.opts.RejectOutliers {
		values := make([]float64, len(samples))
		for i, smp := range samples {
			values[i] = float64(smp.Latency)
		}
		for i, out := range stats.OutlierMask(values, s.opts.OutlierK) {
			if out {
				samples[i].Rejected = true
				rejected++
			}
		}
		if len(samples)-rejected < minSamples {
			return Result{}, fmt.Errorf("%w: %d samples left after rejecting %d outliers", ErrInsufficientData, len(samples)-rejected, rejected)
		}
	}

	var sum time.Duration
	kept := 0
	for _, smp := range samples {
		if smp.Rejected {
			continue
		}
		sum += smp.Latency
		kept++
	}
	s.closed = true
	s.outstanding = nil
	res := Result{
		Kind:       s.kind,
		Latency:    sum / time.Duration(kept),
		Correction: s.correction,
		Samples:    samples,
		Rejected:   rejected,
		Misses:     s.misses,
		StartedAt:  s.start,
		EndedAt:    now,
	}
	s.log.WithFields(logrus.Fields{
		"latency":  res.Latency,
		"samples":  kept,
		"rejected": rejected,
		"misses":   s.misses,
	}).Info("calibration session finalized")
	return res, nil
}

// Abort closes the session and discards its samples.
func (s *Session) Abort() {
	if s.closed {
		return
	}
	s.log.WithField("samples", len(s.samples)).Info("calibration session aborted")
	s.closed = true
	s.outstanding = nil
	s.samples = nil
}
