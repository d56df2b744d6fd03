// Package model defines shared data structures.
package model

import "time"

// CalibrationConfig defines calibration test settings.
type CalibrationConfig struct {
	MinDuration     time.Duration
	BPM             float64
	Jitter          float64
	RejectOutliers  bool
	OutlierK        float64
	AllowVideoFirst bool
	Bell            bool
}

// EstimatorConfig defines song time estimator tuning.
type EstimatorConfig struct {
	Smoothing     float64
	MaxFrameGap   time.Duration
	JumpThreshold time.Duration
}

// FineTuneConfig defines manual adjustment settings.
type FineTuneConfig struct {
	Step time.Duration
	BPM  float64
}

// HistoryConfig defines filters for calibration history output.
type HistoryConfig struct {
	Kind   string
	Since  *time.Time
	Last   int
	Window int
}

// LatencyRecord is a persisted audio/video latency pair.
type LatencyRecord struct {
	Audio     time.Duration
	Video     time.Duration
	Source    string
	UpdatedAt time.Time
}

// SessionRecord captures a finalized calibration session.
type SessionRecord struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	EndedAt    time.Time
	Latency    time.Duration
	Correction time.Duration
	Samples    int
	Rejected   int
	Misses     int
}

// SampleRecord stores one round trip of a session.
type SampleRecord struct {
	Beat      int
	Raw       time.Duration
	Effective time.Duration
	Rejected  bool
}
