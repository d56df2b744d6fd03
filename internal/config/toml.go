// Package config provides configuration helpers and TOML parsing.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	Calibration CalibrationConfig `toml:"calibration"`
	Estimator   EstimatorConfig   `toml:"estimator"`
	FineTune    FineTuneConfig    `toml:"finetune"`
}

// CalibrationConfig maps calibration test settings.
type CalibrationConfig struct {
	MinDuration     *Duration `toml:"min-duration"`
	BPM             *float64  `toml:"bpm"`
	Jitter          *float64  `toml:"jitter"`
	RejectOutliers  *bool     `toml:"reject-outliers"`
	OutlierK        *float64  `toml:"outlier-k"`
	AllowVideoFirst *bool     `toml:"allow-video-first"`
	Bell            *bool     `toml:"bell"`
}

// EstimatorConfig maps song time estimator tuning.
type EstimatorConfig struct {
	Smoothing     *float64  `toml:"smoothing"`
	MaxFrameGap   *Duration `toml:"max-frame-gap"`
	JumpThreshold *Duration `toml:"jump-threshold"`
}

// FineTuneConfig maps manual adjustment settings.
type FineTuneConfig struct {
	Step *Duration `toml:"step"`
	BPM  *float64  `toml:"bpm"`
}

// Duration is a time.Duration written as a Go duration string ("20s", "1ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return FileConfig{}, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, nil
}
