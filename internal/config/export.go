package config

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format selects an export encoding.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "toml", "yaml" or "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (use toml or yaml)", s)
	}
}

// LatencyFile is the exported latency pair read by game settings stores.
type LatencyFile struct {
	AudioLatencyMs float64 `toml:"audio_latency_ms" yaml:"audio_latency_ms"`
	VideoLatencyMs float64 `toml:"video_latency_ms" yaml:"video_latency_ms"`
	Source         string  `toml:"source,omitempty" yaml:"source,omitempty"`
	UpdatedAt      string  `toml:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// NewLatencyFile converts durations to millisecond fields rounded to microseconds.
func NewLatencyFile(audio, video time.Duration, source string, updatedAt time.Time) LatencyFile {
	f := LatencyFile{
		AudioLatencyMs: durationMs(audio),
		VideoLatencyMs: durationMs(video),
		Source:         source,
	}
	if !updatedAt.IsZero() {
		f.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
	}
	return f
}

// Latencies converts the millisecond fields back to durations.
func (f LatencyFile) Latencies() (audio, video time.Duration, err error) {
	if math.IsNaN(f.AudioLatencyMs) || math.IsInf(f.AudioLatencyMs, 0) ||
		math.IsNaN(f.VideoLatencyMs) || math.IsInf(f.VideoLatencyMs, 0) {
		return 0, 0, fmt.Errorf("latency values must be finite")
	}
	audio = time.Duration(math.Round(f.AudioLatencyMs * float64(time.Millisecond)))
	video = time.Duration(math.Round(f.VideoLatencyMs * float64(time.Millisecond)))
	return audio, video, nil
}

// WriteLatency encodes f in the given format.
func WriteLatency(w io.Writer, format Format, f LatencyFile) error {
	switch format {
	case FormatTOML:
		if err := toml.NewEncoder(w).Encode(f); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
	return nil
}

// ReadLatency decodes a file written by WriteLatency.
func ReadLatency(r io.Reader, format Format) (LatencyFile, error) {
	var f LatencyFile
	switch format {
	case FormatTOML:
		if _, err := toml.NewDecoder(r).Decode(&f); err != nil {
			return LatencyFile{}, fmt.Errorf("failed to decode toml: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&f); err != nil {
			return LatencyFile{}, fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		return LatencyFile{}, fmt.Errorf("unsupported export format %q", format)
	}
	return f, nil
}

func durationMs(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Microsecond)) / 1000
}
