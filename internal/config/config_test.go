package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Calibration.BPM != nil || cfg.Estimator.Smoothing != nil {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadConfigSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[calibration]
min-duration = "30s"
bpm = 90.0
reject-outliers = true

[estimator]
smoothing = 0.25
jump-threshold = "400ms"

[finetune]
step = "2ms"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Calibration.MinDuration == nil || cfg.Calibration.MinDuration.Duration != 30*time.Second {
		t.Fatalf("unexpected min-duration %+v", cfg.Calibration.MinDuration)
	}
	if cfg.Calibration.BPM == nil || *cfg.Calibration.BPM != 90 {
		t.Fatalf("unexpected bpm %+v", cfg.Calibration.BPM)
	}
	if cfg.Calibration.RejectOutliers == nil || !*cfg.Calibration.RejectOutliers {
		t.Fatalf("expected reject-outliers")
	}
	if cfg.Calibration.Jitter != nil {
		t.Fatalf("unset key must stay nil")
	}
	if cfg.Estimator.Smoothing == nil || *cfg.Estimator.Smoothing != 0.25 {
		t.Fatalf("unexpected smoothing %+v", cfg.Estimator.Smoothing)
	}
	if cfg.Estimator.JumpThreshold == nil || cfg.Estimator.JumpThreshold.Duration != 400*time.Millisecond {
		t.Fatalf("unexpected jump-threshold %+v", cfg.Estimator.JumpThreshold)
	}
	if cfg.FineTune.Step == nil || cfg.FineTune.Step.Duration != 2*time.Millisecond {
		t.Fatalf("unexpected step %+v", cfg.FineTune.Step)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"duration": "[calibration]\nmin-duration = \"soon\"\n",
		"unknown":  "[calibration]\nbmp = 90.0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDefaultPathsFollowXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DefaultConfigPath(); got != filepath.Join("/cfg", "tuisync", "config.toml") {
		t.Fatalf("unexpected config path %q", got)
	}
	if got := DefaultDBPath(); got != filepath.Join("/data", "tuisync", "tuisync.db") {
		t.Fatalf("unexpected db path %q", got)
	}
	if got := DefaultLogPath(); got != filepath.Join("/data", "tuisync", "tuisync.log") {
		t.Fatalf("unexpected log path %q", got)
	}
}

func TestWriteLatency(t *testing.T) {
	f := NewLatencyFile(25*time.Millisecond/3, -15*time.Millisecond, "calibration", time.Time{})

	var tomlBuf bytes.Buffer
	if err := WriteLatency(&tomlBuf, FormatTOML, f); err != nil {
		t.Fatalf("toml: %v", err)
	}
	if !strings.Contains(tomlBuf.String(), "audio_latency_ms = 8.333") {
		t.Fatalf("unexpected toml output %q", tomlBuf.String())
	}
	if strings.Contains(tomlBuf.String(), "updated_at") {
		t.Fatalf("zero time must be omitted: %q", tomlBuf.String())
	}

	var yamlBuf bytes.Buffer
	if err := WriteLatency(&yamlBuf, FormatYAML, f); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(yamlBuf.String(), "video_latency_ms: -15\n") {
		t.Fatalf("unexpected yaml output %q", yamlBuf.String())
	}

	back, err := ReadLatency(&yamlBuf, FormatYAML)
	if err != nil {
		t.Fatalf("read yaml: %v", err)
	}
	audio, video, err := back.Latencies()
	if err != nil {
		t.Fatalf("latencies: %v", err)
	}
	if audio != 8333*time.Microsecond || video != -15*time.Millisecond {
		t.Fatalf("unexpected latencies %v %v", audio, video)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("YML"); err != nil || f != FormatYAML {
		t.Fatalf("unexpected %q %v", f, err)
	}
	if _, err := ParseFormat("json"); err == nil {
		t.Fatalf("expected error for json")
	}
}
