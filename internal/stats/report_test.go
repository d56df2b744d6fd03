package stats

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/verte-zerg/tuisync/internal/model"
)

func TestRenderHistory(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var sessions []model.SessionRecord
	for i, lat := range []time.Duration{20, 35, 22, 33, 21} {
		kind := "audio"
		if i%2 == 1 {
			kind = "video"
		}
		sessions = append(sessions, model.SessionRecord{
			ID:      "id",
			Kind:    kind,
			EndedAt: base.Add(time.Duration(i) * time.Hour),
			Latency: lat * time.Millisecond,
			Samples: 16,
		})
	}

	var buf bytes.Buffer
	if err := RenderHistory(&buf, sessions, 1, 20); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Kind", "Latency", "35.00ms", "audio  ", "Latency trend", "Legend: audio (solid)  video (dashed)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "n=3 mean=21.00ms") {
		t.Fatalf("expected audio summary in output:\n%s", out)
	}
}

func TestRenderHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderHistory(&buf, nil, 0, 0); err != nil {
		t.Fatalf("render: %v", err)
	}
	if buf.String() != "No calibration sessions yet.\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestRenderSamplesSkipsRejectedInSummary(t *testing.T) {
	samples := []model.SampleRecord{
		{Beat: 0, Raw: 50 * time.Millisecond, Effective: 30 * time.Millisecond},
		{Beat: 1, Raw: 60 * time.Millisecond, Effective: 40 * time.Millisecond},
		{Beat: 2, Raw: 400 * time.Millisecond, Effective: 380 * time.Millisecond, Rejected: true},
	}
	var buf bytes.Buffer
	if err := RenderSamples(&buf, samples); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "outlier") {
		t.Fatalf("expected outlier flag:\n%s", out)
	}
	if !strings.Contains(out, "n=2 mean=35.00ms") {
		t.Fatalf("expected summary over kept samples:\n%s", out)
	}
}

func TestPlotMillisSharedAxis(t *testing.T) {
	var buf bytes.Buffer
	err := PlotMillis(&buf, "Drift", []Series{{Name: "error", Values: []float64{-4, -2, 0, 2, 4}}}, 10, 4)
	if err != nil {
		t.Fatalf("plot: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected title, 4 rows and legend, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], " 4.0ms │ ") {
		t.Fatalf("unexpected top axis label %q", lines[1])
	}
	if !strings.HasPrefix(lines[4], "-4.0ms │ ") {
		t.Fatalf("unexpected bottom axis label %q", lines[4])
	}
	if err := PlotMillis(&buf, "", nil, 10, 4); err != nil {
		t.Fatalf("empty plot: %v", err)
	}
}

func TestFormatMillis(t *testing.T) {
	if got := FormatMillis(25 * time.Millisecond / 3); got != "8.33ms" {
		t.Fatalf("unexpected %q", got)
	}
	if got := FormatMillis(-15 * time.Millisecond); got != "-15.00ms" {
		t.Fatalf("unexpected %q", got)
	}
}
