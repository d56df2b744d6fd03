package stats

import (
	"bytes"
	"strings"
	"testing"
)

func TestPlotMillis(t *testing.T) {
	var buf bytes.Buffer
	err := PlotMillis(&buf, "Test Plot", []Series{
		{Name: "audio", Values: []float64{1, 2, 3, 2, 1}},
		{Name: "video", Values: []float64{-1, 1, 2, 3, 4}},
	}, 5, 4)
	if err != nil {
		t.Fatalf("PlotMillis failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Test Plot") {
		t.Fatalf("expected title in output")
	}
	if !strings.Contains(out, "Legend: audio (solid)  video (dashed)") {
		t.Fatalf("expected legend in output:\n%s", out)
	}
	if !strings.Contains(out, "·") {
		t.Fatalf("expected zero line when range crosses zero:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1+4+1 {
		t.Fatalf("expected title, 4 rows and legend, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], " 4.0ms │ ") || !strings.HasPrefix(lines[4], "-1.0ms │ ") {
		t.Fatalf("unexpected axis labels:\n%s", out)
	}
}

func TestPlotMillisSkipsEmptySeries(t *testing.T) {
	var buf bytes.Buffer
	if err := PlotMillis(&buf, "Empty", []Series{{Name: "audio"}}, 10, 4); err != nil {
		t.Fatalf("PlotMillis failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestDrawLineEndpoints(t *testing.T) {
	var points [][2]int
	drawLine(0, 0, 3, 2, func(x, y int) {
		points = append(points, [2]int{x, y})
	})
	if points[0] != [2]int{0, 0} || points[len(points)-1] != [2]int{3, 2} {
		t.Fatalf("unexpected endpoints %v", points)
	}
}
