package stats

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/verte-zerg/tuisync/internal/model"
)

// Summary describes a run of millisecond values.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	Min    float64
	Max    float64
}

// Summarize computes a Summary over values.
func Summarize(values []float64) Summary {
	s := Summary{Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Mean = Mean(values)
	s.StdDev = StdDev(values)
	s.Median = Median(values)
	s.Min, s.Max = values[0], values[0]
	for _, v := range values[1:] {
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("n=%d mean=%.2fms sd=%.2fms median=%.2fms min=%.2fms max=%.2fms",
		s.Count, s.Mean, s.StdDev, s.Median, s.Min, s.Max)
}

// Millis converts a duration to fractional milliseconds.
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// FormatMillis renders a duration as milliseconds with two decimals.
func FormatMillis(d time.Duration) string {
	return strconv.FormatFloat(Millis(d), 'f', 2, 64) + "ms"
}

// RenderHistory prints a session table followed by per-kind latency trends.
// Window smooths the plotted trend; 0 or 1 plots raw values.
func RenderHistory(w io.Writer, sessions []model.SessionRecord, window, width int) error {
	if len(sessions) == 0 {
		_, err := fmt.Fprintln(w, "No calibration sessions yet.")
		return err
	}
	headers := []string{"Ended", "Kind", "Latency", "Correction", "Samples", "Rejected", "Misses"}
	rows := make([][]string, 0, len(sessions))
	var audio, video []float64
	for _, s := range sessions {
		rows = append(rows, []string{
			s.EndedAt.Local().Format("2006-01-02 15:04"),
			s.Kind,
			FormatMillis(s.Latency),
			FormatMillis(s.Correction),
			strconv.Itoa(s.Samples),
			strconv.Itoa(s.Rejected),
			strconv.Itoa(s.Misses),
		})
		switch s.Kind {
		case "audio":
			audio = append(audio, Millis(s.Latency))
		case "video":
			video = append(video, Millis(s.Latency))
		}
	}
	for _, line := range formatTable(headers, rows, map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for _, trend := range []struct {
		name   string
		values []float64
	}{{"audio", audio}, {"video", video}} {
		if len(trend.values) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %s\n", trend.name, Sparkline(trend.values), Summarize(trend.values)); err != nil {
			return err
		}
	}
	if len(audio) < 2 && len(video) < 2 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return PlotMillis(w, "Latency trend", []Series{
		{Name: "audio", Values: MovingAverage(audio, window)},
		{Name: "video", Values: MovingAverage(video, window)},
	}, width, 0)
}

// RenderSamples prints the round trips of one session.
func RenderSamples(w io.Writer, samples []model.SampleRecord) error {
	if len(samples) == 0 {
		_, err := fmt.Fprintln(w, "No samples recorded.")
		return err
	}
	rows := make([][]string, 0, len(samples))
	var kept []float64
	for _, smp := range samples {
		flag := ""
		if smp.Rejected {
			flag = "outlier"
		} else {
			kept = append(kept, Millis(smp.Effective))
		}
		rows = append(rows, []string{
			strconv.Itoa(smp.Beat),
			FormatMillis(smp.Raw),
			FormatMillis(smp.Effective),
			flag,
		})
	}
	for _, line := range formatTable([]string{"Beat", "Raw", "Effective", ""}, rows, map[int]bool{0: true, 1: true, 2: true}) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", Summarize(kept))
	return err
}
