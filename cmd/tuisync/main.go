// Package main provides the CLI entrypoint for tuisync.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/tuisync/internal/calibration"
	"github.com/verte-zerg/tuisync/internal/clock"
	"github.com/verte-zerg/tuisync/internal/config"
	"github.com/verte-zerg/tuisync/internal/logging"
	"github.com/verte-zerg/tuisync/internal/metronome"
	"github.com/verte-zerg/tuisync/internal/model"
	"github.com/verte-zerg/tuisync/internal/playhead"
	"github.com/verte-zerg/tuisync/internal/settings"
	"github.com/verte-zerg/tuisync/internal/songtime"
	"github.com/verte-zerg/tuisync/internal/stats"
	"github.com/verte-zerg/tuisync/internal/statsui"
	"github.com/verte-zerg/tuisync/internal/store"
	"github.com/verte-zerg/tuisync/internal/tui"
)

const (
	defaultBPM         = 100.0
	defaultJitter      = 0.15
	defaultFineBPM     = 100.0
	defaultTrendWindow = 5
	defaultQuantum     = 10 * time.Millisecond
	defaultSimDuration = 30 * time.Second
	defaultSimFrame    = time.Second / 60
)

var (
	calMinDuration     time.Duration
	calBPM             float64
	calJitter          float64
	calRejectOutliers  bool
	calOutlierK        float64
	calAllowVideoFirst bool
	calBell            bool
	calOnly            string

	estSmoothing     float64
	estMaxFrameGap   time.Duration
	estJumpThreshold time.Duration

	fineStep    time.Duration
	fineBPM     float64
	fineQuantum time.Duration

	historyKind        string
	historySince       string
	historyLast        int
	historyWindow      int
	historySession     string
	historyInteractive bool

	exportFormat string
	exportOutput string
	importFormat string

	simDuration      time.Duration
	simFrame         time.Duration
	simFrameJitter   time.Duration
	simQuantum       time.Duration
	simOutputLatency time.Duration
	simStalls        []string
	simHitch         time.Duration
	simSeed          int64
	simVerbose       bool

	resetHistory bool
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "tuisync",
		Short:         "Terminal audio/video latency calibration",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runCalibrateCmd,
	}

	rootCmd.Flags().DurationVar(&calMinDuration, "min-duration", calibration.DefaultMinDuration, "minimum test length before a result is accepted")
	rootCmd.Flags().Float64Var(&calBPM, "bpm", defaultBPM, "stimulus tempo in beats per minute")
	rootCmd.Flags().Float64Var(&calJitter, "jitter", defaultJitter, "random beat spacing as a fraction of the interval (0-0.5)")
	rootCmd.Flags().BoolVar(&calRejectOutliers, "reject-outliers", false, "drop taps far from the median before averaging")
	rootCmd.Flags().Float64Var(&calOutlierK, "outlier-k", calibration.DefaultOutlierK, "median absolute deviations kept when rejecting outliers")
	rootCmd.Flags().BoolVar(&calAllowVideoFirst, "allow-video-first", false, "allow a video test without an audio result")
	rootCmd.Flags().BoolVar(&calBell, "bell", true, "ring the terminal bell as the audio cue")
	rootCmd.Flags().StringVar(&calOnly, "only", "", "run a single test: audio or video")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newFineTuneCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newResetCmd())

	return rootCmd
}

func runCalibrateCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyDurationConfig(cmd, "min-duration", &calMinDuration, fileCfg.Calibration.MinDuration)
	applyFloatConfig(cmd, "bpm", &calBPM, fileCfg.Calibration.BPM)
	applyFloatConfig(cmd, "jitter", &calJitter, fileCfg.Calibration.Jitter)
	applyBoolConfig(cmd, "reject-outliers", &calRejectOutliers, fileCfg.Calibration.RejectOutliers)
	applyFloatConfig(cmd, "outlier-k", &calOutlierK, fileCfg.Calibration.OutlierK)
	applyBoolConfig(cmd, "allow-video-first", &calAllowVideoFirst, fileCfg.Calibration.AllowVideoFirst)
	applyBoolConfig(cmd, "bell", &calBell, fileCfg.Calibration.Bell)

	cfg := model.CalibrationConfig{
		MinDuration:     calMinDuration,
		BPM:             calBPM,
		Jitter:          calJitter,
		RejectOutliers:  calRejectOutliers,
		OutlierK:        calOutlierK,
		AllowVideoFirst: calAllowVideoFirst,
		Bell:            calBell,
	}
	if err := validateCalibrationConfig(cfg); err != nil {
		return err
	}
	kinds, err := resolveKinds(calOnly)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	log, closeLog := openLog()
	defer closeLog()

	ctx := context.Background()
	initial, saved, err := loadLatency(ctx, st)
	if err != nil {
		return err
	}

	src := clock.NewSystem()
	pub := settings.NewPublisher(initial)
	cal := calibration.NewCalibrator(src, pub, calibration.Options{
		MinDuration:     cfg.MinDuration,
		RejectOutliers:  cfg.RejectOutliers,
		OutlierK:        cfg.OutlierK,
		AllowVideoFirst: cfg.AllowVideoFirst,
		Logger:          log,
	})
	if kinds[0] == calibration.Video {
		if saved {
			cal.UseAudioResult(initial.Audio)
		} else if !cfg.AllowVideoFirst {
			return fmt.Errorf("no saved audio latency; run the audio test first or pass --allow-video-first")
		}
	}

	m := tui.NewModel(tui.Options{
		Calibrator: cal,
		Clock:      src,
		Metronome:  metronome.New(cfg.BPM, cfg.Jitter),
		Recorder:   st,
		Config:     cfg,
		Kinds:      kinds,
		Bell:       os.Stderr,
		Logger:     log,
	})
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	results := m.Results()
	if len(results) == 0 {
		logErrln("No calibration finished; latency settings unchanged.")
		return nil
	}
	out := cmd.OutOrStdout()
	for _, res := range results {
		line := fmt.Sprintf("%s latency: %s (%d samples, %d rejected, %d missed)",
			res.Kind, stats.FormatMillis(res.Latency), len(res.Samples)-res.Rejected, res.Rejected, res.Misses)
		if _, err := fmt.Fprintln(out, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if res.DoubleCountsInput {
			logErrln("warning: video measured without an audio baseline; it includes your input delay")
		}
	}
	if _, err := fmt.Fprintf(out, "Active settings: %s\n", pub.Load()); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show saved latency settings",
		Args:  cobra.NoArgs,
		RunE:  runShowCmd,
	}
}

func runShowCmd(cmd *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	rec, err := st.LoadLatency(context.Background())
	if errors.Is(err, store.ErrNoSettings) {
		logErrln("No latency settings saved yet. Run: tuisync")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load latency settings: %w", err)
	}
	return writeLatencySummary(cmd.OutOrStdout(), rec)
}

func writeLatencySummary(w io.Writer, rec model.LatencyRecord) error {
	lines := []string{
		fmt.Sprintf("audio latency: %s", stats.FormatMillis(rec.Audio)),
		fmt.Sprintf("video latency: %s", stats.FormatMillis(rec.Video)),
	}
	if rec.Source != "" {
		lines = append(lines, fmt.Sprintf("source:        %s", rec.Source))
	}
	if !rec.UpdatedAt.IsZero() {
		lines = append(lines, fmt.Sprintf("updated:       %s", rec.UpdatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newFineTuneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finetune",
		Short: "Nudge video latency against a click track",
		Args:  cobra.NoArgs,
		RunE:  runFineTuneCmd,
	}
	cmd.Flags().DurationVar(&fineStep, "step", calibration.DefaultFineTuneStep, "adjustment per key press")
	cmd.Flags().Float64Var(&fineBPM, "bpm", defaultFineBPM, "click track tempo")
	cmd.Flags().DurationVar(&fineQuantum, "quantum", defaultQuantum, "playhead report granularity")
	addEstimatorFlags(cmd)
	return cmd
}

func runFineTuneCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyDurationConfig(cmd, "step", &fineStep, fileCfg.FineTune.Step)
	applyFloatConfig(cmd, "bpm", &fineBPM, fileCfg.FineTune.BPM)
	estCfg := estimatorConfig(cmd, fileCfg)

	cfg := model.FineTuneConfig{Step: fineStep, BPM: fineBPM}
	if err := validateFineTuneConfig(cfg); err != nil {
		return err
	}
	if err := validateEstimatorConfig(estCfg); err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	log, closeLog := openLog()
	defer closeLog()

	initial, _, err := loadLatency(context.Background(), st)
	if err != nil {
		return err
	}
	pub := settings.NewPublisher(initial)

	m := tui.NewFineTuneModel(tui.FineTuneOptions{
		Tuner:     calibration.NewFineTuner(pub, cfg.Step),
		Clock:     clock.NewSystem(),
		Backend:   playhead.NewSimulated(fineQuantum, 0),
		Estimator: estimatorOptions(estCfg, log),
		BPM:       cfg.BPM,
		Recorder:  st,
		Bell:      os.Stderr,
		Logger:    log,
	})
	program := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	committed, ok := m.Committed()
	if !ok {
		logErrln("Fine-tune cancelled; latency settings unchanged.")
		return nil
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Active settings: %s\n", committed); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past calibration sessions",
		Args:  cobra.NoArgs,
		RunE:  runHistoryCmd,
	}
	cmd.Flags().StringVar(&historyKind, "kind", "", "kind filter: audio or video")
	cmd.Flags().StringVar(&historySince, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&historyLast, "last", 0, "limit to last N sessions")
	cmd.Flags().IntVar(&historyWindow, "window", defaultTrendWindow, "moving average window for the trend")
	cmd.Flags().StringVar(&historySession, "session", "", "print the samples of one session ID")
	cmd.Flags().BoolVarP(&historyInteractive, "interactive", "i", false, "browse history in a TUI")
	return cmd
}

func runHistoryCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := historyConfig(historyKind, historySince, historyLast, historyWindow)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	out := cmd.OutOrStdout()
	switch {
	case historySession != "":
		samples, err := st.ListSamples(ctx, historySession)
		if err != nil {
			return fmt.Errorf("failed to load samples: %w", err)
		}
		return stats.RenderSamples(out, samples)
	case historyInteractive:
		program := tea.NewProgram(statsui.NewModel(st, cfg), tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run history TUI: %w", err)
		}
		return nil
	}

	sessions, err := st.ListSessions(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	return stats.RenderHistory(out, sessions, cfg.Window, 0)
}

func historyConfig(kind, since string, last, window int) (model.HistoryConfig, error) {
	cfg := model.HistoryConfig{Last: last, Window: window}
	if kind != "" {
		k, err := calibration.ParseKind(kind)
		if err != nil {
			return model.HistoryConfig{}, fmt.Errorf("invalid --kind value: %w", err)
		}
		cfg.Kind = k.String()
	}
	if since != "" {
		parsed, err := time.ParseInLocation("2006-01-02", since, time.Local)
		if err != nil {
			return model.HistoryConfig{}, fmt.Errorf("invalid --since value: %w", err)
		}
		cfg.Since = &parsed
	}
	if last < 0 {
		return model.HistoryConfig{}, fmt.Errorf("--last must be >= 0")
	}
	if window < 1 {
		return model.HistoryConfig{}, fmt.Errorf("--window must be >= 1")
	}
	return cfg, nil
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write latency settings for a game settings store",
		Args:  cobra.NoArgs,
		RunE:  runExportCmd,
	}
	cmd.Flags().StringVar(&exportFormat, "format", string(config.FormatTOML), "output format: toml or yaml")
	cmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func runExportCmd(cmd *cobra.Command, _ []string) error {
	format, err := config.ParseFormat(exportFormat)
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	rec, err := st.LoadLatency(context.Background())
	if errors.Is(err, store.ErrNoSettings) {
		return fmt.Errorf("no latency settings saved yet; run: tuisync")
	}
	if err != nil {
		return fmt.Errorf("failed to load latency settings: %w", err)
	}
	file := config.NewLatencyFile(rec.Audio, rec.Video, rec.Source, rec.UpdatedAt)

	if exportOutput == "" {
		return config.WriteLatency(cmd.OutOrStdout(), format, file)
	}
	if err := writeFileAtomic(exportOutput, func(w io.Writer) error {
		return config.WriteLatency(w, format, file)
	}); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	logErrf("Wrote %s\n", exportOutput)
	return nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load latency settings from an exported file",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportCmd,
	}
	cmd.Flags().StringVar(&importFormat, "format", "", "input format: toml or yaml (default: from extension)")
	return cmd
}

func runImportCmd(cmd *cobra.Command, args []string) error {
	path := args[0]
	name := importFormat
	if name == "" {
		name = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	format, err := config.ParseFormat(name)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			logErrf("failed to close %s: %v\n", path, cerr)
		}
	}()
	file, err := config.ReadLatency(f, format)
	if err != nil {
		return err
	}
	audio, video, err := file.Latencies()
	if err != nil {
		return err
	}

	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	rec := model.LatencyRecord{Audio: audio, Video: video, Source: "import", UpdatedAt: time.Now()}
	if err := st.SaveLatency(context.Background(), rec); err != nil {
		return fmt.Errorf("failed to save latency settings: %w", err)
	}
	return writeLatencySummary(cmd.OutOrStdout(), rec)
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run the song time estimator against a simulated playhead",
		Args:  cobra.NoArgs,
		RunE:  runSimulateCmd,
	}
	cmd.Flags().DurationVar(&simDuration, "duration", defaultSimDuration, "simulated playback length")
	cmd.Flags().DurationVar(&simFrame, "frame", defaultSimFrame, "render frame interval")
	cmd.Flags().DurationVar(&simFrameJitter, "frame-jitter", 0, "random frame interval variation")
	cmd.Flags().DurationVar(&simQuantum, "quantum", defaultQuantum, "playhead report granularity")
	cmd.Flags().DurationVar(&simOutputLatency, "output-latency", 0, "audio output latency reported by the backend")
	cmd.Flags().StringSliceVar(&simStalls, "stall", nil, "freeze playhead reports over FROM-TO (e.g. 5s-5.5s)")
	cmd.Flags().DurationVar(&simHitch, "hitch", 0, "stretch one frame halfway through by this much")
	cmd.Flags().Int64Var(&simSeed, "seed", 1, "frame jitter seed")
	cmd.Flags().BoolVarP(&simVerbose, "verbose", "v", false, "log estimator warnings to stderr")
	addEstimatorFlags(cmd)
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, _ []string) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	estCfg := estimatorConfig(cmd, fileCfg)
	if err := validateEstimatorConfig(estCfg); err != nil {
		return err
	}
	stalls, err := parseStalls(simStalls)
	if err != nil {
		return err
	}
	if simDuration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if simFrame <= 0 {
		return fmt.Errorf("--frame must be > 0")
	}
	if simQuantum < 0 || simFrameJitter < 0 || simOutputLatency < 0 || simHitch < 0 {
		return fmt.Errorf("--quantum, --frame-jitter, --output-latency and --hitch must be >= 0")
	}

	var log logrus.FieldLogger = logging.Discard()
	if simVerbose {
		log = logging.New(os.Stderr, true)
	}
	trace := songtime.Simulate(estimatorOptions(estCfg, log), songtime.Scenario{
		Duration:      simDuration,
		Frame:         simFrame,
		FrameJitter:   simFrameJitter,
		Quantum:       simQuantum,
		OutputLatency: simOutputLatency,
		Stalls:        stalls,
		Hitch:         simHitch,
		Seed:          simSeed,
	})
	return renderTrace(cmd.OutOrStdout(), trace, stats.TerminalWidth())
}

func renderTrace(w io.Writer, trace songtime.Trace, width int) error {
	errs := make([]float64, len(trace.Errors))
	abs := make([]float64, len(trace.Errors))
	for i, e := range trace.Errors {
		errs[i] = stats.Millis(e)
		abs[i] = max(errs[i], -errs[i])
	}
	lines := []string{
		fmt.Sprintf("frames: %d  resyncs: %d", trace.Frames, trace.Resets),
		fmt.Sprintf("error      %s", stats.Summarize(errs)),
		fmt.Sprintf("abs error  %s", stats.Summarize(abs)),
		fmt.Sprintf("trend      %s", stats.Sparkline(stats.Resample(errs, min(60, max(width-12, 10))))),
		"",
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return stats.PlotMillis(w, "Estimate minus song time", []stats.Series{{Name: "error", Values: errs}}, width-12, 0)
}

func parseStalls(values []string) ([]playhead.Stall, error) {
	stalls := make([]playhead.Stall, 0, len(values))
	for _, v := range values {
		fromStr, toStr, ok := strings.Cut(strings.TrimSpace(v), "-")
		if !ok {
			return nil, fmt.Errorf("invalid --stall %q (expected FROM-TO)", v)
		}
		from, err := time.ParseDuration(fromStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --stall start %q: %w", fromStr, err)
		}
		to, err := time.ParseDuration(toStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --stall end %q: %w", toStr, err)
		}
		if from < 0 || to <= from {
			return nil, fmt.Errorf("invalid --stall %q (end must follow start)", v)
		}
		stalls = append(stalls, playhead.Stall{From: from, To: to})
	}
	return stalls, nil
}

func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget saved latency settings",
		Args:  cobra.NoArgs,
		RunE:  runResetCmd,
	}
	cmd.Flags().BoolVar(&resetHistory, "history", false, "also delete calibration history")
	return cmd
}

func runResetCmd(_ *cobra.Command, _ []string) error {
	st, err := store.Open(config.DefaultDBPath())
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	ctx := context.Background()
	if err := st.ResetLatency(ctx); err != nil {
		return fmt.Errorf("failed to reset latency settings: %w", err)
	}
	logErrln("Latency settings cleared.")
	if !resetHistory {
		return nil
	}
	if err := st.DeleteSessions(ctx); err != nil {
		return fmt.Errorf("failed to delete history: %w", err)
	}
	logErrln("Calibration history deleted.")
	return nil
}

func addEstimatorFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&estSmoothing, "smoothing", songtime.DefaultSmoothing, "weight of a fresh playhead report (0-1]")
	cmd.Flags().DurationVar(&estMaxFrameGap, "max-frame-gap", songtime.DefaultMaxFrameGap, "largest frame step treated as continuous")
	cmd.Flags().DurationVar(&estJumpThreshold, "jump-threshold", songtime.DefaultJumpThreshold, "report distance treated as a seek (negative disables)")
}

func estimatorConfig(cmd *cobra.Command, fileCfg config.FileConfig) model.EstimatorConfig {
	applyFloatConfig(cmd, "smoothing", &estSmoothing, fileCfg.Estimator.Smoothing)
	applyDurationConfig(cmd, "max-frame-gap", &estMaxFrameGap, fileCfg.Estimator.MaxFrameGap)
	applyDurationConfig(cmd, "jump-threshold", &estJumpThreshold, fileCfg.Estimator.JumpThreshold)
	return model.EstimatorConfig{
		Smoothing:     estSmoothing,
		MaxFrameGap:   estMaxFrameGap,
		JumpThreshold: estJumpThreshold,
	}
}

func estimatorOptions(cfg model.EstimatorConfig, log logrus.FieldLogger) songtime.Options {
	return songtime.Options{
		Smoothing:     cfg.Smoothing,
		MaxFrameGap:   cfg.MaxFrameGap,
		JumpThreshold: cfg.JumpThreshold,
		Logger:        log,
	}
}

func loadLatency(ctx context.Context, st *store.Store) (settings.Latency, bool, error) {
	rec, err := st.LoadLatency(ctx)
	if errors.Is(err, store.ErrNoSettings) {
		return settings.Latency{}, false, nil
	}
	if err != nil {
		return settings.Latency{}, false, fmt.Errorf("failed to load latency settings: %w", err)
	}
	return settings.Latency{Audio: rec.Audio, Video: rec.Video}, true, nil
}

// openLog points library diagnostics at the log file while a TUI owns the
// terminal. Failure falls back to a discarding logger.
func openLog() (logrus.FieldLogger, func()) {
	path := config.DefaultLogPath()
	log, closer, err := logging.OpenFile(path, false)
	if err != nil {
		logErrf("failed to open log %s: %v\n", path, err)
		return logging.Discard(), func() {}
	}
	return log, func() {
		if cerr := closer.Close(); cerr != nil {
			logErrf("failed to close log: %v\n", cerr)
		}
	}
}

func writeFileAtomic(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "tuisync-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if err := write(tmpFile); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func resolveKinds(only string) ([]calibration.Kind, error) {
	if strings.TrimSpace(only) == "" {
		return []calibration.Kind{calibration.Audio, calibration.Video}, nil
	}
	kind, err := calibration.ParseKind(only)
	if err != nil {
		return nil, fmt.Errorf("invalid --only value: %w", err)
	}
	return []calibration.Kind{kind}, nil
}

func applyFloatConfig(cmd *cobra.Command, name string, target, value *float64) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *config.Duration) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value.Duration
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# tuisync configuration
# Uncomment a value to enable it. CLI flags override config values.

[calibration]
# min-duration = %q       # Minimum test length before a result is accepted
# bpm = %.1f              # Stimulus tempo
# jitter = %.2f            # Random beat spacing as a fraction of the interval (0-0.5)
# reject-outliers = false  # Drop taps far from the median before averaging
# outlier-k = %.1f          # Median absolute deviations kept when rejecting outliers
# allow-video-first = false # Allow a video test without an audio result
# bell = true              # Ring the terminal bell as the audio cue

[estimator]
# smoothing = %.1f          # Weight of a fresh playhead report (0-1]
# max-frame-gap = %q      # Largest frame step treated as continuous
# jump-threshold = %q # Report distance treated as a seek

[finetune]
# step = %q                # Adjustment per key press
# bpm = %.1f              # Click track tempo
`,
		calibration.DefaultMinDuration.String(),
		defaultBPM,
		defaultJitter,
		calibration.DefaultOutlierK,
		songtime.DefaultSmoothing,
		songtime.DefaultMaxFrameGap.String(),
		songtime.DefaultJumpThreshold.String(),
		calibration.DefaultFineTuneStep.String(),
		defaultFineBPM,
	)
}

func validateCalibrationConfig(cfg model.CalibrationConfig) error {
	if cfg.MinDuration <= 0 {
		return fmt.Errorf("--min-duration must be > 0")
	}
	if cfg.BPM <= 0 || cfg.BPM > 300 {
		return fmt.Errorf("--bpm must be between 0 and 300")
	}
	if cfg.Jitter < 0 || cfg.Jitter > 0.5 {
		return fmt.Errorf("--jitter must be between 0 and 0.5")
	}
	if cfg.OutlierK <= 0 {
		return fmt.Errorf("--outlier-k must be > 0")
	}
	return nil
}

func validateFineTuneConfig(cfg model.FineTuneConfig) error {
	if cfg.Step <= 0 {
		return fmt.Errorf("--step must be > 0")
	}
	if cfg.BPM <= 0 || cfg.BPM > 300 {
		return fmt.Errorf("--bpm must be between 0 and 300")
	}
	return nil
}

func validateEstimatorConfig(cfg model.EstimatorConfig) error {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		return fmt.Errorf("--smoothing must be in (0, 1]")
	}
	if cfg.MaxFrameGap <= 0 {
		return fmt.Errorf("--max-frame-gap must be > 0")
	}
	return nil
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
