// Command helmetwatch replays model detections over a video or frame
// directory, logs helmet violations with plate evidence, and reports on the
// violation log.
//
// Usage:
//
//	helmetwatch run   -config helmetwatch.yaml -video in.mp4 -detections in.jsonl
//	helmetwatch run   -config helmetwatch.yaml -frames frames/ -detections in.jsonl -output-dir annotated/
//	helmetwatch stats -config helmetwatch.yaml
//	helmetwatch reset -config helmetwatch.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/config"
	"github.com/nvr-ai/helmet-watch/models"
	"github.com/nvr-ai/helmet-watch/profiler"
	"github.com/nvr-ai/helmet-watch/store"
	"github.com/nvr-ai/helmet-watch/stream"
	"github.com/nvr-ai/helmet-watch/util"
)

var supportedVideoExtensions = []string{".mp4", ".avi", ".mov", ".mkv"}

// InputType represents the type of input being processed.
type InputType int

const (
	// InputVideo is a single video file read through gocv.
	InputVideo InputType = iota
	// InputFrames is a directory of numbered still frames.
	InputFrames
)

// InputConfig holds the input configuration.
type InputConfig struct {
	Type       InputType
	Path       string
	Detections string
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(ctx, os.Args[2:], os.Stdout)
	case "stats":
		err = statsCmd(ctx, os.Args[2:], os.Stdout)
	case "reset":
		err = resetCmd(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		usage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "helmetwatch %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: helmetwatch <run|stats|reset> [flags]")
	fmt.Fprintln(w, "  run    process a video or frame directory with its detection log")
	fmt.Fprintln(w, "  stats  summarize the violation log")
	fmt.Fprintln(w, "  reset  delete all logged violations")
}

// validateInputFlags checks that exactly one input was given and that it
// exists.
func validateInputFlags(videoPath, framesDir, detectionsPath string) (InputConfig, error) {
	if detectionsPath == "" {
		return InputConfig{}, errors.New("-detections is required")
	}
	if _, err := os.Stat(detectionsPath); err != nil {
		return InputConfig{}, errors.Wrap(err, "detection log")
	}

	switch {
	case videoPath != "" && framesDir != "":
		return InputConfig{}, errors.New("-video and -frames are mutually exclusive")
	case videoPath != "":
		ext := strings.ToLower(filepath.Ext(videoPath))
		if !slices.Contains(supportedVideoExtensions, ext) {
			return InputConfig{}, errors.Errorf("unsupported video extension %q (supported: %s)",
				ext, strings.Join(supportedVideoExtensions, ", "))
		}
		if _, err := os.Stat(videoPath); err != nil {
			return InputConfig{}, errors.Wrap(err, "video")
		}
		return InputConfig{Type: InputVideo, Path: videoPath, Detections: detectionsPath}, nil
	case framesDir != "":
		info, err := os.Stat(framesDir)
		if err != nil {
			return InputConfig{}, errors.Wrap(err, "frames")
		}
		if !info.IsDir() {
			return InputConfig{}, errors.Errorf("%s is not a directory", framesDir)
		}
		return InputConfig{Type: InputFrames, Path: framesDir, Detections: detectionsPath}, nil
	default:
		return InputConfig{}, errors.New("one of -video or -frames is required")
	}
}

// loadConfig parses the shared -config flag plus any extra flags.
func loadConfig(fs *flag.FlagSet, args []string) (*config.Config, error) {
	path := fs.String("config", "", "Path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.Load(*path)
}

func runCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		videoPath   = fs.String("video", "", "Path to video file (.mp4, .avi, .mov, .mkv)")
		framesDir   = fs.String("frames", "", "Directory of frame-N.jpg images")
		detections  = fs.String("detections", "", "JSON Lines detection log, one frame per line")
		outputDir   = fs.String("output-dir", "", "Write annotated frames to this directory")
		source      = fs.String("source", "", "Value of the Source column (default from config)")
		startAt     = fs.String("start", "", "Timestamp of the first frame, RFC 3339 (default now)")
		frameSkip   = fs.Int("frame-skip", 0, "Process every Nth frame (default from config)")
		showProfile = fs.Bool("profile", false, "Log periodic runtime reports")
	)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	input, err := validateInputFlags(*videoPath, *framesDir, *detections)
	if err != nil {
		return err
	}
	if *outputDir != "" {
		cfg.Stream.OutputDir = *outputDir
	}
	if *source != "" {
		cfg.Engine.Source = *source
	}
	if *frameSkip > 0 {
		cfg.Stream.FrameSkip = *frameSkip
	}
	start := time.Now()
	if *startAt != "" {
		if start, err = time.Parse(time.RFC3339, *startAt); err != nil {
			return errors.Wrap(err, "-start")
		}
	}

	log := cfg.Log.Logger(os.Stderr)

	detectionLog, err := util.LoadDetectionLogFile(input.Detections, log)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	classes, err := models.NewClassMap(cfg.Classes)
	if err != nil {
		return err
	}

	engine, err := association.NewEngineBuilder().
		WithConfig(cfg.Engine).
		WithClasses(classes).
		WithDedup(cfg.Dedup).
		WithEnhance(cfg.Enhance).
		WithStore(st).
		WithLogger(log).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	var prof *profiler.RuntimeProfiler
	if *showProfile || cfg.Profiler.Enabled {
		prof = profiler.NewRuntimeProfiler(profiler.ProfilingOptions{
			ReportInterval: cfg.Profiler.ReportInterval,
			Logger:         log,
		})
		prof.AddMetricsCollector(engine)
		prof.Start()
		defer prof.Stop()
	}

	var src stream.Source
	switch input.Type {
	case InputVideo:
		src, err = stream.OpenVideo(input.Path, start, cfg.Stream.FPS)
	case InputFrames:
		src, err = stream.OpenDirectory(input.Path, start, cfg.Stream.FPS)
	}
	if err != nil {
		return err
	}
	defer src.Close()

	runner, err := stream.NewRunner(cfg.Stream, engine, prof, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("input", input.Path).
		Int("logged_frames", detectionLog.Frames()).
		Int("frame_skip", cfg.Stream.FrameSkip).
		Str("store", cfg.Store.Path).
		Msg("processing started")

	sum, err := runner.Run(ctx, src, detectionLog)
	printSummary(out, sum)
	if errors.Is(err, context.Canceled) {
		log.Warn().Msg("interrupted")
		return nil
	}
	return err
}

func printSummary(w io.Writer, sum stream.Summary) {
	fmt.Fprintf(w, "Frames read:       %d\n", sum.FramesRead)
	fmt.Fprintf(w, "Frames processed:  %d\n", sum.FramesProcessed)
	fmt.Fprintf(w, "Violations:        %d\n", sum.Violations)
	fmt.Fprintf(w, "Plates saved:      %d\n", sum.PlatesSaved)
	fmt.Fprintf(w, "Duplicates:        %d\n", sum.Duplicates)
	fmt.Fprintf(w, "Without plate:     %d\n", sum.MissingPlates)
	if sum.Failures > 0 || sum.Unreadable > 0 {
		fmt.Fprintf(w, "Evidence failures: %d\n", sum.Failures)
		fmt.Fprintf(w, "Unreadable frames: %d\n", sum.Unreadable)
	}
}

func statsCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store, cfg.Log.Logger(os.Stderr))
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Stats(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Total:    %d\n", stats.Total)
	fmt.Fprintf(out, "Today:    %d\n", stats.Today)
	fmt.Fprintf(out, "Pending:  %d\n", stats.Pending)
	fmt.Fprintf(out, "Reviewed: %d\n", stats.Reviewed)
	return nil
}

func resetCmd(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	images := fs.Bool("images", false, "Also delete the plate images directory")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	log := cfg.Log.Logger(os.Stderr)

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Reset(ctx); err != nil {
		return err
	}
	if *images {
		if err := os.RemoveAll(cfg.Engine.ImagesDir); err != nil {
			return errors.Wrapf(err, "remove %s", cfg.Engine.ImagesDir)
		}
	}
	log.Info().Str("store", cfg.Store.Path).Bool("images", *images).Msg("violation log reset")
	fmt.Fprintln(out, "Violation log cleared.")
	return nil
}
