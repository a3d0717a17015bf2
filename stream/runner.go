// Package stream - Drives frames from a source through the association engine.
package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models/postprocess"
	"github.com/nvr-ai/helmet-watch/profiler"
)

// DefaultFPS is assumed when a source has no frame rate of its own.
const DefaultFPS = 30

// Config controls how a stream is consumed.
type Config struct {
	// FrameSkip processes every Nth frame; 1 processes all of them.
	FrameSkip int `json:"frame_skip" yaml:"frame_skip" mapstructure:"frame_skip"`
	// FPS is the frame rate of sources that carry none, such as directories.
	FPS float64 `json:"fps" yaml:"fps" mapstructure:"fps"`
	// OutputDir receives annotated frames when set.
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
}

// DefaultConfig processes every second frame without writing annotated output.
func DefaultConfig() Config {
	return Config{FrameSkip: 2, FPS: DefaultFPS}
}

// Processor is the part of the association engine the runner drives.
type Processor interface {
	NewSession() *association.Session
	ProcessFrame(ctx context.Context, sess *association.Session, frame *association.Frame, results []postprocess.Result) (association.FrameResult, error)
}

// Summary totals a finished run.
type Summary struct {
	FramesRead      int
	FramesProcessed int
	Unreadable      int
	Violations      int
	PlatesSaved     int
	Duplicates      int
	MissingPlates   int
	Failures        int
	Skipped         int
}

func (s *Summary) add(r association.FrameResult) {
	s.FramesProcessed++
	s.Violations += r.Violations
	s.PlatesSaved += r.PlatesSaved
	s.Duplicates += r.Duplicates
	s.MissingPlates += r.MissingPlates
	s.Failures += r.Failures
	s.Skipped += r.Skipped
}

// Runner consumes one source per Run, each in its own session.
type Runner struct {
	cfg       Config
	processor Processor
	profiler  *profiler.RuntimeProfiler
	log       zerolog.Logger
}

// NewRunner creates a runner. The profiler may be nil.
func NewRunner(cfg Config, processor Processor, prof *profiler.RuntimeProfiler, log zerolog.Logger) (*Runner, error) {
	if cfg.FrameSkip < 1 {
		return nil, errors.Errorf("frame skip must be at least 1, got %d", cfg.FrameSkip)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create output dir %s", cfg.OutputDir)
		}
	}
	return &Runner{
		cfg:       cfg,
		processor: processor,
		profiler:  prof,
		log:       log.With().Str("component", "stream").Logger(),
	}, nil
}

// Run reads src to the end, feeding every FrameSkip-th frame and its
// detections to the processor. Frames without an entry in detections are
// processed with no results. Unreadable frames are logged and skipped.
//
// Arguments:
//   - ctx: Cancels the run between frames.
//   - src: The frame source; Run does not close it.
//   - detections: Model results by frame ID.
//
// Returns:
//   - Summary: Totals for the frames seen so far.
//   - error: The context error, or a source read failure.
func (r *Runner) Run(ctx context.Context, src Source, detections map[int][]postprocess.Result) (Summary, error) {
	var sum Summary

	sess := r.processor.NewSession()
	defer sess.Close()
	log := r.log.With().Str("session", sess.ID.String()).Logger()

	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		frame, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		sum.FramesRead++
		if errors.Is(err, ErrUnreadableFrame) {
			sum.Unreadable++
			log.Warn().Err(err).Int("frame", frame.ID).Msg("skipping unreadable frame")
			continue
		}
		if err != nil {
			return sum, errors.Wrap(err, "read frame")
		}

		if sum.FramesRead%r.cfg.FrameSkip != 0 {
			frame.Image.Close()
			continue
		}

		if err := r.process(ctx, sess, &frame, detections[frame.ID], &sum, log); err != nil {
			frame.Image.Close()
			return sum, err
		}
		frame.Image.Close()
	}

	log.Info().
		Int("frames", sum.FramesRead).
		Int("processed", sum.FramesProcessed).
		Int("violations", sum.Violations).
		Int("saved", sum.PlatesSaved).
		Int("duplicates", sum.Duplicates).
		Int("failures", sum.Failures).
		Msg("stream finished")
	return sum, nil
}

func (r *Runner) process(
	ctx context.Context,
	sess *association.Session,
	frame *association.Frame,
	results []postprocess.Result,
	sum *Summary,
	log zerolog.Logger,
) error {
	var done func()
	if r.profiler != nil {
		done = r.profiler.StartOperation("process_frame")
	}
	res, err := r.processor.ProcessFrame(ctx, sess, frame, results)
	if done != nil {
		done()
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, association.ErrSessionClosed):
		return err
	default:
		log.Warn().Err(err).Int("frame", frame.ID).Msg("frame not processed")
		return nil
	}
	sum.add(res)

	if r.cfg.OutputDir != "" {
		path := filepath.Join(r.cfg.OutputDir, fmt.Sprintf("frame-%06d.jpg", frame.ID))
		if err := images.WriteJPEG(path, frame.Image, images.DefaultJPEGQuality); err != nil {
			log.Warn().Err(err).Msg("annotated frame not written")
		}
	}
	return nil
}
