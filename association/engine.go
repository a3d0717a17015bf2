package association

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/dedup"
	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models"
	"github.com/nvr-ai/helmet-watch/models/postprocess"
	"github.com/nvr-ai/helmet-watch/store"
)

var (
	// ErrSessionClosed is returned when a frame is submitted to a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrEmptyFrame is returned for a frame without pixels.
	ErrEmptyFrame = errors.New("empty frame")
)

// Frame is a single decoded video frame.
type Frame struct {
	ID        int
	Image     gocv.Mat
	Timestamp time.Time
}

// FrameResult summarizes the work done on one frame.
type FrameResult struct {
	// Violations is the number of violations found, with or without a plate.
	Violations int
	// PlatesSaved counts plate crops written and logged.
	PlatesSaved int
	// Duplicates counts plates (or riders, when recording plate-less
	// violations) suppressed by the deduplicator.
	Duplicates int
	// MissingPlates counts violations without a plate.
	MissingPlates int
	// Failures counts evidence that could not be written or logged.
	Failures int
	// Skipped counts malformed detections dropped before association.
	Skipped int
}

// Session carries the per-stream deduplication state. A session is not safe
// for concurrent ProcessFrame calls; run one session per stream.
type Session struct {
	ID uuid.UUID

	plates *dedup.Deduplicator
	riders *dedup.Deduplicator
	closed atomic.Bool
}

// Plates exposes the plate deduplicator of the session.
func (s *Session) Plates() *dedup.Deduplicator { return s.plates }

// Close ends the session and drops its history.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.plates.Reset()
	s.riders.Reset()
}

// Engine turns model results into annotated frames, plate evidence and
// violation log rows.
type Engine struct {
	cfg      Config
	dedup    dedup.Config
	classes  models.ClassMap
	store    store.Store
	enhancer *images.Enhancer
	log      zerolog.Logger
	now      func() time.Time

	// Enhancer is not safe for concurrent use.
	mu sync.Mutex

	stats counters
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	cfg     Config
	dedup   dedup.Config
	enhance images.EnhanceConfig
	classes models.ClassMap
	store   store.Store
	log     zerolog.Logger
	now     func() time.Time
	err     error
}

// NewEngineBuilder creates a builder preloaded with the default rules, the
// default class map and a disabled logger.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		cfg:     DefaultConfig(),
		dedup:   dedup.DefaultConfig(),
		enhance: images.DefaultEnhanceConfig(),
		classes: models.DefaultClassMap(),
		log:     zerolog.Nop(),
		now:     time.Now,
	}
}

// WithConfig sets the association rules.
func (b *EngineBuilder) WithConfig(cfg Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := cfg.Validate(); err != nil {
		b.err = err
		return b
	}
	b.cfg = cfg
	return b
}

// WithClasses sets the mapping from model indices to semantic classes.
//
// Arguments:
//   - classes: The class map; it must name every semantic class.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithClasses(classes models.ClassMap) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if err := classes.Validate(); err != nil {
		b.err = errors.Wrap(ErrInvalidConfig, err.Error())
		return b
	}
	b.classes = classes
	return b
}

// WithDedup sets the duplicate suppression window and radius.
func (b *EngineBuilder) WithDedup(cfg dedup.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if cfg.Window <= 0 || cfg.Radius < 0 {
		b.err = errors.Wrapf(ErrInvalidConfig, "dedup window %s radius %v", cfg.Window, cfg.Radius)
		return b
	}
	b.dedup = cfg
	return b
}

// WithEnhance sets the plate enhancement parameters.
func (b *EngineBuilder) WithEnhance(cfg images.EnhanceConfig) *EngineBuilder {
	b.enhance = cfg
	return b
}

// WithStore sets the violation log.
func (b *EngineBuilder) WithStore(st store.Store) *EngineBuilder {
	b.store = st
	return b
}

// WithLogger sets the logger.
func (b *EngineBuilder) WithLogger(log zerolog.Logger) *EngineBuilder {
	b.log = log
	return b
}

// WithClock replaces the wall clock used for frames without a timestamp.
func (b *EngineBuilder) WithClock(now func() time.Time) *EngineBuilder {
	if now != nil {
		b.now = now
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build creates the engine and its images directory.
//
// Returns:
//   - *Engine: The engine; call Close when done.
//   - error: The first error met while building.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.store == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "a violation store is required")
	}
	if err := os.MkdirAll(b.cfg.ImagesDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create images dir %s", b.cfg.ImagesDir)
	}

	return &Engine{
		cfg:      b.cfg,
		dedup:    b.dedup,
		classes:  b.classes,
		store:    b.store,
		enhancer: images.NewEnhancer(b.enhance),
		log:      b.log.With().Str("component", "association").Logger(),
		now:      b.now,
	}, nil
}

// Config returns the association rules in use.
func (e *Engine) Config() Config { return e.cfg }

// Close releases the enhancer. The store is owned by the caller.
func (e *Engine) Close() error {
	return e.enhancer.Close()
}

// NewSession starts an independent deduplication history, typically one per
// video stream.
func (e *Engine) NewSession() *Session {
	s := &Session{
		ID:     uuid.New(),
		plates: dedup.New(e.dedup),
		riders: dedup.New(e.dedup),
	}
	e.log.Debug().Str("session", s.ID.String()).Msg("session started")
	return s
}

// Prepare validates raw results, drops the malformed ones and applies
// optional same-class suppression to the rest. Surviving detections keep
// their input order.
//
// Arguments:
//   - results: The raw model results of one frame.
//
// Returns:
//   - []Detection: The detections ready for Associate.
//   - int: The number of malformed results dropped.
func (e *Engine) Prepare(results []postprocess.Result) ([]Detection, int) {
	dets := make([]Detection, 0, len(results))
	valid := make([]postprocess.Result, 0, len(results))
	skipped := 0
	for _, r := range results {
		d, err := FromResult(r, e.classes)
		if err != nil {
			skipped++
			e.log.Debug().Err(err).Msg("dropping detection")
			continue
		}
		dets = append(dets, d)
		valid = append(valid, r)
	}

	if e.cfg.NMSIoU <= 0 || len(dets) < 2 {
		return dets, skipped
	}

	keep := postprocess.KeepIndices(valid, &postprocess.NMSConfig{
		IoUThreshold: e.cfg.NMSIoU,
		ClassAware:   true,
	})
	suppressed := make([]Detection, 0, len(keep))
	for _, i := range keep {
		suppressed = append(suppressed, dets[i])
	}
	return suppressed, skipped
}

// ProcessFrame runs association on one frame, annotates the frame in place
// and persists evidence for every new violation with a plate.
//
// Evidence failures are logged and counted but never abort the frame; the
// next frame is processed normally. Crops are taken from the frame as it was
// before annotation.
//
// Arguments:
//   - ctx: The context for store writes.
//   - sess: The stream session holding deduplication state.
//   - frame: The frame to process; its Image is drawn on.
//   - results: The model results for the frame.
//
// Returns:
//   - FrameResult: What was found and written.
//   - error: ErrSessionClosed, ErrEmptyFrame, or the context error.
func (e *Engine) ProcessFrame(ctx context.Context, sess *Session, frame *Frame, results []postprocess.Result) (FrameResult, error) {
	var res FrameResult
	if sess == nil || sess.closed.Load() {
		return res, ErrSessionClosed
	}
	if frame == nil || frame.Image.Empty() {
		return res, ErrEmptyFrame
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	ts := frame.Timestamp
	if ts.IsZero() {
		ts = e.now()
	}

	dets, skipped := e.Prepare(results)
	res.Skipped = skipped

	violations := Associate(dets, e.cfg)
	res.Violations = len(violations)

	var pristine gocv.Mat
	for _, v := range violations {
		if v.Plate != nil {
			pristine = frame.Image.Clone()
			defer pristine.Close()
			break
		}
	}

	canvas := &frame.Image
	for _, v := range violations {
		drawViolation(canvas, v)

		log := e.log.With().
			Str("session", sess.ID.String()).
			Int("frame", frame.ID).
			Int("violation", v.Index).
			Logger()

		if v.Plate == nil {
			res.MissingPlates++
			drawNoPlate(canvas, v)
			e.recordMissingPlate(ctx, sess, v, ts, &res, log)
			continue
		}

		e.capturePlate(ctx, sess, pristine, canvas, v, ts, &res, log)
	}
	drawCounter(canvas, len(violations))

	e.stats.add(res)
	if res.Violations > 0 {
		e.log.Info().
			Str("session", sess.ID.String()).
			Int("frame", frame.ID).
			Int("violations", res.Violations).
			Int("saved", res.PlatesSaved).
			Int("duplicates", res.Duplicates).
			Int("failures", res.Failures).
			Msg("frame processed")
	}
	return res, nil
}
