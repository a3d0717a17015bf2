package stream

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models/postprocess"
	"github.com/nvr-ai/helmet-watch/profiler"
	"github.com/nvr-ai/helmet-watch/store"
)

var start = time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local)

func newEngine(t *testing.T) (*association.Engine, store.Store, string) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewCSVStore(filepath.Join(dir, "violations.csv"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := association.DefaultConfig()
	cfg.ImagesDir = filepath.Join(dir, "violations")
	engine, err := association.NewEngineBuilder().WithConfig(cfg).WithStore(st).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, st, cfg.ImagesDir
}

// memorySource serves blank frames with IDs 0..n-1.
type memorySource struct {
	n, next int
}

func (s *memorySource) Next() (association.Frame, error) {
	if s.next >= s.n {
		return association.Frame{}, io.EOF
	}
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	f := association.Frame{ID: s.next, Image: img, Timestamp: frameTime(start, s.next, DefaultFPS)}
	s.next++
	return f, nil
}

func (s *memorySource) Close() error { return nil }

// recorder forwards to a real engine and remembers the frames it saw.
type recorder struct {
	*association.Engine
	frames []int
}

func (r *recorder) ProcessFrame(ctx context.Context, sess *association.Session, frame *association.Frame, results []postprocess.Result) (association.FrameResult, error) {
	r.frames = append(r.frames, frame.ID)
	return r.Engine.ProcessFrame(ctx, sess, frame, results)
}

func scenario() []postprocess.Result {
	return []postprocess.Result{
		{Class: 3, Score: 0.9, Box: images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 200}},
		{Class: 1, Score: 0.9, Box: images.Rect{X1: 10, Y1: 10, X2: 60, Y2: 60}},
		{Class: 2, Score: 0.9, Box: images.Rect{X1: 20, Y1: 180, X2: 80, Y2: 220}},
	}
}

func TestRun_FrameSkip(t *testing.T) {
	engine, _, _ := newEngine(t)
	rec := &recorder{Engine: engine}

	runner, err := NewRunner(Config{FrameSkip: 2}, rec, nil, zerolog.Nop())
	require.NoError(t, err)

	sum, err := runner.Run(context.Background(), &memorySource{n: 5}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, rec.frames)
	assert.Equal(t, 5, sum.FramesRead)
	assert.Equal(t, 2, sum.FramesProcessed)
}

func TestRun_DeduplicatesAcrossFrames(t *testing.T) {
	engine, st, imagesDir := newEngine(t)
	prof := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})

	runner, err := NewRunner(Config{FrameSkip: 1}, engine, prof, zerolog.Nop())
	require.NoError(t, err)

	detections := map[int][]postprocess.Result{0: scenario(), 1: scenario(), 2: scenario()}
	sum, err := runner.Run(context.Background(), &memorySource{n: 3}, detections)
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Violations)
	assert.Equal(t, 1, sum.PlatesSaved)
	assert.Equal(t, 2, sum.Duplicates)

	records, err := st.Records(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 1)

	files, err := os.ReadDir(imagesDir)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	assert.Equal(t, int64(3), prof.Snapshot().Operations["process_frame"].Count)
}

func TestRun_ContextCancelled(t *testing.T) {
	engine, _, _ := newEngine(t)
	runner, err := NewRunner(DefaultConfig(), engine, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := runner.Run(ctx, &memorySource{n: 3}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.FramesRead)
}

func TestRun_DirectorySourceWithOutput(t *testing.T) {
	engine, st, _ := newEngine(t)

	framesDir := t.TempDir()
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetTo(gocv.NewScalar(90, 90, 90, 0))
	for _, name := range []string{"frame-1.jpg", "frame-2.jpg"} {
		require.True(t, gocv.IMWrite(filepath.Join(framesDir, name), img))
	}
	require.NoError(t, os.WriteFile(filepath.Join(framesDir, "frame-3.jpg"), []byte("not a jpeg"), 0o644))

	src, err := OpenDirectory(framesDir, start, 10)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, 3, src.Len())

	outDir := filepath.Join(t.TempDir(), "annotated")
	runner, err := NewRunner(Config{FrameSkip: 1, OutputDir: outDir}, engine, nil, zerolog.Nop())
	require.NoError(t, err)

	sum, err := runner.Run(context.Background(), src, map[int][]postprocess.Result{2: scenario()})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.FramesRead)
	assert.Equal(t, 1, sum.Unreadable)
	assert.Equal(t, 2, sum.FramesProcessed)
	assert.Equal(t, 1, sum.PlatesSaved)

	out, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	records, err := st.Records(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	// Frame 2 at 10 fps.
	assert.True(t, start.Add(200*time.Millisecond).Truncate(time.Second).Equal(records[0].Time))
}

func TestNewRunner_RejectsFrameSkip(t *testing.T) {
	engine, _, _ := newEngine(t)
	_, err := NewRunner(Config{FrameSkip: 0}, engine, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenVideo_Missing(t *testing.T) {
	_, err := OpenVideo(filepath.Join(t.TempDir(), "missing.mp4"), start, DefaultFPS)
	assert.Error(t, err)
}

func TestFrameTime(t *testing.T) {
	assert.Equal(t, start.Add(1500*time.Millisecond), frameTime(start, 45, 30))
}
