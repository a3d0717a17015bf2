package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/helmet-watch/store"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestValidateInputFlags(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "clip.MP4")
	text := filepath.Join(dir, "clip.txt")
	detections := filepath.Join(dir, "d.jsonl")
	touch(t, video)
	touch(t, text)
	touch(t, detections)

	input, err := validateInputFlags(video, "", detections)
	require.NoError(t, err)
	assert.Equal(t, InputVideo, input.Type)

	input, err = validateInputFlags("", dir, detections)
	require.NoError(t, err)
	assert.Equal(t, InputFrames, input.Type)

	for name, args := range map[string][3]string{
		"no input":       {"", "", detections},
		"both inputs":    {video, dir, detections},
		"no detections":  {video, "", ""},
		"missing log":    {video, "", filepath.Join(dir, "none.jsonl")},
		"bad extension":  {text, "", detections},
		"frames not dir": {"", video, detections},
		"missing video":  {filepath.Join(dir, "none.mp4"), "", detections},
	} {
		_, err := validateInputFlags(args[0], args[1], args[2])
		assert.Error(t, err, name)
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()

	body := "store:\n  path: " + filepath.Join(dir, "violations.csv") + "\n" +
		"engine:\n  images_dir: " + filepath.Join(dir, "violations") + "\n" +
		"stream:\n  frame_skip: 1\n"
	path := filepath.Join(dir, "helmetwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRunStatsReset(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	ctx := context.Background()

	framesDir := filepath.Join(dir, "frames")
	require.NoError(t, os.Mkdir(framesDir, 0o755))
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	require.True(t, gocv.IMWrite(filepath.Join(framesDir, "frame-0.jpg"), img))

	detections := filepath.Join(dir, "detections.jsonl")
	require.NoError(t, os.WriteFile(detections, []byte(
		`{"frame": 0, "detections": [`+
			`{"class": 3, "confidence": 0.9, "box": [0, 0, 100, 200]},`+
			`{"class": 1, "confidence": 0.9, "box": [10, 10, 60, 60]},`+
			`{"class": 2, "confidence": 0.9, "box": [20, 180, 80, 220]}]}`+"\n"), 0o644))

	var out bytes.Buffer
	require.NoError(t, runCmd(ctx, []string{
		"-config", cfgPath,
		"-frames", framesDir,
		"-detections", detections,
		"-start", time.Now().Format(time.RFC3339),
	}, &out))
	assert.Contains(t, out.String(), "Plates saved:      1")

	st, err := store.NewCSVStore(filepath.Join(dir, "violations.csv"), zerolog.Nop())
	require.NoError(t, err)
	records, err := st.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NoError(t, st.Close())

	out.Reset()
	require.NoError(t, statsCmd(ctx, []string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "Total:    1")
	assert.Contains(t, out.String(), "Today:    1")
	assert.Contains(t, out.String(), "Pending:  1")

	out.Reset()
	require.NoError(t, resetCmd(ctx, []string{"-config", cfgPath, "-images"}, &out))
	_, err = os.Stat(filepath.Join(dir, "violations"))
	assert.True(t, os.IsNotExist(err))

	out.Reset()
	require.NoError(t, statsCmd(ctx, []string{"-config", cfgPath}, &out))
	assert.Contains(t, out.String(), "Total:    0")
}
