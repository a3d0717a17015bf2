package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/helmet-watch/images"
)

func TestLoadDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.jpg", "frame-2.jpg", "7.PNG", "notes.txt", "cover.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "frame-3.jpg"), 0o755))

	frames, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)

	require.Len(t, frames, 3)
	assert.Equal(t, []int{2, 7, 10}, []int{frames[0].Frame, frames[1].Frame, frames[2].Frame})
	assert.Equal(t, filepath.Join(dir, "frame-2.jpg"), frames[0].Path)

	_, err = LoadDirectoryImageFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFrameNumber(t *testing.T) {
	tests := []struct {
		name  string
		frame int
		ok    bool
	}{
		{"frame-12.jpg", 12, true},
		{"0.png", 0, true},
		{"frame--1.jpg", 0, false},
		{"frame-a.jpg", 0, false},
	}
	for _, tt := range tests {
		frame, ok := FrameNumber(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.frame, frame, tt.name)
	}
}

func TestLoadDetectionLog(t *testing.T) {
	input := strings.Join([]string{
		`{"frame": 1, "detections": [{"class": 3, "confidence": 0.91, "box": [0, 0, 100, 200]}]}`,
		``,
		`{"frame": 1, "detections": [{"class": 1, "confidence": 0.8, "box": [10.6, 10, 60, 60]}]}`,
		`not json`,
		`{"detections": []}`,
		`{"frame": 4, "detections": [{"class": 2, "confidence": 0.7, "box": [1, 2, 3]}, {"class": 2, "confidence": 0.7, "box": [20, 180, 80, 220]}]}`,
		`{"frame": 5, "detections": []}`,
		`{"frame": 7, "detections": [{"class": 3, "confidence": 0.9, "box": [0, 0, 100, 200]}, {"class": 2, "confidence": 0.9, "box": [20, 180, 80, "x"]}]}`,
		`{"frame": 7, "detections": [{"class": "3", "confidence": 0.9, "box": [0, 0, 10, 10]}, {"class": 1, "confidence": "0.9", "box": [0, 0, 10, 10]}, null]}`,
	}, "\n")

	log, err := LoadDetectionLog(strings.NewReader(input), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 4, log.Frames())
	require.Len(t, log[1], 2)
	assert.Equal(t, 3, log[1][0].Class)
	assert.Equal(t, images.Rect{X1: 10, Y1: 10, X2: 60, Y2: 60}, log[1][1].Box)

	require.Len(t, log[4], 1)
	assert.Equal(t, images.Rect{X1: 20, Y1: 180, X2: 80, Y2: 220}, log[4][0].Box)
	assert.InDelta(t, 0.7, log[4][0].Score, 1e-6)

	assert.Empty(t, log[5])

	// Wrongly typed detections are dropped one by one; the valid rider stays.
	require.Len(t, log[7], 1)
	assert.Equal(t, 3, log[7][0].Class)
	assert.Equal(t, images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 200}, log[7][0].Box)
}

func TestLoadDetectionLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"frame": 0, "detections": []}`+"\n"), 0o644))

	log, err := LoadDetectionLogFile(path, zerolog.Nop())
	require.NoError(t, err)
	_, ok := log[0]
	assert.True(t, ok)

	_, err = LoadDetectionLogFile(path+".missing", zerolog.Nop())
	assert.Error(t, err)
}
