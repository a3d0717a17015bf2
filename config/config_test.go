package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/helmet-watch/association"
	"github.com/nvr-ai/helmet-watch/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "helmetwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), *cfg)
	assert.Equal(t, 15*time.Second, cfg.Dedup.Window)
	assert.Equal(t, float32(150), cfg.Dedup.Radius)
	assert.Equal(t, association.NoPlateSkip, cfg.Engine.NoPlate)
	assert.Equal(t, 3, cfg.Classes.Rider)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine:
  confidence_threshold: 0.4
  no_plate: record
  images_dir: out/plates
dedup:
  window: 30s
  radius: 90
store:
  driver: sqlite
  path: violations.db
classes:
  helmet: 3
  no_helmet: 2
  plate: 1
  rider: 0
stream:
  frame_skip: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.4, cfg.Engine.ConfidenceThreshold, 1e-6)
	assert.Equal(t, association.NoPlateRecord, cfg.Engine.NoPlate)
	assert.Equal(t, "out/plates", cfg.Engine.ImagesDir)
	assert.Equal(t, 30*time.Second, cfg.Dedup.Window)
	assert.Equal(t, float32(90), cfg.Dedup.Radius)
	assert.Equal(t, store.DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, 0, cfg.Classes.Rider)
	assert.Equal(t, 1, cfg.Stream.FrameSkip)
	// Untouched keys keep their defaults.
	assert.Equal(t, 250, cfg.Engine.PlateSearchBelow)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "dedup:\n  radius: 90\n")
	t.Setenv("HELMETWATCH_DEDUP_RADIUS", "120")
	t.Setenv("HELMETWATCH_ENGINE_SOURCE", "Camera 4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, float32(120), cfg.Dedup.Radius)
	assert.Equal(t, "Camera 4", cfg.Engine.Source)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"threshold":   "engine:\n  confidence_threshold: 1.5\n",
		"policy":      "engine:\n  no_plate: maybe\n",
		"class clash": "classes:\n  helmet: 1\n  no_helmet: 1\n",
		"driver":      "store:\n  driver: postgres\n",
		"frame skip":  "stream:\n  frame_skip: 0\n",
		"log level":   "log:\n  level: loud\n",
		"window":      "dedup:\n  window: 0s\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLogConfig_Logger(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn"}.Logger(&buf)

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"message":"shown"`)
}
