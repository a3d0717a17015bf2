package images

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

// newPlateCrop draws a light plate with dark glyph-like bars.
func newPlateCrop(t *testing.T, width, height int) gocv.Mat {
	t.Helper()

	crop := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC3)
	crop.SetTo(gocv.NewScalar(200, 200, 200, 0))
	for x := 4; x+4 < width; x += 9 {
		gocv.Rectangle(&crop, image.Rect(x, 4, x+4, height-4), color.RGBA{20, 20, 20, 0}, -1)
	}
	require.False(t, crop.Empty())
	return crop
}

func TestEnhance_EmptyInputReturnsInput(t *testing.T) {
	enhancer := NewEnhancer(DefaultEnhanceConfig())
	defer enhancer.Close()

	empty := gocv.NewMat()
	defer empty.Close()

	var out gocv.Mat
	require.NotPanics(t, func() { out = enhancer.Enhance(empty) })
	defer out.Close()

	assert.True(t, out.Empty())
}

func TestEnhance_UnsupportedTypeReturnsCopy(t *testing.T) {
	enhancer := NewEnhancer(DefaultEnhanceConfig())
	defer enhancer.Close()

	gray := gocv.NewMatWithSize(20, 40, gocv.MatTypeCV8UC1)
	defer gray.Close()
	gray.SetTo(gocv.NewScalar(90, 0, 0, 0))

	out := enhancer.Enhance(gray)
	defer out.Close()

	assert.Equal(t, ComputeMatChecksum(gray), ComputeMatChecksum(out))
}

func TestEnhance_TinyCropReturnsCopy(t *testing.T) {
	enhancer := NewEnhancer(DefaultEnhanceConfig())
	defer enhancer.Close()

	tiny := gocv.NewMatWithSize(1, 1, gocv.MatTypeCV8UC3)
	defer tiny.Close()

	out := enhancer.Enhance(tiny)
	defer out.Close()

	assert.Equal(t, 1, out.Rows())
	assert.Equal(t, 1, out.Cols())
}

func TestEnhance_UpscalesAndPreservesChannels(t *testing.T) {
	enhancer := NewEnhancer(DefaultEnhanceConfig())
	defer enhancer.Close()

	crop := newPlateCrop(t, 80, 30)
	defer crop.Close()

	out := enhancer.Enhance(crop)
	defer out.Close()

	require.False(t, out.Empty())
	assert.Equal(t, 240, out.Cols())
	assert.Equal(t, 90, out.Rows())
	assert.Equal(t, gocv.MatTypeCV8UC3, out.Type())

	// The input must not be modified.
	assert.Equal(t, 80, crop.Cols())
}

func TestEnhance_Deterministic(t *testing.T) {
	enhancer := NewEnhancer(DefaultEnhanceConfig())
	defer enhancer.Close()

	crop := newPlateCrop(t, 60, 24)
	defer crop.Close()

	first := enhancer.Enhance(crop)
	defer first.Close()
	second := enhancer.Enhance(crop)
	defer second.Close()

	assert.Equal(t, ComputeMatChecksum(first), ComputeMatChecksum(second))
}

func TestNewEnhancer_ZeroConfigUsesDefaults(t *testing.T) {
	enhancer := NewEnhancer(EnhanceConfig{})
	defer enhancer.Close()

	assert.Equal(t, 3.0, enhancer.cfg.Scale)
	assert.Equal(t, 8, enhancer.cfg.TileGrid)
	assert.Equal(t, 21, enhancer.cfg.SearchWindow)
}

func TestWriteJPEG(t *testing.T) {
	dir := t.TempDir()

	crop := newPlateCrop(t, 40, 20)
	defer crop.Close()

	path := filepath.Join(dir, "plate.jpg")
	require.NoError(t, WriteJPEG(path, crop, DefaultJPEGQuality))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	empty := gocv.NewMat()
	defer empty.Close()
	assert.Error(t, WriteJPEG(filepath.Join(dir, "empty.jpg"), empty, DefaultJPEGQuality))
}
