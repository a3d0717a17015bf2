package images

import (
	"image"

	"gocv.io/x/gocv"
)

// EnhanceConfig holds the parameters of the plate enhancement pipeline.
type EnhanceConfig struct {
	// Scale is the upscale factor applied before any other step.
	Scale float64 `json:"scale" yaml:"scale" mapstructure:"scale"`
	// DenoiseH is the luminance filter strength of the non-local means denoiser.
	DenoiseH float32 `json:"denoise_h" yaml:"denoise_h" mapstructure:"denoise_h"`
	// DenoiseHColor is the chrominance filter strength of the denoiser.
	DenoiseHColor float32 `json:"denoise_h_color" yaml:"denoise_h_color" mapstructure:"denoise_h_color"`
	// TemplateWindow is the denoiser template patch size (odd).
	TemplateWindow int `json:"template_window" yaml:"template_window" mapstructure:"template_window"`
	// SearchWindow is the denoiser search window size (odd).
	SearchWindow int `json:"search_window" yaml:"search_window" mapstructure:"search_window"`
	// ClipLimit is the CLAHE contrast limit.
	ClipLimit float64 `json:"clip_limit" yaml:"clip_limit" mapstructure:"clip_limit"`
	// TileGrid is the CLAHE tile grid size in both directions.
	TileGrid int `json:"tile_grid" yaml:"tile_grid" mapstructure:"tile_grid"`
}

// DefaultEnhanceConfig returns the pipeline parameters used for plate crops.
func DefaultEnhanceConfig() EnhanceConfig {
	return EnhanceConfig{
		Scale:          3,
		DenoiseH:       10,
		DenoiseHColor:  10,
		TemplateWindow: 7,
		SearchWindow:   21,
		ClipLimit:      3.0,
		TileGrid:       8,
	}
}

// sharpenKernel is applied as the last step of the pipeline.
var sharpenKernel = [3][3]float32{
	{-1, -1, -1},
	{-1, 9, -1},
	{-1, -1, -1},
}

// Enhancer improves the legibility of cropped plate regions for a human
// reviewer. It is deterministic: the same input always yields the same
// output bytes.
//
// An Enhancer owns native resources and must be closed. It is not safe for
// concurrent use.
type Enhancer struct {
	cfg    EnhanceConfig
	kernel gocv.Mat
	clahe  gocv.CLAHE
}

// NewEnhancer creates an enhancer with the given configuration. Zero fields
// fall back to DefaultEnhanceConfig.
//
// Arguments:
//   - cfg: The pipeline parameters.
//
// Returns:
//   - *Enhancer: A ready enhancer; call Close when done.
func NewEnhancer(cfg EnhanceConfig) *Enhancer {
	def := DefaultEnhanceConfig()
	if cfg.Scale <= 0 {
		cfg.Scale = def.Scale
	}
	if cfg.TemplateWindow <= 0 {
		cfg.TemplateWindow = def.TemplateWindow
	}
	if cfg.SearchWindow <= 0 {
		cfg.SearchWindow = def.SearchWindow
	}
	if cfg.ClipLimit <= 0 {
		cfg.ClipLimit = def.ClipLimit
	}
	if cfg.TileGrid <= 0 {
		cfg.TileGrid = def.TileGrid
	}

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	for r, row := range sharpenKernel {
		for c, v := range row {
			kernel.SetFloatAt(r, c, v)
		}
	}

	return &Enhancer{
		cfg:    cfg,
		kernel: kernel,
		clahe:  gocv.NewCLAHEWithParams(cfg.ClipLimit, image.Pt(cfg.TileGrid, cfg.TileGrid)),
	}
}

// Close releases the native resources held by the enhancer.
func (e *Enhancer) Close() error {
	if err := e.clahe.Close(); err != nil {
		return err
	}
	return e.kernel.Close()
}

// Enhance runs the fixed pipeline on a BGR plate crop:
//
//  1. cubic upscale by Scale,
//  2. colored non-local means denoise,
//  3. BGR -> Lab, CLAHE on the L channel only,
//  4. Lab -> BGR,
//  5. 3x3 sharpening.
//
// Enhancement is best effort. When the input is empty, is not an 8-bit BGR
// image, or the pipeline fails, a clone of the input is returned instead.
// The caller owns the returned Mat and must close it.
//
// Arguments:
//   - src: The cropped plate region (BGR, 8-bit).
//
// Returns:
//   - gocv.Mat: The enhanced image, or a clone of src.
//
// Example:
//
//	enhancer := NewEnhancer(DefaultEnhanceConfig())
//	defer enhancer.Close()
//	out := enhancer.Enhance(crop)
//	defer out.Close()
func (e *Enhancer) Enhance(src gocv.Mat) (out gocv.Mat) {
	if src.Empty() || src.Type() != gocv.MatTypeCV8UC3 || src.Rows() < 2 || src.Cols() < 2 {
		return src.Clone()
	}

	sharpened := gocv.NewMat()
	defer func() {
		if r := recover(); r != nil {
			sharpened.Close()
			out = src.Clone()
		}
	}()

	upscaled := gocv.NewMat()
	defer upscaled.Close()
	gocv.Resize(src, &upscaled, image.Point{}, e.cfg.Scale, e.cfg.Scale, gocv.InterpolationCubic)
	if upscaled.Empty() {
		sharpened.Close()
		return src.Clone()
	}

	denoised := gocv.NewMat()
	defer denoised.Close()
	gocv.FastNlMeansDenoisingColoredWithParams(upscaled, &denoised,
		e.cfg.DenoiseH, e.cfg.DenoiseHColor, e.cfg.TemplateWindow, e.cfg.SearchWindow)

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(denoised, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	if len(channels) != 3 {
		sharpened.Close()
		return src.Clone()
	}

	lightness := gocv.NewMat()
	e.clahe.Apply(channels[0], &lightness)
	channels[0].Close()
	channels[0] = lightness

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	restored := gocv.NewMat()
	defer restored.Close()
	gocv.CvtColor(merged, &restored, gocv.ColorLabToBGR)

	gocv.Filter2D(restored, &sharpened, gocv.MatType(-1), e.kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
	if sharpened.Empty() {
		sharpened.Close()
		return src.Clone()
	}

	return sharpened
}
