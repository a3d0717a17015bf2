// Package postprocess - Raw detector output and cleanup before association.
package postprocess

import "github.com/nvr-ai/helmet-watch/images"

// Result represents a single detection result as emitted by the model.
type Result struct {
	// The bounding box of the result in frame pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result, in the model's own label order.
	Class int
}
