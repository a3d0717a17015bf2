package association

import (
	"math"

	"github.com/pkg/errors"

	"github.com/nvr-ai/helmet-watch/images"
	"github.com/nvr-ai/helmet-watch/models"
	"github.com/nvr-ai/helmet-watch/models/postprocess"
)

// ErrMalformedDetection marks a raw result that cannot take part in association.
var ErrMalformedDetection = errors.New("malformed detection")

// Detection is one validated, semantically labelled box of a single frame.
type Detection struct {
	Class      models.Class
	Confidence float32
	Box        images.Rect
}

// FromResult validates a raw model result and resolves its class.
//
// Arguments:
//   - r: The raw result.
//   - classes: The model's class mapping.
//
// Returns:
//   - Detection: The labelled detection.
//   - error: ErrMalformedDetection (wrapped with the reason) for an unmapped
//     class, a confidence outside [0, 1] or a degenerate box.
func FromResult(r postprocess.Result, classes models.ClassMap) (Detection, error) {
	class, ok := classes.Lookup(r.Class)
	if !ok {
		return Detection{}, errors.Wrapf(ErrMalformedDetection, "unmapped class id %d", r.Class)
	}
	if math.IsNaN(float64(r.Score)) || r.Score < 0 || r.Score > 1 {
		return Detection{}, errors.Wrapf(ErrMalformedDetection, "confidence %v out of range", r.Score)
	}
	if !r.Box.Valid() {
		return Detection{}, errors.Wrapf(ErrMalformedDetection, "degenerate box %+v", r.Box)
	}
	return Detection{Class: class, Confidence: r.Score, Box: r.Box}, nil
}

// buckets groups a frame's detections by class.
type buckets struct {
	riders    []Detection
	helmets   []Detection
	noHelmets []Detection
	plates    []Detection
}

// bucket drops detections below threshold and groups the rest, preserving
// input order inside each class.
func bucket(dets []Detection, threshold float32) buckets {
	var b buckets
	for _, d := range dets {
		if d.Confidence < threshold {
			continue
		}
		switch d.Class {
		case models.ClassRider:
			b.riders = append(b.riders, d)
		case models.ClassHelmet:
			b.helmets = append(b.helmets, d)
		case models.ClassNoHelmet:
			b.noHelmets = append(b.noHelmets, d)
		case models.ClassPlate:
			b.plates = append(b.plates, d)
		}
	}
	return b
}
