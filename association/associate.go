// Package association - Per-frame rider/helmet/plate association and violation evidence.
package association

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/helmet-watch/images"
)

// NoPlatePolicy selects what happens to a violation without a plate.
type NoPlatePolicy string

const (
	// NoPlateSkip annotates the frame and persists nothing.
	NoPlateSkip NoPlatePolicy = "skip"
	// NoPlateRecord appends a log row with image reference NO_PLATE.
	NoPlateRecord NoPlatePolicy = "record"
)

// ErrInvalidConfig is returned when the engine cannot run with the given settings.
var ErrInvalidConfig = errors.New("invalid association config")

// Config holds the thresholds of the association rules.
type Config struct {
	// ConfidenceThreshold drops detections scored below it.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	// HelmetTolerance is the center containment tolerance for helmets, in pixels.
	HelmetTolerance int `json:"helmet_tolerance" yaml:"helmet_tolerance" mapstructure:"helmet_tolerance"`
	// HelmetIoU is the overlap above which a helmet belongs to a rider.
	HelmetIoU float32 `json:"helmet_iou" yaml:"helmet_iou" mapstructure:"helmet_iou"`
	// NoHelmetTolerance is the center containment tolerance for bare heads.
	NoHelmetTolerance int `json:"no_helmet_tolerance" yaml:"no_helmet_tolerance" mapstructure:"no_helmet_tolerance"`
	// NoHelmetIoU is the overlap above which a bare head belongs to a rider.
	NoHelmetIoU float32 `json:"no_helmet_iou" yaml:"no_helmet_iou" mapstructure:"no_helmet_iou"`
	// PlateSearchBelow extends the rider box downward when looking for plates.
	PlateSearchBelow int `json:"plate_search_below" yaml:"plate_search_below" mapstructure:"plate_search_below"`
	// PlateTolerance is the center containment tolerance for plates.
	PlateTolerance int `json:"plate_tolerance" yaml:"plate_tolerance" mapstructure:"plate_tolerance"`
	// PlateBelowWeight scores plates whose top edge is below the rider.
	PlateBelowWeight float32 `json:"plate_below_weight" yaml:"plate_below_weight" mapstructure:"plate_below_weight"`
	// PlateOtherWeight scores every other candidate plate.
	PlateOtherWeight float32 `json:"plate_other_weight" yaml:"plate_other_weight" mapstructure:"plate_other_weight"`
	// CropPadding is added on every side of the plate before cropping.
	CropPadding int `json:"crop_padding" yaml:"crop_padding" mapstructure:"crop_padding"`
	// NMSIoU suppresses same-class overlaps above it; 0 disables suppression.
	NMSIoU float32 `json:"nms_iou" yaml:"nms_iou" mapstructure:"nms_iou"`
	// NoPlate is the policy for violations without a plate.
	NoPlate NoPlatePolicy `json:"no_plate" yaml:"no_plate" mapstructure:"no_plate"`
	// Source is written to the Source column of every record.
	Source string `json:"source" yaml:"source" mapstructure:"source"`
	// ImagesDir receives the enhanced plate crops.
	ImagesDir string `json:"images_dir" yaml:"images_dir" mapstructure:"images_dir"`
	// JPEGQuality is the encoder quality of plate crops.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
}

// DefaultConfig returns the stock association rules.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.5,
		HelmetTolerance:     50,
		HelmetIoU:           0.15,
		NoHelmetTolerance:   50,
		NoHelmetIoU:         0.1,
		PlateSearchBelow:    250,
		PlateTolerance:      80,
		PlateBelowWeight:    1.0,
		PlateOtherWeight:    0.5,
		CropPadding:         10,
		NoPlate:             NoPlateSkip,
		Source:              "Video",
		ImagesDir:           "violations",
		JPEGQuality:         images.DefaultJPEGQuality,
	}
}

// Validate reports the first setting the engine cannot work with.
func (c Config) Validate() error {
	switch {
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return errors.Wrapf(ErrInvalidConfig, "confidence threshold %v outside [0, 1]", c.ConfidenceThreshold)
	case c.HelmetIoU < 0 || c.HelmetIoU > 1, c.NoHelmetIoU < 0 || c.NoHelmetIoU > 1:
		return errors.Wrap(ErrInvalidConfig, "iou thresholds must lie in [0, 1]")
	case c.NMSIoU < 0 || c.NMSIoU > 1:
		return errors.Wrapf(ErrInvalidConfig, "nms iou %v outside [0, 1]", c.NMSIoU)
	case c.HelmetTolerance < 0, c.NoHelmetTolerance < 0, c.PlateTolerance < 0:
		return errors.Wrap(ErrInvalidConfig, "tolerances must not be negative")
	case c.PlateSearchBelow < 0, c.CropPadding < 0:
		return errors.Wrap(ErrInvalidConfig, "plate search and crop padding must not be negative")
	case c.PlateBelowWeight <= 0 || c.PlateOtherWeight <= 0:
		return errors.Wrap(ErrInvalidConfig, "plate weights must be positive")
	case c.NoPlate != NoPlateSkip && c.NoPlate != NoPlateRecord:
		return errors.Wrapf(ErrInvalidConfig, "unknown no-plate policy %q", c.NoPlate)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return errors.Wrapf(ErrInvalidConfig, "jpeg quality %d outside [1, 100]", c.JPEGQuality)
	case c.ImagesDir == "":
		return errors.Wrap(ErrInvalidConfig, "images dir is required")
	}
	return nil
}

// Violation is a rider without a helmet, the bare head that proves it and,
// when one was found, the plate that identifies the vehicle.
type Violation struct {
	// Index is the 1-based position of the violation within its frame.
	Index       int
	Rider       Detection
	NoHelmet    Detection
	NoHelmetIoU float32
	// Plate is nil when no candidate plate was found.
	Plate      *Detection
	PlateScore float32
}

// Associate links the detections of one frame into helmet violations.
//
// Riders are visited in input order. A rider with any associated helmet is
// safe. Otherwise the best associated no-helmet detection, by IoU with the
// rider, makes it a violation and the best scored plate below the rider is
// attached when there is one. Associate has no side effects.
//
// Arguments:
//   - dets: The validated detections of one frame.
//   - cfg: The association thresholds.
//
// Returns:
//   - []Violation: Violations in rider order; empty when there are none.
func Associate(dets []Detection, cfg Config) []Violation {
	b := bucket(dets, cfg.ConfidenceThreshold)

	var out []Violation
	for _, rider := range b.riders {
		if hasHelmet(rider, b.helmets, cfg) {
			continue
		}
		head, iou, ok := bestNoHelmet(rider, b.noHelmets, cfg)
		if !ok {
			continue
		}

		v := Violation{
			Index:       len(out) + 1,
			Rider:       rider,
			NoHelmet:    head,
			NoHelmetIoU: iou,
		}
		if plate, score, ok := bestPlate(rider, b.plates, cfg); ok {
			v.Plate = &plate
			v.PlateScore = score
		}
		out = append(out, v)
	}
	return out
}

func hasHelmet(rider Detection, helmets []Detection, cfg Config) bool {
	for _, h := range helmets {
		if images.ContainsCenter(h.Box, rider.Box, cfg.HelmetTolerance) ||
			images.CalculateIoU(h.Box, rider.Box) > cfg.HelmetIoU {
			return true
		}
	}
	return false
}

// bestNoHelmet picks the associated bare head with the highest IoU. A head
// whose center is inside the rider qualifies even with zero overlap. Ties
// keep the first candidate.
func bestNoHelmet(rider Detection, heads []Detection, cfg Config) (Detection, float32, bool) {
	var (
		best    Detection
		bestIoU float32 = -1
		found   bool
	)
	for _, h := range heads {
		iou := images.CalculateIoU(h.Box, rider.Box)
		if !images.ContainsCenter(h.Box, rider.Box, cfg.NoHelmetTolerance) && iou <= cfg.NoHelmetIoU {
			continue
		}
		if iou > bestIoU {
			best, bestIoU, found = h, iou, true
		}
	}
	return best, bestIoU, found
}

// bestPlate picks the candidate plate with the highest score, where the score
// is confidence times area in thousands of pixels, weighted up for plates
// entirely below the rider. Only a positive score is accepted, and ties keep
// the first candidate.
func bestPlate(rider Detection, plates []Detection, cfg Config) (Detection, float32, bool) {
	region := rider.Box.Expand(0, 0, 0, cfg.PlateSearchBelow)

	var (
		best      Detection
		bestScore float32
		found     bool
	)
	for _, p := range plates {
		if !images.ContainsCenter(p.Box, region, cfg.PlateTolerance) {
			continue
		}
		score := PlateScore(rider, p, cfg)
		if score > bestScore {
			best, bestScore, found = p, score, true
		}
	}
	return best, bestScore, found
}

// PlateScore rates how likely a plate belongs to a rider.
func PlateScore(rider, plate Detection, cfg Config) float32 {
	weight := cfg.PlateOtherWeight
	if plate.Box.Y1 > rider.Box.Y2 {
		weight = cfg.PlateBelowWeight
	}
	return plate.Confidence * float32(plate.Box.Area()) / 1000 * weight
}
