package postprocess

import (
	"sort"

	"github.com/nvr-ai/helmet-watch/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 // Overlap threshold for suppression.
	ClassAware   bool    // If true, suppress only within same class.
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Detections are visited in descending score order (stable, so equal scores
// keep their input order); each kept detection suppresses every later one
// whose IoU with it exceeds the threshold.
//
// Arguments:
//   - detections: Slice of detections in any order. Not modified.
//   - config: NMS configuration; a nil config or a non-positive threshold
//     disables suppression.
//
// Returns:
//   - Filtered slice of detections, highest score first. Nil for empty input.
func ApplyGreedyNMS(detections []Result, config *NMSConfig) []Result {
	order := scoreOrder(detections)
	if order == nil {
		return nil
	}

	kept := suppress(detections, order, config)
	filtered := make([]Result, 0, len(order))
	for _, i := range order {
		if kept[i] {
			filtered = append(filtered, detections[i])
		}
	}
	return filtered
}

// KeepIndices runs the same suppression as ApplyGreedyNMS but reports the
// surviving detections as indices into the input, in ascending order, so
// callers can keep their own ordering.
func KeepIndices(detections []Result, config *NMSConfig) []int {
	order := scoreOrder(detections)
	if order == nil {
		return nil
	}

	kept := suppress(detections, order, config)
	indices := make([]int, 0, len(order))
	for i, ok := range kept {
		if ok {
			indices = append(indices, i)
		}
	}
	return indices
}

// scoreOrder returns input indices sorted by descending score, stable.
func scoreOrder(detections []Result) []int {
	if len(detections) == 0 {
		return nil
	}
	order := make([]int, len(detections))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})
	return order
}

// suppress marks which input indices survive, visiting them in order.
func suppress(detections []Result, order []int, config *NMSConfig) []bool {
	kept := make([]bool, len(detections))
	if config == nil || config.IoUThreshold <= 0 {
		for i := range kept {
			kept[i] = true
		}
		return kept
	}

	used := make([]bool, len(detections))
	for a, i := range order {
		if used[i] {
			continue
		}
		anchor := detections[i]
		kept[i] = true
		used[i] = true

		for _, j := range order[a+1:] {
			if used[j] {
				continue
			}
			if config.ClassAware && anchor.Class != detections[j].Class {
				continue
			}
			if images.CalculateIoU(anchor.Box, detections[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}
	return kept
}
