package association

import "sync/atomic"

// counters accumulates FrameResults over the engine lifetime.
type counters struct {
	frames        atomic.Int64
	violations    atomic.Int64
	platesSaved   atomic.Int64
	duplicates    atomic.Int64
	missingPlates atomic.Int64
	failures      atomic.Int64
	skipped       atomic.Int64
}

func (c *counters) add(r FrameResult) {
	c.frames.Add(1)
	c.violations.Add(int64(r.Violations))
	c.platesSaved.Add(int64(r.PlatesSaved))
	c.duplicates.Add(int64(r.Duplicates))
	c.missingPlates.Add(int64(r.MissingPlates))
	c.failures.Add(int64(r.Failures))
	c.skipped.Add(int64(r.Skipped))
}

// CollectMetrics reports the running totals of the engine. It satisfies
// profiler.MetricsCollector.
func (e *Engine) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"frames_processed":   float64(e.stats.frames.Load()),
		"violations":         float64(e.stats.violations.Load()),
		"plates_saved":       float64(e.stats.platesSaved.Load()),
		"duplicates":         float64(e.stats.duplicates.Load()),
		"missing_plates":     float64(e.stats.missingPlates.Load()),
		"evidence_failures":  float64(e.stats.failures.Load()),
		"detections_dropped": float64(e.stats.skipped.Load()),
	}
}
