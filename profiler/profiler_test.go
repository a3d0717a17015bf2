package profiler

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCollector map[string]float64

func (c staticCollector) CollectMetrics() map[string]float64 { return c }

func TestRecordMetric_SlidingWindow(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{MaxSamples: 3})

	for _, v := range []float64{10, 1, 2, 3} {
		rp.RecordMetric("violations", v)
	}

	m := rp.Snapshot().Metrics["violations"]
	assert.Equal(t, 3, m.Samples)
	assert.InDelta(t, 2.0, m.Avg, 1e-9)
	assert.Equal(t, 3.0, m.Last)
	// Lifetime extremes survive the window.
	assert.Equal(t, 10.0, m.Max)
	assert.Equal(t, 1.0, m.Min)
}

func TestStartOperation(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})

	done := rp.StartOperation("process_frame")
	time.Sleep(2 * time.Millisecond)
	done()
	rp.StartOperation("process_frame")()

	op, ok := rp.Snapshot().Operations["process_frame"]
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)
	assert.GreaterOrEqual(t, op.Max, 2*time.Millisecond)
	assert.LessOrEqual(t, op.Min, op.Max)
}

func TestSample_PollsCollectors(t *testing.T) {
	rp := NewRuntimeProfiler(ProfilingOptions{})
	rp.AddMetricsCollector(staticCollector{"plates_saved": 4})

	rp.sample()
	rp.sample()

	m := rp.Snapshot().Metrics["plates_saved"]
	assert.Equal(t, 2, m.Samples)
	assert.Equal(t, 4.0, m.Last)
}

func TestStartStop_LogsReport(t *testing.T) {
	var buf bytes.Buffer
	rp := NewRuntimeProfiler(ProfilingOptions{
		ReportInterval: 5 * time.Millisecond,
		SampleInterval: time.Millisecond,
		Logger:         zerolog.New(&buf),
	})
	rp.AddMetricsCollector(staticCollector{"frames_processed": 1})

	rp.Start()
	rp.Start()
	time.Sleep(20 * time.Millisecond)
	rp.Stop()
	rp.Stop()

	out := buf.String()
	assert.Contains(t, out, `"message":"runtime status"`)
	assert.Contains(t, out, `"metric":"frames_processed"`)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
