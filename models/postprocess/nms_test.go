package postprocess

import (
	"testing"

	"github.com/nvr-ai/helmet-watch/images"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyGreedyNMS(t *testing.T) {
	detections := []Result{
		{Box: images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}, Score: 0.6, Class: 3},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.9, Class: 3},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.8, Class: 1},
		{Box: images.Rect{X1: 300, Y1: 300, X2: 400, Y2: 400}, Score: 0.5, Class: 3},
	}

	t.Run("class aware", func(t *testing.T) {
		out := ApplyGreedyNMS(detections, &NMSConfig{IoUThreshold: 0.5, ClassAware: true})
		require.Len(t, out, 3)
		assert.Equal(t, float32(0.9), out[0].Score)
		assert.Equal(t, 1, out[1].Class)
		assert.Equal(t, float32(0.5), out[2].Score)
	})

	t.Run("class agnostic", func(t *testing.T) {
		out := ApplyGreedyNMS(detections, &NMSConfig{IoUThreshold: 0.5})
		require.Len(t, out, 2)
		assert.Equal(t, float32(0.9), out[0].Score)
		assert.Equal(t, float32(0.5), out[1].Score)
	})

	t.Run("disabled keeps everything sorted", func(t *testing.T) {
		out := ApplyGreedyNMS(detections, nil)
		require.Len(t, out, 4)
		assert.Equal(t, float32(0.9), out[0].Score)
		assert.Equal(t, float32(0.6), detections[0].Score, "input must not be reordered")
	})

	assert.Nil(t, ApplyGreedyNMS(nil, &NMSConfig{IoUThreshold: 0.5}))
}

func TestKeepIndices_PreservesInputOrder(t *testing.T) {
	detections := []Result{
		{Box: images.Rect{X1: 300, Y1: 300, X2: 400, Y2: 400}, Score: 0.5, Class: 3},
		{Box: images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}, Score: 0.6, Class: 3},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.9, Class: 3},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 105, Y2: 105}, Score: 0.8, Class: 1},
	}

	assert.Equal(t, []int{0, 2, 3}, KeepIndices(detections, &NMSConfig{IoUThreshold: 0.5, ClassAware: true}))
	assert.Equal(t, []int{0, 2}, KeepIndices(detections, &NMSConfig{IoUThreshold: 0.5}))
	assert.Equal(t, []int{0, 1, 2, 3}, KeepIndices(detections, nil))
	assert.Nil(t, KeepIndices(nil, nil))
}
