package mosaic

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCount(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		duration float64
		want     int
	}{
		{"exact", 4, 2, 8},
		{"floors fractional product", 4, 2.2, 8},
		{"sub-frame clip still has one frame", 0.5, 1, 1},
		{"bpm 120 for three seconds", 2, 3, 6},
		{"tiny product", 0.001, 0.001, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FrameCount(tt.rate, tt.duration))
		})
	}
}

func TestSequence(t *testing.T) {
	t.Run("loops short image lists", func(t *testing.T) {
		assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 0}, Sequence(3, 7))
	})

	t.Run("truncates long image lists", func(t *testing.T) {
		assert.Equal(t, []int{0, 1}, Sequence(5, 2))
	})

	t.Run("single image", func(t *testing.T) {
		assert.Equal(t, []int{0, 0, 0}, Sequence(1, 3))
	})

	t.Run("degenerate input", func(t *testing.T) {
		assert.Nil(t, Sequence(0, 3))
		assert.Nil(t, Sequence(3, 0))
	})
}

func TestNewPlan(t *testing.T) {
	t.Run("bpm derived rate", func(t *testing.T) {
		plan, err := NewPlan(4, FrameRateFromBPM(240), 2)
		require.NoError(t, err)

		assert.Equal(t, 8, plan.FrameCount)
		assert.Equal(t, []int{0, 1, 2, 3, 0, 1, 2, 3}, plan.Sequence)
		assert.Equal(t, 4, plan.Distinct(4))
	})

	t.Run("distinct is bounded by frame count", func(t *testing.T) {
		plan, err := NewPlan(10, 1, 3)
		require.NoError(t, err)

		assert.Equal(t, 3, plan.Distinct(10))
	})

	t.Run("sequence length always equals frame count", func(t *testing.T) {
		for _, n := range []int{1, 2, 7} {
			for _, rate := range []float64{0.7, 1, 4, 12.5} {
				plan, err := NewPlan(n, rate, 2.3)
				require.NoError(t, err)
				assert.Len(t, plan.Sequence, plan.FrameCount)
				for i, idx := range plan.Sequence {
					assert.Equal(t, i%n, idx)
				}
			}
		}
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		cases := []struct {
			images   int
			rate     float64
			duration float64
		}{
			{0, 4, 2},
			{3, 0, 2},
			{3, -1, 2},
			{3, 4, 0},
			{3, 4, -2},
			{3, math.NaN(), 2},
			{3, 4, math.Inf(1)},
		}
		for _, c := range cases {
			_, err := NewPlan(c.images, c.rate, c.duration)
			assert.ErrorIs(t, err, ErrInvalidInput, "images=%d rate=%v duration=%v", c.images, c.rate, c.duration)
		}
	})
}

func TestFrameRateFromBPM(t *testing.T) {
	assert.InDelta(t, 4.0, FrameRateFromBPM(240), 1e-9)
	assert.InDelta(t, 2.0, FrameRateFromBPM(120), 1e-9)
	assert.InDelta(t, 1.5, FrameRateFromBPM(90), 1e-9)
}
