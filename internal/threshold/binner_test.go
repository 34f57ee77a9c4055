package threshold

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type columns map[string][]float64

func (c columns) Column(name string) ([]float64, bool) {
	v, ok := c[name]
	return v, ok
}

func TestThresholds_SharedAcrossColumns(t *testing.T) {
	table := columns{
		"2016": {5, 10, math.NaN()},
		"2021": {20, 35},
	}

	bounds, err := Thresholds(table, []string{"2016", "2021"})
	require.NoError(t, err)

	require.Len(t, bounds, Levels+1)
	assert.Equal(t, 5.0, bounds[0])
	assert.InDelta(t, 35.0, bounds[Levels], 1e-9)
	assert.InDelta(t, 6.0, bounds[1], 1e-9)
	for i := 1; i < len(bounds); i++ {
		assert.GreaterOrEqual(t, bounds[i], bounds[i-1])
	}
}

func TestThresholds_Degenerate(t *testing.T) {
	bounds, err := Thresholds(columns{"2021": {4, 4, 4}}, []string{"2021"})
	require.NoError(t, err)

	require.Len(t, bounds, Levels+1)
	for _, b := range bounds {
		assert.Equal(t, 4.0, b)
	}
}

func TestThresholds_IgnoresInfinities(t *testing.T) {
	table := columns{
		"2016": {math.Inf(1), 10, 40},
		"2021": {math.Inf(-1), 25},
	}

	bounds, err := Thresholds(table, []string{"2016", "2021"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, bounds[0])
	assert.InDelta(t, 40.0, bounds[Levels], 1e-9)

	_, err = Thresholds(columns{"2021": {math.Inf(1)}}, []string{"2021"})
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestThresholds_Errors(t *testing.T) {
	_, err := Thresholds(columns{"2021": {1}}, []string{"2011"})
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = Thresholds(columns{"2021": {math.NaN()}}, []string{"2021"})
	assert.True(t, errors.Is(err, ErrNoData))
}

func TestScale_Symmetry(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
	}{
		{"positive", 0, 300},
		{"negative", -90, -30},
		{"straddling zero", -12.5, 47.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bounds := Scale(tt.min, tt.max, Levels)
			step := (tt.max - tt.min) / Levels

			assert.Equal(t, tt.min, bounds[0])
			assert.InDelta(t, tt.min+Levels*step, bounds[Levels], 1e-9)
			for i := 1; i < len(bounds); i++ {
				assert.InDelta(t, step, bounds[i]-bounds[i-1], 1e-9)
			}
		})
	}
}
