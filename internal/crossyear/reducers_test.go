package crossyear

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"census-atlas/internal/models"
)

func TestReducers(t *testing.T) {
	nan := math.NaN()

	tests := []struct {
		name    string
		reducer Reducer
		values  []float64
		want    float64
	}{
		{"mean difference", MeanDifference, []float64{10, 15, 12}, 1.0},
		{"mean difference reversed", MeanDifference, []float64{12, 15, 10}, -1.0},
		{"mean difference rounds", MeanDifference, []float64{1, 2.3333, 3.6667}, 1.33},
		{"mean difference single value", MeanDifference, []float64{10}, nan},
		{"mean difference empty", MeanDifference, nil, nan},
		{"mean difference missing input", MeanDifference, []float64{10, nan, 12}, nan},
		{"mean percent change", MeanPercentChange, []float64{100, 110, 99}, 0.0},
		{"mean percent change negative base", MeanPercentChange, []float64{-50, -25}, 50.0},
		{"mean percent change zero base", MeanPercentChange, []float64{0, 5}, nan},
		{"mean percent change zero base among others", MeanPercentChange, []float64{5, 0, 5}, nan},
		{"mean percent difference", MeanPercentDifference, []float64{100, 300}, 100.0},
		{"mean percent difference zero mean", MeanPercentDifference, []float64{-5, 5}, nan},
		{"mean percent difference both zero", MeanPercentDifference, []float64{0, 0}, nan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.reducer(tt.values)
			if math.IsNaN(tt.want) {
				assert.True(t, math.IsNaN(got), "got %v, want NaN", got)
				return
			}
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{MeanDifferenceName, MeanPercentChangeName, MeanPercentDifferenceName} {
		r, err := Lookup(name)
		require.NoError(t, err, name)
		assert.NotNil(t, r)
	}

	_, err := Lookup("Median")
	var cfgErr *models.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Len(t, Names(), 3)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.25, Round(1.249999, 2))
	assert.Equal(t, -1.5, Round(-1.5, 2))
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.True(t, math.IsNaN(Round(math.NaN(), 2)))
	assert.True(t, math.IsInf(Round(math.Inf(1), 2), 1))
}
