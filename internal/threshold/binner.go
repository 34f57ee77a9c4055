// Package threshold computes one equal-width legend scale shared by several
// rendered columns.
package threshold

import (
	"errors"
	"fmt"
	"math"
)

// Levels is the fixed number of bins of a legend
const Levels = 30

var (
	// ErrNoData is returned when the listed columns hold no finite value
	ErrNoData = errors.New("no values to bin")
	// ErrUnknownColumn is returned for a column the table does not have
	ErrUnknownColumn = errors.New("unknown column")
)

// ColumnSource exposes named numeric columns
type ColumnSource interface {
	Column(name string) ([]float64, bool)
}

// Range returns the minimum and maximum finite value across all columns
func Range(table ColumnSource, columns []string) (float64, float64, error) {
	minimum, maximum := math.Inf(1), math.Inf(-1)

	for _, name := range columns {
		values, ok := table.Column(name)
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
		}
		for _, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			minimum = math.Min(minimum, v)
			maximum = math.Max(maximum, v)
		}
	}

	if math.IsInf(minimum, 1) {
		return 0, 0, ErrNoData
	}
	return minimum, maximum, nil
}

// Thresholds returns Levels+1 ascending boundaries from the global minimum
// with a step of (max-min)/Levels. When min equals max every boundary is
// the same value.
func Thresholds(table ColumnSource, columns []string) ([]float64, error) {
	minimum, maximum, err := Range(table, columns)
	if err != nil {
		return nil, err
	}
	return Scale(minimum, maximum, Levels), nil
}

// Scale splits [minimum, maximum] into levels equal steps
func Scale(minimum, maximum float64, levels int) []float64 {
	step := (maximum - minimum) / float64(levels)
	bounds := make([]float64, levels+1)
	for i := range bounds {
		bounds[i] = minimum + float64(i)*step
	}
	return bounds
}
