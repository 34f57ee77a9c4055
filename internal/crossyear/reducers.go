// Package crossyear reduces an ordered per-year value vector for one
// geographic unit to a single summary number.
//
// Missing values are NaN. Any missing term makes the mean missing, and a
// vector with fewer than two values has no terms and yields NaN. The
// reducers are order-sensitive: reversing the years changes the result.
package crossyear

import (
	"fmt"
	"math"
	"sort"

	"census-atlas/internal/models"
)

// RoundDecimals is the precision every reducer rounds its result to
const RoundDecimals = 2

// Reducer turns an ordered value vector into one rounded scalar
type Reducer func(values []float64) float64

const (
	MeanDifferenceName        = "Mean Difference"
	MeanPercentChangeName     = "Mean Percent Change"
	MeanPercentDifferenceName = "Mean Percent Difference"
)

var reducers = map[string]Reducer{
	MeanDifferenceName:        MeanDifference,
	MeanPercentChangeName:     MeanPercentChange,
	MeanPercentDifferenceName: MeanPercentDifference,
}

// Lookup returns the reducer registered under a processing method name
func Lookup(name string) (Reducer, error) {
	r, ok := reducers[name]
	if !ok {
		return nil, &models.ConfigError{
			Field:   "metric",
			Value:   name,
			Message: fmt.Sprintf("unknown processing method %q", name),
		}
	}
	return r, nil
}

// Names lists the registered processing methods
func Names() []string {
	names := make([]string, 0, len(reducers))
	for name := range reducers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MeanDifference is the mean of v[i] - v[i-1]
func MeanDifference(values []float64) float64 {
	return meanOfTerms(values, func(prev, cur float64) float64 {
		return cur - prev
	})
}

// MeanPercentChange is the mean of (v[i] - v[i-1]) / |v[i-1]| * 100.
// A zero previous value makes the term missing.
func MeanPercentChange(values []float64) float64 {
	return meanOfTerms(values, func(prev, cur float64) float64 {
		if math.Abs(prev) == 0 {
			return math.NaN()
		}
		return (cur - prev) / math.Abs(prev) * 100
	})
}

// MeanPercentDifference is the mean of (v[i] - v[i-1]) / mean(v[i-1], v[i]) * 100.
// A zero pair mean makes the term missing.
func MeanPercentDifference(values []float64) float64 {
	return meanOfTerms(values, func(prev, cur float64) float64 {
		avg := (prev + cur) / 2
		if avg == 0 {
			return math.NaN()
		}
		return (cur - prev) / avg * 100
	})
}

func meanOfTerms(values []float64, term func(prev, cur float64) float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}

	sum := 0.0
	for i := 1; i < len(values); i++ {
		sum += term(values[i-1], values[i])
	}
	return Round(sum/float64(len(values)-1), RoundDecimals)
}

// Round rounds half to even at the given number of decimals. NaN and
// infinities pass through.
func Round(v float64, decimals int) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	scale := math.Pow(10, float64(decimals))
	return math.RoundToEven(v*scale) / scale
}
