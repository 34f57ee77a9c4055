// Package outlier clamps numeric columns into Tukey fences for display.
// The source column is never modified; callers keep it alongside the
// clipped copy.
package outlier

import (
	"math"
	"sort"
)

// FarFactor is the IQR multiplier of the far-outlier fence
const FarFactor = 3.0

// Fences are the inclusive clamp bounds of a column
type Fences struct {
	Lower float64
	Upper float64
}

// ComputeFences returns [Q1 - factor*IQR, Q3 + factor*IQR] over the
// non-missing values. ok is false when every value is missing.
func ComputeFences(values []float64, factor float64) (fences Fences, ok bool) {
	present := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return Fences{}, false
	}
	sort.Float64s(present)

	q1 := Quantile(present, 0.25)
	q3 := Quantile(present, 0.75)
	iqr := q3 - q1

	return Fences{Lower: q1 - factor*iqr, Upper: q3 + factor*iqr}, true
}

// Apply clamps every value into the fences. Missing values stay missing.
func (f Fences) Apply(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		switch {
		case math.IsNaN(v):
			out[i] = v
		case v < f.Lower:
			out[i] = f.Lower
		case v > f.Upper:
			out[i] = f.Upper
		default:
			out[i] = v
		}
	}
	return out
}

// Clip clamps a column into its far-outlier fences
func Clip(values []float64) []float64 {
	fences, ok := ComputeFences(values, FarFactor)
	if !ok {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	return fences.Apply(values)
}

// Quantile returns the q-th quantile of an ascending slice using linear
// interpolation between the closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	w := pos - float64(lo)
	return sorted[lo]*(1-w) + sorted[hi]*w
}
