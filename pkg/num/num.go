// Package num holds the small stateless math helpers used across the
// connector: rounding to venue increments, decay weighting and value spacing
// for quote ladders.
package num

import (
	"fmt"
	"math"
	"strings"
)

// Sqrt is a sign-preserving square root: Sqrt(-4) == -2. NaN input maps to 0.
func Sqrt(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return -math.Sqrt(-v)
	}
	return math.Sqrt(v)
}

// Decay returns e^(-rate*v). A rate of 0 falls back to the default 0.5.
func Decay(v, rate float64) float64 {
	if rate == 0 {
		rate = 0.5
	}
	return math.Exp(-rate * v)
}

// GeometricWeights returns n weights proportional to ratio^i, normalized to
// sum to 1. With reverse the largest weight goes last. ratio must be in
// (0, 1].
func GeometricWeights(ratio float64, n int, reverse bool) []float64 {
	if n <= 0 {
		return nil
	}
	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		exp := i
		if reverse {
			exp = n - 1 - i
		}
		weights[i] = math.Pow(ratio, float64(exp))
		sum += weights[i]
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// Linspace returns n evenly spaced values from start to end inclusive.
// n must be at least 2.
func Linspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	step := (end - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = end
	return out
}

// Geomspace returns n geometrically spaced values from start to end
// inclusive. Both endpoints must be non-zero and share a sign; n must be at
// least 2.
func Geomspace(start, end float64, n int) []float64 {
	out := make([]float64, n)
	logStart, logEnd := math.Log(math.Abs(start)), math.Log(math.Abs(end))
	sign := 1.0
	if start < 0 {
		sign = -1.0
	}
	step := (logEnd - logStart) / float64(n-1)
	for i := range out {
		out[i] = sign * math.Exp(logStart+step*float64(i))
	}
	out[0] = start
	out[n-1] = end
	return out
}

// RoundStep rounds value to the nearest multiple of step.
func RoundStep(value, step float64) float64 {
	return math.Round(value/step) * step
}

// RoundTo truncates value to the given number of decimal digits.
func RoundTo(value float64, digits int) float64 {
	factor := math.Pow10(digits)
	return math.Trunc(value*factor) / factor
}

// Clip bounds value into [min, max].
func Clip(value, min, max float64) float64 {
	return math.Min(math.Max(value, min), max)
}

// CountDecimalPlaces reports how many decimal digits value carries, e.g. the
// tick size 0.001 has 3. Integers, NaN and infinities report 0.
func CountDecimalPlaces(value float64) int {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	s := fmt.Sprintf("%v", value)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(strings.TrimRight(s[dot+1:], "0"))
}
