package reembed

import "math"

// NormalizeVector returns a unit-length copy of v. A zero vector comes back
// as a zero vector of the same length.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	result := make([]float32, len(v))
	if sum == 0 {
		return result
	}

	norm := math.Sqrt(sum)
	for i, x := range v {
		result[i] = float32(float64(x) / norm)
	}
	return result
}
