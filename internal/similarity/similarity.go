// Package similarity converts vector-index distances into relevance scores.
package similarity

import "math"

// Normalize maps a cosine distance onto a relevance score in [0, 1].
//
// relevance = clamp(1 - distance, 0, 1). Distances outside [0, 2] are
// clamped rather than rejected; NaN maps to 0.
func Normalize(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	r := 1 - distance
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched, empty or zero-norm vectors have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 - CosineSimilarity, in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// Unit returns v scaled to unit length. Zero vectors are returned unchanged.
func Unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}
