package core

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"third", []float32{-1, -1, 1}, []float32{1, -1, 1}, 1.0 / 3.0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0},
		{"dimension mismatch", []float32{1}, []float32{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineAgainstMatchesDirect(t *testing.T) {
	query := []float32{0.3, -1.2, 4}
	score := cosineAgainst(query)
	candidates := [][]float32{{1, 1, 1}, {-2, 0.5, 3}, {0, 0, 0}}
	for _, cand := range candidates {
		if got, want := score(cand), CosineSimilarity(query, cand); math.Abs(got-want) > 1e-12 {
			t.Errorf("scorer disagrees with CosineSimilarity: %v != %v", got, want)
		}
	}
}
