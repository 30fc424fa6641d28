package textsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vec1 []float32
		vec2 []float32
		want float64
	}{
		{
			name: "identical_vectors",
			vec1: []float32{1, 2, 3},
			vec2: []float32{1, 2, 3},
			want: 1.0,
		},
		{
			name: "orthogonal_vectors",
			vec1: []float32{1, 0},
			vec2: []float32{0, 1},
			want: 0.0,
		},
		{
			name: "opposite_vectors",
			vec1: []float32{1, 0},
			vec2: []float32{-1, 0},
			want: -1.0,
		},
		{
			name: "scaled_vectors_match",
			vec1: []float32{1, 2},
			vec2: []float32{2, 4},
			want: 1.0,
		},
		{
			name: "mismatched_lengths",
			vec1: []float32{1, 2, 3},
			vec2: []float32{1, 2},
			want: 0.0,
		},
		{
			name: "empty_vectors",
			vec1: nil,
			vec2: nil,
			want: 0.0,
		},
		{
			name: "zero_magnitude",
			vec1: []float32{0, 0},
			vec2: []float32{1, 1},
			want: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, CosineSimilarity(tt.vec1, tt.vec2), 1e-6)
		})
	}
}
