package textsvc

import "math"

// CosineSimilarity calculates the cosine similarity between two
// vectors, in [-1,1]. Mismatched lengths, empty vectors, and zero
// magnitudes all return 0.0.
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0.0
	}

	var dotProduct, magnitude1, magnitude2 float64
	for i := range vec1 {
		dotProduct += float64(vec1[i]) * float64(vec2[i])
		magnitude1 += float64(vec1[i]) * float64(vec1[i])
		magnitude2 += float64(vec2[i]) * float64(vec2[i])
	}

	if magnitude1 == 0 || magnitude2 == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(magnitude1) * math.Sqrt(magnitude2))
}
