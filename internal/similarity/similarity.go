// Package similarity scores embeddings against each other.
package similarity

import (
	"math"
	"sort"
)

// DefaultTopK is the number of results returned when no limit is given
const DefaultTopK = 5

// Candidate is a vector that can be ranked against a query
type Candidate struct {
	ID     string
	Vector []float32
}

// Scored is a ranked candidate
type Scored struct {
	ID    string
	Score float64
}

// CosineSimilarity computes dot(a,b) / (|a| * |b|).
// It returns NaN when the lengths differ or either vector is all zeros;
// callers must treat NaN as a non-match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}

	var dotProduct, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dotProduct += x * y
		normA += x * x
		normB += y * y
	}

	if normA == 0 || normB == 0 {
		return math.NaN()
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Rank scores every candidate against query and returns at most topK results
// ordered by descending score. Ties keep candidate order. Candidates whose
// score is NaN are dropped.
func Rank(query []float32, candidates []Candidate, topK int) []Scored {
	if topK <= 0 {
		topK = DefaultTopK
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		score := CosineSimilarity(query, c.Vector)
		if math.IsNaN(score) {
			continue
		}
		scored = append(scored, Scored{ID: c.ID, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
