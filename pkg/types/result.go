package types

// SearchResult represents a single ranked guideline
type SearchResult struct {
	Guideline
	Rank  int     `json:"rank"` // Position in result set (1-based)
	Score float64 `json:"score"`
}

// IDs returns the guideline IDs of results, in order
func IDs(results []SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}
