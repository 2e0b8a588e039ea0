// Package searcher answers guideline queries in one of two tiers.
//
// In AI_READY mode the query is embedded through the engine and ranked
// against the in-memory working set of stored vectors by cosine similarity.
// In BASIC_MODE, used when the model is unavailable, the query and each of
// its words are matched as case-insensitive substrings of every document.
//
// # Basic Usage
//
//	s := searcher.New(searcher.Config{Embedder: eng, Logger: logger})
//	// the bootstrap controller calls EnterAIMode or EnterBasicMode
//
//	results, err := s.Search(ctx, "bleeding", 5)
//	for _, r := range results {
//	    fmt.Printf("[%d] %s (score: %.2f)\n", r.Rank, r.Title, r.Score)
//	}
//
// # Lifecycle
//
//	UNINITIALIZED -> INITIALIZING -> AI_READY | BASIC_MODE
//
// Queries before readiness return an empty result. The only automatic
// transition after readiness is AI_READY -> BASIC_MODE once the engine
// times out MaxQueryTimeouts queries in a row. Subscribe streams the
// transitions, starting with the current status.
//
// # Failure Handling
//
// A query whose embedding times out (QueryTimeout, default 10s) or fails
// returns an empty result and no error. A query vector whose length differs
// from the stored vectors triggers the regeneration hook once; if the
// vectors still differ the query returns an empty result.
//
// # Caching
//
// Results are kept in an LRU cache keyed by mode, topK and query. The cache
// is purged whenever the working set or the mode changes.
//
// # Latest Query Wins
//
// Latest cancels the previous Latest call still in flight, which then
// returns types.ErrSuperseded. Use it for search-as-you-type.
package searcher
