// Package types provides shared type definitions for the guideline search engine.
//
// This package defines the domain types used across storage, the embedding
// engine, the searcher and the bootstrap controller.
//
// # Core Types
//
// Guideline is a single document of the corpus:
//
//	g := types.Guideline{
//	    ID:         "vaginal_bleeding",
//	    Title:      "Vaginal Bleeding",
//	    Text:       "Immediate referral to hospital. Do not delay.",
//	    Tags:       []string{"bleeding", "danger sign"},
//	    ActionType: types.ActionEmergency,
//	}
//
// VectorRecord holds the embedding computed for one guideline, keyed by the
// guideline ID.
//
// # Search Results
//
// SearchResult pairs a guideline with its score. In vector mode the score is
// the cosine similarity of the query and guideline embeddings; in basic mode
// it is the fraction of query terms found in the guideline.
//
// # Status
//
// Mode tracks the searcher lifecycle:
//
//	UNINITIALIZED -> INITIALIZING -> AI_READY | BASIC_MODE
//
// StatusEvent is what subscribers receive whenever the mode changes.
package types
