// Package engine hosts the embedding model on its own goroutine.
//
// Callers never touch the model directly. Init, EmbedBatch and EmbedQuery
// send a typed request (InitRequest, EmbedBatchRequest, EmbedQueryRequest)
// tagged with a fresh ID and wait for the reply carrying the same ID
// (ReadyResponse, UnavailableResponse, VectorsResponse, ErrorResponse).
// Concurrent callers therefore never see each other's results.
//
// Waiting is bounded by the caller's context. An expired deadline yields
// types.ErrEngineTimeout and the late reply is dropped when it arrives:
//
//	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
//	defer cancel()
//	vec, err := eng.EmbedQuery(ctx, "bleeding")
//	if errors.Is(err, types.ErrEngineTimeout) {
//	    // fall back
//	}
//
// A failed or panicking Loader leaves the engine unloaded and Init returns
// types.ErrModelUnavailable.
package engine
