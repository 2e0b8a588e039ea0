package engine

import "time"

// Requests sent to the engine goroutine. The set is closed: the worker
// switches over these types and nothing else. Deadline carries the caller's
// context deadline; the zero value means none.
type request interface {
	requestID() uint64
}

// InitRequest asks the worker to load the model
type InitRequest struct {
	ID       uint64
	Deadline time.Time
}

// EmbedBatchRequest asks for one vector per text, in order
type EmbedBatchRequest struct {
	ID       uint64
	Texts    []string
	Deadline time.Time
}

// EmbedQueryRequest asks for the vector of a single query
type EmbedQueryRequest struct {
	ID       uint64
	Text     string
	Deadline time.Time
}

func (r InitRequest) requestID() uint64       { return r.ID }
func (r EmbedBatchRequest) requestID() uint64 { return r.ID }
func (r EmbedQueryRequest) requestID() uint64 { return r.ID }

// Responses sent back by the worker, correlated by the request ID
type response interface {
	responseID() uint64
}

// ReadyResponse reports a loaded model
type ReadyResponse struct {
	ID   uint64
	Info ModelInfo
}

// UnavailableResponse reports that the model could not be loaded
type UnavailableResponse struct {
	ID     uint64
	Reason string
}

// VectorsResponse carries embeddings for an embed request
type VectorsResponse struct {
	ID      uint64
	Vectors [][]float32
}

// ErrorResponse reports a failed embed request
type ErrorResponse struct {
	ID  uint64
	Err error
}

func (r ReadyResponse) responseID() uint64       { return r.ID }
func (r UnavailableResponse) responseID() uint64 { return r.ID }
func (r VectorsResponse) responseID() uint64     { return r.ID }
func (r ErrorResponse) responseID() uint64       { return r.ID }
