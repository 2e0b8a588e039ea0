package types

import "errors"

// Failure taxonomy of the search subsystem. Components convert these into
// mode transitions or empty results rather than returning them to the UI.
var (
	// ErrModelUnavailable is returned when the embedding model fails to load
	ErrModelUnavailable = errors.New("embedding model unavailable")
	// ErrEngineTimeout is returned when an engine call exceeds its bound
	ErrEngineTimeout = errors.New("embedding engine timeout")
	// ErrEngineClosed is returned for calls on a stopped engine
	ErrEngineClosed = errors.New("embedding engine closed")
	// ErrCorpusFetch is returned when the bundled corpus cannot be loaded
	ErrCorpusFetch = errors.New("corpus fetch failed")
	// ErrInvalidCorpus is returned for malformed corpus content
	ErrInvalidCorpus = errors.New("invalid corpus")
	// ErrDimensionMismatch is returned when vectors of different lengths meet
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrStorage wraps failures of the persistence layer
	ErrStorage = errors.New("storage failure")
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrSuperseded is returned to a query replaced by a newer one
	ErrSuperseded = errors.New("query superseded")
	// ErrReindexInProgress is returned when vectors are already being regenerated
	ErrReindexInProgress = errors.New("reindex already in progress")
)

// Guideline validation errors
var (
	ErrMissingID         = errors.New("guideline id is required")
	ErrMissingTitle      = errors.New("guideline title is required")
	ErrMissingText       = errors.New("guideline text is required")
	ErrMissingTags       = errors.New("guideline tags are required")
	ErrMissingActionType = errors.New("guideline action_type is required")
)
