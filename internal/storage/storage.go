package storage

import (
	"context"
	"time"

	"github.com/dshills/guidesearch/pkg/types"
)

// Storage gives access to the document and vector stores of one profile
type Storage interface {
	Documents() DocumentStore
	Vectors() VectorStore
	Close() error
}

// DocumentStore persists guidelines keyed by id
type DocumentStore interface {
	// PutAll upserts guidelines; existing ids are overwritten in place
	PutAll(ctx context.Context, guidelines []types.Guideline) error

	// Count returns the number of stored guidelines
	Count(ctx context.Context) (int, error)

	// GetAll returns every guideline in seed order
	GetAll(ctx context.Context) ([]types.Guideline, error)

	// GetMany returns the guidelines for ids in the order of ids.
	// Unknown ids are skipped.
	GetMany(ctx context.Context, ids []string) ([]types.Guideline, error)
}

// VectorStore persists one embedding per guideline
type VectorStore interface {
	// Count returns the number of stored vectors
	Count(ctx context.Context) (int, error)

	// ClearAndReplaceAll atomically swaps the whole vector set and records gen
	ClearAndReplaceAll(ctx context.Context, gen *Generation, records []types.VectorRecord) error

	// GetAll returns every stored vector
	GetAll(ctx context.Context) ([]types.VectorRecord, error)

	// Generation returns the stamp of the current vector set, or ErrNotFound
	Generation(ctx context.Context) (*Generation, error)
}

// Generation stamps a vector set with the model that produced it
type Generation struct {
	ID          string
	Model       string // provider/model@dimension tag of the engine
	Dimension   int
	CorpusHash  string
	VectorCount int
	CreatedAt   time.Time
}

// Matches reports whether vectors of this generation can be reused with the
// given model tag, dimension and corpus hash.
func (g *Generation) Matches(model string, dimension int, corpusHash string) bool {
	if g == nil {
		return false
	}
	return g.Model == model && g.Dimension == dimension && g.CorpusHash == corpusHash
}

// ErrNotFound is returned when a requested entity doesn't exist
var ErrNotFound = types.ErrNotFound
