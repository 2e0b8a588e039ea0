package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/guidesearch/pkg/types"
)

// MemoryStorage is a non-persistent Storage. Data lives until the process exits.
type MemoryStorage struct {
	mu         sync.RWMutex
	order      []string
	guidelines map[string]types.Guideline
	vectors    []types.VectorRecord
	generation *Generation
}

// Ensure MemoryStorage implements the interface.
var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		guidelines: make(map[string]types.Guideline),
	}
}

// Documents returns the in-memory document store
func (m *MemoryStorage) Documents() DocumentStore {
	return &memoryDocuments{m: m}
}

// Vectors returns the in-memory vector store
func (m *MemoryStorage) Vectors() VectorStore {
	return &memoryVectors{m: m}
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}

type memoryDocuments struct {
	m *MemoryStorage
}

func (d *memoryDocuments) PutAll(ctx context.Context, guidelines []types.Guideline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.m.mu.Lock()
	defer d.m.mu.Unlock()

	for _, g := range guidelines {
		if _, exists := d.m.guidelines[g.ID]; !exists {
			d.m.order = append(d.m.order, g.ID)
		}
		d.m.guidelines[g.ID] = g.Clone()
	}
	return nil
}

func (d *memoryDocuments) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()
	return len(d.m.order), nil
}

func (d *memoryDocuments) GetAll(ctx context.Context) ([]types.Guideline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()

	out := make([]types.Guideline, 0, len(d.m.order))
	for _, id := range d.m.order {
		out = append(out, d.m.guidelines[id].Clone())
	}
	return out, nil
}

func (d *memoryDocuments) GetMany(ctx context.Context, ids []string) ([]types.Guideline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.m.mu.RLock()
	defer d.m.mu.RUnlock()

	out := make([]types.Guideline, 0, len(ids))
	for _, id := range ids {
		if g, ok := d.m.guidelines[id]; ok {
			out = append(out, g.Clone())
		}
	}
	return out, nil
}

type memoryVectors struct {
	m *MemoryStorage
}

func (v *memoryVectors) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	return len(v.m.vectors), nil
}

func (v *memoryVectors) ClearAndReplaceAll(ctx context.Context, gen *Generation, records []types.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if gen == nil {
		gen = &Generation{}
	}
	dimension, err := validateRecords(records)
	if err != nil {
		return err
	}

	replacement := make([]types.VectorRecord, len(records))
	for i, rec := range records {
		replacement[i] = types.VectorRecord{GuidelineID: rec.GuidelineID, Vector: copyVector(rec.Vector)}
	}

	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}
	gen.Dimension = dimension
	gen.VectorCount = len(records)
	gen.CreatedAt = time.Now().UTC()
	stamp := *gen

	v.m.mu.Lock()
	v.m.vectors = replacement
	v.m.generation = &stamp
	v.m.mu.Unlock()
	return nil
}

func (v *memoryVectors) GetAll(ctx context.Context) ([]types.VectorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()

	out := make([]types.VectorRecord, len(v.m.vectors))
	for i, rec := range v.m.vectors {
		out[i] = types.VectorRecord{GuidelineID: rec.GuidelineID, Vector: copyVector(rec.Vector)}
	}
	return out, nil
}

func (v *memoryVectors) Generation(ctx context.Context) (*Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	if v.m.generation == nil {
		return nil, ErrNotFound
	}
	gen := *v.m.generation
	return &gen, nil
}
