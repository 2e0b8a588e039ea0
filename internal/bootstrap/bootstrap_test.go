package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/guidesearch/internal/corpus"
	"github.com/dshills/guidesearch/internal/embedder"
	"github.com/dshills/guidesearch/internal/engine"
	"github.com/dshills/guidesearch/internal/searcher"
	"github.com/dshills/guidesearch/internal/storage"
	"github.com/dshills/guidesearch/pkg/types"
)

// countingEmbedder counts batch calls of the wrapped embedder
type countingEmbedder struct {
	embedder.Embedder
	batches atomic.Int32
}

func (c *countingEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	c.batches.Add(1)
	return c.Embedder.GenerateBatch(ctx, req)
}

func localModel() *countingEmbedder {
	return &countingEmbedder{Embedder: embedder.NewLocalProvider(0, nil)}
}

type harness struct {
	controller *Controller
	searcher   *searcher.Searcher
	engine     *engine.Engine
}

type options struct {
	store       storage.Storage
	loader      engine.Loader
	corpus      corpus.Fetcher
	initTimeout time.Duration
}

func newHarness(t *testing.T, opts options) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	if opts.store == nil {
		opts.store = storage.NewMemoryStorage()
	}
	if opts.loader == nil {
		model := localModel()
		opts.loader = func(ctx context.Context) (embedder.Embedder, error) { return model, nil }
	}

	eng := engine.New(engine.Config{Loader: opts.loader})
	t.Cleanup(func() { _ = eng.Close() })

	s := searcher.New(searcher.Config{Embedder: eng, Logger: logger})
	c := New(Config{
		Storage:     opts.store,
		Engine:      eng,
		Searcher:    s,
		Corpus:      opts.corpus,
		Logger:      logger,
		InitTimeout: opts.initTimeout,
	})
	return &harness{controller: c, searcher: s, engine: eng}
}

func loaderOf(e embedder.Embedder) engine.Loader {
	return func(ctx context.Context) (embedder.Embedder, error) { return e, nil }
}

func openSQLite(t *testing.T, path string) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func bundledCount(t *testing.T) int {
	t.Helper()
	guidelines, err := corpus.Bundled()(context.Background())
	require.NoError(t, err)
	return len(guidelines)
}

func TestColdThenWarmStart(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guidesearch.db")
	want := bundledCount(t)

	first := localModel()
	store := openSQLite(t, dbPath)
	h := newHarness(t, options{store: store, loader: loaderOf(first)})

	res := h.controller.Run(ctx)
	require.NoError(t, res.Cause)
	assert.Equal(t, PathCold, res.Path)
	assert.Equal(t, types.ModeAIReady, res.Status.Mode)
	assert.Equal(t, want, res.Vectors)
	assert.Equal(t, "local/feature-hash-v1@384", res.Model)
	assert.Greater(t, first.batches.Load(), int32(0))
	require.NoError(t, store.Close())

	// simulated reload
	second := localModel()
	h2 := newHarness(t, options{store: openSQLite(t, dbPath), loader: loaderOf(second)})

	res2 := h2.controller.Run(ctx)
	require.NoError(t, res2.Cause)
	assert.Equal(t, PathWarm, res2.Path)
	assert.Equal(t, res.Vectors, res2.Vectors)
	assert.Equal(t, int32(0), second.batches.Load())

	results, err := h2.searcher.Search(ctx, "bleeding", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "vaginal_bleeding", results[0].ID)
}

func TestCorruptStoredVectorsRegenerate(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guidesearch.db")

	store := openSQLite(t, dbPath)
	h := newHarness(t, options{store: store})
	res := h.controller.Run(ctx)
	require.NoError(t, res.Cause)
	require.NoError(t, store.Close())

	db, err := sql.Open(storage.DriverName, dbPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE vectors SET vector = X'0000803F0000803F' WHERE id = (SELECT MIN(id) FROM vectors)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	model := localModel()
	reopened := openSQLite(t, dbPath)
	h2 := newHarness(t, options{store: reopened, loader: loaderOf(model)})

	res2 := h2.controller.Run(ctx)
	require.NoError(t, res2.Cause)
	assert.Equal(t, types.ModeAIReady, res2.Status.Mode)
	assert.Equal(t, PathCold, res2.Path)
	assert.Greater(t, model.batches.Load(), int32(0))

	records, err := reopened.Vectors().GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, res.Vectors)
	for _, rec := range records {
		assert.Len(t, rec.Vector, 384)
	}
}

func TestCheckRecords(t *testing.T) {
	good := []types.VectorRecord{
		{GuidelineID: "a", Vector: []float32{1, 0}},
		{GuidelineID: "b", Vector: []float32{0, 1}},
	}

	tests := []struct {
		name      string
		records   []types.VectorRecord
		count     int
		dimension int
		wantErr   bool
	}{
		{"matching", good, 2, 2, false},
		{"count differs", good, 3, 2, true},
		{"model dimension differs", good, 2, 3, true},
		{"mixed dimensions", append(good[:1:1], types.VectorRecord{GuidelineID: "c", Vector: []float32{1}}), 2, 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkRecords(tt.records, tt.count, tt.dimension)
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrDimensionMismatch)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	model := localModel()
	h := newHarness(t, options{loader: loaderOf(model)})

	first := h.controller.Run(ctx)
	calls := model.batches.Load()
	second := h.controller.Run(ctx)

	assert.Equal(t, first, second)
	assert.Equal(t, calls, model.batches.Load())
}

func TestInitTimeoutDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{
		loader: func(ctx context.Context) (embedder.Embedder, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		initTimeout: 100 * time.Millisecond,
	})

	start := time.Now()
	res := h.controller.Run(ctx)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, PathDegraded, res.Path)
	assert.Equal(t, types.ModeBasic, res.Status.Mode)
	assert.Equal(t, ReasonEngineTimeout, res.Status.Reason)
	assert.ErrorIs(t, res.Cause, types.ErrEngineTimeout)

	results, err := h.searcher.Search(ctx, "bleeding", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "vaginal_bleeding", results[0].ID)
}

func TestModelUnavailableDegrades(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{
		loader: func(ctx context.Context) (embedder.Embedder, error) {
			return nil, errors.New("runtime not supported")
		},
	})

	res := h.controller.Run(ctx)
	assert.Equal(t, types.ModeBasic, res.Status.Mode)
	assert.Equal(t, ReasonModelUnavailable, res.Status.Reason)
	assert.ErrorIs(t, res.Cause, types.ErrModelUnavailable)
	assert.Equal(t, bundledCount(t), res.Documents)

	err := h.controller.Regenerate(ctx)
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func failingCorpus(ctx context.Context) ([]types.Guideline, error) {
	return nil, types.ErrCorpusFetch
}

func TestCorpusFetchFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("empty store", func(t *testing.T) {
		h := newHarness(t, options{corpus: failingCorpus})

		res := h.controller.Run(ctx)
		assert.Equal(t, types.ModeBasic, res.Status.Mode)
		assert.Equal(t, ReasonCorpusUnavailable, res.Status.Reason)
		assert.ErrorIs(t, res.Cause, types.ErrCorpusFetch)

		results, err := h.searcher.Search(ctx, "bleeding", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("stale store", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		seeded, err := corpus.Bundled()(ctx)
		require.NoError(t, err)
		require.NoError(t, store.Documents().PutAll(ctx, seeded[:3]))

		h := newHarness(t, options{store: store, corpus: failingCorpus})

		res := h.controller.Run(ctx)
		require.NoError(t, res.Cause)
		assert.Equal(t, types.ModeAIReady, res.Status.Mode)
		assert.Equal(t, 3, res.Documents)
		assert.Equal(t, 3, res.Vectors)
	})
}

func TestInvalidCorpusDegrades(t *testing.T) {
	h := newHarness(t, options{corpus: func(ctx context.Context) ([]types.Guideline, error) {
		return corpus.Parse([]byte(`[{"id":"a"}]`))
	}})

	res := h.controller.Run(context.Background())
	assert.Equal(t, types.ModeBasic, res.Status.Mode)
	assert.ErrorIs(t, res.Cause, types.ErrInvalidCorpus)
}

// brokenStorage fails every operation like an unavailable database
type brokenStorage struct{}

type brokenDocuments struct{}

type brokenVectors struct{}

var errBroken = errors.New("disk I/O error")

func broken() error { return errors.Join(types.ErrStorage, errBroken) }

func (brokenStorage) Documents() storage.DocumentStore { return brokenDocuments{} }
func (brokenStorage) Vectors() storage.VectorStore     { return brokenVectors{} }
func (brokenStorage) Close() error                     { return nil }

func (brokenDocuments) PutAll(context.Context, []types.Guideline) error { return broken() }
func (brokenDocuments) Count(context.Context) (int, error)              { return 0, broken() }
func (brokenDocuments) GetAll(context.Context) ([]types.Guideline, error) {
	return nil, broken()
}
func (brokenDocuments) GetMany(context.Context, []string) ([]types.Guideline, error) {
	return nil, broken()
}

func (brokenVectors) Count(context.Context) (int, error) { return 0, broken() }
func (brokenVectors) ClearAndReplaceAll(context.Context, *storage.Generation, []types.VectorRecord) error {
	return broken()
}
func (brokenVectors) GetAll(context.Context) ([]types.VectorRecord, error) { return nil, broken() }
func (brokenVectors) Generation(context.Context) (*storage.Generation, error) {
	return nil, broken()
}

func TestStorageFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{store: brokenStorage{}})

	res := h.controller.Run(ctx)
	require.NoError(t, res.Cause)
	assert.True(t, res.InMemory)
	assert.Equal(t, types.ModeAIReady, res.Status.Mode)
	assert.IsType(t, &storage.MemoryStorage{}, h.controller.Storage())

	results, err := h.searcher.Search(ctx, "fever", 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "high_fever", results[0].ID)
}

// vectorsOnlyBroken has a working document store and a failing vector store
type vectorsOnlyBroken struct {
	*storage.MemoryStorage
}

func (v vectorsOnlyBroken) Vectors() storage.VectorStore { return brokenVectors{} }

func TestVectorStoreFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{store: vectorsOnlyBroken{storage.NewMemoryStorage()}})

	res := h.controller.Run(ctx)
	require.NoError(t, res.Cause)
	assert.True(t, res.InMemory)
	assert.Equal(t, PathCold, res.Path)
	assert.Equal(t, types.ModeAIReady, res.Status.Mode)
}

func TestPanicDegrades(t *testing.T) {
	h := newHarness(t, options{corpus: func(ctx context.Context) ([]types.Guideline, error) {
		panic("corrupt bundle")
	}})

	res := h.controller.Run(context.Background())
	assert.Equal(t, types.ModeBasic, res.Status.Mode)
	assert.Contains(t, res.Cause.Error(), "corrupt bundle")
}

func TestModelChangeRegenerates(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "guidesearch.db")

	store := openSQLite(t, dbPath)
	old := &countingEmbedder{Embedder: embedder.NewHashProvider(32, nil)}
	res := newHarness(t, options{store: store, loader: loaderOf(old)}).controller.Run(ctx)
	require.NoError(t, res.Cause)
	assert.Equal(t, "hash/sha384-tile@32", res.Model)
	require.NoError(t, store.Close())

	store = openSQLite(t, dbPath)
	upgraded := localModel()
	res = newHarness(t, options{store: store, loader: loaderOf(upgraded)}).controller.Run(ctx)
	require.NoError(t, res.Cause)
	assert.Equal(t, PathCold, res.Path)
	assert.Greater(t, upgraded.batches.Load(), int32(0))

	gen, err := store.Vectors().Generation(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local/feature-hash-v1@384", gen.Model)
	assert.Equal(t, 384, gen.Dimension)
}

func TestCorpusChangeRegenerates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	res := newHarness(t, options{store: store}).controller.Run(ctx)
	require.Equal(t, PathCold, res.Path)

	res = newHarness(t, options{store: store}).controller.Run(ctx)
	require.Equal(t, PathWarm, res.Path)

	edited := func(ctx context.Context) ([]types.Guideline, error) {
		guidelines, err := corpus.Bundled()(ctx)
		if err != nil {
			return nil, err
		}
		guidelines[0].Text += " Call an ambulance."
		return guidelines, nil
	}
	res = newHarness(t, options{store: store, corpus: edited}).controller.Run(ctx)
	assert.Equal(t, PathCold, res.Path)

	all, err := store.Documents().GetAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, all[0].Text, "ambulance")
}

func TestRegenerate(t *testing.T) {
	ctx := context.Background()
	model := localModel()
	store := storage.NewMemoryStorage()
	h := newHarness(t, options{store: store, loader: loaderOf(model)})
	require.NoError(t, h.controller.Run(ctx).Cause)

	before, err := store.Vectors().Generation(ctx)
	require.NoError(t, err)
	calls := model.batches.Load()

	require.NoError(t, h.controller.Regenerate(ctx))
	assert.Greater(t, model.batches.Load(), calls)

	after, err := store.Vectors().Generation(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, before.CorpusHash, after.CorpusHash)

	results, err := h.searcher.Search(ctx, "convulsions", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "convulsions", results[0].ID)
}

func TestRegenerate_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, options{})
	require.NoError(t, h.controller.Run(ctx).Cause)

	h.controller.regenerating.Store(true)
	assert.ErrorIs(t, h.controller.Regenerate(ctx), types.ErrReindexInProgress)

	h.controller.regenerating.Store(false)
	assert.NoError(t, h.controller.Regenerate(ctx))
}

func TestStatusStream(t *testing.T) {
	h := newHarness(t, options{})
	events, cancel := h.searcher.Subscribe()
	defer cancel()

	h.controller.Run(context.Background())

	var modes []types.Mode
	for len(events) > 0 {
		modes = append(modes, (<-events).Mode)
	}
	assert.Equal(t, []types.Mode{types.ModeUninitialized, types.ModeInitializing, types.ModeAIReady}, modes)
}

func TestBengaliBleedingQuery(t *testing.T) {
	ctx := context.Background()

	t.Run("three document corpus", func(t *testing.T) {
		small := func(ctx context.Context) ([]types.Guideline, error) {
			return []types.Guideline{
				{ID: "bleeding", Title: "Bleeding", Text: "Heavy bleeding needs the hospital now.",
					Tags: []string{"bleeding", "রক্তপাত"}, ActionType: types.ActionEmergency},
				{ID: "fever", Title: "Fever", Text: "A high temperature may mean infection.",
					Tags: []string{"fever", "জ্বর"}, ActionType: types.ActionWarning},
				{ID: "diet", Title: "Diet", Text: "Eat iron rich food and vegetables.",
					Tags: []string{"diet", "খাবার"}, ActionType: types.ActionInfo},
			}, nil
		}
		h := newHarness(t, options{corpus: small})
		require.Equal(t, types.ModeAIReady, h.controller.Run(ctx).Status.Mode)

		results, err := h.searcher.Search(ctx, "আমার রক্তপাত হচ্ছে", 3)
		require.NoError(t, err)

		scores := make(map[string]float64)
		for _, r := range results {
			scores[r.ID] = r.Score
		}
		require.Contains(t, scores, "bleeding")
		require.Contains(t, scores, "diet")
		assert.Greater(t, scores["bleeding"], scores["diet"])
		assert.Equal(t, "bleeding", results[0].ID)
	})

	t.Run("bundled corpus", func(t *testing.T) {
		h := newHarness(t, options{})
		require.Equal(t, types.ModeAIReady, h.controller.Run(ctx).Status.Mode)

		results, err := h.searcher.Search(ctx, "রক্তপাত হচ্ছে", 5)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		assert.Equal(t, "vaginal_bleeding", results[0].ID)
	})
}
