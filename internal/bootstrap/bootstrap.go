// Package bootstrap brings the search subsystem from UNINITIALIZED to
// AI_READY or BASIC_MODE.
//
// Run seeds the document store from the corpus and loads the model
// concurrently, then either reuses the stored vectors (warm start) or
// embeds the whole corpus once and stores the result (cold start). Stored
// vectors are reused only when their generation stamp names the loaded
// model, its dimension and the current corpus hash.
//
// Failures never escape Run. A model that fails to load or misses the
// readiness timeout leaves the searcher in BASIC_MODE; a failing database
// is replaced by an in-memory store for the session.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/guidesearch/internal/corpus"
	"github.com/dshills/guidesearch/internal/engine"
	"github.com/dshills/guidesearch/internal/searcher"
	"github.com/dshills/guidesearch/internal/storage"
	"github.com/dshills/guidesearch/pkg/types"
)

// DefaultInitTimeout bounds model loading
const DefaultInitTimeout = 30 * time.Second

// Reasons reported with BASIC_MODE
const (
	ReasonCorpusUnavailable = "corpus unavailable"
	ReasonModelUnavailable  = "model unavailable"
	ReasonEngineTimeout     = "model load timed out"
	ReasonIndexFailed       = "vector index unavailable"
	ReasonInternalError     = "internal error"
)

// Engine is the part of the embedding engine the controller drives
type Engine interface {
	Init(ctx context.Context) (engine.ModelInfo, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config contains configuration for the controller
type Config struct {
	Storage     storage.Storage
	Engine      Engine
	Searcher    *searcher.Searcher
	Corpus      corpus.Fetcher // default: corpus.Bundled()
	Logger      *zap.Logger
	InitTimeout time.Duration // default: DefaultInitTimeout
}

// Path is how the vector working set was obtained
type Path string

const (
	PathWarm     Path = "warm"     // stored vectors reused
	PathCold     Path = "cold"     // vectors generated and stored
	PathDegraded Path = "degraded" // no vectors, keyword search only
)

// Result summarises a bootstrap run
type Result struct {
	Status    types.StatusEvent
	Path      Path
	Documents int
	Vectors   int
	Model     string
	InMemory  bool  // storage fell back to memory
	Cause     error // why the run degraded, if it did
}

// Controller runs the bootstrap sequence once per process
type Controller struct {
	cfg    Config
	logger *zap.Logger

	once   sync.Once
	result Result

	mu         sync.Mutex
	store      storage.Storage
	inMemory   bool
	info       engine.ModelInfo
	ready      bool
	guidelines []types.Guideline

	regenerating atomic.Bool
}

// New creates a controller
func New(cfg Config) *Controller {
	if cfg.Corpus == nil {
		cfg.Corpus = corpus.Bundled()
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		cfg:    cfg,
		logger: logger.Named("bootstrap"),
		store:  cfg.Storage,
	}
}

// Run executes the bootstrap sequence. Only the first call does work; later
// calls return the first result.
func (c *Controller) Run(ctx context.Context) Result {
	c.once.Do(func() {
		c.result = c.run(ctx)
	})
	return c.result
}

// Storage returns the storage in use, which is an in-memory store after a
// storage failure
func (c *Controller) Storage() storage.Storage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Controller) run(ctx context.Context) (result Result) {
	start := time.Now()
	s := c.cfg.Searcher

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("bootstrap panicked", zap.Any("panic", r), zap.Stack("stack"))
			result = c.degrade(fmt.Errorf("%s: %v", ReasonInternalError, r), ReasonInternalError)
		}
	}()

	s.BeginInitializing()

	var (
		guidelines []types.Guideline
		corpusErr  error
		info       engine.ModelInfo
		initErr    error
	)

	// Documents and model are independent; neither failure cancels the other
	var g errgroup.Group
	g.Go(func() error {
		defer c.recoverInto(&corpusErr)
		guidelines, corpusErr = c.prepareDocuments(ctx)
		return nil
	})
	g.Go(func() error {
		defer c.recoverInto(&initErr)
		ictx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
		defer cancel()
		info, initErr = c.cfg.Engine.Init(ictx)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	c.guidelines = guidelines
	c.mu.Unlock()

	if corpusErr != nil {
		c.logger.Error("no documents to search", zap.Error(corpusErr))
		return c.degrade(corpusErr, ReasonCorpusUnavailable)
	}
	if initErr != nil {
		reason := ReasonModelUnavailable
		if errors.Is(initErr, types.ErrEngineTimeout) {
			reason = ReasonEngineTimeout
		}
		c.logger.Warn("embedding model not available, using keyword search", zap.Error(initErr))
		return c.degrade(initErr, reason)
	}

	c.mu.Lock()
	c.info = info
	c.ready = true
	c.mu.Unlock()

	records, path, err := c.loadOrGenerate(ctx, info, guidelines)
	if err != nil && errors.Is(err, types.ErrStorage) {
		c.logger.Error("vector store failed, continuing in memory", zap.Error(err))
		if ferr := c.useMemory(ctx, guidelines); ferr == nil {
			records, path, err = c.loadOrGenerate(ctx, info, guidelines)
		}
	}
	if err != nil {
		c.logger.Error("building vector index failed", zap.Error(err))
		return c.degrade(err, ReasonIndexFailed)
	}

	store := c.Storage()
	err = s.EnterAIMode(store.Documents(), records, info.Tag)
	if errors.Is(err, types.ErrDimensionMismatch) && path == PathWarm {
		c.logger.Warn("stored vectors rejected, regenerating", zap.Error(err))
		if records, err = c.generate(ctx, info, guidelines); err == nil {
			path = PathCold
			err = s.EnterAIMode(store.Documents(), records, info.Tag)
		}
	}
	if err != nil {
		return c.degrade(err, ReasonIndexFailed)
	}
	s.SetRegenerator(c.Regenerate)

	c.logger.Info("search ready",
		zap.String("path", string(path)),
		zap.String("model", info.Tag),
		zap.Int("documents", len(guidelines)),
		zap.Int("vectors", len(records)),
		zap.Duration("duration", time.Since(start)),
	)

	return Result{
		Status:    s.Status(),
		Path:      path,
		Documents: len(guidelines),
		Vectors:   len(records),
		Model:     info.Tag,
		InMemory:  c.isInMemory(),
	}
}

// recoverInto converts a panic of the calling goroutine into *errp
func (c *Controller) recoverInto(errp *error) {
	if r := recover(); r != nil {
		c.logger.Error("bootstrap step panicked", zap.Any("panic", r), zap.Stack("stack"))
		*errp = fmt.Errorf("%s: %v", ReasonInternalError, r)
	}
}

// prepareDocuments fetches the corpus and makes sure the document store
// holds it. It returns the documents to index.
func (c *Controller) prepareDocuments(ctx context.Context) ([]types.Guideline, error) {
	fetched, fetchErr := c.cfg.Corpus(ctx)
	if fetchErr != nil {
		c.logger.Warn("corpus fetch failed", zap.Error(fetchErr))
	}

	guidelines, err := c.syncDocuments(ctx, fetched, fetchErr)
	if err != nil && errors.Is(err, types.ErrStorage) {
		c.logger.Error("document store failed, continuing in memory", zap.Error(err))
		if merr := c.useMemory(ctx, fetched); merr != nil {
			return nil, merr
		}
		if fetchErr != nil {
			return nil, fetchErr
		}
		return fetched, nil
	}
	return guidelines, err
}

// syncDocuments seeds an empty store, refreshes a store holding a different
// corpus, and falls back to the stored copy when the fetch failed
func (c *Controller) syncDocuments(ctx context.Context, fetched []types.Guideline, fetchErr error) ([]types.Guideline, error) {
	docs := c.Storage().Documents()

	count, err := docs.Count(ctx)
	if err != nil {
		return nil, err
	}

	if fetchErr != nil {
		if count == 0 {
			return nil, fetchErr
		}
		c.logger.Warn("using stored documents", zap.Int("documents", count))
		return docs.GetAll(ctx)
	}

	if count == 0 {
		if err := docs.PutAll(ctx, fetched); err != nil {
			return nil, err
		}
		c.logger.Info("document store seeded", zap.Int("documents", len(fetched)))
		return docs.GetAll(ctx)
	}

	stored, err := docs.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	if corpus.Hash(stored) != corpus.Hash(fetched) {
		if err := docs.PutAll(ctx, fetched); err != nil {
			return nil, err
		}
		c.logger.Info("document store updated from corpus", zap.Int("documents", len(fetched)))
		return docs.GetAll(ctx)
	}
	return stored, nil
}

// loadOrGenerate returns the working set, reusing stored vectors when their
// generation matches the loaded model and corpus
func (c *Controller) loadOrGenerate(ctx context.Context, info engine.ModelInfo, guidelines []types.Guideline) ([]types.VectorRecord, Path, error) {
	vectors := c.Storage().Vectors()
	corpusHash := corpus.Hash(guidelines)

	count, err := vectors.Count(ctx)
	if err != nil {
		return nil, "", err
	}

	if count > 0 {
		gen, err := vectors.Generation(ctx)
		switch {
		case err != nil && !errors.Is(err, types.ErrNotFound):
			return nil, "", err
		case gen.Matches(info.Tag, info.Dimension, corpusHash):
			records, err := vectors.GetAll(ctx)
			if err != nil {
				return nil, "", err
			}
			err = checkRecords(records, gen.VectorCount, info.Dimension)
			if err == nil {
				return records, PathWarm, nil
			}
			c.logger.Warn("stored vectors are corrupt, regenerating", zap.Error(err))
		default:
			c.logger.Info("stored vectors are stale, regenerating",
				zap.String("model", info.Tag),
				zap.Int("stored", count),
			)
		}
	}

	records, err := c.generate(ctx, info, guidelines)
	if err != nil {
		return nil, "", err
	}
	return records, PathCold, nil
}

// checkRecords verifies a stored vector set against its generation stamp
func checkRecords(records []types.VectorRecord, count, dimension int) error {
	if len(records) != count {
		return fmt.Errorf("%w: %d vectors stored, generation recorded %d",
			types.ErrDimensionMismatch, len(records), count)
	}
	for _, rec := range records {
		if rec.Dimension() != dimension {
			return fmt.Errorf("%w: vector for %q has %d dimensions, model has %d",
				types.ErrDimensionMismatch, rec.GuidelineID, rec.Dimension(), dimension)
		}
	}
	return nil
}

// generate embeds every guideline and atomically replaces the stored vectors
func (c *Controller) generate(ctx context.Context, info engine.ModelInfo, guidelines []types.Guideline) ([]types.VectorRecord, error) {
	start := time.Now()

	texts := make([]string, len(guidelines))
	for i := range guidelines {
		texts[i] = guidelines[i].EmbeddingText()
	}

	vecs, err := c.cfg.Engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed corpus: %w", err)
	}
	if len(vecs) != len(guidelines) {
		return nil, fmt.Errorf("embed corpus: got %d vectors for %d documents", len(vecs), len(guidelines))
	}

	records := make([]types.VectorRecord, len(guidelines))
	for i, g := range guidelines {
		if len(vecs[i]) != info.Dimension {
			return nil, fmt.Errorf("%w: vector for %q has %d dimensions, model has %d",
				types.ErrDimensionMismatch, g.ID, len(vecs[i]), info.Dimension)
		}
		records[i] = types.VectorRecord{GuidelineID: g.ID, Vector: vecs[i]}
	}

	gen := &storage.Generation{Model: info.Tag, CorpusHash: corpus.Hash(guidelines)}
	if err := c.Storage().Vectors().ClearAndReplaceAll(ctx, gen, records); err != nil {
		return nil, err
	}

	c.logger.Info("vectors generated",
		zap.String("generation", gen.ID),
		zap.Int("vectors", len(records)),
		zap.Duration("duration", time.Since(start)),
	)
	return records, nil
}

// Regenerate re-embeds the stored documents with the loaded model and
// installs the new vectors in the searcher. A call made while another
// regeneration runs fails with ErrReindexInProgress.
func (c *Controller) Regenerate(ctx context.Context) error {
	if !c.regenerating.CompareAndSwap(false, true) {
		return types.ErrReindexInProgress
	}
	defer c.regenerating.Store(false)

	c.mu.Lock()
	info, ready := c.info, c.ready
	c.mu.Unlock()
	if !ready {
		return fmt.Errorf("%w: model not loaded", types.ErrModelUnavailable)
	}

	docs := c.Storage().Documents()
	guidelines, err := docs.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(guidelines) == 0 {
		return fmt.Errorf("%w: no documents to embed", types.ErrCorpusFetch)
	}

	records, err := c.generate(ctx, info, guidelines)
	if err != nil {
		return err
	}
	return c.cfg.Searcher.ReplaceWorkingSet(docs, records)
}

// useMemory swaps in an in-memory store seeded with guidelines
func (c *Controller) useMemory(ctx context.Context, guidelines []types.Guideline) error {
	mem := storage.NewMemoryStorage()
	if len(guidelines) > 0 {
		if err := mem.Documents().PutAll(ctx, guidelines); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.store = mem
	c.inMemory = true
	c.mu.Unlock()
	return nil
}

func (c *Controller) isInMemory() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inMemory
}

// degrade switches the searcher to keyword search over whatever documents
// are available
func (c *Controller) degrade(cause error, reason string) Result {
	store := c.Storage()
	c.cfg.Searcher.EnterBasicMode(store.Documents(), reason)

	c.mu.Lock()
	docs := len(c.guidelines)
	c.mu.Unlock()

	return Result{
		Status:    c.cfg.Searcher.Status(),
		Path:      PathDegraded,
		Documents: docs,
		InMemory:  c.isInMemory(),
		Cause:     cause,
	}
}
