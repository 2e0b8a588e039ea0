// Package app assembles storage, the embedding engine, the searcher and the
// bootstrap controller from an AppConfig. The CLI and the MCP server share
// one App per process.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/guidesearch/internal/bootstrap"
	"github.com/dshills/guidesearch/internal/config"
	"github.com/dshills/guidesearch/internal/corpus"
	"github.com/dshills/guidesearch/internal/embedder"
	"github.com/dshills/guidesearch/internal/engine"
	"github.com/dshills/guidesearch/internal/searcher"
	"github.com/dshills/guidesearch/internal/storage"
	"github.com/dshills/guidesearch/pkg/types"
)

// Options overrides parts of the assembly, mainly for tests
type Options struct {
	Logger  *zap.Logger
	Storage storage.Storage // opened from cfg.DBPath when nil
	Loader  engine.Loader   // embedder.Load with cfg.EmbedderConfig() when nil
	Corpus  corpus.Fetcher  // corpus.FromPath(cfg.CorpusPath) when nil
}

// App owns the search subsystem of one process
type App struct {
	cfg    *config.AppConfig
	logger *zap.Logger

	store      storage.Storage
	engine     *engine.Engine
	searcher   *searcher.Searcher
	controller *bootstrap.Controller
}

// New wires the components. Nothing is loaded until Start.
func New(cfg *config.AppConfig, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store := opts.Storage
	if store == nil {
		store = openStorage(cfg, logger)
	}

	loader := opts.Loader
	if loader == nil {
		embCfg := cfg.EmbedderConfig()
		loader = func(ctx context.Context) (embedder.Embedder, error) {
			return embedder.Load(ctx, embCfg)
		}
	}

	fetch := opts.Corpus
	if fetch == nil {
		fetch = corpus.FromPath(cfg.CorpusPath)
	}

	eng := engine.New(engine.Config{
		Loader:    loader,
		Logger:    logger,
		BatchSize: cfg.Embedder.BatchSize,
	})

	srch := searcher.New(searcher.Config{
		Embedder:         eng,
		Logger:           logger,
		QueryTimeout:     cfg.Search.QueryTimeout,
		MaxQueryTimeouts: cfg.Search.MaxQueryTimeouts,
		KeywordLimit:     cfg.Search.KeywordLimit,
		CacheSize:        cfg.Search.CacheSize,
	})

	ctrl := bootstrap.New(bootstrap.Config{
		Storage:     store,
		Engine:      eng,
		Searcher:    srch,
		Corpus:      fetch,
		Logger:      logger,
		InitTimeout: cfg.Search.InitTimeout,
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		engine:     eng,
		searcher:   srch,
		controller: ctrl,
	}, nil
}

// openStorage opens the configured database. A database that cannot be
// opened is replaced by an in-memory store for the session.
func openStorage(cfg *config.AppConfig, logger *zap.Logger) storage.Storage {
	path, err := cfg.ResolveDBPath()
	if err == nil {
		var store *storage.SQLiteStorage
		store, err = storage.NewSQLiteStorage(path)
		if err == nil {
			logger.Debug("database opened", zap.String("path", path), zap.String("driver", storage.DriverName))
			return store
		}
	}
	logger.Error("database unavailable, using in-memory storage", zap.Error(err))
	return storage.NewMemoryStorage()
}

// Start runs the bootstrap sequence. Later calls return the first result.
func (a *App) Start(ctx context.Context) bootstrap.Result {
	return a.controller.Run(ctx)
}

// Search answers a query with at most topK results (cfg.Search.TopK when
// topK <= 0)
func (a *App) Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	if topK <= 0 {
		topK = a.cfg.Search.TopK
	}
	return a.searcher.Search(ctx, query, topK)
}

// Status returns the current searcher status
func (a *App) Status() types.StatusEvent {
	return a.searcher.Status()
}

// Subscribe streams status changes, see searcher.Searcher.Subscribe
func (a *App) Subscribe() (<-chan types.StatusEvent, func()) {
	return a.searcher.Subscribe()
}

// Model returns the loaded model, if any
func (a *App) Model() (engine.ModelInfo, bool) {
	return a.engine.Info()
}

// Reindex re-embeds the stored documents with the loaded model
func (a *App) Reindex(ctx context.Context) error {
	if !a.Status().Mode.Ready() {
		return fmt.Errorf("%w: search not started", types.ErrModelUnavailable)
	}
	return a.controller.Regenerate(ctx)
}

// Counts reports stored documents and vectors
func (a *App) Counts(ctx context.Context) (docs, vectors int, err error) {
	store := a.controller.Storage()
	if docs, err = store.Documents().Count(ctx); err != nil {
		return 0, 0, err
	}
	if vectors, err = store.Vectors().Count(ctx); err != nil {
		return 0, 0, err
	}
	return docs, vectors, nil
}

// Close stops the engine and closes storage
func (a *App) Close() error {
	_ = a.engine.Close()
	if mem := a.controller.Storage(); mem != a.store {
		_ = mem.Close()
	}
	return a.store.Close()
}
