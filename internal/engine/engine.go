package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/guidesearch/internal/embedder"
	"github.com/dshills/guidesearch/pkg/types"
)

// Defaults for batch embedding
const (
	DefaultBatchSize   = embedder.DefaultBatchSize
	DefaultConcurrency = 4
	requestQueueSize   = 64
)

// Loader produces a ready embedder. It runs on the engine goroutine.
type Loader func(ctx context.Context) (embedder.Embedder, error)

// ModelInfo describes the loaded model
type ModelInfo struct {
	Tag       string // provider/model@dimension
	Provider  string
	Model     string
	Dimension int
}

// Config contains configuration for the engine
type Config struct {
	Loader      Loader
	Logger      *zap.Logger
	BatchSize   int // Texts per provider call (default: DefaultBatchSize)
	Concurrency int // Provider calls in flight per EmbedBatch (default: DefaultConcurrency)
}

// Engine runs an embedding model on a dedicated goroutine. Callers talk to
// it through typed messages; every request carries a unique ID and its
// reply is routed back to that caller only.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	requests chan request
	nextID   atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan response

	info atomic.Pointer[ModelInfo]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New starts the engine goroutine. The model is not loaded until Init.
func New(cfg Config) *Engine {
	if cfg.BatchSize <= 0 || cfg.BatchSize > embedder.MaxBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		logger:   logger.Named("engine"),
		requests: make(chan request, requestQueueSize),
		pending:  make(map[uint64]chan response),
		ctx:      ctx,
		cancel:   cancel,
	}

	w := &worker{engine: e, loader: cfg.Loader}
	go w.run()

	return e
}

// Init loads the model. It returns ErrModelUnavailable if loading fails and
// ErrEngineTimeout if ctx expires first. Calling Init on a ready engine
// returns the loaded model immediately.
func (e *Engine) Init(ctx context.Context) (ModelInfo, error) {
	resp, err := e.call(ctx, func(id uint64) request { return InitRequest{ID: id, Deadline: deadline(ctx)} })
	if err != nil {
		return ModelInfo{}, err
	}

	switch r := resp.(type) {
	case ReadyResponse:
		info := r.Info
		e.info.Store(&info)
		return info, nil
	case UnavailableResponse:
		return ModelInfo{}, fmt.Errorf("%w: %s", types.ErrModelUnavailable, r.Reason)
	default:
		return ModelInfo{}, unexpected(resp)
	}
}

// EmbedBatch returns one vector per text, in order
func (e *Engine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := e.call(ctx, func(id uint64) request { return EmbedBatchRequest{ID: id, Texts: texts, Deadline: deadline(ctx)} })
	if err != nil {
		return nil, err
	}
	return vectors(resp)
}

// EmbedQuery returns the vector of a single query text
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.call(ctx, func(id uint64) request { return EmbedQueryRequest{ID: id, Text: text, Deadline: deadline(ctx)} })
	if err != nil {
		return nil, err
	}
	vecs, err := vectors(resp)
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("engine returned %d vectors for one query", len(vecs))
	}
	return vecs[0], nil
}

// Info returns the loaded model, if any
func (e *Engine) Info() (ModelInfo, bool) {
	info := e.info.Load()
	if info == nil {
		return ModelInfo{}, false
	}
	return *info, true
}

// Close stops the engine. Pending and later calls fail with ErrEngineClosed.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
	})
	return nil
}

// call sends a request and waits for its reply, ctx expiry or shutdown
func (e *Engine) call(ctx context.Context, build func(id uint64) request) (response, error) {
	if e.ctx.Err() != nil {
		return nil, types.ErrEngineClosed
	}

	id := e.nextID.Add(1)
	reply := make(chan response, 1)

	e.mu.Lock()
	e.pending[id] = reply
	e.mu.Unlock()

	select {
	case e.requests <- build(id):
	case <-ctx.Done():
		e.forget(id)
		return nil, callErr(ctx)
	case <-e.ctx.Done():
		e.forget(id)
		return nil, types.ErrEngineClosed
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		e.forget(id)
		return nil, callErr(ctx)
	case <-e.ctx.Done():
		e.forget(id)
		return nil, types.ErrEngineClosed
	}
}

// deliver routes a reply to its waiting caller. Replies to callers that
// have given up are dropped.
func (e *Engine) deliver(resp response) {
	e.mu.Lock()
	reply, ok := e.pending[resp.responseID()]
	delete(e.pending, resp.responseID())
	e.mu.Unlock()

	if !ok {
		e.logger.Debug("dropping reply for abandoned request", zap.Uint64("id", resp.responseID()))
		return
	}
	reply <- resp
}

func (e *Engine) forget(id uint64) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

// deadline returns the deadline of ctx, or the zero time
func deadline(ctx context.Context) time.Time {
	d, _ := ctx.Deadline()
	return d
}

// callErr maps an expired caller context to the engine error taxonomy
func callErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrEngineTimeout, ctx.Err())
	}
	return ctx.Err()
}

func vectors(resp response) ([][]float32, error) {
	switch r := resp.(type) {
	case VectorsResponse:
		return r.Vectors, nil
	case ErrorResponse:
		return nil, r.Err
	default:
		return nil, unexpected(resp)
	}
}

func unexpected(resp response) error {
	return fmt.Errorf("unexpected engine response %T", resp)
}

// worker owns the model. Its fields are touched only by the engine goroutine.
type worker struct {
	engine *Engine
	loader Loader
	model  embedder.Embedder
	info   ModelInfo
}

func (w *worker) run() {
	e := w.engine
	defer func() {
		if w.model != nil {
			_ = w.model.Close()
		}
	}()

	for {
		select {
		case <-e.ctx.Done():
			return
		case req := <-e.requests:
			e.deliver(w.handle(req))
		}
	}
}

// handle processes one request. Panics in the model are converted into
// failure replies so the engine goroutine survives them.
func (w *worker) handle(req request) (resp response) {
	defer func() {
		if r := recover(); r != nil {
			w.engine.logger.Error("engine request panicked",
				zap.Uint64("id", req.requestID()),
				zap.Any("panic", r),
			)
			if _, ok := req.(InitRequest); ok {
				resp = UnavailableResponse{ID: req.requestID(), Reason: fmt.Sprintf("model loader panicked: %v", r)}
				return
			}
			resp = ErrorResponse{ID: req.requestID(), Err: fmt.Errorf("embedding panicked: %v", r)}
		}
	}()

	switch r := req.(type) {
	case InitRequest:
		return w.init(r)
	case EmbedBatchRequest:
		if w.model == nil {
			return ErrorResponse{ID: r.ID, Err: fmt.Errorf("%w: model not loaded", types.ErrModelUnavailable)}
		}
		ctx, cancel := w.requestContext(r.Deadline)
		defer cancel()
		vecs, err := w.embedBatch(ctx, r.Texts)
		if err != nil {
			return ErrorResponse{ID: r.ID, Err: err}
		}
		return VectorsResponse{ID: r.ID, Vectors: vecs}
	case EmbedQueryRequest:
		if w.model == nil {
			return ErrorResponse{ID: r.ID, Err: fmt.Errorf("%w: model not loaded", types.ErrModelUnavailable)}
		}
		ctx, cancel := w.requestContext(r.Deadline)
		defer cancel()
		emb, err := w.model.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: r.Text})
		if err != nil {
			return ErrorResponse{ID: r.ID, Err: fmt.Errorf("embed query: %w", err)}
		}
		return VectorsResponse{ID: r.ID, Vectors: [][]float32{emb.Vector}}
	default:
		return ErrorResponse{ID: req.requestID(), Err: fmt.Errorf("unknown engine request %T", req)}
	}
}

// requestContext bounds work for one request by the engine lifetime and
// the caller's deadline
func (w *worker) requestContext(d time.Time) (context.Context, context.CancelFunc) {
	if d.IsZero() {
		return context.WithCancel(w.engine.ctx)
	}
	return context.WithDeadline(w.engine.ctx, d)
}

func (w *worker) init(r InitRequest) response {
	if w.model != nil {
		return ReadyResponse{ID: r.ID, Info: w.info}
	}
	if w.loader == nil {
		return UnavailableResponse{ID: r.ID, Reason: "no model loader configured"}
	}

	ctx, cancel := w.requestContext(r.Deadline)
	defer cancel()

	model, err := w.loader(ctx)
	if err != nil {
		w.engine.logger.Warn("model failed to load", zap.Error(err))
		return UnavailableResponse{ID: r.ID, Reason: err.Error()}
	}
	if model.Dimension() <= 0 {
		_ = model.Close()
		return UnavailableResponse{ID: r.ID, Reason: "model reports no dimension"}
	}

	w.model = model
	w.info = ModelInfo{
		Tag:       embedder.ModelTag(model),
		Provider:  model.Provider(),
		Model:     model.Model(),
		Dimension: model.Dimension(),
	}
	w.engine.logger.Info("model loaded",
		zap.String("model", w.info.Tag),
	)
	return ReadyResponse{ID: r.ID, Info: w.info}
}

// embedBatch splits texts into provider-sized batches and embeds them with
// bounded concurrency, keeping the input order
func (w *worker) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batchSize := w.engine.cfg.BatchSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.engine.cfg.Concurrency)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("embed texts %d-%d panicked: %v", start, end-1, r)
				}
			}()

			resp, err := w.model.GenerateBatch(gctx, embedder.BatchEmbeddingRequest{Texts: texts[start:end]})
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("embed texts %d-%d: got %d embeddings", start, end-1, len(resp.Embeddings))
			}
			for i, emb := range resp.Embeddings {
				out[start+i] = emb.Vector
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
