package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/guidesearch/internal/embedder"
	"github.com/dshills/guidesearch/pkg/types"
)

// lengthEmbedder maps a text to [len(text), 1]
type lengthEmbedder struct {
	delay time.Duration
	panic bool

	mu         sync.Mutex
	batchCalls int
}

func (f *lengthEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	if f.panic {
		panic("model crashed")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return &embedder.Embedding{Vector: []float32{float32(len(req.Text)), 1}, Dimension: 2}, nil
}

func (f *lengthEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	out := make([]*embedder.Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := f.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: out}, nil
}

func (f *lengthEmbedder) Dimension() int   { return 2 }
func (f *lengthEmbedder) Provider() string { return "fake" }
func (f *lengthEmbedder) Model() string    { return "length" }
func (f *lengthEmbedder) Close() error     { return nil }

func loaderFor(e embedder.Embedder) Loader {
	return func(ctx context.Context) (embedder.Embedder, error) {
		return e, nil
	}
}

func newEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Logger = zaptest.NewLogger(t)
	e := New(cfg)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	t.Run("ready", func(t *testing.T) {
		e := newEngine(t, Config{Loader: loaderFor(&lengthEmbedder{})})

		_, ok := e.Info()
		assert.False(t, ok)

		info, err := e.Init(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fake/length@2", info.Tag)
		assert.Equal(t, 2, info.Dimension)

		again, err := e.Init(ctx)
		require.NoError(t, err)
		assert.Equal(t, info, again)

		got, ok := e.Info()
		assert.True(t, ok)
		assert.Equal(t, info, got)
	})

	t.Run("loader failure", func(t *testing.T) {
		e := newEngine(t, Config{Loader: func(ctx context.Context) (embedder.Embedder, error) {
			return nil, errors.New("weights missing")
		}})

		_, err := e.Init(ctx)
		assert.ErrorIs(t, err, types.ErrModelUnavailable)
		assert.Contains(t, err.Error(), "weights missing")
	})

	t.Run("loader panic", func(t *testing.T) {
		e := newEngine(t, Config{Loader: func(ctx context.Context) (embedder.Embedder, error) {
			panic("corrupt model file")
		}})

		_, err := e.Init(ctx)
		assert.ErrorIs(t, err, types.ErrModelUnavailable)

		// the engine goroutine survives
		_, err = e.EmbedQuery(ctx, "fever")
		assert.ErrorIs(t, err, types.ErrModelUnavailable)
	})

	t.Run("no loader", func(t *testing.T) {
		e := newEngine(t, Config{})
		_, err := e.Init(ctx)
		assert.ErrorIs(t, err, types.ErrModelUnavailable)
	})

	t.Run("hanging loader times out", func(t *testing.T) {
		// no test logger: the loader returns after the test has finished
		e := New(Config{Loader: func(ctx context.Context) (embedder.Embedder, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}})
		defer e.Close()

		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := e.Init(tctx)
		assert.ErrorIs(t, err, types.ErrEngineTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestEmbedBeforeInit(t *testing.T) {
	e := newEngine(t, Config{Loader: loaderFor(&lengthEmbedder{})})

	_, err := e.EmbedQuery(context.Background(), "fever")
	assert.ErrorIs(t, err, types.ErrModelUnavailable)

	_, err = e.EmbedBatch(context.Background(), []string{"fever"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func TestEmbedBatch(t *testing.T) {
	ctx := context.Background()
	model := &lengthEmbedder{}
	e := newEngine(t, Config{Loader: loaderFor(model), BatchSize: 3, Concurrency: 2})
	_, err := e.Init(ctx)
	require.NoError(t, err)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	vecs, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, 10)
	for i, vec := range vecs {
		assert.Equal(t, float32(i+1), vec[0], "vector %d out of order", i)
	}
	assert.Equal(t, 4, model.batchCalls)

	empty, err := e.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentQueriesAreCorrelated(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{Loader: loaderFor(&lengthEmbedder{})})
	_, err := e.Init(ctx)
	require.NoError(t, err)

	const callers = 50
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			vec, err := e.EmbedQuery(ctx, strings.Repeat("q", n+1))
			if err != nil {
				errs <- err
				return
			}
			if vec[0] != float32(n+1) {
				errs <- errors.New("received another caller's vector")
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func TestInitLoaderSeesCallerDeadline(t *testing.T) {
	released := make(chan struct{})
	loader := func(ctx context.Context) (embedder.Embedder, error) {
		<-ctx.Done()
		close(released)
		return nil, ctx.Err()
	}
	e := newEngine(t, Config{Loader: loader})

	tctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Init(tctx)
	require.ErrorIs(t, err, types.ErrEngineTimeout)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("loader kept running past the caller's deadline")
	}
}

func TestQuerySeesCallerDeadline(t *testing.T) {
	released := make(chan struct{}, 1)
	model := &deadlineEmbedder{released: released}
	e := newEngine(t, Config{Loader: loaderFor(model)})
	_, err := e.Init(context.Background())
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.EmbedQuery(tctx, "fever")
	require.ErrorIs(t, err, types.ErrEngineTimeout)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("query kept the worker busy past the caller's deadline")
	}
}

// deadlineEmbedder blocks each query until its context ends
type deadlineEmbedder struct {
	lengthEmbedder
	released chan struct{}
}

func (d *deadlineEmbedder) GenerateEmbedding(ctx context.Context, _ embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	<-ctx.Done()
	d.released <- struct{}{}
	return nil, ctx.Err()
}

func TestAbandonedReplyIsDropped(t *testing.T) {
	ctx := context.Background()
	model := &lengthEmbedder{delay: 100 * time.Millisecond}
	e := newEngine(t, Config{Loader: loaderFor(model)})
	_, err := e.Init(ctx)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = e.EmbedQuery(tctx, "a")
	require.ErrorIs(t, err, types.ErrEngineTimeout)

	vec, err := e.EmbedQuery(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, float32(4), vec[0])
}

func TestEmbedPanicIsReported(t *testing.T) {
	ctx := context.Background()
	model := &lengthEmbedder{}
	e := newEngine(t, Config{Loader: loaderFor(model)})
	_, err := e.Init(ctx)
	require.NoError(t, err)

	model.panic = true
	_, err = e.EmbedQuery(ctx, "fever")
	require.Error(t, err)

	_, err = e.EmbedBatch(ctx, []string{"fever"})
	require.Error(t, err)

	model.panic = false
	_, err = e.EmbedQuery(ctx, "fever")
	assert.NoError(t, err)
}

func TestClose(t *testing.T) {
	e := newEngine(t, Config{Loader: loaderFor(&lengthEmbedder{})})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	_, err := e.Init(context.Background())
	assert.ErrorIs(t, err, types.ErrEngineClosed)
	_, err = e.EmbedQuery(context.Background(), "fever")
	assert.ErrorIs(t, err, types.ErrEngineClosed)
}
