package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/guidesearch/internal/similarity"
	"github.com/dshills/guidesearch/internal/storage"
	"github.com/dshills/guidesearch/pkg/types"
)

// Defaults
const (
	DefaultTopK             = similarity.DefaultTopK
	DefaultQueryTimeout     = 10 * time.Second
	DefaultMaxQueryTimeouts = 3
	DefaultKeywordLimit     = 20
	DefaultCacheSize        = 1000
	subscriberBuffer        = 8
)

// QueryEmbedder turns a query into a vector. The engine implements it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RegenerateFunc re-embeds the corpus and installs the new working set
// through ReplaceWorkingSet
type RegenerateFunc func(ctx context.Context) error

// Config contains configuration for the searcher
type Config struct {
	Embedder         QueryEmbedder
	Logger           *zap.Logger
	QueryTimeout     time.Duration // Bound of one query embedding (default: 10s)
	MaxQueryTimeouts int           // Consecutive timeouts before basic mode (default: 3)
	KeywordLimit     int           // Maximum keyword matches returned (default: 20)
	CacheSize        int           // Cached query results (default: 1000)
}

// Searcher answers queries by vector similarity when the model is ready and
// by keyword matching otherwise. It starts UNINITIALIZED and is driven into
// AI_READY or BASIC_MODE by the bootstrap controller.
type Searcher struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	status    types.StatusEvent
	docs      storage.DocumentStore
	working   []similarity.Candidate
	dimension int
	timeouts  int
	epoch     uint64 // bumped whenever the working set changes

	regenMu    sync.Mutex
	regenerate RegenerateFunc

	subMu       sync.Mutex
	subscribers map[int]chan types.StatusEvent
	nextSub     int

	cache *lru.Cache[[32]byte, []types.SearchResult]

	latestMu     sync.Mutex
	latestCancel context.CancelCauseFunc
}

// New creates a searcher in the UNINITIALIZED state
func New(cfg Config) *Searcher {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.MaxQueryTimeouts <= 0 {
		cfg.MaxQueryTimeouts = DefaultMaxQueryTimeouts
	}
	if cfg.KeywordLimit <= 0 {
		cfg.KeywordLimit = DefaultKeywordLimit
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[[32]byte, []types.SearchResult](cfg.CacheSize)
	if err != nil {
		// This should never happen with valid size parameter
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		cfg:         cfg,
		logger:      logger.Named("searcher"),
		status:      types.StatusEvent{Mode: types.ModeUninitialized, At: time.Now()},
		subscribers: make(map[int]chan types.StatusEvent),
		cache:       cache,
	}
}

// Status returns the current status
func (s *Searcher) Status() types.StatusEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Searcher) current() (types.Mode, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Mode, s.epoch
}

// Subscribe returns a stream of status changes. The current status is
// delivered first. A slow subscriber loses older events, never the latest.
func (s *Searcher) Subscribe() (<-chan types.StatusEvent, func()) {
	ch := make(chan types.StatusEvent, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	send(ch, s.Status())
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
	return ch, cancel
}

// send delivers ev without blocking, dropping the oldest queued event if full
func send(ch chan types.StatusEvent, ev types.StatusEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// setStatus records a transition and notifies subscribers. Callers must
// not hold s.mu.
func (s *Searcher) setStatus(ev types.StatusEvent) {
	ev.At = time.Now()

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.mu.Lock()
	s.status = ev
	s.mu.Unlock()

	for _, ch := range s.subscribers {
		send(ch, ev)
	}

	s.logger.Info("search mode changed",
		zap.String("mode", string(ev.Mode)),
		zap.String("reason", ev.Reason),
		zap.String("model", ev.Model),
	)
}

// BeginInitializing moves the searcher to INITIALIZING
func (s *Searcher) BeginInitializing() {
	s.setStatus(types.StatusEvent{Mode: types.ModeInitializing})
}

// EnterAIMode installs the working set and moves the searcher to AI_READY
func (s *Searcher) EnterAIMode(docs storage.DocumentStore, records []types.VectorRecord, model string) error {
	if err := s.install(docs, records); err != nil {
		return err
	}
	s.setStatus(types.StatusEvent{Mode: types.ModeAIReady, Model: model})
	return nil
}

// EnterBasicMode switches to keyword search over docs for the rest of the
// session
func (s *Searcher) EnterBasicMode(docs storage.DocumentStore, reason string) {
	s.mu.Lock()
	if docs != nil {
		s.docs = docs
	}
	s.working = nil
	s.dimension = 0
	s.epoch++
	s.mu.Unlock()
	s.cache.Purge()

	s.setStatus(types.StatusEvent{Mode: types.ModeBasic, Reason: reason})
}

// ReplaceWorkingSet swaps the vectors used for ranking, e.g. after
// regeneration. The mode is unchanged.
func (s *Searcher) ReplaceWorkingSet(docs storage.DocumentStore, records []types.VectorRecord) error {
	return s.install(docs, records)
}

// SetRegenerator registers the hook used to recover from a dimension
// mismatch between query and stored vectors
func (s *Searcher) SetRegenerator(fn RegenerateFunc) {
	s.regenMu.Lock()
	s.regenerate = fn
	s.regenMu.Unlock()
}

func (s *Searcher) install(docs storage.DocumentStore, records []types.VectorRecord) error {
	working := make([]similarity.Candidate, len(records))
	dimension := 0
	for i, rec := range records {
		if i == 0 {
			dimension = rec.Dimension()
		} else if rec.Dimension() != dimension {
			return fmt.Errorf("%w: working set mixes %d and %d dimensions",
				types.ErrDimensionMismatch, dimension, rec.Dimension())
		}
		working[i] = similarity.Candidate{ID: rec.GuidelineID, Vector: rec.Vector}
	}

	s.mu.Lock()
	if docs != nil {
		s.docs = docs
	}
	s.working = working
	s.dimension = dimension
	s.timeouts = 0
	s.epoch++
	s.mu.Unlock()
	s.cache.Purge()
	return nil
}

// Search returns the guidelines most relevant to query. It never fails on
// engine trouble: timeouts and engine errors yield an empty result. Before
// the searcher is ready every query returns an empty result.
func (s *Searcher) Search(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.SearchResult{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	mode, epoch := s.current()
	if !mode.Ready() {
		return []types.SearchResult{}, nil
	}

	key := cacheKey(mode, query, topK)
	if cached, ok := s.cache.Get(key); ok {
		return copyResults(cached), nil
	}

	var results []types.SearchResult
	var err error
	switch mode {
	case types.ModeAIReady:
		results, err = s.vectorSearch(ctx, query, topK)
	default:
		results, err = s.keywordSearch(ctx, query)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("search",
		zap.String("mode", string(mode)),
		zap.Int("top_k", topK),
		zap.Strings("ids", types.IDs(results)),
	)

	// Only cache answers ranked against the working set still installed
	if nowMode, nowEpoch := s.current(); len(results) > 0 && nowMode == mode && nowEpoch == epoch {
		s.cache.Add(key, copyResults(results))
	}
	return results, nil
}

// Latest runs Search after cancelling the previous in-flight Latest call.
// The cancelled call returns types.ErrSuperseded.
func (s *Searcher) Latest(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	ctx, cancel := context.WithCancelCause(ctx)

	s.latestMu.Lock()
	if s.latestCancel != nil {
		s.latestCancel(types.ErrSuperseded)
	}
	s.latestCancel = cancel
	s.latestMu.Unlock()

	defer cancel(nil)

	results, err := s.Search(ctx, query, topK)
	if cause := context.Cause(ctx); errors.Is(cause, types.ErrSuperseded) {
		return nil, types.ErrSuperseded
	}
	return results, err
}

// vectorSearch ranks the working set against the query vector
func (s *Searcher) vectorSearch(ctx context.Context, query string, topK int) ([]types.SearchResult, error) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	vec, err := s.cfg.Embedder.EmbedQuery(qctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, types.ErrEngineTimeout) {
			s.recordTimeout()
			return []types.SearchResult{}, nil
		}
		s.logger.Warn("query embedding failed", zap.Error(err))
		return []types.SearchResult{}, nil
	}
	s.resetTimeouts()

	s.mu.RLock()
	dimension := s.dimension
	s.mu.RUnlock()

	if len(vec) != dimension {
		if !s.recoverDimension(ctx, len(vec), dimension) {
			return []types.SearchResult{}, nil
		}
	}

	s.mu.RLock()
	docs := s.docs
	working := s.working
	s.mu.RUnlock()

	scored := similarity.Rank(vec, working, topK)
	if len(scored) == 0 {
		return []types.SearchResult{}, nil
	}

	ids := make([]string, len(scored))
	for i, sc := range scored {
		ids[i] = sc.ID
	}
	guidelines, err := docs.GetMany(ctx, ids)
	if err != nil {
		s.logger.Warn("resolving vector hits failed", zap.Error(err))
		return []types.SearchResult{}, nil
	}

	byID := make(map[string]types.Guideline, len(guidelines))
	for _, g := range guidelines {
		byID[g.ID] = g
	}

	results := make([]types.SearchResult, 0, len(scored))
	for _, sc := range scored {
		g, ok := byID[sc.ID]
		if !ok {
			continue
		}
		results = append(results, types.SearchResult{
			Guideline: g,
			Rank:      len(results) + 1,
			Score:     sc.Score,
		})
	}
	return results, nil
}

// recoverDimension runs the regeneration hook once when the query vector
// does not fit the working set. It reports whether the vectors now match.
func (s *Searcher) recoverDimension(ctx context.Context, got, want int) bool {
	s.logger.Warn("query vector does not match stored vectors",
		zap.Int("query_dimension", got),
		zap.Int("stored_dimension", want),
	)

	s.regenMu.Lock()
	defer s.regenMu.Unlock()

	// Another query may have regenerated while we waited
	s.mu.RLock()
	current := s.dimension
	s.mu.RUnlock()
	if current == got {
		return true
	}

	if s.regenerate == nil {
		return false
	}
	if err := s.regenerate(ctx); err != nil {
		s.logger.Error("regeneration after dimension mismatch failed", zap.Error(err))
		return false
	}

	s.mu.RLock()
	current = s.dimension
	s.mu.RUnlock()
	return current == got
}

func (s *Searcher) recordTimeout() {
	s.mu.Lock()
	s.timeouts++
	n := s.timeouts
	s.mu.Unlock()

	s.logger.Warn("query embedding timed out",
		zap.Int("consecutive", n),
		zap.Duration("timeout", s.cfg.QueryTimeout),
	)
	if n >= s.cfg.MaxQueryTimeouts && s.Status().Mode == types.ModeAIReady {
		s.EnterBasicMode(nil, fmt.Sprintf("%d consecutive query timeouts", n))
	}
}

func (s *Searcher) resetTimeouts() {
	s.mu.Lock()
	s.timeouts = 0
	s.mu.Unlock()
}

// keywordMatch is a document with the number of query terms it contains
type keywordMatch struct {
	guideline types.Guideline
	hits      int
}

// keywordSearch matches the whole query and each of its words as
// case-insensitive substrings of title, text, tags and speech text
func (s *Searcher) keywordSearch(ctx context.Context, query string) ([]types.SearchResult, error) {
	s.mu.RLock()
	docs := s.docs
	s.mu.RUnlock()
	if docs == nil {
		return []types.SearchResult{}, nil
	}

	guidelines, err := docs.GetAll(ctx)
	if err != nil {
		s.logger.Warn("keyword search could not read documents", zap.Error(err))
		return []types.SearchResult{}, nil
	}

	terms := keywordTerms(query)
	matches := make([]keywordMatch, 0)
	for _, g := range guidelines {
		haystack := g.SearchableText()
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}
		if hits > 0 {
			matches = append(matches, keywordMatch{guideline: g, hits: hits})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].hits > matches[j].hits
	})
	if len(matches) > s.cfg.KeywordLimit {
		matches = matches[:s.cfg.KeywordLimit]
	}

	results := make([]types.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = types.SearchResult{
			Guideline: m.guideline,
			Rank:      i + 1,
			Score:     float64(m.hits) / float64(len(terms)),
		}
	}
	return results, nil
}

// keywordTerms returns the lowercased query followed by its distinct words
func keywordTerms(query string) []string {
	query = strings.ToLower(query)
	terms := []string{query}
	seen := map[string]bool{query: true}
	for _, word := range strings.Fields(query) {
		if !seen[word] {
			seen[word] = true
			terms = append(terms, word)
		}
	}
	return terms
}

// cacheKey computes a unique hash for a query in a mode
func cacheKey(mode types.Mode, query string, topK int) [32]byte {
	var data strings.Builder
	data.WriteString(string(mode))
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", topK))
	data.WriteString("|")
	data.WriteString(query)
	return sha256.Sum256([]byte(data.String()))
}

// copyResults creates a deep copy of results
func copyResults(src []types.SearchResult) []types.SearchResult {
	dst := make([]types.SearchResult, len(src))
	for i, r := range src {
		dst[i] = r
		dst[i].Guideline = r.Guideline.Clone()
	}
	return dst
}
