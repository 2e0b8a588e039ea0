package embedder

import (
	"context"
	"crypto/sha512"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/dshills/guidesearch/internal/similarity"
)

// Feature weights of the local model
const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// LocalProvider is an offline embedder based on feature hashing. Each
// lowercased word and each character trigram of a word is hashed into a
// signed bucket; the result is L2-normalised. Texts sharing words or word
// fragments therefore score higher under cosine similarity.
type LocalProvider struct {
	dimension int
	cache     *Cache
}

// NewLocalProvider creates a local embedder with the given dimension
// (0 selects LocalDimension)
func NewLocalProvider(dimension int, cache *Cache) *LocalProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{dimension: dimension, cache: cache}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cachedEmbedding(l.cache, req.Text, func() *Embedding {
		return &Embedding{
			Vector:    l.embed(req.Text),
			Dimension: l.dimension,
			Provider:  ProviderLocal,
			Model:     DefaultLocalModel,
		}
	}), nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateBatch(ctx, l, req)
}

// embed builds the hashed feature vector of text
func (l *LocalProvider) embed(text string) []float32 {
	vec := make([]float32, l.dimension)
	for _, token := range Tokenize(text) {
		l.addFeature(vec, "w:"+token, wordWeight)

		runes := []rune("#" + token + "#")
		for i := 0; i+3 <= len(runes); i++ {
			l.addFeature(vec, "t:"+string(runes[i:i+3]), trigramWeight)
		}
	}
	return similarity.Normalize(vec)
}

func (l *LocalProvider) addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(l.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return DefaultLocalModel
}

func (l *LocalProvider) Close() error {
	return nil
}

// Tokenize splits text into lowercased words. A word is a run of letters,
// digits and combining marks, so scripts that use vowel signs (Bengali,
// Devanagari) keep their words whole.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})
}

// HashProvider maps a text to its SHA-384 digest scaled to [0,1] and tiled
// to the dimension. It is deterministic but carries no meaning; identical
// texts match and nothing else does reliably.
type HashProvider struct {
	dimension int
	cache     *Cache
}

// NewHashProvider creates a digest embedder (0 selects LocalDimension)
func NewHashProvider(dimension int, cache *Cache) *HashProvider {
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &HashProvider{dimension: dimension, cache: cache}
}

func (p *HashProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cachedEmbedding(p.cache, req.Text, func() *Embedding {
		digest := sha512.Sum384([]byte(req.Text))
		vec := make([]float32, p.dimension)
		for i := range vec {
			vec[i] = float32(digest[i%len(digest)]) / 255.0
		}
		return &Embedding{
			Vector:    vec,
			Dimension: p.dimension,
			Provider:  ProviderHash,
			Model:     DefaultHashModel,
		}
	}), nil
}

func (p *HashProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	return generateBatch(ctx, p, req)
}

func (p *HashProvider) Dimension() int {
	return p.dimension
}

func (p *HashProvider) Provider() string {
	return ProviderHash
}

func (p *HashProvider) Model() string {
	return DefaultHashModel
}

func (p *HashProvider) Close() error {
	return nil
}

// cachedEmbedding returns the cached embedding of text or computes and
// stores it
func cachedEmbedding(cache *Cache, text string, compute func() *Embedding) *Embedding {
	if cache != nil {
		if emb, ok := cache.Get(text); ok {
			return emb
		}
	}
	emb := compute()
	if cache != nil {
		cache.Set(text, emb)
	}
	return emb
}

// generateBatch embeds texts one by one for providers without a batch API
func generateBatch(ctx context.Context, e Embedder, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   e.Provider(),
		Model:      e.Model(),
	}, nil
}
