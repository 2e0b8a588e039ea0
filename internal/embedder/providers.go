package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Provider configuration
const (
	ProviderLocal  = "local"
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderJina   = "jina"
	ProviderOllama = "ollama"

	// Default models
	DefaultLocalModel  = "feature-hash-v1"
	DefaultHashModel   = "sha384-tile"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOllamaModel = "nomic-embed-text"

	// Default endpoints of OpenAI-compatible embedding APIs
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultJinaBaseURL   = "https://api.jina.ai/v1"
	DefaultOllamaBaseURL = "http://localhost:11434/v1"

	// Dimensions
	LocalDimension  = 384
	OpenAIDimension = 1536
	JinaDimension   = 1024

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100
)

// HTTPConfig configures an OpenAI-compatible embedding endpoint
type HTTPConfig struct {
	Provider string // Name reported by Provider(); defaults to "openai"
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// HTTPProvider implements Embedder against any OpenAI-compatible
// /embeddings endpoint (OpenAI, Jina, Ollama, llama.cpp server)
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	cache      *Cache

	mu        sync.Mutex
	dimension int
}

// NewHTTPProvider creates an embedder for an OpenAI-compatible endpoint.
// The dimension is learned from the first response; Probe forces that.
func NewHTTPProvider(cfg HTTPConfig, cache *Cache) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url not set", ErrNoProviderEnabled)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model not set", ErrNoProviderEnabled)
	}
	name := cfg.Provider
	if name == "" {
		name = ProviderOpenAI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache: cache,
	}, nil
}

// Probe embeds a fixed text to check the endpoint and learn the dimension
func (h *HTTPProvider) Probe(ctx context.Context) error {
	_, err := h.GenerateEmbedding(ctx, EmbeddingRequest{Text: "probe"})
	return err
}

func (h *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if h.cache != nil {
		if emb, ok := h.cache.Get(req.Text); ok {
			return emb, nil
		}
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (h *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	embeddings, err := retry(ctx, defaultBackoff, func(ctx context.Context) ([]*Embedding, error) {
		return h.callAPI(ctx, req.Texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}

	if len(embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrProviderFailed, len(embeddings), len(req.Texts))
	}

	if err := h.checkDimensions(embeddings); err != nil {
		return nil, err
	}

	if h.cache != nil {
		for i, emb := range embeddings {
			h.cache.Set(req.Texts[i], emb)
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   h.name,
		Model:      h.model,
	}, nil
}

// checkDimensions pins the dimension on first use and rejects deviations
func (h *HTTPProvider) checkDimensions(embeddings []*Embedding) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, emb := range embeddings {
		if h.dimension == 0 {
			h.dimension = emb.Dimension
		}
		if emb.Dimension == 0 || emb.Dimension != h.dimension {
			return fmt.Errorf("%w: embedding %d has %d dimensions, want %d",
				ErrProviderFailed, i, emb.Dimension, h.dimension)
		}
	}
	return nil
}

func (h *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input": texts,
		"model": h.model,
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		// Client errors other than rate limiting will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	sort.SliceStable(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  h.name,
			Model:     h.model,
		}
	}

	return embeddings, nil
}

func (h *HTTPProvider) Dimension() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dimension
}

func (h *HTTPProvider) Provider() string {
	return h.name
}

func (h *HTTPProvider) Model() string {
	return h.model
}

func (h *HTTPProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}
