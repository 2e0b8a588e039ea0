package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Dimension int // local and hash providers only
	CacheSize int
	Timeout   time.Duration
}

// WithDefaults fills unset fields with the defaults of the chosen provider.
// An empty provider selects the offline local model.
func (c Config) WithDefaults() Config {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}

	switch c.Provider {
	case ProviderLocal:
		c.Model = DefaultLocalModel
	case ProviderHash:
		c.Model = DefaultHashModel
	case ProviderOpenAI:
		c.Model = orDefault(c.Model, DefaultOpenAIModel)
		c.BaseURL = orDefault(c.BaseURL, DefaultOpenAIBaseURL)
	case ProviderJina:
		c.Model = orDefault(c.Model, DefaultJinaModel)
		c.BaseURL = orDefault(c.BaseURL, DefaultJinaBaseURL)
	case ProviderOllama:
		c.Model = orDefault(c.Model, DefaultOllamaModel)
		c.BaseURL = orDefault(c.BaseURL, DefaultOllamaBaseURL)
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// New creates an embedder with explicit configuration. Remote providers are
// not contacted; use Load to verify them.
func New(cfg Config) (Embedder, error) {
	cfg = cfg.WithDefaults()

	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch cfg.Provider {
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension, cache), nil
	case ProviderHash:
		return NewHashProvider(cfg.Dimension, cache), nil
	case ProviderOpenAI, ProviderJina, ProviderOllama:
		if cfg.APIKey == "" && cfg.Provider != ProviderOllama {
			return nil, fmt.Errorf("%w: %s requires an api key", ErrNoProviderEnabled, cfg.Provider)
		}
		return NewHTTPProvider(HTTPConfig{
			Provider: cfg.Provider,
			BaseURL:  cfg.BaseURL,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			Timeout:  cfg.Timeout,
		}, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// Load creates the embedder and makes sure it can produce vectors. Remote
// providers are probed once, which also fixes their dimension.
func Load(ctx context.Context, cfg Config) (Embedder, error) {
	emb, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if p, ok := emb.(*HTTPProvider); ok {
		if err := p.Probe(ctx); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("probe %s: %w", p.Provider(), err)
		}
	}
	return emb, nil
}
