// Package corpus loads the guideline documents that are indexed for search.
package corpus

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/dshills/guidesearch/pkg/types"
)

// bundled is the corpus shipped with the binary
//
//go:embed guidelines.json
var bundled []byte

// Fetcher retrieves the corpus. Failures to read the source are reported as
// types.ErrCorpusFetch and malformed content as types.ErrInvalidCorpus.
type Fetcher func(ctx context.Context) ([]types.Guideline, error)

// Bundled returns a Fetcher for the embedded corpus
func Bundled() Fetcher {
	return func(ctx context.Context) ([]types.Guideline, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrCorpusFetch, err)
		}
		return Parse(bundled)
	}
}

// File returns a Fetcher reading the corpus from a JSON file
func File(path string) Fetcher {
	return func(ctx context.Context) ([]types.Guideline, error) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrCorpusFetch, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrCorpusFetch, err)
		}
		return Parse(data)
	}
}

// FromPath returns File(path), or Bundled when path is empty
func FromPath(path string) Fetcher {
	if path == "" {
		return Bundled()
	}
	return File(path)
}

// Parse decodes and validates a JSON array of guidelines. The whole corpus
// is rejected if any document is invalid or an id repeats.
func Parse(data []byte) ([]types.Guideline, error) {
	var guidelines []types.Guideline
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&guidelines); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidCorpus, err)
	}
	if len(guidelines) == 0 {
		return nil, fmt.Errorf("%w: no documents", types.ErrInvalidCorpus)
	}

	seen := make(map[string]struct{}, len(guidelines))
	for i := range guidelines {
		g := &guidelines[i]
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("%w: document %d: %w", types.ErrInvalidCorpus, i, err)
		}
		if _, dup := seen[g.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", types.ErrInvalidCorpus, g.ID)
		}
		seen[g.ID] = struct{}{}
	}
	return guidelines, nil
}

// Hash fingerprints the corpus content. Vectors computed for one hash are
// stale for any other.
func Hash(guidelines []types.Guideline) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for i := range guidelines {
		_ = enc.Encode(&guidelines[i])
	}
	return hex.EncodeToString(h.Sum(nil))
}
