package embedder

import (
	"crypto/sha256"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 1000

// Cache keeps recent embeddings keyed by the SHA-256 of their text. It hands
// out and stores copies, so callers may modify returned vectors.
type Cache struct {
	entries *lru.Cache[[sha256.Size]byte, *Embedding]
}

// NewCache creates a cache holding at most size embeddings
// (defaultCacheSize when size <= 0)
func NewCache(size int) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[[sha256.Size]byte, *Embedding](size)
	if err != nil {
		// lru.New only fails for non-positive sizes
		panic(err)
	}
	return &Cache{entries: entries}
}

// Get returns a copy of the embedding cached for text
func (c *Cache) Get(text string) (*Embedding, bool) {
	emb, ok := c.entries.Get(sha256.Sum256([]byte(text)))
	if !ok {
		return nil, false
	}
	return emb.clone(), true
}

// Set caches a copy of emb for text, evicting the least recently used entry
// when full
func (c *Cache) Set(text string, emb *Embedding) {
	c.entries.Add(sha256.Sum256([]byte(text)), emb.clone())
}

// Len returns the number of cached embeddings
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.entries.Purge()
}

func (e *Embedding) clone() *Embedding {
	cp := *e
	cp.Vector = append([]float32(nil), e.Vector...)
	return &cp
}
