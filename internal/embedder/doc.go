// Package embedder turns guideline text into fixed-length vectors.
//
// Three kinds of provider implement the Embedder interface:
//
//   - local: an offline feature-hashing model. Words and character trigrams
//     are hashed into a 384-dimensional signed vector and normalised, so texts
//     sharing words or word fragments (in any script) are close under cosine
//     similarity. This is the default.
//   - hash: a SHA-384 digest tiled to the dimension. Deterministic, without
//     semantics; only identical texts match.
//   - openai, jina, ollama: any OpenAI-compatible /embeddings endpoint, with
//     exponential backoff on transient failures.
//
// # Basic Usage
//
//	emb, err := embedder.Load(ctx, embedder.Config{Provider: "local"})
//	if err != nil {
//	    return err
//	}
//	defer emb.Close()
//
//	result, err := emb.GenerateEmbedding(ctx, embedder.EmbeddingRequest{
//	    Text: "heavy bleeding after delivery",
//	})
//
// # Model Tag
//
// ModelTag returns "provider/model@dimension". Stored vectors are stamped
// with it and are reused only by an embedder with the same tag.
//
// # Caching
//
// Providers share an optional LRU Cache keyed by the SHA-256 of the text.
// Cached vectors are copied on the way in and out.
package embedder
