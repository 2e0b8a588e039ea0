// Package storage provides local persistence for the guideline corpus and its
// embeddings.
//
// The storage layer manages:
//   - Guidelines (the document store)
//   - One vector per guideline (the vector store)
//   - The generation stamp of the current vector set
//
// # Database Schema
//
// Tables:
//   - guidelines: corpus documents, ordered by seed order
//   - vectors: float32 blobs keyed by guideline id
//   - vector_generations: model tag, dimension and corpus hash of the vector set
//   - schema_version: applied migrations
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.guidesearch/guidesearch.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	if n, _ := store.Documents().Count(ctx); n == 0 {
//	    err = store.Documents().PutAll(ctx, guidelines)
//	}
//
// # Bulk Replace
//
// The vector set is only ever replaced as a whole. ClearAndReplaceAll deletes
// every stored vector, inserts the new set and records its generation in a
// single transaction, so readers see either the old set or the new one:
//
//	gen := &storage.Generation{Model: "local/feature-hash@384"}
//	err := store.Vectors().ClearAndReplaceAll(ctx, gen, records)
//
// # Build Modes
//
// The default build uses the pure Go modernc.org/sqlite driver. Building with
// the sqlite_cgo tag switches to github.com/mattn/go-sqlite3:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...
//
// # In-Memory Storage
//
// MemoryStorage implements the same interfaces without persistence. The
// bootstrap controller falls back to it when the database fails, and tests
// use it as a fake.
package storage
