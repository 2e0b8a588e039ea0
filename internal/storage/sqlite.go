package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/guidesearch/pkg/types"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// Ensure SQLiteStorage implements the interface.
var _ Storage = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single connection: SQLite has one writer and :memory: databases are per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance at dbPath.
// The parent directory is created when missing.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %w", types.ErrStorage, err)
		}
	}

	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", types.ErrStorage, err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: failed to apply migrations: %w", types.ErrStorage, err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *SQLiteStorage) Path() string {
	return s.path
}

// Documents returns the document store backed by this database
func (s *SQLiteStorage) Documents() DocumentStore {
	return &sqliteDocuments{db: s.db}
}

// Vectors returns the vector store backed by this database
func (s *SQLiteStorage) Vectors() VectorStore {
	return &sqliteVectors{db: s.db}
}

// storageErr tags err as a persistence failure
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrStorage, op, err)
}

// Document operations

type sqliteDocuments struct {
	db *sql.DB
}

const guidelineColumns = `id, title, body, tags, speech_text, nutrition_tags, action_type`

func (d *sqliteDocuments) PutAll(ctx context.Context, guidelines []types.Guideline) error {
	if len(guidelines) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin put guidelines", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO guidelines (`+guidelineColumns+`, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			tags = excluded.tags,
			speech_text = excluded.speech_text,
			nutrition_tags = excluded.nutrition_tags,
			action_type = excluded.action_type,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return storageErr("prepare put guidelines", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, g := range guidelines {
		tags, err := encodeStrings(g.Tags)
		if err != nil {
			return fmt.Errorf("encode tags of %q: %w", g.ID, err)
		}
		nutrition, err := encodeStrings(g.NutritionTags)
		if err != nil {
			return fmt.Errorf("encode nutrition tags of %q: %w", g.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			g.ID, g.Title, g.Text, tags, g.SpeechText, nutrition, g.ActionType, now, now); err != nil {
			return storageErr(fmt.Sprintf("put guideline %q", g.ID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit put guidelines", err)
	}
	return nil
}

func (d *sqliteDocuments) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM guidelines").Scan(&n); err != nil {
		return 0, storageErr("count guidelines", err)
	}
	return n, nil
}

func (d *sqliteDocuments) GetAll(ctx context.Context) ([]types.Guideline, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT "+guidelineColumns+" FROM guidelines ORDER BY seq")
	if err != nil {
		return nil, storageErr("list guidelines", err)
	}
	defer func() { _ = rows.Close() }()

	return scanGuidelines(rows)
}

func (d *sqliteDocuments) GetMany(ctx context.Context, ids []string) ([]types.Guideline, error) {
	if len(ids) == 0 {
		return []types.Guideline{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+guidelineColumns+" FROM guidelines WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, storageErr("get guidelines", err)
	}
	defer func() { _ = rows.Close() }()

	found, err := scanGuidelines(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]types.Guideline, len(found))
	for _, g := range found {
		byID[g.ID] = g
	}

	// Preserve the caller's order so scores can be attached by position
	results := make([]types.Guideline, 0, len(ids))
	for _, id := range ids {
		if g, ok := byID[id]; ok {
			results = append(results, g)
		}
	}
	return results, nil
}

// scanGuidelines reads rows selected with guidelineColumns
func scanGuidelines(rows *sql.Rows) ([]types.Guideline, error) {
	guidelines := make([]types.Guideline, 0)
	for rows.Next() {
		var g types.Guideline
		var tags, nutrition string
		if err := rows.Scan(&g.ID, &g.Title, &g.Text, &tags, &g.SpeechText, &nutrition, &g.ActionType); err != nil {
			return nil, storageErr("scan guideline", err)
		}
		var err error
		if g.Tags, err = decodeStrings(tags); err != nil {
			return nil, fmt.Errorf("decode tags of %q: %w", g.ID, err)
		}
		if g.Tags == nil {
			g.Tags = []string{}
		}
		if g.NutritionTags, err = decodeStrings(nutrition); err != nil {
			return nil, fmt.Errorf("decode nutrition tags of %q: %w", g.ID, err)
		}
		guidelines = append(guidelines, g)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate guidelines", err)
	}
	return guidelines, nil
}

func encodeStrings(values []string) (string, error) {
	if len(values) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeStrings returns nil for an empty list
func decodeStrings(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

// Vector operations

type sqliteVectors struct {
	db *sql.DB
}

func (v *sqliteVectors) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&n); err != nil {
		return 0, storageErr("count vectors", err)
	}
	return n, nil
}

func (v *sqliteVectors) ClearAndReplaceAll(ctx context.Context, gen *Generation, records []types.VectorRecord) error {
	if gen == nil {
		gen = &Generation{}
	}
	dimension, err := validateRecords(records)
	if err != nil {
		return err
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin replace vectors", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vectors"); err != nil {
		return storageErr("clear vectors", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM vector_generations"); err != nil {
		return storageErr("clear generations", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO vectors (guideline_id, vector, dimension, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return storageErr("prepare insert vector", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.GuidelineID, serializeVector(rec.Vector), len(rec.Vector), now); err != nil {
			return storageErr(fmt.Sprintf("insert vector for %q", rec.GuidelineID), err)
		}
	}

	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}
	gen.Dimension = dimension
	gen.VectorCount = len(records)
	gen.CreatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vector_generations (generation_id, model, dimension, corpus_hash, vector_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, gen.ID, gen.Model, gen.Dimension, gen.CorpusHash, gen.VectorCount, now); err != nil {
		return storageErr("record generation", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit replace vectors", err)
	}
	return nil
}

func (v *sqliteVectors) GetAll(ctx context.Context) ([]types.VectorRecord, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT guideline_id, vector FROM vectors ORDER BY id")
	if err != nil {
		return nil, storageErr("list vectors", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]types.VectorRecord, 0)
	for rows.Next() {
		var rec types.VectorRecord
		var blob []byte
		if err := rows.Scan(&rec.GuidelineID, &blob); err != nil {
			return nil, storageErr("scan vector", err)
		}
		rec.Vector = deserializeVector(blob)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate vectors", err)
	}
	return records, nil
}

func (v *sqliteVectors) Generation(ctx context.Context) (*Generation, error) {
	var gen Generation
	err := v.db.QueryRowContext(ctx, `
		SELECT generation_id, model, dimension, corpus_hash, vector_count, created_at
		FROM vector_generations
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&gen.ID, &gen.Model, &gen.Dimension, &gen.CorpusHash, &gen.VectorCount, &gen.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("read generation", err)
	}
	return &gen, nil
}
