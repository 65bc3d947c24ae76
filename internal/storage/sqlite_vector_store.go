// Package storage provides the local passage index and query audit log.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // Import sqlite3 driver

	"rag-chatbot/internal/logging"
	"rag-chatbot/internal/models"
)

func init() {
	sqlite_vec.Auto()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore keeps passages in a sqlite-vec index and appends user
// queries to an audit table.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	dimension int
}

// NewSQLiteStore opens (or creates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Analytics writes arrive from many goroutines; sqlite allows one writer.
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initDB(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initDB() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS passages (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS query_log (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log (timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	// vec_passages is created on first insert when the dimension is known
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensureVecTable creates vec_passages for the given dimension. A store keeps
// one dimension for its lifetime.
func (s *SQLiteStore) ensureVecTable(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 {
		if s.dimension != dimension {
			return fmt.Errorf("cannot change embedding length from %d to %d", s.dimension, dimension)
		}
		return nil
	}

	query := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_passages USING vec0(
			id TEXT PRIMARY KEY,
			embedding FLOAT[%d] distance_metric=cosine
		)
	`, dimension)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create vec_passages table: %w", err)
	}

	s.dimension = dimension
	return nil
}

func (s *SQLiteStore) vecTableExists(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='vec_passages'").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check vec_passages existence: %w", err)
	}
	return n > 0, nil
}

// AddPassage inserts or replaces a passage and its embedding.
func (s *SQLiteStore) AddPassage(ctx context.Context, p *models.Passage, embedding []float32) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}

	if err := s.ensureVecTable(ctx, len(embedding)); err != nil {
		return err
	}

	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
		INSERT INTO passages (id, content, metadata)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			metadata = excluded.metadata
	`
	if _, err := tx.ExecContext(ctx, upsert, p.ID, p.Content, string(metadata)); err != nil {
		return fmt.Errorf("failed to upsert passage: %w", err)
	}

	// vec0 doesn't support UPDATE
	if _, err := tx.ExecContext(ctx, `DELETE FROM vec_passages WHERE id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to delete old vector: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO vec_passages (id, embedding) VALUES (?, ?)`, p.ID, EncodeVector(embedding)); err != nil {
		return fmt.Errorf("failed to insert passage vector: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SearchSimilar performs a KNN search. Score is cosine similarity.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, embedding []float32, topK int) ([]models.Passage, error) {
	exists, err := s.vecTableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return []models.Passage{}, nil
	}

	// sqlite-vec requires k as part of the MATCH expression
	query := `
		SELECT
			p.id,
			p.content,
			p.metadata,
			v.distance
		FROM vec_passages v
		JOIN passages p ON p.id = v.id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`

	rows, err := s.db.QueryContext(ctx, query, EncodeVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to perform vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []models.Passage{}
	for rows.Next() {
		var id, content, metadata string
		var distance float64

		if err := rows.Scan(&id, &content, &metadata, &distance); err != nil {
			logging.Component("storage").WithError(err).Warn("error scanning passage row")
			continue
		}

		p := models.Passage{ID: id, Content: content, Score: 1 - distance}
		if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
			logging.Component("storage").WithError(err).WithField("id", id).Warn("invalid passage metadata")
		}
		results = append(results, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

func (s *SQLiteStore) ListIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM passages ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list passages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan passage id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// DeleteBatch removes passages by id and returns the number of rows deleted.
func (s *SQLiteStore) DeleteBatch(ctx context.Context, ids []string) (any, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	exists, err := s.vecTableExists(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM passages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete passages: %w", err)
	}

	if exists {
		if _, err := tx.ExecContext(ctx, "DELETE FROM vec_passages WHERE id IN ("+placeholders+")", args...); err != nil {
			return nil, fmt.Errorf("failed to delete passage vectors: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}

// SaveQuery appends a user query to the audit log.
func (s *SQLiteStore) SaveQuery(ctx context.Context, rec models.AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_log (id, query, timestamp) VALUES (?, ?, ?)`,
		rec.ID, rec.Query, rec.Timestamp.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to insert query log: %w", err)
	}
	return nil
}
