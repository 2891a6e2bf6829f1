// Package sqlite provides the SQLite implementation of the vector.Store interface.
//
// SQLite has no native vector operations, so embeddings are stored as
// JSON strings in TEXT columns and similarity is computed in memory with
// cosine similarity. Suitable for local development and small datasets.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/vector"
)

// Client implements vector.Store using SQLite as the backend.
type Client struct {
	db        *sql.DB
	tableName string
	ownsDB    bool
}

// Config contains configuration for creating a SQLite vector store.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// TableName is the name of the table storing records (default "semantic_records").
	TableName string
}

// NewClient creates a new SQLite vector store.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewSQLiteClient: %w", err)
	}

	client, err := NewClientWithDB(db, cfg.TableName)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	client.ownsDB = true
	return client, nil
}

// NewClientWithDB creates a vector store over an existing connection.
// The caller retains ownership of the connection; Close is a no-op.
func NewClientWithDB(db *sql.DB, tableName string) (*Client, error) {
	if tableName == "" {
		tableName = "semantic_records"
	}

	client := &Client{
		db:        db,
		tableName: tableName,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`, c.tableName)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
	}

	return nil
}

// Upsert inserts or replaces a record by ID.
func (c *Client) Upsert(ctx context.Context, record *vector.Record) error {
	embeddingJSON, err := json.Marshal(record.Embedding)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, text, embedding, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, c.tableName)

	now := time.Now()
	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Text,
		string(embeddingJSON),
		string(metadataJSON),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Search performs similarity search using in-memory cosine similarity
// over all rows passing the metadata filters.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *vector.SearchOptions) ([]*vector.Record, error) {
	if opts == nil {
		opts = &vector.SearchOptions{}
	}

	query := fmt.Sprintf(`
		SELECT id, text, embedding, metadata, created_at, updated_at
		FROM %s
		ORDER BY id
	`, c.tableName)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*vector.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		if !matchesFilters(record.Metadata, opts.Filters) {
			continue
		}

		record.Score = cosineSimilarity(embedding, record.Embedding)
		if record.Score >= opts.MinScore {
			records = append(records, record)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScore(records)
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	return records, nil
}

// Delete removes a record by ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.tableName)

	result, err := c.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("Delete: record %s not found", id)
	}

	return nil
}

// Close closes the database connection when this client opened it.
func (c *Client) Close() error {
	if c.ownsDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}

func scanRecord(rows *sql.Rows) (*vector.Record, error) {
	var record vector.Record
	var embeddingStr, metadataStr string

	err := rows.Scan(
		&record.ID,
		&record.Text,
		&embeddingStr,
		&metadataStr,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(embeddingStr), &record.Embedding); err != nil {
		return nil, fmt.Errorf("parse embedding: %w", err)
	}
	if metadataStr != "" {
		if err := json.Unmarshal([]byte(metadataStr), &record.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}

	return &record, nil
}

func matchesFilters(metadata, filters map[string]interface{}) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByScore(records []*vector.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Score > records[j].Score
	})
}
