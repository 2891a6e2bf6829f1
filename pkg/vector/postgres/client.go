// Package postgres provides the PostgreSQL + pgvector implementation of
// the vector.Store interface.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/mindweave/mindcore-go/pkg/vector"
)

// Client implements vector.Store over PostgreSQL with pgvector.
type Client struct {
	db         *sql.DB
	tableName  string
	dimensions int
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	TableName  string
	Dimensions int
	SSLMode    string
}

// NewClient creates a new PostgreSQL vector store.
func NewClient(cfg *Config) (*Client, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewPostgresClient: %w", err)
	}

	tableName := cfg.TableName
	if tableName == "" {
		tableName = "semantic_records"
	}

	client := &Client{
		db:         db,
		tableName:  tableName,
		dimensions: cfg.Dimensions,
	}

	if err := client.initTables(context.Background()); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("initTables: create extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`, c.tableName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: create table: %w", err)
	}

	return nil
}

// Upsert inserts or replaces a record by ID.
func (c *Client) Upsert(ctx context.Context, record *vector.Record) error {
	metadataJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, text, embedding, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
	`, c.tableName)

	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Text,
		vectorToString(record.Embedding),
		string(metadataJSON),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Search performs vector search using pgvector's cosine distance operator.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *vector.SearchOptions) ([]*vector.Record, error) {
	if opts == nil {
		opts = &vector.SearchOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	whereClause, args := buildMetadataWhere(opts.Filters, 2)

	// <=> is cosine distance, so similarity is 1 - distance.
	query := fmt.Sprintf(`
		SELECT id, text, embedding::text, metadata, created_at, updated_at,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, c.tableName, whereClause, len(args)+2)

	allArgs := []interface{}{vectorToString(embedding)}
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*vector.Record
	for rows.Next() {
		var record vector.Record
		var embeddingStr string
		var metadataStr sql.NullString

		err := rows.Scan(
			&record.ID,
			&record.Text,
			&embeddingStr,
			&metadataStr,
			&record.CreatedAt,
			&record.UpdatedAt,
			&record.Score,
		)
		if err != nil {
			return nil, fmt.Errorf("Search: %w", err)
		}

		record.Embedding = stringToVector(embeddingStr)
		if metadataStr.Valid && metadataStr.String != "" {
			if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("Search: parse metadata: %w", err)
			}
		}

		if record.Score >= opts.MinScore {
			records = append(records, &record)
		}
	}

	return records, rows.Err()
}

// Delete removes a record by ID.
func (c *Client) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", c.tableName)

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

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// buildMetadataWhere builds a JSONB equality WHERE clause starting at the
// given parameter index.
func buildMetadataWhere(filters map[string]interface{}, startIndex int) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}
	argIndex := startIndex

	for k, v := range filters {
		conditions = append(conditions, fmt.Sprintf("metadata->>'%s' = $%d", k, argIndex))
		args = append(args, fmt.Sprintf("%v", v))
		argIndex++
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}
