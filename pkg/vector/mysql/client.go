// Package mysql provides the MySQL-dialect implementation of the
// vector.Store interface.
//
// It targets MySQL-compatible databases with a native VECTOR column type
// and a cosine_distance function (OceanBase, and MySQL 9 with the
// DISTANCE family via the compatibility view).
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mindweave/mindcore-go/pkg/vector"
)

// Client implements vector.Store over a MySQL-compatible backend.
type Client struct {
	db         *sql.DB
	tableName  string
	dimensions int
}

// Config contains MySQL connection configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	TableName  string
	Dimensions int
}

// NewClient creates a new MySQL vector store.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("NewMySQLClient: %w", err)
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
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(128) PRIMARY KEY,
			text LONGTEXT,
			embedding VECTOR(%d),
			metadata JSON,
			created_at VARCHAR(128),
			updated_at VARCHAR(128)
		)
	`, c.tableName, c.dimensions)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("initTables: %w", err)
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			text = VALUES(text),
			embedding = VALUES(embedding),
			metadata = VALUES(metadata),
			updated_at = VALUES(updated_at)
	`, c.tableName)

	now := time.Now().Format(time.RFC3339)
	_, err = c.db.ExecContext(ctx, query,
		record.ID,
		record.Text,
		vectorToString(record.Embedding),
		metadataJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	return nil
}

// Search performs vector search using the backend's cosine_distance.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *vector.SearchOptions) ([]*vector.Record, error) {
	if opts == nil {
		opts = &vector.SearchOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	whereClause, args := buildMetadataWhere(opts.Filters)

	query := fmt.Sprintf(`
		SELECT id, text, embedding, metadata, created_at, updated_at,
		       cosine_distance(embedding, ?) AS distance
		FROM %s
		%s
		ORDER BY distance ASC
		LIMIT ?
	`, c.tableName, whereClause)

	allArgs := append([]interface{}{vectorToString(embedding)}, args...)
	allArgs = append(allArgs, limit)

	rows, err := c.db.QueryContext(ctx, query, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*vector.Record
	for rows.Next() {
		record, err := c.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if record.Score >= opts.MinScore {
			records = append(records, record)
		}
	}

	return records, rows.Err()
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

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) scanRecord(rows *sql.Rows) (*vector.Record, error) {
	var record vector.Record
	var embeddingStr, createdAt, updatedAt string
	var metadataStr sql.NullString
	var distance float64

	err := rows.Scan(
		&record.ID,
		&record.Text,
		&embeddingStr,
		&metadataStr,
		&createdAt,
		&updatedAt,
		&distance,
	)
	if err != nil {
		return nil, fmt.Errorf("scanRecord: %w", err)
	}

	record.Embedding = stringToVector(embeddingStr)
	record.Score = 1 - distance
	if metadataStr.Valid && metadataStr.String != "" {
		if err := json.Unmarshal([]byte(metadataStr.String), &record.Metadata); err != nil {
			return nil, fmt.Errorf("scanRecord: parse metadata: %w", err)
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		record.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		record.UpdatedAt = t
	}

	return &record, nil
}

// buildMetadataWhere builds a JSON_EXTRACT equality WHERE clause.
func buildMetadataWhere(filters map[string]interface{}) (string, []interface{}) {
	if len(filters) == 0 {
		return "", nil
	}

	conditions := []string{}
	args := []interface{}{}

	for k, v := range filters {
		conditions = append(conditions, fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(metadata, '$.%s')) = ?", k))
		args = append(args, fmt.Sprintf("%v", v))
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

// vectorToString converts a float64 slice to the VECTOR text format.
// Example: [0.1, 0.2, 0.3] -> "[0.1,0.2,0.3]"
func vectorToString(vec []float64) string {
	if len(vec) == 0 {
		return "[]"
	}

	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%f", v)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector converts the VECTOR text format back to a float64 slice.
func stringToVector(s string) []float64 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}
	}

	parts := strings.Split(s, ",")
	result := make([]float64, 0, len(parts))

	for _, part := range parts {
		var val float64
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%f", &val); err == nil {
			result = append(result, val)
		}
	}

	return result
}
