// Package chromem provides an embedded, pure-Go vector store backend
// built on chromem-go. It keeps everything in process memory, which makes
// it a good fit for tests and single-node deployments that do not want an
// external database.
package chromem

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/mindweave/mindcore-go/pkg/vector"
)

// Config contains configuration for the chromem vector store.
type Config struct {
	// CollectionName is the name of the collection records live in.
	// Defaults to "memories" when empty.
	CollectionName string
}

// Client implements the vector.Store interface using chromem-go.
type Client struct {
	db         *chromemgo.DB
	collection *chromemgo.Collection
	mu         sync.RWMutex
}

// NewClient creates a new chromem-backed vector store.
//
// Parameters:
//   - config: Configuration for the store
//
// Returns:
//   - *Client: The initialized store
//   - error: An error if the collection could not be created
func NewClient(config Config) (*Client, error) {
	name := config.CollectionName
	if name == "" {
		name = "memories"
	}

	db := chromemgo.NewDB()
	col, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create chromem collection: %w", err)
	}

	return &Client{
		db:         db,
		collection: col,
	}, nil
}

// Upsert inserts or replaces a record. chromem has no native update, so an
// existing document with the same ID is deleted before the new one is added.
func (c *Client) Upsert(ctx context.Context, record *vector.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Replace any existing document with the same ID.
	_ = c.collection.Delete(ctx, nil, nil, record.ID)

	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	metadata := make(map[string]string, len(record.Metadata)+2)
	for k, v := range record.Metadata {
		metadata[k] = fmt.Sprintf("%v", v)
	}
	metadata["created_at"] = record.CreatedAt.Format(time.RFC3339)
	metadata["updated_at"] = record.UpdatedAt.Format(time.RFC3339)

	doc := chromemgo.Document{
		ID:        record.ID,
		Content:   record.Text,
		Embedding: toFloat32(record.Embedding),
		Metadata:  metadata,
	}

	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Search performs vector similarity search against the collection.
func (c *Client) Search(ctx context.Context, embedding []float64, opts *vector.SearchOptions) ([]*vector.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if opts == nil {
		opts = &vector.SearchOptions{}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	// chromem rejects queries asking for more results than documents exist.
	if count := c.collection.Count(); limit > count {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(opts.Filters) > 0 {
		where = make(map[string]string, len(opts.Filters))
		for k, v := range opts.Filters {
			where[k] = fmt.Sprintf("%v", v)
		}
	}

	results, err := c.collection.QueryEmbedding(ctx, toFloat32(embedding), limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	records := make([]*vector.Record, 0, len(results))
	for _, res := range results {
		score := float64(res.Similarity)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}

		record := &vector.Record{
			ID:        res.ID,
			Text:      res.Content,
			Embedding: toFloat64(res.Embedding),
			Metadata:  make(map[string]interface{}, len(res.Metadata)),
			Score:     score,
		}
		for k, v := range res.Metadata {
			switch k {
			case "created_at":
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					record.CreatedAt = t
				}
			case "updated_at":
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					record.UpdatedAt = t
				}
			default:
				record.Metadata[k] = v
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// Delete removes a record by ID. Deleting a missing ID is not an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collection.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Close releases resources. chromem keeps everything in memory, so this is
// a no-op kept for interface symmetry.
func (c *Client) Close() error {
	return nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
