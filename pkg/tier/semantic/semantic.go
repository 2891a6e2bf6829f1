// Package semantic implements the semantic memory tier: free-text
// knowledge stored with an embedding and retrieved by similarity search.
//
// The tier composes an embedder with a vector store backend. It owns
// neither; both are injected so storage backends and embedding models
// can be swapped by configuration.
package semantic

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"

	"github.com/mindweave/mindcore-go/pkg/tier"
	"github.com/mindweave/mindcore-go/pkg/vector"
)

const snowflakeNodeID = 2

// Embedder produces a fixed-dimension vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Tier implements the semantic memory tier.
type Tier struct {
	embedder Embedder
	store    vector.Store
	node     *snowflake.Node
}

// New creates a semantic tier over the given embedder and vector store.
func New(embedder Embedder, store vector.Store) (*Tier, error) {
	node, err := snowflake.NewNode(snowflakeNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Tier{
		embedder: embedder,
		store:    store,
		node:     node,
	}, nil
}

// Name returns the tier's registry name.
func (t *Tier) Name() string {
	return tier.Semantic
}

// Store embeds the content and upserts it into the vector store under
// params.ID (generated when empty).
func (t *Tier) Store(ctx context.Context, params tier.StoreParams) (*tier.Record, error) {
	id := params.ID
	if id == "" {
		id = t.node.Generate().String()
	}

	embedding, err := t.embedder.Embed(ctx, params.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}

	metadata := map[string]interface{}{"text": params.Content}
	for k, v := range params.Metadata {
		metadata[k] = v
	}

	record := &vector.Record{
		ID:        id,
		Text:      params.Content,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := t.store.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to upsert record: %w", err)
	}

	return &tier.Record{ID: id, Tier: tier.Semantic, CreatedAt: record.CreatedAt}, nil
}

// Query embeds the query text and returns the top-K nearest records
// ranked by descending similarity score.
func (t *Tier) Query(ctx context.Context, params tier.QueryParams) ([]tier.Result, error) {
	embedding, err := t.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	records, err := t.store.Search(ctx, embedding, &vector.SearchOptions{
		Limit:   params.Limit,
		Filters: params.Filters,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}

	results := make([]tier.Result, 0, len(records))
	for _, r := range records {
		results = append(results, tier.Result{
			ID:        r.ID,
			Text:      r.Text,
			Score:     r.Score,
			Metadata:  r.Metadata,
			CreatedAt: r.CreatedAt,
		})
	}
	return results, nil
}

// Delete removes a record from the vector store.
func (t *Tier) Delete(ctx context.Context, id string) error {
	return t.store.Delete(ctx, id)
}
