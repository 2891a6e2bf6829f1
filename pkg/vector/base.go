// Package vector provides interfaces and types for vector storage backends.
//
// It defines the Store interface that all backends must satisfy, along
// with the record type shared by the semantic memory tier.
package vector

import (
	"context"
	"time"
)

// Record represents a text chunk stored with its embedding.
type Record struct {
	// ID is the stable identifier of the record. Stores upsert on it.
	ID string

	// Text is the raw text the embedding was generated from.
	Text string

	// Embedding is the vector used for similarity search.
	Embedding []float64

	// Metadata contains additional structured information.
	Metadata map[string]interface{}

	// CreatedAt is when the record was first stored.
	CreatedAt time.Time

	// UpdatedAt is when the record was last upserted.
	UpdatedAt time.Time

	// Score is the similarity score from search operations.
	Score float64
}

// SearchOptions contains options for similarity search.
type SearchOptions struct {
	// Limit sets the maximum number of results to return.
	Limit int

	// MinScore filters out results below this similarity score.
	MinScore float64

	// Filters provides metadata equality filters.
	Filters map[string]interface{}
}

// Store defines the interface for vector storage backends.
//
// All backends (SQLite, PostgreSQL, MySQL, chromem) must implement this
// interface. Upsert is idempotent under the record ID: storing the same
// ID twice leaves exactly one record carrying the latest text and vector.
type Store interface {
	// Upsert inserts the record, or replaces text, embedding and metadata
	// when a record with the same ID already exists.
	Upsert(ctx context.Context, record *Record) error

	// Search returns records ranked by descending similarity to the
	// query embedding.
	Search(ctx context.Context, embedding []float64, opts *SearchOptions) ([]*Record, error)

	// Delete removes a record by ID. Deleting an absent ID is an error.
	Delete(ctx context.Context, id string) error

	// Close closes the store and releases resources.
	Close() error
}
