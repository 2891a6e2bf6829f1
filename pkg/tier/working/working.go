// Package working implements the working memory tier: short-lived
// session scratch data held in an in-process cache with a time-to-live.
//
// Values expire on their own; an explicit delete is also supported.
// Nothing in this tier is durable.
package working

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

// DefaultTTL is applied when a store call carries no explicit TTL.
const DefaultTTL = 300 * time.Second

// Tier implements the working memory tier on a ristretto cache.
type Tier struct {
	cache      *ristretto.Cache
	defaultTTL time.Duration
}

// Option configures a Tier.
type Option func(*Tier)

// WithDefaultTTL overrides the default time-to-live.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(t *Tier) { t.defaultTTL = ttl }
}

// New creates a working memory tier.
func New(opts ...Option) (*Tier, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	t := &Tier{
		cache:      cache,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Name returns the tier's registry name.
func (t *Tier) Name() string {
	return tier.Working
}

// Set writes a value under a session key with the given TTL. A zero
// ttl applies the tier's default.
func (t *Tier) Set(key, value string, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("working memory requires a key")
	}
	if ttl <= 0 {
		ttl = t.defaultTTL
	}
	t.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	// Ristretto admits writes asynchronously; wait so a read that
	// follows the store call observes the value.
	t.cache.Wait()
	return nil
}

// Get reads a value back, returning ok=false when the key is absent or
// expired.
func (t *Tier) Get(key string) (string, bool) {
	v, ok := t.cache.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Store implements tier.Tier. params.ID is the session key, the
// optional "ttl_seconds" metadata field overrides the default TTL.
func (t *Tier) Store(_ context.Context, params tier.StoreParams) (*tier.Record, error) {
	ttl := t.defaultTTL
	switch v := params.Metadata["ttl_seconds"].(type) {
	case int:
		ttl = time.Duration(v) * time.Second
	case float64:
		ttl = time.Duration(v) * time.Second
	}

	if err := t.Set(params.ID, params.Content, ttl); err != nil {
		return nil, err
	}
	return &tier.Record{ID: params.ID, Tier: tier.Working, CreatedAt: time.Now()}, nil
}

// Query implements tier.Tier. It reads the key in params.ID (or
// params.Query) and returns at most one result; an absent key yields
// an empty result set, not an error.
func (t *Tier) Query(_ context.Context, params tier.QueryParams) ([]tier.Result, error) {
	key := params.ID
	if key == "" {
		key = params.Query
	}

	value, ok := t.Get(key)
	if !ok {
		return nil, nil
	}
	return []tier.Result{{ID: key, Text: value}}, nil
}

// Delete implements tier.Deleter. Deleting an absent key is a no-op.
func (t *Tier) Delete(_ context.Context, id string) error {
	t.cache.Del(id)
	return nil
}

// Close releases the cache.
func (t *Tier) Close() error {
	t.cache.Close()
	return nil
}
