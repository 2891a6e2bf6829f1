package working

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

func newTestTier(t *testing.T, opts ...Option) *Tier {
	t.Helper()
	w, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSetGet(t *testing.T) {
	w := newTestTier(t)

	require.NoError(t, w.Set("session:1:topic", "lunar landing", 0))

	value, ok := w.Get("session:1:topic")
	require.True(t, ok)
	assert.Equal(t, "lunar landing", value)

	_, ok = w.Get("session:1:missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	w := newTestTier(t, WithDefaultTTL(50*time.Millisecond))

	require.NoError(t, w.Set("ephemeral", "value", 0))
	_, ok := w.Get("ephemeral")
	require.True(t, ok)

	time.Sleep(120 * time.Millisecond)
	_, ok = w.Get("ephemeral")
	assert.False(t, ok, "value must expire after its TTL")
}

func TestDelete(t *testing.T) {
	w := newTestTier(t)
	ctx := context.Background()

	require.NoError(t, w.Set("key", "value", 0))
	require.NoError(t, w.Delete(ctx, "key"))

	_, ok := w.Get("key")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	assert.NoError(t, w.Delete(ctx, "key"))
}

func TestTierInterface(t *testing.T) {
	w := newTestTier(t)
	ctx := context.Background()

	var tr tier.Tier = w
	assert.Equal(t, tier.Working, tr.Name())

	_, err := tr.Store(ctx, tier.StoreParams{ID: "scratch", Content: "draft reply"})
	require.NoError(t, err)

	results, err := tr.Query(ctx, tier.QueryParams{ID: "scratch"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "draft reply", results[0].Text)

	// An absent key yields an empty result set, not an error.
	results, err = tr.Query(ctx, tier.QueryParams{ID: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = tr.Store(ctx, tier.StoreParams{Content: "no key"})
	assert.Error(t, err)
}
