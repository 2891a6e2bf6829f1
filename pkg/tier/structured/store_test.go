package structured

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "structured.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEntityUpsertNotDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Entity{Name: "Ada Lovelace", Type: "Person", Description: "mathematician"}
	require.NoError(t, store.UpsertEntity(ctx, first))

	second := &Entity{Name: "Ada Lovelace", Type: "Person", Description: "first programmer"}
	require.NoError(t, store.UpsertEntity(ctx, second))

	assert.Equal(t, first.ID, second.ID, "upsert must keep the original ID")

	all, err := store.AllEntities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1, "upsert must not duplicate")
	assert.Equal(t, "first programmer", all[0].Description)
}

func TestEntityNaturalKeyIncludesType(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntity(ctx, &Entity{Name: "Apollo", Type: "Project"}))
	require.NoError(t, store.UpsertEntity(ctx, &Entity{Name: "Apollo", Type: "Deity"}))

	all, err := store.AllEntities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFuzzyEntityLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertEntity(ctx, &Entity{Name: "Project Apollo", Type: "Project"}))
	require.NoError(t, store.UpsertEntity(ctx, &Entity{Name: "Project Gemini", Type: "Project"}))

	matches, err := store.FindEntities(ctx, "Apollo", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Project Apollo", matches[0].Name)
}

func TestContactUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Contact{Name: "Grace Hopper", Email: "grace@example.com", Phone: "111"}
	require.NoError(t, store.UpsertContact(ctx, first))

	second := &Contact{Name: "Grace Hopper", Email: "grace@example.com", Phone: "222"}
	require.NoError(t, store.UpsertContact(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	matches, err := store.FindContacts(ctx, "Grace", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "222", matches[0].Phone)
}

func TestRelationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ada := &Entity{Name: "Ada Lovelace", Type: "Person"}
	engine := &Entity{Name: "Analytical Engine", Type: "Machine"}
	require.NoError(t, store.UpsertEntity(ctx, ada))
	require.NoError(t, store.UpsertEntity(ctx, engine))

	rel := &Relationship{FromEntityID: ada.ID, Predicate: "programmed", ToEntityID: engine.ID}
	require.NoError(t, store.AddRelationship(ctx, rel))
	// Same triple twice is a no-op.
	require.NoError(t, store.AddRelationship(ctx, rel))

	rels, err := store.RelationshipsFor(ctx, ada.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "programmed", rels[0].Predicate)

	rels, err = store.RelationshipsFor(ctx, engine.ID)
	require.NoError(t, err)
	assert.Len(t, rels, 1, "relationships are visible from either endpoint")

	// A direct tier lookup lists the relationships as triples with the
	// opposite endpoint resolved to its name.
	results, err := store.Query(ctx, tier.QueryParams{ID: ada.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "- Ada Lovelace programmed Analytical Engine")

	results, err = store.Query(ctx, tier.QueryParams{ID: engine.ID})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "- Ada Lovelace programmed Analytical Engine")
}

func TestTierStoreAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var tr tier.Tier = store
	assert.Equal(t, tier.Structured, tr.Name())

	_, err := tr.Store(ctx, tier.StoreParams{
		Content: "pioneer of computing",
		Metadata: map[string]interface{}{
			"kind": "entity",
			"name": "Ada Lovelace",
			"type": "Person",
		},
	})
	require.NoError(t, err)

	_, err = tr.Store(ctx, tier.StoreParams{
		Content: "works at the observatory",
		Metadata: map[string]interface{}{
			"kind":  "contact",
			"name":  "Carl Sagan",
			"email": "carl@example.com",
		},
	})
	require.NoError(t, err)

	results, err := tr.Query(ctx, tier.QueryParams{Query: "Ada"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Text, "Ada Lovelace (Person)")

	contacts, err := tr.Query(ctx, tier.QueryParams{
		Query:   "Carl",
		Filters: map[string]interface{}{"kind": "contact"},
	})
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Contains(t, contacts[0].Text, "carl@example.com")

	all, err := tr.Query(ctx, tier.QueryParams{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "no-filter query lists all entities")
}
