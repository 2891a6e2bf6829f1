// Package tier defines the uniform capability interface shared by all
// memory tiers, along with the parameter and result types the
// orchestrating pipelines exchange with them.
//
// Six adapters implement the interface: episodic (turn history),
// semantic (similarity-searchable knowledge), structured
// (entities/contacts/relationships), graph (subject-predicate-object
// facts), document (unstructured archives) and working (short-lived
// session scratch data). Pipelines address tiers by name through a
// Registry and never depend on a concrete adapter type.
package tier

import (
	"context"
	"fmt"
	"time"
)

// Tier names used as Registry keys and in conversation enable flags.
const (
	Episodic   = "episodic"
	Semantic   = "semantic"
	Structured = "structured"
	Graph      = "graph"
	Document   = "document"
	Working    = "working"
)

// QueryParams carries the inputs of a tier query. Adapters read the
// fields relevant to them and ignore the rest.
type QueryParams struct {
	// Query is the free-text query (semantic similarity, fuzzy name
	// match, graph entity name, document search).
	Query string

	// ID looks up a single record by identifier where the tier
	// supports it (structured by row ID, working by session key).
	ID string

	// ConversationID scopes episodic queries to one conversation.
	ConversationID string

	// Limit caps the number of results. Adapters apply their own
	// default when zero.
	Limit int

	// Filters provides tier-specific equality filters (semantic
	// metadata, structured record kind, document folder).
	Filters map[string]interface{}
}

// StoreParams carries the inputs of a tier store operation. Every store
// is an upsert under ID; an empty ID makes the adapter generate one.
type StoreParams struct {
	// ID is the caller-supplied stable identifier, may be empty.
	ID string

	// Content is the primary payload (turn content, knowledge text,
	// document body, working value).
	Content string

	// ConversationID is required by the episodic tier.
	ConversationID string

	// Role is the episodic turn role, "user" or "model".
	Role string

	// Metadata holds tier-specific fields: entity/contact columns for
	// the structured tier, subject/predicate/object for the graph
	// tier, title/folder for documents, TTL for working memory.
	Metadata map[string]interface{}
}

// Result is one record returned from a tier query.
type Result struct {
	// ID is the record's stable identifier.
	ID string

	// Text is the human-readable rendering of the record.
	Text string

	// Score is the similarity score where the tier ranks results;
	// zero for tiers without ranking.
	Score float64

	// Metadata carries tier-specific fields alongside the text.
	Metadata map[string]interface{}

	// CreatedAt is when the record was first stored, when known.
	CreatedAt time.Time
}

// Record describes a stored (or updated) record as returned by Store.
type Record struct {
	ID        string
	Tier      string
	CreatedAt time.Time
}

// Tier is the capability contract every memory tier satisfies.
//
// Failures are never absorbed at the adapter level: both methods return
// the backend's error to the caller, which decides whether it is fatal.
type Tier interface {
	// Name returns the tier's registry name.
	Name() string

	// Query retrieves records matching the parameters.
	Query(ctx context.Context, params QueryParams) ([]Result, error)

	// Store persists a record with upsert semantics under params.ID.
	Store(ctx context.Context, params StoreParams) (*Record, error)
}

// Deleter is implemented by tiers that support explicit deletion.
type Deleter interface {
	Delete(ctx context.Context, id string) error
}

// Registry maps tier names to adapters. It is populated once at
// construction time and read-only afterward, so no locking is needed.
type Registry map[string]Tier

// Register adds a tier under its own name.
func (r Registry) Register(t Tier) {
	r[t.Name()] = t
}

// Get returns the named tier or an error when it is not registered.
func (r Registry) Get(name string) (Tier, error) {
	t, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("tier %q is not registered", name)
	}
	return t, nil
}

// Has reports whether the named tier is registered.
func (r Registry) Has(name string) bool {
	_, ok := r[name]
	return ok
}
