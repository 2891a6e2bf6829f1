// Package graph implements the graph memory tier:
// subject-predicate-object facts stored as directed edges between named
// nodes, backed by SQLite.
package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

const snowflakeNodeID = 4

// Edge is one directed fact. Subject and Object are node names.
type Edge struct {
	ID        string
	Subject   string
	Predicate string
	Object    string
	CreatedAt time.Time
}

// Triple renders the edge as a human-readable fact.
func (e *Edge) Triple() string {
	return fmt.Sprintf("%s %s %s", e.Subject, e.Predicate, e.Object)
}

// Store implements the graph tier on SQLite.
type Store struct {
	db     *sql.DB
	node   *snowflake.Node
	ownsDB bool
}

// NewStore opens (or creates) the graph store at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewStoreWithDB builds a Store on an existing database handle. The
// caller keeps ownership of the handle; Close will not close it.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	node, err := snowflake.NewNode(snowflakeNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	store := &Store{db: db, node: node}
	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) initTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS graph_nodes (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS graph_edges (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL REFERENCES graph_nodes(name),
			predicate TEXT NOT NULL,
			object TEXT NOT NULL REFERENCES graph_nodes(name),
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_graph_edges_subject ON graph_edges(subject);
		CREATE INDEX IF NOT EXISTS idx_graph_edges_object ON graph_edges(object);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Name returns the tier's registry name.
func (s *Store) Name() string {
	return tier.Graph
}

// AddEdge upserts both endpoint nodes by name, then inserts the edge.
func (s *Store) AddEdge(ctx context.Context, edge *Edge) error {
	if edge.Subject == "" || edge.Predicate == "" || edge.Object == "" {
		return fmt.Errorf("edge requires subject, predicate and object")
	}
	if edge.ID == "" {
		edge.ID = s.node.Generate().String()
	}
	edge.CreatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, name := range []string{edge.Subject, edge.Object} {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO graph_nodes (name, created_at) VALUES (?, ?)
			 ON CONFLICT(name) DO NOTHING`,
			name, edge.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert node %q: %w", name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO graph_edges (id, subject, predicate, object, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		edge.ID, edge.Subject, edge.Predicate, edge.Object, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge: %w", err)
	}
	return nil
}

// EdgesFor returns every edge where the named entity appears as either
// endpoint.
func (s *Store) EdgesFor(ctx context.Context, name string, limit int) ([]*Edge, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, predicate, object, created_at
		FROM graph_edges WHERE subject = ? OR object = ?
		ORDER BY created_at LIMIT ?`,
		name, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		e := &Edge{}
		if err := rows.Scan(&e.ID, &e.Subject, &e.Predicate, &e.Object, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Store implements tier.Tier. Subject, predicate and object come from
// params.Metadata.
func (s *Store) Store(ctx context.Context, params tier.StoreParams) (*tier.Record, error) {
	edge := &Edge{
		ID:        params.ID,
		Subject:   metaString(params.Metadata, "subject"),
		Predicate: metaString(params.Metadata, "predicate"),
		Object:    metaString(params.Metadata, "object"),
	}
	if err := s.AddEdge(ctx, edge); err != nil {
		return nil, err
	}
	return &tier.Record{ID: edge.ID, Tier: tier.Graph, CreatedAt: edge.CreatedAt}, nil
}

// Query implements tier.Tier. params.Query names an entity; results are
// the edges touching it, rendered as triples.
func (s *Store) Query(ctx context.Context, params tier.QueryParams) ([]tier.Result, error) {
	edges, err := s.EdgesFor(ctx, params.Query, params.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]tier.Result, 0, len(edges))
	for _, e := range edges {
		results = append(results, tier.Result{
			ID:   e.ID,
			Text: e.Triple(),
			Metadata: map[string]interface{}{
				"subject":   e.Subject,
				"predicate": e.Predicate,
				"object":    e.Object,
			},
			CreatedAt: e.CreatedAt,
		})
	}
	return results, nil
}

// Delete implements tier.Deleter, removing a single edge by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM graph_edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("edge %s not found", id)
	}
	return nil
}

// Close closes the database when this store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func metaString(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}
