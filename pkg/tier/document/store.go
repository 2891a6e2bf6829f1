// Package document implements the document memory tier: unstructured
// text archives with title, body and an optional folder, backed by
// SQLite with case-insensitive substring search.
package document

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

const snowflakeNodeID = 5

// Document is one archived text record.
type Document struct {
	ID        string
	Title     string
	Content   string
	Folder    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store implements the document tier on SQLite.
type Store struct {
	db     *sql.DB
	node   *snowflake.Node
	ownsDB bool
}

// NewStore opens (or creates) the document store at dbPath.
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
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			folder TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_documents_folder ON documents(folder);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Name returns the tier's registry name.
func (s *Store) Name() string {
	return tier.Document
}

// Upsert inserts or replaces a document under its ID.
func (s *Store) Upsert(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = s.node.Generate().String()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, folder, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			folder = excluded.folder,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.Content, doc.Folder, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Search performs a case-insensitive substring match over title and
// content, optionally scoped to one folder.
func (s *Store) Search(ctx context.Context, query, folder string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 20
	}

	sqlQuery := `
		SELECT id, title, content, COALESCE(folder, ''), created_at, updated_at
		FROM documents
		WHERE (title LIKE ? COLLATE NOCASE OR content LIKE ? COLLATE NOCASE)`
	args := []interface{}{"%" + query + "%", "%" + query + "%"}
	if folder != "" {
		sqlQuery += ` AND folder = ?`
		args = append(args, folder)
	}
	sqlQuery += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d := &Document{}
		if err := rows.Scan(&d.ID, &d.Title, &d.Content, &d.Folder, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Store implements tier.Tier. Title and folder come from
// params.Metadata; the body is params.Content.
func (s *Store) Store(ctx context.Context, params tier.StoreParams) (*tier.Record, error) {
	doc := &Document{
		ID:      params.ID,
		Title:   metaString(params.Metadata, "title"),
		Content: params.Content,
		Folder:  metaString(params.Metadata, "folder"),
	}
	if err := s.Upsert(ctx, doc); err != nil {
		return nil, err
	}
	return &tier.Record{ID: doc.ID, Tier: tier.Document, CreatedAt: doc.CreatedAt}, nil
}

// Query implements tier.Tier. The "folder" filter scopes the search.
func (s *Store) Query(ctx context.Context, params tier.QueryParams) ([]tier.Result, error) {
	folder, _ := params.Filters["folder"].(string)
	docs, err := s.Search(ctx, params.Query, folder, params.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]tier.Result, 0, len(docs))
	for _, d := range docs {
		results = append(results, tier.Result{
			ID:   d.ID,
			Text: d.Content,
			Metadata: map[string]interface{}{
				"title":  d.Title,
				"folder": d.Folder,
			},
			CreatedAt: d.CreatedAt,
		})
	}
	return results, nil
}

// Delete implements tier.Deleter.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s not found", id)
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
