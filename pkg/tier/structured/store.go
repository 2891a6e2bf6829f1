// Package structured implements the structured memory tier: entities,
// contacts and relationships held in a relational store.
//
// Every store is an upsert keyed by a natural key: (name, type) for
// entities and (name, email) for contacts. Storing an existing key
// updates the mutable fields instead of creating a duplicate.
package structured

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

const snowflakeNodeID = 3

// Record kinds accepted by Store and selected by the "kind" filter.
const (
	KindEntity       = "entity"
	KindContact      = "contact"
	KindRelationship = "relationship"
)

// Entity is a named thing with a type, uniquely identified by
// (name, type).
type Entity struct {
	ID          string
	Name        string
	Type        string
	Description string
	Aliases     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contact is a person record, uniquely identified by (name, email).
type Contact struct {
	ID        string
	Name      string
	Email     string
	Phone     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Relationship is a directed edge between two entities. It has no
// identity beyond the (from, predicate, to) triple.
type Relationship struct {
	FromEntityID string
	Predicate    string
	ToEntityID   string
	CreatedAt    time.Time
}

// Store implements the structured tier on SQLite.
type Store struct {
	db     *sql.DB
	node   *snowflake.Node
	ownsDB bool
}

// NewStore opens (or creates) the structured store at dbPath.
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
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			aliases TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(name, type)
		);
		CREATE TABLE IF NOT EXISTS contacts (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT,
			notes TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(name, email)
		);
		CREATE TABLE IF NOT EXISTS relationships (
			from_entity_id TEXT NOT NULL REFERENCES entities(id),
			predicate TEXT NOT NULL,
			to_entity_id TEXT NOT NULL REFERENCES entities(id),
			created_at TIMESTAMP NOT NULL,
			UNIQUE(from_entity_id, predicate, to_entity_id)
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Name returns the tier's registry name.
func (s *Store) Name() string {
	return tier.Structured
}

// UpsertEntity inserts an entity or, when (name, type) already exists,
// updates its description and aliases. The stored ID is returned on the
// entity either way.
func (s *Store) UpsertEntity(ctx context.Context, entity *Entity) error {
	if entity.ID == "" {
		entity.ID = s.node.Generate().String()
	}
	now := time.Now()

	aliasesJSON, err := json.Marshal(entity.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, name, type, description, aliases, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, type) DO UPDATE SET
			description = excluded.description,
			aliases = excluded.aliases,
			updated_at = excluded.updated_at`,
		entity.ID, entity.Name, entity.Type, entity.Description, string(aliasesJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	// On conflict the original row keeps its ID; read it back.
	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM entities WHERE name = ? AND type = ?`,
		entity.Name, entity.Type,
	).Scan(&entity.ID, &entity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back entity: %w", err)
	}
	entity.UpdatedAt = now
	return nil
}

// UpsertContact inserts a contact or, when (name, email) already
// exists, updates its phone and notes.
func (s *Store) UpsertContact(ctx context.Context, contact *Contact) error {
	if contact.ID == "" {
		contact.ID = s.node.Generate().String()
	}
	now := time.Now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, email, phone, notes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, email) DO UPDATE SET
			phone = excluded.phone,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		contact.ID, contact.Name, contact.Email, contact.Phone, contact.Notes, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM contacts WHERE name = ? AND email = ?`,
		contact.Name, contact.Email,
	).Scan(&contact.ID, &contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read back contact: %w", err)
	}
	contact.UpdatedAt = now
	return nil
}

// AddRelationship records a directed edge between two entities.
// Inserting the same triple twice is a no-op.
func (s *Store) AddRelationship(ctx context.Context, rel *Relationship) error {
	rel.CreatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (from_entity_id, predicate, to_entity_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(from_entity_id, predicate, to_entity_id) DO NOTHING`,
		rel.FromEntityID, rel.Predicate, rel.ToEntityID, rel.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add relationship: %w", err)
	}
	return nil
}

// GetEntity loads an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, COALESCE(description, ''), COALESCE(aliases, '[]'), created_at, updated_at
		FROM entities WHERE id = ?`, id)
	return scanEntity(row)
}

// FindEntities performs a fuzzy name match over entities.
func (s *Store) FindEntities(ctx context.Context, name string, limit int) ([]*Entity, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, COALESCE(description, ''), COALESCE(aliases, '[]'), created_at, updated_at
		FROM entities WHERE name LIKE ? ORDER BY name LIMIT ?`,
		"%"+name+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// AllEntities lists every stored entity.
func (s *Store) AllEntities(ctx context.Context) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, COALESCE(description, ''), COALESCE(aliases, '[]'), created_at, updated_at
		FROM entities ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()
	return collectEntities(rows)
}

// FindContacts performs a fuzzy name match over contacts.
func (s *Store) FindContacts(ctx context.Context, name string, limit int) ([]*Contact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, COALESCE(phone, ''), COALESCE(notes, ''), created_at, updated_at
		FROM contacts WHERE name LIKE ? ORDER BY name LIMIT ?`,
		"%"+name+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		c := &Contact{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// RelationshipsFor returns every relationship where the entity appears
// as either endpoint.
func (s *Store) RelationshipsFor(ctx context.Context, entityID string) ([]*Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_entity_id, predicate, to_entity_id, created_at
		FROM relationships WHERE from_entity_id = ? OR to_entity_id = ?`,
		entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships: %w", err)
	}
	defer rows.Close()

	var rels []*Relationship
	for rows.Next() {
		r := &Relationship{}
		if err := rows.Scan(&r.FromEntityID, &r.Predicate, &r.ToEntityID, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// DeleteEntity removes an entity and its relationships.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM relationships WHERE from_entity_id = ? OR to_entity_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to delete relationships: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %s not found", id)
	}
	return nil
}

// Delete implements tier.Deleter over entities.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.DeleteEntity(ctx, id)
}

// Store implements tier.Tier. The record kind is selected by
// params.Metadata["kind"]; entities are the default.
func (s *Store) Store(ctx context.Context, params tier.StoreParams) (*tier.Record, error) {
	kind, _ := params.Metadata["kind"].(string)
	switch kind {
	case KindContact:
		contact := &Contact{
			ID:    params.ID,
			Name:  metaString(params.Metadata, "name"),
			Email: metaString(params.Metadata, "email"),
			Phone: metaString(params.Metadata, "phone"),
			Notes: params.Content,
		}
		if err := s.UpsertContact(ctx, contact); err != nil {
			return nil, err
		}
		return &tier.Record{ID: contact.ID, Tier: tier.Structured, CreatedAt: contact.CreatedAt}, nil

	case KindRelationship:
		rel := &Relationship{
			FromEntityID: metaString(params.Metadata, "from_entity_id"),
			Predicate:    metaString(params.Metadata, "predicate"),
			ToEntityID:   metaString(params.Metadata, "to_entity_id"),
		}
		if err := s.AddRelationship(ctx, rel); err != nil {
			return nil, err
		}
		id := fmt.Sprintf("%s:%s:%s", rel.FromEntityID, rel.Predicate, rel.ToEntityID)
		return &tier.Record{ID: id, Tier: tier.Structured, CreatedAt: rel.CreatedAt}, nil

	default:
		entity := &Entity{
			ID:          params.ID,
			Name:        metaString(params.Metadata, "name"),
			Type:        metaString(params.Metadata, "type"),
			Description: params.Content,
			Aliases:     metaStrings(params.Metadata, "aliases"),
		}
		if err := s.UpsertEntity(ctx, entity); err != nil {
			return nil, err
		}
		return &tier.Record{ID: entity.ID, Tier: tier.Structured, CreatedAt: entity.CreatedAt}, nil
	}
}

// Query implements tier.Tier: lookup by ID, fuzzy name match, or all
// entities when neither is given. The "kind" filter switches between
// entity and contact lookups.
func (s *Store) Query(ctx context.Context, params tier.QueryParams) ([]tier.Result, error) {
	kind, _ := params.Filters["kind"].(string)

	if kind == KindContact {
		contacts, err := s.FindContacts(ctx, params.Query, params.Limit)
		if err != nil {
			return nil, err
		}
		results := make([]tier.Result, 0, len(contacts))
		for _, c := range contacts {
			results = append(results, tier.Result{
				ID:   c.ID,
				Text: renderContact(c),
				Metadata: map[string]interface{}{
					"name":  c.Name,
					"email": c.Email,
					"phone": c.Phone,
				},
				CreatedAt: c.CreatedAt,
			})
		}
		return results, nil
	}

	var (
		entities []*Entity
		err      error
	)
	byID := params.ID != ""
	switch {
	case byID:
		var entity *Entity
		entity, err = s.GetEntity(ctx, params.ID)
		if entity != nil {
			entities = []*Entity{entity}
		}
	case params.Query != "":
		entities, err = s.FindEntities(ctx, params.Query, params.Limit)
	default:
		entities, err = s.AllEntities(ctx)
	}
	if err != nil {
		return nil, err
	}

	results := make([]tier.Result, 0, len(entities))
	for _, e := range entities {
		text := renderEntity(e)
		if byID {
			// A direct lookup also lists the entity's relationships.
			lines, err := s.renderRelationships(ctx, e)
			if err != nil {
				return nil, err
			}
			if len(lines) > 0 {
				text += "\n" + strings.Join(lines, "\n")
			}
		}
		results = append(results, tier.Result{
			ID:   e.ID,
			Text: text,
			Metadata: map[string]interface{}{
				"name": e.Name,
				"type": e.Type,
			},
			CreatedAt: e.CreatedAt,
		})
	}
	return results, nil
}

// renderRelationships formats an entity's relationships as triples,
// resolving the opposite endpoint's name.
func (s *Store) renderRelationships(ctx context.Context, e *Entity) ([]string, error) {
	rels, err := s.RelationshipsFor(ctx, e.ID)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, rel := range rels {
		from, to := e.Name, e.Name
		if rel.FromEntityID != e.ID {
			other, err := s.GetEntity(ctx, rel.FromEntityID)
			if err != nil {
				return nil, err
			}
			from = other.Name
		}
		if rel.ToEntityID != e.ID {
			other, err := s.GetEntity(ctx, rel.ToEntityID)
			if err != nil {
				return nil, err
			}
			to = other.Name
		}
		lines = append(lines, fmt.Sprintf("- %s %s %s", from, rel.Predicate, to))
	}
	return lines, nil
}

// Close closes the database when this store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func renderEntity(e *Entity) string {
	text := fmt.Sprintf("%s (%s)", e.Name, e.Type)
	if e.Description != "" {
		text += ": " + e.Description
	}
	if len(e.Aliases) > 0 {
		text += " [aka " + strings.Join(e.Aliases, ", ") + "]"
	}
	return text
}

func renderContact(c *Contact) string {
	parts := []string{c.Name}
	if c.Email != "" {
		parts = append(parts, c.Email)
	}
	if c.Phone != "" {
		parts = append(parts, c.Phone)
	}
	text := strings.Join(parts, ", ")
	if c.Notes != "" {
		text += " - " + c.Notes
	}
	return text
}

func scanEntity(row *sql.Row) (*Entity, error) {
	e := &Entity{}
	var aliasesJSON string
	err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &aliasesJSON, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	if err := json.Unmarshal([]byte(aliasesJSON), &e.Aliases); err != nil {
		e.Aliases = nil
	}
	return e, nil
}

func collectEntities(rows *sql.Rows) ([]*Entity, error) {
	var entities []*Entity
	for rows.Next() {
		e := &Entity{}
		var aliasesJSON string
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &aliasesJSON, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		if err := json.Unmarshal([]byte(aliasesJSON), &e.Aliases); err != nil {
			e.Aliases = nil
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func metaString(m map[string]interface{}, key string) string {
	v, _ := m[key].(string)
	return v
}

func metaStrings(m map[string]interface{}, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
