// Package experience implements the experience consolidation pipeline:
// post-processing a completed agent run into a generalized, reusable
// template for future goal pursuit.
package experience

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Experience is a generalized template distilled from one successfully
// completed run. It is never mutated after creation except UseCount.
type Experience struct {
	ID           string
	RunID        string
	GoalTemplate string
	Keywords     []string
	Steps        []string
	UseCount     int
	CreatedAt    time.Time
}

// Store persists experiences in SQLite.
type Store struct {
	db     *sql.DB
	ownsDB bool
}

// NewStore opens (or creates) the experience store at dbPath.
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
	store := &Store{db: db}
	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) initTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS experiences (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			goal_template TEXT NOT NULL,
			keywords TEXT NOT NULL,
			steps TEXT NOT NULL,
			use_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Save persists a new experience.
func (s *Store) Save(ctx context.Context, exp *Experience) error {
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	exp.CreatedAt = time.Now()

	keywordsJSON, err := json.Marshal(exp.Keywords)
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	stepsJSON, err := json.Marshal(exp.Steps)
	if err != nil {
		return fmt.Errorf("failed to marshal steps: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO experiences (id, run_id, goal_template, keywords, steps, use_count, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`,
		exp.ID, exp.RunID, exp.GoalTemplate, string(keywordsJSON), string(stepsJSON), exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save experience: %w", err)
	}
	return nil
}

// Get loads one experience.
func (s *Store) Get(ctx context.Context, id string) (*Experience, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, goal_template, keywords, steps, use_count, created_at
		FROM experiences WHERE id = ?`, id)
	exp, err := scanExperience(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("experience %s not found", id)
	}
	return exp, err
}

// GetByRun loads the experience derived from one run, or nil when none
// exists.
func (s *Store) GetByRun(ctx context.Context, runID string) (*Experience, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, goal_template, keywords, steps, use_count, created_at
		FROM experiences WHERE run_id = ?`, runID)
	exp, err := scanExperience(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return exp, err
}

// Find returns experiences whose keywords or goal template match any
// word of the query, most-used first.
func (s *Store) Find(ctx context.Context, query string, limit int) ([]*Experience, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, goal_template, keywords, steps, use_count, created_at
		FROM experiences ORDER BY use_count DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query experiences: %w", err)
	}
	defer rows.Close()

	words := strings.Fields(strings.ToLower(query))
	var matches []*Experience
	for rows.Next() {
		exp, err := scanExperience(rows.Scan)
		if err != nil {
			return nil, err
		}
		if matchesQuery(exp, words) {
			matches = append(matches, exp)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, rows.Err()
}

// IncrementUseCount bumps an experience's usage counter.
func (s *Store) IncrementUseCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiences SET use_count = use_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment use count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("experience %s not found", id)
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

func matchesQuery(exp *Experience, words []string) bool {
	haystack := strings.ToLower(exp.GoalTemplate + " " + strings.Join(exp.Keywords, " "))
	for _, word := range words {
		if strings.Contains(haystack, word) {
			return true
		}
	}
	return false
}

func scanExperience(scan func(...interface{}) error) (*Experience, error) {
	exp := &Experience{}
	var keywordsJSON, stepsJSON string
	err := scan(&exp.ID, &exp.RunID, &exp.GoalTemplate, &keywordsJSON, &stepsJSON,
		&exp.UseCount, &exp.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(keywordsJSON), &exp.Keywords); err != nil {
		exp.Keywords = nil
	}
	if err := json.Unmarshal([]byte(stepsJSON), &exp.Steps); err != nil {
		exp.Steps = nil
	}
	return exp, nil
}
