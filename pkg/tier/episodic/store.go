// Package episodic implements the episodic memory tier: conversations
// and their ordered turn history, backed by SQLite.
//
// Storing a turn appends it to its conversation and touches the
// conversation's updated_at timestamp. A turn whose content exceeds the
// summarization threshold additionally schedules an asynchronous
// summarization side effect that never blocks or fails the store call.
package episodic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

// SummarizeThreshold is the word count above which a stored turn
// triggers the asynchronous summarization side effect.
const SummarizeThreshold = 500

// ErrConversationNotFound marks a lookup of a conversation that does
// not exist.
var ErrConversationNotFound = errors.New("conversation not found")

const snowflakeNodeID = 1

// Conversation is the owning record of an ordered turn sequence. The
// enable flags select which memory tiers participate in context
// assembly for this conversation.
type Conversation struct {
	ID                string
	Title             string
	SystemInstruction string
	EnableSemantic    bool
	EnableStructured  bool
	EnableGraph       bool
	EnableDocument    bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Turn is a single message within a conversation. Turns are immutable
// once persisted except for bookmark, tags and content edits, none of
// which change the seq ordering.
type Turn struct {
	ID             string
	ConversationID string
	Seq            int
	Role           string
	Content        string
	ParentID       string
	Bookmarked     bool
	Tags           []string
	CreatedAt      time.Time
}

// Summarizer receives turns that crossed the summarization threshold.
// Implementations typically condense the turn and store the summary
// into the semantic tier.
type Summarizer interface {
	Summarize(ctx context.Context, turn *Turn) error
}

// Store implements the episodic tier on SQLite.
type Store struct {
	db         *sql.DB
	node       *snowflake.Node
	summarizer Summarizer
	logger     *slog.Logger
	wg         sync.WaitGroup
	ownsDB     bool
}

// Option configures a Store.
type Option func(*Store)

// WithSummarizer installs the summarization side effect.
func WithSummarizer(s Summarizer) Option {
	return func(st *Store) { st.summarizer = s }
}

// WithLogger sets the logger used for background-task failures.
func WithLogger(l *slog.Logger) Option {
	return func(st *Store) { st.logger = l }
}

// NewStore opens (or creates) the episodic store at dbPath.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewStoreWithDB(db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewStoreWithDB builds a Store on an existing database handle. The
// caller keeps ownership of the handle; Close will not close it.
func NewStoreWithDB(db *sql.DB, opts ...Option) (*Store, error) {
	node, err := snowflake.NewNode(snowflakeNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	store := &Store{
		db:     db,
		node:   node,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) initTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			system_instruction TEXT,
			enable_semantic BOOLEAN NOT NULL DEFAULT 0,
			enable_structured BOOLEAN NOT NULL DEFAULT 0,
			enable_graph BOOLEAN NOT NULL DEFAULT 0,
			enable_document BOOLEAN NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			parent_id TEXT,
			bookmarked BOOLEAN NOT NULL DEFAULT 0,
			tags TEXT,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(conversation_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, seq);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Name returns the tier's registry name.
func (s *Store) Name() string {
	return tier.Episodic
}

// CreateConversation persists a new conversation. An empty ID is
// replaced with a generated one.
func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if conv.ID == "" {
		conv.ID = s.node.Generate().String()
	}
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, title, system_instruction, enable_semantic, enable_structured,
			 enable_graph, enable_document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.SystemInstruction,
		conv.EnableSemantic, conv.EnableStructured, conv.EnableGraph, conv.EnableDocument,
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	conv := &Conversation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, system_instruction, enable_semantic, enable_structured,
		       enable_graph, enable_document, created_at, updated_at
		FROM conversations WHERE id = ?`, id,
	).Scan(
		&conv.ID, &conv.Title, &conv.SystemInstruction,
		&conv.EnableSemantic, &conv.EnableStructured, &conv.EnableGraph, &conv.EnableDocument,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// AppendTurn appends a turn to its conversation, assigning the next
// sequence number and touching the conversation's updated_at. When the
// turn's word count exceeds SummarizeThreshold, the summarization side
// effect is dispatched as a detached task.
func (s *Store) AppendTurn(ctx context.Context, turn *Turn) (*Turn, error) {
	if turn.ConversationID == "" {
		return nil, fmt.Errorf("turn requires a conversation id")
	}
	if turn.ID == "" {
		turn.ID = s.node.Generate().String()
	}
	turn.CreatedAt = time.Now()

	tagsJSON, err := json.Marshal(turn.Tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE conversation_id = ?`,
		turn.ConversationID,
	).Scan(&turn.Seq)
	if err != nil {
		return nil, fmt.Errorf("failed to assign sequence number: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, seq, role, content, parent_id, bookmarked, tags, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.ConversationID, turn.Seq, turn.Role, turn.Content,
		turn.ParentID, turn.Bookmarked, string(tagsJSON), turn.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert turn: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		turn.CreatedAt, turn.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}

	if s.summarizer != nil && wordCount(turn.Content) > SummarizeThreshold {
		s.dispatchSummarize(*turn)
	}
	return turn, nil
}

// RecentTurns returns the most recent limit turns of a conversation in
// ascending chronological order.
func (s *Store) RecentTurns(ctx context.Context, conversationID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, seq, role, content, COALESCE(parent_id, ''), bookmarked, COALESCE(tags, '[]'), created_at
		FROM turns WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var tagsJSON string
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.Seq, &t.Role, &t.Content,
			&t.ParentID, &t.Bookmarked, &tagsJSON, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
			t.Tags = nil
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read turns: %w", err)
	}

	// Rows arrive newest-first; flip to chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SetBookmark toggles a turn's bookmark flag.
func (s *Store) SetBookmark(ctx context.Context, turnID string, bookmarked bool) error {
	return s.updateTurn(ctx, turnID, `UPDATE turns SET bookmarked = ? WHERE id = ?`, bookmarked)
}

// SetTags replaces a turn's tag list.
func (s *Store) SetTags(ctx context.Context, turnID string, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	return s.updateTurn(ctx, turnID, `UPDATE turns SET tags = ? WHERE id = ?`, string(tagsJSON))
}

// EditContent replaces a turn's content without changing its ordering.
func (s *Store) EditContent(ctx context.Context, turnID string, content string) error {
	return s.updateTurn(ctx, turnID, `UPDATE turns SET content = ? WHERE id = ?`, content)
}

func (s *Store) updateTurn(ctx context.Context, turnID, query string, value interface{}) error {
	res, err := s.db.ExecContext(ctx, query, value, turnID)
	if err != nil {
		return fmt.Errorf("failed to update turn: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("turn %s not found", turnID)
	}
	return nil
}

// Query implements tier.Tier. It returns the most recent params.Limit
// turns of params.ConversationID in chronological order.
func (s *Store) Query(ctx context.Context, params tier.QueryParams) ([]tier.Result, error) {
	turns, err := s.RecentTurns(ctx, params.ConversationID, params.Limit)
	if err != nil {
		return nil, err
	}

	results := make([]tier.Result, 0, len(turns))
	for _, t := range turns {
		results = append(results, tier.Result{
			ID:   t.ID,
			Text: t.Content,
			Metadata: map[string]interface{}{
				"role": t.Role,
				"seq":  t.Seq,
			},
			CreatedAt: t.CreatedAt,
		})
	}
	return results, nil
}

// Store implements tier.Tier. It appends a turn built from the params.
func (s *Store) Store(ctx context.Context, params tier.StoreParams) (*tier.Record, error) {
	turn := &Turn{
		ID:             params.ID,
		ConversationID: params.ConversationID,
		Role:           params.Role,
		Content:        params.Content,
	}
	if parent, ok := params.Metadata["parent_id"].(string); ok {
		turn.ParentID = parent
	}

	stored, err := s.AppendTurn(ctx, turn)
	if err != nil {
		return nil, err
	}
	return &tier.Record{ID: stored.ID, Tier: tier.Episodic, CreatedAt: stored.CreatedAt}, nil
}

// dispatchSummarize runs the summarizer as a detached, recovered task.
// Its failure is logged and never reaches the caller.
func (s *Store) dispatchSummarize(turn Turn) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("turn summarization panicked",
					"turn_id", turn.ID, "panic", r)
			}
		}()

		if err := s.summarizer.Summarize(context.Background(), &turn); err != nil {
			s.logger.Error("turn summarization failed",
				"turn_id", turn.ID, "conversation_id", turn.ConversationID, "error", err)
		}
	}()
}

// Wait blocks until all dispatched summarization tasks finish.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close waits for background tasks and closes the database when this
// store owns it.
func (s *Store) Close() error {
	s.wg.Wait()
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
