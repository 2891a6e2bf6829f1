package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// RunStore persists agent runs, phases and steps in SQLite.
type RunStore struct {
	db     *sql.DB
	ownsDB bool
}

// NewRunStore opens (or creates) the run store at dbPath.
func NewRunStore(dbPath string) (*RunStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	store, err := NewRunStoreWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true
	return store, nil
}

// NewRunStoreWithDB builds a RunStore on an existing database handle.
// The caller keeps ownership of the handle; Close will not close it.
func NewRunStoreWithDB(db *sql.DB) (*RunStore, error) {
	store := &RunStore{db: db}
	if err := store.initTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *RunStore) initTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_runs (
			id TEXT PRIMARY KEY,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			result_summary TEXT,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS agent_phases (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES agent_runs(id),
			phase_order INTEGER NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			result TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			UNIQUE(run_id, phase_order)
		);
		CREATE TABLE IF NOT EXISTS agent_steps (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES agent_runs(id),
			phase_id TEXT NOT NULL REFERENCES agent_phases(id),
			step_order INTEGER NOT NULL,
			thought TEXT,
			action TEXT,
			action_input TEXT,
			observation TEXT,
			status TEXT NOT NULL,
			UNIQUE(phase_id, step_order)
		);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// CreatePlan atomically creates a run and its ordered phases from an
// approved plan. The run starts in the running state with every phase
// pending; execution has not begun until the engine picks it up.
func (s *RunStore) CreatePlan(ctx context.Context, goal string, phaseGoals []string) (*Run, error) {
	if goal == "" {
		return nil, fmt.Errorf("plan requires a goal")
	}
	if len(phaseGoals) == 0 {
		return nil, fmt.Errorf("plan requires at least one phase")
	}

	run := &Run{
		ID:        uuid.NewString(),
		Goal:      goal,
		Status:    RunRunning,
		CreatedAt: time.Now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agent_runs (id, goal, status, result_summary, created_at)
		 VALUES (?, ?, ?, '', ?)`,
		run.ID, run.Goal, run.Status, run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	for i, phaseGoal := range phaseGoals {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO agent_phases (id, run_id, phase_order, goal, status, result)
			 VALUES (?, ?, ?, ?, ?, '')`,
			uuid.NewString(), run.ID, i+1, phaseGoal, StatusPending)
		if err != nil {
			return nil, fmt.Errorf("failed to create phase %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan: %w", err)
	}
	return run, nil
}

// GetRun loads one run.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, goal, status, COALESCE(result_summary, ''), created_at, completed_at
		FROM agent_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Goal, &run.Status, &run.ResultSummary, &run.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	return run, nil
}

// ListPhases returns a run's phases in execution order.
func (s *RunStore) ListPhases(ctx context.Context, runID string) ([]*Phase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, phase_order, goal, status, COALESCE(result, ''), started_at, completed_at
		FROM agent_phases WHERE run_id = ? ORDER BY phase_order`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var phases []*Phase
	for rows.Next() {
		p := &Phase{}
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.RunID, &p.Order, &p.Goal, &p.Status, &p.Result,
			&startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		if startedAt.Valid {
			p.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			p.CompletedAt = completedAt.Time
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// ListSteps returns a phase's steps in execution order.
func (s *RunStore) ListSteps(ctx context.Context, phaseID string) ([]*Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, phase_id, step_order, COALESCE(thought, ''), COALESCE(action, ''),
		       COALESCE(action_input, '{}'), COALESCE(observation, ''), status
		FROM agent_steps WHERE phase_id = ? ORDER BY step_order`, phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		step := &Step{}
		var inputJSON string
		if err := rows.Scan(&step.ID, &step.RunID, &step.PhaseID, &step.Order,
			&step.Thought, &step.Action, &inputJSON, &step.Observation, &step.Status); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(inputJSON), &step.ActionInput); err != nil {
			step.ActionInput = nil
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// AppendStep persists a new step with the next order index for its
// phase. The observation is typically filled in afterward.
func (s *RunStore) AppendStep(ctx context.Context, step *Step) error {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}

	inputJSON, err := json.Marshal(step.ActionInput)
	if err != nil {
		return fmt.Errorf("failed to marshal action input: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_steps (id, run_id, phase_id, step_order, thought, action, action_input, observation, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.PhaseID, step.Order,
		step.Thought, step.Action, string(inputJSON), step.Observation, step.Status)
	if err != nil {
		return fmt.Errorf("failed to insert step: %w", err)
	}
	return nil
}

// FinishStep records a step's observation and final status.
func (s *RunStore) FinishStep(ctx context.Context, stepID, observation, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_steps SET observation = ?, status = ? WHERE id = ?`,
		observation, status, stepID)
	if err != nil {
		return fmt.Errorf("failed to update step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %s not found", stepID)
	}
	return nil
}

// StartPhase marks a phase running.
func (s *RunStore) StartPhase(ctx context.Context, phaseID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_phases SET status = ?, started_at = ? WHERE id = ?`,
		StatusRunning, time.Now(), phaseID)
	if err != nil {
		return fmt.Errorf("failed to start phase: %w", err)
	}
	return nil
}

// FinishPhase records a phase's result and final status.
func (s *RunStore) FinishPhase(ctx context.Context, phaseID, result, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_phases SET status = ?, result = ?, completed_at = ? WHERE id = ?`,
		status, result, time.Now(), phaseID)
	if err != nil {
		return fmt.Errorf("failed to finish phase: %w", err)
	}
	return nil
}

// FinishRun records a run's summary and final status.
func (s *RunStore) FinishRun(ctx context.Context, runID, summary, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_runs SET status = ?, result_summary = ?, completed_at = ? WHERE id = ?`,
		status, summary, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// Close closes the database when this store owns it.
func (s *RunStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
