// Package audit records pipeline runs and their ordered steps for
// observability. The records are purely diagnostic: business logic
// writes them but never reads them back.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/mattn/go-sqlite3"
)

const snowflakeNodeID = 6

// Run statuses. Steps use StatusCompleted and StatusFailed only.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// PipelineRun is one recorded pipeline execution.
type PipelineRun struct {
	ID         string
	Type       string
	Status     string
	DurationMs int64
	StartedAt  time.Time
}

// PipelineStep is one logical step within a run.
type PipelineStep struct {
	RunID         string
	Order         int
	Name          string
	Status        string
	InputSummary  string
	OutputSummary string
	DurationMs    int64
}

// Trail persists pipeline runs and steps in SQLite.
type Trail struct {
	db     *sql.DB
	node   *snowflake.Node
	ownsDB bool
}

// NewTrail opens (or creates) the audit database at dbPath.
func NewTrail(dbPath string) (*Trail, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	trail, err := NewTrailWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	trail.ownsDB = true
	return trail, nil
}

// NewTrailWithDB builds a Trail on an existing database handle. The
// caller keeps ownership of the handle; Close will not close it.
func NewTrailWithDB(db *sql.DB) (*Trail, error) {
	node, err := snowflake.NewNode(snowflakeNodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	trail := &Trail{db: db, node: node}
	if err := trail.initTables(context.Background()); err != nil {
		return nil, err
	}
	return trail, nil
}

func (t *Trail) initTables(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pipeline_steps (
			run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
			step_order INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			input_summary TEXT,
			output_summary TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			UNIQUE(run_id, step_order)
		);
	`
	if _, err := t.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// Begin creates a pipeline run in the running state and returns a
// Recorder for appending its steps.
func (t *Trail) Begin(ctx context.Context, pipelineType string) (*Recorder, error) {
	run := &PipelineRun{
		ID:        t.node.Generate().String(),
		Type:      pipelineType,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	_, err := t.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, type, status, duration_ms, started_at)
		 VALUES (?, ?, ?, 0, ?)`,
		run.ID, run.Type, run.Status, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline run: %w", err)
	}

	return &Recorder{trail: t, run: run}, nil
}

// GetRun loads one pipeline run.
func (t *Trail) GetRun(ctx context.Context, id string) (*PipelineRun, error) {
	run := &PipelineRun{}
	err := t.db.QueryRowContext(ctx,
		`SELECT id, type, status, duration_ms, started_at FROM pipeline_runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Type, &run.Status, &run.DurationMs, &run.StartedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs of the given pipeline type, oldest first. An
// empty type returns every run.
func (t *Trail) ListRuns(ctx context.Context, pipelineType string) ([]*PipelineRun, error) {
	query := `SELECT id, type, status, duration_ms, started_at FROM pipeline_runs`
	args := []interface{}{}
	if pipelineType != "" {
		query += ` WHERE type = ?`
		args = append(args, pipelineType)
	}
	query += ` ORDER BY started_at, id`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []*PipelineRun
	for rows.Next() {
		run := &PipelineRun{}
		if err := rows.Scan(&run.ID, &run.Type, &run.Status, &run.DurationMs, &run.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListSteps returns a run's steps in order.
func (t *Trail) ListSteps(ctx context.Context, runID string) ([]*PipelineStep, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT run_id, step_order, name, status, COALESCE(input_summary, ''), COALESCE(output_summary, ''), duration_ms
		FROM pipeline_steps WHERE run_id = ? ORDER BY step_order`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline steps: %w", err)
	}
	defer rows.Close()

	var steps []*PipelineStep
	for rows.Next() {
		s := &PipelineStep{}
		if err := rows.Scan(&s.RunID, &s.Order, &s.Name, &s.Status,
			&s.InputSummary, &s.OutputSummary, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan pipeline step: %w", err)
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// Close closes the database when this trail owns it.
func (t *Trail) Close() error {
	if t.ownsDB {
		return t.db.Close()
	}
	return nil
}

// Recorder appends steps to one pipeline run and finalizes it. It is
// used by a single pipeline goroutine; the mutex only guards against
// a finalize racing a late step.
type Recorder struct {
	trail *Trail
	run   *PipelineRun

	mu        sync.Mutex
	stepCount int
	done      bool
}

// RunID returns the identifier of the recorded run.
func (r *Recorder) RunID() string {
	return r.run.ID
}

// Step appends the next ordered step to the run.
func (r *Recorder) Step(ctx context.Context, name, status, inputSummary, outputSummary string, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return fmt.Errorf("pipeline run %s already finalized", r.run.ID)
	}
	r.stepCount++

	_, err := r.trail.db.ExecContext(ctx, `
		INSERT INTO pipeline_steps (run_id, step_order, name, status, input_summary, output_summary, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.run.ID, r.stepCount, name, status, inputSummary, outputSummary, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record pipeline step: %w", err)
	}
	return nil
}

// Finish finalizes the run with its status and total duration.
func (r *Recorder) Finish(ctx context.Context, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return fmt.Errorf("pipeline run %s already finalized", r.run.ID)
	}
	r.done = true

	duration := time.Since(r.run.StartedAt).Milliseconds()
	_, err := r.trail.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, duration_ms = ? WHERE id = ?`,
		status, duration, r.run.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize pipeline run: %w", err)
	}
	r.run.Status = status
	r.run.DurationMs = duration
	return nil
}
