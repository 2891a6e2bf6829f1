// Package agent implements the autonomous agent engine: durable,
// multi-phase goal pursuit driven by a reason-act-observe loop with
// tool calling. Every run, phase and step is persisted so a run can be
// inspected or polled at any time.
package agent

import (
	"errors"
	"time"
)

// MaxSteps caps the reasoning loop of a single phase.
const MaxSteps = 10

// ErrMaxStepsExceeded marks a phase that exhausted its step budget
// without the model calling finish. It fails the phase and the run.
var ErrMaxStepsExceeded = errors.New("exceeded maximum steps")

// ErrRunCancelled marks a run aborted through context cancellation.
var ErrRunCancelled = errors.New("run cancelled")

// Run statuses.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Phase and step statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one autonomous agent execution.
type Run struct {
	ID            string
	Goal          string
	Status        string
	ResultSummary string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// Phase is one ordered sub-goal of a run.
type Phase struct {
	ID          string
	RunID       string
	Order       int
	Goal        string
	Status      string
	Result      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Step is one reason-act-observe iteration within a phase.
type Step struct {
	ID          string
	RunID       string
	PhaseID     string
	Order       int
	Thought     string
	Action      string
	ActionInput map[string]interface{}
	Observation string
	Status      string
}
