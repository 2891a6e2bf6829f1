package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mindweave/mindcore-go/pkg/genai"
)

// finishTool is the synthetic tool the model calls to complete the
// current phase. It is appended to the declaration list on every
// reasoning call and never reaches the executor.
const finishTool = "finish"

var finishDeclaration = genai.ToolDeclaration{
	Name:        finishTool,
	Description: "Complete the current phase. Call this when the phase goal is achieved, with a result summarizing the outcome.",
	Parameters: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"result": map[string]interface{}{
				"type":        "string",
				"description": "The outcome of the phase",
			},
		},
		"required": []string{"result"},
	},
}

// Engine executes agent runs phase by phase.
type Engine struct {
	store    *RunStore
	service  genai.Service
	tools    *Registry
	logger   *slog.Logger
	maxSteps int

	// onComplete is invoked detached after a run completes, typically
	// to trigger experience consolidation. Its failure never alters
	// the run's recorded outcome.
	onComplete func(runID string)
	wg         sync.WaitGroup
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithCompletionHook installs the detached post-completion callback.
func WithCompletionHook(fn func(runID string)) EngineOption {
	return func(e *Engine) { e.onComplete = fn }
}

// WithMaxSteps overrides the per-phase step budget.
func WithMaxSteps(n int) EngineOption {
	return func(e *Engine) { e.maxSteps = n }
}

// NewEngine creates an agent engine over the run store, generative
// service and tool registry.
func NewEngine(store *RunStore, service genai.Service, tools *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		service:  service,
		tools:    tools,
		logger:   slog.Default(),
		maxSteps: MaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApprovePlan atomically creates the run and its phases from an
// approved plan. ExecuteRun starts the reasoning loop.
func (e *Engine) ApprovePlan(ctx context.Context, goal string, phaseGoals []string) (*Run, error) {
	return e.store.CreatePlan(ctx, goal, phaseGoals)
}

// ExecuteRun drives a run to completion. Phases execute strictly in
// order; the first phase failure fails the run and leaves the remaining
// phases pending. Cancelling the context fails the run with
// ErrRunCancelled.
func (e *Engine) ExecuteRun(ctx context.Context, runID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != RunRunning {
		return fmt.Errorf("run %s is %s, not runnable", runID, run.Status)
	}

	phases, err := e.store.ListPhases(ctx, runID)
	if err != nil {
		return err
	}

	var results []string
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return e.failRun(run, ErrRunCancelled)
		}

		if err := e.store.StartPhase(ctx, phase.ID); err != nil {
			return e.failRun(run, err)
		}

		result, err := e.runPhase(ctx, run, phase)
		if err != nil {
			_ = e.store.FinishPhase(context.WithoutCancel(ctx), phase.ID, err.Error(), StatusFailed)
			return e.failRun(run, fmt.Errorf("phase %d: %w", phase.Order, err))
		}

		if err := e.store.FinishPhase(ctx, phase.ID, result, StatusCompleted); err != nil {
			return e.failRun(run, err)
		}
		results = append(results, fmt.Sprintf("Phase %d (%s): %s", phase.Order, phase.Goal, result))
	}

	summary := strings.Join(results, "\n")
	if err := e.store.FinishRun(ctx, run.ID, summary, RunCompleted); err != nil {
		return err
	}

	e.logger.Info("agent run completed", "run_id", run.ID, "phases", len(phases))
	e.dispatchCompletion(run.ID)
	return nil
}

// runPhase drives one phase's reason-act-observe loop. It returns the
// phase result from the model's finish call, or an error when the step
// budget runs out or a reasoning call fails.
func (e *Engine) runPhase(ctx context.Context, run *Run, phase *Phase) (string, error) {
	// Step history is scoped to the current phase only: each phase
	// starts reasoning from a clean slate.
	var history []*Step

	declarations := append(e.tools.Declarations(), finishDeclaration)

	for order := 1; order <= e.maxSteps; order++ {
		if err := ctx.Err(); err != nil {
			return "", ErrRunCancelled
		}

		prompt := buildReasoningPrompt(run.Goal, phase.Goal, history)
		messages := []genai.Message{{Role: genai.RoleUser, Content: prompt}}

		resp, err := e.service.GenerateWithTools(ctx, messages, agentSystemPrompt, declarations)
		if err != nil {
			return "", fmt.Errorf("reasoning call failed: %w", err)
		}

		if resp.ToolCall != nil && resp.ToolCall.Name == finishTool {
			result, _ := resp.ToolCall.Args["result"].(string)
			return result, nil
		}

		step := &Step{
			RunID:   run.ID,
			PhaseID: phase.ID,
			Order:   order,
			Thought: resp.Text,
			Status:  StatusRunning,
		}
		if resp.ToolCall != nil {
			step.Action = resp.ToolCall.Name
			step.ActionInput = resp.ToolCall.Args
		}
		if err := e.store.AppendStep(ctx, step); err != nil {
			return "", err
		}

		// A response without a tool call is a thought-only step: it is
		// recorded and counts against the budget, but nothing runs.
		if resp.ToolCall == nil {
			if err := e.store.FinishStep(ctx, step.ID, "", StatusCompleted); err != nil {
				return "", err
			}
			step.Status = StatusCompleted
			history = append(history, step)
			continue
		}

		// Tool errors become the observation so the model can reason
		// about them in the next step; they never abort the phase.
		observation, err := e.tools.Execute(ctx, step.Action, step.ActionInput)
		if err != nil {
			observation = fmt.Sprintf("error: %v", err)
			e.logger.Warn("tool execution failed",
				"run_id", run.ID, "tool", step.Action, "error", err)
		}

		if err := e.store.FinishStep(ctx, step.ID, observation, StatusCompleted); err != nil {
			return "", err
		}
		step.Observation = observation
		step.Status = StatusCompleted
		history = append(history, step)
	}

	return "", ErrMaxStepsExceeded
}

// failRun records the run's failure and leaves any untouched phases
// pending.
func (e *Engine) failRun(run *Run, cause error) error {
	if err := e.store.FinishRun(context.Background(), run.ID, cause.Error(), RunFailed); err != nil {
		e.logger.Error("failed to record run failure", "run_id", run.ID, "error", err)
	}
	e.logger.Warn("agent run failed", "run_id", run.ID, "error", cause)
	return cause
}

// dispatchCompletion invokes the completion hook as a detached,
// recovered task.
func (e *Engine) dispatchCompletion(runID string) {
	if e.onComplete == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("completion hook panicked", "run_id", runID, "panic", r)
			}
		}()
		e.onComplete(runID)
	}()
}

// Wait blocks until all dispatched completion hooks finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

const agentSystemPrompt = `You are an autonomous agent working through a multi-phase plan.
On each step, reason about what to do next and call exactly one tool.
When the current phase goal is achieved, call the finish tool with a result summarizing the outcome.`

// buildReasoningPrompt formats the overall goal, the current phase goal
// and the phase's ordered step history into one reasoning prompt.
func buildReasoningPrompt(goal, phaseGoal string, history []*Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall goal: %s\n", goal)
	fmt.Fprintf(&b, "Current phase goal: %s\n", phaseGoal)

	if len(history) == 0 {
		b.WriteString("\nNo steps taken yet in this phase. Decide the first action.")
		return b.String()
	}

	b.WriteString("\nSteps taken so far in this phase:\n")
	for _, step := range history {
		fmt.Fprintf(&b, "Step %d:\n", step.Order)
		if step.Thought != "" {
			fmt.Fprintf(&b, "  Thought: %s\n", step.Thought)
		}
		if step.Action != "" {
			fmt.Fprintf(&b, "  Action: %s %v\n", step.Action, step.ActionInput)
			fmt.Fprintf(&b, "  Observation: %s\n", step.Observation)
		}
	}
	b.WriteString("\nDecide the next action.")
	return b.String()
}
