package agent

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/genai/genaitest"
)

func newTestStore(t *testing.T) *RunStore {
	t.Helper()
	store, err := NewRunStore(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func searchTool(calls *atomic.Int64) Tool {
	return Tool{
		Name:        "search_notes",
		Description: "Search stored notes for a query.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query"},
		},
		Fn: func(_ context.Context, args map[string]interface{}) (string, error) {
			if calls != nil {
				calls.Add(1)
			}
			query, _ := args["query"].(string)
			return "3 notes match " + query, nil
		},
	}
}

func TestExecuteRunCompletesPhasesInOrder(t *testing.T) {
	store := newTestStore(t)

	var toolCalls atomic.Int64
	tools := NewRegistry()
	tools.Register(searchTool(&toolCalls))

	fake := genaitest.New(
		genaitest.Tool("search_notes", map[string]interface{}{"query": "deadlines"}, "Find the deadlines first."),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "deadlines collected"}, ""),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "summary written"}, ""),
	)

	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "prepare the weekly report",
		[]string{"collect deadlines", "write summary"})
	require.NoError(t, err)
	require.Equal(t, RunRunning, run.Status)

	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, got.Status)
	assert.Contains(t, got.ResultSummary, "Phase 1 (collect deadlines): deadlines collected")
	assert.Contains(t, got.ResultSummary, "Phase 2 (write summary): summary written")

	phases, err := store.ListPhases(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, phases, 2)
	for _, phase := range phases {
		assert.Equal(t, StatusCompleted, phase.Status)
	}

	steps, err := store.ListSteps(context.Background(), phases[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 1, steps[0].Order)
	assert.Equal(t, "search_notes", steps[0].Action)
	assert.Equal(t, "3 notes match deadlines", steps[0].Observation)
	assert.Equal(t, StatusCompleted, steps[0].Status)

	assert.Equal(t, int64(1), toolCalls.Load())
}

func TestPhaseHistoryResetsBetweenPhases(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()
	tools.Register(searchTool(nil))

	// Three steps in phase 1, then the first reasoning call of phase 2.
	fake := genaitest.New(
		genaitest.Tool("search_notes", map[string]interface{}{"query": "a"}, "first"),
		genaitest.Tool("search_notes", map[string]interface{}{"query": "b"}, "second"),
		genaitest.Tool("search_notes", map[string]interface{}{"query": "c"}, "third"),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "phase one done"}, ""),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "phase two done"}, ""),
	)

	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"first phase", "second phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	calls := fake.Calls()
	require.Len(t, calls, 5)

	// Call 4 is still phase 1: its prompt carries the three prior steps.
	phase1Prompt := calls[3].History[0].Content
	assert.Contains(t, phase1Prompt, "Step 3:")

	// Call 5 opens phase 2 with no history despite phase 1's steps.
	phase2Prompt := calls[4].History[0].Content
	assert.Contains(t, phase2Prompt, "Current phase goal: second phase")
	assert.Contains(t, phase2Prompt, "No steps taken yet in this phase")
	assert.NotContains(t, phase2Prompt, "Step 1:")
}

func TestThoughtOnlyStepCountsAgainstBudget(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()
	tools.Register(searchTool(nil))

	fake := genaitest.New(
		genaitest.Text("I should think about this before acting."),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "done"}, ""),
	)

	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"only phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	phases, err := store.ListPhases(context.Background(), run.ID)
	require.NoError(t, err)

	steps, err := store.ListSteps(context.Background(), phases[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "I should think about this before acting.", steps[0].Thought)
	assert.Empty(t, steps[0].Action)
	assert.Empty(t, steps[0].Observation)
	assert.Equal(t, StatusCompleted, steps[0].Status)

	// The thought appears in the follow-up reasoning prompt.
	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].History[0].Content, "Thought: I should think about this before acting.")
}

func TestToolErrorBecomesObservation(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()
	tools.Register(Tool{
		Name:        "flaky",
		Description: "Always fails.",
		Fn: func(_ context.Context, _ map[string]interface{}) (string, error) {
			return "", errors.New("upstream timeout")
		},
	})

	fake := genaitest.New(
		genaitest.Tool("flaky", nil, "try the flaky tool"),
		genaitest.Tool(finishTool, map[string]interface{}{"result": "gave up"}, ""),
	)

	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	phases, err := store.ListPhases(context.Background(), run.ID)
	require.NoError(t, err)
	steps, err := store.ListSteps(context.Background(), phases[0].ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "error: upstream timeout", steps[0].Observation)
	assert.Equal(t, StatusCompleted, steps[0].Status)
}

func TestMaxStepsFailsRun(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()
	tools.Register(searchTool(nil))

	// Phase 1 finishes cleanly; from then on the scripted tool step
	// repeats forever, so phase 2 never finishes.
	fake := genaitest.New(
		genaitest.Tool(finishTool, map[string]interface{}{"result": "first done"}, ""),
		genaitest.Tool("search_notes", map[string]interface{}{"query": "again"}, "loop"),
	)

	engine := NewEngine(store, fake, tools, WithMaxSteps(3))

	run, err := engine.ApprovePlan(context.Background(), "goal",
		[]string{"first phase", "endless phase", "never reached"})
	require.NoError(t, err)

	err = engine.ExecuteRun(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrMaxStepsExceeded)

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)

	phases, err := store.ListPhases(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, phases, 3)
	assert.Equal(t, StatusCompleted, phases[0].Status)
	assert.Equal(t, StatusFailed, phases[1].Status)
	assert.Equal(t, StatusPending, phases[2].Status, "phases after the failure never start")

	steps, err := store.ListSteps(context.Background(), phases[1].ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	for i, step := range steps {
		assert.Equal(t, i+1, step.Order)
	}
}

func TestReasoningFailureFailsRun(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()

	fake := genaitest.New(genaitest.Fail(errors.New("service unavailable")))
	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)

	err = engine.ExecuteRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning call failed")

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
}

func TestCancelledContextFailsRun(t *testing.T) {
	store := newTestStore(t)
	tools := NewRegistry()

	fake := genaitest.New(genaitest.Text("unreachable"))
	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = engine.ExecuteRun(ctx, run.ID)
	require.ErrorIs(t, err, ErrRunCancelled)

	got, err := store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, got.Status)
	assert.Equal(t, "run cancelled", got.ResultSummary)
	assert.Zero(t, fake.CallCount())
}

func TestExecuteRunRejectsFinishedRun(t *testing.T) {
	store := newTestStore(t)
	fake := genaitest.New(genaitest.Tool(finishTool, map[string]interface{}{"result": "done"}, ""))
	engine := NewEngine(store, fake, NewRegistry())

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	err = engine.ExecuteRun(context.Background(), run.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not runnable")
}

func TestCompletionHookFires(t *testing.T) {
	store := newTestStore(t)
	fake := genaitest.New(genaitest.Tool(finishTool, map[string]interface{}{"result": "done"}, ""))

	hooked := make(chan string, 1)
	engine := NewEngine(store, fake, NewRegistry(),
		WithCompletionHook(func(runID string) { hooked <- runID }))

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))
	engine.Wait()

	select {
	case got := <-hooked:
		assert.Equal(t, run.ID, got)
	case <-time.After(time.Second):
		t.Fatal("completion hook never fired")
	}
}

func TestFinishToolNotForwardedToRegistry(t *testing.T) {
	store := newTestStore(t)

	var toolCalls atomic.Int64
	tools := NewRegistry()
	tools.Register(searchTool(&toolCalls))

	fake := genaitest.New(genaitest.Tool(finishTool, map[string]interface{}{"result": "done"}, ""))
	engine := NewEngine(store, fake, tools)

	run, err := engine.ApprovePlan(context.Background(), "goal", []string{"phase"})
	require.NoError(t, err)
	require.NoError(t, engine.ExecuteRun(context.Background(), run.ID))

	assert.Zero(t, toolCalls.Load())

	// Finish produces no persisted step.
	phases, err := store.ListPhases(context.Background(), run.ID)
	require.NoError(t, err)
	steps, err := store.ListSteps(context.Background(), phases[0].ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	// The declaration list always includes the finish tool last.
	calls := fake.Calls()
	require.Len(t, calls, 1)
	declared := calls[0].Tools
	require.NotEmpty(t, declared)
	assert.Equal(t, finishTool, declared[len(declared)-1].Name)
}
