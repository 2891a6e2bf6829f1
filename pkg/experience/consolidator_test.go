package experience

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/agent"
	"github.com/mindweave/mindcore-go/pkg/genai/genaitest"
)

const consolidationResponse = `{"goal_template": "Summarize topic {topic}", "keywords": ["summarize", "report"], "steps": ["gather sources", "draft summary", "review"]}`

// seedRun creates a completed run with the given number of completed
// steps in its single phase.
func seedRun(t *testing.T, runs *agent.RunStore, completedSteps int) *agent.Run {
	t.Helper()
	ctx := context.Background()

	run, err := runs.CreatePlan(ctx, "summarize the Apollo report", []string{"produce the summary"})
	require.NoError(t, err)

	phases, err := runs.ListPhases(ctx, run.ID)
	require.NoError(t, err)
	phase := phases[0]
	require.NoError(t, runs.StartPhase(ctx, phase.ID))

	for i := 1; i <= completedSteps; i++ {
		step := &agent.Step{
			RunID:   run.ID,
			PhaseID: phase.ID,
			Order:   i,
			Thought: "work on the summary",
			Action:  "search_notes",
			Status:  agent.StatusRunning,
		}
		require.NoError(t, runs.AppendStep(ctx, step))
		require.NoError(t, runs.FinishStep(ctx, step.ID, "found notes", agent.StatusCompleted))
	}

	require.NoError(t, runs.FinishPhase(ctx, phase.ID, "summary produced", agent.StatusCompleted))
	require.NoError(t, runs.FinishRun(ctx, run.ID, "done", agent.RunCompleted))
	return run
}

func newStores(t *testing.T) (*agent.RunStore, *Store) {
	t.Helper()
	dir := t.TempDir()

	runs, err := agent.NewRunStore(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	store, err := NewStore(filepath.Join(dir, "experience.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return runs, store
}

func TestConsolidateCreatesExperience(t *testing.T) {
	runs, store := newStores(t)
	run := seedRun(t, runs, 2)

	fake := genaitest.New(genaitest.Text(consolidationResponse))
	consolidator := NewConsolidator(runs, fake, store)

	consolidator.Consolidate(context.Background(), run.ID)

	exp, err := store.GetByRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, "Summarize topic {topic}", exp.GoalTemplate)
	assert.Equal(t, []string{"summarize", "report"}, exp.Keywords)
	assert.Equal(t, []string{"gather sources", "draft summary", "review"}, exp.Steps)
	assert.Zero(t, exp.UseCount)

	// The transcript sent to the service carries the run goal and the
	// completed steps.
	calls := fake.Calls()
	require.Len(t, calls, 1)
	transcript := calls[0].History[0].Content
	assert.Contains(t, transcript, "Goal: summarize the Apollo report")
	assert.Contains(t, transcript, "Step 2: work on the summary [search_notes -> found notes]")
}

func TestConsolidateSkipsRunWithoutCompletedSteps(t *testing.T) {
	runs, store := newStores(t)
	run := seedRun(t, runs, 0)

	fake := genaitest.New(genaitest.Text(consolidationResponse))
	consolidator := NewConsolidator(runs, fake, store)

	consolidator.Consolidate(context.Background(), run.ID)

	exp, err := store.GetByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, exp)
	assert.Zero(t, fake.CallCount())
}

func TestConsolidateSwallowsBadResponse(t *testing.T) {
	runs, store := newStores(t)
	run := seedRun(t, runs, 1)

	fake := genaitest.New(genaitest.Text("not json at all"))
	consolidator := NewConsolidator(runs, fake, store)

	// Must not panic or raise; nothing is saved.
	consolidator.Consolidate(context.Background(), run.ID)

	exp, err := store.GetByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, exp)
}

func TestConsolidateRejectsEmptyGoalTemplate(t *testing.T) {
	runs, store := newStores(t)
	run := seedRun(t, runs, 1)

	fake := genaitest.New(genaitest.Text(`{"goal_template": "", "keywords": [], "steps": []}`))
	consolidator := NewConsolidator(runs, fake, store)

	consolidator.Consolidate(context.Background(), run.ID)

	exp, err := store.GetByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Nil(t, exp)
}

func TestFindMatchesAndOrdering(t *testing.T) {
	_, store := newStores(t)
	ctx := context.Background()

	popular := &Experience{RunID: "run-a", GoalTemplate: "Summarize topic {topic}", Keywords: []string{"summarize"}}
	require.NoError(t, store.Save(ctx, popular))
	fresh := &Experience{RunID: "run-b", GoalTemplate: "Summarize a meeting", Keywords: []string{"meeting"}}
	require.NoError(t, store.Save(ctx, fresh))
	other := &Experience{RunID: "run-c", GoalTemplate: "Book a flight", Keywords: []string{"travel"}}
	require.NoError(t, store.Save(ctx, other))

	require.NoError(t, store.IncrementUseCount(ctx, fresh.ID))
	require.NoError(t, store.IncrementUseCount(ctx, fresh.ID))

	found, err := store.Find(ctx, "summarize this report", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)

	// More-used experiences come first.
	assert.Equal(t, fresh.ID, found[0].ID)
	assert.Equal(t, 2, found[0].UseCount)
	assert.Equal(t, popular.ID, found[1].ID)

	// Matching is case-insensitive over template and keywords.
	found, err = store.Find(ctx, "TRAVEL plans", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, other.ID, found[0].ID)

	found, err = store.Find(ctx, "nothing relevant here", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}
