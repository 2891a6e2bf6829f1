package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/agent"
	"github.com/mindweave/mindcore-go/pkg/genai/genaitest"
	"github.com/mindweave/mindcore-go/pkg/tier"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		GenAI: GenAIConfig{
			Provider: "openai",
			APIKey:   "test-key",
			Model:    "gpt-4o-mini",
		},
		Embedder: EmbedderConfig{
			Provider:   "hash",
			Dimensions: 8,
		},
		VectorStore: VectorStoreConfig{
			Provider: "sqlite",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(t.TempDir(), "assistant.db"),
		},
	}
}

func newTestAssistant(t *testing.T, fake *genaitest.Fake) *Assistant {
	t.Helper()
	assistant, err := NewAssistant(testConfig(t), WithService(fake))
	require.NoError(t, err)
	t.Cleanup(func() { _ = assistant.Close() })
	return assistant
}

func TestNewAssistantValidatesConfig(t *testing.T) {
	config := testConfig(t)
	config.Database.Path = ""

	_, err := NewAssistant(config)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewAssistantRejectsUnknownProviders(t *testing.T) {
	config := testConfig(t)
	config.GenAI.Provider = "telepathy"

	_, err := NewAssistant(config)
	require.ErrorIs(t, err, ErrInvalidConfig)

	config = testConfig(t)
	config.VectorStore.Provider = "warehouse"
	_, err = NewAssistant(config, WithService(genaitest.New()))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChatPersistsTurnsAndExtracts(t *testing.T) {
	fake := genaitest.New(
		genaitest.Text("Apollo is on track."),
		genaitest.Text(`{"entities": [{"name": "Apollo", "type": "project", "details": "a project"}], "knowledge": ["Apollo is on track."]}`),
	)
	assistant := newTestAssistant(t, fake)
	ctx := context.Background()

	conv, err := assistant.CreateConversation(ctx, "status", "You are terse.",
		TierFlags{Semantic: true, Structured: true})
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	result, err := assistant.Chat(ctx, conv.ID, "How is Apollo doing?")
	require.NoError(t, err)
	assert.Equal(t, "Apollo is on track.", result.Reply)
	assert.Contains(t, result.Retrievals, tier.Episodic)

	// Both turns are persisted in order.
	episodicTier, err := assistant.Registry().Get(tier.Episodic)
	require.NoError(t, err)
	turns, err := episodicTier.Query(ctx, tier.QueryParams{ConversationID: conv.ID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "How is Apollo doing?", turns[0].Text)
	assert.Equal(t, "Apollo is on track.", turns[1].Text)

	// The detached extraction drains on Close, after which the fake has
	// seen the assembly call plus the extraction call.
	assistant.dispatcher.Wait()
	assert.Equal(t, 2, fake.CallCount())
}

func TestChatUnknownConversation(t *testing.T) {
	assistant := newTestAssistant(t, genaitest.New())

	_, err := assistant.Chat(context.Background(), "no-such-conversation", "hello")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestChatGenerationFailureSurfaces(t *testing.T) {
	fake := genaitest.New(genaitest.Fail(assertableError("service down")))
	assistant := newTestAssistant(t, fake)
	ctx := context.Background()

	conv, err := assistant.CreateConversation(ctx, "t", "", TierFlags{})
	require.NoError(t, err)

	_, err = assistant.Chat(ctx, conv.ID, "hello")
	require.ErrorIs(t, err, ErrGenerationFailed)
}

func TestAgentRunThroughFacade(t *testing.T) {
	fake := genaitest.New(
		genaitest.Tool("note", map[string]interface{}{"text": "checked"}, "record progress"),
		genaitest.Tool("finish", map[string]interface{}{"result": "all noted"}, ""),
		// Consolidation call fired by the completion hook.
		genaitest.Text(`{"goal_template": "Note {thing}", "keywords": ["note"], "steps": ["record it"]}`),
	)
	assistant := newTestAssistant(t, fake)
	ctx := context.Background()

	assistant.RegisterTool(agent.Tool{
		Name:        "note",
		Description: "Record a note.",
		Fn: func(_ context.Context, args map[string]interface{}) (string, error) {
			text, _ := args["text"].(string)
			return "noted: " + text, nil
		},
	})

	run, err := assistant.ApprovePlan(ctx, "note everything", []string{"take notes"})
	require.NoError(t, err)

	status, err := assistant.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunRunning, status.Run.Status)
	require.Len(t, status.Phases, 1)
	assert.Equal(t, agent.StatusPending, status.Phases[0].Status)

	require.NoError(t, assistant.ExecuteRun(ctx, run.ID))

	status, err = assistant.GetRunStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, agent.RunCompleted, status.Run.Status)
	assert.Equal(t, agent.StatusCompleted, status.Phases[0].Status)

	steps := status.Steps[status.Phases[0].ID]
	require.Len(t, steps, 1)
	assert.Equal(t, "noted: checked", steps[0].Observation)

	// The completion hook consolidates the run into a findable
	// experience.
	assistant.engine.Wait()
	found, err := assistant.FindExperiences(ctx, "note something", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Note {thing}", found[0].GoalTemplate)
	assert.Zero(t, found[0].UseCount)

	require.NoError(t, assistant.UseExperience(ctx, found[0].ID))
	found, err = assistant.FindExperiences(ctx, "note something", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 1, found[0].UseCount)
}

func TestSummarizationStoresIntoSemanticTier(t *testing.T) {
	fake := genaitest.New(genaitest.Text("A long discussion about databases."))
	assistant := newTestAssistant(t, fake)
	ctx := context.Background()

	conv, err := assistant.CreateConversation(ctx, "t", "", TierFlags{Semantic: true})
	require.NoError(t, err)

	long := ""
	for i := 0; i < 501; i++ {
		long += "word "
	}
	_, err = assistant.AppendTurn(ctx, conv.ID, "user", long)
	require.NoError(t, err)

	// Summarization is detached; give it a moment then check the
	// semantic tier received the summary.
	deadline := time.Now().Add(2 * time.Second)
	semanticTier, err := assistant.Registry().Get(tier.Semantic)
	require.NoError(t, err)

	for {
		// Querying with the exact summary text matches it regardless of
		// the hash embedder's lack of semantics.
		results, err := semanticTier.Query(ctx, tier.QueryParams{Query: "A long discussion about databases.", Limit: 1})
		require.NoError(t, err)
		if len(results) > 0 {
			assert.Equal(t, "A long discussion about databases.", results[0].Text)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("summary never reached the semantic tier")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCloseReleasesResources(t *testing.T) {
	assistant, err := NewAssistant(testConfig(t), WithService(genaitest.New()))
	require.NoError(t, err)

	conv, err := assistant.CreateConversation(context.Background(), "t", "", TierFlags{})
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)

	require.NoError(t, assistant.Close())
}

// assertableError is a trivial error type for scripting failures.
type assertableError string

func (e assertableError) Error() string { return string(e) }
