package episodic

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindweave/mindcore-go/pkg/tier"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "episodic.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestConversation(t *testing.T, store *Store) *Conversation {
	t.Helper()
	conv := &Conversation{Title: "test", EnableSemantic: true}
	require.NoError(t, store.CreateConversation(context.Background(), conv))
	return conv
}

type recordingSummarizer struct {
	mu    sync.Mutex
	turns []string
	err   error
}

func (r *recordingSummarizer) Summarize(_ context.Context, turn *Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn.ID)
	return r.err
}

func (r *recordingSummarizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

func TestAppendTurnAssignsSequence(t *testing.T) {
	store := newTestStore(t)
	conv := newTestConversation(t, store)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		turn, err := store.AppendTurn(ctx, &Turn{
			ConversationID: conv.ID,
			Role:           "user",
			Content:        fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
		assert.Equal(t, i, turn.Seq)
		assert.NotEmpty(t, turn.ID)
	}
}

func TestAppendTurnTouchesConversation(t *testing.T) {
	store := newTestStore(t)
	conv := newTestConversation(t, store)
	ctx := context.Background()

	before, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)

	_, err = store.AppendTurn(ctx, &Turn{ConversationID: conv.ID, Role: "user", Content: "hi"})
	require.NoError(t, err)

	after, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt) || after.UpdatedAt.Equal(before.UpdatedAt))
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))
}

func TestRecentTurnsChronological(t *testing.T) {
	store := newTestStore(t)
	conv := newTestConversation(t, store)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := store.AppendTurn(ctx, &Turn{
			ConversationID: conv.ID,
			Role:           "user",
			Content:        fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	turns, err := store.RecentTurns(ctx, conv.ID, 3)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	// The most recent 3 turns, oldest first.
	assert.Equal(t, "message 3", turns[0].Content)
	assert.Equal(t, "message 4", turns[1].Content)
	assert.Equal(t, "message 5", turns[2].Content)
}

func TestSummarizationTriggerThreshold(t *testing.T) {
	summarizer := &recordingSummarizer{}
	store := newTestStore(t, WithSummarizer(summarizer))
	conv := newTestConversation(t, store)
	ctx := context.Background()

	short := strings.Repeat("word ", 500)
	_, err := store.AppendTurn(ctx, &Turn{ConversationID: conv.ID, Role: "user", Content: short})
	require.NoError(t, err)
	store.Wait()
	assert.Equal(t, 0, summarizer.count(), "500 words must not trigger summarization")

	long := strings.Repeat("word ", 501)
	_, err = store.AppendTurn(ctx, &Turn{ConversationID: conv.ID, Role: "user", Content: long})
	require.NoError(t, err)
	store.Wait()
	assert.Equal(t, 1, summarizer.count(), "501 words must trigger summarization")
}

func TestSummarizerFailureDoesNotFailStore(t *testing.T) {
	summarizer := &recordingSummarizer{err: fmt.Errorf("summarizer down")}
	store := newTestStore(t, WithSummarizer(summarizer))
	conv := newTestConversation(t, store)

	long := strings.Repeat("word ", 600)
	turn, err := store.AppendTurn(context.Background(), &Turn{
		ConversationID: conv.ID, Role: "user", Content: long,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, turn.ID)
	store.Wait()
	assert.Equal(t, 1, summarizer.count())
}

func TestTurnMetadataEdits(t *testing.T) {
	store := newTestStore(t)
	conv := newTestConversation(t, store)
	ctx := context.Background()

	turn, err := store.AppendTurn(ctx, &Turn{ConversationID: conv.ID, Role: "user", Content: "original"})
	require.NoError(t, err)

	require.NoError(t, store.SetBookmark(ctx, turn.ID, true))
	require.NoError(t, store.SetTags(ctx, turn.ID, []string{"important"}))
	require.NoError(t, store.EditContent(ctx, turn.ID, "edited"))

	turns, err := store.RecentTurns(ctx, conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Bookmarked)
	assert.Equal(t, []string{"important"}, turns[0].Tags)
	assert.Equal(t, "edited", turns[0].Content)
	assert.Equal(t, 1, turns[0].Seq, "edits must not change ordering")
}

func TestTierInterface(t *testing.T) {
	store := newTestStore(t)
	conv := newTestConversation(t, store)
	ctx := context.Background()

	var tr tier.Tier = store
	assert.Equal(t, tier.Episodic, tr.Name())

	record, err := tr.Store(ctx, tier.StoreParams{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, tier.Episodic, record.Tier)

	results, err := tr.Query(ctx, tier.QueryParams{ConversationID: conv.ID, Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "hello", results[0].Text)
	assert.Equal(t, "user", results[0].Metadata["role"])
}
