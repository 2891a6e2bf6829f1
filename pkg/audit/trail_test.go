package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrail(t *testing.T) *Trail {
	t.Helper()
	trail, err := NewTrail(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = trail.Close() })
	return trail
}

func TestRunLifecycle(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	rec, err := trail.Begin(ctx, "memory_extraction")
	require.NoError(t, err)

	run, err := trail.GetRun(ctx, rec.RunID())
	require.NoError(t, err)
	assert.Equal(t, "memory_extraction", run.Type)
	assert.Equal(t, StatusRunning, run.Status)

	require.NoError(t, rec.Step(ctx, "extract", StatusCompleted, "turn text", "2 entities", 5*time.Millisecond))
	require.NoError(t, rec.Step(ctx, "store_entities", StatusCompleted, "2 entities", "2 stored", time.Millisecond))
	require.NoError(t, rec.Finish(ctx, StatusCompleted))

	run, err = trail.GetRun(ctx, rec.RunID())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)

	steps, err := trail.ListSteps(ctx, rec.RunID())
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Order)
	assert.Equal(t, "extract", steps[0].Name)
	assert.Equal(t, 2, steps[1].Order)
	assert.Equal(t, "store_entities", steps[1].Name)
}

func TestFinalizedRecorderRejectsSteps(t *testing.T) {
	trail := newTestTrail(t)
	ctx := context.Background()

	rec, err := trail.Begin(ctx, "context_assembly")
	require.NoError(t, err)
	require.NoError(t, rec.Finish(ctx, StatusFailed))

	assert.Error(t, rec.Step(ctx, "late", StatusCompleted, "", "", 0))
	assert.Error(t, rec.Finish(ctx, StatusCompleted))
}
