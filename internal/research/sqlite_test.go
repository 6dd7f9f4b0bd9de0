package research

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-justice/intervention-graph/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "research.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	sess := &Session{Query: "healing circles", Depth: 2, MaxConsentLevel: model.ConsentCommunityControlled}
	require.NoError(t, store.CreateSession(ctx, sess))

	require.NoError(t, store.MarkPlanning(ctx, sess.ID))
	require.NoError(t, store.RecordPlan(ctx, sess.ID, []PlanStep{{Tool: "search_interventions", Query: "healing circles"}}))
	require.NoError(t, store.MarkExecuting(ctx, sess.ID))

	require.NoError(t, store.AppendToolLog(ctx, &ToolLog{SessionID: sess.ID, Tool: "search_interventions", Success: true}))
	require.NoError(t, store.AppendFinding(ctx, &Finding{SessionID: sess.ID, Seq: 0, Source: "search_interventions", Content: `{"id":"iv-1"}`}))

	require.NoError(t, store.MarkCompleted(ctx, sess.ID, "1 of 1 steps succeeded"))

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	require.Len(t, got.Plan, 1)

	findings, err := store.ListFindings(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	logs, err := store.ListToolLogs(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
}

func TestSQLiteTransitionsAreCompareAndSet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	sess := &Session{Query: "q"}
	require.NoError(t, store.CreateSession(ctx, sess))

	assert.True(t, model.IsConflict(store.MarkExecuting(ctx, sess.ID)), "pending cannot jump to executing")

	require.NoError(t, store.MarkPlanning(ctx, sess.ID))
	require.NoError(t, store.MarkFailed(ctx, sess.ID, "planner produced nothing"))

	assert.True(t, model.IsConflict(store.MarkPlanning(ctx, sess.ID)), "failed is absorbing")

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "planner produced nothing", got.ErrorMessage)
}

func TestSQLiteFeedbackLastWriteWins(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	sess := &Session{Query: "q"}
	require.NoError(t, store.CreateSession(ctx, sess))

	err := store.SetFeedback(ctx, sess.ID, Feedback{Helpful: true})
	assert.True(t, model.IsConflict(err))

	require.NoError(t, store.MarkFailed(ctx, sess.ID, "nothing to do"))
	require.NoError(t, store.SetFeedback(ctx, sess.ID, Feedback{Helpful: false, Corrections: "try WA"}))
	require.NoError(t, store.SetFeedback(ctx, sess.ID, Feedback{Helpful: true}))

	got, err := store.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Feedback)
	assert.True(t, got.Feedback.Helpful)
	assert.Empty(t, got.Feedback.Corrections)
}

func TestSQLiteLeaseSingleDriver(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	ok, err := store.AcquireLease(ctx, "s1", "driver-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLease(ctx, "s1", "driver-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "an unexpired lease excludes other drivers")

	ok, err = store.AcquireLease(ctx, "s1", "driver-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the holder can renew")

	require.NoError(t, store.ReleaseLease(ctx, "s1", "driver-a"))
	ok, err = store.AcquireLease(ctx, "s1", "driver-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
