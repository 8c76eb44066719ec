package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := RunRecord{
		RunID:  "run-1",
		Topic:  "quantum computing applications",
		Status: "running",
		Stage:  "plan",
	}
	require.NoError(t, s.Upsert(ctx, rec))

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "quantum computing applications", got.Topic)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, "plan", got.Stage)
	assert.False(t, got.CreatedAt.IsZero())

	// Update moves status/stage, keeps identity.
	rec.Status = "completed"
	rec.Stage = "cache"
	require.NoError(t, s.Upsert(ctx, rec))

	got, err = s.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Status)
	assert.Equal(t, "cache", got.Stage)
}

func TestGetMissing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, RunRecord{RunID: "old", Topic: "a", Status: "completed"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Upsert(ctx, RunRecord{RunID: "new", Topic: "b", Status: "running"}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "new", recs[0].RunID)
	assert.Equal(t, "old", recs[1].RunID)
}
