package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/researchlab/deepresearch/internal/acquire"
)

// backends returns one of each Manager implementation, both empty.
func backends(t *testing.T) map[string]Manager {
	t.Helper()

	fc, err := NewFileCache(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc := NewRedisCacheWithClient(client, time.Hour, zap.NewNop())

	return map[string]Manager{"file": fc, "redis": rc}
}

func TestMarkerRoundTrip(t *testing.T) {
	for name, mgr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := mgr.Get(ctx, "run-1")
			assert.ErrorIs(t, err, ErrNotFound)

			artifacts := map[string]string{"report": "final/report.md"}
			require.NoError(t, mgr.Put(ctx, "run-1", "fetch", artifacts))

			entry, err := mgr.Get(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, "run-1", entry.RunID)
			assert.Equal(t, "fetch", entry.Stage)
			assert.Equal(t, artifacts, entry.Artifacts)
			assert.False(t, entry.CachedAt.IsZero())
		})
	}
}

func TestMarkerOverwriteKeepsLatestStage(t *testing.T) {
	for name, mgr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, mgr.Put(ctx, "run-2", "plan", nil))
			require.NoError(t, mgr.Put(ctx, "run-2", "harvest", nil))

			entry, err := mgr.Get(ctx, "run-2")
			require.NoError(t, err)
			assert.Equal(t, "harvest", entry.Stage)
		})
	}
}

func TestFetchResultsRoundTrip(t *testing.T) {
	for name, mgr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := mgr.LoadFetchResults(ctx, "run-3")
			assert.ErrorIs(t, err, ErrNotFound)

			docs := []acquire.Document{
				{URL: "https://example.com/0", Title: "Source 0", Content: "body 0"},
				{URL: "https://example.com/1", Title: "Source 1", Content: "body 1"},
			}
			require.NoError(t, mgr.SaveFetchResults(ctx, "run-3", docs))

			loaded, err := mgr.LoadFetchResults(ctx, "run-3")
			require.NoError(t, err)
			require.Len(t, loaded, 2)
			assert.Equal(t, docs[0].URL, loaded[0].URL)
			assert.Equal(t, docs[1].Content, loaded[1].Content)
		})
	}
}

func TestCacheIsKeyedPerRun(t *testing.T) {
	for name, mgr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := []acquire.Document{{URL: "u", Title: "t", Content: "c"}}
			require.NoError(t, mgr.SaveFetchResults(ctx, "run-a", docs))

			// Identical content under a different run_id is still a miss.
			_, err := mgr.LoadFetchResults(ctx, "run-b")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDelete(t *testing.T) {
	for name, mgr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, mgr.Put(ctx, "run-4", "cache", nil))
			require.NoError(t, mgr.SaveFetchResults(ctx, "run-4", nil))

			require.NoError(t, mgr.Delete(ctx, "run-4"))
			_, err := mgr.Get(ctx, "run-4")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = mgr.LoadFetchResults(ctx, "run-4")
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent run is not an error.
			require.NoError(t, mgr.Delete(ctx, "never-existed"))
		})
	}
}
