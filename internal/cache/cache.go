// Package cache persists per-run progress markers and fetched content so
// a re-invocation with the same run_id can resume and skip acquisition.
// Entries are keyed per run_id only; there is no cross-run content
// deduplication.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/researchlab/deepresearch/internal/acquire"
)

// ErrNotFound is returned when no cache entry exists for a run.
var ErrNotFound = errors.New("cache: entry not found")

// Entry is the per-run progress marker: the last completed stage plus
// references to the artifacts that stage produced.
type Entry struct {
	RunID     string            `json:"run_id"`
	Stage     string            `json:"stage"`
	CachedAt  time.Time         `json:"cached_at"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// fetchPayload wraps cached fetch results with provenance.
type fetchPayload struct {
	RunID    string             `json:"run_id"`
	CachedAt time.Time          `json:"cached_at"`
	Results  []acquire.Document `json:"results"`
}

// Manager is the cache contract the state machine depends on.
type Manager interface {
	// Get returns the last-completed-stage marker for a run, or
	// ErrNotFound.
	Get(ctx context.Context, runID string) (*Entry, error)
	// Put persists the marker after a stage completes.
	Put(ctx context.Context, runID, stage string, artifacts map[string]string) error
	// SaveFetchResults stores fetched documents for fetch-skip on
	// re-invocation.
	SaveFetchResults(ctx context.Context, runID string, docs []acquire.Document) error
	// LoadFetchResults returns cached documents, or ErrNotFound.
	LoadFetchResults(ctx context.Context, runID string) ([]acquire.Document, error)
	// Delete removes all cached data for a run.
	Delete(ctx context.Context, runID string) error
}
