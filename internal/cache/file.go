package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/researchlab/deepresearch/internal/acquire"
	"github.com/researchlab/deepresearch/internal/metrics"
)

// FileCache is the default Manager backend, storing one JSON file per
// run under the cache directory.
type FileCache struct {
	dir    string
	logger *zap.Logger
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string, logger *zap.Logger) (*FileCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileCache{dir: dir, logger: logger}, nil
}

func (f *FileCache) markerPath(runID string) string {
	return filepath.Join(f.dir, sanitizeKey(runID)+".marker.json")
}

func (f *FileCache) fetchPath(runID string) string {
	return filepath.Join(f.dir, sanitizeKey(runID)+".fetch.json")
}

// Get returns the stage marker for a run.
func (f *FileCache) Get(_ context.Context, runID string) (*Entry, error) {
	data, err := os.ReadFile(f.markerPath(runID))
	if os.IsNotExist(err) {
		metrics.CacheMisses.WithLabelValues("file").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache marker: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse cache marker: %w", err)
	}
	if entry.RunID != runID {
		// Stale file from a colliding sanitized key; treat as a miss.
		metrics.CacheMisses.WithLabelValues("file").Inc()
		return nil, ErrNotFound
	}
	metrics.CacheHits.WithLabelValues("file").Inc()
	return &entry, nil
}

// Put persists the last-completed-stage marker.
func (f *FileCache) Put(_ context.Context, runID, stage string, artifacts map[string]string) error {
	entry := Entry{
		RunID:     runID,
		Stage:     stage,
		CachedAt:  time.Now().UTC(),
		Artifacts: artifacts,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache marker: %w", err)
	}
	if err := os.WriteFile(f.markerPath(runID), data, 0o644); err != nil {
		return fmt.Errorf("write cache marker: %w", err)
	}
	return nil
}

// SaveFetchResults stores fetched documents for the run.
func (f *FileCache) SaveFetchResults(_ context.Context, runID string, docs []acquire.Document) error {
	payload := fetchPayload{
		RunID:    runID,
		CachedAt: time.Now().UTC(),
		Results:  docs,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fetch cache: %w", err)
	}
	if err := os.WriteFile(f.fetchPath(runID), data, 0o644); err != nil {
		return fmt.Errorf("write fetch cache: %w", err)
	}
	f.logger.Debug("Cached fetch results",
		zap.String("run_id", runID),
		zap.Int("documents", len(docs)),
	)
	return nil
}

// LoadFetchResults returns cached documents for the run.
func (f *FileCache) LoadFetchResults(_ context.Context, runID string) ([]acquire.Document, error) {
	data, err := os.ReadFile(f.fetchPath(runID))
	if os.IsNotExist(err) {
		metrics.CacheMisses.WithLabelValues("file").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read fetch cache: %w", err)
	}
	var payload fetchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse fetch cache: %w", err)
	}
	if payload.RunID != runID {
		metrics.CacheMisses.WithLabelValues("file").Inc()
		return nil, ErrNotFound
	}
	metrics.CacheHits.WithLabelValues("file").Inc()
	return payload.Results, nil
}

// Delete removes the run's cached marker and fetch results.
func (f *FileCache) Delete(_ context.Context, runID string) error {
	for _, path := range []string{f.markerPath(runID), f.fetchPath(runID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete cache file: %w", err)
		}
	}
	return nil
}

// sanitizeKey keeps run ids filesystem-safe.
func sanitizeKey(runID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, runID)
}
