package acquire

import (
	"context"
	"fmt"
	"time"
)

// StubHarvester produces deterministic synthetic candidates; used by the
// default stage handlers and in tests.
type StubHarvester struct{}

// Discover returns limit synthetic sources with decreasing relevance.
func (StubHarvester) Discover(_ context.Context, query string, limit int) ([]Source, error) {
	if limit <= 0 {
		return nil, nil
	}
	sources := make([]Source, 0, limit)
	for i := 0; i < limit; i++ {
		sources = append(sources, Source{
			URL:       fmt.Sprintf("https://example.com/%d", i),
			Title:     fmt.Sprintf("Source %d", i),
			Relevance: 0.9 - float64(i)*0.1,
		})
	}
	_ = query
	return sources, nil
}

// StubFetcher returns synthetic content derived from the source title.
// An optional Delay simulates network latency in concurrency tests.
type StubFetcher struct {
	Delay time.Duration
}

// Fetch returns a deterministic document for src.
func (f StubFetcher) Fetch(ctx context.Context, src Source) (Document, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return Document{}, ctx.Err()
		}
	}
	return Document{
		URL:       src.URL,
		Title:     src.Title,
		Content:   fmt.Sprintf("Mock content for %s", src.Title),
		FetchedAt: time.Now().UTC(),
	}, nil
}
