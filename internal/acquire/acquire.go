// Package acquire defines the source-acquisition capability the pipeline
// depends on but does not implement. The state machine only sees the
// Harvester and Fetcher interfaces; deterministic stubs and a production
// HTTP fetcher satisfy them interchangeably.
package acquire

import (
	"context"
	"time"
)

// Source is a discovered candidate, prior to content retrieval.
type Source struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Relevance float64 `json:"relevance"`
}

// Document is retrieved source content.
type Document struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Harvester discovers candidate sources for a query. limit caps the
// number of candidates returned.
type Harvester interface {
	Discover(ctx context.Context, query string, limit int) ([]Source, error)
}

// Fetcher retrieves content for one source. Timeouts are the fetcher's
// responsibility and surface as a per-item error to the worker pool.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) (Document, error)
}
