package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFetchTimeout = 30 * time.Second
	defaultMaxBodyBytes = 2 << 20 // 2 MiB per document
)

// HTTPFetcher is the production Fetcher. It retrieves source content
// over HTTP with a per-request timeout and a response size cap.
type HTTPFetcher struct {
	client  *http.Client
	maxBody int64
	logger  *zap.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. A zero timeout uses the default.
func NewHTTPFetcher(timeout time.Duration, logger *zap.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFetcher{
		client:  &http.Client{Timeout: timeout},
		maxBody: defaultMaxBodyBytes,
		logger:  logger,
	}
}

// Fetch retrieves src.URL. Non-2xx responses are errors so the worker
// pool records them as per-item failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, src Source) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("build request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", "deepresearch/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("fetch %s: %w", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Document{}, fmt.Errorf("fetch %s: unexpected status %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return Document{}, fmt.Errorf("read body of %s: %w", src.URL, err)
	}

	f.logger.Debug("Fetched source",
		zap.String("url", src.URL),
		zap.Int("bytes", len(body)),
	)

	return Document{
		URL:       src.URL,
		Title:     src.Title,
		Content:   string(body),
		FetchedAt: time.Now().UTC(),
	}, nil
}
