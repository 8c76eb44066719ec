package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStubHarvesterDeterministic(t *testing.T) {
	h := StubHarvester{}

	first, err := h.Discover(context.Background(), "quantum computing applications", 3)
	require.NoError(t, err)
	second, err := h.Discover(context.Background(), "quantum computing applications", 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 3)
	assert.Equal(t, "https://example.com/0", first[0].URL)
	assert.Greater(t, first[0].Relevance, first[2].Relevance)
}

func TestStubHarvesterZeroLimit(t *testing.T) {
	h := StubHarvester{}
	sources, err := h.Discover(context.Background(), "anything", 0)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestStubFetcher(t *testing.T) {
	f := StubFetcher{}
	doc, err := f.Fetch(context.Background(), Source{URL: "https://example.com/0", Title: "Source 0"})
	require.NoError(t, err)
	assert.Equal(t, "Mock content for Source 0", doc.Content)
	assert.False(t, doc.FetchedAt.IsZero())
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, zap.NewNop())
	doc, err := f.Fetch(context.Background(), Source{URL: srv.URL, Title: "Page"})
	require.NoError(t, err)
	assert.Equal(t, "page body", doc.Content)
}

func TestHTTPFetcherNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0, zap.NewNop())
	_, err := f.Fetch(context.Background(), Source{URL: srv.URL})
	assert.Error(t, err)
}
