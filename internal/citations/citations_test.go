package citations

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	m := NewManager(zap.NewNop())

	for i := 0; i < 12; i++ {
		c := m.Register(SourceMeta{
			URL:   fmt.Sprintf("https://example.com/%d", i),
			Title: fmt.Sprintf("Source %d", i),
		})
		assert.Equal(t, fmt.Sprintf("C%03d", i+1), c.CID)
		assert.True(t, ValidCID(c.CID))
	}

	all := m.All()
	require.Len(t, all, 12)
	for i, c := range all {
		assert.Equal(t, fmt.Sprintf("C%03d", i+1), c.CID, "registration order must be preserved")
	}
}

func TestLookup(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(SourceMeta{URL: "https://example.com/a", Title: "A"})

	c, ok := m.Lookup("C001")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", c.URL)

	_, ok = m.Lookup("C999")
	assert.False(t, ok)
}

func TestQuoteHash(t *testing.T) {
	m := NewManager(zap.NewNop())

	withQuote := m.Register(SourceMeta{URL: "u", Title: "t", Quote: "a direct quote"})
	assert.Len(t, withQuote.QuoteHash, 16)

	noQuote := m.Register(SourceMeta{URL: "u2", Title: "t2"})
	assert.Empty(t, noQuote.QuoteHash)
}

func TestSaveLoadContinuesCounter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "citations.json")

	m := NewManager(zap.NewNop())
	m.Register(SourceMeta{URL: "https://example.com/0", Title: "Source 0"})
	m.Register(SourceMeta{URL: "https://example.com/1", Title: "Source 1"})
	require.NoError(t, m.Save(path))

	// Simulate resume: a fresh manager loads the saved list and keeps
	// allocating above the highest existing cid.
	resumed := NewManager(zap.NewNop())
	require.NoError(t, resumed.Load(path))
	assert.Equal(t, 2, resumed.Count())

	next := resumed.Register(SourceMeta{URL: "https://example.com/2", Title: "Source 2"})
	assert.Equal(t, "C003", next.CID, "cids must never be reused or renumbered across resume")
}

func TestSortedCIDs(t *testing.T) {
	m := NewManager(zap.NewNop())
	for i := 0; i < 11; i++ {
		m.Register(SourceMeta{URL: fmt.Sprintf("https://example.com/%d", i)})
	}

	cids := m.SortedCIDs()
	require.Len(t, cids, 11)
	assert.Equal(t, "C001", cids[0])
	assert.Equal(t, "C011", cids[10])
	assert.IsIncreasing(t, cids)
}

func TestFindInText(t *testing.T) {
	text := "First claim (C001). Second claim (C002, C003).\n\nRepeat (C001)."
	assert.Equal(t, []string{"C001", "C002", "C003"}, FindInText(text))

	assert.Empty(t, FindInText("no markers here (C1) (see figure 2)"))
}

func TestFormatMarker(t *testing.T) {
	assert.Equal(t, "(C001)", FormatMarker([]string{"C001"}))
	assert.Equal(t, "(C001, C002)", FormatMarker([]string{"C001", "C002"}))
	assert.Empty(t, FormatMarker(nil))
}

func TestValidate(t *testing.T) {
	m := NewManager(zap.NewNop())
	m.Register(SourceMeta{URL: "u", Title: "t"})

	valid, invalid := m.Validate("known (C001) and dangling (C042)")
	assert.Equal(t, 1, valid)
	assert.Equal(t, 1, invalid)
}
