// Package citations tracks per-run citation identifiers and source
// provenance. Identifiers are allocated in strict registration order and
// are never reused or renumbered, including across resumed runs.
package citations

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/researchlab/deepresearch/internal/metrics"
)

// cidPattern is the canonical citation id shape: C followed by exactly
// three digits.
var cidPattern = regexp.MustCompile(`^C\d{3}$`)

// markerPattern matches inline citation markers such as (C001) or
// (C001, C002) and captures the id group.
var markerPattern = regexp.MustCompile(`\((C\d{3}(?:,\s*C\d{3})*)\)`)

// ValidCID reports whether s is a well-formed citation id.
func ValidCID(s string) bool {
	return cidPattern.MatchString(s)
}

// Citation is one acquired source with its stable per-run identifier.
type Citation struct {
	CID       string    `json:"cid"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Locator   string    `json:"locator"`
	FetchedAt time.Time `json:"fetched_at"`
	QuoteHash string    `json:"quote_hash,omitempty"`
	LocalPath string    `json:"local_path,omitempty"`
}

// SourceMeta is the provenance handed to Register; the manager assigns
// the cid itself.
type SourceMeta struct {
	URL       string
	Title     string
	Locator   string
	Quote     string
	LocalPath string
	FetchedAt time.Time
}

// Manager allocates citation ids from a monotonic per-run counter and
// keeps citations in registration order.
type Manager struct {
	mu      sync.Mutex
	ordered []*Citation
	byID    map[string]*Citation
	counter int
	logger  *zap.Logger
}

// NewManager creates an empty citation manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		byID:   make(map[string]*Citation),
		logger: logger,
	}
}

// Register allocates the next cid and stores the citation. The counter
// only moves forward; after Load it continues from max-existing+1.
func (m *Manager) Register(src SourceMeta) *Citation {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counter++
	fetchedAt := src.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}

	c := &Citation{
		CID:       fmt.Sprintf("C%03d", m.counter),
		URL:       src.URL,
		Title:     src.Title,
		Locator:   src.Locator,
		FetchedAt: fetchedAt,
		LocalPath: src.LocalPath,
	}
	if src.Quote != "" {
		sum := md5.Sum([]byte(src.Quote))
		c.QuoteHash = hex.EncodeToString(sum[:])[:16]
	}

	m.ordered = append(m.ordered, c)
	m.byID[c.CID] = c
	metrics.CitationsRegistered.Inc()

	m.logger.Debug("Registered citation",
		zap.String("cid", c.CID),
		zap.String("url", c.URL),
	)
	return c
}

// Lookup returns the citation for cid, if registered.
func (m *Manager) Lookup(cid string) (*Citation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[cid]
	return c, ok
}

// Has reports whether cid is registered.
func (m *Manager) Has(cid string) bool {
	_, ok := m.Lookup(cid)
	return ok
}

// All returns the citations in registration order.
func (m *Manager) All() []*Citation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Citation, len(m.ordered))
	copy(out, m.ordered)
	return out
}

// Count returns the number of registered citations.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ordered)
}

// Save writes the citation list as a JSON array in registration order.
func (m *Manager) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.ordered, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write citations: %w", err)
	}
	return nil
}

// Load replaces the manager contents with a previously saved list and
// advances the counter past the highest cid seen, so later Register
// calls never reuse an id.
func (m *Manager) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read citations: %w", err)
	}
	var list []*Citation
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("parse citations: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.ordered = m.ordered[:0]
	m.byID = make(map[string]*Citation, len(list))
	m.counter = 0
	for _, c := range list {
		m.ordered = append(m.ordered, c)
		m.byID[c.CID] = c
		if n, err := strconv.Atoi(c.CID[1:]); err == nil && n > m.counter {
			m.counter = n
		}
	}
	return nil
}

// FindInText returns all well-formed cids referenced by markers in text,
// in order of appearance, deduplicated.
func FindInText(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range markerPattern.FindAllStringSubmatch(text, -1) {
		for _, cid := range splitMarkerGroup(match[1]) {
			if _, dup := seen[cid]; dup {
				continue
			}
			seen[cid] = struct{}{}
			out = append(out, cid)
		}
	}
	return out
}

// FormatMarker renders cids as an inline marker: (C001, C002).
func FormatMarker(cids []string) string {
	if len(cids) == 0 {
		return ""
	}
	marker := "("
	for i, cid := range cids {
		if i > 0 {
			marker += ", "
		}
		marker += cid
	}
	return marker + ")"
}

// Validate checks every marker in text against the registered set and
// returns the counts of resolvable and dangling references.
func (m *Manager) Validate(text string) (valid, invalid int) {
	for _, cid := range FindInText(text) {
		if m.Has(cid) {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// splitMarkerGroup splits the inside of a marker group on commas.
func splitMarkerGroup(group string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(group); i++ {
		if i == len(group) || group[i] == ',' {
			cid := group[start:i]
			for len(cid) > 0 && (cid[0] == ' ' || cid[0] == '\t') {
				cid = cid[1:]
			}
			if cid != "" {
				out = append(out, cid)
			}
			start = i + 1
		}
	}
	return out
}

// SortedCIDs returns the registered cids in ascending order; useful for
// stable logging output.
func (m *Manager) SortedCIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cids := make([]string, 0, len(m.byID))
	for cid := range m.byID {
		cids = append(cids, cid)
	}
	sort.Strings(cids)
	return cids
}
