package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/researchlab/deepresearch/internal/acquire"
	"github.com/researchlab/deepresearch/internal/citations"
	"github.com/researchlab/deepresearch/internal/clarify"
	"github.com/researchlab/deepresearch/internal/verify"
)

// PlanParams are the research plan parameters fixed at the plan stage.
type PlanParams struct {
	Workers          int      `json:"workers"`
	Depth            string   `json:"depth"`
	Budget           int      `json:"budget"`
	Lang             string   `json:"lang"`
	FetchRate        float64  `json:"fetch_rate,omitempty"`
	Queries          []string `json:"queries,omitempty"`
	SourceKinds      []string `json:"sources,omitempty"`
	EstimatedSources int      `json:"estimated_sources,omitempty"`
}

// ParagraphDraft is one drafted paragraph with its citation references.
// Every cite id must resolve to a registered citation.
type ParagraphDraft struct {
	Text    string   `json:"text"`
	CiteIDs []string `json:"cite_ids"`
}

// Extract is the distilled content of one fetched document.
type Extract struct {
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	KeyPoints []string `json:"key_points"`
	Quotes    []string `json:"quotes"`
}

// RunState is the complete state of one research run. It is owned
// exclusively by the StateMachine executing the run and is mutated only
// on that goroutine; worker pool results are merged in only after the
// pool has fully drained.
type RunState struct {
	RunID         string
	Topic         string
	CurrentStage  Stage
	Status        RunStatus
	Clarification *clarify.Record
	Plan          PlanParams
	Sources       []acquire.Source
	Documents     []acquire.Document
	Extracts      []Extract
	Citations     []*citations.Citation
	Paragraphs    []ParagraphDraft
	Verification  *verify.Result
	CreatedAt     time.Time
	UpdatedAt     time.Time

	layout      Layout
	citer       *citations.Manager
	interactive bool
}

// Layout returns the persisted artifact layout for the run.
func (st *RunState) Layout() Layout { return st.layout }

// CitationManager returns the per-run citation manager. Custom stage
// handlers register sources through it so cid allocation stays monotonic.
func (st *RunState) CitationManager() *citations.Manager { return st.citer }

// stateSnapshot is the state.json shape flushed after every transition.
type stateSnapshot struct {
	RunID         string          `json:"run_id"`
	Topic         string          `json:"topic"`
	CurrentStage  Stage           `json:"current_stage"`
	Status        RunStatus       `json:"status"`
	Plan          PlanParams      `json:"plan"`
	Clarification *clarify.Record `json:"clarification,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Flush persists the state snapshot. Called after every stage
// transition; this is the crash-recovery boundary between stages.
func (st *RunState) Flush() error {
	st.UpdatedAt = time.Now().UTC()
	snap := stateSnapshot{
		RunID:         st.RunID,
		Topic:         st.Topic,
		CurrentStage:  st.CurrentStage,
		Status:        st.Status,
		Plan:          st.Plan,
		Clarification: st.Clarification,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}
	return writeJSON(st.layout.StatePath(), snap)
}

// restoreSnapshot loads state.json into the state, if present.
func (st *RunState) restoreSnapshot() error {
	data, err := os.ReadFile(st.layout.StatePath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read state snapshot: %w", err)
	}
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse state snapshot: %w", err)
	}
	if st.Topic == "" {
		st.Topic = snap.Topic
	}
	st.CurrentStage = snap.CurrentStage
	st.Plan = snap.Plan
	st.Clarification = snap.Clarification
	if !snap.CreatedAt.IsZero() {
		st.CreatedAt = snap.CreatedAt
	}
	return nil
}

// SaveParagraphs writes drafts/paragraphs.jsonl, one JSON object per
// line.
func (st *RunState) SaveParagraphs() error {
	f, err := os.Create(st.layout.ParagraphsPath())
	if err != nil {
		return fmt.Errorf("create paragraph drafts: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, p := range st.Paragraphs {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal paragraph draft: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write paragraph draft: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush paragraph drafts: %w", err)
	}
	return nil
}

// LoadParagraphs reads drafts/paragraphs.jsonl back into the state.
func (st *RunState) LoadParagraphs() error {
	f, err := os.Open(st.layout.ParagraphsPath())
	if err != nil {
		return fmt.Errorf("open paragraph drafts: %w", err)
	}
	defer f.Close()

	st.Paragraphs = st.Paragraphs[:0]
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p ParagraphDraft
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			return fmt.Errorf("parse paragraph draft: %w", err)
		}
		st.Paragraphs = append(st.Paragraphs, p)
	}
	return scanner.Err()
}

// writeJSON writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readJSON reads JSON from path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
