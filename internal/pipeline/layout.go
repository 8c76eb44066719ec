package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps the per-run persisted artifact paths under a run root.
type Layout struct {
	Root string
}

// NewLayout returns the layout for a run under runsDir.
func NewLayout(runsDir, runID string) Layout {
	return Layout{Root: filepath.Join(runsDir, runID)}
}

func (l Layout) LogsDir() string     { return filepath.Join(l.Root, "logs") }
func (l Layout) DraftsDir() string   { return filepath.Join(l.Root, "drafts") }
func (l Layout) EvidenceDir() string { return filepath.Join(l.Root, "evidence") }
func (l Layout) FinalDir() string    { return filepath.Join(l.Root, "final") }

func (l Layout) StatePath() string         { return filepath.Join(l.Root, "state.json") }
func (l Layout) ClarifyPath() string       { return filepath.Join(l.Root, "clarify.json") }
func (l Layout) TransitionLogPath() string { return filepath.Join(l.LogsDir(), "pipeline.jsonl") }
func (l Layout) PlanPath() string          { return filepath.Join(l.LogsDir(), "plan.json") }
func (l Layout) ParagraphsPath() string    { return filepath.Join(l.DraftsDir(), "paragraphs.jsonl") }
func (l Layout) SourcesPath() string       { return filepath.Join(l.EvidenceDir(), "sources.json") }
func (l Layout) ExtractsPath() string      { return filepath.Join(l.EvidenceDir(), "extracts.json") }
func (l Layout) CitationsPath() string     { return filepath.Join(l.EvidenceDir(), "citations.json") }
func (l Layout) VerifyPath() string        { return filepath.Join(l.EvidenceDir(), "verify.json") }
func (l Layout) ReportPath() string        { return filepath.Join(l.FinalDir(), "report.md") }
func (l Layout) VerificationPath() string  { return filepath.Join(l.FinalDir(), "verification.md") }

// MkDirs creates the run directory tree.
func (l Layout) MkDirs() error {
	for _, dir := range []string{l.Root, l.LogsDir(), l.DraftsDir(), l.EvidenceDir(), l.FinalDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create run directory %s: %w", dir, err)
		}
	}
	return nil
}
