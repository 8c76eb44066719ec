package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// TransitionStatus is the outcome recorded for one stage attempt.
type TransitionStatus string

const (
	TransitionStarted   TransitionStatus = "started"
	TransitionCompleted TransitionStatus = "completed"
	TransitionFailed    TransitionStatus = "failed"
)

// Transition is one append-only record in the stage-transition log.
type Transition struct {
	Timestamp time.Time        `json:"timestamp"`
	RunID     string           `json:"run_id"`
	Stage     Stage            `json:"stage"`
	Status    TransitionStatus `json:"status"`
	Details   map[string]any   `json:"details,omitempty"`
}

// TransitionLog is the minimal write-ahead record for resume: a durable,
// strictly-appended sequence of transition entries, replayed on startup
// to compute the highest completed stage.
type TransitionLog struct {
	path string
	mu   sync.Mutex
}

// NewTransitionLog creates a log writing to path; the file is created on
// first append.
func NewTransitionLog(path string) *TransitionLog {
	return &TransitionLog{path: path}
}

// Append writes one entry and syncs it to durable storage before
// returning.
func (l *TransitionLog) Append(t Transition) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transition log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync transition log: %w", err)
	}
	return nil
}

// Replay reads all entries in order. A missing log yields an empty
// slice. Unparseable trailing lines (a torn write from a crash) are
// dropped rather than failing the replay.
func (l *TransitionLog) Replay() ([]Transition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transition log: %w", err)
	}
	defer f.Close()

	var entries []Transition
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t Transition
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue
		}
		entries = append(entries, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transition log: %w", err)
	}
	return entries, nil
}

// CompletedStages folds replayed entries into the set of stages whose
// last recorded attempt completed.
func CompletedStages(entries []Transition) map[Stage]bool {
	completed := make(map[Stage]bool)
	for _, e := range entries {
		switch e.Status {
		case TransitionCompleted:
			completed[e.Stage] = true
		case TransitionFailed:
			delete(completed, e.Stage)
		}
	}
	return completed
}

// HighestCompleted returns the furthest stage in Order marked completed,
// and whether any stage completed at all.
func HighestCompleted(completed map[Stage]bool) (Stage, bool) {
	var highest Stage
	found := false
	for _, stage := range Order {
		if completed[stage] {
			highest = stage
			found = true
		}
	}
	return highest, found
}
