package pipeline

import (
	"errors"
	"fmt"

	"github.com/researchlab/deepresearch/internal/verify"
)

// ErrInputInvalid marks a topic that is unusable even after
// clarification.
var ErrInputInvalid = errors.New("pipeline: topic is unusable")

// ErrClarificationRequired is the distinguished non-interactive outcome:
// the run did not advance and needs answers before re-invocation.
var ErrClarificationRequired = errors.New("pipeline: clarification required")

// ClarificationError reports an interactive clarification exchange that
// failed to resolve the topic.
type ClarificationError struct {
	Reason string
}

func (e *ClarificationError) Error() string {
	return fmt.Sprintf("pipeline: clarification failed: %s", e.Reason)
}

// StageError halts the machine: a stage's precondition was unmet or its
// work failed. The engine performs no implicit retry; re-invocation with
// the same run_id, benefiting from cache, is the retry mechanism.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// VerificationError is the distinguished outcome for a combined
// structural verification failure. All run artifacts are left intact so
// the failure can be diagnosed from the attached detail.
type VerificationError struct {
	Result *verify.Result
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf(
		"pipeline: structural verification failed: %d of %d paragraphs without citation, report_passed=%t, jsonl_passed=%t",
		e.Result.ParagraphWithoutCitationCount,
		e.Result.TotalParagraphs,
		e.Result.ReportPassed,
		e.Result.ParagraphsJSONLCiteIDsPassed,
	)
}
