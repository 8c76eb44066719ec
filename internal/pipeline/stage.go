// Package pipeline implements the stage-sequencing engine: the state
// machine driving the fixed nine-stage research pipeline, its run state,
// the append-only transition log used for resume, and the default stage
// handlers.
package pipeline

// Stage is one ordered step of the fixed processing sequence.
type Stage string

const (
	StageIntake  Stage = "intake"
	StagePlan    Stage = "plan"
	StageHarvest Stage = "harvest"
	StageFetch   Stage = "fetch"
	StageExtract Stage = "extract"
	StageVerify  Stage = "verify"
	StageWrite   Stage = "write"
	StageAudit   Stage = "audit"
	StageCache   Stage = "cache"
)

// Order is the fixed stage sequence. Transitions are strictly forward;
// resume re-enters at the first incomplete stage and never loops back.
var Order = []Stage{
	StageIntake,
	StagePlan,
	StageHarvest,
	StageFetch,
	StageExtract,
	StageVerify,
	StageWrite,
	StageAudit,
	StageCache,
}

// Index returns the position of s in Order, or -1 for unknown stages.
func (s Stage) Index() int {
	for i, stage := range Order {
		if stage == s {
			return i
		}
	}
	return -1
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning            RunStatus = "running"
	StatusNeedsClarification RunStatus = "needs_clarification"
	StatusFailed             RunStatus = "failed"
	StatusVerificationFailed RunStatus = "verification_failed"
	StatusCompleted          RunStatus = "completed"
)
