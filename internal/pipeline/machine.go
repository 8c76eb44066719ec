package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/researchlab/deepresearch/internal/acquire"
	"github.com/researchlab/deepresearch/internal/cache"
	"github.com/researchlab/deepresearch/internal/citations"
	"github.com/researchlab/deepresearch/internal/clarify"
	"github.com/researchlab/deepresearch/internal/config"
	"github.com/researchlab/deepresearch/internal/metrics"
	"github.com/researchlab/deepresearch/internal/store"
	"github.com/researchlab/deepresearch/internal/verify"
)

// maxClarifyRounds bounds the interactive clarification loop.
const maxClarifyRounds = 3

// Machine orchestrates the fixed stage sequence for research runs. One
// machine can execute many runs; each run's state is owned by the single
// Run call driving it.
type Machine struct {
	cfg       *config.Config
	logger    *zap.Logger
	clarifier *clarify.Clarifier
	verifier  *verify.Verifier
	cache     cache.Manager
	harvester acquire.Harvester
	fetcher   acquire.Fetcher
	index     *store.Store
	prompter  Prompter
	handlers  map[Stage]Handler
}

// Option customizes a Machine. Stage behavior is extended by injecting
// an alternate handler, not by subclassing.
type Option func(*Machine)

// WithCache replaces the cache backend.
func WithCache(c cache.Manager) Option { return func(m *Machine) { m.cache = c } }

// WithHarvester replaces the source-discovery capability.
func WithHarvester(h acquire.Harvester) Option { return func(m *Machine) { m.harvester = h } }

// WithFetcher replaces the content-acquisition capability.
func WithFetcher(f acquire.Fetcher) Option { return func(m *Machine) { m.fetcher = f } }

// WithPrompter enables interactive clarification through p.
func WithPrompter(p Prompter) Option { return func(m *Machine) { m.prompter = p } }

// WithRunIndex records run progress in the given index.
func WithRunIndex(s *store.Store) Option { return func(m *Machine) { m.index = s } }

// WithHandler replaces the handler for one stage.
func WithHandler(stage Stage, h Handler) Option {
	return func(m *Machine) { m.handlers[stage] = h }
}

// New creates a Machine with default components: the clarification gate,
// the structural verifier, a file cache under the configured cache dir,
// and the deterministic acquisition stubs.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Machine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.RunsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}

	fileCache, err := cache.NewFileCache(cfg.Cache.Dir, logger)
	if err != nil {
		return nil, err
	}

	m := &Machine{
		cfg:       cfg,
		logger:    logger,
		clarifier: clarify.New(logger),
		verifier:  verify.New(logger),
		cache:     fileCache,
		harvester: acquire.StubHarvester{},
		fetcher:   acquire.StubFetcher{},
	}
	m.handlers = m.defaultHandlers()
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RunOptions carry per-run overrides of the configured defaults.
type RunOptions struct {
	RunID       string
	Workers     int
	Depth       string
	Budget      int
	Lang        string
	Interactive bool
}

// Run executes the pipeline for topic, creating a new run or resuming
// the one identified by opts.RunID. The returned RunState reflects the
// run's terminal (or suspended) condition even when err is non-nil.
func (m *Machine) Run(ctx context.Context, topic string, opts RunOptions) (*RunState, error) {
	runID := opts.RunID
	if runID == "" {
		if strings.TrimSpace(topic) == "" {
			return nil, ErrInputInvalid
		}
		runID = newRunID(topic)
	}

	st, wal, completed, err := m.prepare(runID, topic, opts)
	if err != nil {
		return nil, err
	}

	metrics.RunsStarted.Inc()
	started := time.Now()

	if err := m.clarificationGate(st); err != nil {
		return st, err
	}

	for _, stage := range Order {
		if completed[stage] {
			if loadErr := m.loadStageArtifacts(ctx, st, stage); loadErr == nil {
				metrics.StagesSkipped.WithLabelValues(string(stage)).Inc()
				m.logger.Info("Stage skipped on resume",
					zap.String("run_id", st.RunID),
					zap.String("stage", string(stage)),
				)
				continue
			} else {
				m.logger.Warn("Completed stage artifacts unavailable, re-executing",
					zap.String("run_id", st.RunID),
					zap.String("stage", string(stage)),
					zap.Error(loadErr),
				)
			}
		}

		if err := m.runStage(ctx, st, wal, stage); err != nil {
			m.finish(st, started)
			return st, err
		}
	}

	st.Status = StatusCompleted
	m.finish(st, started)
	return st, nil
}

// Resume re-enters an existing run at its first incomplete stage.
func (m *Machine) Resume(ctx context.Context, runID string, opts RunOptions) (*RunState, error) {
	opts.RunID = runID
	return m.Run(ctx, "", opts)
}

// prepare builds or restores the run state and replays the transition
// log to find completed stages.
func (m *Machine) prepare(runID, topic string, opts RunOptions) (*RunState, *TransitionLog, map[Stage]bool, error) {
	layout := NewLayout(m.cfg.RunsDir, runID)
	if err := layout.MkDirs(); err != nil {
		return nil, nil, nil, err
	}

	st := &RunState{
		RunID:     runID,
		Topic:     strings.TrimSpace(topic),
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		Plan: PlanParams{
			Workers:   m.cfg.Plan.Workers,
			Depth:     m.cfg.Plan.Depth,
			Budget:    m.cfg.Plan.Budget,
			Lang:      m.cfg.Plan.Lang,
			FetchRate: m.cfg.Plan.FetchRate,
		},
		layout: layout,
		citer:  citations.NewManager(m.logger),
	}
	if err := st.restoreSnapshot(); err != nil {
		return nil, nil, nil, err
	}
	if st.Topic == "" {
		return nil, nil, nil, ErrInputInvalid
	}
	st.Status = StatusRunning

	// Per-run overrides win over restored and configured defaults.
	if opts.Workers > 0 {
		st.Plan.Workers = opts.Workers
	}
	if opts.Depth != "" {
		st.Plan.Depth = opts.Depth
	}
	if opts.Budget > 0 {
		st.Plan.Budget = opts.Budget
	}
	if opts.Lang != "" {
		st.Plan.Lang = opts.Lang
	}
	// Interactive mode requires both a per-run opt-in and an installed
	// prompter.
	st.interactive = opts.Interactive && m.prompter != nil

	// Citation ids continue from max-existing+1 across resume.
	if _, err := os.Stat(layout.CitationsPath()); err == nil {
		if err := st.citer.Load(layout.CitationsPath()); err != nil {
			return nil, nil, nil, err
		}
		st.Citations = st.citer.All()
	}

	wal := NewTransitionLog(layout.TransitionLogPath())
	entries, err := wal.Replay()
	if err != nil {
		return nil, nil, nil, err
	}
	completed := CompletedStages(entries)
	if highest, ok := HighestCompleted(completed); ok {
		m.logger.Info("Resuming run",
			zap.String("run_id", runID),
			zap.String("highest_completed_stage", string(highest)),
		)
	}
	return st, wal, completed, nil
}

// clarificationGate applies the clarifier before the plan stage. In
// interactive mode it blocks for answers, merges them into the topic and
// re-checks; otherwise it suspends the run with the distinguished
// clarification-required outcome.
func (m *Machine) clarificationGate(st *RunState) error {
	if rec := st.Clarification; rec != nil && rec.Status == clarify.StatusClarified {
		st.Topic = rec.FinalTopic
		return nil
	}

	topic := st.Topic
	for round := 0; m.clarifier.NeedsClarification(topic); round++ {
		metrics.ClarificationsRequested.Inc()
		rec := m.clarifier.Check(topic)
		st.Clarification = rec
		if err := rec.Save(st.layout.ClarifyPath()); err != nil {
			return err
		}

		if !st.interactive {
			st.Status = StatusNeedsClarification
			m.persist(st)
			m.logger.Info("Run suspended, clarification required",
				zap.String("run_id", st.RunID),
				zap.Strings("questions", rec.Questions),
			)
			return ErrClarificationRequired
		}

		if round >= maxClarifyRounds {
			return m.failClarification(st, rec,
				fmt.Sprintf("topic still ambiguous after %d rounds", maxClarifyRounds))
		}

		answers, err := m.prompter.Ask(rec.Questions)
		if err != nil {
			return m.failClarification(st, rec, fmt.Sprintf("prompt failed: %v", err))
		}
		answers = nonEmpty(answers)
		if len(answers) == 0 {
			return m.failClarification(st, rec, "no answer provided")
		}

		// The joined answers become the refined topic; keeping the
		// original vague text would re-trip the gate on every round.
		merged := strings.TrimSpace(strings.Join(answers, " "))
		if err := rec.MarkClarified(answers, merged); err != nil {
			return m.failClarification(st, rec, err.Error())
		}
		if err := rec.Save(st.layout.ClarifyPath()); err != nil {
			return err
		}
		topic = merged
		st.Topic = merged
	}
	return nil
}

// failClarification records the failure reason and surfaces it as a
// ClarificationError, distinct from other stage failures.
func (m *Machine) failClarification(st *RunState, rec *clarify.Record, reason string) error {
	metrics.ClarificationsFailed.Inc()
	rec.MarkFailed(reason)
	if err := rec.Save(st.layout.ClarifyPath()); err != nil {
		m.logger.Warn("Failed to persist clarification record", zap.Error(err))
	}
	st.Status = StatusFailed
	m.persist(st)
	return &ClarificationError{Reason: reason}
}

// runStage executes one stage, bracketing it with transition records.
func (m *Machine) runStage(ctx context.Context, st *RunState, wal *TransitionLog, stage Stage) error {
	st.CurrentStage = stage
	metrics.StagesStarted.WithLabelValues(string(stage)).Inc()
	if err := wal.Append(Transition{RunID: st.RunID, Stage: stage, Status: TransitionStarted}); err != nil {
		return &StageError{Stage: stage, Err: err}
	}

	handler, ok := m.handlers[stage]
	if !ok {
		return &StageError{Stage: stage, Err: fmt.Errorf("no handler registered")}
	}

	start := time.Now()
	err := handler(ctx, st)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StagesCompleted.WithLabelValues(string(stage), "failed").Inc()
		if walErr := wal.Append(Transition{
			RunID:   st.RunID,
			Stage:   stage,
			Status:  TransitionFailed,
			Details: map[string]any{"error": err.Error()},
		}); walErr != nil {
			m.logger.Error("Failed to log stage failure", zap.Error(walErr))
		}

		var verr *VerificationError
		if errors.As(err, &verr) {
			// Artifacts stay intact for diagnosis; the status is
			// distinct from other stage failures.
			st.Status = StatusVerificationFailed
			metrics.VerificationsFailed.Inc()
			m.persist(st)
			return verr
		}

		st.Status = StatusFailed
		m.persist(st)
		m.logger.Error("Stage failed, halting pipeline",
			zap.String("run_id", st.RunID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
		return &StageError{Stage: stage, Err: err}
	}

	metrics.StagesCompleted.WithLabelValues(string(stage), "completed").Inc()
	if err := wal.Append(Transition{
		RunID:   st.RunID,
		Stage:   stage,
		Status:  TransitionCompleted,
		Details: map[string]any{"success": true},
	}); err != nil {
		return &StageError{Stage: stage, Err: err}
	}

	// RunState is flushed after every transition; crash recovery
	// resumes between stages, never inside one.
	m.persist(st)
	if err := m.cache.Put(ctx, st.RunID, string(stage), artifactRefs(st, stage)); err != nil {
		m.logger.Warn("Failed to record cache marker",
			zap.String("run_id", st.RunID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
	return nil
}

// loadStageArtifacts restores the in-memory effects of a stage that a
// prior invocation already completed, instead of recomputing them.
func (m *Machine) loadStageArtifacts(ctx context.Context, st *RunState, stage Stage) error {
	switch stage {
	case StageIntake:
		if _, err := os.Stat(st.layout.ClarifyPath()); err == nil {
			rec, err := clarify.LoadRecord(st.layout.ClarifyPath())
			if err != nil {
				return err
			}
			st.Clarification = rec
		}
		return nil
	case StagePlan:
		var plan planFile
		if err := readJSON(st.layout.PlanPath(), &plan); err != nil {
			return err
		}
		st.Plan.Queries = plan.Queries
		st.Plan.SourceKinds = plan.Sources
		st.Plan.EstimatedSources = plan.EstimatedSources
		st.Plan.FetchRate = plan.FetchRate
		return nil
	case StageHarvest:
		return readJSON(st.layout.SourcesPath(), &st.Sources)
	case StageFetch:
		docs, err := m.cache.LoadFetchResults(ctx, st.RunID)
		if err != nil {
			return err
		}
		st.Documents = docs
		return nil
	case StageExtract:
		if err := readJSON(st.layout.ExtractsPath(), &st.Extracts); err != nil {
			return err
		}
		if err := st.citer.Load(st.layout.CitationsPath()); err != nil {
			return err
		}
		st.Citations = st.citer.All()
		return nil
	case StageVerify:
		return st.LoadParagraphs()
	case StageWrite:
		_, err := os.Stat(st.layout.ReportPath())
		return err
	case StageAudit:
		var res verify.Result
		if err := readJSON(st.layout.VerifyPath(), &res); err != nil {
			return err
		}
		st.Verification = &res
		return nil
	default:
		return nil
	}
}

// artifactRefs lists the durable artifacts a stage produced, recorded in
// the cache marker.
func artifactRefs(st *RunState, stage Stage) map[string]string {
	l := st.layout
	switch stage {
	case StageIntake:
		return map[string]string{"clarify": l.ClarifyPath()}
	case StagePlan:
		return map[string]string{"plan": l.PlanPath()}
	case StageHarvest:
		return map[string]string{"sources": l.SourcesPath()}
	case StageExtract:
		return map[string]string{"extracts": l.ExtractsPath(), "citations": l.CitationsPath()}
	case StageVerify:
		return map[string]string{"paragraphs": l.ParagraphsPath()}
	case StageWrite:
		return map[string]string{"report": l.ReportPath()}
	case StageAudit:
		return map[string]string{"verify": l.VerifyPath(), "verification": l.VerificationPath()}
	default:
		return nil
	}
}

// persist flushes the state snapshot and updates the run index.
func (m *Machine) persist(st *RunState) {
	if err := st.Flush(); err != nil {
		m.logger.Error("Failed to flush run state",
			zap.String("run_id", st.RunID),
			zap.Error(err),
		)
	}
	if m.index != nil {
		err := m.index.Upsert(context.Background(), store.RunRecord{
			RunID:     st.RunID,
			Topic:     st.Topic,
			Status:    string(st.Status),
			Stage:     string(st.CurrentStage),
			CreatedAt: st.CreatedAt,
		})
		if err != nil {
			m.logger.Warn("Failed to update run index", zap.Error(err))
		}
	}
}

// finish records terminal metrics and persists the final state.
func (m *Machine) finish(st *RunState, started time.Time) {
	m.persist(st)
	metrics.RunsCompleted.WithLabelValues(string(st.Status)).Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	m.logger.Info("Run finished",
		zap.String("run_id", st.RunID),
		zap.String("status", string(st.Status)),
		zap.Duration("elapsed", time.Since(started)),
	)
}

// VerifyRun re-runs structural verification over an existing run's
// artifacts without executing any stage. Artifacts are read-only here.
func (m *Machine) VerifyRun(runID string) (*verify.Result, error) {
	layout := NewLayout(m.cfg.RunsDir, runID)

	report, err := os.ReadFile(layout.ReportPath())
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}

	citer := citations.NewManager(m.logger)
	if _, err := os.Stat(layout.CitationsPath()); err == nil {
		if err := citer.Load(layout.CitationsPath()); err != nil {
			return nil, err
		}
	}
	repCheck := m.verifier.Report(string(report), citer.Has)

	drafts, err := os.Open(layout.ParagraphsPath())
	if err != nil {
		return nil, fmt.Errorf("open paragraph drafts: %w", err)
	}
	jlCheck := m.verifier.ParagraphsJSONL(drafts)
	_ = drafts.Close()

	res := verify.Combine(repCheck, jlCheck)
	if !res.Passed {
		return &res, &VerificationError{Result: &res}
	}
	return &res, nil
}

// newRunID derives a readable, unique run id from the topic.
func newRunID(topic string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '-' || r == '_':
			return '_'
		default:
			return -1
		}
	}, strings.TrimSpace(topic))
	if len(safe) > 20 {
		safe = safe[:20]
	}
	if safe == "" {
		safe = "run"
	}
	return safe + "_" + uuid.NewString()[:8]
}

// nonEmpty drops blank answers.
func nonEmpty(answers []string) []string {
	out := answers[:0]
	for _, a := range answers {
		if strings.TrimSpace(a) != "" {
			out = append(out, strings.TrimSpace(a))
		}
	}
	return out
}
