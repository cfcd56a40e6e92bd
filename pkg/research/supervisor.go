package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/metrics"
)

type Config struct {
	MaxIterations     int
	MaxConcurrency    int
	NotesBudget       int // bytes of accumulated findings before compression
	ResearcherTimeout time.Duration
}

// Dependencies are the collaborators a supervisor delegates to. Briefer is
// optional.
type Dependencies struct {
	Planner    Planner
	Researcher Researcher
	Compressor Compressor
	Refiner    Refiner
	Writer     Writer
	Briefer    Briefer
}

// Supervisor drives a run from information gathering through final writing.
// A Supervisor holds no per-run state and can execute many runs concurrently.
type Supervisor struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger

	// OnStage and OnIteration are called synchronously from the run loop.
	OnStage     func(runID string, stage Stage)
	OnIteration func(runID string, rec IterationRecord)
}

func NewSupervisor(cfg Config, deps Dependencies, logger *slog.Logger) (*Supervisor, error) {
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be > 0, got %d", cfg.MaxIterations)
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("max concurrency must be > 0, got %d", cfg.MaxConcurrency)
	}
	if deps.Planner == nil || deps.Researcher == nil || deps.Compressor == nil || deps.Refiner == nil || deps.Writer == nil {
		return nil, errors.New("supervisor requires planner, researcher, compressor, refiner and writer")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run executes one research run to completion. Researcher, compressor and
// refiner failures degrade the run; only cancellation and a failed final
// write return an error.
func (s *Supervisor) Run(ctx context.Context, q Query) (*Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("query text is empty")
	}
	if q.RunID == "" {
		q.RunID = uuid.NewString()
	}

	logger := s.logger.With("run_id", q.RunID)
	run := newRun(q, s.cfg.MaxIterations)
	start := time.Now()
	metrics.RunsStarted.Inc()
	logger.Info("Starting research run", "query", q.Text, "max_iterations", s.cfg.MaxIterations, "max_concurrency", s.cfg.MaxConcurrency)

	result, err := s.run(ctx, run, logger)
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RunsFinished.WithLabelValues("failed").Inc()
		logger.Error("Research run failed", "error", err, "stage", run.Stage(), "iterations", run.IterationCount())
		return nil, err
	}

	status := "completed"
	if result.Degraded {
		status = "degraded"
	}
	metrics.RunsFinished.WithLabelValues(status).Inc()
	logger.Info("Research run finished", "status", status, "iterations", len(result.Iterations), "notes", len(result.Notes), "report_len", len(result.FinalReport), "duration", time.Since(start))
	return result, nil
}

func (s *Supervisor) run(ctx context.Context, run *Run, logger *slog.Logger) (*Result, error) {
	s.prepare(ctx, run, logger)
	s.notifyStage(run)

	dispatcher := NewDispatcher(s.deps.Researcher, s.cfg.MaxConcurrency, s.cfg.ResearcherTimeout, logger)

	for run.Stage() == StageInfoGathering {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("research run cancelled: %w", err)
		}
		decision, err := s.iterate(ctx, run, dispatcher, logger)
		if err != nil {
			return nil, err
		}
		if decision != DecisionContinue {
			logger.Info("Information gathering finished", "decision", decision, "iterations", run.IterationCount(), "notes", len(run.Notes()))
			if err := s.advance(run, StageFinalWriting); err != nil {
				return nil, err
			}
		}
	}

	report, err := s.writeReport(ctx, run, logger)
	if err != nil {
		return nil, err
	}
	if err := s.advance(run, StageDone); err != nil {
		return nil, err
	}
	return run.result(report), nil
}

// prepare seeds the brief and the first draft. The draft is never empty.
func (s *Supervisor) prepare(ctx context.Context, run *Run, logger *slog.Logger) {
	brief, draft := run.Query.Text, skeletonDraft(run.Query.Text)
	if s.deps.Briefer != nil {
		b, d, err := s.deps.Briefer.Brief(ctx, run.Query.Text)
		switch {
		case err != nil:
			logger.Warn("Research brief failed, using query as brief", "error", err)
		default:
			if strings.TrimSpace(b) != "" {
				brief = b
			}
			if strings.TrimSpace(d) != "" {
				draft = d
			}
		}
	}
	run.setBrief(brief)
	run.replaceDraft(draft)
}

func (s *Supervisor) iterate(ctx context.Context, run *Run, dispatcher *Dispatcher, logger *slog.Logger) (Decision, error) {
	index := run.IterationCount() + 1
	start := time.Now()
	logger = logger.With("iteration", index)
	logger.Info("Starting iteration", "max", s.cfg.MaxIterations)

	rec := IterationRecord{Index: index}

	plan, err := s.deps.Planner.Plan(ctx, run, s.cfg.MaxConcurrency)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("research run cancelled: %w", ctxErr)
		}
		logger.Warn("Planner failed, moving to final writing", "error", err)
		run.markDegraded()
		rec.Decision = DecisionAbort
		return s.finishIteration(run, rec, start, logger)
	}

	rec.SubQuestions = normalizeQuestions(plan.SubQuestions, s.cfg.MaxConcurrency)
	if len(rec.SubQuestions) > 0 {
		logger.Info("Dispatching researchers", "sub_questions", rec.SubQuestions)
		outcomes := dispatcher.Dispatch(ctx, rec.SubQuestions)
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("research run cancelled: %w", err)
		}

		var fresh []ResearchNote
		for _, o := range outcomes {
			if o.Err != nil || o.Note == nil {
				rec.Failures++
				continue
			}
			fresh = append(fresh, *o.Note)
		}
		rec.NotesReturned = len(fresh)
		run.appendNotes(fresh...)

		if size := run.notesSize(); size > s.cfg.NotesBudget && s.cfg.NotesBudget > 0 {
			s.compress(ctx, run, size, logger)
		}
		if len(fresh) > 0 {
			s.refine(ctx, run, logger)
		}
	}

	switch {
	case len(rec.SubQuestions) == 0:
		rec.Decision = DecisionTransition
	case index >= s.cfg.MaxIterations:
		rec.Decision = DecisionForced
	default:
		rec.Decision = DecisionContinue
	}
	return s.finishIteration(run, rec, start, logger)
}

func (s *Supervisor) finishIteration(run *Run, rec IterationRecord, start time.Time, logger *slog.Logger) (Decision, error) {
	// The ceiling overrides every other decision.
	if rec.Index >= s.cfg.MaxIterations && rec.Decision == DecisionContinue {
		rec.Decision = DecisionForced
	}
	rec.DraftHash = hashDraft(run.Draft())
	rec.Duration = time.Since(start)
	if err := run.record(rec); err != nil {
		return "", err
	}
	metrics.Iterations.WithLabelValues(string(rec.Decision)).Inc()
	logger.Info("Iteration finished", "decision", rec.Decision, "notes_returned", rec.NotesReturned, "failures", rec.Failures, "duration", rec.Duration)
	if s.OnIteration != nil {
		s.OnIteration(run.ID, rec)
	}
	return rec.Decision, nil
}

func (s *Supervisor) compress(ctx context.Context, run *Run, size int, logger *slog.Logger) {
	notes := run.Notes()
	condensed, err := s.deps.Compressor.Compress(ctx, run.Query.Text, notes)
	if err != nil || len(condensed) == 0 {
		metrics.NoteCompressions.WithLabelValues("failed").Inc()
		logger.Warn("Note compression failed, keeping raw notes", "error", err, "size", size)
		return
	}
	run.replaceNotes(condensed)
	metrics.NoteCompressions.WithLabelValues("ok").Inc()
	logger.Info("Compressed research notes", "before_notes", len(notes), "after_notes", len(condensed), "before_size", size, "after_size", run.notesSize())
}

func (s *Supervisor) refine(ctx context.Context, run *Run, logger *slog.Logger) {
	draft, err := s.deps.Refiner.Refine(ctx, run.Query.Text, run.Notes(), run.Draft())
	if err != nil {
		logger.Warn("Draft refinement failed, keeping previous draft", "error", err)
		return
	}
	if strings.TrimSpace(draft) == "" {
		logger.Warn("Draft refinement returned an empty draft, keeping previous draft")
		return
	}
	run.replaceDraft(draft)
	logger.Debug("Draft refined", "draft_len", len(draft))
}

func (s *Supervisor) writeReport(ctx context.Context, run *Run, logger *slog.Logger) (string, error) {
	notes := run.Notes()
	if len(notes) == 0 {
		run.markDegraded()
		logger.Warn("No research notes gathered, writing best-effort report from the query alone")
	}
	logger.Info("Final report generation started", "findings_count", len(notes), "draft_len", len(run.Draft()))

	report, err := s.deps.Writer.Write(ctx, run.Query.Text, run.Brief(), notes, run.Draft())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReportWriter, err)
	}
	if strings.TrimSpace(report) == "" {
		return "", fmt.Errorf("%w: empty report", ErrReportWriter)
	}
	logger.Info("Final report generation complete", "final_report_len", len(report))
	return report, nil
}

func (s *Supervisor) advance(run *Run, to Stage) error {
	if err := run.advance(to); err != nil {
		return err
	}
	metrics.StageTransitions.WithLabelValues(to.String()).Inc()
	s.notifyStage(run)
	return nil
}

func (s *Supervisor) notifyStage(run *Run) {
	if s.OnStage != nil {
		s.OnStage(run.ID, run.Stage())
	}
}

// normalizeQuestions trims, drops blanks and duplicates, and caps the list.
func normalizeQuestions(questions []string, limit int) []string {
	seen := make(map[string]bool, len(questions))
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

func skeletonDraft(query string) string {
	return fmt.Sprintf("# %s\n\n## Overview\n\nResearch on this question is in progress.\n", strings.TrimSpace(query))
}
