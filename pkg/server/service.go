package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/tasks"
)

var (
	ErrEmptyQuery      = errors.New("query is required")
	ErrLogsUnavailable = errors.New("task logs require a database")
	ErrShuttingDown    = errors.New("service is shutting down")
)

const (
	defaultListLimit = 50
	maxErrorLen      = 2000
	waitPollInterval = 100 * time.Millisecond
)

// Runner executes one research run. *research.Supervisor satisfies it.
type Runner interface {
	Run(ctx context.Context, q research.Query) (*research.Result, error)
}

// RunHooks report a run's progress while it executes. Either field may be
// nil.
type RunHooks struct {
	OnStage     func(runID string, stage research.Stage)
	OnIteration func(runID string, rec research.IterationRecord)
}

// RunnerFactory builds a runner that logs through logger and reports
// progress through hooks. The service calls it once per run so each task's
// logs and progress can be routed separately.
type RunnerFactory func(logger *slog.Logger, hooks RunHooks) (Runner, error)

type Service struct {
	Store     tasks.Store
	DB        *database.PostgresDB // optional; enables per-task logs
	NewRunner RunnerFactory
	Logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewService(store tasks.Store, db *database.PostgresDB, factory RunnerFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		Store:     store,
		DB:        db,
		NewRunner: factory,
		Logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Recover fails tasks left pending or running by a previous process.
func (s *Service) Recover(ctx context.Context) error {
	n, err := s.Store.RecoverInterrupted(ctx, tasks.RestartReason)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	if n > 0 {
		metrics.TaskTransitions.WithLabelValues(string(tasks.StatusFailed)).Add(float64(n))
		s.Logger.Warn("Marked interrupted tasks as failed", "count", n)
	}
	return nil
}

// Submit persists a pending task and starts its worker. It returns as soon
// as the record is stored.
func (s *Service) Submit(ctx context.Context, q research.Query) (tasks.Record, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return tasks.Record{}, ErrEmptyQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return tasks.Record{}, ErrShuttingDown
	}

	rec := tasks.NewRecord(q.Text, true)
	if err := s.Store.Create(ctx, rec); err != nil {
		return tasks.Record{}, fmt.Errorf("failed to create task: %w", err)
	}
	metrics.TasksSubmitted.Inc()
	metrics.TaskTransitions.WithLabelValues(string(tasks.StatusPending)).Inc()
	s.Logger.Info("Research task submitted", "task_id", rec.ID)

	q.RunID = rec.ID
	q.Async = true
	s.wg.Add(1)
	go s.runWorker(rec.ID, q)

	return rec, nil
}

// RunSync runs a query on the caller's goroutine. Cancelling ctx cancels
// the run.
func (s *Service) RunSync(ctx context.Context, q research.Query) (*research.Result, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	runner, err := s.NewRunner(s.Logger, RunHooks{})
	if err != nil {
		return nil, fmt.Errorf("failed to init engine: %w", err)
	}
	return runner.Run(ctx, q)
}

func (s *Service) Get(ctx context.Context, id string) (tasks.Record, error) {
	return s.Store.Get(ctx, id)
}

// Wait polls a task until it reaches a terminal status or ctx ends.
func (s *Service) Wait(ctx context.Context, id string) (tasks.Record, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		rec, err := s.Store.Get(ctx, id)
		if err != nil {
			return tasks.Record{}, err
		}
		if rec.Status.Terminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) List(ctx context.Context, limit int) ([]tasks.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.Store.List(ctx, limit)
}

type LogEntry struct {
	ID        int             `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Metadata  json.RawMessage `json:"metadata"`
}

func (s *Service) Logs(ctx context.Context, id string) ([]LogEntry, error) {
	if _, err := s.Store.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.DB == nil {
		return nil, ErrLogsUnavailable
	}

	query := `
		SELECT id, timestamp, level, message, metadata
		FROM research_logs
		WHERE task_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Shutdown stops accepting tasks and waits for running workers. If ctx ends
// first, workers are cancelled and their tasks fail.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *Service) runWorker(taskID string, q research.Query) {
	defer s.wg.Done()
	ctx := s.ctx

	logger := s.taskLogger(taskID)

	if _, err := tasks.Advance(ctx, s.Store, taskID, tasks.StatusRunning, nil); err != nil {
		s.failTask(taskID, logger, fmt.Sprintf("Failed to mark task running: %v", err))
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(tasks.StatusRunning)).Inc()

	runner, err := s.NewRunner(logger, s.progressHooks(taskID, logger))
	if err != nil {
		s.failTask(taskID, logger, fmt.Sprintf("Failed to init engine: %v", err))
		return
	}

	result, err := s.safeRun(ctx, runner, q)
	if err != nil {
		s.failTask(taskID, logger, fmt.Sprintf("Research failed: %v", err))
		return
	}

	// A cancelled worker context must not keep the completed result from
	// being stored.
	if _, err := tasks.Advance(context.Background(), s.Store, taskID, tasks.StatusCompleted, func(r *tasks.Record) {
		r.Result = result
	}); err != nil {
		logger.Error("Failed to save final report", "error", err)
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(tasks.StatusCompleted)).Inc()
	logger.Info("Research task completed", "report_len", len(result.FinalReport), "degraded", result.Degraded)
}

// progressHooks save the stage and finished iterations onto the task record
// so pollers can follow a running task.
func (s *Service) progressHooks(taskID string, logger *slog.Logger) RunHooks {
	save := func(mutate func(*tasks.Progress)) {
		if _, err := tasks.UpdateProgress(context.Background(), s.Store, taskID, mutate); err != nil {
			logger.Warn("Failed to save task progress", "error", err)
		}
	}
	return RunHooks{
		OnStage: func(_ string, stage research.Stage) {
			save(func(p *tasks.Progress) { p.Stage = stage })
		},
		OnIteration: func(_ string, rec research.IterationRecord) {
			save(func(p *tasks.Progress) {
				p.Iterations = append(p.Iterations, rec)
				p.DraftHash = rec.DraftHash
			})
		},
	}
}

func (s *Service) safeRun(ctx context.Context, runner Runner, q research.Query) (res *research.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("research run panicked: %v", r)
		}
	}()
	return runner.Run(ctx, q)
}

func (s *Service) failTask(taskID string, logger *slog.Logger, reason string) {
	logger.Error(reason)
	if _, err := tasks.Advance(context.Background(), s.Store, taskID, tasks.StatusFailed, func(r *tasks.Record) {
		r.Error = summarize(reason)
	}); err != nil {
		logger.Error("Failed to mark task failed", "error", err)
		return
	}
	metrics.TaskTransitions.WithLabelValues(string(tasks.StatusFailed)).Inc()
}

func (s *Service) taskLogger(taskID string) *slog.Logger {
	base := s.Logger.With("task_id", taskID)
	if s.DB == nil {
		return base
	}
	return slog.New(NewDBLogHandler(s.DB, taskID, base.Handler()))
}

func summarize(msg string) string {
	r := []rune(msg)
	if len(r) <= maxErrorLen {
		return msg
	}
	return string(r[:maxErrorLen]) + "..."
}
