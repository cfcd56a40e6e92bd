// Package tasks persists research task records. A task moves
// pending -> running -> completed|failed and never leaves a terminal state.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/research"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// RestartReason is the error recorded on tasks that were in flight when the
// process stopped.
const RestartReason = "server restarted while task was in progress"

var (
	ErrNotFound          = errors.New("task not found")
	ErrExists            = errors.New("task already exists")
	ErrInvalidTransition = errors.New("invalid task status transition")
	ErrTerminal          = errors.New("task already finished")
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from one status to another.
// Failing straight from pending covers tasks whose worker never started.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Progress is what a poller sees of a task that is still running.
type Progress struct {
	Stage      research.Stage             `json:"stage"`
	Iterations []research.IterationRecord `json:"iterations,omitempty"`
	DraftHash  string                     `json:"draft_hash,omitempty"`
}

type Record struct {
	ID        string           `json:"task_id"`
	Status    Status           `json:"status"`
	Query     string           `json:"query"`
	Async     bool             `json:"async_mode"`
	Progress  *Progress        `json:"progress,omitempty"`
	Result    *research.Result `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// NewRecord returns a pending record with a fresh id.
func NewRecord(query string, async bool) Record {
	now := time.Now().UTC()
	return Record{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Query:     query,
		Async:     async,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store persists task records. Save replaces a whole record atomically so a
// reader never observes a partially written task.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Save(ctx context.Context, rec Record) error
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)
	// RecoverInterrupted fails every pending or running task and returns how
	// many were changed.
	RecoverInterrupted(ctx context.Context, reason string) (int, error)
	Close() error
}

// Advance moves a task to a new status. mutate, if set, may fill in the
// result or error before the record is saved.
func Advance(ctx context.Context, store Store, id string, to Status, mutate func(*Record)) (Record, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !CanTransition(rec.Status, to) {
		return rec, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, to)
	}
	if mutate != nil {
		mutate(&rec)
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	if err := store.Save(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// UpdateProgress applies mutate to the progress of a task that has not
// finished. The status is left alone.
func UpdateProgress(ctx context.Context, store Store, id string, mutate func(*Progress)) (Record, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("%w: %s", ErrTerminal, rec.Status)
	}
	if rec.Progress == nil {
		rec.Progress = &Progress{}
	}
	mutate(rec.Progress)
	rec.UpdatedAt = time.Now().UTC()
	if err := store.Save(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// validID guards backends that derive keys or paths from ids.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func interrupted(s Status) bool {
	return s == StatusPending || s == StatusRunning
}
