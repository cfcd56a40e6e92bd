package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mikeboe/deep-research/pkg/research"
)

// PostgresStore keeps tasks in the research_tasks table. The pool is owned by
// the caller; database.InitSchema must have run.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const taskColumns = `id, query, async_mode, status, progress, result, error, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, rec Record) error {
	progress, result, err := encodeColumns(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO research_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Query, rec.Async, string(rec.Status), progress, result, nullable(rec.Error), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM research_tasks WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get task: %w", err)
	}
	return rec, nil
}

// Save replaces the row in a single UPDATE statement.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	progress, result, err := encodeColumns(rec)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE research_tasks
		SET query = $2, async_mode = $3, status = $4, progress = $5, result = $6, error = $7, updated_at = $8
		WHERE id = $1
	`, rec.ID, rec.Query, rec.Async, string(rec.Status), progress, result, nullable(rec.Error), rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM research_tasks ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) RecoverInterrupted(ctx context.Context, reason string) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE research_tasks
		SET status = $1, error = $2, updated_at = NOW()
		WHERE status IN ($3, $4)
	`, string(StatusFailed), reason, string(StatusPending), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec      Record
		status   string
		progress []byte
		result   []byte
		errMsg   *string
	)
	if err := row.Scan(&rec.ID, &rec.Query, &rec.Async, &status, &progress, &result, &errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	if errMsg != nil {
		rec.Error = *errMsg
	}
	if len(progress) > 0 {
		rec.Progress = &Progress{}
		if err := json.Unmarshal(progress, rec.Progress); err != nil {
			return Record{}, fmt.Errorf("failed to decode task progress: %w", err)
		}
	}
	if len(result) > 0 {
		rec.Result = &research.Result{}
		if err := json.Unmarshal(result, rec.Result); err != nil {
			return Record{}, fmt.Errorf("failed to decode task result: %w", err)
		}
	}
	return rec, nil
}

// encodeColumns renders the JSONB columns. A nil value stays SQL NULL.
func encodeColumns(rec Record) (progress, result []byte, err error) {
	if rec.Progress != nil {
		if progress, err = json.Marshal(rec.Progress); err != nil {
			return nil, nil, fmt.Errorf("failed to encode task progress: %w", err)
		}
	}
	if rec.Result != nil {
		if result, err = json.Marshal(rec.Result); err != nil {
			return nil, nil, fmt.Errorf("failed to encode task result: %w", err)
		}
	}
	return progress, result, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
