package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/mikeboe/deep-research/pkg/database"
)

// DBLogHandler is a slog.Handler that writes records for one task to the
// research_logs table and passes them on to next.
type DBLogHandler struct {
	DB     *database.PostgresDB
	TaskID string

	next   slog.Handler
	attrs  []slog.Attr
	prefix string
	exec   func(ctx context.Context, sql string, args ...any) error
}

func NewDBLogHandler(db *database.PostgresDB, taskID string, next slog.Handler) *DBLogHandler {
	return &DBLogHandler{
		DB:     db,
		TaskID: taskID,
		next:   next,
		exec: func(ctx context.Context, sql string, args ...any) error {
			_, err := db.Pool.Exec(ctx, sql, args...)
			return err
		},
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.next != nil {
		return h.next.Enabled(ctx, level)
	}
	return level >= slog.LevelInfo
}

// Handle writes the record to research_logs and to next. A failure on one
// side does not stop the other.
func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	dbErr := h.insert(r)
	var nextErr error
	if h.next != nil {
		nextErr = h.next.Handle(ctx, r)
	}
	return errors.Join(dbErr, nextErr)
}

func (h *DBLogHandler) insert(r slog.Record) error {
	// Extract attributes to JSON
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	query := `
		INSERT INTO research_logs (task_id, timestamp, level, message, metadata)
		VALUES ($1, $2, $3, $4, $5)
	`

	// Logs must persist even when the run context is cancelled.
	return h.exec(context.Background(), query, h.TaskID, r.Time, r.Level.String(), r.Message, metaJSON)
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	if h.next != nil {
		clone.next = h.next.WithAttrs(attrs)
	}
	return &clone
}

func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	if h.next != nil {
		clone.next = h.next.WithGroup(name)
	}
	return &clone
}

// attrValue turns errors into their message; json.Marshal renders most
// error values as {}.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	if v.Kind() == slog.KindDuration {
		return v.Duration().String()
	}
	return v.Any()
}
