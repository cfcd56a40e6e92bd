package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per task. Every write goes to a temp file that
// is synced and renamed over the target.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("task dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *FileStore) Create(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("invalid task id %q", rec.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(rec.ID)); err == nil {
		return fmt.Errorf("%w: %s", ErrExists, rec.ID)
	}
	return s.write(rec)
}

func (s *FileStore) Get(ctx context.Context, id string) (Record, error) {
	if !validID(id) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.read(s.path(id))
}

func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(s.path(rec.ID)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	return s.write(rec)
}

func (s *FileStore) List(ctx context.Context, limit int) ([]Record, error) {
	records, err := s.all()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *FileStore) RecoverInterrupted(ctx context.Context, reason string) (int, error) {
	records, err := s.all()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if !interrupted(rec.Status) {
			continue
		}
		if _, err := Advance(ctx, s, rec.ID, StatusFailed, func(r *Record) { r.Error = reason }); err != nil {
			return n, fmt.Errorf("failed to recover task %s: %w", rec.ID, err)
		}
		n++
	}
	return n, nil
}

func (s *FileStore) Close() error { return nil }

// all loads every readable record. Corrupt or foreign files are skipped.
func (s *FileStore) all() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read task dir: %w", err)
	}
	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable task file", "file", e.Name(), "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *FileStore) read(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return Record{}, fmt.Errorf("failed to read task: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to decode task: %w", err)
	}
	return rec, nil
}

func (s *FileStore) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	if err := writeFileAtomic(s.path(rec.ID), data); err != nil {
		return fmt.Errorf("failed to write task %s: %w", rec.ID, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
