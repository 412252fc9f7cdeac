package jobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vidextract/domain/jobs"

	"gopkg.in/yaml.v3"
)

const (
	recordExt    = ".yaml"
	lockFileName = ".lock"
)

// FileStore keeps one YAML document per job in a directory. Writes go
// through a temp file and rename, and every operation holds a lock file,
// so a worker and CLI commands can share the directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ jobs.Store = (*FileStore)(nil)

// Option is a functional option for configuring FileStore
type Option func(*FileStore)

// WithClock replaces time.Now for UpdatedAt stamps
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// Open creates dir if needed and returns a store over it
func Open(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("job store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job store directory: %w", err)
	}
	s := &FileStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the store directory
func (s *FileStore) Dir() string {
	return s.dir
}

// Create implements jobs.Store
func (s *FileStore) Create(ctx context.Context, rec *jobs.Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("job id is required")
	}
	if err := validID(rec.ID); err != nil {
		return err
	}
	return s.locked(ctx, func() error {
		path := s.path(rec.ID)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", jobs.ErrAlreadyExists, rec.ID)
		}
		c := rec.Clone()
		c.Version = 1
		c.UpdatedAt = s.now()
		if c.CreatedAt.IsZero() {
			c.CreatedAt = c.UpdatedAt
		}
		return s.write(c)
	})
}

// Get implements jobs.Store
func (s *FileStore) Get(ctx context.Context, id string) (*jobs.Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var rec *jobs.Record
	err := s.locked(ctx, func() error {
		var err error
		rec, err = s.read(id)
		return err
	})
	return rec, err
}

// Update implements jobs.Store
func (s *FileStore) Update(ctx context.Context, id string, fn func(*jobs.Record) error) (*jobs.Record, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	var out *jobs.Record
	err := s.locked(ctx, func() error {
		rec, err := s.read(id)
		if err != nil {
			return err
		}
		version := rec.Version
		if err := fn(rec); err != nil {
			return err
		}
		rec.ID = id
		rec.Version = version + 1
		rec.UpdatedAt = s.now()
		if err := s.write(rec); err != nil {
			return err
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

// List implements jobs.Store
func (s *FileStore) List(ctx context.Context) ([]*jobs.Record, error) {
	var records []*jobs.Record
	err := s.locked(ctx, func() error {
		var err error
		records, err = s.readAll()
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// ReplaceActive implements jobs.Store. The lock file makes it atomic
// across processes sharing the directory.
func (s *FileStore) ReplaceActive(ctx context.Context, rec *jobs.Record, cancel func(*jobs.Record) error) ([]string, error) {
	if rec == nil || rec.ID == "" {
		return nil, errors.New("job id is required")
	}
	if err := validID(rec.ID); err != nil {
		return nil, err
	}

	var replaced []string
	err := s.locked(ctx, func() error {
		if _, err := os.Stat(s.path(rec.ID)); err == nil {
			return fmt.Errorf("%w: %s", jobs.ErrAlreadyExists, rec.ID)
		}
		records, err := s.readAll()
		if err != nil {
			return err
		}

		now := s.now()
		for _, old := range records {
			if old.Key != rec.Key || !old.State.IsActive() {
				continue
			}
			version := old.Version
			if err := cancel(old); err != nil {
				return fmt.Errorf("failed to replace job %s: %w", old.ID, err)
			}
			old.Version = version + 1
			old.UpdatedAt = now
			if err := s.write(old); err != nil {
				return err
			}
			replaced = append(replaced, old.ID)
		}

		c := rec.Clone()
		c.Version = 1
		c.UpdatedAt = now
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		return s.write(c)
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// readAll reads every record ordered by creation. Caller holds the lock.
func (s *FileStore) readAll() ([]*jobs.Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read job store: %w", err)
	}
	var records []*jobs.Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, recordExt) || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := s.read(strings.TrimSuffix(name, recordExt))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

// Delete removes a record. Deleting a missing record returns ErrNotFound.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	return s.locked(ctx, func() error {
		err := os.Remove(s.path(id))
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return err
	})
}

// Purge deletes terminal records last updated before cutoff and returns
// how many were removed
func (s *FileStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, rec := range records {
		if !rec.State.IsTerminal() || !rec.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, rec.ID); err != nil && !errors.Is(err, jobs.ErrNotFound) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) locked(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockDir(filepath.Join(s.dir, lockFileName))
	if err != nil {
		return fmt.Errorf("failed to lock job store: %w", err)
	}
	defer unlock()
	return fn()
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+recordExt)
}

func (s *FileStore) read(id string) (*jobs.Record, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job %s: %w", id, err)
	}

	var rec jobs.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse job %s: %w", id, err)
	}
	return &rec, nil
}

func (s *FileStore) write(rec *jobs.Record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize job %s: %w", rec.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".job-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write job %s: %w", rec.ID, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write job %s: %w", rec.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync job %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write job %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmpName, s.path(rec.ID)); err != nil {
		return fmt.Errorf("failed to commit job %s: %w", rec.ID, err)
	}
	return nil
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return fmt.Errorf("%w: invalid id %q", jobs.ErrNotFound, id)
	}
	return nil
}
