package retention

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultKeepLast is how many extraction directories Prune keeps
const DefaultKeepLast = 5

// Service manages extraction directories under an output root
type Service struct {
	logger *slog.Logger
}

// Option is a functional option for configuring Service
type Option func(*Service)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a retention service
func NewService(opts ...Option) *Service {
	s := &Service{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeletedDir is one removed extraction directory
type DeletedDir struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// PruneResult contains information about a prune operation
type PruneResult struct {
	Kept       int
	Deleted    []DeletedDir
	FreedBytes int64
}

// Prune deletes the oldest extraction directories of root so that at
// most keepLast remain. A missing root is not an error.
func (s *Service) Prune(root string, keepLast int) (*PruneResult, error) {
	if keepLast < 0 {
		return nil, fmt.Errorf("keep count must not be negative, got %d", keepLast)
	}

	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return &PruneResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	var dirs []DeletedDir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		dirs = append(dirs, DeletedDir{Path: filepath.Join(root, e.Name()), ModTime: info.ModTime()})
	}

	// Newest first
	sort.Slice(dirs, func(i, j int) bool {
		if !dirs[i].ModTime.Equal(dirs[j].ModTime) {
			return dirs[i].ModTime.After(dirs[j].ModTime)
		}
		return dirs[i].Path > dirs[j].Path
	})

	result := &PruneResult{Kept: min(len(dirs), keepLast)}
	if len(dirs) <= keepLast {
		return result, nil
	}

	for _, d := range dirs[keepLast:] {
		size, err := FolderSize(d.Path)
		if err != nil {
			s.logger.Warn("failed to size extraction directory", "path", d.Path, "error", err)
		}
		if err := os.RemoveAll(d.Path); err != nil {
			return result, fmt.Errorf("failed to delete %s: %w", d.Path, err)
		}
		d.Size = size
		result.Deleted = append(result.Deleted, d)
		result.FreedBytes += size
		s.logger.Info("pruned extraction directory", "path", d.Path, "bytes", size)
	}
	return result, nil
}

// FolderSize returns the total size of the regular files below dir.
// A missing directory has size 0.
func FolderSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to size %s: %w", dir, err)
	}
	return total, nil
}

// Subdirectory summarizes one output tier (full, preview, thumbnail, audio)
type Subdirectory struct {
	Name  string
	Files int
	Bytes int64
}

// Summary describes an extraction directory
type Summary struct {
	Path           string
	Files          int
	Bytes          int64
	Subdirectories []Subdirectory
}

// Summarize counts the files of an extraction directory and of each of
// its immediate subdirectories
func (s *Service) Summarize(dir string) (*Summary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	summary := &Summary{Path: dir}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		switch {
		case e.IsDir():
			sub := Subdirectory{Name: e.Name()}
			if err := countFiles(path, &sub.Files, &sub.Bytes); err != nil {
				return nil, err
			}
			summary.Subdirectories = append(summary.Subdirectories, sub)
			summary.Files += sub.Files
			summary.Bytes += sub.Bytes
		case e.Type().IsRegular():
			fi, err := e.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", path, err)
			}
			summary.Files++
			summary.Bytes += fi.Size()
		}
	}
	return summary, nil
}

func countFiles(dir string, files *int, bytes *int64) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk %s: %w", path, err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		*files++
		*bytes += info.Size()
		return nil
	})
}

// Write prints the summary in the CLI's report style
func (s *Summary) Write(w io.Writer) {
	fmt.Fprintf(w, "Extraction Summary\n")
	fmt.Fprintf(w, "==============================\n")
	fmt.Fprintf(w, "Location:    %s\n", s.Path)
	fmt.Fprintf(w, "Total files: %d\n", s.Files)
	fmt.Fprintf(w, "Total size:  %.2f MB\n", float64(s.Bytes)/(1024*1024))
	for _, sub := range s.Subdirectories {
		fmt.Fprintf(w, "  %-10s %6d files  %8.2f MB\n", sub.Name, sub.Files, float64(sub.Bytes)/(1024*1024))
	}
}
