package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vidextract/domain/extraction"
)

// DefaultStageTimeout bounds a single source copy
const DefaultStageTimeout = 30 * time.Second

// Stager copies sources into the job working directory
type Stager struct {
	timeout time.Duration
	logger  *slog.Logger
}

// StagerOption is a functional option for configuring Stager
type StagerOption func(*Stager)

// WithStageTimeout sets the copy deadline
func WithStageTimeout(d time.Duration) StagerOption {
	return func(s *Stager) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithStagerLogger sets the logger
func WithStagerLogger(l *slog.Logger) StagerOption {
	return func(s *Stager) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStager creates a stager with the default timeout
func NewStager(opts ...StagerOption) *Stager {
	s := &Stager{
		timeout: DefaultStageTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage copies src to dst byte for byte within the stager timeout.
// A partially written dst is removed on every failure.
func (s *Stager) Stage(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", extraction.ErrSourceNotFound, src)
		}
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source is a directory: %s", src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create working copy: %w", err)
	}

	start := time.Now()
	n, copyErr := io.Copy(out, &contextReader{ctx: ctx, r: in})
	closeErr := out.Close()

	switch {
	case copyErr != nil && errors.Is(copyErr, context.DeadlineExceeded):
		copyErr = fmt.Errorf("staging timed out after %s: %w", s.timeout, copyErr)
	case copyErr == nil && closeErr != nil:
		copyErr = closeErr
	case copyErr == nil && n != info.Size():
		copyErr = fmt.Errorf("short copy: wrote %d of %d bytes", n, info.Size())
	}
	if copyErr != nil {
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove partial working copy", "path", dst, "error", err)
		}
		return fmt.Errorf("failed to stage source: %w", copyErr)
	}

	s.logger.Debug("source staged", "src", src, "dst", dst, "bytes", n, "took", time.Since(start))
	return nil
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ extraction.SourceStager = (*Stager)(nil)
