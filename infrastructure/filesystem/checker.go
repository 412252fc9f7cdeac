package filesystem

import (
	"fmt"
	"os"

	"vidextract/domain/extraction"
)

// Checker answers questions about source files before any work is queued
type Checker struct{}

// NewChecker creates a new filesystem checker
func NewChecker() *Checker {
	return &Checker{}
}

// Exists returns true if the path exists
func (c *Checker) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckSource verifies path is an existing regular file with a known
// video extension. A missing file wraps extraction.ErrSourceNotFound.
func (c *Checker) CheckSource(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", extraction.ErrSourceNotFound, path)
		}
		return fmt.Errorf("failed to stat source: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("source is a directory: %s", path)
	}
	if !extraction.IsSupportedVideo(path) {
		return fmt.Errorf("unsupported video container: %s", path)
	}
	return nil
}
