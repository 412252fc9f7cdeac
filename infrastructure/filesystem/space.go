package filesystem

import (
	"fmt"
	"os"
	"path/filepath"

	"vidextract/domain/storage"
)

// SpaceProber reads free space from the filesystem
type SpaceProber struct{}

// NewSpaceProber creates a new space prober
func NewSpaceProber() *SpaceProber {
	return &SpaceProber{}
}

// existingAncestor walks up from path until it finds something that exists,
// so an output directory can be checked before it is created
func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	for {
		if _, err := os.Stat(abs); err == nil {
			return abs, nil
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", fmt.Errorf("no existing ancestor for %s", path)
		}
		abs = parent
	}
}

var _ storage.SpaceProber = (*SpaceProber)(nil)
