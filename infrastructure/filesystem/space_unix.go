//go:build linux || darwin || freebsd

package filesystem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// AvailableBytes returns the space available to unprivileged users on the
// volume holding path, or its nearest existing ancestor
func (p *SpaceProber) AvailableBytes(path string) (uint64, error) {
	dir, err := existingAncestor(path)
	if err != nil {
		return 0, err
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", dir, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
