//go:build !(linux || darwin || freebsd)

package filesystem

import (
	"fmt"
	"runtime"
)

// AvailableBytes is not supported on this platform; the storage guard
// denies every job
func (p *SpaceProber) AvailableBytes(path string) (uint64, error) {
	return 0, fmt.Errorf("free space probing is not supported on %s", runtime.GOOS)
}
