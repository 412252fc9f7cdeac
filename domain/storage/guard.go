package storage

import (
	"errors"
	"fmt"
	"math/bits"
)

// DefaultSafetyMargin is added to every estimate (100 MiB)
const DefaultSafetyMargin uint64 = 100 << 20

// ErrEstimateOverflow is reported when the estimate does not fit in 64 bits
var ErrEstimateOverflow = errors.New("storage estimate overflows")

// SpaceProber reports the free space of the volume holding path
type SpaceProber interface {
	AvailableBytes(path string) (uint64, error)
}

// Decision is the outcome of a space check
type Decision struct {
	Required  uint64
	Available uint64
	Approved  bool
	Err       error
}

// Guard approves jobs only when the output volume can hold their estimate
type Guard struct {
	prober SpaceProber
	path   string
	margin uint64
}

// NewGuard creates a guard for the volume holding path
func NewGuard(prober SpaceProber, path string, margin uint64) *Guard {
	return &Guard{prober: prober, path: path, margin: margin}
}

// RequiredBytes computes count*avg + margin
func RequiredBytes(count int, avg, margin uint64) (uint64, error) {
	if count < 0 {
		return 0, fmt.Errorf("negative item count %d", count)
	}
	hi, product := bits.Mul64(uint64(count), avg)
	if hi != 0 {
		return 0, ErrEstimateOverflow
	}
	sum, carry := bits.Add64(product, margin, 0)
	if carry != 0 {
		return 0, ErrEstimateOverflow
	}
	return sum, nil
}

// Check compares the estimate with the free space. Any failure to
// determine either side denies the job.
func (g *Guard) Check(count int, avg uint64) Decision {
	required, err := RequiredBytes(count, avg, g.margin)
	if err != nil {
		return Decision{Err: err}
	}
	if g.prober == nil {
		return Decision{Required: required, Err: errors.New("no space prober configured")}
	}

	available, err := g.prober.AvailableBytes(g.path)
	if err != nil {
		return Decision{Required: required, Err: fmt.Errorf("failed to read free space of %s: %w", g.path, err)}
	}
	return Decision{
		Required:  required,
		Available: available,
		Approved:  available >= required,
	}
}

// HasSufficientSpace reports whether count items of avg bytes plus the
// safety margin fit on the volume
func (g *Guard) HasSufficientSpace(count int, avg uint64) bool {
	return g.Check(count, avg).Approved
}
