package imaging

import (
	"errors"
	"fmt"

	"vidextract/domain/extraction"
)

// ErrInvalidFrame is returned for frames that do not decode or exceed bounds
var ErrInvalidFrame = errors.New("invalid frame")

// Verifier implements extraction.FrameVerifier. The decoder depends on
// the build: OpenCV via gocv with -tags=gocv, image/jpeg otherwise.
type Verifier struct{}

// NewVerifier creates a frame verifier
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify decodes the frame at path and checks its larger side
func (v *Verifier) Verify(path string, maxDimension int) error {
	w, h, err := decodeDimensions(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidFrame, path, err)
	}
	return checkBounds(path, w, h, maxDimension)
}

// Backend names the decoder compiled into this build
func (v *Verifier) Backend() string {
	return backend
}

func checkBounds(path string, w, h, maxDimension int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %s has no pixels", ErrInvalidFrame, path)
	}
	if maxDimension <= 0 {
		return nil
	}
	if w > maxDimension || h > maxDimension {
		return fmt.Errorf("%w: %s is %dx%d, larger than %d", ErrInvalidFrame, path, w, h, maxDimension)
	}
	return nil
}

// Ensure Verifier implements extraction.FrameVerifier
var _ extraction.FrameVerifier = (*Verifier)(nil)
