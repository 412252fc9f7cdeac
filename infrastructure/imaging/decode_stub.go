//go:build !gocv

package imaging

import (
	"image/jpeg"
	"os"
)

const backend = "image/jpeg"

// decodeDimensions is used when OpenCV is not available (build with -tags=gocv)
func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	img, err := jpeg.Decode(f)
	if err != nil {
		return 0, 0, err
	}
	b := img.Bounds()
	return b.Dx(), b.Dy(), nil
}
