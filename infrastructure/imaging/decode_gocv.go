//go:build gocv

package imaging

import (
	"errors"

	"gocv.io/x/gocv"
)

const backend = "gocv"

func decodeDimensions(path string) (int, int, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return 0, 0, errors.New("opencv could not decode the image")
	}
	return img.Cols(), img.Rows(), nil
}
