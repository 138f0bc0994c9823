package core

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// thumbnailQuality is the JPEG quality used for generated thumbnails.
const thumbnailQuality = 90

// Thumbnail decodes the image in r, scales it so that its longer side equals
// maxDim while keeping the aspect ratio, and writes it to w as JPEG.
// EXIF orientation is applied before scaling.
func Thumbnail(w io.Writer, r io.Reader, maxDim int) (image.Rectangle, error) {
	if maxDim <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid thumbnail dimension %d", maxDim)
	}

	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	thumb := resizeLongerSide(src, maxDim)

	if err := imaging.Encode(w, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return thumb.Bounds(), nil
}

func resizeLongerSide(img image.Image, maxDim int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDim, imaging.Lanczos)
}
