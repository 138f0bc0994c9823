package core

import (
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// JPEGMimeType is the only raster format accepted for upload.
const JPEGMimeType = "image/jpeg"

// DetectMimeType sniffs the content type of r and rewinds it afterwards.
// Content that is not a JPEG image yields ErrDecode.
func DetectMimeType(r io.ReadSeeker) (string, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind stream: %w", err)
	}

	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to sniff content type: %w", err)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind stream: %w", err)
	}

	if !mtype.Is(JPEGMimeType) {
		return "", fmt.Errorf("%w: unsupported content type %s", ErrDecode, mtype.String())
	}
	return JPEGMimeType, nil
}
