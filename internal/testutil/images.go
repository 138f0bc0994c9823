// Package testutil builds image fixtures for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

// JPEG returns a w x h JPEG whose pixels depend on seed, so different seeds
// produce different content.
func JPEG(t *testing.T, w, h int, seed byte) []byte {
	t.Helper()

	img := imaging.New(w, h, color.Black)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: byte(x) ^ seed,
				G: byte(y) + seed,
				B: seed,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithDateTime returns a JPEG carrying an EXIF APP1 segment whose IFD0
// holds a single DateTime (0x0132) entry with the given value.
func JPEGWithDateTime(t *testing.T, w, h int, seed byte, value string) []byte {
	t.Helper()

	base := JPEG(t, w, h, seed)
	ascii := append([]byte(value), 0)

	const ifdOffset = 8
	valueOffset := ifdOffset + 2 + 12 + 4

	var tiff bytes.Buffer
	tiff.WriteString("MM")
	binary.Write(&tiff, binary.BigEndian, uint16(42))
	binary.Write(&tiff, binary.BigEndian, uint32(ifdOffset))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(0x0132))
	binary.Write(&tiff, binary.BigEndian, uint16(2))
	binary.Write(&tiff, binary.BigEndian, uint32(len(ascii)))
	binary.Write(&tiff, binary.BigEndian, uint32(valueOffset))
	binary.Write(&tiff, binary.BigEndian, uint32(0))
	tiff.Write(ascii)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	segLen := len(payload) + 2

	var out bytes.Buffer
	out.Write([]byte{0xFF, 0xD8})
	out.Write([]byte{0xFF, 0xE1, byte(segLen >> 8), byte(segLen)})
	out.Write(payload)
	out.Write(base[2:])
	return out.Bytes()
}
