package core

import (
	"io"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// CaptureDateLayout is the layout of EXIF date/time values.
const CaptureDateLayout = "2006:01:02 15:04:05"

// now is replaced in tests.
var now = time.Now

// CaptureDate returns the capture timestamp stored in the EXIF DateTime tag
// (0x0132) of the encoded image in r. Missing EXIF data, a missing tag or a
// value that does not parse all fall back to the current time; absent
// metadata is common and never an error.
func CaptureDate(r io.Reader) time.Time {
	x, err := exif.Decode(r)
	if err != nil {
		return now().UTC()
	}

	tag, err := x.Get(exif.DateTime)
	if err != nil {
		return now().UTC()
	}

	val, err := tag.StringVal()
	if err != nil {
		return now().UTC()
	}

	t, err := time.Parse(CaptureDateLayout, val)
	if err != nil {
		return now().UTC()
	}
	return t
}
