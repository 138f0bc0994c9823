package core

import "errors"

// ErrDecode is returned when an image cannot be decoded or encoded, or is not
// in the accepted raster format.
var ErrDecode = errors.New("image could not be decoded")
