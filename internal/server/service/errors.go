package service

import (
	"errors"

	"snapshelf/internal/core"
	"snapshelf/internal/server/session"
)

// Sentinel errors for the service layer.
var (
	ErrNoFiles      = errors.New("no files submitted")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrNotFound     = errors.New("photo not found")
)

// Failure kinds reported for each rejected file and each checksum that
// failed to commit. Only KindIO failures may succeed when retried.
const (
	KindDuplicate = "duplicate"
	KindDecode    = "decode"
	KindTooLarge  = "too_large"
	KindIO        = "io"
	KindInternal  = "internal"
)

// ErrorKind classifies err into one of the failure kinds.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, session.ErrDuplicateContent):
		return KindDuplicate
	case errors.Is(err, core.ErrDecode):
		return KindDecode
	case errors.Is(err, ErrFileTooLarge):
		return KindTooLarge
	case errors.Is(err, session.ErrIO):
		return KindIO
	default:
		return KindInternal
	}
}
