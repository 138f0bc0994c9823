package session

import "errors"

var (
	ErrDuplicateContent = errors.New("duplicate content")
	ErrSessionExists    = errors.New("upload session already exists")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrIllegalState     = errors.New("operation not allowed in current session state")
	ErrInvalidKey       = errors.New("invalid session key")
	ErrUnknownChecksum  = errors.New("checksum not staged in session")
	ErrIO               = errors.New("i/o failure")
)
