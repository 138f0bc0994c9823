package database

import "time"

// Photo is the persisted record of a committed photo. Checksum and IngestedAt
// never change after creation; CapturedAt and Comment may be edited.
type Photo struct {
	ID         int64
	Checksum   string
	MimeType   string
	CapturedAt time.Time
	IngestedAt time.Time
	Comment    string
}

// Stats holds aggregate photo statistics.
type Stats struct {
	TotalPhotos    int64
	LastIngestedAt *time.Time // nil when no photos exist
}
