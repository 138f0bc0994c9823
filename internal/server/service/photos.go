package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"snapshelf/internal/server/database"
	"snapshelf/internal/server/storage"
)

// Stats combines record and storage statistics.
type Stats struct {
	TotalPhotos    int64      `json:"total_photos"`
	LastIngestedAt *time.Time `json:"last_ingested_at,omitempty"`
	StoredFiles    int64      `json:"stored_files"`
	StoredBytes    int64      `json:"stored_bytes"`
}

// DetailsUpdate carries the editable fields of a photo. Nil fields are
// left unchanged.
type DetailsUpdate struct {
	CapturedAt *time.Time `json:"captured_at"`
	Comment    *string    `json:"comment"`
}

// GetPhoto returns the record of a committed photo.
func (s *UploadService) GetPhoto(ctx context.Context, checksum string) (*database.Photo, error) {
	photo, err := s.repo.GetByChecksum(ctx, checksum)
	if err != nil {
		if errors.Is(err, database.ErrPhotoNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return photo, nil
}

// OpenPhoto returns the record of a committed photo and an open handle to
// the requested variant. The caller closes the file.
func (s *UploadService) OpenPhoto(ctx context.Context, checksum string, v storage.Variant) (*database.Photo, *os.File, error) {
	photo, err := s.GetPhoto(ctx, checksum)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.store.Open(checksum, v)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s missing from storage", ErrNotFound, v)
		}
		return nil, nil, err
	}
	return photo, f, nil
}

// UpdateDetails edits the capture date and comment of a committed photo.
func (s *UploadService) UpdateDetails(ctx context.Context, checksum string, upd DetailsUpdate) (*database.Photo, error) {
	photo, err := s.GetPhoto(ctx, checksum)
	if err != nil {
		return nil, err
	}

	if upd.CapturedAt != nil {
		photo.CapturedAt = upd.CapturedAt.UTC()
	}
	if upd.Comment != nil {
		photo.Comment = *upd.Comment
	}

	if err := s.repo.UpdateDetails(ctx, checksum, photo.CapturedAt, photo.Comment); err != nil {
		if errors.Is(err, database.ErrPhotoNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update photo: %w", err)
	}
	return photo, nil
}

// ListPhotos returns committed photos, newest capture first.
func (s *UploadService) ListPhotos(ctx context.Context, limit, offset int) ([]*database.Photo, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// GetStats returns aggregate library statistics.
func (s *UploadService) GetStats(ctx context.Context) (*Stats, error) {
	dbStats, err := s.repo.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	files, bytes, err := s.store.Usage()
	if err != nil {
		return nil, fmt.Errorf("failed to measure storage: %w", err)
	}

	return &Stats{
		TotalPhotos:    dbStats.TotalPhotos,
		LastIngestedAt: dbStats.LastIngestedAt,
		StoredFiles:    files,
		StoredBytes:    bytes,
	}, nil
}
