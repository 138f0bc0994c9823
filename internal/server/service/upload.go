package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"snapshelf/internal/core"
	"snapshelf/internal/server/config"
	"snapshelf/internal/server/database"
	"snapshelf/internal/server/session"
	"snapshelf/internal/server/storage"
)

// UploadFile is one file of an upload request. Data is owned by the
// service once passed in and is closed when it implements io.Closer.
type UploadFile struct {
	Filename string
	Size     int64
	Data     io.ReadSeeker
}

// FileOutcome reports how one submitted file was handled.
type FileOutcome struct {
	Filename   string     `json:"filename"`
	Checksum   string     `json:"checksum,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Kind       string     `json:"kind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func failedOutcome(filename, checksum string, err error) FileOutcome {
	return FileOutcome{
		Filename: filename,
		Checksum: checksum,
		Kind:     ErrorKind(err),
		Error:    err.Error(),
	}
}

// Failure describes why one checksum was not committed.
type Failure struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// UploadResult is returned after files have been staged.
type UploadResult struct {
	SessionKey string        `json:"session_key,omitempty"`
	Staged     int           `json:"staged"`
	Files      []FileOutcome `json:"files"`
}

// StagedImage describes a photo waiting in an upload session.
type StagedImage struct {
	Checksum   string    `json:"checksum"`
	Filename   string    `json:"filename"`
	CapturedAt time.Time `json:"captured_at"`
	MimeType   string    `json:"mime_type"`
}

// CommitResult is returned after an upload session was committed.
type CommitResult struct {
	IngestedAt time.Time         `json:"ingested_at"`
	Committed  []string          `json:"committed"`
	Failed     map[string]Failure `json:"failed,omitempty"`
	Cleared    bool              `json:"cleared"`
}

// UploadService contains the business logic for photo uploads.
type UploadService struct {
	repo  database.Repository
	store *storage.PhotoStore
	cfg   *config.Config
}

// NewUploadService creates a new upload service.
func NewUploadService(repo database.Repository, store *storage.PhotoStore, cfg *config.Config) *UploadService {
	return &UploadService{
		repo:  repo,
		store: store,
		cfg:   cfg,
	}
}

func (s *UploadService) sessionConfig() session.Config {
	return session.Config{
		StagingRoot: s.cfg.StagingPath,
		ThumbWidth:  s.cfg.ThumbWidth,
		Workers:     s.cfg.UploadWorkers,
	}
}

// Begin opens a new upload session and stages files into it. The session
// is discarded again when none of the files could be staged.
func (s *UploadService) Begin(ctx context.Context, files []UploadFile) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	key := uuid.NewString()
	sess, err := session.Create(s.sessionConfig(), key)
	if err != nil {
		closeAll(files)
		return nil, fmt.Errorf("failed to create upload session: %w", err)
	}

	result := &UploadResult{SessionKey: key}
	for _, f := range files {
		name := sanitizeFilename(f.Filename)
		if f.Size > s.cfg.MaxFileSize {
			closeFile(f)
			result.Files = append(result.Files, failedOutcome(name, "", ErrFileTooLarge))
			continue
		}
		if err := sess.Submit(f.Data, name); err != nil {
			result.Files = append(result.Files, failedOutcome(name, "", err))
		}
	}

	for _, r := range sess.Wait() {
		if r.Err != nil {
			result.Files = append(result.Files, failedOutcome(r.Filename, r.Checksum, r.Err))
			continue
		}
		at := r.CapturedAt
		result.Files = append(result.Files, FileOutcome{
			Filename:   r.Filename,
			Checksum:   r.Checksum,
			CapturedAt: &at,
		})
		result.Staged++
	}
	sort.SliceStable(result.Files, func(i, j int) bool {
		return result.Files[i].Filename < result.Files[j].Filename
	})

	if result.Staged == 0 {
		if err := sess.Clear(); err != nil {
			slog.Error("failed to clear empty upload session", "session", key, "error", err)
		}
		result.SessionKey = ""
	}

	slog.Info("upload staged",
		"session", key,
		"files", len(files),
		"staged", result.Staged,
	)
	return result, nil
}

// Preview lists the photos staged in an upload session.
func (s *UploadService) Preview(ctx context.Context, key string) ([]StagedImage, error) {
	sess, err := session.Load(s.sessionConfig(), key)
	if err != nil {
		return nil, err
	}

	images := sess.Images()
	out := make([]StagedImage, 0, len(images))
	for sum, img := range images {
		out = append(out, StagedImage{
			Checksum:   sum,
			Filename:   img.Filename,
			CapturedAt: img.CapturedAt,
			MimeType:   img.MimeType,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CapturedAt.Equal(out[j].CapturedAt) {
			return out[i].CapturedAt.Before(out[j].CapturedAt)
		}
		return out[i].Checksum < out[j].Checksum
	})
	return out, nil
}

// StagedFile returns the path of a staged photo variant.
func (s *UploadService) StagedFile(ctx context.Context, key, checksum string, v storage.Variant) (string, error) {
	if !core.ValidChecksum(checksum) {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidChecksum, checksum)
	}
	sess, err := session.Load(s.sessionConfig(), key)
	if err != nil {
		return "", err
	}
	return sess.StagedPath(checksum, v)
}

// Finish commits an upload session into the photo library, applying
// comments first. The workspace is removed only when every photo was
// committed, so failed ones can be retried.
func (s *UploadService) Finish(ctx context.Context, key string, comments map[string]string) (*CommitResult, error) {
	sess, err := session.Load(s.sessionConfig(), key)
	if err != nil {
		return nil, err
	}

	for sum, comment := range comments {
		if err := sess.SetComment(sum, comment); err != nil {
			return nil, err
		}
	}

	report, err := sess.Commit(ctx, s.store, s.repo)
	if err != nil {
		return nil, err
	}

	result := &CommitResult{
		IngestedAt: report.IngestedAt,
		Committed:  report.Committed,
	}
	if result.Committed == nil {
		result.Committed = []string{}
	}
	if len(report.Failed) > 0 {
		result.Failed = make(map[string]Failure, len(report.Failed))
		for sum, err := range report.Failed {
			result.Failed[sum] = Failure{Kind: ErrorKind(err), Error: err.Error()}
		}
	} else {
		if err := sess.Clear(); err != nil {
			slog.Error("failed to clear committed upload session", "session", key, "error", err)
		} else {
			result.Cleared = true
		}
	}

	slog.Info("upload committed",
		"session", key,
		"committed", len(report.Committed),
		"failed", len(report.Failed),
	)
	return result, nil
}

// Discard removes an upload session and everything staged in it.
func (s *UploadService) Discard(ctx context.Context, key string) error {
	sess, err := session.Load(s.sessionConfig(), key)
	if err != nil {
		return err
	}
	if err := sess.Clear(); err != nil {
		return err
	}

	slog.Info("upload discarded", "session", key)
	return nil
}

func closeFile(f UploadFile) {
	if c, ok := f.Data.(io.Closer); ok {
		c.Close()
	}
}

func closeAll(files []UploadFile) {
	for _, f := range files {
		closeFile(f)
	}
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "photo.jpg"
	}

	return name
}
