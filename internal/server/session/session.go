// Package session stages uploaded photos in a private workspace, processes
// them concurrently and commits them into the photo store.
//
// A session key must be used by at most one Session at a time. Nothing
// enforces this; two sessions on the same key interleave their writes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"snapshelf/internal/core"
	"snapshelf/internal/server/database"
	"snapshelf/internal/server/storage"
)

// DefaultWorkers bounds concurrent file processing when Config.Workers is unset.
const DefaultWorkers = 4

// State is the lifecycle state of a Session.
type State int

const (
	Uninitialized State = iota
	Created
	Loaded
	Committed
	Cleared
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Created:
		return "created"
	case Loaded:
		return "loaded"
	case Committed:
		return "committed"
	case Cleared:
		return "cleared"
	default:
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
}

// Config holds the settings a Session needs.
type Config struct {
	StagingRoot string // parent of all session workspaces
	ThumbWidth  int    // longer side of generated thumbnails, in pixels
	Workers     int    // maximum files processed at once
}

// Image is the staged state of one uploaded photo, keyed by checksum.
type Image struct {
	CapturedAt time.Time
	Filename   string
	Comment    string
	MimeType   string
}

// FileResult is the outcome of processing one submitted file.
type FileResult struct {
	Filename   string
	Checksum   string // empty when hashing failed
	CapturedAt time.Time
	Err        error
}

// Store receives committed photos.
type Store interface {
	Move(checksum, fullSrc, thumbSrc string) error
}

// Recorder persists a record for each committed photo.
type Recorder interface {
	CreateRecord(ctx context.Context, photo *database.Photo) error
}

// CommitReport lists which checksums were committed and which failed.
type CommitReport struct {
	IngestedAt time.Time
	Committed  []string
	Failed     map[string]error
}

// Session is an upload session bound to one staging workspace.
type Session struct {
	key      string
	cfg      Config
	dir      string
	thumbDir string

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	state   State
	images  map[string]Image
	pending map[string]struct{} // checksums being staged by a running task
	results []FileResult
}

// New returns an uninitialized session for key. Call Create or Load before
// submitting files.
func New(cfg Config, key string) (*Session, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if cfg.ThumbWidth <= 0 {
		return nil, fmt.Errorf("invalid thumbnail width %d", cfg.ThumbWidth)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	dir := filepath.Join(cfg.StagingRoot, key)
	return &Session{
		key:      key,
		cfg:      cfg,
		dir:      dir,
		thumbDir: filepath.Join(dir, strconv.Itoa(cfg.ThumbWidth)),
		sem:      semaphore.NewWeighted(int64(cfg.Workers)),
		images:   make(map[string]Image),
		pending:  make(map[string]struct{}),
	}, nil
}

// Create returns a session with a fresh workspace for key.
func Create(cfg Config, key string) (*Session, error) {
	s, err := New(cfg, key)
	if err != nil {
		return nil, err
	}
	if err := s.Create(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load returns a session reattached to the existing workspace for key.
func Load(cfg Config, key string) (*Session, error) {
	s, err := New(cfg, key)
	if err != nil {
		return nil, err
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Key returns the session key.
func (s *Session) Key() string { return s.key }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Create makes the staging workspace. It fails with ErrSessionExists if the
// workspace is already present.
func (s *Session) Create() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return fmt.Errorf("%w: create in state %s", ErrIllegalState, s.state)
	}

	if err := os.MkdirAll(s.cfg.StagingRoot, 0755); err != nil {
		return fmt.Errorf("%w: create staging root: %w", ErrIO, err)
	}
	if err := os.Mkdir(s.dir, 0700); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrSessionExists, s.key)
		}
		return fmt.Errorf("%w: create workspace: %w", ErrIO, err)
	}
	if err := os.Mkdir(s.thumbDir, 0700); err != nil {
		return fmt.Errorf("%w: create thumbnail workspace: %w", ErrIO, err)
	}

	s.state = Created
	slog.Info("upload session created", "session", s.key, "path", s.dir)
	return nil
}

// Load reattaches to an existing workspace and rebuilds the image map from
// the staged files, re-reading each capture date. Staged images without a
// thumbnail are incomplete and skipped.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return fmt.Errorf("%w: load in state %s", ErrIllegalState, s.state)
	}

	for _, dir := range []string{s.dir, s.thumbDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, s.key)
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("%w: read workspace: %w", ErrIO, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || !core.ValidChecksum(name) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.thumbDir, name)); err != nil {
			slog.Warn("skipping staged image without thumbnail", "session", s.key, "checksum", name)
			continue
		}

		img, err := s.rescan(name)
		if err != nil {
			slog.Warn("skipping unreadable staged image", "session", s.key, "checksum", name, "error", err)
			continue
		}
		s.images[name] = img
	}

	s.state = Loaded
	slog.Info("upload session loaded", "session", s.key, "images", len(s.images))
	return nil
}

func (s *Session) rescan(checksum string) (Image, error) {
	f, err := os.Open(filepath.Join(s.dir, checksum))
	if err != nil {
		return Image{}, err
	}
	defer f.Close()

	mimeType, err := core.DetectMimeType(f)
	if err != nil {
		return Image{}, err
	}

	return Image{
		CapturedAt: core.CaptureDate(f),
		Filename:   checksum,
		MimeType:   mimeType,
	}, nil
}

// Images returns a copy of the staged image map.
func (s *Session) Images() map[string]Image {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Image, len(s.images))
	for k, v := range s.images {
		out[k] = v
	}
	return out
}

// SetComment attaches a comment to a staged image before commit.
func (s *Session) SetComment(checksum, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active() {
		return fmt.Errorf("%w: comment in state %s", ErrIllegalState, s.state)
	}
	img, ok := s.images[checksum]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChecksum, checksum)
	}
	img.Comment = comment
	s.images[checksum] = img
	return nil
}

// StagedPath returns the staged location of a variant of checksum.
func (s *Session) StagedPath(checksum string, v storage.Variant) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active() {
		return "", fmt.Errorf("%w: read staged file in state %s", ErrIllegalState, s.state)
	}
	if _, ok := s.images[checksum]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownChecksum, checksum)
	}
	return s.stagedPath(checksum, v), nil
}

func (s *Session) stagedPath(checksum string, v storage.Variant) string {
	if v == storage.Thumb {
		return filepath.Join(s.thumbDir, checksum)
	}
	return filepath.Join(s.dir, checksum)
}

// Commit waits for outstanding submissions, then moves every staged image
// into store and records it with rec. Items fail independently: a failed
// item keeps its staged files and map entry, and the rest of the batch
// proceeds. All records of one commit share the same ingestion time.
//
// Files and records are not updated atomically. If recording fails after a
// move, the photo is stored without a record.
func (s *Session) Commit(ctx context.Context, store Store, rec Recorder) (*CommitReport, error) {
	s.mu.Lock()
	if !s.active() {
		st := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: commit in state %s", ErrIllegalState, st)
	}
	s.state = Committed
	s.mu.Unlock()

	s.wg.Wait()

	images := s.Images()
	checksums := make([]string, 0, len(images))
	for sum := range images {
		checksums = append(checksums, sum)
	}
	sort.Strings(checksums)

	report := &CommitReport{
		IngestedAt: time.Now().UTC(),
		Failed:     make(map[string]error),
	}

	for _, sum := range checksums {
		if err := ctx.Err(); err != nil {
			report.Failed[sum] = err
			continue
		}

		img := images[sum]
		if err := s.commitOne(ctx, store, rec, sum, img, report.IngestedAt); err != nil {
			report.Failed[sum] = err
			slog.Error("failed to commit photo", "session", s.key, "checksum", sum, "error", err)
			continue
		}

		report.Committed = append(report.Committed, sum)
		s.mu.Lock()
		delete(s.images, sum)
		s.mu.Unlock()
	}

	slog.Info("upload session committed",
		"session", s.key,
		"committed", len(report.Committed),
		"failed", len(report.Failed),
	)
	return report, nil
}

func (s *Session) commitOne(ctx context.Context, store Store, rec Recorder, sum string, img Image, ingestedAt time.Time) error {
	err := store.Move(sum, s.stagedPath(sum, storage.Full), s.stagedPath(sum, storage.Thumb))
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("%w: %w", ErrDuplicateContent, err)
		}
		return fmt.Errorf("%w: move to store: %w", ErrIO, err)
	}

	photo := &database.Photo{
		Checksum:   sum,
		MimeType:   img.MimeType,
		CapturedAt: img.CapturedAt,
		IngestedAt: ingestedAt,
		Comment:    img.Comment,
	}
	if err := rec.CreateRecord(ctx, photo); err != nil {
		return fmt.Errorf("photo stored but not recorded: %w", err)
	}
	return nil
}

// Clear waits for outstanding submissions, removes the workspace and empties
// the image map. It may be called any number of times in any state.
func (s *Session) Clear() error {
	s.mu.Lock()
	s.state = Cleared
	s.mu.Unlock()

	s.wg.Wait()

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: remove workspace: %w", ErrIO, err)
	}

	s.mu.Lock()
	s.images = make(map[string]Image)
	s.pending = make(map[string]struct{})
	s.mu.Unlock()

	slog.Debug("upload session cleared", "session", s.key)
	return nil
}

// active reports whether files may be submitted or staged data read.
// Callers hold s.mu.
func (s *Session) active() bool {
	return s.state == Created || s.state == Loaded
}

func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || len(key) > 255 ||
		strings.ContainsAny(key, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
