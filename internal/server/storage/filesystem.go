package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"snapshelf/internal/core"
)

var (
	ErrAlreadyExists   = errors.New("photo already stored")
	ErrNotFound        = errors.New("photo not found in store")
	ErrInvalidChecksum = errors.New("invalid checksum")
)

// Variant selects one of the two stored forms of a photo.
type Variant int

const (
	Full Variant = iota
	Thumb
)

func (v Variant) String() string {
	if v == Thumb {
		return "thumb"
	}
	return "full"
}

// PhotoStore is a content-addressed store on the local filesystem. Full-size
// images live at <root>/<checksum> and thumbnails at
// <root>/thumbs-<width>/<checksum>. Entries are never overwritten.
type PhotoStore struct {
	basePath   string
	thumbWidth int

	// mu serializes the occupancy check with the placement of files so two
	// commits in this process cannot both pass the check.
	mu sync.Mutex
}

// NewPhotoStore creates a store rooted at basePath for thumbnails of the given width.
func NewPhotoStore(basePath string, thumbWidth int) *PhotoStore {
	return &PhotoStore{basePath: basePath, thumbWidth: thumbWidth}
}

// EnsureDir creates the store root and the thumbnail namespace if they don't exist.
func (s *PhotoStore) EnsureDir() error {
	for _, dir := range []string{s.basePath, s.thumbDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return nil
}

// Path returns the location of the given variant of a checksum.
func (s *PhotoStore) Path(checksum string, v Variant) (string, error) {
	if !core.ValidChecksum(checksum) {
		return "", fmt.Errorf("%w: %q", ErrInvalidChecksum, checksum)
	}
	if v == Thumb {
		return filepath.Join(s.thumbDir(), checksum), nil
	}
	return filepath.Join(s.basePath, checksum), nil
}

// Store writes data as the given variant of checksum. It fails with
// ErrAlreadyExists when either variant is already present for checksum.
func (s *PhotoStore) Store(checksum string, data io.Reader, v Variant) (int64, error) {
	dst, err := s.Path(checksum, v)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.basePath, ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFree(checksum); err != nil {
		return 0, err
	}
	if err := placeExclusive(tmpPath, dst); err != nil {
		return 0, err
	}
	return n, nil
}

// Move places the staged full image and thumbnail into the store under
// checksum and removes the staged files. Nothing is moved when either
// variant already exists.
func (s *PhotoStore) Move(checksum, fullSrc, thumbSrc string) error {
	fullDst, err := s.Path(checksum, Full)
	if err != nil {
		return err
	}
	thumbDst, err := s.Path(checksum, Thumb)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFree(checksum); err != nil {
		return err
	}

	if err := placeExclusive(fullSrc, fullDst); err != nil {
		return err
	}
	if err := placeExclusive(thumbSrc, thumbDst); err != nil {
		// Undo the half of the pair we placed so the checksum stays free.
		os.Remove(fullDst)
		return err
	}

	for _, src := range []string{fullSrc, thumbSrc} {
		if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove staged file after move", "path", src, "error", err)
		}
	}
	return nil
}

// Open returns a reader for the given variant of checksum.
func (s *PhotoStore) Open(checksum string, v Variant) (*os.File, error) {
	p, err := s.Path(checksum, v)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s (%s)", ErrNotFound, checksum, v)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Exists reports whether any variant of checksum is present.
func (s *PhotoStore) Exists(checksum string) (bool, error) {
	err := s.checkFree(checksum)
	if errors.Is(err, ErrAlreadyExists) {
		return true, nil
	}
	return false, err
}

// Usage returns the number of full-size photos and the bytes used by both namespaces.
func (s *PhotoStore) Usage() (photos int64, bytes int64, err error) {
	err = filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		bytes += info.Size()
		if filepath.Dir(path) == filepath.Clean(s.basePath) {
			photos++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to measure store: %w", err)
	}
	return photos, bytes, nil
}

// checkFree fails with ErrAlreadyExists when either variant of checksum is occupied.
func (s *PhotoStore) checkFree(checksum string) error {
	for _, v := range []Variant{Full, Thumb} {
		p, err := s.Path(checksum, v)
		if err != nil {
			return err
		}
		_, err = os.Stat(p)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, checksum)
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}
	return nil
}

func (s *PhotoStore) thumbDir() string {
	return filepath.Join(s.basePath, "thumbs-"+strconv.Itoa(s.thumbWidth))
}

// placeExclusive makes src available at dst without ever replacing an
// existing dst. A hard link is tried first; across filesystems the content is
// copied into an exclusively created file instead. src is left in place.
func placeExclusive(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, filepath.Base(dst))
	}
	return copyExclusive(src, dst)
}

func copyExclusive(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, filepath.Base(dst))
		}
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}
