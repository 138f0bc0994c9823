package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"snapshelf/internal/core"
	"snapshelf/internal/server/storage"
)

// Submit schedules r for processing and returns without waiting. r is
// owned by the session from here on and is closed after processing when it
// implements io.Closer. Use Wait to collect the outcome.
func (s *Session) Submit(r io.ReadSeeker, filename string) error {
	s.mu.Lock()
	if !s.active() {
		st := s.state
		s.mu.Unlock()
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
		return fmt.Errorf("%w: submit in state %s", ErrIllegalState, st)
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if c, ok := r.(io.Closer); ok {
			defer c.Close()
		}

		// Acquire cannot fail with a background context.
		_ = s.sem.Acquire(context.Background(), 1)
		defer s.sem.Release(1)

		res := s.process(r, filename)
		if res.Err != nil {
			slog.Warn("failed to stage file",
				"session", s.key,
				"filename", filename,
				"checksum", res.Checksum,
				"error", res.Err,
			)
		}

		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()
	}()
	return nil
}

// Wait blocks until every submitted file has been processed and returns
// the outcomes gathered since the previous call to Wait.
func (s *Session) Wait() []FileResult {
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.results
	s.results = nil
	return res
}

func (s *Session) process(r io.ReadSeeker, filename string) FileResult {
	res := FileResult{Filename: filename}

	sum, err := core.Checksum(r)
	if err != nil {
		res.Err = fmt.Errorf("%w: checksum: %w", ErrIO, err)
		return res
	}
	res.Checksum = sum

	if err := s.reserve(sum); err != nil {
		res.Err = err
		return res
	}

	img, err := s.stage(r, filename, sum)

	s.mu.Lock()
	delete(s.pending, sum)
	if err == nil {
		s.images[sum] = img
	}
	s.mu.Unlock()

	if err != nil {
		res.Err = err
		return res
	}
	res.CapturedAt = img.CapturedAt
	return res
}

// reserve claims checksum for the calling task so identical content
// submitted concurrently is staged only once.
func (s *Session) reserve(checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.images[checksum]; ok {
		return fmt.Errorf("%w: %s already staged", ErrDuplicateContent, checksum)
	}
	if _, ok := s.pending[checksum]; ok {
		return fmt.Errorf("%w: %s already being staged", ErrDuplicateContent, checksum)
	}
	s.pending[checksum] = struct{}{}
	return nil
}

// stage writes the full image and its thumbnail into the workspace. On
// failure nothing is left behind for checksum.
func (s *Session) stage(r io.ReadSeeker, filename, checksum string) (img Image, err error) {
	mimeType, err := core.DetectMimeType(r)
	if err != nil {
		if errors.Is(err, core.ErrDecode) {
			return Image{}, err
		}
		return Image{}, fmt.Errorf("%w: detect type: %w", ErrIO, err)
	}

	fullPath := s.stagedPath(checksum, storage.Full)
	thumbPath := s.stagedPath(checksum, storage.Thumb)

	// Only files this task created are removed on failure.
	var created []string
	defer func() {
		if err != nil {
			for _, p := range created {
				os.Remove(p)
			}
		}
	}()

	ok, werr := writeExclusive(fullPath, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
	if ok {
		created = append(created, fullPath)
	}
	if werr != nil {
		return Image{}, fmt.Errorf("%w: stage image: %w", ErrIO, werr)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Image{}, fmt.Errorf("%w: rewind: %w", ErrIO, err)
	}
	capturedAt := core.CaptureDate(r)

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Image{}, fmt.Errorf("%w: rewind: %w", ErrIO, err)
	}
	ok, werr = writeExclusive(thumbPath, func(w io.Writer) error {
		_, err := core.Thumbnail(w, r, s.cfg.ThumbWidth)
		return err
	})
	if ok {
		created = append(created, thumbPath)
	}
	if werr != nil {
		if errors.Is(werr, core.ErrDecode) {
			return Image{}, werr
		}
		return Image{}, fmt.Errorf("%w: stage thumbnail: %w", ErrIO, werr)
	}

	return Image{
		CapturedAt: capturedAt,
		Filename:   filename,
		MimeType:   mimeType,
	}, nil
}

// writeExclusive creates path, failing if it exists, and fills it. created
// reports whether the file was created, even when filling it failed.
func writeExclusive(path string, fill func(io.Writer) error) (created bool, err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return false, err
	}
	if err := fill(f); err != nil {
		f.Close()
		return true, err
	}
	return true, f.Close()
}
