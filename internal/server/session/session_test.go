package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapshelf/internal/core"
	"snapshelf/internal/server/database"
	"snapshelf/internal/server/storage"
	"snapshelf/internal/testutil"
)

type fakeRecorder struct {
	mu      sync.Mutex
	records []*database.Photo
	failFor map[string]bool
}

func (r *fakeRecorder) CreateRecord(_ context.Context, p *database.Photo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[p.Checksum] {
		return errors.New("insert failed")
	}
	r.records = append(r.records, p)
	return nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		StagingRoot: filepath.Join(t.TempDir(), "staging"),
		ThumbWidth:  16,
		Workers:     2,
	}
}

func checksumOf(t *testing.T, data []byte) string {
	t.Helper()
	sum, err := core.Checksum(bytes.NewReader(data))
	require.NoError(t, err)
	return sum
}

func submitAll(t *testing.T, s *Session, files map[string][]byte) []FileResult {
	t.Helper()
	for name, data := range files {
		require.NoError(t, s.Submit(bytes.NewReader(data), name))
	}
	return s.Wait()
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)

	for _, key := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b"} {
		_, err := New(cfg, key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}

	s, err := New(cfg, "user-1::1400000000")
	require.NoError(t, err)
	assert.Equal(t, Uninitialized, s.State())
}

func TestCreate(t *testing.T) {
	t.Run("makes workspace directories", func(t *testing.T) {
		cfg := testConfig(t)

		s, err := Create(cfg, "k1")
		require.NoError(t, err)
		assert.Equal(t, Created, s.State())

		info, err := os.Stat(filepath.Join(cfg.StagingRoot, "k1", "16"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	})

	t.Run("rejects existing workspace", func(t *testing.T) {
		cfg := testConfig(t)

		_, err := Create(cfg, "k1")
		require.NoError(t, err)

		_, err = Create(cfg, "k1")
		assert.ErrorIs(t, err, ErrSessionExists)
	})

	t.Run("only from uninitialized", func(t *testing.T) {
		s, err := Create(testConfig(t), "k1")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Create(), ErrIllegalState)
	})
}

func TestSubmit(t *testing.T) {
	t.Run("stages image and thumbnail", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		data := testutil.JPEGWithDateTime(t, 64, 32, 1, "2014:06:07 20:21:19")
		sum := checksumOf(t, data)

		results := submitAll(t, s, map[string][]byte{"beach.jpg": data})
		require.Len(t, results, 1)
		require.NoError(t, results[0].Err)
		assert.Equal(t, sum, results[0].Checksum)
		assert.Equal(t, "beach.jpg", results[0].Filename)

		images := s.Images()
		require.Contains(t, images, sum)
		assert.Equal(t, time.Date(2014, 6, 7, 20, 21, 19, 0, time.UTC), images[sum].CapturedAt)
		assert.Equal(t, "beach.jpg", images[sum].Filename)
		assert.Equal(t, core.JPEGMimeType, images[sum].MimeType)

		staged, err := os.ReadFile(filepath.Join(cfg.StagingRoot, "k1", sum))
		require.NoError(t, err)
		assert.Equal(t, data, staged)

		thumb, err := os.Open(filepath.Join(cfg.StagingRoot, "k1", "16", sum))
		require.NoError(t, err)
		defer thumb.Close()
		_, err = core.DetectMimeType(thumb)
		assert.NoError(t, err)
	})

	t.Run("second copy is a duplicate", func(t *testing.T) {
		s, err := Create(testConfig(t), "k1")
		require.NoError(t, err)

		data := testutil.JPEG(t, 32, 32, 2)
		results := submitAll(t, s, map[string][]byte{"a.jpg": data})
		require.NoError(t, results[0].Err)

		results = submitAll(t, s, map[string][]byte{"b.jpg": data})
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, ErrDuplicateContent)
		assert.Len(t, s.Images(), 1)
		assert.Equal(t, "a.jpg", s.Images()[checksumOf(t, data)].Filename)
	})

	t.Run("concurrent identical content stages once", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Workers = 4
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		data := testutil.JPEG(t, 48, 48, 3)
		for i := 0; i < 8; i++ {
			require.NoError(t, s.Submit(bytes.NewReader(data), "copy.jpg"))
		}
		results := s.Wait()
		require.Len(t, results, 8)

		var ok, dup int
		for _, r := range results {
			switch {
			case r.Err == nil:
				ok++
			case errors.Is(r.Err, ErrDuplicateContent):
				dup++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, dup)
		assert.Len(t, s.Images(), 1)
	})

	t.Run("undecodable content leaves nothing staged", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		results := submitAll(t, s, map[string][]byte{"notes.txt": []byte("plain text, not a photo")})
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, core.ErrDecode)
		assert.Empty(t, s.Images())

		entries, err := os.ReadDir(filepath.Join(cfg.StagingRoot, "k1"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "16", entries[0].Name())

		thumbs, err := os.ReadDir(filepath.Join(cfg.StagingRoot, "k1", "16"))
		require.NoError(t, err)
		assert.Empty(t, thumbs)
	})

	t.Run("truncated jpeg is rejected", func(t *testing.T) {
		s, err := Create(testConfig(t), "k1")
		require.NoError(t, err)

		data := testutil.JPEG(t, 64, 64, 4)
		results := submitAll(t, s, map[string][]byte{"cut.jpg": data[:len(data)/3]})
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, core.ErrDecode)
		assert.Empty(t, s.Images())
	})

	t.Run("one failure does not affect others", func(t *testing.T) {
		s, err := Create(testConfig(t), "k1")
		require.NoError(t, err)

		results := submitAll(t, s, map[string][]byte{
			"a.jpg":   testutil.JPEG(t, 16, 16, 5),
			"b.jpg":   testutil.JPEG(t, 16, 16, 6),
			"bad.bin": []byte{0x00, 0x01, 0x02},
		})
		require.Len(t, results, 3)

		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				assert.Equal(t, "bad.bin", r.Filename)
			}
		}
		assert.Equal(t, 1, failed)
		assert.Len(t, s.Images(), 2)
	})

	t.Run("rejected before create", func(t *testing.T) {
		s, err := New(testConfig(t), "k1")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Submit(bytes.NewReader(nil), "x.jpg"), ErrIllegalState)
	})

	t.Run("closes submitted stream", func(t *testing.T) {
		s, err := Create(testConfig(t), "k1")
		require.NoError(t, err)

		r := &closeTracker{Reader: bytes.NewReader(testutil.JPEG(t, 8, 8, 7))}
		require.NoError(t, s.Submit(r, "c.jpg"))
		s.Wait()
		assert.True(t, r.closed.Load())
	})
}

type closeTracker struct {
	*bytes.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

// gateReader records how many readers are inside Read at once.
type gateReader struct {
	*bytes.Reader
	active, peak *atomic.Int32
	once         sync.Once
}

func (g *gateReader) Read(p []byte) (int, error) {
	g.once.Do(func() {
		n := g.active.Add(1)
		for {
			old := g.peak.Load()
			if n <= old || g.peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		g.active.Add(-1)
	})
	return g.Reader.Read(p)
}

func TestSubmit_BoundedWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 2
	s, err := Create(cfg, "k1")
	require.NoError(t, err)

	var active, peak atomic.Int32
	for i := 0; i < 6; i++ {
		r := &gateReader{
			Reader: bytes.NewReader(testutil.JPEG(t, 8, 8, byte(10+i))),
			active: &active,
			peak:   &peak,
		}
		require.NoError(t, s.Submit(r, "f.jpg"))
	}

	results := s.Wait()
	require.Len(t, results, 6)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, s.Images(), 6)
}

func TestWait_DrainsResults(t *testing.T) {
	s, err := Create(testConfig(t), "k1")
	require.NoError(t, err)

	assert.Empty(t, s.Wait())

	submitAll(t, s, map[string][]byte{"a.jpg": testutil.JPEG(t, 8, 8, 1)})
	assert.Empty(t, s.Wait())
}

func TestLoad(t *testing.T) {
	t.Run("rebuilds image map from workspace", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		data := testutil.JPEGWithDateTime(t, 32, 16, 1, "2010:01:02 03:04:05")
		other := testutil.JPEG(t, 32, 16, 2)
		submitAll(t, s, map[string][]byte{"a.jpg": data, "b.jpg": other})

		loaded, err := Load(cfg, "k1")
		require.NoError(t, err)
		assert.Equal(t, Loaded, loaded.State())

		images := loaded.Images()
		require.Len(t, images, 2)
		sum := checksumOf(t, data)
		assert.Equal(t, time.Date(2010, 1, 2, 3, 4, 5, 0, time.UTC), images[sum].CapturedAt)
		assert.Equal(t, sum, images[sum].Filename)
		assert.Equal(t, core.JPEGMimeType, images[sum].MimeType)
	})

	t.Run("skips image without thumbnail", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		data := testutil.JPEG(t, 16, 16, 3)
		submitAll(t, s, map[string][]byte{"a.jpg": data})
		sum := checksumOf(t, data)
		require.NoError(t, os.Remove(filepath.Join(cfg.StagingRoot, "k1", "16", sum)))

		loaded, err := Load(cfg, "k1")
		require.NoError(t, err)
		assert.Empty(t, loaded.Images())
	})

	t.Run("resubmitting skipped image keeps existing staged file", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		data := testutil.JPEG(t, 16, 16, 8)
		submitAll(t, s, map[string][]byte{"a.jpg": data})
		sum := checksumOf(t, data)
		require.NoError(t, os.Remove(filepath.Join(cfg.StagingRoot, "k1", "16", sum)))

		loaded, err := Load(cfg, "k1")
		require.NoError(t, err)
		require.Empty(t, loaded.Images())

		results := submitAll(t, loaded, map[string][]byte{"again.jpg": data})
		require.Len(t, results, 1)
		assert.ErrorIs(t, results[0].Err, ErrIO)

		staged, err := os.ReadFile(filepath.Join(cfg.StagingRoot, "k1", sum))
		require.NoError(t, err, "a file this submission did not create must survive")
		assert.Equal(t, data, staged)
	})

	t.Run("ignores foreign files", func(t *testing.T) {
		cfg := testConfig(t)
		_, err := Create(cfg, "k1")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(cfg.StagingRoot, "k1", "README"), []byte("x"), 0600))

		loaded, err := Load(cfg, "k1")
		require.NoError(t, err)
		assert.Empty(t, loaded.Images())
	})

	t.Run("missing workspace", func(t *testing.T) {
		_, err := Load(testConfig(t), "nope")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("missing thumbnail directory", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.MkdirAll(filepath.Join(cfg.StagingRoot, "k1"), 0700))

		_, err := Load(cfg, "k1")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestSetComment(t *testing.T) {
	s, err := Create(testConfig(t), "k1")
	require.NoError(t, err)

	data := testutil.JPEG(t, 8, 8, 1)
	submitAll(t, s, map[string][]byte{"a.jpg": data})
	sum := checksumOf(t, data)

	require.NoError(t, s.SetComment(sum, "sunset"))
	assert.Equal(t, "sunset", s.Images()[sum].Comment)

	assert.ErrorIs(t, s.SetComment(checksumOf(t, []byte("other")), "x"), ErrUnknownChecksum)
}

func TestStagedPath(t *testing.T) {
	cfg := testConfig(t)
	s, err := Create(cfg, "k1")
	require.NoError(t, err)

	data := testutil.JPEG(t, 8, 8, 1)
	submitAll(t, s, map[string][]byte{"a.jpg": data})
	sum := checksumOf(t, data)

	p, err := s.StagedPath(sum, storage.Thumb)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.StagingRoot, "k1", "16", sum), p)

	p, err = s.StagedPath(sum, storage.Full)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.StagingRoot, "k1", sum), p)

	_, err = s.StagedPath(checksumOf(t, []byte("x")), storage.Full)
	assert.ErrorIs(t, err, ErrUnknownChecksum)
}

func TestCommit(t *testing.T) {
	setup := func(t *testing.T) (*Session, *storage.PhotoStore, string, Config) {
		t.Helper()
		cfg := testConfig(t)
		root := filepath.Join(t.TempDir(), "store")
		store := storage.NewPhotoStore(root, cfg.ThumbWidth)
		require.NoError(t, store.EnsureDir())

		s, err := Create(cfg, "k1")
		require.NoError(t, err)
		return s, store, root, cfg
	}

	t.Run("moves files and records photos", func(t *testing.T) {
		s, store, root, cfg := setup(t)

		a := testutil.JPEGWithDateTime(t, 16, 16, 1, "2014:06:07 20:21:19")
		b := testutil.JPEG(t, 16, 16, 2)
		submitAll(t, s, map[string][]byte{"a.jpg": a, "b.jpg": b})
		sumA, sumB := checksumOf(t, a), checksumOf(t, b)
		require.NoError(t, s.SetComment(sumA, "first"))

		rec := &fakeRecorder{}
		report, err := s.Commit(context.Background(), store, rec)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{sumA, sumB}, report.Committed)
		assert.Empty(t, report.Failed)
		assert.Empty(t, s.Images())
		assert.Equal(t, Committed, s.State())

		for _, sum := range []string{sumA, sumB} {
			assert.FileExists(t, filepath.Join(root, sum))
			assert.FileExists(t, filepath.Join(root, "thumbs-16", sum))
			assert.NoFileExists(t, filepath.Join(cfg.StagingRoot, "k1", sum))
		}

		require.Len(t, rec.records, 2)
		for _, p := range rec.records {
			assert.Equal(t, report.IngestedAt, p.IngestedAt)
			assert.Equal(t, core.JPEGMimeType, p.MimeType)
			if p.Checksum == sumA {
				assert.Equal(t, "first", p.Comment)
				assert.Equal(t, time.Date(2014, 6, 7, 20, 21, 19, 0, time.UTC), p.CapturedAt)
			}
		}
	})

	t.Run("content already in store fails as duplicate", func(t *testing.T) {
		s, store, _, cfg := setup(t)

		a := testutil.JPEG(t, 16, 16, 3)
		b := testutil.JPEG(t, 16, 16, 4)
		sumA := checksumOf(t, a)
		_, err := store.Store(sumA, bytes.NewReader(a), storage.Full)
		require.NoError(t, err)

		submitAll(t, s, map[string][]byte{"a.jpg": a, "b.jpg": b})

		rec := &fakeRecorder{}
		report, err := s.Commit(context.Background(), store, rec)
		require.NoError(t, err)

		assert.Equal(t, []string{checksumOf(t, b)}, report.Committed)
		require.Contains(t, report.Failed, sumA)
		assert.ErrorIs(t, report.Failed[sumA], ErrDuplicateContent)

		assert.Contains(t, s.Images(), sumA)
		assert.FileExists(t, filepath.Join(cfg.StagingRoot, "k1", sumA))
		assert.Len(t, rec.records, 1)
	})

	t.Run("record failure is reported per item", func(t *testing.T) {
		s, store, _, _ := setup(t)

		a := testutil.JPEG(t, 16, 16, 5)
		b := testutil.JPEG(t, 16, 16, 6)
		submitAll(t, s, map[string][]byte{"a.jpg": a, "b.jpg": b})
		sumA := checksumOf(t, a)

		rec := &fakeRecorder{failFor: map[string]bool{sumA: true}}
		report, err := s.Commit(context.Background(), store, rec)
		require.NoError(t, err)

		assert.Contains(t, report.Failed, sumA)
		assert.Equal(t, []string{checksumOf(t, b)}, report.Committed)
	})

	t.Run("cancelled context commits nothing", func(t *testing.T) {
		s, store, root, _ := setup(t)

		a := testutil.JPEG(t, 16, 16, 7)
		submitAll(t, s, map[string][]byte{"a.jpg": a})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := s.Commit(ctx, store, &fakeRecorder{})
		require.NoError(t, err)
		assert.Empty(t, report.Committed)
		assert.ErrorIs(t, report.Failed[checksumOf(t, a)], context.Canceled)
		assert.NoFileExists(t, filepath.Join(root, checksumOf(t, a)))
	})

	t.Run("only once", func(t *testing.T) {
		s, store, _, _ := setup(t)

		_, err := s.Commit(context.Background(), store, &fakeRecorder{})
		require.NoError(t, err)

		_, err = s.Commit(context.Background(), store, &fakeRecorder{})
		assert.ErrorIs(t, err, ErrIllegalState)
		assert.ErrorIs(t, s.Submit(bytes.NewReader(nil), "x.jpg"), ErrIllegalState)
	})
}

func TestClear(t *testing.T) {
	t.Run("removes workspace and is idempotent", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)
		submitAll(t, s, map[string][]byte{"a.jpg": testutil.JPEG(t, 8, 8, 1)})

		require.NoError(t, s.Clear())
		assert.Empty(t, s.Images())
		assert.Equal(t, Cleared, s.State())
		assert.NoDirExists(t, filepath.Join(cfg.StagingRoot, "k1"))

		require.NoError(t, s.Clear())
		assert.ErrorIs(t, s.Submit(bytes.NewReader(nil), "x.jpg"), ErrIllegalState)
	})

	t.Run("never created", func(t *testing.T) {
		s, err := New(testConfig(t), "k1")
		require.NoError(t, err)
		assert.NoError(t, s.Clear())
	})

	t.Run("waits for running submissions", func(t *testing.T) {
		cfg := testConfig(t)
		s, err := Create(cfg, "k1")
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			require.NoError(t, s.Submit(bytes.NewReader(testutil.JPEG(t, 64, 64, byte(i))), "f.jpg"))
		}
		require.NoError(t, s.Clear())
		assert.NoDirExists(t, filepath.Join(cfg.StagingRoot, "k1"))
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "cleared", Cleared.String())
	assert.Equal(t, "state(9)", State(9).String())
}
