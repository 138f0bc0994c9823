package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StagingSweeper periodically removes upload session workspaces that were
// abandoned before commit or clear.
type StagingSweeper struct {
	stagingPath string
	ttl         time.Duration
	interval    time.Duration
	done        chan struct{}
}

// NewStagingSweeper creates a sweeper for the session workspaces under stagingPath.
func NewStagingSweeper(stagingPath string, ttl, interval time.Duration) *StagingSweeper {
	return &StagingSweeper{
		stagingPath: stagingPath,
		ttl:         ttl,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (ss *StagingSweeper) Start(ctx context.Context) {
	slog.Info("staging sweeper started", "interval", ss.interval, "ttl", ss.ttl)

	go func() {
		ticker := time.NewTicker(ss.interval)
		defer ticker.Stop()

		// Run once immediately on start
		ss.runSweep()

		for {
			select {
			case <-ticker.C:
				ss.runSweep()
			case <-ctx.Done():
				slog.Info("staging sweeper stopping")
				close(ss.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (ss *StagingSweeper) Wait() {
	<-ss.done
}

// Sweep removes every session workspace last modified before now minus the TTL.
// It returns the number of workspaces removed.
func (ss *StagingSweeper) Sweep(now time.Time) (int, error) {
	entries, err := os.ReadDir(ss.stagingPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}

	cutoff := now.Add(-ss.ttl)
	var removed int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Error("failed to stat session workspace", "session", entry.Name(), "error", err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(filepath.Join(ss.stagingPath, entry.Name())); err != nil {
			slog.Error("failed to remove stale session workspace",
				"session", entry.Name(),
				"error", err,
			)
			continue
		}

		removed++
		slog.Info("removed stale session workspace",
			"session", entry.Name(),
			"modified_at", info.ModTime(),
		)
	}
	return removed, nil
}

func (ss *StagingSweeper) runSweep() {
	slog.Info("running staging sweep")

	removed, err := ss.Sweep(time.Now())
	if err != nil {
		slog.Error("staging sweep failed", "error", err)
		return
	}

	slog.Info("staging sweep complete", "removed", removed)
}
