package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open connects to the database named by url. postgres:// and postgresql://
// URLs use the pgx pool; sqlite:// URLs and file: paths use SQLite.
func Open(ctx context.Context, url string) (Repository, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := New(ctx, url)
		if err != nil {
			return nil, err
		}
		return NewPostgresRepository(db), nil
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		return NewSQLiteRepository(ctx, path)
	case strings.HasPrefix(url, "file:"):
		return NewSQLiteRepository(ctx, url)
	default:
		return nil, fmt.Errorf("unsupported database URL %q", url)
	}
}
