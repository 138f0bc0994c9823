package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// sqliteMigrations mirrors migrations for SQLite.
var sqliteMigrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_photos",
		SQL: `
			CREATE TABLE IF NOT EXISTS photos (
				id          INTEGER   PRIMARY KEY AUTOINCREMENT,
				checksum    TEXT      NOT NULL UNIQUE,
				mimetype    TEXT      NOT NULL,
				captured_at TIMESTAMP NOT NULL,
				ingested_at TIMESTAMP NOT NULL,
				comment     TEXT      NOT NULL DEFAULT ''
			);
			CREATE INDEX IF NOT EXISTS idx_photos_captured_at ON photos(captured_at);
			CREATE INDEX IF NOT EXISTS idx_photos_ingested_at ON photos(ingested_at);
		`,
	},
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)

// SQLiteRepository provides photo record operations on a SQLite file.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the SQLite database at path.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("opened sqlite database", "path", path)
	return &SQLiteRepository{db: db}, nil
}

// RunMigrations applies all pending database migrations in order.
func (r *SQLiteRepository) RunMigrations(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range sqliteMigrations {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)",
			m.Version,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check migration status for %s: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := r.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %s: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %s: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.Version, err)
		}

		slog.Info("applied migration", "version", m.Version)
	}

	return nil
}

// CreateRecord inserts a new photo record and sets its ID.
func (r *SQLiteRepository) CreateRecord(ctx context.Context, photo *Photo) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO photos (checksum, mimetype, captured_at, ingested_at, comment)
		VALUES (?, ?, ?, ?, ?)
	`,
		photo.Checksum,
		photo.MimeType,
		photo.CapturedAt.UTC(),
		photo.IngestedAt.UTC(),
		photo.Comment,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", ErrDuplicatePhoto, photo.Checksum)
		}
		return fmt.Errorf("failed to create photo: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read photo id: %w", err)
	}
	photo.ID = id
	return nil
}

// GetByChecksum retrieves a photo by its checksum.
func (r *SQLiteRepository) GetByChecksum(ctx context.Context, checksum string) (*Photo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, checksum, mimetype, captured_at, ingested_at, comment
		FROM photos WHERE checksum = ?
	`, checksum)

	photo, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	return photo, nil
}

// UpdateDetails changes the editable fields of a photo.
func (r *SQLiteRepository) UpdateDetails(ctx context.Context, checksum string, capturedAt time.Time, comment string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE photos SET captured_at = ?, comment = ? WHERE checksum = ?",
		capturedAt.UTC(), comment, checksum)
	if err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	if n == 0 {
		return ErrPhotoNotFound
	}
	return nil
}

// List returns photos ordered by capture date, newest first.
func (r *SQLiteRepository) List(ctx context.Context, limit, offset int) ([]*Photo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, checksum, mimetype, captured_at, ingested_at, comment
		FROM photos ORDER BY captured_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// GetStats returns aggregate photo statistics.
func (r *SQLiteRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos").Scan(&stats.TotalPhotos); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	if stats.TotalPhotos == 0 {
		return stats, nil
	}

	var last time.Time
	err := r.db.QueryRowContext(ctx,
		"SELECT ingested_at FROM photos ORDER BY ingested_at DESC LIMIT 1").Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	stats.LastIngestedAt = &last
	return stats, nil
}

// HealthCheck verifies the database is reachable.
func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*Photo, error) {
	photo := &Photo{}
	if err := row.Scan(
		&photo.ID,
		&photo.Checksum,
		&photo.MimeType,
		&photo.CapturedAt,
		&photo.IngestedAt,
		&photo.Comment,
	); err != nil {
		return nil, err
	}
	return photo, nil
}
