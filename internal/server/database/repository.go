package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrPhotoNotFound  = errors.New("photo not found")
	ErrDuplicatePhoto = errors.New("photo record already exists")
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// Repository persists photo records.
type Repository interface {
	CreateRecord(ctx context.Context, photo *Photo) error
	GetByChecksum(ctx context.Context, checksum string) (*Photo, error)
	UpdateDetails(ctx context.Context, checksum string, capturedAt time.Time, comment string) error
	List(ctx context.Context, limit, offset int) ([]*Photo, error)
	GetStats(ctx context.Context) (*Stats, error)
	RunMigrations(ctx context.Context) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// PostgresRepository provides photo record operations on Postgres.
type PostgresRepository struct {
	db *DB
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateRecord inserts a new photo record and sets its ID.
func (r *PostgresRepository) CreateRecord(ctx context.Context, photo *Photo) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO photos (checksum, mimetype, captured_at, ingested_at, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`,
		photo.Checksum,
		photo.MimeType,
		photo.CapturedAt,
		photo.IngestedAt,
		photo.Comment,
	).Scan(&photo.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicatePhoto, photo.Checksum)
		}
		return fmt.Errorf("failed to create photo: %w", err)
	}
	return nil
}

// GetByChecksum retrieves a photo by its checksum.
func (r *PostgresRepository) GetByChecksum(ctx context.Context, checksum string) (*Photo, error) {
	photo := &Photo{}
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, checksum, mimetype, captured_at, ingested_at, comment
		FROM photos WHERE checksum = $1
	`, checksum).Scan(
		&photo.ID,
		&photo.Checksum,
		&photo.MimeType,
		&photo.CapturedAt,
		&photo.IngestedAt,
		&photo.Comment,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPhotoNotFound
		}
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	return photo, nil
}

// UpdateDetails changes the editable fields of a photo.
func (r *PostgresRepository) UpdateDetails(ctx context.Context, checksum string, capturedAt time.Time, comment string) error {
	tag, err := r.db.Pool.Exec(ctx,
		"UPDATE photos SET captured_at = $2, comment = $3 WHERE checksum = $1",
		checksum, capturedAt, comment)
	if err != nil {
		return fmt.Errorf("failed to update photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPhotoNotFound
	}
	return nil
}

// List returns photos ordered by capture date, newest first.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*Photo, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, checksum, mimetype, captured_at, ingested_at, comment
		FROM photos ORDER BY captured_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	defer rows.Close()

	var photos []*Photo
	for rows.Next() {
		photo := &Photo{}
		if err := rows.Scan(
			&photo.ID,
			&photo.Checksum,
			&photo.MimeType,
			&photo.CapturedAt,
			&photo.IngestedAt,
			&photo.Comment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	return photos, rows.Err()
}

// GetStats returns aggregate photo statistics.
func (r *PostgresRepository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(ingested_at) FROM photos
	`).Scan(
		&stats.TotalPhotos,
		&stats.LastIngestedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

// RunMigrations applies pending schema migrations.
func (r *PostgresRepository) RunMigrations(ctx context.Context) error {
	return r.db.RunMigrations(ctx)
}

// HealthCheck verifies the database connection is alive.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// Close shuts down the connection pool.
func (r *PostgresRepository) Close() error {
	r.db.Close()
	return nil
}
