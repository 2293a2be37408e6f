package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost/internal/models"
)

type MediaFileRepository interface {
	Create(ctx context.Context, tx *sql.Tx, mf *models.MediaFile) (int64, error)
	ListByPostID(ctx context.Context, postID string) ([]*models.MediaFile, error)
	RemoveByPostID(ctx context.Context, postID string) error
}

type mediaFileRepository struct {
	db *sql.DB
}

func NewMediaFileRepository(db *sql.DB) MediaFileRepository {
	return &mediaFileRepository{db: db}
}

// Create upserts on (post_id, position) so a retried stage overwrites the
// previous row for the same slot.
func (r *mediaFileRepository) Create(ctx context.Context, tx *sql.Tx, mf *models.MediaFile) (int64, error) {
	var id int64
	var err error

	query := `
		INSERT INTO media_files (post_id, user_id, file_path, position, kind, mime_type, size_bytes, duration_sec)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (post_id, position) DO UPDATE
		SET file_path = EXCLUDED.file_path,
			kind = EXCLUDED.kind,
			mime_type = EXCLUDED.mime_type,
			size_bytes = EXCLUDED.size_bytes,
			duration_sec = EXCLUDED.duration_sec
		RETURNING id
	`
	args := []interface{}{mf.PostID, mf.UserID, mf.FilePath, mf.Position, mf.Kind, mf.MimeType, mf.SizeBytes, mf.DurationSec}
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *mediaFileRepository) ListByPostID(ctx context.Context, postID string) ([]*models.MediaFile, error) {
	query := `
		SELECT id, post_id, user_id, file_path, position, kind, mime_type, size_bytes, duration_sec, created_at
		FROM media_files
		WHERE post_id = $1
		ORDER BY position
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var files []*models.MediaFile
	for rows.Next() {
		var mf models.MediaFile
		err := rows.Scan(&mf.ID, &mf.PostID, &mf.UserID, &mf.FilePath, &mf.Position,
			&mf.Kind, &mf.MimeType, &mf.SizeBytes, &mf.DurationSec, &mf.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		files = append(files, &mf)
	}
	return files, rows.Err()
}

func (r *mediaFileRepository) RemoveByPostID(ctx context.Context, postID string) error {
	query := `DELETE FROM media_files WHERE post_id = $1`
	_, err := r.db.ExecContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
