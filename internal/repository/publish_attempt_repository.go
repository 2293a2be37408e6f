package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost/internal/models"
)

type PublishAttemptRepository interface {
	Create(ctx context.Context, pa *models.PublishAttempt) (int64, error)
	ListByPostID(ctx context.Context, postID string, userID int64) ([]*models.PublishAttempt, error)
}

type publishAttemptRepository struct {
	db *sql.DB
}

func NewPublishAttemptRepository(db *sql.DB) PublishAttemptRepository {
	return &publishAttemptRepository{db: db}
}

func (r *publishAttemptRepository) Create(ctx context.Context, pa *models.PublishAttempt) (int64, error) {
	query := `
		INSERT INTO publish_attempts (user_id, post_id, account_id, platform, state, error_kind, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		pa.UserID, pa.PostID, pa.AccountID, pa.Platform, pa.State, pa.ErrorKind, pa.ErrorMessage,
	).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

// ListByPostID scopes by user instead of post ownership since the post row
// may already be gone after a rollback.
func (r *publishAttemptRepository) ListByPostID(ctx context.Context, postID string, userID int64) ([]*models.PublishAttempt, error) {
	query := `
		SELECT id, user_id, post_id, account_id, platform, state, error_kind, error_message, created_at
		FROM publish_attempts
		WHERE post_id = $1 AND user_id = $2
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, postID, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var attempts []*models.PublishAttempt
	for rows.Next() {
		var pa models.PublishAttempt
		err := rows.Scan(&pa.ID, &pa.UserID, &pa.PostID, &pa.AccountID, &pa.Platform,
			&pa.State, &pa.ErrorKind, &pa.ErrorMessage, &pa.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		attempts = append(attempts, &pa)
	}
	return attempts, rows.Err()
}
