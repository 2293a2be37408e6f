package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/crosspost/internal/models"
)

type PlatformPostRepository interface {
	Create(ctx context.Context, pp *models.PlatformPost) (int64, error)
	ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPost, error)
}

type platformPostRepository struct {
	db *sql.DB
}

func NewPlatformPostRepository(db *sql.DB) PlatformPostRepository {
	return &platformPostRepository{db: db}
}

func (r *platformPostRepository) Create(ctx context.Context, pp *models.PlatformPost) (int64, error) {
	query := `
		INSERT INTO platform_posts (post_id, account_id, platform, provider_post_id, caption)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, pp.PostID, pp.AccountID, pp.Platform, pp.ProviderPostID, pp.Caption).
		Scan(&pp.ID, &pp.CreatedAt)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return pp.ID, nil
}

func (r *platformPostRepository) ListByPostID(ctx context.Context, postID string) ([]*models.PlatformPost, error) {
	query := `
		SELECT id, post_id, account_id, platform, provider_post_id, caption, created_at
		FROM platform_posts
		WHERE post_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.PlatformPost
	for rows.Next() {
		var pp models.PlatformPost
		err := rows.Scan(&pp.ID, &pp.PostID, &pp.AccountID, &pp.Platform, &pp.ProviderPostID, &pp.Caption, &pp.CreatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, &pp)
	}
	return posts, rows.Err()
}
