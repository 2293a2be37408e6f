package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PostService interface {
	List(ctx context.Context, userID int64) ([]*models.Post, error)
	PostInfo(ctx context.Context, postID string, userID int64) (*transfer.PostInfo, error)
	Attempts(ctx context.Context, postID string, userID int64) ([]*models.PublishAttempt, error)
	Remove(ctx context.Context, userID int64, postID string) error
}

type postService struct {
	pr      repository.PostRepository
	mf      repository.MediaFileRepository
	pp      repository.PlatformPostRepository
	pa      repository.PublishAttemptRepository
	staging StagingService
}

func NewPostService(
	pr repository.PostRepository,
	mf repository.MediaFileRepository,
	pp repository.PlatformPostRepository,
	pa repository.PublishAttemptRepository,
	staging StagingService) PostService {
	return &postService{
		pr:      pr,
		mf:      mf,
		pp:      pp,
		pa:      pa,
		staging: staging,
	}
}

func (s *postService) List(ctx context.Context, userID int64) ([]*models.Post, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	posts, err := s.pr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting posts: %w", err)
	}
	return posts, nil
}

func (s *postService) owned(ctx context.Context, postID string, userID int64) error {
	if userID == 0 || postID == "" {
		err := errors.New("UserID or PostID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.pr.CheckByUserID(ctx, postID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		slog.Info(ErrPostNotFound.Error(), "post_id", postID)
		return ErrPostNotFound
	}
	return nil
}

func (s *postService) PostInfo(ctx context.Context, postID string, userID int64) (*transfer.PostInfo, error) {
	if err := s.owned(ctx, postID, userID); err != nil {
		return nil, err
	}

	post, err := s.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}

	media, err := s.mf.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	platformPosts, err := s.pp.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	return &transfer.PostInfo{Post: post, Media: media, PlatformPosts: platformPosts}, nil
}

// Attempts is available after rollback too, the post row is not required.
func (s *postService) Attempts(ctx context.Context, postID string, userID int64) ([]*models.PublishAttempt, error) {
	if userID == 0 || postID == "" {
		err := errors.New("UserID or PostID is not valid")
		slog.Info(err.Error())
		return nil, err
	}
	return s.pa.ListByPostID(ctx, postID, userID)
}

// Remove deletes the post, its staged media and its platform post records.
// Publications already live on providers are left alone.
func (s *postService) Remove(ctx context.Context, userID int64, postID string) error {
	if err := s.owned(ctx, postID, userID); err != nil {
		return err
	}

	media, err := s.mf.ListByPostID(ctx, postID)
	if err != nil {
		return err
	}
	if err := s.staging.Discard(ctx, media); err != nil {
		slog.Error("failed to discard post media", "post_id", postID, "err", err)
	}

	if err := s.pr.Remove(ctx, postID); err != nil {
		return fmt.Errorf("error removing post: %w", err)
	}
	return nil
}
