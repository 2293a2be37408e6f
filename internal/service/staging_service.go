package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

// headerSize is the number of bytes filetype needs to recognise every
// supported container.
const headerSize = 261

var allowedMediaTypes = map[string]string{
	"mp4":  models.MediaKindVideo,
	"mov":  models.MediaKindVideo,
	"jpg":  models.MediaKindImage,
	"jpeg": models.MediaKindImage,
	"png":  models.MediaKindImage,
}

type StagingService interface {
	Stage(ctx context.Context, userID int64, postID string, index int, upload *transfer.MediaUpload) (*models.MediaFile, error)
	SignedURL(ctx context.Context, path string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Discard(ctx context.Context, files []*models.MediaFile) error
}

type stagingService struct {
	cfg   config.Config
	blobs BlobStore
	mf    repository.MediaFileRepository
}

func NewStagingService(cfg config.Config, blobs BlobStore, mf repository.MediaFileRepository) StagingService {
	return &stagingService{
		cfg:   cfg,
		blobs: blobs,
		mf:    mf,
	}
}

// StagedPath is the storage key of a post's media at index.
func StagedPath(userID int64, postID string, index int, ext string) string {
	return fmt.Sprintf("%d/%s/%d.%s", userID, postID, index, ext)
}

func (s *stagingService) Stage(ctx context.Context, userID int64, postID string, index int, upload *transfer.MediaUpload) (*models.MediaFile, error) {
	if s.cfg.R2.BucketName == "" {
		return nil, fmt.Errorf("%w: storage bucket is not configured", ErrStaging)
	}
	if upload == nil || upload.Content == nil {
		return nil, fmt.Errorf("%w: empty upload at index %d", ErrStaging, index)
	}

	kind, mime, ext, err := sniff(upload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStaging, err)
	}

	path := StagedPath(userID, postID, index, ext)
	if err := s.blobs.Put(ctx, path, upload.Content, upload.Size, mime); err != nil {
		return nil, fmt.Errorf("%w: upload %s: %w", ErrStaging, path, err)
	}

	mf := &models.MediaFile{
		PostID:      postID,
		UserID:      userID,
		FilePath:    path,
		Position:    index,
		Kind:        kind,
		MimeType:    mime,
		SizeBytes:   upload.Size,
		DurationSec: upload.DurationSec,
	}
	if kind == models.MediaKindImage {
		mf.DurationSec = 0
	}

	id, err := s.mf.Create(ctx, nil, mf)
	if err != nil {
		// the row never landed, so the blob would be orphaned
		if derr := s.blobs.Delete(ctx, path); derr != nil {
			slog.Warn("failed to remove orphaned blob", "path", path, "err", derr)
		}
		return nil, fmt.Errorf("%w: record %s: %w", ErrStaging, path, err)
	}
	mf.ID = id

	return mf, nil
}

// sniff detects the media type from the file header and rewinds the reader.
func sniff(upload *transfer.MediaUpload) (kind, mime, ext string, err error) {
	header := make([]byte, headerSize)
	n, err := io.ReadFull(upload.Content, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", "", "", fmt.Errorf("read header: %w", err)
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", "", "", fmt.Errorf("rewind upload: %w", err)
	}

	fileType, err := filetype.Match(header[:n])
	if err != nil || fileType == types.Unknown {
		return "", "", "", errors.New("unsupported file type")
	}
	kind, ok := allowedMediaTypes[fileType.Extension]
	if !ok {
		return "", "", "", fmt.Errorf("file type %s is not allowed", fileType.Extension)
	}

	ext = fileType.Extension
	if named := strings.TrimPrefix(strings.ToLower(filepath.Ext(upload.Filename)), "."); named != "" {
		if namedKind, ok := allowedMediaTypes[named]; ok && namedKind == kind {
			ext = named
		}
	}
	return kind, fileType.MIME.Value, ext, nil
}

func (s *stagingService) SignedURL(ctx context.Context, path string) (string, error) {
	url, err := s.blobs.PresignGet(ctx, path, s.cfg.SignedURLTTL)
	if err != nil {
		return "", fmt.Errorf("%w: sign %s: %w", ErrStaging, path, err)
	}
	return url, nil
}

func (s *stagingService) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	body, err := s.blobs.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStaging, path, err)
	}
	return body, nil
}

// Discard removes the blobs of files and then their rows.
func (s *stagingService) Discard(ctx context.Context, files []*models.MediaFile) error {
	if len(files) == 0 {
		return nil
	}

	keys := make([]string, 0, len(files))
	postIDs := map[string]struct{}{}
	for _, f := range files {
		keys = append(keys, f.FilePath)
		postIDs[f.PostID] = struct{}{}
	}

	var errs []error
	if err := s.blobs.Delete(ctx, keys...); err != nil {
		errs = append(errs, err)
	}
	for postID := range postIDs {
		if err := s.mf.RemoveByPostID(ctx, postID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
