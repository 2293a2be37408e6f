package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	cfg "github.com/maheshrc27/crosspost/configs"
)

// BlobStore is the object storage used for staged media and mirrored
// profile pictures.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, keys ...string) error
}

type R2Service struct {
	config  cfg.Config
	client  *s3.Client
	presign *s3.PresignClient
}

func NewR2Service(ctx context.Context, c cfg.Config) (*R2Service, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(c.R2.AccessKey, c.R2.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2.AccountID))
	})

	return &R2Service{
		config:  c,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

func (r *R2Service) bucket() (*string, error) {
	if r.config.R2.BucketName == "" {
		return nil, errors.New("storage bucket is not configured")
	}
	return aws.String(r.config.R2.BucketName), nil
}

// Put overwrites any existing object at key.
func (r *R2Service) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	bucket, err := r.bucket()
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      bucket,
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *R2Service) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	bucket, err := r.bucket()
	if err != nil {
		return "", err
	}

	req, err := r.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: bucket,
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	return req.URL, nil
}

func (r *R2Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, err := r.bucket()
	if err != nil {
		return nil, err
	}

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return out.Body, nil
}

func (r *R2Service) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	bucket, err := r.bucket()
	if err != nil {
		return err
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	_, err = r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: bucket,
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
