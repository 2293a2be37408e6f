package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

func pngBytes() []byte {
	b := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	return append(b, make([]byte, 64)...)
}

func mp4Bytes() []byte {
	b := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}
	return append(b, make([]byte, 512)...)
}

func upload(name string, data []byte, duration float64) *transfer.MediaUpload {
	return &transfer.MediaUpload{
		Filename:    name,
		Size:        int64(len(data)),
		DurationSec: duration,
		Content:     bytes.NewReader(data),
	}
}

func TestStageImage(t *testing.T) {
	blobs := newFakeBlobs()
	media := &fakeMediaRepo{}
	s := NewStagingService(testConfig(), blobs, media)

	mf, err := s.Stage(context.Background(), 7, "post1", 0, upload("photo.png", pngBytes(), 12))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if mf.FilePath != "7/post1/0.png" {
		t.Fatalf("unexpected path %q", mf.FilePath)
	}
	if mf.Kind != models.MediaKindImage || mf.MimeType != "image/png" {
		t.Fatalf("unexpected kind/mime %s %s", mf.Kind, mf.MimeType)
	}
	if mf.DurationSec != 0 {
		t.Fatalf("images carry no duration, got %v", mf.DurationSec)
	}
	if mf.ID == 0 || len(media.rows) != 1 {
		t.Fatalf("expected one media row, got %d", len(media.rows))
	}
	if got := blobs.keys(); len(got) != 1 || got[0] != mf.FilePath {
		t.Fatalf("unexpected blobs %v", got)
	}
	if !bytes.Equal(blobs.objects[mf.FilePath], pngBytes()) {
		t.Fatal("blob content differs from the upload")
	}
}

func TestStageVideoKeepsNamedExtension(t *testing.T) {
	s := NewStagingService(testConfig(), newFakeBlobs(), &fakeMediaRepo{})

	mf, err := s.Stage(context.Background(), 7, "post1", 2, upload("clip.MOV", mp4Bytes(), 42.5))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if mf.FilePath != "7/post1/2.mov" || mf.Kind != models.MediaKindVideo {
		t.Fatalf("unexpected media file %+v", mf)
	}
	if mf.DurationSec != 42.5 {
		t.Fatalf("expected duration kept, got %v", mf.DurationSec)
	}
}

func TestStageRejectsUnknownType(t *testing.T) {
	blobs := newFakeBlobs()
	s := NewStagingService(testConfig(), blobs, &fakeMediaRepo{})

	_, err := s.Stage(context.Background(), 7, "post1", 0, upload("notes.txt", []byte("just some text, not media"), 0))
	if !errors.Is(err, ErrStaging) {
		t.Fatalf("expected ErrStaging, got %v", err)
	}
	if len(blobs.keys()) != 0 {
		t.Fatal("nothing should be stored")
	}
}

func TestStageRemovesBlobWhenRowFails(t *testing.T) {
	blobs := newFakeBlobs()
	s := NewStagingService(testConfig(), blobs, &fakeMediaRepo{fail: true})

	_, err := s.Stage(context.Background(), 7, "post1", 0, upload("photo.png", pngBytes(), 0))
	if !errors.Is(err, ErrStaging) {
		t.Fatalf("expected ErrStaging, got %v", err)
	}
	if len(blobs.keys()) != 0 {
		t.Fatalf("orphaned blob left behind: %v", blobs.keys())
	}
}

func TestStageRequiresBucket(t *testing.T) {
	cfg := testConfig()
	cfg.R2.BucketName = ""
	s := NewStagingService(cfg, newFakeBlobs(), &fakeMediaRepo{})

	if _, err := s.Stage(context.Background(), 7, "post1", 0, upload("photo.png", pngBytes(), 0)); !errors.Is(err, ErrStaging) {
		t.Fatalf("expected ErrStaging, got %v", err)
	}
}

func TestDiscardRemovesBlobsAndRows(t *testing.T) {
	blobs := newFakeBlobs()
	media := &fakeMediaRepo{}
	s := NewStagingService(testConfig(), blobs, media)
	ctx := context.Background()

	var files []*models.MediaFile
	for i, u := range []*transfer.MediaUpload{upload("a.png", pngBytes(), 0), upload("b.mp4", mp4Bytes(), 10)} {
		mf, err := s.Stage(ctx, 7, "post1", i, u)
		if err != nil {
			t.Fatalf("Stage %d: %v", i, err)
		}
		files = append(files, mf)
	}

	if err := s.Discard(ctx, files); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if len(blobs.keys()) != 0 || len(media.rows) != 0 {
		t.Fatalf("expected everything removed, blobs=%v rows=%d", blobs.keys(), len(media.rows))
	}
}

func TestSignedURLUsesStore(t *testing.T) {
	s := NewStagingService(testConfig(), newFakeBlobs(), &fakeMediaRepo{})

	u, err := s.SignedURL(context.Background(), "7/post1/0.png")
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	if u != "https://blobs.test/7/post1/0.png" {
		t.Fatalf("unexpected url %q", u)
	}
}
