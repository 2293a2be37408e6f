package service

import (
	"context"
	"strings"
	"testing"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

func TestPreflight(t *testing.T) {
	video := func(sec float64, size int64) transfer.MediaSummary {
		return transfer.MediaSummary{Kind: models.MediaKindVideo, DurationSec: sec, SizeBytes: size}
	}
	image := transfer.MediaSummary{Kind: models.MediaKindImage, SizeBytes: 1 << 20}
	open := &models.Capability{MinDurationSec: 3, MaxDurationSec: 60, MaxSizeBytes: 1 << 30}

	cases := []struct {
		name     string
		platform string
		cap      *models.Capability
		media    []transfer.MediaSummary
		want     string
	}{
		{"ok", models.PlatformYoutube, open, []transfer.MediaSummary{video(30, 1 << 20)}, ""},
		{"blocking error wins", models.PlatformInstagram,
			&models.Capability{MaxDurationSec: 90, BlockingError: "You've posted too many times recently. Please try again later."},
			[]transfer.MediaSummary{video(30, 1)}, "You've posted too many times recently. Please try again later."},
		{"too long", models.PlatformYoutube, open, []transfer.MediaSummary{video(61, 1)}, "Cannot upload video longer than 60s to this account"},
		{"too short", models.PlatformYoutube, open, []transfer.MediaSummary{video(2, 1)}, "Cannot upload video shorter than 3s to this account"},
		{"too large", models.PlatformInstagram, open, []transfer.MediaSummary{video(30, 2 << 30)}, "Cannot upload files larger than 1.0 GiB to this account"},
		{"unknown duration", models.PlatformInstagram, open, []transfer.MediaSummary{video(0, 1000)}, ""},
		{"unknown duration still sized", models.PlatformInstagram, open, []transfer.MediaSummary{video(0, 2 << 30)}, "Cannot upload files larger than 1.0 GiB to this account"},
		{"images ignore duration", models.PlatformInstagram, open, []transfer.MediaSummary{image, image}, ""},
		{"youtube needs a video", models.PlatformYoutube, open, []transfer.MediaSummary{image}, "YouTube accepts exactly one video per post."},
		{"youtube single item", models.PlatformYoutube, open, []transfer.MediaSummary{video(10, 1), video(10, 1)}, "YouTube accepts exactly one video per post."},
		{"tiktok no mixing", models.PlatformTiktok, open, []transfer.MediaSummary{image, video(10, 1)}, "TikTok doesn't support mixing photos and videos in one post."},
		{"tiktok photos", models.PlatformTiktok, open, []transfer.MediaSummary{image, image, image}, ""},
		{"no media", models.PlatformTiktok, open, nil, "Please add at least one photo or video."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Preflight(tc.platform, tc.cap, tc.media); got != tc.want {
				t.Fatalf("Preflight() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestPreflightInstagramCarouselLimit(t *testing.T) {
	media := make([]transfer.MediaSummary, instagramMaxCarouselItems+1)
	for i := range media {
		media[i] = transfer.MediaSummary{Kind: models.MediaKindImage, SizeBytes: 1}
	}
	got := Preflight(models.PlatformInstagram, &models.Capability{MaxSizeBytes: 1 << 30}, media)
	if !strings.Contains(got, "up to 10 items") {
		t.Fatalf("expected carousel limit message, got %q", got)
	}
}

func TestCapabilityListSignsMirroredPictures(t *testing.T) {
	accounts := newFakeAccountRepo(
		&models.SocialAccount{ID: 1, UserID: 7, Platform: models.PlatformYoutube, ProfilePicture: "7/youtubeAccount/1"},
		&models.SocialAccount{ID: 2, UserID: 7, Platform: models.PlatformTiktok, ProfilePicture: "https://cdn.tiktok.test/a.jpg"},
		&models.SocialAccount{ID: 3, UserID: 8, Platform: models.PlatformYoutube},
	)
	staging := NewStagingService(testConfig(), newFakeBlobs(), &fakeMediaRepo{})
	yt := &fakePublisher{platform: models.PlatformYoutube, capability: &models.Capability{MaxDurationSec: 60}}
	svc := NewCapabilityService(testConfig(), accounts, staging, yt)

	views, err := svc.List(context.Background(), 7)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(views))
	}
	if views[0].ProfilePicture != "https://blobs.test/7/youtubeAccount/1" {
		t.Fatalf("mirrored picture not signed: %q", views[0].ProfilePicture)
	}
	if views[0].Capability.MaxDurationSec != 60 {
		t.Fatalf("capability not resolved: %+v", views[0].Capability)
	}
	if views[1].ProfilePicture != "https://cdn.tiktok.test/a.jpg" {
		t.Fatalf("remote picture should pass through, got %q", views[1].ProfilePicture)
	}
	if views[1].Capability.BlockingError == "" {
		t.Fatal("platform without a provider must be blocked")
	}
}
