package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"golang.org/x/sync/errgroup"
)

const instagramMaxCarouselItems = 10

// CapabilityProvider derives the live limits of one account. It never fails;
// problems are reported through Capability.BlockingError.
type CapabilityProvider interface {
	Platform() string
	Capability(ctx context.Context, acc *models.SocialAccount) *models.Capability
}

type CapabilityService interface {
	Resolve(ctx context.Context, acc *models.SocialAccount) *models.Capability
	List(ctx context.Context, userID int64) ([]*transfer.AccountView, error)
}

type capabilityService struct {
	cfg       config.Config
	sa        repository.SocialAccountRepository
	staging   StagingService
	providers map[string]CapabilityProvider
}

func NewCapabilityService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	staging StagingService,
	providers ...CapabilityProvider) CapabilityService {
	byPlatform := make(map[string]CapabilityProvider, len(providers))
	for _, p := range providers {
		byPlatform[p.Platform()] = p
	}
	return &capabilityService{
		cfg:       cfg,
		sa:        sa,
		staging:   staging,
		providers: byPlatform,
	}
}

func (s *capabilityService) Resolve(ctx context.Context, acc *models.SocialAccount) *models.Capability {
	p, ok := s.providers[acc.Platform]
	if !ok {
		return &models.Capability{BlockingError: fmt.Sprintf("Posting to %s is not supported.", acc.Platform)}
	}
	return p.Capability(ctx, acc)
}

// List returns the user's accounts with a freshly resolved capability each.
func (s *capabilityService) List(ctx context.Context, userID int64) ([]*transfer.AccountView, error) {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts: %w", err)
	}

	views := make([]*transfer.AccountView, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.PublishConcurrency, 1))
	for i, acc := range accounts {
		g.Go(func() error {
			capability := s.Resolve(gctx, acc)
			views[i] = &transfer.AccountView{
				ID:              acc.ID,
				Platform:        acc.Platform,
				AccountName:     acc.AccountName,
				AccountUsername: acc.AccountUsername,
				ProfilePicture:  s.pictureURL(gctx, acc.ProfilePicture),
				Capability:      *capability,
			}
			return nil
		})
	}
	_ = g.Wait()

	return views, nil
}

// pictureURL signs mirrored pictures; remote URLs pass through.
func (s *capabilityService) pictureURL(ctx context.Context, picture string) string {
	if picture == "" || strings.HasPrefix(picture, "http://") || strings.HasPrefix(picture, "https://") {
		return picture
	}
	signed, err := s.staging.SignedURL(ctx, picture)
	if err != nil {
		slog.Warn("failed to sign profile picture", "path", picture, "err", err)
		return ""
	}
	return signed
}

// Preflight checks media against an account's capability and the platform's
// structural rules. It returns the message that disables the account, or
// "" when the account may be attempted.
func Preflight(platform string, c *models.Capability, media []transfer.MediaSummary) string {
	if c == nil {
		return genericFailureMessage
	}
	if c.BlockingError != "" {
		return c.BlockingError
	}
	if msg := checkStructure(platform, media); msg != "" {
		return msg
	}

	for _, m := range media {
		// Duration is client reported; zero means unknown and skips the bounds.
		if m.Kind == models.MediaKindVideo && m.DurationSec > 0 {
			if c.MaxDurationSec > 0 && m.DurationSec > float64(c.MaxDurationSec) {
				return fmt.Sprintf("Cannot upload video longer than %ds to this account", c.MaxDurationSec)
			}
			if c.MinDurationSec > 0 && m.DurationSec < float64(c.MinDurationSec) {
				return fmt.Sprintf("Cannot upload video shorter than %ds to this account", c.MinDurationSec)
			}
		}
		if c.MaxSizeBytes > 0 && m.SizeBytes > c.MaxSizeBytes {
			return fmt.Sprintf("Cannot upload files larger than %s to this account", humanize.IBytes(uint64(c.MaxSizeBytes)))
		}
	}
	return ""
}

func checkStructure(platform string, media []transfer.MediaSummary) string {
	if len(media) == 0 {
		return "Please add at least one photo or video."
	}

	videos := 0
	for _, m := range media {
		if m.Kind == models.MediaKindVideo {
			videos++
		}
	}
	images := len(media) - videos

	switch platform {
	case models.PlatformYoutube:
		if len(media) != 1 || videos != 1 {
			return "YouTube accepts exactly one video per post."
		}
	case models.PlatformTiktok:
		if videos > 0 && images > 0 {
			return "TikTok doesn't support mixing photos and videos in one post."
		}
		if videos > 1 {
			return "TikTok accepts only one video per post."
		}
		if images > tiktokMaxPhotos {
			return fmt.Sprintf("TikTok accepts up to %d photos per post.", tiktokMaxPhotos)
		}
	case models.PlatformInstagram:
		if len(media) > instagramMaxCarouselItems {
			return fmt.Sprintf("Instagram accepts up to %d items per post.", instagramMaxCarouselItems)
		}
	}
	return ""
}

func summarize(media []*models.MediaFile) []transfer.MediaSummary {
	out := make([]transfer.MediaSummary, len(media))
	for i, mf := range media {
		out[i] = transfer.MediaSummary{Kind: mf.Kind, SizeBytes: mf.SizeBytes, DurationSec: mf.DurationSec}
	}
	return out
}
