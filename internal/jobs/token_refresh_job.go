package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
)

const (
	refreshWindow    = 30 * time.Minute
	refreshLimit     = 10
	refreshJobTimeout = 5 * time.Minute
)

type TokenRefreshJob struct {
	sr repository.SocialAccountRepository
	yt service.YoutubeService
	tt service.TiktokService
}

func NewTokenRefreshJob(
	sr repository.SocialAccountRepository,
	yt service.YoutubeService,
	tt service.TiktokService) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr: sr,
		yt: yt,
		tt: tt,
	}
}

// Run is the cron entry point.
func (c *TokenRefreshJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshJobTimeout)
	defer cancel()

	refreshed, failed := c.RefreshTokens(ctx, time.Now())
	slog.Info("token refresh finished", "refreshed", refreshed, "failed", failed)
}

// RefreshTokens renews YouTube and TikTok tokens that expire within the next
// 30 minutes. Instagram page tokens do not expire and are skipped.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context, now time.Time) (refreshed, failed int) {
	accounts, err := c.sr.ListByTimeInterval(ctx, now, now.Add(refreshWindow))
	if err != nil {
		slog.Info(err.Error())
		return 0, 0
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	semaphore := make(chan struct{}, refreshLimit)

	for _, acc := range accounts {
		if acc.Platform == models.PlatformInstagram {
			continue
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			var err error
			switch acc.Platform {
			case models.PlatformYoutube:
				err = c.yt.RefreshYoutubeToken(ctx, acc)
			case models.PlatformTiktok:
				err = c.tt.RefreshTiktokToken(ctx, acc)
			default:
				return
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Warn("unable to refresh token", "account_id", acc.ID, "platform", acc.Platform, "err", err)
				return
			}
			refreshed++
		}(acc)
	}

	wg.Wait()
	return refreshed, failed
}
