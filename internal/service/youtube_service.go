package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeMinDurationSec = 3
	youtubeMaxDurationSec = 60
	youtubeMaxSizeBytes   = 256 << 30

	youtubeRevokeURL = "https://oauth2.googleapis.com/revoke"

	youtubeReconnectMessage  = "Your YouTube session has expired. Please reconnect your account and try again."
	youtubePermissionMessage = "It seems like you didn't grant permission to upload videos. Please reconnect your account and try again."
	youtubeRateLimitMessage  = "You've made too many requests to YouTube recently. Please try again in a few minutes."
)

// youtubeReasons maps the reason of the first googleapi error item.
var youtubeReasons = map[string]graphRule{
	"quotaExceeded":           {ErrRateLimited, "YouTube's daily upload quota has been reached. Please try again tomorrow."},
	"uploadLimitExceeded":     {ErrRateLimited, "You've reached YouTube's upload limit for today. Please try again tomorrow."},
	"rateLimitExceeded":       {ErrRateLimited, youtubeRateLimitMessage},
	"userRateLimitExceeded":   {ErrRateLimited, youtubeRateLimitMessage},
	"forbidden":               {ErrAuthExpired, youtubePermissionMessage},
	"insufficientPermissions": {ErrAuthExpired, youtubePermissionMessage},
	"youtubeSignupRequired":   {ErrAuthExpired, "Your Google account doesn't have a YouTube channel yet. Please create one and reconnect."},
	"invalidTitle":            {ErrContentRejected, "YouTube rejected the video title. Please shorten it or remove special characters."},
	"invalidDescription":      {ErrContentRejected, "YouTube rejected the video description. Please shorten it and try again."},
}

var youtubeScopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeReadonlyScope,
	"https://www.googleapis.com/auth/userinfo.profile",
}

type YoutubeService interface {
	Publisher
	CapabilityProvider
	AuthURL(state string) string
	YoutubeCallback(ctx context.Context, code string, userID int64) (*models.SocialAccount, error)
	RefreshYoutubeToken(ctx context.Context, acc *models.SocialAccount) error
	RevokeGoogleAccess(ctx context.Context, acc *models.SocialAccount) error
}

type youtubeService struct {
	cfg     config.Config
	sa      repository.SocialAccountRepository
	staging StagingService
	cipher  *utils.TokenCipher
	client  *http.Client
}

func NewYoutubeService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	staging StagingService) YoutubeService {
	return &youtubeService{
		cfg:     cfg,
		sa:      sa,
		staging: staging,
		cipher:  utils.NewTokenCipher(cfg.SecretKey),
		client:  defaultHTTPClient,
	}
}

func (s *youtubeService) Platform() string {
	return models.PlatformYoutube
}

func (s *youtubeService) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.GoogleClientID,
		ClientSecret: s.cfg.GoogleClientSecret,
		RedirectURL:  s.cfg.GoogleRedirectURI,
		Scopes:       youtubeScopes,
		Endpoint:     google.Endpoint,
	}
}

func (s *youtubeService) AuthURL(state string) string {
	return s.oauthConfig().AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *youtubeService) newYoutube(ctx context.Context, ts oauth2.TokenSource) (*youtube.Service, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, s.client)
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(base, ts))}
	if s.cfg.YoutubeAPIURL != "" {
		opts = append(opts, option.WithEndpoint(s.cfg.YoutubeAPIURL))
	}
	return youtube.NewService(ctx, opts...)
}

// Publish streams the staged video into videos.insert. YouTube returns the
// id synchronously, there is nothing to poll.
func (s *youtubeService) Publish(ctx context.Context, job *PublishJob) (string, error) {
	if len(job.Media) != 1 || job.Media[0].Kind != models.MediaKindVideo {
		return "", &ProviderError{Provider: models.PlatformYoutube, Step: "upload", Kind: ErrContentRejected,
			Message: "YouTube accepts exactly one video per post."}
	}
	title := strings.TrimSpace(job.Options.YoutubeTitle)
	if title == "" {
		return "", &ProviderError{Provider: models.PlatformYoutube, Step: "upload", Kind: ErrContentRejected,
			Message: "Please add a title for your YouTube video."}
	}

	token, err := s.cipher.Open(job.Account.AccessToken)
	if err != nil {
		return "", reconnectError(models.PlatformYoutube, err)
	}

	svc, err := s.newYoutube(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	if err != nil {
		return "", asProviderError(models.PlatformYoutube, "upload", err)
	}

	body, err := s.staging.Open(ctx, job.Media[0].FilePath)
	if err != nil {
		return "", asProviderError(models.PlatformYoutube, "upload", err)
	}
	defer body.Close()

	privacy := "public"
	if job.Options.YoutubePrivate {
		privacy = "private"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       title,
			Description: title,
			CategoryId:  "22",
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
			ForceSendFields:         []string{"SelfDeclaredMadeForKids"},
		},
	}

	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).Media(body).Context(ctx).Do()
	if err != nil {
		return "", translateYoutubeError("upload", err)
	}
	if resp.Id == "" {
		return "", &ProviderError{Provider: models.PlatformYoutube, Step: "upload", Kind: ErrProviderTransient, Message: genericFailureMessage,
			Err: errors.New("no video id returned")}
	}
	return resp.Id, nil
}

// Capability is static for YouTube.
func (s *youtubeService) Capability(ctx context.Context, acc *models.SocialAccount) *models.Capability {
	return &models.Capability{
		MinDurationSec: youtubeMinDurationSec,
		MaxDurationSec: youtubeMaxDurationSec,
		MaxSizeBytes:   youtubeMaxSizeBytes,
	}
}

func translateYoutubeError(step string, err error) error {
	pe := &ProviderError{
		Provider: models.PlatformYoutube,
		Step:     step,
		Kind:     ErrProviderTransient,
		Message:  genericFailureMessage,
		Err:      err,
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		pe.Code = retrieveErr.ErrorCode
		pe.Kind, pe.Message = ErrAuthExpired, youtubeReconnectMessage
		return pe
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return pe
	}

	pe.Code = strconv.Itoa(apiErr.Code)
	reason := ""
	if len(apiErr.Errors) > 0 {
		reason = apiErr.Errors[0].Reason
		pe.Code = reason
	}

	if rule, ok := youtubeReasons[reason]; ok {
		pe.Kind, pe.Message = rule.kind, rule.message
		return pe
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		pe.Kind, pe.Message = ErrAuthExpired, youtubeReconnectMessage
	case apiErr.Code == http.StatusForbidden:
		pe.Kind, pe.Message = ErrAuthExpired, youtubePermissionMessage
	case apiErr.Code == http.StatusTooManyRequests:
		pe.Kind, pe.Message = ErrRateLimited, youtubeRateLimitMessage
	case apiErr.Code >= 400 && apiErr.Code < 500:
		pe.Kind, pe.Message = ErrContentRejected, "YouTube couldn't accept this video. Please check the file and try again."
	}
	return pe
}

func (s *youtubeService) YoutubeCallback(ctx context.Context, code string, userID int64) (*models.SocialAccount, error) {
	if code == "" {
		err := errors.New("code or state is empty")
		slog.Info(err.Error())
		return nil, err
	}

	conf := s.oauthConfig()
	if conf.ClientID == "" || conf.ClientSecret == "" || conf.RedirectURL == "" {
		err := errors.New("OAuth2 configuration is incomplete")
		slog.Info(err.Error())
		return nil, err
	}

	token, err := conf.Exchange(context.WithValue(ctx, oauth2.HTTPClient, s.client), code)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	if token.RefreshToken == "" {
		err = errors.New("refresh token is empty")
		slog.Info(err.Error())
		return nil, err
	}

	svc, err := s.newYoutube(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, err
	}
	channels, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		slog.Info(err.Error())
		return nil, translateYoutubeError("profile", err)
	}
	if len(channels.Items) == 0 {
		err = errors.New("no YouTube channel found for this Google account")
		slog.Info(err.Error())
		return nil, err
	}
	channel := channels.Items[0]

	sealedAccess, err := s.cipher.Seal(token.AccessToken)
	if err != nil {
		return nil, err
	}
	sealedRefresh, err := s.cipher.Seal(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	acc := &models.SocialAccount{
		UserID:         userID,
		Platform:       models.PlatformYoutube,
		AccountID:      channel.Id,
		AccessToken:    sealedAccess,
		RefreshToken:   sealedRefresh,
		TokenExpiresAt: token.Expiry,
	}
	if sn := channel.Snippet; sn != nil {
		acc.AccountName = sn.Title
		acc.AccountUsername = sn.CustomUrl
		if sn.Thumbnails != nil && sn.Thumbnails.Default != nil {
			acc.ProfilePicture = sn.Thumbnails.Default.Url
		}
	}

	id, err := s.sa.Create(ctx, nil, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id
	return acc, nil
}

func (s *youtubeService) RefreshYoutubeToken(ctx context.Context, acc *models.SocialAccount) error {
	refresh, err := s.cipher.Open(acc.RefreshToken)
	if err != nil {
		return err
	}

	ts := s.oauthConfig().TokenSource(context.WithValue(ctx, oauth2.HTTPClient, s.client), &oauth2.Token{RefreshToken: refresh})
	token, err := ts.Token()
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	sealedAccess, err := s.cipher.Seal(token.AccessToken)
	if err != nil {
		return err
	}

	return s.sa.SetToken(ctx, acc.ID, acc.AccessToken, &models.SocialAccount{
		AccessToken:    sealedAccess,
		TokenExpiresAt: token.Expiry,
	})
}

func (s *youtubeService) RevokeGoogleAccess(ctx context.Context, acc *models.SocialAccount) error {
	sealed := acc.RefreshToken
	if sealed == "" {
		sealed = acc.AccessToken
	}
	token, err := s.cipher.Open(sealed)
	if err != nil {
		return err
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, youtubeRevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to revoke token, status code: %d", resp.StatusCode)
	}
	return nil
}
