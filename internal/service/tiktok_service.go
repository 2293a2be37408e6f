package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const (
	tiktokMinDurationSec = 3
	tiktokMaxSizeBytes   = 4 << 30
	tiktokMaxPhotos      = 35
	tiktokMaxPhotoTitle  = 90

	tiktokScopes = "user.info.basic,user.info.profile,video.publish,video.upload"

	tiktokPermissionMessage = "It seems like you didn't have the right permissions to post this video. Please reconnect your account and try again."
	tiktokRateLimitMessage  = "You've made too many requests to TikTok recently. Please try again in a few minutes."
	tiktokTimeoutMessage    = "TikTok is taking too long to process your post. Please check your TikTok profile before trying again."
)

// tiktokErrorCodes maps error.code of the publish endpoints.
var tiktokErrorCodes = map[string]graphRule{
	"access_token_invalid":               {ErrAuthExpired, tiktokPermissionMessage},
	"scope_not_authorized":               {ErrAuthExpired, tiktokPermissionMessage},
	"scope_permission_missed":            {ErrAuthExpired, tiktokPermissionMessage},
	"rate_limit_exceeded":                {ErrRateLimited, tiktokRateLimitMessage},
	"spam_risk_too_many_posts":           {ErrRateLimited, "You've posted too many times recently. Please try again later."},
	"spam_risk_too_many_pending_share":   {ErrRateLimited, "You have too many posts waiting to be processed on TikTok. Please try again later."},
	"reached_active_user_cap":            {ErrRateLimited, "You've reached the maximum number of active posts. Please try again later."},
	"spam_risk_user_banned_from_posting": {ErrContentRejected, "You've been banned from posting. Please contact TikTok support if you believe this is an error."},
	"unaudited_client_can_only_post_to_private_accounts": {ErrContentRejected, "You can only post to private accounts. Please make your account private and try again."},
	"privacy_level_option_mismatch":                      {ErrContentRejected, "The selected privacy level isn't available for this account. Please choose another one."},
	"invalid_param":                                      {ErrContentRejected, "TikTok couldn't accept this post. Please check your media and try again."},
	"token_not_authorized_for_specified_publish_id":      {ErrAuthExpired, tiktokPermissionMessage},
	"invalid_publish_id":                                 {ErrProviderTransient, genericFailureMessage},
	"url_ownership_unverified":                           {ErrProviderTransient, genericFailureMessage},
	"internal_error":                                     {ErrProviderTransient, genericFailureMessage},
}

// tiktokCreatorInfoCodes maps error.code of creator_info, shown before posting.
var tiktokCreatorInfoCodes = map[string]graphRule{
	"spam_risk_too_many_posts":                           {ErrRateLimited, "You've posted too many times recently — please try again later"},
	"rate_limit_exceeded":                                {ErrRateLimited, "You've posted too many times recently — please try again later"},
	"spam_risk_user_banned_from_posting":                 {ErrContentRejected, "You've been banned from posting — please contact TikTok support if you believe this is an error"},
	"reached_active_user_cap":                            {ErrRateLimited, "You've reached the maximum number of active posts — please try again later"},
	"unaudited_client_can_only_post_to_private_accounts": {ErrContentRejected, "You can only post to private accounts — please try again later"},
	"access_token_invalid":                               {ErrAuthExpired, "Your access token is invalid — please reconnect your account and try again"},
	"scope_not_authorized":                               {ErrAuthExpired, "Your scope is not authorized — please reconnect your account and try again"},
	"internal_error":                                     {ErrProviderTransient, "It seems like TikTok is having some issues — please try again later"},
}

// tiktokFailReasons maps fail_reason of a FAILED publish status.
var tiktokFailReasons = map[string]graphRule{
	"file_format_check_failed":  {ErrContentRejected, "You've uploaded an incompatible file. Please try again with a different file."},
	"duration_check_failed":     {ErrContentRejected, "You've uploaded a video that is too long. Please try again with a shorter video."},
	"frame_rate_check_failed":   {ErrContentRejected, "Your video has an unsupported frame rate."},
	"picture_size_check_failed": {ErrContentRejected, "You've uploaded a picture that is too large. Please try a smaller photo."},
	"internal":                  {ErrProviderTransient, genericFailureMessage},
	"video_pull_failed":         {ErrProviderTransient, genericFailureMessage},
	"photo_pull_failed":         {ErrProviderTransient, genericFailureMessage},
	"publish_cancelled":         {ErrProviderTransient, genericFailureMessage},
}

type TiktokService interface {
	Publisher
	CapabilityProvider
	TiktokCallback(ctx context.Context, code string, userID int64) (*models.SocialAccount, error)
	RefreshTiktokToken(ctx context.Context, acc *models.SocialAccount) error
	RevokeTiktokAccess(ctx context.Context, acc *models.SocialAccount) error
}

type tiktokService struct {
	cfg     config.Config
	sa      repository.SocialAccountRepository
	staging StagingService
	cipher  *utils.TokenCipher
	client  *http.Client
	policy  PollPolicy
}

func NewTiktokService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	staging StagingService) TiktokService {
	return &tiktokService{
		cfg:     cfg,
		sa:      sa,
		staging: staging,
		cipher:  utils.NewTokenCipher(cfg.SecretKey),
		client:  defaultHTTPClient,
		policy:  pollPolicy(cfg.TiktokPolling, []string{"PUBLISH_COMPLETE"}, []string{"FAILED"}),
	}
}

func (s *tiktokService) Platform() string {
	return models.PlatformTiktok
}

func (s *tiktokService) Publish(ctx context.Context, job *PublishJob) (string, error) {
	token, err := s.cipher.Open(job.Account.AccessToken)
	if err != nil {
		return "", reconnectError(models.PlatformTiktok, err)
	}

	// TikTok requires creator_info to be queried before every post.
	creator, err := s.CreatorInfo(ctx, token)
	if err != nil {
		return "", err
	}

	privacy, err := choosePrivacyLevel(job.Options.PrivacyLevel, creator.PrivacyLevelOptions)
	if err != nil {
		return "", err
	}

	var publishID string
	switch {
	case len(job.Media) == 1 && job.Media[0].Kind == models.MediaKindVideo:
		publishID, err = s.initVideo(ctx, token, privacy, job)
	case len(job.Media) > 0 && allImages(job.Media):
		publishID, err = s.initPhotos(ctx, token, privacy, job)
	default:
		err = &ProviderError{Provider: models.PlatformTiktok, Step: "init", Kind: ErrContentRejected,
			Message: "TikTok accepts either one video or up to 35 photos."}
	}
	if err != nil {
		return "", err
	}

	if err := s.awaitPublish(ctx, token, publishID, job.Progress); err != nil {
		return "", err
	}
	return publishID, nil
}

func choosePrivacyLevel(requested string, options []string) (string, error) {
	if requested == "" {
		if len(options) == 0 || slices.Contains(options, "PUBLIC_TO_EVERYONE") {
			return "PUBLIC_TO_EVERYONE", nil
		}
		return options[0], nil
	}
	if len(options) > 0 && !slices.Contains(options, requested) {
		rule := tiktokErrorCodes["privacy_level_option_mismatch"]
		return "", &ProviderError{Provider: models.PlatformTiktok, Step: "creator_info", Code: "privacy_level_option_mismatch",
			Kind: rule.kind, Message: rule.message}
	}
	return requested, nil
}

func allImages(media []*models.MediaFile) bool {
	for _, mf := range media {
		if mf.Kind != models.MediaKindImage {
			return false
		}
	}
	return true
}

func (s *tiktokService) initVideo(ctx context.Context, token, privacy string, job *PublishJob) (string, error) {
	videoURL, err := s.staging.SignedURL(ctx, job.Media[0].FilePath)
	if err != nil {
		return "", asProviderError(models.PlatformTiktok, "init", err)
	}

	opts := job.Options
	payload := transfer.VideoUploadRequest{
		PostInfo: transfer.VideoPostInfo{
			Title:                 opts.TiktokTitle,
			PrivacyLevel:          privacy,
			DisableDuet:           opts.DisableDuet,
			DisableComment:        opts.DisableComment,
			DisableStitch:         opts.DisableStitch,
			VideoCoverTimestampMs: opts.CoverTimestampMs,
			BrandContentToggle:    opts.BrandContent,
			BrandOrganicToggle:    opts.BrandOrganic,
		},
		SourceInfo: transfer.VideoSourceInfo{
			Source:   "PULL_FROM_URL",
			VideoURL: videoURL,
		},
	}

	var result transfer.TikTokUploadResponse
	if err := s.do(ctx, http.MethodPost, "/v2/post/publish/video/init/", token, payload, &result, "init", tiktokErrorCodes); err != nil {
		return "", err
	}
	return publishIDOf(&result)
}

func (s *tiktokService) initPhotos(ctx context.Context, token, privacy string, job *PublishJob) (string, error) {
	photos := make([]string, 0, len(job.Media))
	for _, mf := range job.Media {
		u, err := s.staging.SignedURL(ctx, mf.FilePath)
		if err != nil {
			return "", asProviderError(models.PlatformTiktok, "init", err)
		}
		photos = append(photos, u)
	}

	opts := job.Options
	title := opts.TiktokTitle
	if r := []rune(title); len(r) > tiktokMaxPhotoTitle {
		title = string(r[:tiktokMaxPhotoTitle])
	}

	payload := transfer.PhotoUploadRequest{
		PostInfo: transfer.PhotoPostInfo{
			Title:              title,
			Description:        opts.TiktokTitle,
			PrivacyLevel:       privacy,
			DisableComment:     opts.DisableComment,
			AutoAddMusic:       opts.AutoAddMusic,
			BrandContentToggle: opts.BrandContent,
			BrandOrganicToggle: opts.BrandOrganic,
		},
		SourceInfo: transfer.PhotoSourceInfo{
			Source:          "PULL_FROM_URL",
			PhotoCoverIndex: 0,
			PhotoImages:     photos,
		},
		PostMode:  "DIRECT_POST",
		MediaType: "PHOTO",
	}

	var result transfer.TikTokUploadResponse
	if err := s.do(ctx, http.MethodPost, "/v2/post/publish/content/init/", token, payload, &result, "init", tiktokErrorCodes); err != nil {
		return "", err
	}
	return publishIDOf(&result)
}

func publishIDOf(result *transfer.TikTokUploadResponse) (string, error) {
	if result.Data.PublishID == "" {
		return "", &ProviderError{Provider: models.PlatformTiktok, Step: "init", Kind: ErrProviderTransient, Message: genericFailureMessage,
			Err: errors.New("no publish_id returned")}
	}
	return result.Data.PublishID, nil
}

func (s *tiktokService) awaitPublish(ctx context.Context, token, publishID string, progress func()) error {
	var failReason string
	status, err := s.policy.Await(ctx, func(ctx context.Context, attempt int) (string, error) {
		var result transfer.TiktokStatusResponse
		payload := map[string]string{"publish_id": publishID}
		if err := s.do(ctx, http.MethodPost, "/v2/post/publish/status/fetch/", token, payload, &result, "poll", tiktokErrorCodes); err != nil {
			return "", err
		}
		if progress != nil {
			progress()
		}
		failReason = result.Data.FailReason
		return result.Data.Status, nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFatalStatus):
		rule, ok := tiktokFailReasons[failReason]
		if !ok {
			rule = graphRule{ErrProviderTransient, genericFailureMessage}
		}
		return &ProviderError{Provider: models.PlatformTiktok, Step: "poll", Code: failReason, Kind: rule.kind, Message: rule.message,
			Err: fmt.Errorf("publish %s %s: %w", publishID, status, err)}
	case errors.Is(err, ErrPollTimeout):
		return &ProviderError{Provider: models.PlatformTiktok, Step: "poll", Code: status, Kind: ErrPollTimeout, Message: tiktokTimeoutMessage, Err: err}
	default:
		return asProviderError(models.PlatformTiktok, "poll", err)
	}
}

func (s *tiktokService) CreatorInfo(ctx context.Context, token string) (*transfer.TiktokCreatorInfo, error) {
	var result transfer.TiktokCreatorInfoResponse
	if err := s.do(ctx, http.MethodPost, "/v2/post/publish/creator_info/query/", token, nil, &result, "creator_info", tiktokCreatorInfoCodes); err != nil {
		return nil, err
	}
	return &result.Data, nil
}

func (s *tiktokService) Capability(ctx context.Context, acc *models.SocialAccount) *models.Capability {
	c := &models.Capability{
		MinDurationSec: tiktokMinDurationSec,
		MaxSizeBytes:   tiktokMaxSizeBytes,
	}

	token, err := s.cipher.Open(acc.AccessToken)
	if err != nil {
		c.BlockingError = tiktokPermissionMessage
		return c
	}

	creator, err := s.CreatorInfo(ctx, token)
	if err != nil {
		c.BlockingError = UserMessage(err)
		return c
	}
	c.MaxDurationSec = creator.MaxVideoPostDurationSec
	return c
}

func (s *tiktokService) apiURL(path string) string {
	return strings.TrimRight(s.cfg.TiktokAPIURL, "/") + path
}

// do sends a bearer-authenticated JSON request and decodes the
// {data, error} envelope into out. codes translates error.code.
func (s *tiktokService) do(ctx context.Context, method, path, token string, payload any, out any, step string, codes map[string]graphRule) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return asProviderError(models.PlatformTiktok, step, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.apiURL(path), &body)
	if err != nil {
		return asProviderError(models.PlatformTiktok, step, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := s.client.Do(req)
	if err != nil {
		return asProviderError(models.PlatformTiktok, step, err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return asProviderError(models.PlatformTiktok, step, err)
	}

	var envelope struct {
		Error transfer.TiktokError `json:"error"`
	}
	_ = json.Unmarshal(raw, &envelope)

	if code := envelope.Error.Code; code != "" && code != "ok" {
		return translateTiktokError(step, resp.StatusCode, envelope.Error, codes)
	}
	if resp.StatusCode != http.StatusOK {
		return translateTiktokError(step, resp.StatusCode, envelope.Error, codes)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return asProviderError(models.PlatformTiktok, step, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func translateTiktokError(step string, status int, te transfer.TiktokError, codes map[string]graphRule) *ProviderError {
	pe := &ProviderError{
		Provider: models.PlatformTiktok,
		Step:     step,
		Code:     te.Code,
		Kind:     ErrProviderTransient,
		Message:  genericFailureMessage,
		Err:      fmt.Errorf("tiktok api %d: %s: %s (log_id %s)", status, te.Code, te.Message, te.LogID),
	}
	if rule, ok := codes[te.Code]; ok {
		pe.Kind, pe.Message = rule.kind, rule.message
		return pe
	}
	switch {
	case status == http.StatusUnauthorized:
		pe.Kind, pe.Message = ErrAuthExpired, tiktokPermissionMessage
	case status == http.StatusTooManyRequests:
		pe.Kind, pe.Message = ErrRateLimited, tiktokRateLimitMessage
	}
	return pe
}

func (s *tiktokService) tokenRequest(ctx context.Context, form url.Values) (*transfer.TiktokTokenResponse, error) {
	form.Set("client_key", s.cfg.TiktokClientKey)
	form.Set("client_secret", s.cfg.TiktokClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL("/v2/oauth/token/"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var token transfer.TiktokTokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		slog.Info(err.Error())
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || token.Error != "" || token.AccessToken == "" {
		return nil, &ProviderError{
			Provider: models.PlatformTiktok,
			Step:     "token",
			Code:     token.Error,
			Kind:     ErrAuthExpired,
			Message:  tiktokPermissionMessage,
			Err:      fmt.Errorf("tiktok token endpoint %d: %s", resp.StatusCode, token.ErrorDescription),
		}
	}
	return &token, nil
}

func (s *tiktokService) TiktokCallback(ctx context.Context, code string, userID int64) (*models.SocialAccount, error) {
	if code == "" {
		err := errors.New("code or state is empty")
		slog.Info(err.Error())
		return nil, err
	}
	if userID == 0 {
		err := errors.New("user not found")
		slog.Info(err.Error())
		return nil, err
	}

	token, err := s.tokenRequest(ctx, url.Values{
		"code":         {code},
		"grant_type":   {"authorization_code"},
		"redirect_uri": {s.cfg.TiktokRedirectURI},
	})
	if err != nil {
		return nil, err
	}

	var info transfer.TikTokResponse
	err = s.do(ctx, http.MethodGet, "/v2/user/info/?fields=open_id,avatar_url,display_name,username", token.AccessToken, nil, &info, "profile", tiktokErrorCodes)
	if err != nil {
		return nil, err
	}

	sealedAccess, err := s.cipher.Seal(token.AccessToken)
	if err != nil {
		return nil, err
	}
	sealedRefresh, err := s.cipher.Seal(token.RefreshToken)
	if err != nil {
		return nil, err
	}

	user := info.Data.User
	acc := &models.SocialAccount{
		UserID:          userID,
		Platform:        models.PlatformTiktok,
		AccountID:       user.OpenID,
		AccountName:     user.DisplayName,
		AccountUsername: user.Username,
		ProfilePicture:  user.AvatarURL,
		AccessToken:     sealedAccess,
		RefreshToken:    sealedRefresh,
		TokenExpiresAt:  GetExpiresAt(token.ExpiresIn),
	}

	id, err := s.sa.Create(ctx, nil, acc)
	if err != nil {
		return nil, err
	}
	acc.ID = id
	return acc, nil
}

func (s *tiktokService) RefreshTiktokToken(ctx context.Context, acc *models.SocialAccount) error {
	refresh, err := s.cipher.Open(acc.RefreshToken)
	if err != nil {
		return err
	}

	token, err := s.tokenRequest(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	})
	if err != nil {
		return err
	}

	sealedAccess, err := s.cipher.Seal(token.AccessToken)
	if err != nil {
		return err
	}
	sealedRefresh, err := s.cipher.Seal(token.RefreshToken)
	if err != nil {
		return err
	}

	return s.sa.SetToken(ctx, acc.ID, acc.AccessToken, &models.SocialAccount{
		AccessToken:    sealedAccess,
		RefreshToken:   sealedRefresh,
		TokenExpiresAt: GetExpiresAt(token.ExpiresIn),
	})
}

func (s *tiktokService) RevokeTiktokAccess(ctx context.Context, acc *models.SocialAccount) error {
	token, err := s.cipher.Open(acc.AccessToken)
	if err != nil {
		return err
	}

	form := url.Values{
		"client_key":    {s.cfg.TiktokClientKey},
		"client_secret": {s.cfg.TiktokClientSecret},
		"token":         {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL("/v2/oauth/revoke/"), strings.NewReader(form.Encode()))
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
