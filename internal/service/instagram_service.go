package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	"github.com/maheshrc27/crosspost/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const (
	instagramMinDurationSec = 3
	instagramMaxDurationSec = 90
	instagramMaxSizeBytes   = 1 << 30

	instagramStaleSessionSubcode = 463

	instagramReconnectMessage = "Your Instagram session has expired. Please reconnect your account and try again."
	instagramQuotaMessage     = "You've posted too many times recently. Please try again later."
	instagramTimeoutMessage   = "Instagram is taking too long to process your media. Please try again later."
)

type graphRule struct {
	kind    error
	message string
}

// Subcodes are checked before codes.
var instagramSubcodeRules = map[int]graphRule{
	463:     {ErrAuthExpired, instagramReconnectMessage},
	467:     {ErrAuthExpired, instagramReconnectMessage},
	2207042: {ErrRateLimited, "You've reached Instagram's daily publishing limit. Please try again tomorrow."},
	2207026: {ErrContentRejected, "Instagram doesn't support this video format. Please try again with an MP4 or MOV file."},
	2207004: {ErrContentRejected, "This image is too large for Instagram. Please try a smaller photo."},
	2207005: {ErrContentRejected, "Instagram doesn't support this image format. Please try again with a JPEG or PNG."},
	2207009: {ErrContentRejected, "Instagram doesn't support this aspect ratio. Please crop your media and try again."},
	2207003: {ErrProviderTransient, "Instagram couldn't download your media in time. Please try again."},
	2207020: {ErrProviderTransient, "Instagram couldn't download your media in time. Please try again."},
}

var instagramCodeRules = map[int]graphRule{
	190: {ErrAuthExpired, instagramReconnectMessage},
	10:  {ErrAuthExpired, "It seems like you didn't grant permission to post. Please reconnect your account and try again."},
	200: {ErrAuthExpired, "It seems like you didn't grant permission to post. Please reconnect your account and try again."},
	4:   {ErrRateLimited, instagramQuotaMessage},
	17:  {ErrRateLimited, instagramQuotaMessage},
	32:  {ErrRateLimited, instagramQuotaMessage},
	613: {ErrRateLimited, instagramQuotaMessage},
	1:   {ErrProviderTransient, genericFailureMessage},
	2:   {ErrProviderTransient, genericFailureMessage},
	100: {ErrContentRejected, "Instagram couldn't accept this media. Please check the file and try again."},
}

var instagramContainerFailures = map[string]graphRule{
	"ERROR":   {ErrContentRejected, "Instagram couldn't process your media. Please check the file and try again."},
	"EXPIRED": {ErrProviderTransient, "Instagram took too long to process your media. Please try again."},
}

// containerParams is one variant of the /media request body.
type containerParams interface {
	values() url.Values
}

type imageContainer struct {
	ImageURL string
	Caption  string
}

type reelsContainer struct {
	VideoURL string
	Caption  string
}

type carouselImageItem struct {
	ImageURL string
}

type carouselVideoItem struct {
	VideoURL string
}

type carouselContainer struct {
	Children []string
	Caption  string
}

func (c imageContainer) values() url.Values {
	v := url.Values{"image_url": {c.ImageURL}}
	setCaption(v, c.Caption)
	return v
}

func (c reelsContainer) values() url.Values {
	v := url.Values{"media_type": {"REELS"}, "video_url": {c.VideoURL}}
	setCaption(v, c.Caption)
	return v
}

func (c carouselImageItem) values() url.Values {
	return url.Values{"image_url": {c.ImageURL}, "is_carousel_item": {"true"}}
}

func (c carouselVideoItem) values() url.Values {
	return url.Values{"media_type": {"VIDEO"}, "video_url": {c.VideoURL}, "is_carousel_item": {"true"}}
}

func (c carouselContainer) values() url.Values {
	v := url.Values{"media_type": {"CAROUSEL"}, "children": {strings.Join(c.Children, ",")}}
	setCaption(v, c.Caption)
	return v
}

func setCaption(v url.Values, caption string) {
	if caption != "" {
		v.Set("caption", caption)
	}
}

type containerKey struct {
	carouselItem bool
	kind         string
}

// containerTable picks the request variant for (isCarouselItem, mediaKind).
// Carousel items never carry the caption.
var containerTable = map[containerKey]func(mediaURL, caption string) containerParams{
	{false, models.MediaKindImage}: func(u, c string) containerParams { return imageContainer{ImageURL: u, Caption: c} },
	{false, models.MediaKindVideo}: func(u, c string) containerParams { return reelsContainer{VideoURL: u, Caption: c} },
	{true, models.MediaKindImage}:  func(u, _ string) containerParams { return carouselImageItem{ImageURL: u} },
	{true, models.MediaKindVideo}:  func(u, _ string) containerParams { return carouselVideoItem{VideoURL: u} },
}

type InstagramService interface {
	Publisher
	CapabilityProvider
	InstagramCallback(ctx context.Context, code string, userID int64) ([]*models.SocialAccount, error)
}

type instagramService struct {
	cfg     config.Config
	sa      repository.SocialAccountRepository
	staging StagingService
	blobs   BlobStore
	cipher  *utils.TokenCipher
	client  *http.Client
	policy  PollPolicy
}

func NewInstagramService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	staging StagingService,
	blobs BlobStore) InstagramService {
	return &instagramService{
		cfg:     cfg,
		sa:      sa,
		staging: staging,
		blobs:   blobs,
		cipher:  utils.NewTokenCipher(cfg.SecretKey),
		client:  defaultHTTPClient,
		policy:  pollPolicy(cfg.InstagramPolling, []string{"FINISHED"}, []string{"ERROR", "EXPIRED"}),
	}
}

func (s *instagramService) Platform() string {
	return models.PlatformInstagram
}

func (s *instagramService) Publish(ctx context.Context, job *PublishJob) (string, error) {
	if len(job.Media) == 0 {
		return "", &ProviderError{Provider: models.PlatformInstagram, Step: "create", Kind: ErrContentRejected, Message: "There is no media to post."}
	}

	token, err := s.cipher.Open(job.Account.AccessToken)
	if err != nil {
		return "", reconnectError(models.PlatformInstagram, err)
	}

	igID := job.Account.AccountID
	caption := job.Options.InstagramCaption

	var containerID string
	if len(job.Media) == 1 {
		containerID, err = s.createItem(ctx, igID, token, job.Media[0], false, caption)
		if err == nil {
			err = s.awaitContainer(ctx, containerID, token, job.Progress)
		}
	} else {
		containerID, err = s.createCarousel(ctx, igID, token, job.Media, caption, job.Progress)
	}
	if err != nil {
		return "", s.dropStaleAccount(ctx, job.Account, err)
	}

	mediaID, err := s.publishContainer(ctx, igID, token, containerID)
	if err != nil {
		return "", s.dropStaleAccount(ctx, job.Account, err)
	}
	return mediaID, nil
}

// createCarousel creates every item container, waits until all of them are
// FINISHED and only then creates and awaits the parent.
func (s *instagramService) createCarousel(ctx context.Context, igID, token string, media []*models.MediaFile, caption string, progress func()) (string, error) {
	children := make([]string, len(media))
	for i, mf := range media {
		id, err := s.createItem(ctx, igID, token, mf, true, "")
		if err != nil {
			return "", err
		}
		children[i] = id
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range children {
		g.Go(func() error {
			return s.awaitContainer(gctx, id, token, progress)
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	parentID, err := s.createContainer(ctx, igID, token, carouselContainer{Children: children, Caption: caption})
	if err != nil {
		return "", err
	}
	if err := s.awaitContainer(ctx, parentID, token, progress); err != nil {
		return "", err
	}
	return parentID, nil
}

func (s *instagramService) createItem(ctx context.Context, igID, token string, mf *models.MediaFile, carouselItem bool, caption string) (string, error) {
	build, ok := containerTable[containerKey{carouselItem: carouselItem, kind: mf.Kind}]
	if !ok {
		return "", &ProviderError{
			Provider: models.PlatformInstagram,
			Step:     "create",
			Code:     mf.Kind,
			Kind:     ErrContentRejected,
			Message:  "Instagram doesn't support this kind of media.",
		}
	}

	// a fresh short-lived URL per provider call
	mediaURL, err := s.staging.SignedURL(ctx, mf.FilePath)
	if err != nil {
		return "", asProviderError(models.PlatformInstagram, "create", err)
	}
	return s.createContainer(ctx, igID, token, build(mediaURL, caption))
}

func (s *instagramService) createContainer(ctx context.Context, igID, token string, params containerParams) (string, error) {
	v := params.values()
	v.Set("access_token", token)

	var container transfer.InstagramContainer
	if err := s.call(ctx, http.MethodPost, igID+"/media", v, &container, "create"); err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", &ProviderError{Provider: models.PlatformInstagram, Step: "create", Kind: ErrProviderTransient, Message: genericFailureMessage,
			Err: errors.New("no container id returned")}
	}
	return container.ID, nil
}

func (s *instagramService) awaitContainer(ctx context.Context, containerID, token string, progress func()) error {
	status, err := s.policy.Await(ctx, func(ctx context.Context, attempt int) (string, error) {
		var container transfer.InstagramContainer
		params := url.Values{"fields": {"status_code"}, "access_token": {token}}
		if err := s.call(ctx, http.MethodGet, containerID, params, &container, "poll"); err != nil {
			return "", err
		}
		if progress != nil {
			progress()
		}
		return container.StatusCode, nil
	})

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFatalStatus):
		rule := instagramContainerFailures[status]
		return &ProviderError{Provider: models.PlatformInstagram, Step: "poll", Code: status, Kind: rule.kind, Message: rule.message, Err: err}
	case errors.Is(err, ErrPollTimeout):
		return &ProviderError{Provider: models.PlatformInstagram, Step: "poll", Code: status, Kind: ErrPollTimeout, Message: instagramTimeoutMessage, Err: err}
	default:
		return asProviderError(models.PlatformInstagram, "poll", err)
	}
}

func (s *instagramService) publishContainer(ctx context.Context, igID, token, containerID string) (string, error) {
	v := url.Values{"creation_id": {containerID}, "access_token": {token}}

	var published transfer.InstagramContainer
	if err := s.call(ctx, http.MethodPost, igID+"/media_publish", v, &published, "publish"); err != nil {
		return "", err
	}
	if published.ID == "" {
		return "", &ProviderError{Provider: models.PlatformInstagram, Step: "publish", Kind: ErrProviderTransient, Message: genericFailureMessage,
			Err: errors.New("no media id returned")}
	}
	return published.ID, nil
}

func (s *instagramService) FetchProfile(ctx context.Context, igID, token string) (*transfer.InstagramProfile, error) {
	var profile transfer.InstagramProfile
	params := url.Values{"fields": {"username,profile_picture_url"}, "access_token": {token}}
	if err := s.call(ctx, http.MethodGet, igID, params, &profile, "profile"); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *instagramService) FetchPublishingLimit(ctx context.Context, igID, token string) (*transfer.InstagramPublishingLimit, error) {
	var limit transfer.InstagramPublishingLimit
	params := url.Values{"fields": {"config,quota_usage"}, "access_token": {token}}
	if err := s.call(ctx, http.MethodGet, igID+"/content_publishing_limit", params, &limit, "quota"); err != nil {
		return nil, err
	}
	return &limit, nil
}

// Capability live-fetches the profile and publishing quota. Any failure
// becomes the blocking error.
func (s *instagramService) Capability(ctx context.Context, acc *models.SocialAccount) *models.Capability {
	c := &models.Capability{
		MinDurationSec: instagramMinDurationSec,
		MaxDurationSec: instagramMaxDurationSec,
		MaxSizeBytes:   instagramMaxSizeBytes,
	}

	token, err := s.cipher.Open(acc.AccessToken)
	if err != nil {
		c.BlockingError = instagramReconnectMessage
		return c
	}

	profile, err := s.FetchProfile(ctx, acc.AccountID, token)
	if err != nil {
		c.BlockingError = UserMessage(s.dropStaleAccount(ctx, acc, err))
		return c
	}
	if profile.Username != "" && profile.Username != acc.AccountName {
		if err := s.sa.UpdateProfile(ctx, acc.ID, profile.Username, ""); err != nil {
			slog.Warn("failed to refresh instagram username", "account_id", acc.ID, "err", err)
		}
		acc.AccountName = profile.Username
	}

	limit, err := s.FetchPublishingLimit(ctx, acc.AccountID, token)
	if err != nil {
		c.BlockingError = UserMessage(err)
		return c
	}
	if len(limit.Data) > 0 {
		quota := limit.Data[0]
		if quota.Config.QuotaTotal > 0 && quota.QuotaUsage >= quota.Config.QuotaTotal {
			c.BlockingError = instagramQuotaMessage
		}
	}
	return c
}

// dropStaleAccount deletes the account when err carries the stale-session
// subcode. err is returned unchanged.
func (s *instagramService) dropStaleAccount(ctx context.Context, acc *models.SocialAccount, err error) error {
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Code != strconv.Itoa(instagramStaleSessionSubcode) {
		return err
	}
	slog.Warn("instagram session expired, removing account", "account_id", acc.ID)
	if rerr := removeAccount(detach(ctx), s.sa, s.blobs, acc); rerr != nil {
		slog.Error("failed to remove stale instagram account", "account_id", acc.ID, "err", rerr)
	}
	return err
}

func (s *instagramService) graphURL(path string) string {
	return strings.TrimRight(s.cfg.InstagramGraphURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// call performs one Graph API request and decodes the JSON body into out.
// Non-200 responses are translated into a *ProviderError.
func (s *instagramService) call(ctx context.Context, method, path string, params url.Values, out any, step string) error {
	var req *http.Request
	var err error
	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, method, s.graphURL(path)+"?"+params.Encode(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, s.graphURL(path), strings.NewReader(params.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return asProviderError(models.PlatformInstagram, step, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return asProviderError(models.PlatformInstagram, step, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return asProviderError(models.PlatformInstagram, step, err)
	}

	if resp.StatusCode != http.StatusOK {
		var graphErr transfer.InstagramErrorResponse
		_ = json.Unmarshal(body, &graphErr)
		return translateGraphError(step, resp.StatusCode, &graphErr)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return asProviderError(models.PlatformInstagram, step, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

func translateGraphError(step string, status int, resp *transfer.InstagramErrorResponse) *ProviderError {
	ge := resp.Error
	pe := &ProviderError{
		Provider: models.PlatformInstagram,
		Step:     step,
		Code:     strconv.Itoa(ge.Code),
		Kind:     ErrProviderTransient,
		Message:  genericFailureMessage,
		Err:      fmt.Errorf("graph api %d: code=%d subcode=%d type=%s: %s", status, ge.Code, ge.ErrorSubcode, ge.Type, ge.Message),
	}
	if ge.ErrorSubcode != 0 {
		pe.Code = strconv.Itoa(ge.ErrorSubcode)
	}

	if rule, ok := instagramSubcodeRules[ge.ErrorSubcode]; ok && ge.ErrorSubcode != 0 {
		pe.Kind, pe.Message = rule.kind, rule.message
		return pe
	}
	if rule, ok := instagramCodeRules[ge.Code]; ok {
		pe.Kind, pe.Message = rule.kind, rule.message
		return pe
	}
	if status == http.StatusUnauthorized {
		pe.Kind, pe.Message = ErrAuthExpired, instagramReconnectMessage
	}
	return pe
}

func (s *instagramService) InstagramCallback(ctx context.Context, code string, userID int64) ([]*models.SocialAccount, error) {
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

	var short transfer.FacebookToken
	err := s.call(ctx, http.MethodGet, "oauth/access_token", url.Values{
		"client_id":     {s.cfg.FacebookClientID},
		"client_secret": {s.cfg.FacebookClientSecret},
		"redirect_uri":  {s.cfg.FacebookRedirectURI},
		"code":          {code},
	}, &short, "oauth")
	if err != nil {
		return nil, err
	}

	var long transfer.FacebookToken
	err = s.call(ctx, http.MethodGet, "oauth/access_token", url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {s.cfg.FacebookClientID},
		"client_secret":     {s.cfg.FacebookClientSecret},
		"fb_exchange_token": {short.AccessToken},
	}, &long, "oauth")
	if err != nil {
		return nil, err
	}

	var pages transfer.FacebookPages
	err = s.call(ctx, http.MethodGet, "me/accounts", url.Values{
		"fields":       {"id,name,access_token,instagram_business_account{id,username,profile_picture_url}"},
		"access_token": {long.AccessToken},
	}, &pages, "pages")
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().AddDate(0, 0, 60)
	if long.ExpiresIn > 0 {
		expiresAt = GetExpiresAt(int(long.ExpiresIn))
	}

	var accounts []*models.SocialAccount
	for _, page := range pages.Data {
		ig := page.InstagramBusinessAccount
		if ig == nil || ig.ID == "" {
			continue
		}

		sealed, err := s.cipher.Seal(page.AccessToken)
		if err != nil {
			return nil, err
		}

		acc := &models.SocialAccount{
			UserID:          userID,
			Platform:        models.PlatformInstagram,
			AccountID:       ig.ID,
			PageID:          page.ID,
			AccountName:     ig.Username,
			AccountUsername: ig.Username,
			ProfilePicture:  ig.ProfilePicture,
			AccessToken:     sealed,
			TokenExpiresAt:  expiresAt,
		}
		id, err := s.sa.Create(ctx, nil, acc)
		if err != nil {
			return nil, err
		}
		acc.ID = id
		accounts = append(accounts, acc)
	}

	if len(accounts) == 0 {
		err := errors.New("no Instagram business account is linked to the selected Facebook pages")
		slog.Info(err.Error())
		return nil, err
	}
	return accounts, nil
}
