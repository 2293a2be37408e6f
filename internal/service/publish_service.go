package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/transfer"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

var ErrPostNotFound = errors.New("post not found")

// Publisher posts staged media to one provider account and returns the
// provider's id for the result.
type Publisher interface {
	Platform() string
	Publish(ctx context.Context, job *PublishJob) (string, error)
}

// PublishJob is everything an adapter needs for one account target.
// Media is ordered by position. Progress, when set, is called whenever the
// provider reports the upload is being processed.
type PublishJob struct {
	Post     *models.Post
	Account  *models.SocialAccount
	Media    []*models.MediaFile
	Options  transfer.PublishOptions
	Progress func()
}

type PublishService interface {
	Publish(ctx context.Context, req *transfer.PublishRequest, states *StateMap) (*transfer.PublishResult, error)
	Prepare(ctx context.Context, req *transfer.PublishRequest) (*models.Post, []*models.MediaFile, error)
	Fanout(ctx context.Context, post *models.Post, media []*models.MediaFile, accountIDs []int64, opts transfer.PublishOptions, states *StateMap) *transfer.PublishResult
	FanoutPost(ctx context.Context, userID int64, postID string, accountIDs []int64, opts transfer.PublishOptions) (*transfer.PublishResult, error)
}

type publishService struct {
	cfg        config.Config
	posts      repository.PostRepository
	media      repository.MediaFileRepository
	pp         repository.PlatformPostRepository
	attempts   repository.PublishAttemptRepository
	sa         repository.SocialAccountRepository
	staging    StagingService
	capability CapabilityService
	publishers map[string]Publisher
}

func NewPublishService(
	cfg config.Config,
	posts repository.PostRepository,
	media repository.MediaFileRepository,
	pp repository.PlatformPostRepository,
	attempts repository.PublishAttemptRepository,
	sa repository.SocialAccountRepository,
	staging StagingService,
	capability CapabilityService,
	publishers ...Publisher) PublishService {
	byPlatform := make(map[string]Publisher, len(publishers))
	for _, p := range publishers {
		byPlatform[p.Platform()] = p
	}
	return &publishService{
		cfg:        cfg,
		posts:      posts,
		media:      media,
		pp:         pp,
		attempts:   attempts,
		sa:         sa,
		staging:    staging,
		capability: capability,
		publishers: byPlatform,
	}
}

// Publish stages the request's media and fans it out to every account.
// A staging failure aborts before any provider is called.
func (s *publishService) Publish(ctx context.Context, req *transfer.PublishRequest, states *StateMap) (*transfer.PublishResult, error) {
	post, media, err := s.Prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.Fanout(ctx, post, media, req.AccountIDs, req.Options, states), nil
}

func (s *publishService) Prepare(ctx context.Context, req *transfer.PublishRequest) (*models.Post, []*models.MediaFile, error) {
	if req == nil || req.UserID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, nil, err
	}
	if len(req.Media) == 0 {
		err := errors.New("no files provided for the post")
		slog.Info(err.Error())
		return nil, nil, err
	}
	if len(req.AccountIDs) == 0 {
		err := errors.New("no social accounts selected")
		slog.Info(err.Error())
		return nil, nil, err
	}

	postID, err := gonanoid.New()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate post id: %w", ErrStaging, err)
	}

	post := &models.Post{ID: postID, UserID: req.UserID}
	if err := s.posts.Create(ctx, nil, post); err != nil {
		return nil, nil, fmt.Errorf("%w: create post: %w", ErrStaging, err)
	}

	staged := make([]*models.MediaFile, 0, len(req.Media))
	for i, upload := range req.Media {
		mf, err := s.staging.Stage(ctx, req.UserID, post.ID, i, upload)
		if err != nil {
			slog.Error("staging failed", "post_id", post.ID, "index", i, "err", err)
			s.rollback(detach(ctx), post, staged)
			return nil, nil, err
		}
		staged = append(staged, mf)
	}

	return post, staged, nil
}

// Fanout runs one pipeline per account. Ineligible accounts are disabled and
// never attempted. When no account ends posted the post and its media are
// removed.
func (s *publishService) Fanout(
	ctx context.Context,
	post *models.Post,
	media []*models.MediaFile,
	accountIDs []int64,
	opts transfer.PublishOptions,
	states *StateMap) *transfer.PublishResult {
	if states == nil {
		states = NewStateMap(nil)
	}

	ids := uniqueIDs(accountIDs)
	summary := summarize(media)
	outcomes := make([]transfer.AccountOutcome, len(ids))

	var g errgroup.Group
	g.SetLimit(max(s.cfg.PublishConcurrency, 1))
	for i, id := range ids {
		g.Go(func() error {
			outcome := s.target(ctx, post, id, media, summary, opts, states)
			s.recordAttempt(ctx, post, outcome)
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	result := &transfer.PublishResult{PostID: post.ID, Outcomes: outcomes}

	posted := 0
	for _, o := range outcomes {
		if o.State == string(StatePosted) {
			posted++
		}
	}
	if posted == 0 {
		slog.Warn("no account posted, rolling back", "post_id", post.ID, "accounts", len(ids))
		s.rollback(detach(ctx), post, media)
		result.RolledBack = true
	} else {
		slog.Info("post published", "post_id", post.ID, "posted", posted, "accounts", len(ids))
	}
	return result
}

// target drives a single account through idle, uploading, processing and
// finally posted, error or disabled.
func (s *publishService) target(
	ctx context.Context,
	post *models.Post,
	accountID int64,
	media []*models.MediaFile,
	summary []transfer.MediaSummary,
	opts transfer.PublishOptions,
	states *StateMap) transfer.AccountOutcome {
	out := transfer.AccountOutcome{AccountID: accountID}

	acc, pub, msg := s.eligible(ctx, post.UserID, accountID, summary)
	if acc != nil {
		out.Platform = acc.Platform
	}
	if msg != "" {
		setState(states, accountID, StateDisabled, msg)
		out.State, out.Message = string(StateDisabled), msg
		return out
	}

	setState(states, accountID, StateUploading, "")
	job := &PublishJob{
		Post:     post,
		Account:  acc,
		Media:    media,
		Options:  opts,
		Progress: func() { setState(states, accountID, StateProcessing, "") },
	}

	providerID, err := pub.Publish(ctx, job)
	if err == nil {
		setState(states, accountID, StateProcessing, "")
		_, err = s.pp.Create(detach(ctx), &models.PlatformPost{
			PostID:         post.ID,
			AccountID:      acc.ID,
			Platform:       acc.Platform,
			ProviderPostID: providerID,
			Caption:        captionFor(acc.Platform, opts),
		})
		if err != nil {
			err = fmt.Errorf("record %s post %s: %w", acc.Platform, providerID, err)
		}
	}

	if err != nil {
		slog.Error("publish failed",
			"post_id", post.ID,
			"account_id", accountID,
			"platform", acc.Platform,
			"step", errorStep(err),
			"kind", ErrorKind(err),
			"retryable", IsTransient(err),
			"err", errorCause(err))
		setState(states, accountID, StateError, UserMessage(err))
		out.State, out.ErrorKind, out.Message = string(StateError), ErrorKind(err), UserMessage(err)
		return out
	}

	setState(states, accountID, StatePosted, "")
	out.State, out.ProviderPostID = string(StatePosted), providerID
	return out
}

// eligible loads the account and runs the preflight gate. A non-empty
// message means the account must be disabled.
func (s *publishService) eligible(ctx context.Context, userID, accountID int64, summary []transfer.MediaSummary) (*models.SocialAccount, Publisher, string) {
	acc, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		slog.Error("failed to load account", "account_id", accountID, "err", err)
		return nil, nil, genericFailureMessage
	}
	if acc == nil || acc.UserID != userID {
		return nil, nil, "This account is no longer connected."
	}

	pub, ok := s.publishers[acc.Platform]
	if !ok {
		return acc, nil, fmt.Sprintf("Posting to %s is not supported.", acc.Platform)
	}

	capability := s.capability.Resolve(ctx, acc)
	if msg := Preflight(acc.Platform, capability, summary); msg != "" {
		return acc, nil, msg
	}
	return acc, pub, ""
}

func (s *publishService) recordAttempt(ctx context.Context, post *models.Post, o transfer.AccountOutcome) {
	_, err := s.attempts.Create(detach(ctx), &models.PublishAttempt{
		UserID:       post.UserID,
		PostID:       post.ID,
		AccountID:    o.AccountID,
		Platform:     o.Platform,
		State:        o.State,
		ErrorKind:    o.ErrorKind,
		ErrorMessage: o.Message,
	})
	if err != nil {
		slog.Error("failed to record publish attempt", "post_id", post.ID, "account_id", o.AccountID, "err", err)
	}
}

func (s *publishService) rollback(ctx context.Context, post *models.Post, media []*models.MediaFile) {
	if err := s.staging.Discard(ctx, media); err != nil {
		slog.Error("failed to discard staged media", "post_id", post.ID, "err", err)
	}
	if err := s.posts.Remove(ctx, post.ID); err != nil {
		slog.Error("failed to remove post", "post_id", post.ID, "err", err)
	}
}

// FanoutPost publishes a post that was staged earlier, typically from the
// background worker.
func (s *publishService) FanoutPost(ctx context.Context, userID int64, postID string, accountIDs []int64, opts transfer.PublishOptions) (*transfer.PublishResult, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil || post.UserID != userID {
		return nil, fmt.Errorf("%w: %s", ErrPostNotFound, postID)
	}

	media, err := s.media.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(media) == 0 {
		return nil, fmt.Errorf("%w: post %s has no media", ErrStaging, postID)
	}

	return s.Fanout(ctx, post, media, accountIDs, opts, nil), nil
}

func setState(states *StateMap, accountID int64, state AccountState, msg string) {
	if err := states.Set(accountID, AccountStatus{State: state, Message: msg}); err != nil {
		slog.Debug("state change ignored", "account_id", accountID, "err", err)
	}
}

func captionFor(platform string, opts transfer.PublishOptions) string {
	switch platform {
	case models.PlatformInstagram:
		return opts.InstagramCaption
	case models.PlatformTiktok:
		return opts.TiktokTitle
	case models.PlatformYoutube:
		return opts.YoutubeTitle
	}
	return ""
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
