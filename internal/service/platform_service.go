package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/repository"
)

const (
	TIKTOK_AUTH_URL   = "https://www.tiktok.com/v2/auth/authorize/"
	FACEBOOK_AUTH_URL = "https://www.facebook.com/v20.0/dialog/oauth"

	instagramScopes = "instagram_basic,instagram_content_publish,pages_show_list,pages_read_engagement,business_management"

	maxProfilePictureBytes = 5 << 20
)

var ErrAccountNotFound = errors.New("social account doesn't exist")

type PlatformService interface {
	GetAuthURL(ctx context.Context, platform, state string) string
	Connect(ctx context.Context, platform, code string, userID int64) ([]*models.SocialAccount, error)
	Delete(ctx context.Context, userID, accountID int64) error
	MirrorProfilePictures(ctx context.Context, accounts []*models.SocialAccount)
}

type platformService struct {
	cfg       config.Config
	sa        repository.SocialAccountRepository
	blobs     BlobStore
	instagram InstagramService
	tiktok    TiktokService
	youtube   YoutubeService
	client    *http.Client
}

func NewPlatformService(
	cfg config.Config,
	sa repository.SocialAccountRepository,
	blobs BlobStore,
	instagram InstagramService,
	tiktok TiktokService,
	youtube YoutubeService) PlatformService {
	return &platformService{
		cfg:       cfg,
		sa:        sa,
		blobs:     blobs,
		instagram: instagram,
		tiktok:    tiktok,
		youtube:   youtube,
		client:    defaultHTTPClient,
	}
}

// ProfilePicturePath is the storage key of an account's mirrored picture.
func ProfilePicturePath(userID int64, platform string, accountID int64) string {
	return fmt.Sprintf("%d/%sAccount/%d", userID, platform, accountID)
}

func (s *platformService) GetAuthURL(ctx context.Context, platform, state string) string {
	switch platform {
	case models.PlatformInstagram:
		params := url.Values{}
		params.Add("client_id", s.cfg.FacebookClientID)
		params.Add("redirect_uri", s.cfg.FacebookRedirectURI)
		params.Add("scope", instagramScopes)
		params.Add("response_type", "code")
		params.Add("state", state)
		return fmt.Sprintf("%s?%s", FACEBOOK_AUTH_URL, params.Encode())

	case models.PlatformTiktok:
		params := url.Values{}
		params.Add("client_key", s.cfg.TiktokClientKey)
		params.Add("scope", tiktokScopes)
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.TiktokRedirectURI)
		params.Add("state", state)
		return fmt.Sprintf("%s?%s", TIKTOK_AUTH_URL, params.Encode())

	case models.PlatformYoutube:
		return s.youtube.AuthURL(state)

	default:
		return ""
	}
}

// Connect finishes an OAuth flow and mirrors the new accounts' pictures.
func (s *platformService) Connect(ctx context.Context, platform, code string, userID int64) ([]*models.SocialAccount, error) {
	var accounts []*models.SocialAccount
	switch platform {
	case models.PlatformInstagram:
		accs, err := s.instagram.InstagramCallback(ctx, code, userID)
		if err != nil {
			return nil, err
		}
		accounts = accs
	case models.PlatformTiktok:
		acc, err := s.tiktok.TiktokCallback(ctx, code, userID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	case models.PlatformYoutube:
		acc, err := s.youtube.YoutubeCallback(ctx, code, userID)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}

	s.MirrorProfilePictures(ctx, accounts)
	return accounts, nil
}

// MirrorProfilePictures copies remote profile pictures into storage, since
// provider CDN URLs expire. Failures keep the remote URL.
func (s *platformService) MirrorProfilePictures(ctx context.Context, accounts []*models.SocialAccount) {
	for _, acc := range accounts {
		if !strings.HasPrefix(acc.ProfilePicture, "http") {
			continue
		}
		path := ProfilePicturePath(acc.UserID, acc.Platform, acc.ID)
		if err := s.mirror(ctx, acc.ProfilePicture, path); err != nil {
			slog.Warn("failed to mirror profile picture", "account_id", acc.ID, "err", err)
			continue
		}
		if err := s.sa.UpdateProfile(ctx, acc.ID, "", path); err != nil {
			slog.Warn("failed to save profile picture path", "account_id", acc.ID, "err", err)
			continue
		}
		acc.ProfilePicture = path
	}
}

func (s *platformService) mirror(ctx context.Context, src, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected response status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxProfilePictureBytes))
	if err != nil {
		return err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return s.blobs.Put(ctx, path, bytes.NewReader(data), int64(len(data)), contentType)
}

// Delete revokes provider access where possible and removes the account.
// Platform posts of the account go with it.
func (s *platformService) Delete(ctx context.Context, userID, accountID int64) error {
	if userID == 0 {
		err := errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}
	if accountID == 0 {
		err := errors.New("AccountID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		slog.Info(ErrAccountNotFound.Error(), "account_id", accountID)
		return ErrAccountNotFound
	}

	acc, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("unable to get social account info: %w", err)
	}
	if acc == nil {
		return ErrAccountNotFound
	}

	var revokeErr error
	switch acc.Platform {
	case models.PlatformTiktok:
		revokeErr = s.tiktok.RevokeTiktokAccess(ctx, acc)
	case models.PlatformYoutube:
		revokeErr = s.youtube.RevokeGoogleAccess(ctx, acc)
	}
	if revokeErr != nil {
		slog.Warn("unable to revoke access", "account_id", acc.ID, "platform", acc.Platform, "err", revokeErr)
	}

	return removeAccount(ctx, s.sa, s.blobs, acc)
}

// removeAccount deletes the account row and then its mirrored profile picture.
func removeAccount(ctx context.Context, sa repository.SocialAccountRepository, blobs BlobStore, acc *models.SocialAccount) error {
	if err := sa.Remove(ctx, acc.ID); err != nil {
		return fmt.Errorf("error removing account: %w", err)
	}

	if !strings.HasPrefix(acc.ProfilePicture, "http") && acc.ProfilePicture != "" {
		if err := blobs.Delete(ctx, acc.ProfilePicture); err != nil {
			slog.Warn("failed to delete profile picture", "account_id", acc.ID, "err", err)
		}
	}
	return nil
}
