package models

import (
	"time"
)

// SocialAccount is a connected destination. For Instagram AccountID is the
// Instagram Business Account id and PageID the Facebook Page it hangs off.
type SocialAccount struct {
	ID              int64     `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	AccountID       string    `db:"account_id" json:"account_id"`
	PageID          string    `db:"page_id" json:"page_id,omitempty"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	AccessToken     string    `db:"access_token" json:"-"`
	RefreshToken    string    `db:"refresh_token" json:"-"`
	TokenExpiresAt  time.Time `db:"token_expires_at" json:"token_expires_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Capability is derived per account on every fetch and never persisted.
type Capability struct {
	MinDurationSec int    `json:"min_duration_sec"`
	MaxDurationSec int    `json:"max_duration_sec"`
	MaxSizeBytes   int64  `json:"max_size_bytes"`
	BlockingError  string `json:"blocking_error,omitempty"`
}

const (
	PlatformInstagram = "instagram"
	PlatformTiktok    = "tiktok"
	PlatformYoutube   = "youtube"
)
