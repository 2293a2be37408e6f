package transfer

import (
	"io"

	"github.com/maheshrc27/crosspost/internal/models"
)

// PostCreation is the validated form of a create-post request.
type PostCreation struct {
	AccountIDs       []int64   `validate:"required,min=1,dive,gt=0"`
	Durations        []float64 `validate:"omitempty,dive,gte=0"`
	InstagramCaption string    `validate:"max=2200"`
	TiktokTitle      string    `validate:"max=2200"`
	YoutubeTitle     string    `validate:"max=100"`
	YoutubePrivate   bool
	PrivacyLevel     string `validate:"omitempty,oneof=PUBLIC_TO_EVERYONE MUTUAL_FOLLOW_FRIENDS FOLLOWER_OF_CREATOR SELF_ONLY"`
	DisableDuet      bool
	DisableComment   bool
	DisableStitch    bool
	CoverTimestampMs int `validate:"gte=0"`
	BrandContent     bool
	BrandOrganic     bool
	AutoAddMusic     bool
}

// PublishOptions carries per-provider caption, title and flags.
type PublishOptions struct {
	InstagramCaption string `json:"instagram_caption"`
	TiktokTitle      string `json:"tiktok_title"`
	YoutubeTitle     string `json:"youtube_title"`
	YoutubePrivate   bool   `json:"youtube_private"`
	PrivacyLevel     string `json:"privacy_level"`
	DisableDuet      bool   `json:"disable_duet"`
	DisableComment   bool   `json:"disable_comment"`
	DisableStitch    bool   `json:"disable_stitch"`
	CoverTimestampMs int    `json:"cover_timestamp_ms"`
	BrandContent     bool   `json:"brand_content"`
	BrandOrganic     bool   `json:"brand_organic"`
	AutoAddMusic     bool   `json:"auto_add_music"`
}

func (pc *PostCreation) Options() PublishOptions {
	return PublishOptions{
		InstagramCaption: pc.InstagramCaption,
		TiktokTitle:      pc.TiktokTitle,
		YoutubeTitle:     pc.YoutubeTitle,
		YoutubePrivate:   pc.YoutubePrivate,
		PrivacyLevel:     pc.PrivacyLevel,
		DisableDuet:      pc.DisableDuet,
		DisableComment:   pc.DisableComment,
		DisableStitch:    pc.DisableStitch,
		CoverTimestampMs: pc.CoverTimestampMs,
		BrandContent:     pc.BrandContent,
		BrandOrganic:     pc.BrandOrganic,
		AutoAddMusic:     pc.AutoAddMusic,
	}
}

// MediaUpload is one raw file handed to staging. DurationSec is reported by
// the client and is zero for images.
type MediaUpload struct {
	Filename    string
	Size        int64
	DurationSec float64
	Content     io.ReadSeeker
}

type PublishRequest struct {
	UserID     int64
	Media      []*MediaUpload
	AccountIDs []int64
	Options    PublishOptions
}

// MediaSummary is what the preflight gate needs to know about one file.
type MediaSummary struct {
	Kind        string
	SizeBytes   int64
	DurationSec float64
}

type AccountOutcome struct {
	AccountID      int64  `json:"account_id"`
	Platform       string `json:"platform"`
	State          string `json:"state"`
	ProviderPostID string `json:"provider_post_id,omitempty"`
	ErrorKind      string `json:"error_kind,omitempty"`
	Message        string `json:"message,omitempty"`
}

type PublishResult struct {
	PostID     string           `json:"post_id"`
	RolledBack bool             `json:"rolled_back"`
	Outcomes   []AccountOutcome `json:"outcomes"`
}

type PostInfo struct {
	Post          *models.Post           `json:"post"`
	Media         []*models.MediaFile    `json:"media"`
	PlatformPosts []*models.PlatformPost `json:"platform_posts"`
}

type AccountView struct {
	ID              int64             `json:"id"`
	Platform        string            `json:"platform"`
	AccountName     string            `json:"account_name"`
	AccountUsername string            `json:"account_username"`
	ProfilePicture  string            `json:"profile_picture"`
	Capability      models.Capability `json:"capability"`
}
