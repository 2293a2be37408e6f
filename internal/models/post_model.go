package models

import "time"

// Post is one cross-post action. It survives orchestration only when at
// least one PlatformPost was created for it.
type Post struct {
	ID        string    `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MediaFile struct {
	ID          int64     `db:"id" json:"id"`
	PostID      string    `db:"post_id" json:"post_id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	FilePath    string    `db:"file_path" json:"file_path"`
	Position    int       `db:"position" json:"position"`
	Kind        string    `db:"kind" json:"kind"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	DurationSec float64   `db:"duration_sec" json:"duration_sec"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PlatformPost records a confirmed publication on one account.
type PlatformPost struct {
	ID             int64     `db:"id" json:"id"`
	PostID         string    `db:"post_id" json:"post_id"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	Platform       string    `db:"platform" json:"platform"`
	ProviderPostID string    `db:"provider_post_id" json:"provider_post_id"`
	Caption        string    `db:"caption" json:"caption"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

const (
	MediaKindImage = "image"
	MediaKindVideo = "video"
)
