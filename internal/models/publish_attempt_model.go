package models

import "time"

// PublishAttempt is the final outcome of one account target. Rows outlive
// the post so failed runs stay inspectable after rollback.
type PublishAttempt struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"user_id"`
	PostID       string    `db:"post_id" json:"post_id"`
	AccountID    int64     `db:"account_id" json:"account_id"`
	Platform     string    `db:"platform" json:"platform"`
	State        string    `db:"state" json:"state"`
	ErrorKind    string    `db:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
