package queue

import (
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type Queue struct {
	ps service.PublishService
}

func NewQueue(ps service.PublishService) *Queue {
	return &Queue{ps: ps}
}

const TaskTypePublishPost = "post:publish"

// PublishPostPayload names a post whose media is already staged and the
// accounts it should fan out to.
type PublishPostPayload struct {
	PostID     string                  `json:"post_id"`
	UserID     int64                   `json:"user_id"`
	AccountIDs []int64                 `json:"account_ids"`
	Options    transfer.PublishOptions `json:"options"`
}
