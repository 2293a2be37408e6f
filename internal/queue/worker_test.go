package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type fakePublishService struct {
	service.PublishService
	err  error
	got  PublishPostPayload
	runs int
}

func (f *fakePublishService) FanoutPost(ctx context.Context, userID int64, postID string, accountIDs []int64, opts transfer.PublishOptions) (*transfer.PublishResult, error) {
	f.runs++
	f.got = PublishPostPayload{PostID: postID, UserID: userID, AccountIDs: accountIDs, Options: opts}
	if f.err != nil {
		return nil, f.err
	}
	return &transfer.PublishResult{PostID: postID, Outcomes: []transfer.AccountOutcome{{AccountID: accountIDs[0], Platform: models.PlatformTiktok}}}, nil
}

func TestHandlePublishPostTask(t *testing.T) {
	ps := &fakePublishService{}
	q := NewQueue(ps)

	payload := PublishPostPayload{PostID: "abc", UserID: 7, AccountIDs: []int64{2}, Options: transfer.PublishOptions{TiktokTitle: "hi"}}
	data, _ := json.Marshal(payload)

	if err := q.HandlePublishPostTask(context.Background(), asynq.NewTask(TaskTypePublishPost, data)); err != nil {
		t.Fatalf("HandlePublishPostTask: %v", err)
	}
	if ps.got.PostID != "abc" || ps.got.UserID != 7 || ps.got.Options.TiktokTitle != "hi" {
		t.Fatalf("payload not forwarded: %+v", ps.got)
	}
}

func TestHandlePublishPostTaskBadPayload(t *testing.T) {
	ps := &fakePublishService{}
	err := NewQueue(ps).HandlePublishPostTask(context.Background(), asynq.NewTask(TaskTypePublishPost, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
	if ps.runs != 0 {
		t.Fatal("fan-out must not run for a broken payload")
	}
}

func TestPublishPostMissingPostIsNotRetried(t *testing.T) {
	ps := &fakePublishService{err: service.ErrPostNotFound}
	_, err := NewQueue(ps).PublishPost(context.Background(), PublishPostPayload{PostID: "gone", UserID: 7, AccountIDs: []int64{1}})
	if !errors.Is(err, asynq.SkipRetry) || !errors.Is(err, service.ErrPostNotFound) {
		t.Fatalf("expected SkipRetry wrapping ErrPostNotFound, got %v", err)
	}
}
