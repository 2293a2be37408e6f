package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode publish payload: %v: %w", err, asynq.SkipRetry)
	}

	res, err := q.PublishPost(ctx, payload)
	if err != nil {
		return err
	}

	slog.Info("publish task finished", "post_id", res.PostID, "rolled_back", res.RolledBack, "outcomes", len(res.Outcomes))
	return nil
}

// PublishPost runs the fan-out for a queued post. A post that no longer
// exists is not retried.
func (q *Queue) PublishPost(ctx context.Context, payload PublishPostPayload) (*transfer.PublishResult, error) {
	res, err := q.ps.FanoutPost(ctx, payload.UserID, payload.PostID, payload.AccountIDs, payload.Options)
	if errors.Is(err, service.ErrPostNotFound) {
		slog.Info(err.Error(), "post_id", payload.PostID)
		return nil, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}
