package queue

import (
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// EnqueuePublish queues the fan-out for a staged post. The post id doubles as
// the task id so a post is never queued twice.
func EnqueuePublish(asynqClient *asynq.Client, payload PublishPostPayload) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypePublishPost, taskPayload)

	info, err := asynqClient.Enqueue(task, asynq.TaskID(payload.PostID), asynq.MaxRetry(0))
	if err != nil {
		return err
	}

	slog.Info("publish task queued", "post_id", payload.PostID, "task_id", info.ID, "accounts", len(payload.AccountIDs))
	return nil
}
