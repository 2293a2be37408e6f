package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/internal/transfer"
)

type PostHandler struct {
	s           service.PostService
	ps          service.PublishService
	AsynqClient *asynq.Client
}

func NewPostHandler(postService service.PostService, publishService service.PublishService, asynqClient *asynq.Client) *PostHandler {
	return &PostHandler{s: postService, ps: publishService, AsynqClient: asynqClient}
}

// CreatePost stages the uploaded files and publishes them to the selected
// accounts. With ?async=true the fan-out runs on the queue and the response
// only carries the post id.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files selected",
		})
	}

	pc, err := postCreation(form.Value)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := validate.Struct(pc); err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid post options",
		})
	}
	if len(pc.Durations) > 0 && len(pc.Durations) != len(files) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "durations must match the number of files",
		})
	}

	uploads, closeAll, err := openUploads(files, pc.Durations)
	defer closeAll()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to read uploaded files",
		})
	}

	req := &transfer.PublishRequest{
		UserID:     userID,
		Media:      uploads,
		AccountIDs: pc.AccountIDs,
		Options:    pc.Options(),
	}

	// Publishing keeps going when the client disconnects.
	ctx := context.WithoutCancel(c.UserContext())

	if c.QueryBool("async") {
		return h.enqueue(ctx, c, req)
	}

	states := service.NewStateMap(func(accountID int64, status service.AccountStatus) {
		slog.Debug("account state", "account_id", accountID, "state", status.State)
	})
	result, err := h.ps.Publish(ctx, req, states)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": service.UserMessage(err),
		})
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *PostHandler) enqueue(ctx context.Context, c *fiber.Ctx, req *transfer.PublishRequest) error {
	post, _, err := h.ps.Prepare(ctx, req)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": service.UserMessage(err),
		})
	}

	err = queue.EnqueuePublish(h.AsynqClient, queue.PublishPostPayload{
		PostID:     post.ID,
		UserID:     req.UserID,
		AccountIDs: req.AccountIDs,
		Options:    req.Options,
	})
	if err != nil {
		slog.Error("unable to queue post", "post_id", post.ID, "err", err)
		if err := h.s.Remove(ctx, req.UserID, post.ID); err != nil {
			slog.Error("unable to remove unqueued post", "post_id", post.ID, "err", err)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Error queueing post",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"post_id": post.ID,
	})
}

func postCreation(values map[string][]string) (*transfer.PostCreation, error) {
	accountIDs, err := parseInts(values["account_ids"])
	if err != nil {
		return nil, fmt.Errorf("invalid account_ids")
	}
	durations, err := parseFloats(values["durations"])
	if err != nil {
		return nil, fmt.Errorf("invalid durations")
	}
	cover, err := parseInts(values["cover_timestamp_ms"])
	if err != nil {
		return nil, fmt.Errorf("invalid cover_timestamp_ms")
	}

	pc := &transfer.PostCreation{
		AccountIDs:       accountIDs,
		Durations:        durations,
		InstagramCaption: formString(values, "instagram_caption"),
		TiktokTitle:      formString(values, "tiktok_title"),
		YoutubeTitle:     formString(values, "youtube_title"),
		YoutubePrivate:   formBool(values, "youtube_private"),
		PrivacyLevel:     formString(values, "privacy_level"),
		DisableDuet:      formBool(values, "disable_duet"),
		DisableComment:   formBool(values, "disable_comment"),
		DisableStitch:    formBool(values, "disable_stitch"),
		BrandContent:     formBool(values, "brand_content"),
		BrandOrganic:     formBool(values, "brand_organic"),
		AutoAddMusic:     formBool(values, "auto_add_music"),
	}
	if len(cover) > 0 {
		pc.CoverTimestampMs = int(cover[0])
	}
	return pc, nil
}

// openUploads opens every file part in order. The returned func closes
// whatever was opened, including on error.
func openUploads(files []*multipart.FileHeader, durations []float64) ([]*transfer.MediaUpload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	uploads := make([]*transfer.MediaUpload, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)

		upload := &transfer.MediaUpload{Filename: fh.Filename, Size: fh.Size, Content: f}
		if i < len(durations) {
			upload.DurationSec = durations[i]
		}
		uploads = append(uploads, upload)
	}
	return uploads, closeAll, nil
}

func (h *PostHandler) ListPosts(c *fiber.Ctx) error {
	userId := GetUserID(c)

	posts, err := h.s.List(c.Context(), userId)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to list posts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(posts)
}

func (h *PostHandler) GetPost(c *fiber.Ctx) error {
	userId := GetUserID(c)

	post, err := h.s.PostInfo(c.Context(), c.Params("id"), userId)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to get post",
		})
	}

	return c.Status(fiber.StatusOK).JSON(post)
}

func (h *PostHandler) ListAttempts(c *fiber.Ctx) error {
	userId := GetUserID(c)

	attempts, err := h.s.Attempts(c.Context(), c.Params("id"), userId)
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to list publish attempts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(attempts)
}

func (h *PostHandler) RemovePost(c *fiber.Ctx) error {
	userID := GetUserID(c)

	err := h.s.Remove(c.Context(), userID, c.Params("id"))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to remove post",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
