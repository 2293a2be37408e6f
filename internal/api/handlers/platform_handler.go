package handlers

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/models"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

const stateTTL = 10 * time.Minute

type PlatformHandler struct {
	ps  service.PlatformService
	cs  service.CapabilityService
	cfg config.Config
}

func NewPlatformHandler(ps service.PlatformService, cs service.CapabilityService, cfg config.Config) *PlatformHandler {
	return &PlatformHandler{
		ps:  ps,
		cs:  cs,
		cfg: cfg,
	}
}

func supportedPlatform(platform string) bool {
	switch platform {
	case models.PlatformInstagram, models.PlatformTiktok, models.PlatformYoutube:
		return true
	}
	return false
}

// AddSocialAccount redirects to the provider consent screen. The OAuth state
// is a short-lived token naming the current user.
func (h *PlatformHandler) AddSocialAccount(c *fiber.Ctx) error {
	platform := c.Params("platform")
	if !supportedPlatform(platform) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unsupported platform",
		})
	}

	state, err := utils.GenerateToken(h.cfg.SecretKey, strconv.FormatInt(GetUserID(c), 10), stateTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "something went wrong",
		})
	}

	authURL := h.ps.GetAuthURL(c.Context(), platform, state)
	return c.Redirect(authURL)
}

func (h *PlatformHandler) CallbackHandler(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	platform := c.Params("platform")

	claims, err := utils.ValidateToken(h.cfg.SecretKey, state)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	userID, err := strconv.ParseInt(claims.UserID, 10, 64)
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to validate user",
		})
	}

	if code == "" {
		return h.redirect(c, c.Query("error_description", "Access was not granted"))
	}

	accounts, err := h.ps.Connect(c.Context(), platform, code, userID)
	if err != nil {
		slog.Error("unable to connect account", "platform", platform, "user_id", userID, "err", err)
		return h.redirect(c, service.UserMessage(err))
	}

	slog.Info("accounts connected", "platform", platform, "user_id", userID, "count", len(accounts))
	return h.redirect(c, "")
}

func (h *PlatformHandler) redirect(c *fiber.Ctx, errMessage string) error {
	redirectURL := fmt.Sprintf("%s/dashboard/accounts", h.cfg.FrontendURL)
	if errMessage != "" {
		redirectURL += "?error=" + url.QueryEscape(errMessage)
	}
	return c.Redirect(redirectURL, fiber.StatusTemporaryRedirect)
}

// ListSocialAccounts returns the user's accounts with their current publish
// capability.
func (h *PlatformHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.cs.List(c.Context(), userID)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch social accounts",
		})
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *PlatformHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountId, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid account id",
		})
	}

	err = h.ps.Delete(c.Context(), userID, int64(accountId))
	if err != nil {
		return c.Status(errorStatus(err)).JSON(fiber.Map{
			"error": "Unable to delete social account",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}
