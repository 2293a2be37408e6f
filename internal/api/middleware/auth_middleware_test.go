package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/pkg/utils"
)

func newApp(t *testing.T) (*fiber.App, config.Config) {
	t.Helper()
	cfg := config.Config{SecretKey: "0123456789abcdef0123456789abcdef", CookieName: "session"}

	app := fiber.New()
	app.Use(NewAuthMiddleware(cfg).AuthMiddleware())
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})
	return app, cfg
}

func TestAuthMiddleware(t *testing.T) {
	app, cfg := newApp(t)
	valid, err := utils.GenerateToken(cfg.SecretKey, "42", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	expired, err := utils.GenerateToken(cfg.SecretKey, "42", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	foreign, err := utils.GenerateToken("another-secret-another-secret-xx", "42", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	cases := []struct {
		name   string
		cookie string
		header string
		want   int
	}{
		{"cookie", valid, "", fiber.StatusOK},
		{"bearer", "", "Bearer " + valid, fiber.StatusOK},
		{"lowercase bearer", "", "bearer " + valid, fiber.StatusOK},
		{"missing", "", "", fiber.StatusUnauthorized},
		{"expired", expired, "", fiber.StatusUnauthorized},
		{"wrong key", "", "Bearer " + foreign, fiber.StatusUnauthorized},
		{"not bearer", "", "Basic " + valid, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.cookie != "" {
				req.Header.Set("Cookie", cfg.CookieName+"="+tc.cookie)
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("status %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestAuthMiddlewareClearsBadCookie(t *testing.T) {
	app, cfg := newApp(t)
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Cookie", cfg.CookieName+"=garbage")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var cleared bool
	for _, c := range resp.Cookies() {
		if c.Name == cfg.CookieName && c.Value == "" {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("invalid session cookie should be cleared")
	}
}
