package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/robfig/cron"
)

type deps struct {
	accounts   repository.SocialAccountRepository
	posts      service.PostService
	publish    service.PublishService
	platform   service.PlatformService
	capability service.CapabilityService
	youtube    service.YoutubeService
	tiktok     service.TiktokService
}

func build(ctx context.Context, cfg *config.Config, db *sql.DB) (*deps, error) {
	postRepo := repository.NewPostRepository(db)
	mediaRepo := repository.NewMediaFileRepository(db)
	platformPostRepo := repository.NewPlatformPostRepository(db)
	attemptRepo := repository.NewPublishAttemptRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)

	r2Service, err := service.NewR2Service(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure storage: %w", err)
	}

	stagingService := service.NewStagingService(*cfg, r2Service, mediaRepo)
	instagramService := service.NewInstagramService(*cfg, socialAccountRepo, stagingService, r2Service)
	tiktokService := service.NewTiktokService(*cfg, socialAccountRepo, stagingService)
	youtubeService := service.NewYoutubeService(*cfg, socialAccountRepo, stagingService)

	capabilityService := service.NewCapabilityService(*cfg, socialAccountRepo, stagingService,
		instagramService, tiktokService, youtubeService)
	publishService := service.NewPublishService(*cfg, postRepo, mediaRepo, platformPostRepo, attemptRepo,
		socialAccountRepo, stagingService, capabilityService,
		instagramService, tiktokService, youtubeService)

	return &deps{
		accounts:   socialAccountRepo,
		posts:      service.NewPostService(postRepo, mediaRepo, platformPostRepo, attemptRepo, stagingService),
		publish:    publishService,
		platform:   service.NewPlatformService(*cfg, socialAccountRepo, r2Service, instagramService, tiktokService, youtubeService),
		capability: capabilityService,
		youtube:    youtubeService,
		tiktok:     tiktokService,
	}, nil
}

func newApp(cfg *config.Config, d *deps, client *asynq.Client) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", "path", c.Path(), "err", err)
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)

	platform := handlers.NewPlatformHandler(d.platform, d.capability, *cfg)
	app.Get("/auth/:platform/callback", platform.CallbackHandler)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	post := handlers.NewPostHandler(d.posts, d.publish, client)
	api.Post("/posts", post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Get("/posts/:id", post.GetPost)
	api.Get("/posts/:id/attempts", post.ListAttempts)
	api.Delete("/posts/:id", post.RemovePost)

	// social accounts api routes
	api.Get("/accounts", platform.ListSocialAccounts)
	api.Get("/accounts/connect/:platform", platform.AddSocialAccount)
	api.Delete("/accounts/:id", platform.DeleteSocialAccount)

	return app
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB(db)

	d, err := build(ctx, cfg, db)
	if err != nil {
		return err
	}

	redisConn := asynq.RedisClientOpt{Addr: cfg.RedisURI}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	app := newApp(cfg, d, client)

	// cron jobs
	refreshTokenJob := job.NewTokenRefreshJob(d.accounts, d.youtube, d.tiktok)
	c := cron.New()
	if err := c.AddFunc("@every 10m", refreshTokenJob.Run); err != nil {
		return fmt.Errorf("failed to schedule token refresh: %w", err)
	}
	c.Start()
	defer c.Stop()

	// queue
	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.PublishConcurrency,
		Logger:      asynqLogger{},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypePublishPost, queue.NewQueue(d.publish).HandlePublishPostTask)

	slog.Info("Starting the Asynq server...")
	if err := worker.Start(mux); err != nil {
		return fmt.Errorf("could not start Asynq server: %w", err)
	}

	errs := make(chan error, 1)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			errs <- fmt.Errorf("failed to start server: %w", err)
		}
	}()
	slog.Info("Server is running", "port", cfg.Port)

	select {
	case <-ctx.Done():
	case err = <-errs:
	}

	slog.Info("Shutting down server...")
	if shutdownErr := app.ShutdownWithTimeout(30 * time.Second); shutdownErr != nil {
		slog.Error("Failed to shut down server", "err", shutdownErr)
	}
	worker.Shutdown()
	slog.Info("Server shutdown complete.")
	return err
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Error("Failed to close database", "err", err)
	}
}

// asynqLogger routes asynq's logging through slog.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...)) }
func (asynqLogger) Info(args ...interface{}) { slog.Info(fmt.Sprint(args...)) }
func (asynqLogger) Warn(args ...interface{}) { slog.Warn(fmt.Sprint(args...)) }
func (asynqLogger) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...)) }
func (asynqLogger) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...))
	os.Exit(1)
}
