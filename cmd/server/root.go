package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	config "github.com/maheshrc27/crosspost/configs"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/logutil"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/spf13/cobra"
)

var configFile string

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crosspost",
		Short:         "Publish one post to Instagram, TikTok and YouTube",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML file overlaying the environment (default $CONFIG_FILE)")

	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newRefreshTokensCommand(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		os.Setenv("CONFIG_FILE", configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logutil.Install(cfg.LogLevel)
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is unreachable: %w", err)
	}
	return db, nil
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the publish worker and the token refresh job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create missing database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newRefreshTokensCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-tokens",
		Short: "Refresh YouTube and TikTok tokens expiring within 30 minutes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			db, err := openDB(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			d, err := build(ctx, cfg, db)
			if err != nil {
				return err
			}
			refreshed, failed := job.NewTokenRefreshJob(d.accounts, d.youtube, d.tiktok).RefreshTokens(ctx, time.Now())
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d, failed %d\n", refreshed, failed)
			if failed > 0 {
				return fmt.Errorf("%d token refreshes failed", failed)
			}
			return nil
		},
	}
}
