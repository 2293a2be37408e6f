package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

// Polling holds the bounded poll policy for one provider.
type Polling struct {
	Interval    time.Duration
	MaxAttempts int
}

type Config struct {
	FacebookClientID     string
	FacebookClientSecret string
	FacebookRedirectURI  string
	InstagramGraphURL    string
	TiktokClientKey      string
	TiktokClientSecret   string
	TiktokRedirectURI    string
	TiktokAPIURL         string
	GoogleClientID       string
	GoogleClientSecret   string
	GoogleRedirectURI    string
	YoutubeAPIURL        string
	PostgresURI          string
	RedisURI             string
	FrontendURL          string
	R2                   R2
	SecretKey            string
	CookieName           string
	LogLevel             string

	Port               string
	BodyLimitMB        int
	PublishConcurrency int
	SignedURLTTL       time.Duration
	InstagramPolling   Polling
	TiktokPolling      Polling
}

// fileConfig mirrors the optional TOML overlay. Durations are in seconds.
type fileConfig struct {
	Server struct {
		Port               string `toml:"port"`
		BodyLimitMB        int    `toml:"body_limit_mb"`
		PublishConcurrency int    `toml:"publish_concurrency"`
	} `toml:"server"`
	Storage struct {
		SignedURLTTL int `toml:"signed_url_ttl"`
	} `toml:"storage"`
	Polling struct {
		Instagram pollingFile `toml:"instagram"`
		Tiktok    pollingFile `toml:"tiktok"`
	} `toml:"polling"`
}

type pollingFile struct {
	Interval    int `toml:"interval"`
	MaxAttempts int `toml:"max_attempts"`
}

func LoadConfig() *Config {
	return &Config{
		FacebookClientID:     getEnv("FACEBOOK_CLIENT_ID", ""),
		FacebookClientSecret: getEnv("FACEBOOK_CLIENT_SECRET", ""),
		FacebookRedirectURI:  getEnv("FACEBOOK_REDIRECT_URI", ""),
		InstagramGraphURL:    getEnv("FACEBOOK_GRAPH_URL", "https://graph.facebook.com/v20.0"),
		TiktokClientKey:      getEnv("TIKTOK_CLIENT_KEY", ""),
		TiktokClientSecret:   getEnv("TIKTOK_CLIENT_SECRET", ""),
		TiktokRedirectURI:    getEnv("TIKTOK_REDIRECT_URI", ""),
		TiktokAPIURL:         getEnv("TIKTOK_API_URL", "https://open.tiktokapis.com"),
		GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:    getEnv("GOOGLE_REDIRECT_URI", ""),
		YoutubeAPIURL:        getEnv("YOUTUBE_API_URL", ""),
		PostgresURI:          getEnv("POSTGRES_URI", ""),
		RedisURI:             getEnv("REDIS_URI", "localhost:6379"),
		FrontendURL:          getEnv("FRONTEND_URL", "http://localhost:5173"),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		SecretKey:  getEnv("SECRET_KEY", ""),
		CookieName: getEnv("COOKIE_NAME", "crosspost_session"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		Port:               getEnv("PORT", "3000"),
		BodyLimitMB:        getEnvInt("BODY_LIMIT_MB", 1024),
		PublishConcurrency: getEnvInt("PUBLISH_CONCURRENCY", 10),
		SignedURLTTL:       10 * time.Minute,
		InstagramPolling:   Polling{Interval: 10 * time.Second, MaxAttempts: 15},
		TiktokPolling:      Polling{Interval: 15 * time.Second, MaxAttempts: 15},
	}
}

// Load reads the environment and applies the TOML file named by CONFIG_FILE
// when it exists.
func Load() (*Config, error) {
	cfg := LoadConfig()
	path := getEnv("CONFIG_FILE", "")
	if path == "" {
		return cfg, nil
	}
	if err := cfg.ApplyFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyFile overlays non-zero values from a TOML file. A missing file is not an error.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if fc.Server.Port != "" {
		c.Port = fc.Server.Port
	}
	if fc.Server.BodyLimitMB > 0 {
		c.BodyLimitMB = fc.Server.BodyLimitMB
	}
	if fc.Server.PublishConcurrency > 0 {
		c.PublishConcurrency = fc.Server.PublishConcurrency
	}
	if fc.Storage.SignedURLTTL > 0 {
		c.SignedURLTTL = time.Duration(fc.Storage.SignedURLTTL) * time.Second
	}
	fc.Polling.Instagram.apply(&c.InstagramPolling)
	fc.Polling.Tiktok.apply(&c.TiktokPolling)
	return nil
}

func (p pollingFile) apply(dst *Polling) {
	if p.Interval > 0 {
		dst.Interval = time.Duration(p.Interval) * time.Second
	}
	if p.MaxAttempts > 0 {
		dst.MaxAttempts = p.MaxAttempts
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
