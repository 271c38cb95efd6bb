// config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// StreakGapFrom selects which timestamp a streak touch measures its gap against.
type StreakGapFrom string

const (
	// StreakGapFromAnchor measures from the last touch that moved the streak counter.
	StreakGapFromAnchor StreakGapFrom = "anchor"
	// StreakGapFromLastActive measures from the most recent activity of any kind.
	StreakGapFromLastActive StreakGapFrom = "last_active"
)

// ProgressionConfig holds the tunable defaults of the progression and guild engines.
type ProgressionConfig struct {
	DefaultActivityPoints   int64         `env:"DEFAULT_ACTIVITY_POINTS" envDefault:"10"`
	DefaultActivityCategory string        `env:"DEFAULT_ACTIVITY_CATEGORY" envDefault:"general"`
	PointsPerLevel          int64         `env:"POINTS_PER_LEVEL" envDefault:"1000"`
	DefaultMaxMembers       int           `env:"DEFAULT_MAX_MEMBERS" envDefault:"20"`
	StreakGapFrom           StreakGapFrom `env:"STREAK_GAP_FROM" envDefault:"anchor"`
}

// RetryConfig bounds automatic retries of Conflict and StoreUnavailable failures.
type RetryConfig struct {
	MaxAttempts     uint          `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"50ms"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"2s"`
}

// CatalogConfig points the catalog sync worker at the upstream definitions service.
type CatalogConfig struct {
	BaseURL  string        `env:"CATALOG_SYNC_URL"`
	Interval time.Duration `env:"CATALOG_SYNC_INTERVAL" envDefault:"5m"`
}

// CollaboratorConfig locates the external notification and moderation services.
type CollaboratorConfig struct {
	NotifyURL     string `env:"NOTIFY_URL"`
	ModerationURL string `env:"MODERATION_URL"`
}

// R2Config describes the Cloudflare R2 bucket used for guild emblems.
type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
	CDNBaseURL      string `env:"CDN_BASE_URL"`
}

// Enabled reports whether enough R2 settings are present to build a client.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.AccessKeySecret != "" && c.Bucket != ""
}

type Config struct {
	DatabaseURL        string        `env:"DATABASE_URL"`
	ListenAddr         string        `env:"LISTEN_ADDR" envDefault:":5200"`
	ServiceToken       string        `env:"SERVICE_TOKEN"`
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT" envDefault:"json"`
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"120"`
	ReconcileInterval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"10m"`

	Progression   ProgressionConfig
	Retry         RetryConfig
	Catalog       CatalogConfig
	Collaborators CollaboratorConfig
	R2            R2Config
}

// Load reads an optional .env file, then parses the environment into a Config.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.ServiceToken == "" {
		missing = append(missing, "SERVICE_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	switch c.Progression.StreakGapFrom {
	case StreakGapFromAnchor, StreakGapFromLastActive:
	default:
		return fmt.Errorf("STREAK_GAP_FROM must be %q or %q, got %q",
			StreakGapFromAnchor, StreakGapFromLastActive, c.Progression.StreakGapFrom)
	}
	if c.Progression.PointsPerLevel <= 0 {
		return errors.New("POINTS_PER_LEVEL must be positive")
	}
	if c.Progression.DefaultMaxMembers <= 0 {
		return errors.New("DEFAULT_MAX_MEMBERS must be positive")
	}
	return nil
}

// DefaultProgression returns the built-in engine defaults.
func DefaultProgression() ProgressionConfig {
	return ProgressionConfig{
		DefaultActivityPoints:   10,
		DefaultActivityCategory: "general",
		PointsPerLevel:          1000,
		DefaultMaxMembers:       20,
		StreakGapFrom:           StreakGapFromAnchor,
	}
}

// DefaultRetry returns the built-in retry bounds.
func DefaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}
