// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/dreamreel-api/internal/media"
	"github.com/maauso/dreamreel-api/internal/retry"
)

// Static errors for configuration validation.
var (
	// ErrAPIKeyRequired is returned when OPENAI_API_KEY is not set.
	ErrAPIKeyRequired = errors.New("config: OPENAI_API_KEY is required")
	// ErrAPIKeyFormat is returned when OPENAI_API_KEY does not look like a key.
	ErrAPIKeyFormat = errors.New("config: OPENAI_API_KEY must start with sk-")
	// ErrInvalidModel is returned for a SORA_MODEL outside the supported set.
	ErrInvalidModel = errors.New("config: SORA_MODEL must be sora-2 or sora-2-pro")
	// ErrInvalidSeconds is returned for a SORA_SECONDS outside 4, 8 or 12.
	ErrInvalidSeconds = errors.New("config: SORA_SECONDS must be 4, 8 or 12")
	// ErrInvalidPool is returned when worker or queue sizes are not positive.
	ErrInvalidPool = errors.New("config: WORKER_COUNT and QUEUE_SIZE must be positive")
	// ErrInvalidRetry is returned for a retry policy that cannot make progress.
	ErrInvalidRetry = errors.New("config: invalid retry settings")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// envFiles are loaded, when present, before the environment is read.
// Variables already set in the environment win.
var envFiles = []string{".env", ".env.local"}

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Provider settings
	OpenAIAPIKey  string `env:"OPENAI_API_KEY, required" json:"-"` // Masked in JSON
	OpenAIBaseURL string `env:"OPENAI_BASE_URL, default=https://api.openai.com/v1" json:"openai_base_url"`
	SoraModel     string `env:"SORA_MODEL, default=sora-2" json:"sora_model"`
	SoraSeconds   int    `env:"SORA_SECONDS" json:"sora_seconds,omitempty"`
	SoraSize      string `env:"SORA_SIZE" json:"sora_size,omitempty"`
	PromptPrefix  string `env:"PROMPT_PREFIX" json:"prompt_prefix"` // empty means sora.DefaultPromptPrefix

	// Retry settings
	RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS, default=3" json:"retry_max_attempts"`
	RetryInitialDelay  time.Duration `env:"RETRY_INITIAL_DELAY, default=1s" json:"retry_initial_delay"`
	RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY, default=10s" json:"retry_max_delay"`
	RetryBackoffFactor float64       `env:"RETRY_BACKOFF_FACTOR, default=2" json:"retry_backoff_factor"`

	// Storage settings
	CacheDir           string `env:"CACHE_DIR, default=/tmp/dreamreel" json:"cache_dir"`
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Compression settings
	CompressEnabled      bool   `env:"COMPRESS_ENABLED, default=true" json:"compress_enabled"`
	FFmpegPath           string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	CompressCRF          int    `env:"COMPRESS_CRF, default=23" json:"compress_crf"`
	CompressPreset       string `env:"COMPRESS_PRESET, default=medium" json:"compress_preset"`
	CompressMaxDimension int    `env:"COMPRESS_MAX_DIMENSION, default=854" json:"compress_max_dimension"`
	CompressAudioBitrate string `env:"COMPRESS_AUDIO_BITRATE, default=64k" json:"compress_audio_bitrate"`
	PosterEnabled        bool   `env:"POSTER_ENABLED, default=true" json:"poster_enabled"`
	PosterWidth          int    `env:"POSTER_WIDTH, default=480" json:"poster_width"`

	// Background work settings
	WorkerCount int           `env:"WORKER_COUNT, default=2" json:"worker_count"`
	QueueSize   int           `env:"QUEUE_SIZE, default=32" json:"queue_size"`
	RedisAddr   string        `env:"REDIS_ADDR" json:"redis_addr,omitempty"`
	InFlightTTL time.Duration `env:"INFLIGHT_TTL, default=10m" json:"inflight_ttl"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

// RedisEnabled returns true if the in-flight marker should live in Redis.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// CompressionProfile returns the encoder settings.
func (c *Config) CompressionProfile() media.Profile {
	return media.Profile{
		CRF:          c.CompressCRF,
		Preset:       c.CompressPreset,
		MaxDimension: c.CompressMaxDimension,
		AudioBitrate: c.CompressAudioBitrate,
	}
}

// RetryPolicy returns the provider retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.RetryMaxAttempts
	p.InitialDelay = c.RetryInitialDelay
	p.MaxDelay = c.RetryMaxDelay
	p.BackoffFactor = c.RetryBackoffFactor
	return p
}

// Load reads .env files when present, then the environment, and validates
// the result.
func Load() (*Config, error) {
	for _, f := range envFiles {
		// Missing files are normal outside local development.
		_ = godotenv.Load(f)
	}
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		if strings.Contains(err.Error(), "OPENAI_API_KEY") {
			return nil, ErrAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return ErrAPIKeyRequired
	}
	if !strings.HasPrefix(c.OpenAIAPIKey, "sk-") {
		return ErrAPIKeyFormat
	}
	switch c.SoraModel {
	case "sora-2", "sora-2-pro":
	default:
		return ErrInvalidModel
	}
	switch c.SoraSeconds {
	case 0, 4, 8, 12:
	default:
		return ErrInvalidSeconds
	}
	if c.WorkerCount < 1 || c.QueueSize < 1 {
		return ErrInvalidPool
	}
	if c.RetryMaxAttempts < 1 || c.RetryInitialDelay < 0 || c.RetryMaxDelay < c.RetryInitialDelay || c.RetryBackoffFactor < 1 {
		return ErrInvalidRetry
	}
	if c.S3Bucket != "" && c.S3Region == "" {
		return ErrS3RegionRequired
	}
	if c.CompressEnabled {
		if err := c.CompressionProfile().Validate(); err != nil {
			return fmt.Errorf("config: compression profile: %w", err)
		}
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, OpenAIAPIKey: %s, OpenAIBaseURL: %s, SoraModel: %s, CacheDir: %s, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, CompressEnabled: %t, WorkerCount: %d, QueueSize: %d, RedisAddr: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		mask(c.OpenAIAPIKey),
		c.OpenAIBaseURL,
		c.SoraModel,
		c.CacheDir,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.CompressEnabled,
		c.WorkerCount,
		c.QueueSize,
		c.RedisAddr,
		c.LogFormat,
		c.LogLevel,
	)
}

// mask hides a secret, keeping a short prefix for recognisability.
func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:3] + "****"
	}
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
