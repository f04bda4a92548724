// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/wakeword-trim/internal/audio"
)

// Static errors for configuration validation.
var (
	// ErrInvalidPort is returned when PORT is outside 1-65535.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
	// ErrInvalidThreshold is returned when TRIM_THRESHOLD is negative.
	ErrInvalidThreshold = errors.New("config: TRIM_THRESHOLD must not be negative")
	// ErrInvalidWindow is returned when TRIM_WINDOW_SEC is not positive.
	ErrInvalidWindow = errors.New("config: TRIM_WINDOW_SEC must be positive")
	// ErrInvalidSampleRate is returned when EXPECTED_SAMPLE_RATE is not positive.
	ErrInvalidSampleRate = errors.New("config: EXPECTED_SAMPLE_RATE must be positive")
	// ErrInvalidClipDuration is returned when CLIP_DURATION_SEC is negative.
	ErrInvalidClipDuration = errors.New("config: CLIP_DURATION_SEC must not be negative")
	// ErrInvalidConcurrency is returned when MAX_CONCURRENT_FILES is not positive.
	ErrInvalidConcurrency = errors.New("config: MAX_CONCURRENT_FILES must be positive")
	// ErrS3RegionRequired is returned when S3_BUCKET is set without S3_REGION.
	ErrS3RegionRequired = errors.New("config: S3_REGION is required when S3_BUCKET is set")
)

// DotEnvFile is the optional file read before the environment is processed.
const DotEnvFile = ".env"

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Storage settings
	WorkDir string `env:"WORK_DIR, default=/tmp/wakeword-trim" json:"work_dir"`
	// InputRoot enables input_dir jobs for directories under it. Empty disables them.
	InputRoot string `env:"INPUT_ROOT" json:"input_root,omitempty"`

	// Trimming settings
	TrimThreshold      float64 `env:"TRIM_THRESHOLD, default=300" json:"trim_threshold"`
	TrimWindowSec      float64 `env:"TRIM_WINDOW_SEC, default=0.1" json:"trim_window_sec"`
	ExpectedSampleRate int     `env:"EXPECTED_SAMPLE_RATE, default=16000" json:"expected_sample_rate"`
	ClipDurationSec    float64 `env:"CLIP_DURATION_SEC, default=0" json:"clip_duration_sec"`
	MaxConcurrentFiles int     `env:"MAX_CONCURRENT_FILES, default=4" json:"max_concurrent_files"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3KeyPrefix        string `env:"S3_KEY_PREFIX, default=trimmed" json:"s3_key_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// TrimOpts returns the default trim options described by the configuration.
func (c *Config) TrimOpts() audio.TrimOpts {
	return audio.TrimOpts{
		Threshold:          c.TrimThreshold,
		WindowSec:          c.TrimWindowSec,
		ExpectedSampleRate: c.ExpectedSampleRate,
		ClipDurationSec:    c.ClipDurationSec,
	}
}

// Load reads an optional .env file from the working directory, then the
// environment, using go-envconfig. Variables already set in the environment
// take precedence over .env entries. The result is validated.
func Load() (*Config, error) {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads path into the environment if it exists.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	switch {
	case c.Port < 1 || c.Port > 65535:
		return ErrInvalidPort
	case c.TrimThreshold < 0:
		return ErrInvalidThreshold
	case c.TrimWindowSec <= 0:
		return ErrInvalidWindow
	case c.ExpectedSampleRate <= 0:
		return ErrInvalidSampleRate
	case c.ClipDurationSec < 0:
		return ErrInvalidClipDuration
	case c.MaxConcurrentFiles <= 0:
		return ErrInvalidConcurrency
	case c.S3Bucket != "" && c.S3Region == "":
		return ErrS3RegionRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
func (c *Config) NewLogger() *slog.Logger {
	return NewLogger(c.LogFormat, c.LogLevel)
}

// NewLogger creates a structured logger writing to stdout.
// When format is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func NewLogger(format, level string) *slog.Logger {
	return newLogger(os.Stdout, format, level)
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, WorkDir: %s, InputRoot: %s, TrimThreshold: %g, TrimWindowSec: %g, ExpectedSampleRate: %d, ClipDurationSec: %g, MaxConcurrentFiles: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.WorkDir,
		c.InputRoot,
		c.TrimThreshold,
		c.TrimWindowSec,
		c.ExpectedSampleRate,
		c.ClipDurationSec,
		c.MaxConcurrentFiles,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.LogFormat,
		c.LogLevel,
	)
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
