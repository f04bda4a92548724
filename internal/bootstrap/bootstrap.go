// Package bootstrap provides dependency initialization for the trimming service.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/wakeword-trim/internal/audio"
	"github.com/maauso/wakeword-trim/internal/config"
	"github.com/maauso/wakeword-trim/internal/job"
	"github.com/maauso/wakeword-trim/internal/metrics"
	"github.com/maauso/wakeword-trim/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	TrimService *job.TrimService
	Metrics     *metrics.Metrics
	Storage     storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	repo := job.NewMemoryRepository()

	svc := job.NewTrimService(
		repo,
		audio.NewPCMTrimmer(),
		store,
		logger,
		job.WithDefaults(cfg.TrimOpts()),
		job.WithMaxConcurrentFiles(cfg.MaxConcurrentFiles),
		job.WithMetrics(m),
		job.WithInputRoot(cfg.InputRoot),
		job.WithS3(cfg.S3Enabled()),
	)

	return &Dependencies{
		TrimService: svc,
		Metrics:     m,
		Storage:     store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			KeyPrefix:       cfg.S3KeyPrefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.WorkDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("key_prefix", cfg.S3KeyPrefix),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("work_dir", cfg.WorkDir),
	)
	return localStore, nil
}
