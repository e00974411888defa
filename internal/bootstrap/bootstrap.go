// Package bootstrap wires the composition service from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/mediacompose-api/internal/compose"
	"github.com/maauso/mediacompose-api/internal/config"
	"github.com/maauso/mediacompose-api/internal/job"
	"github.com/maauso/mediacompose-api/internal/media"
	"github.com/maauso/mediacompose-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	ComposeService *job.ComposeService
	Storage        storage.Storage
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	inspector := media.NewFFprobeInspector(cfg.FFprobePath)
	engine := media.NewFFmpegEngine(cfg.FFmpegPath)
	repo := job.NewMemoryRepository()

	svc := job.NewComposeService(
		repo,
		inspector,
		engine,
		store,
		job.WithLogger(logger),
		job.WithMaxConcurrentJobs(cfg.MaxConcurrentJobs),
		job.WithJobTimeout(cfg.JobTimeout),
		job.WithBuilderOptions(compose.WithMaxConcurrentProbes(cfg.MaxConcurrentProbes)),
	)

	return &Dependencies{
		ComposeService: svc,
		Storage:        store,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
