// Package bootstrap provides dependency initialization for the dream video API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/maauso/dreamreel-api/internal/config"
	"github.com/maauso/dreamreel-api/internal/inflight"
	"github.com/maauso/dreamreel-api/internal/job"
	"github.com/maauso/dreamreel-api/internal/media"
	"github.com/maauso/dreamreel-api/internal/sora"
	"github.com/maauso/dreamreel-api/internal/storage"
)

// Namespace of poster images in the blob store.
const posterNamespace = "posters"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Resolver   *job.Resolver
	Dispatcher *job.Dispatcher
	Videos     *storage.ArtifactCache
	// Posters is nil when poster extraction is disabled.
	Posters  *storage.ArtifactCache
	Provider *sora.HTTPClient

	redis *redis.Client
}

// NewDependencies creates and initializes all dependencies for the application.
// The dispatcher is returned unstarted.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	blobs, err := initBlobStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	videos := storage.NewArtifactCache(blobs,
		storage.WithNamespace(storage.DefaultNamespace),
		storage.WithURLPrefix(storage.DefaultURLPrefix),
		storage.WithLogger(logger),
	)

	provider := initProvider(cfg, logger)
	transcoder := media.NewFFmpegTranscoder(cfg.FFmpegPath, logger)

	deps := &Dependencies{
		Videos:   videos,
		Provider: provider,
	}

	workerOpts := []job.WorkerOption{
		job.WithCompression(cfg.CompressEnabled, cfg.CompressionProfile()),
		job.WithWorkerLogger(logger),
	}

	if cfg.PosterEnabled {
		deps.Posters = storage.NewArtifactCache(blobs,
			storage.WithNamespace(posterNamespace),
			storage.WithURLPrefix("/"+posterNamespace),
			storage.WithLogger(logger),
		)
		workerOpts = append(workerOpts, job.WithPosters(deps.Posters, cfg.PosterWidth))
	}

	guard, client := initGuard(ctx, cfg, logger)
	deps.redis = client
	workerOpts = append(workerOpts, job.WithGuard(guard))

	worker := job.NewCompletionWorker(provider, transcoder, videos, workerOpts...)
	deps.Dispatcher = job.NewDispatcher(worker, cfg.WorkerCount, cfg.QueueSize, logger)
	deps.Resolver = job.NewResolver(videos, provider, worker, deps.Dispatcher,
		job.WithResolverLogger(logger),
	)

	return deps, nil
}

// Close releases connections held by the dependencies.
func (d *Dependencies) Close() error {
	var errs []error
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// initBlobStore creates the appropriate storage backend based on configuration.
func initBlobStore(cfg *config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3BlobStore(storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 blob store: %w", err)
		}
		logger.Info("S3 blob store configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("endpoint", cfg.S3Endpoint),
		)
		return s3Store, nil
	}

	local, err := storage.NewLocalBlobStore(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("create local blob store: %w", err)
	}
	logger.Info("local blob store configured",
		slog.String("cache_dir", local.Root()),
	)
	return local, nil
}

func initProvider(cfg *config.Config, logger *slog.Logger) *sora.HTTPClient {
	opts := []sora.ClientOption{
		sora.WithAPIKey(cfg.OpenAIAPIKey),
		sora.WithBaseURL(cfg.OpenAIBaseURL),
		sora.WithModel(cfg.SoraModel),
		sora.WithRetryPolicy(cfg.RetryPolicy()),
		sora.WithLogger(logger),
	}
	if cfg.SoraSeconds > 0 {
		opts = append(opts, sora.WithSeconds(cfg.SoraSeconds))
	}
	if cfg.SoraSize != "" {
		opts = append(opts, sora.WithSize(cfg.SoraSize))
	}
	if cfg.PromptPrefix != "" {
		opts = append(opts, sora.WithPromptPrefix(cfg.PromptPrefix))
	}
	return sora.NewClient(opts...)
}

// initGuard returns the Redis marker when REDIS_ADDR is set and reachable,
// otherwise the in-process one.
func initGuard(ctx context.Context, cfg *config.Config, logger *slog.Logger) (inflight.Guard, *redis.Client) {
	if !cfg.RedisEnabled() {
		return inflight.NewMemoryGuard(cfg.InFlightTTL), nil
	}

	client, err := inflight.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, using in-process in-flight marker",
			slog.String("redis_addr", cfg.RedisAddr),
			slog.String("error", err.Error()),
		)
		return inflight.NewMemoryGuard(cfg.InFlightTTL), nil
	}

	logger.Info("redis in-flight marker configured",
		slog.String("redis_addr", cfg.RedisAddr),
		slog.Duration("ttl", cfg.InFlightTTL),
	)
	return inflight.NewRedisGuard(client, cfg.InFlightTTL), client
}
