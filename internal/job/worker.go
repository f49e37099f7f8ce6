package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/dreamreel-api/internal/inflight"
	"github.com/maauso/dreamreel-api/internal/job/id"
	"github.com/maauso/dreamreel-api/internal/media"
	"github.com/maauso/dreamreel-api/internal/sora"
)

// VideoContentType is the MIME type of every stored video.
const VideoContentType = "video/mp4"

// ErrAlreadyInFlight is returned when another run holds the job's marker.
var ErrAlreadyInFlight = errors.New("job: completion already in flight")

// ArtifactStore is the part of the artifact cache the pipeline needs.
type ArtifactStore interface {
	Put(ctx context.Context, jobID string, data []byte, contentType string) (string, error)
	Exists(ctx context.Context, jobID string) bool
	URL(jobID string) string
}

// Compile-time check that sora.Client satisfies Provider.
var _ Provider = (sora.Client)(nil)

// Provider is the upstream generation service.
type Provider interface {
	Submit(ctx context.Context, prompt string) (sora.SubmitResult, error)
	GetStatus(ctx context.Context, jobID string) (sora.StatusResult, error)
	Download(ctx context.Context, jobID string) ([]byte, error)
}

// WorkerOption configures a CompletionWorker.
type WorkerOption func(*CompletionWorker)

// WithCompression enables re-encoding with profile before storing.
func WithCompression(enabled bool, profile media.Profile) WorkerOption {
	return func(w *CompletionWorker) {
		w.compress = enabled
		w.profile = profile
	}
}

// WithPosters stores a JPEG poster of width pixels in posters after each run.
// A nil store or non-positive width disables posters.
func WithPosters(posters ArtifactStore, width int) WorkerOption {
	return func(w *CompletionWorker) {
		w.posters = posters
		w.posterWidth = width
	}
}

// WithGuard sets the in-flight marker used to skip duplicate runs.
func WithGuard(g inflight.Guard) WorkerOption {
	return func(w *CompletionWorker) {
		w.guard = g
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *CompletionWorker) {
		w.logger = l
	}
}

// CompletionWorker downloads a finished video, optionally re-encodes it and
// writes it to the artifact cache.
type CompletionWorker struct {
	provider    Provider
	transcoder  media.Transcoder
	videos      ArtifactStore
	posters     ArtifactStore
	posterWidth int
	guard       inflight.Guard
	compress    bool
	profile     media.Profile
	logger      *slog.Logger
}

// NewCompletionWorker creates a CompletionWorker. Compression is on with
// media.DefaultProfile unless overridden.
func NewCompletionWorker(provider Provider, transcoder media.Transcoder, videos ArtifactStore, opts ...WorkerOption) *CompletionWorker {
	w := &CompletionWorker{
		provider:   provider,
		transcoder: transcoder,
		videos:     videos,
		compress:   true,
		profile:    media.DefaultProfile(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Process runs download, compress and store for jobID and returns the
// cached URL. Steps run strictly in order. When the in-flight marker is
// held elsewhere it returns ErrAlreadyInFlight without doing any work, and
// when the artifact is already cached it returns its URL.
func (w *CompletionWorker) Process(ctx context.Context, jobID string) (string, error) {
	return w.run(ctx, jobID, false)
}

// Recache is Process without the cached-artifact shortcut: the video is
// downloaded and stored again even if an artifact exists.
func (w *CompletionWorker) Recache(ctx context.Context, jobID string) (string, error) {
	return w.run(ctx, jobID, true)
}

func (w *CompletionWorker) run(ctx context.Context, jobID string, force bool) (string, error) {
	if err := id.Validate(jobID); err != nil {
		return "", err
	}

	logger := w.logger.With("job_id", jobID, "run_id", uuid.NewString())

	if w.guard != nil {
		release, err := w.guard.Acquire(ctx, jobID)
		switch {
		case errors.Is(err, inflight.ErrHeld):
			logger.Info("completion already in flight, skipping")
			return "", fmt.Errorf("%w: %s", ErrAlreadyInFlight, jobID)
		case err != nil:
			// Without a marker we may duplicate work, which is safe.
			logger.Warn("in-flight marker unavailable, continuing without it", "error", err)
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					logger.Warn("failed to release in-flight marker", "error", err)
				}
			}()
		}
	}

	// A run that finished while this one waited for the marker already did the work.
	if !force && w.videos.Exists(ctx, jobID) {
		logger.Info("artifact already cached, skipping")
		return w.videos.URL(jobID), nil
	}

	start := time.Now()
	logger.Info("completion started", "forced", force)

	raw, err := w.provider.Download(ctx, jobID)
	if err != nil {
		return "", err
	}

	data := raw
	if w.compress && w.transcoder != nil {
		out, _, err := w.transcoder.Compress(ctx, raw, w.profile)
		if err != nil {
			return "", err
		}
		data = out
	}

	url, err := w.videos.Put(ctx, jobID, data, VideoContentType)
	if err != nil {
		return "", err
	}

	w.storePoster(ctx, logger, jobID, data)

	logger.Info("completion finished",
		"cached_url", url,
		"raw_size", len(raw),
		"stored_size", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return url, nil
}

// storePoster is best effort: failures are logged and never fail the run.
func (w *CompletionWorker) storePoster(ctx context.Context, logger *slog.Logger, jobID string, video []byte) {
	if w.posters == nil || w.posterWidth <= 0 || w.transcoder == nil {
		return
	}

	jpeg, err := w.transcoder.Poster(ctx, video, w.posterWidth)
	if err != nil {
		logger.Warn("poster extraction failed", "error", err)
		return
	}
	if _, err := w.posters.Put(ctx, jobID, jpeg, "image/jpeg"); err != nil {
		logger.Warn("poster store failed", "error", err)
	}
}
