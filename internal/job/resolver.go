package job

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/dreamreel-api/internal/apperr"
	"github.com/maauso/dreamreel-api/internal/job/id"
)

// DefaultProviderURLPrefix is the path of the provider download proxy.
const DefaultProviderURLPrefix = "/provider"

// Scheduler queues background completion work.
type Scheduler interface {
	Enqueue(jobID string) error
}

// Resolution is the best known state of one job.
type Resolution struct {
	JobID  string
	Status Status
	// URL is set whenever Status is completed: the cache URL when Cached,
	// otherwise the provider download proxy.
	URL         string
	Cached      bool
	Error       string
	Progress    int
	CompletedAt *time.Time
}

// Completer runs completion work. Recache ignores an existing artifact.
type Completer interface {
	Processor
	Recache(ctx context.Context, jobID string) (string, error)
}

// Submission is the result of Submit.
type Submission struct {
	JobID     string
	Status    Status
	CreatedAt time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithProviderURLPrefix sets the path prefix of provider proxy URLs.
func WithProviderURLPrefix(prefix string) ResolverOption {
	return func(r *Resolver) {
		r.providerURLPrefix = strings.TrimRight(prefix, "/")
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// Resolver is the entry point used by request handlers. It prefers a cached
// artifact over a provider query and schedules caching when it first sees a
// completed job.
type Resolver struct {
	cache             ArtifactStore
	provider          Provider
	worker            Completer
	scheduler         Scheduler
	providerURLPrefix string
	logger            *slog.Logger
}

// NewResolver creates a Resolver. When scheduler is nil, completed jobs are
// handed to worker on a detached goroutine.
func NewResolver(cache ArtifactStore, provider Provider, worker Completer, scheduler Scheduler, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:             cache,
		provider:          provider,
		worker:            worker,
		scheduler:         scheduler,
		providerURLPrefix: DefaultProviderURLPrefix,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Submit validates prompt and creates a provider job.
func (r *Resolver) Submit(ctx context.Context, prompt string) (Submission, error) {
	trimmed, err := ValidatePrompt(prompt)
	if err != nil {
		return Submission{}, err
	}

	res, err := r.provider.Submit(ctx, trimmed)
	if err != nil {
		return Submission{}, err
	}

	return Submission{
		JobID:     res.JobID,
		Status:    StatusPending,
		CreatedAt: res.CreatedAt,
	}, nil
}

// Resolve returns the current state of jobID. The first matching branch wins:
// a cached artifact, then the provider's failed, pending or processing state,
// then provider completion, which also schedules caching without waiting.
func (r *Resolver) Resolve(ctx context.Context, jobID string) (Resolution, error) {
	if err := id.Validate(jobID); err != nil {
		return Resolution{}, err
	}

	if r.cache.Exists(ctx, jobID) {
		r.logger.Debug("artifact cache hit", "job_id", jobID)
		return Resolution{
			JobID:  jobID,
			Status: StatusCompleted,
			URL:    r.cache.URL(jobID),
			Cached: true,
		}, nil
	}

	st, err := r.provider.GetStatus(ctx, jobID)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		JobID:    jobID,
		Status:   fromProvider(st.Status),
		Progress: st.Progress,
	}

	switch res.Status {
	case StatusFailed:
		res.Error = st.Error
		return res, nil
	case StatusCompleted:
		if !st.Downloadable {
			return Resolution{}, apperr.Generation(apperr.CodeCompletedUnretrievable,
				"video completed but its content is no longer retrievable", 0, nil)
		}
		r.schedule(ctx, jobID)
		res.URL = r.providerURLPrefix + "/" + jobID
		res.CompletedAt = st.CompletedAt
		return res, nil
	default:
		return res, nil
	}
}

// TriggerCompletion runs the completion work for jobID and waits for it,
// for callers that want to force (re)caching.
func (r *Resolver) TriggerCompletion(ctx context.Context, jobID string) (string, error) {
	if err := id.Validate(jobID); err != nil {
		return "", err
	}
	return r.worker.Recache(ctx, jobID)
}

func (r *Resolver) schedule(ctx context.Context, jobID string) {
	if r.scheduler != nil {
		if err := r.scheduler.Enqueue(jobID); err != nil {
			r.logger.Warn("failed to schedule completion", "job_id", jobID, "error", err)
		}
		return
	}

	// Use context.WithoutCancel so the work outlives the request
	go func(ctx context.Context, jobID string) {
		if _, err := r.worker.Process(ctx, jobID); err != nil {
			r.logger.Error("background completion failed", "job_id", jobID, "error", err)
		}
	}(context.WithoutCancel(ctx), jobID)
}
