package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/dreamreel-api/internal/apperr"
	"github.com/maauso/dreamreel-api/internal/job"
	"github.com/maauso/dreamreel-api/internal/job/id"
	"github.com/maauso/dreamreel-api/internal/storage"
)

const (
	// codeAlreadyInFlight is reported when a forced completion races a running one.
	codeAlreadyInFlight = "ALREADY_IN_FLIGHT"
	// maxRequestBodyBytes caps JSON request bodies.
	maxRequestBodyBytes = 1 << 16
)

// VideoService is the job-level API the handlers drive.
type VideoService interface {
	Submit(ctx context.Context, prompt string) (job.Submission, error)
	Resolve(ctx context.Context, jobID string) (job.Resolution, error)
	TriggerCompletion(ctx context.Context, jobID string) (string, error)
}

// ArtifactReader reads a namespace of the artifact cache.
type ArtifactReader interface {
	GetArtifact(ctx context.Context, jobID string) (*storage.Artifact, error)
	List(ctx context.Context) ([]string, error)
}

// VideoSource downloads finished videos from the provider.
type VideoSource interface {
	Download(ctx context.Context, jobID string) ([]byte, error)
}

// QueueStats reports background queue depth.
type QueueStats interface {
	QueueDepth() int
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   VideoService
	videos    ArtifactReader
	posters   ArtifactReader
	source    VideoSource
	queue     QueueStats
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPosterReader enables GET /posters/{id}.
func WithPosterReader(posters ArtifactReader) HandlerOption {
	return func(h *Handlers) {
		h.posters = posters
	}
}

// WithQueueStats reports queue depth on /health.
func WithQueueStats(q QueueStats) HandlerOption {
	return func(h *Handlers) {
		h.queue = q
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service VideoService, videos ArtifactReader, source VideoSource, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		videos:    videos,
		source:    source,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.queue != nil {
		resp.QueueDepth = h.queue.QueueDepth()
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVideo handles POST /api/videos requests.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "prompt is required", apperr.CodeInvalidPrompt)
		return
	}

	sub, err := h.service.Submit(r.Context(), req.Prompt)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	h.logger.Info("video submitted", slog.String("job_id", sub.JobID))

	writeJSON(w, http.StatusOK, CreateVideoResponse{
		JobID:     sub.JobID,
		Status:    string(sub.Status),
		CreatedAt: sub.CreatedAt,
	})
}

// VideoStatus handles GET /api/videos/{id}/status requests.
func (h *Handlers) VideoStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, VideoStatusResponse{
		JobID:       res.JobID,
		Status:      string(res.Status),
		VideoURL:    res.URL,
		Cached:      res.Cached,
		Error:       res.Error,
		Progress:    res.Progress,
		CompletedAt: res.CompletedAt,
	})
}

// ProcessVideo handles POST /api/videos/{id}/process requests. It blocks
// until the video is downloaded, compressed and cached.
func (h *Handlers) ProcessVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	url, err := h.service.TriggerCompletion(r.Context(), jobID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProcessVideoResponse{
		Success:   true,
		JobID:     jobID,
		CachedURL: url,
	})
}

// CachedVideo handles GET /cache/{id} requests.
func (h *Handlers) CachedVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := id.Validate(jobID); err != nil {
		h.writeAppError(w, r, err)
		return
	}

	a, err := h.videos.GetArtifact(r.Context(), jobID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = job.VideoContentType
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dream-video-%s.mp4"`, jobID))
	w.Header().Set("Cache-Control", "public, max-age=31536000")
	writeBytes(w, contentType, a.Data)
}

// ProviderVideo handles GET /provider/{id} by proxying the provider download.
func (h *Handlers) ProviderVideo(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := id.Validate(jobID); err != nil {
		h.writeAppError(w, r, err)
		return
	}

	data, err := h.source.Download(r.Context(), jobID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="dream-video-%s.mp4"`, jobID))
	w.Header().Set("Cache-Control", "no-store")
	writeBytes(w, job.VideoContentType, data)
}

// Poster handles GET /posters/{id} requests.
func (h *Handlers) Poster(w http.ResponseWriter, r *http.Request) {
	if h.posters == nil {
		writeError(w, http.StatusNotFound, "posters are disabled", apperr.CodeNotFound)
		return
	}

	jobID := r.PathValue("id")
	if err := id.Validate(jobID); err != nil {
		h.writeAppError(w, r, err)
		return
	}

	a, err := h.posters.GetArtifact(r.Context(), jobID)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000")
	writeBytes(w, "image/jpeg", a.Data)
}

// ListArtifacts handles GET /api/artifacts requests.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	ids, err := h.videos.List(r.Context())
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ArtifactListResponse{JobIDs: ids})
}

// writeAppError maps err onto a status code and writes the error body.
func (h *Handlers) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)

	attrs := []any{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", code),
		slog.String("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}

	writeError(w, status, msg, code)
}

// errorStatus returns the HTTP status, code and client message for err.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, storage.ErrArtifactNotFound):
		return http.StatusNotFound, apperr.CodeNotFound, "artifact not found"
	case errors.Is(err, job.ErrAlreadyInFlight):
		return http.StatusConflict, codeAlreadyInFlight, "completion already in progress"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "request timed out"
	}

	e, ok := apperr.As(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}

	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, e.Code, e.Message
	case apperr.KindGeneration:
		if e.Code == apperr.CodeNotFound {
			return http.StatusNotFound, e.Code, e.Message
		}
		return http.StatusBadGateway, e.Code, e.Message
	case apperr.KindStorage:
		return http.StatusServiceUnavailable, e.Code, e.Message
	case apperr.KindTranscode:
		return http.StatusInternalServerError, e.Code, e.Message
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeBytes writes a binary 200 response.
func writeBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("failed to write response body", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
