package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/dreamreel-api/internal/apperr"
	"github.com/maauso/dreamreel-api/internal/job"
	"github.com/maauso/dreamreel-api/internal/storage"
)

const testJobID = "video_ab12cd34ef"

// mockService implements VideoService for testing.
type mockService struct {
	mock.Mock
}

func (m *mockService) Submit(ctx context.Context, prompt string) (job.Submission, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(job.Submission), args.Error(1)
}

func (m *mockService) Resolve(ctx context.Context, jobID string) (job.Resolution, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(job.Resolution), args.Error(1)
}

func (m *mockService) TriggerCompletion(ctx context.Context, jobID string) (string, error) {
	args := m.Called(ctx, jobID)
	return args.String(0), args.Error(1)
}

// mockReader implements ArtifactReader for testing.
type mockReader struct {
	mock.Mock
}

func (m *mockReader) GetArtifact(ctx context.Context, jobID string) (*storage.Artifact, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Artifact), args.Error(1)
}

func (m *mockReader) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// mockSource implements VideoSource for testing.
type mockSource struct {
	mock.Mock
}

func (m *mockSource) Download(ctx context.Context, jobID string) ([]byte, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

type fixedDepth int

func (d fixedDepth) QueueDepth() int { return int(d) }

type testDeps struct {
	service *mockService
	videos  *mockReader
	posters *mockReader
	source  *mockSource
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T) (*Handlers, testDeps) {
	t.Helper()
	deps := testDeps{
		service: &mockService{},
		videos:  &mockReader{},
		posters: &mockReader{},
		source:  &mockSource{},
	}
	h := NewHandlers(deps.service, deps.videos, deps.source, testLogger(),
		WithPosterReader(deps.posters),
		WithQueueStats(fixedDepth(3)),
	)
	return h, deps
}

func serve(t *testing.T, h *Handlers, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(h, testLogger(), DefaultConfig())
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandlers(t)

	rec := serve(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.QueueDepth)
}

func TestCreateVideo_Success(t *testing.T) {
	h, deps := newTestHandlers(t)
	created := time.Unix(1700000000, 0).UTC()
	deps.service.On("Submit", mock.Anything, "a lighthouse in a storm").
		Return(job.Submission{JobID: testJobID, Status: job.StatusPending, CreatedAt: created}, nil)

	body, _ := json.Marshal(CreateVideoRequest{Prompt: "a lighthouse in a storm"})
	rec := serve(t, h, http.MethodPost, "/api/videos", body)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp CreateVideoResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, testJobID, resp.JobID)
	assert.Equal(t, "pending", resp.Status)
	assert.True(t, created.Equal(resp.CreatedAt))
}

func TestCreateVideo_InvalidJSON(t *testing.T) {
	h, deps := newTestHandlers(t)

	rec := serve(t, h, http.MethodPost, "/api/videos", []byte("invalid json"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JSON", decodeError(t, rec).Code)
	deps.service.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestCreateVideo_BodyTooLarge(t *testing.T) {
	h, deps := newTestHandlers(t)

	body := []byte(`{"prompt":"` + strings.Repeat("a", maxRequestBodyBytes) + `"}`)
	rec := serve(t, h, http.MethodPost, "/api/videos", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "BODY_TOO_LARGE", decodeError(t, rec).Code)
	deps.service.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestCreateVideo_MissingPrompt(t *testing.T) {
	h, deps := newTestHandlers(t)

	rec := serve(t, h, http.MethodPost, "/api/videos", []byte(`{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidPrompt, decodeError(t, rec).Code)
	deps.service.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestCreateVideo_PromptRejected(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.service.On("Submit", mock.Anything, "short").
		Return(job.Submission{}, apperr.Validation(apperr.CodeInvalidPrompt, "prompt must be at least 10 characters"))

	rec := serve(t, h, http.MethodPost, "/api/videos", []byte(`{"prompt":"short"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, apperr.CodeInvalidPrompt, resp.Code)
	assert.Equal(t, "prompt must be at least 10 characters", resp.Error)
}

func TestVideoStatus(t *testing.T) {
	completed := time.Unix(1700000300, 0).UTC()

	tests := []struct {
		name string
		res  job.Resolution
		want VideoStatusResponse
	}{
		{
			name: "cached",
			res:  job.Resolution{JobID: testJobID, Status: job.StatusCompleted, URL: "/cache/" + testJobID, Cached: true},
			want: VideoStatusResponse{JobID: testJobID, Status: "completed", VideoURL: "/cache/" + testJobID, Cached: true},
		},
		{
			name: "provider completed",
			res:  job.Resolution{JobID: testJobID, Status: job.StatusCompleted, URL: "/provider/" + testJobID, CompletedAt: &completed},
			want: VideoStatusResponse{JobID: testJobID, Status: "completed", VideoURL: "/provider/" + testJobID, CompletedAt: &completed},
		},
		{
			name: "processing",
			res:  job.Resolution{JobID: testJobID, Status: job.StatusProcessing, Progress: 40},
			want: VideoStatusResponse{JobID: testJobID, Status: "processing", Progress: 40},
		},
		{
			name: "failed",
			res:  job.Resolution{JobID: testJobID, Status: job.StatusFailed, Error: "moderation"},
			want: VideoStatusResponse{JobID: testJobID, Status: "failed", Error: "moderation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := newTestHandlers(t)
			deps.service.On("Resolve", mock.Anything, testJobID).Return(tt.res, nil)

			rec := serve(t, h, http.MethodGet, "/api/videos/"+testJobID+"/status", nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			var got VideoStatusResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
			if tt.want.CompletedAt != nil {
				require.NotNil(t, got.CompletedAt)
				assert.True(t, tt.want.CompletedAt.Equal(*got.CompletedAt))
				got.CompletedAt, tt.want.CompletedAt = nil, nil
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVideoStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", apperr.Validation(apperr.CodeInvalidJobID, "invalid job id"), http.StatusBadRequest, apperr.CodeInvalidJobID},
		{"not found", apperr.Generation(apperr.CodeNotFound, "video not found", 404, nil), http.StatusNotFound, apperr.CodeNotFound},
		{"provider error", apperr.Generation("rate_limit_exceeded", "slow down", 429, nil), http.StatusBadGateway, "rate_limit_exceeded"},
		{"unretrievable", apperr.Generation(apperr.CodeCompletedUnretrievable, "expired", 0, nil), http.StatusBadGateway, apperr.CodeCompletedUnretrievable},
		{"missing key", apperr.Generation(apperr.CodeMissingAPIKey, "no key", 0, nil), http.StatusBadGateway, apperr.CodeMissingAPIKey},
		{"storage", apperr.Storage(apperr.CodeStorageRead, "read", errors.New("io")), http.StatusServiceUnavailable, apperr.CodeStorageRead},
		{"transcode", apperr.Transcode(apperr.CodeTranscodeFailed, "ffmpeg", nil), http.StatusInternalServerError, apperr.CodeTranscodeFailed},
		{"untagged", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, deps := newTestHandlers(t)
			deps.service.On("Resolve", mock.Anything, testJobID).Return(job.Resolution{}, tt.err)

			rec := serve(t, h, http.MethodGet, "/api/videos/"+testJobID+"/status", nil)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
		})
	}
}

func TestProcessVideo(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.service.On("TriggerCompletion", mock.Anything, testJobID).Return("/cache/"+testJobID, nil)

		rec := serve(t, h, http.MethodPost, "/api/videos/"+testJobID+"/process", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp ProcessVideoResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, ProcessVideoResponse{Success: true, JobID: testJobID, CachedURL: "/cache/" + testJobID}, resp)
	})

	t.Run("already in flight", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.service.On("TriggerCompletion", mock.Anything, testJobID).
			Return("", job.ErrAlreadyInFlight)

		rec := serve(t, h, http.MethodPost, "/api/videos/"+testJobID+"/process", nil)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, codeAlreadyInFlight, decodeError(t, rec).Code)
	})

	t.Run("download failure", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.service.On("TriggerCompletion", mock.Anything, testJobID).
			Return("", apperr.Generation(apperr.CodeDownloadError, "failed to download video", 500, nil))

		rec := serve(t, h, http.MethodPost, "/api/videos/"+testJobID+"/process", nil)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, apperr.CodeDownloadError, decodeError(t, rec).Code)
	})
}

func TestCachedVideo(t *testing.T) {
	t.Run("serves artifact as attachment", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.videos.On("GetArtifact", mock.Anything, testJobID).
			Return(&storage.Artifact{JobID: testJobID, Data: []byte("mp4"), Size: 3, ContentType: "video/mp4"}, nil)

		rec := serve(t, h, http.MethodGet, "/cache/"+testJobID, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="dream-video-`+testJobID+`.mp4"`, rec.Header().Get("Content-Disposition"))
		assert.Equal(t, "public, max-age=31536000", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "3", rec.Header().Get("Content-Length"))
		assert.Equal(t, "mp4", rec.Body.String())
	})

	t.Run("missing artifact", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.videos.On("GetArtifact", mock.Anything, testJobID).Return(nil, storage.ErrArtifactNotFound)

		rec := serve(t, h, http.MethodGet, "/cache/"+testJobID, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, apperr.CodeNotFound, decodeError(t, rec).Code)
	})

	t.Run("invalid id never touches the cache", func(t *testing.T) {
		h, deps := newTestHandlers(t)

		rec := serve(t, h, http.MethodGet, "/cache/not-a-job", nil)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperr.CodeInvalidJobID, decodeError(t, rec).Code)
		deps.videos.AssertNotCalled(t, "GetArtifact", mock.Anything, mock.Anything)
	})
}

func TestProviderVideo(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.source.On("Download", mock.Anything, testJobID).Return([]byte("raw"), nil)

	rec := serve(t, h, http.MethodGet, "/provider/"+testJobID, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "raw", rec.Body.String())
}

func TestPoster(t *testing.T) {
	t.Run("serves jpeg", func(t *testing.T) {
		h, deps := newTestHandlers(t)
		deps.posters.On("GetArtifact", mock.Anything, testJobID).
			Return(&storage.Artifact{JobID: testJobID, Data: []byte("jpeg")}, nil)

		rec := serve(t, h, http.MethodGet, "/posters/"+testJobID, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	})

	t.Run("disabled", func(t *testing.T) {
		h := NewHandlers(&mockService{}, &mockReader{}, &mockSource{}, testLogger())

		rec := serve(t, h, http.MethodGet, "/posters/"+testJobID, nil)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListArtifacts(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.videos.On("List", mock.Anything).Return([]string{"video_aaaaaaaaaa", testJobID}, nil)

	rec := serve(t, h, http.MethodGet, "/api/artifacts", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp ArtifactListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"video_aaaaaaaaaa", testJobID}, resp.JobIDs)
}

func TestRequestIDMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
	})

	t.Run("available in context", func(t *testing.T) {
		var seen string
		handler := RequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = RequestIDFromContext(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-456")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, "req-456", seen)
	})
}

func TestCORSMiddleware(t *testing.T) {
	h, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), Config{AllowedOrigins: []string{"https://example.com"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/videos", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec).Code)
}
