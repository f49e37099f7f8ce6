package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maauso/dreamreel-api/internal/apperr"
	"github.com/maauso/dreamreel-api/internal/retry"
)

// Defaults for the HTTP client.
const (
	DefaultBaseURL          = "https://api.openai.com/v1"
	DefaultModel            = "sora-2"
	DefaultPromptPrefix     = "Cinematic dream sequence: "
	DefaultMaxDownloadBytes = 512 << 20
)

// Static errors for Sora client operations.
var (
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("sora: job ID is required")
	// ErrNoJobIDReturned is returned when the submit response contains no job ID.
	ErrNoJobIDReturned = errors.New("sora: submit failed: no job ID returned")
	// ErrDownloadTooLarge is returned when the content exceeds the download cap.
	ErrDownloadTooLarge = errors.New("sora: download exceeds size limit")
)

// Client defines the interface for interacting with the Sora API.
type Client interface {
	// Submit creates a generation job for prompt.
	Submit(ctx context.Context, prompt string) (SubmitResult, error)

	// GetStatus returns the current state of a job.
	GetStatus(ctx context.Context, jobID string) (StatusResult, error)

	// Download fetches the raw bytes of a completed job.
	Download(ctx context.Context, jobID string) ([]byte, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the HTTP implementation of the Sora Client interface.
type HTTPClient struct {
	apiKey           string
	baseURL          string
	model            string
	seconds          int
	size             string
	promptPrefix     string
	httpClient       *http.Client
	policy           retry.Policy
	maxDownloadBytes int64
	logger           *slog.Logger
	now              func() time.Time
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimRight(u, "/")
	}
}

// WithModel selects the generation model.
func WithModel(model string) ClientOption {
	return func(hc *HTTPClient) {
		hc.model = model
	}
}

// WithSeconds sets the requested clip length. Zero leaves it to the provider.
func WithSeconds(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.seconds = n
	}
}

// WithSize sets the requested resolution, e.g. "720x1280".
func WithSize(size string) ClientOption {
	return func(hc *HTTPClient) {
		hc.size = size
	}
}

// WithPromptPrefix sets the text prepended to every prompt.
func WithPromptPrefix(prefix string) ClientOption {
	return func(hc *HTTPClient) {
		hc.promptPrefix = prefix
	}
}

// WithRetryPolicy sets the retry policy applied to every call.
func WithRetryPolicy(p retry.Policy) ClientOption {
	return func(hc *HTTPClient) {
		hc.policy = p
	}
}

// WithMaxDownloadBytes caps the size of a downloaded video.
func WithMaxDownloadBytes(n int64) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxDownloadBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(hc *HTTPClient) {
		hc.logger = l
	}
}

// NewClient creates a new Sora HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable OPENAI_API_KEY. A client without
// a key is still returned; every call then fails with MISSING_API_KEY.
func NewClient(opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:          DefaultBaseURL,
		model:            DefaultModel,
		promptPrefix:     DefaultPromptPrefix,
		httpClient:       &http.Client{Timeout: 5 * time.Minute},
		policy:           retry.DefaultPolicy(),
		maxDownloadBytes: DefaultMaxDownloadBytes,
		logger:           slog.Default(),
		now:              time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	// If API key was not set via option, try environment variable
	if c.apiKey == "" {
		c.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.policy.Logger == nil {
		c.policy.Logger = c.logger
	}

	return c
}

// Submit creates a generation job. The configured prefix is prepended to prompt.
func (c *HTTPClient) Submit(ctx context.Context, prompt string) (SubmitResult, error) {
	if err := c.checkKey(); err != nil {
		return SubmitResult{}, err
	}

	reqBody := createRequest{
		Model:  c.model,
		Prompt: c.promptPrefix + prompt,
		Size:   c.size,
	}
	if c.seconds > 0 {
		reqBody.Seconds = strconv.Itoa(c.seconds)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("sora: marshal request: %w", err)
	}

	c.logger.Info("creating video job", "prompt_length", len(prompt), "model", c.model)

	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (videoResponse, error) {
		var out videoResponse
		err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/videos", bodyBytes, &out, "")
		return out, err
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if resp.ID == "" {
		return SubmitResult{}, apperr.Generation(apperr.CodeAPIError, "submit failed", 0, ErrNoJobIDReturned)
	}

	c.logger.Info("video job created", "job_id", resp.ID)

	created := c.now().UTC()
	if resp.CreatedAt > 0 {
		created = unixTime(resp.CreatedAt)
	}
	return SubmitResult{
		JobID:     resp.ID,
		Status:    StatusPending,
		CreatedAt: created,
	}, nil
}

// GetStatus returns the current state of a job. A 404 maps to NOT_FOUND.
func (c *HTTPClient) GetStatus(ctx context.Context, jobID string) (StatusResult, error) {
	if err := c.checkKey(); err != nil {
		return StatusResult{}, err
	}
	if jobID == "" {
		return StatusResult{}, apperr.Validation(apperr.CodeInvalidJobID, ErrJobIDRequired.Error())
	}

	endpoint := c.baseURL + "/videos/" + url.PathEscape(jobID)

	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (videoResponse, error) {
		var out videoResponse
		err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &out, "video job not found")
		return out, err
	})
	if err != nil {
		return StatusResult{}, err
	}

	status, known := normalizeStatus(resp.Status)
	if !known {
		c.logger.Warn("unknown provider status, treating as processing",
			"job_id", jobID,
			"status", resp.Status,
		)
	}

	result := StatusResult{
		JobID:       resp.ID,
		Status:      status,
		RawStatus:   resp.Status,
		Progress:    clampProgress(resp.Progress),
		CompletedAt: unixTimePtr(resp.CompletedAt),
		ExpiresAt:   unixTimePtr(resp.ExpiresAt),
	}
	if resp.CreatedAt > 0 {
		result.CreatedAt = unixTime(resp.CreatedAt)
	}

	switch status {
	case StatusCompleted:
		result.Progress = 100
		result.Downloadable = resp.ID != "" &&
			(result.ExpiresAt == nil || result.ExpiresAt.After(c.now()))
	case StatusFailed:
		result.Error = jobError(resp.Error)
		if result.Error == "" {
			result.Error = "video generation " + strings.ToLower(resp.Status)
		}
	}

	c.logger.Debug("video status retrieved", "job_id", jobID, "status", status, "progress", result.Progress)

	return result, nil
}

// Download fetches the raw video bytes of a completed job.
func (c *HTTPClient) Download(ctx context.Context, jobID string) ([]byte, error) {
	if err := c.checkKey(); err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, apperr.Validation(apperr.CodeInvalidJobID, ErrJobIDRequired.Error())
	}

	endpoint := c.baseURL + "/videos/" + url.PathEscape(jobID) + "/content"

	c.logger.Info("downloading video", "job_id", jobID)

	data, err := retry.Do(ctx, c.policy, func(ctx context.Context) ([]byte, error) {
		return c.download(ctx, endpoint)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("video downloaded", "job_id", jobID, "size", len(data))
	return data, nil
}

func (c *HTTPClient) download(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("sora: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Generation(apperr.CodeDownloadError, "download failed", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, apperr.Generation(apperr.CodeDownloadError, "failed to download video", resp.StatusCode, nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxDownloadBytes+1))
	if err != nil {
		return nil, apperr.Generation(apperr.CodeDownloadError, "read video body", 0, err)
	}
	if int64(len(data)) > c.maxDownloadBytes {
		return nil, apperr.Generation(apperr.CodeDownloadError, "download failed", 0,
			fmt.Errorf("%w: %d bytes", ErrDownloadTooLarge, c.maxDownloadBytes))
	}
	return data, nil
}

// doJSON performs a single JSON request. notFoundMsg, when set, turns a 404
// into NOT_FOUND instead of a generic provider error.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body []byte, result interface{}, notFoundMsg string) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("sora: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Generation(apperr.CodeAPIError, "request failed", 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Generation(apperr.CodeAPIError, "read response", 0, err)
	}

	// Handle non-2xx status codes
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusNotFound && notFoundMsg != "" {
			return apperr.Generation(apperr.CodeNotFound, notFoundMsg, resp.StatusCode, nil)
		}
		return providerError(resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return apperr.Generation(apperr.CodeAPIError, "unmarshal response", 0, err)
		}
	}

	return nil
}

// providerError keeps the provider's error code, falling back to API_ERROR.
func providerError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return apperr.Generation(env.Error.Code, env.Error.Message, status, nil)
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return apperr.Generation(apperr.CodeAPIError, fmt.Sprintf("provider returned %d: %s", status, msg), status, nil)
}

func (c *HTTPClient) checkKey() error {
	if c.apiKey == "" {
		return apperr.Generation(apperr.CodeMissingAPIKey, "OPENAI_API_KEY is not configured", 0, nil)
	}
	return nil
}

func clampProgress(p float64) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return int(p)
	}
}
