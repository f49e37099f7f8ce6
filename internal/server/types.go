// Package server provides the HTTP surface of the dream video service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// CreateVideoRequest is the HTTP request body for starting a generation.
type CreateVideoRequest struct {
	// Prompt is the dream description. Length bounds are enforced by the
	// job package after trimming.
	Prompt string `json:"prompt" validate:"required"`
}

// CreateVideoResponse is the HTTP response after submitting a prompt.
type CreateVideoResponse struct {
	JobID     string    `json:"jobId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// VideoStatusResponse is the HTTP response for a status query.
type VideoStatusResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
	// VideoURL is the cache URL when Cached, otherwise the provider proxy.
	VideoURL    string     `json:"videoUrl,omitempty"`
	Cached      bool       `json:"cached"`
	Error       string     `json:"error,omitempty"`
	Progress    int        `json:"progress,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ProcessVideoResponse is the HTTP response after a forced completion.
type ProcessVideoResponse struct {
	Success   bool   `json:"success"`
	JobID     string `json:"jobId"`
	CachedURL string `json:"cachedUrl"`
}

// ArtifactListResponse lists cached job ids.
type ArtifactListResponse struct {
	JobIDs []string `json:"jobIds"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status     string `json:"status"`
	QueueDepth int    `json:"queue_depth"`
}
