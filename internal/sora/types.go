// Package sora provides an HTTP client for the OpenAI Sora video generation API.
package sora

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Status is the provider job state, normalised to four values.
type Status string

// Normalised job statuses.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// normalizeStatus maps the provider vocabulary onto Status. Unknown values
// are reported as processing with ok=false so the caller can log them.
func normalizeStatus(raw string) (s Status, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return StatusPending, true
	case "in_progress", "processing", "running":
		return StatusProcessing, true
	case "completed", "succeeded":
		return StatusCompleted, true
	case "failed", "cancelled", "canceled", "expired":
		return StatusFailed, true
	default:
		return StatusProcessing, false
	}
}

// SubmitResult is returned by Submit.
type SubmitResult struct {
	JobID     string
	Status    Status
	CreatedAt time.Time
}

// StatusResult contains the result of polling a job's status.
type StatusResult struct {
	JobID     string
	Status    Status
	RawStatus string
	// Progress is the provider's completion percentage, 0-100.
	Progress    int
	Error       string // Error message (only set when Status is StatusFailed)
	CreatedAt   time.Time
	CompletedAt *time.Time
	ExpiresAt   *time.Time
	// Downloadable is true when the job is completed and its content can
	// still be fetched from the provider.
	Downloadable bool
}

// createRequest is the body of POST /videos.
type createRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Seconds string `json:"seconds,omitempty"`
	Size    string `json:"size,omitempty"`
}

// videoResponse is the video object returned by POST /videos and GET /videos/{id}.
type videoResponse struct {
	ID          string          `json:"id"`
	Object      string          `json:"object,omitempty"`
	Model       string          `json:"model,omitempty"`
	Status      string          `json:"status"`
	Progress    float64         `json:"progress,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	CompletedAt *int64          `json:"completed_at,omitempty"`
	ExpiresAt   *int64          `json:"expires_at,omitempty"`
	Error       json.RawMessage `json:"error,omitempty"`
}

// errorEnvelope is the provider's error body.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// jobError extracts a readable message from the status "error" field, which
// is either a plain string or an object.
func jobError(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj apiError
	if err := json.Unmarshal(raw, &obj); err == nil {
		switch {
		case obj.Message != "":
			return obj.Message
		case obj.Code != "":
			return obj.Code
		}
	}
	return string(raw)
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := unixTime(*sec)
	return &t
}
