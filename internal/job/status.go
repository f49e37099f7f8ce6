// Package job resolves provider job state against the artifact cache and
// runs the background work that downloads, re-encodes and stores finished
// videos.
package job

import "github.com/maauso/dreamreel-api/internal/sora"

// Status is the job state reported to clients.
type Status string

const (
	// StatusPending indicates the provider has queued the job.
	StatusPending Status = "pending"
	// StatusProcessing indicates the provider is rendering.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates a playable video exists.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the provider gave up on the job.
	StatusFailed Status = "failed"
)

// fromProvider maps the provider's normalised status.
func fromProvider(s sora.Status) Status {
	switch s {
	case sora.StatusPending:
		return StatusPending
	case sora.StatusCompleted:
		return StatusCompleted
	case sora.StatusFailed:
		return StatusFailed
	default:
		return StatusProcessing
	}
}
