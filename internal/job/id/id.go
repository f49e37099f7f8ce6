// Package id validates provider job identifiers.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	"github.com/maauso/dreamreel-api/internal/apperr"
)

// pattern is the only accepted job id shape.
var pattern = regexp.MustCompile(`^video_[A-Za-z0-9]{10,50}$`)

// Valid reports whether s is a well-formed job id.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Validate returns a validation error when s is not a well-formed job id.
func Validate(s string) error {
	if s == "" {
		return apperr.Validation(apperr.CodeInvalidJobID, "job ID is required")
	}
	if !Valid(s) {
		return apperr.Validation(apperr.CodeInvalidJobID, "invalid job ID format")
	}
	return nil
}

// Generate creates a random well-formed job id.
// Format: video_<24 hex chars>
// Example: video_a1b2c3d4e5f6a7b8c9d0e1f2
func Generate() string {
	random := make([]byte, 12)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(random)
	return "video_" + hex.EncodeToString(random)
}
