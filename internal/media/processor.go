// Package media re-encodes generated videos and extracts poster frames.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Transcoder defines the interface for video re-encoding operations.
// Implementations should use ffmpeg or similar tools for media manipulation.
type Transcoder interface {
	// Compress re-encodes raw video bytes according to profile and returns
	// the smaller result along with size statistics.
	Compress(ctx context.Context, raw []byte, profile Profile) ([]byte, Stats, error)

	// Poster extracts the first frame of video, scales it to fit within
	// width pixels and returns it JPEG encoded.
	Poster(ctx context.Context, video []byte, width int) ([]byte, error)
}

// Profile controls the size/quality trade-off of a re-encode.
type Profile struct {
	// CRF is the x264 constant rate factor. Lower is better quality.
	CRF int `validate:"gte=0,lte=51"`
	// Preset is the x264 encoder preset.
	Preset string `validate:"oneof=ultrafast superfast veryfast faster fast medium slow slower veryslow"`
	// MaxDimension bounds the long edge of the output in pixels.
	MaxDimension int `validate:"gte=16,lte=4096"`
	// AudioBitrate is passed to the AAC encoder, e.g. "64k".
	AudioBitrate string `validate:"required,endswith=k"`
}

// DefaultProfile returns the mobile-friendly profile used for cached videos.
func DefaultProfile() Profile {
	return Profile{
		CRF:          23,
		Preset:       "medium",
		MaxDimension: 854,
		AudioBitrate: "64k",
	}
}

var validate = validator.New()

// Validate checks that every field is within the encoder's accepted range.
func (p Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid compression profile: %w", err)
	}
	return nil
}

// Stats describes the effect of one Compress call.
type Stats struct {
	InputSize  int
	OutputSize int
	// Ratio is 1 - OutputSize/InputSize. Negative when the output grew.
	Ratio    float64
	Duration time.Duration
}

func newStats(in, out int, d time.Duration) Stats {
	s := Stats{InputSize: in, OutputSize: out, Duration: d}
	if in > 0 {
		s.Ratio = 1 - float64(out)/float64(in)
	}
	return s
}
