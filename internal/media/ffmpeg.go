package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/maauso/dreamreel-api/internal/apperr"
)

// Static errors for media operations.
var (
	// ErrEmptyInput is returned when there are no bytes to process.
	ErrEmptyInput = errors.New("media: empty input")
	// ErrInvalidWidth is returned when the poster width is not positive.
	ErrInvalidWidth = errors.New("media: poster width must be positive")
)

const posterJPEGQuality = 85

// Compile-time check that FFmpegTranscoder implements Transcoder.
var _ Transcoder = (*FFmpegTranscoder)(nil)

// FFmpegTranscoder implements Transcoder using the ffmpeg CLI.
type FFmpegTranscoder struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegTranscoder(ffmpegPath string, logger *slog.Logger) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, logger: logger}
}

// Compress scales the video so its long edge is at most profile.MaxDimension,
// re-encodes it with libx264/aac and moves the moov atom to the front so
// playback can start before the download finishes.
func (t *FFmpegTranscoder) Compress(ctx context.Context, raw []byte, profile Profile) ([]byte, Stats, error) {
	if err := profile.Validate(); err != nil {
		return nil, Stats{}, apperr.Transcode(apperr.CodeTranscodeInvalidProfile, "invalid profile", err)
	}
	if len(raw) == 0 {
		return nil, Stats{}, apperr.Transcode(apperr.CodeTranscodeFailed, "compress", ErrEmptyInput)
	}

	dir, err := os.MkdirTemp("", "dreamreel-transcode-*")
	if err != nil {
		return nil, Stats{}, apperr.Transcode(apperr.CodeTranscodeFailed, "create work dir", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "input.mp4")
	output := filepath.Join(dir, "output.mp4")
	if err := os.WriteFile(input, raw, 0600); err != nil {
		return nil, Stats{}, apperr.Transcode(apperr.CodeTranscodeFailed, "write input", err)
	}

	start := time.Now()
	args := []string{
		"-y",        // Overwrite output file without asking
		"-i", input, // Input file
		"-vf", scaleFilter(profile.MaxDimension), // Bound the long edge
		"-c:v", "libx264",
		"-crf", strconv.Itoa(profile.CRF),
		"-preset", profile.Preset,
		"-tune", "fastdecode",
		"-pix_fmt", "yuv420p", // Pixel format for compatibility
		"-c:a", "aac",
		"-b:a", profile.AudioBitrate,
		"-movflags", "+faststart",
		output,
	}
	if err := t.runFFmpeg(ctx, args); err != nil {
		return nil, Stats{}, err
	}

	out, err := os.ReadFile(output) // #nosec G304 - output lives in our own temp dir
	if err != nil {
		return nil, Stats{}, apperr.Transcode(apperr.CodeTranscodeFailed, "read output", err)
	}

	stats := newStats(len(raw), len(out), time.Since(start))
	t.logger.Info("video compressed",
		"input_size", stats.InputSize,
		"output_size", stats.OutputSize,
		"ratio", fmt.Sprintf("%.1f%%", stats.Ratio*100),
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return out, stats, nil
}

// Poster grabs the first frame with ffmpeg, then fits it into a width×width
// box and encodes it as JPEG.
func (t *FFmpegTranscoder) Poster(ctx context.Context, video []byte, width int) ([]byte, error) {
	if width <= 0 {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "poster", fmt.Errorf("%w: got %d", ErrInvalidWidth, width))
	}
	if len(video) == 0 {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "poster", ErrEmptyInput)
	}

	dir, err := os.MkdirTemp("", "dreamreel-poster-*")
	if err != nil {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "create work dir", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "input.mp4")
	frame := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(input, video, 0600); err != nil {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "write input", err)
	}

	args := []string{
		"-y",
		"-i", input,
		"-frames:v", "1", // Output single frame (image)
		frame,
	}
	if err := t.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	src, err := imaging.Open(frame)
	if err != nil {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "open frame", err)
	}

	thumb := imaging.Fit(src, width, width, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(posterJPEGQuality)); err != nil {
		return nil, apperr.Transcode(apperr.CodePosterFailed, "encode poster", err)
	}

	t.logger.Debug("poster extracted",
		"width", thumb.Bounds().Dx(),
		"height", thumb.Bounds().Dy(),
		"size", buf.Len(),
	)
	return buf.Bytes(), nil
}

// scaleFilter keeps the aspect ratio, never upscales, and rounds the short
// edge to an even number as libx264 requires.
func scaleFilter(maxDim int) string {
	return fmt.Sprintf(
		"scale=w='if(gte(iw,ih),min(%[1]d,iw),-2)':h='if(gte(iw,ih),-2,min(%[1]d,ih))',scale=trunc(iw/2)*2:trunc(ih/2)*2",
		maxDim,
	)
}

// runFFmpeg executes ffmpeg with the given arguments. A missing binary is
// reported as ENGINE_UNAVAILABLE; any other failure as TRANSCODE_FAILED with
// stderr attached.
func (t *FFmpegTranscoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return apperr.Transcode(apperr.CodeTranscodeFailed, "ffmpeg cancelled", ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return apperr.Transcode(apperr.CodeTranscodeEngine, "ffmpeg not available", err)
		}
		return apperr.Transcode(apperr.CodeTranscodeFailed, "ffmpeg failed", &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		})
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
