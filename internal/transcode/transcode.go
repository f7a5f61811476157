// Package transcode shells out to ffmpeg for MP3 encoding and sample clip
// extraction. The encoder is a collaborator of the upload pipeline; its
// failures are fatal for the attempt, never retried.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultQuality is the bitrate passed to ffmpeg when the caller does not
// choose one. The transfer phase always encodes at a fixed target.
const DefaultQuality = "320k"

// Encoder produces MP3 bytes from a local audio file. Implementations are
// external processes or libraries; the upload pipeline only sees the bytes.
type Encoder interface {
	// EncodeMP3 transcodes the whole file to MP3 at the given bitrate
	// (ffmpeg syntax, e.g. "320k").
	EncodeMP3(ctx context.Context, path, quality string) ([]byte, error)

	// Clip extracts a slice of the file as MP3, used for sample challenges.
	Clip(ctx context.Context, path string, start, duration time.Duration, quality string) ([]byte, error)
}

// FFmpeg runs the ffmpeg binary. The zero value uses "ffmpeg" from PATH.
type FFmpeg struct {
	// Path overrides the binary location.
	Path string

	Logger *slog.Logger
}

// binary returns the configured or default ffmpeg path.
func (f *FFmpeg) binary() string {
	if f.Path != "" {
		return f.Path
	}

	return "ffmpeg"
}

// EncodeMP3 transcodes path to MP3 at the given bitrate, writing to stdout
// so no temp files are left behind.
func (f *FFmpeg) EncodeMP3(ctx context.Context, path, quality string) ([]byte, error) {
	if quality == "" {
		quality = DefaultQuality
	}

	return f.run(ctx,
		"-i", path,
		"-vn",
		"-b:a", quality,
		"-f", "mp3",
		"pipe:1",
	)
}

// Clip extracts [start, start+duration) of path as MP3.
func (f *FFmpeg) Clip(ctx context.Context, path string, start, duration time.Duration, quality string) ([]byte, error) {
	if quality == "" {
		quality = DefaultQuality
	}

	return f.run(ctx,
		"-ss", fmt.Sprintf("%.3f", start.Seconds()),
		"-t", fmt.Sprintf("%.3f", duration.Seconds()),
		"-i", path,
		"-vn",
		"-b:a", quality,
		"-f", "mp3",
		"pipe:1",
	)
}

// run executes ffmpeg with the given arguments and returns stdout.
func (f *FFmpeg) run(ctx context.Context, args ...string) ([]byte, error) {
	bin := f.binary()

	if _, err := exec.LookPath(bin); err != nil {
		return nil, fmt.Errorf("transcode: %s not found: %w", bin, err)
	}

	fullArgs := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)

	cmd := exec.CommandContext(ctx, bin, fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if f.Logger != nil {
		f.Logger.Debug("running ffmpeg", slog.String("args", fmt.Sprint(fullArgs)))
	}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("transcode: ffmpeg failed: %w: %s", err, stderr.String())
	}

	return stdout.Bytes(), nil
}
