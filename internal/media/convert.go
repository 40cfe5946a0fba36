package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Converter shells out to ffmpeg for container and sample-rate
// conversion. All operations degrade gracefully when the binary is
// missing; callers that need a hard failure check the returned error.
type Converter struct {
	ffmpegPath string
	logger     *zap.Logger
}

func NewConverter(ffmpegPath string, logger *zap.Logger) *Converter {
	if strings.TrimSpace(ffmpegPath) == "" {
		if found, err := exec.LookPath("ffmpeg"); err == nil {
			ffmpegPath = found
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{ffmpegPath: ffmpegPath, logger: logger}
}

func (c *Converter) Available() bool {
	if strings.TrimSpace(c.ffmpegPath) == "" {
		return false
	}
	info, err := os.Stat(c.ffmpegPath)
	return err == nil && !info.IsDir()
}

// Verify runs `ffmpeg -version` so startup can log whether the media
// tool is usable.
func (c *Converter) Verify(ctx context.Context) error {
	if !c.Available() {
		return fmt.Errorf("ffmpeg not found at %q", c.ffmpegPath)
	}
	cmd := exec.CommandContext(ctx, c.ffmpegPath, "-version")
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("ffmpeg test failed: %w", err)
	}
	if lines := strings.SplitN(string(out), "\n", 2); len(lines) > 0 {
		c.logger.Info("ffmpeg found", zap.String("version", strings.TrimSpace(lines[0])))
	}
	return nil
}

// ToWAV decodes a compressed audio file into a WAV at dst.
func (c *Converter) ToWAV(ctx context.Context, src, dst string) error {
	return c.run(ctx, "-y", "-i", src, dst)
}

// ToMono16k resamples src into the canonical mono 16 kHz waveform the
// transcription backend expects.
func (c *Converter) ToMono16k(ctx context.Context, src, dst string) error {
	return c.run(ctx, "-y", "-i", src, "-ac", "1", "-ar", "16000", dst)
}

// NormalizeUpload converts an uploaded blob of unknown container into
// the canonical waveform. If the tool is unavailable, the conversion
// fails, or the output comes back empty, the original path is returned
// so transcription can try the raw upload.
func (c *Converter) NormalizeUpload(ctx context.Context, src, dst string) string {
	if !c.Available() {
		return src
	}
	if err := c.ToMono16k(ctx, src, dst); err != nil {
		c.logger.Error("upload conversion failed", zap.String("src", src), zap.Error(err))
		return src
	}
	info, err := os.Stat(dst)
	if err != nil || info.Size() == 0 {
		c.logger.Error("upload conversion produced no output", zap.String("dst", dst))
		return src
	}
	return dst
}

func (c *Converter) run(ctx context.Context, args ...string) error {
	if !c.Available() {
		return fmt.Errorf("ffmpeg not available")
	}
	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg: %s", tail(detail, 512))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
