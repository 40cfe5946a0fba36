package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Transcriber converts recorded audio into text. Failures are expected
// to be recovered by the caller (a failed transcription becomes an
// empty question), so implementations just report what happened.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type WhisperConfig struct {
	CLIPath   string
	ModelPath string
	Language  string
	Threads   int
}

// WhisperCLI shells out to whisper-cli for one-shot file
// transcription.
type WhisperCLI struct {
	cfg WhisperConfig
}

func NewWhisperCLI(cfg WhisperConfig) (*WhisperCLI, error) {
	if strings.TrimSpace(cfg.CLIPath) == "" {
		cfg.CLIPath = "whisper-cli"
	}
	resolved, err := exec.LookPath(cfg.CLIPath)
	if err != nil {
		return nil, fmt.Errorf("whisper cli not found: %w", err)
	}
	cfg.CLIPath = resolved
	if strings.TrimSpace(cfg.ModelPath) == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model: %w", err)
	}
	return &WhisperCLI{cfg: cfg}, nil
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	outBase := filepath.Join(filepath.Dir(audioPath), strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))+"-stt")

	args := []string{
		"-m", w.cfg.ModelPath,
		"-f", audioPath,
		"-otxt",
		"-of", outBase,
		"-np",
	}
	if lang := strings.TrimSpace(w.cfg.Language); lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}

	cmd := exec.CommandContext(ctx, w.cfg.CLIPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("whisper-cli: %s", detail)
	}

	txtPath := outBase + ".txt"
	defer os.Remove(txtPath)
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Static returns a fixed transcript; used when no STT backend is
// configured and in tests.
type Static struct {
	Text string
	Err  error
}

func (s Static) Transcribe(context.Context, string) (string, error) {
	return s.Text, s.Err
}
