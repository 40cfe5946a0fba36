package tts

import (
	"context"
	"io"
	"os"

	"github.com/murshid-dev/murshid/internal/audio"
)

// MockEngine is a local fallback engine used when no real synthesis
// backend is configured. It emits a short silent waveform sized to the
// text so downstream file handling stays exercised.
type MockEngine struct {
	SampleRate int
}

func NewMockEngine() *MockEngine { return &MockEngine{SampleRate: 16000} }

func (e *MockEngine) Speak(_ context.Context, req SpeakRequest, dst string) error {
	sampleRate := e.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	// ~40ms of silence per rune, minimum 200ms.
	samples := len([]rune(req.Text)) * sampleRate * 40 / 1000
	if min := sampleRate / 5; samples < min {
		samples = min
	}
	pcm := make([]byte, samples*2)
	return audio.WriteWAVPCM16LEFile(dst, pcm, sampleRate)
}

// CopyConvert pairs with MockEngine: the mock already writes the
// canonical waveform, so conversion is a plain copy.
func CopyConvert(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
