package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/lang"
	"github.com/murshid-dev/murshid/internal/observability"
)

// ErrEmptyText reports that nothing speakable remained after cleaning.
var ErrEmptyText = errors.New("empty text for synthesis after cleaning")

// ConvertFunc re-encodes the engine's compressed output into the
// canonical waveform at dst.
type ConvertFunc func(ctx context.Context, src, dst string) error

type Voices struct {
	Arabic      string
	English     string
	ArabicRate  string
	EnglishRate string
}

func DefaultVoices() Voices {
	return Voices{
		Arabic:  "ar-EG-SalmaNeural",
		English: "en-US-AvaNeural",
		// A slightly faster Arabic read sounds more natural for the
		// tutoring voice.
		ArabicRate:  "+10%",
		EnglishRate: "+0%",
	}
}

// Synthesizer turns answer text into a WAV file, choosing a voice per
// detected script. A mixed-script utterance is synthesized in one pass
// with the Arabic voice first; only if that fails does the English
// voice read the whole text.
type Synthesizer struct {
	engine  Engine
	convert ConvertFunc
	voices  Voices
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewSynthesizer(engine Engine, convert ConvertFunc, voices Voices, metrics *observability.Metrics, logger *zap.Logger) *Synthesizer {
	if voices.Arabic == "" || voices.English == "" {
		d := DefaultVoices()
		if voices.Arabic == "" {
			voices.Arabic = d.Arabic
		}
		if voices.English == "" {
			voices.English = d.English
		}
	}
	if voices.ArabicRate == "" {
		voices.ArabicRate = DefaultVoices().ArabicRate
	}
	if voices.EnglishRate == "" {
		voices.EnglishRate = DefaultVoices().EnglishRate
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{engine: engine, convert: convert, voices: voices, metrics: metrics, logger: logger}
}

// Punctuation and digits confuse the voice engine; keep only Latin
// letters, Arabic letters, and whitespace.
var cleanRE = regexp.MustCompile(`[^A-Za-z\x{0600}-\x{06FF}\s]+`)

func cleanText(text string) string {
	return strings.TrimSpace(cleanRE.ReplaceAllString(text, ""))
}

// Synthesize writes the spoken form of text to dst. The intermediate
// compressed file is removed on every path.
func (s *Synthesizer) Synthesize(ctx context.Context, text, dst string) error {
	cleaned := cleanText(text)
	if cleaned == "" {
		return ErrEmptyText
	}

	if lang.Detect(cleaned) == "ar" {
		err := s.speakAndConvert(ctx, SpeakRequest{
			Text:  cleaned,
			Voice: s.voices.Arabic,
			Rate:  s.voices.ArabicRate,
		}, dst)
		if err == nil {
			return nil
		}
		var convErr *conversionError
		if errors.As(err, &convErr) {
			// The engine already produced audio; a broken converter will
			// not be fixed by switching voices.
			return convErr.err
		}
		s.logger.Error("arabic voice synthesis failed, falling back to english", zap.Error(err))
		if s.metrics != nil {
			s.metrics.SynthesisFallbacks.Inc()
		}
	}

	err := s.speakAndConvert(ctx, SpeakRequest{
		Text:  cleaned,
		Voice: s.voices.English,
		Rate:  s.voices.EnglishRate,
	}, dst)
	if err == nil {
		return nil
	}
	var convErr *conversionError
	if errors.As(err, &convErr) {
		return convErr.err
	}
	if errors.Is(err, ErrNoAudio) {
		return err
	}
	return fmt.Errorf("english voice synthesis: %w", err)
}

type conversionError struct{ err error }

func (e *conversionError) Error() string { return e.err.Error() }
func (e *conversionError) Unwrap() error { return e.err }

func (s *Synthesizer) speakAndConvert(ctx context.Context, req SpeakRequest, dst string) error {
	tmp, err := os.CreateTemp("", "murshid-tts-*.mp3")
	if err != nil {
		return fmt.Errorf("create intermediate file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	if err := s.engine.Speak(ctx, req, tmpPath); err != nil {
		return err
	}
	if err := s.convert(ctx, tmpPath, dst); err != nil {
		return &conversionError{err: fmt.Errorf("convert synthesized audio: %w", err)}
	}
	return nil
}
