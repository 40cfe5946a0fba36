package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the bilingual tutor service.
type Config struct {
	BindAddr            string
	ShutdownTimeout     time.Duration
	CollaboratorTimeout time.Duration
	MetricsNamespace    string

	AllowAnyOrigin bool

	DataDir   string
	AudioDir  string
	StaticDir string

	FFmpegPath string

	TTSProvider      string
	TTSWSBaseURL     string
	TTSOutputFormat  string
	ArabicVoice      string
	EnglishVoice     string
	ArabicVoiceRate  string
	EnglishVoiceRate string

	WhisperCLI       string
	WhisperModelPath string
	WhisperLanguage  string
	WhisperThreads   int

	DatabaseURL    string
	HistoryBackend string

	LLMBaseURL     string
	LLMToken       string
	LLMModel       string
	EmbeddingModel string
	EmbeddingDim   int
	RetrievalTopK  int

	GreetingCloseMatchCutoff float64
	GreetingRatioCutoff      float64
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "murshid"),
		AllowAnyOrigin:   false,
		DataDir:          envOrDefault("APP_DATA_DIR", "data"),
		AudioDir:         envOrDefault("APP_AUDIO_DIR", "data/audio"),
		StaticDir:        envOrDefault("APP_STATIC_DIR", "static"),
		// Empty means "look up ffmpeg on PATH".
		FFmpegPath:      stringsTrimSpace("FFMPEG_PATH"),
		TTSProvider:     envOrDefault("TTS_PROVIDER", "edge"),
		TTSWSBaseURL:    stringsTrimSpace("TTS_WS_BASE_URL"),
		TTSOutputFormat: stringsTrimSpace("TTS_OUTPUT_FORMAT"),
		ArabicVoice:     envOrDefault("TTS_ARABIC_VOICE", "ar-EG-SalmaNeural"),
		EnglishVoice:    envOrDefault("TTS_ENGLISH_VOICE", "en-US-AvaNeural"),
		// A slightly faster Arabic read sounds more natural for tutoring.
		ArabicVoiceRate:  envOrDefault("TTS_ARABIC_RATE", "+10%"),
		EnglishVoiceRate: envOrDefault("TTS_ENGLISH_RATE", "+0%"),
		WhisperCLI:       envOrDefault("WHISPER_CLI", "whisper-cli"),
		WhisperModelPath: envOrDefault("WHISPER_MODEL_PATH", ".models/whisper/ggml-base.bin"),
		// Empty lets the model auto-detect, which suits mixed Arabic/English input.
		WhisperLanguage: stringsTrimSpace("WHISPER_LANGUAGE"),
		// 0 means "auto" (picked based on CPU count).
		WhisperThreads: 0,
		DatabaseURL:    stringsTrimSpace("DATABASE_URL"),
		HistoryBackend: envOrDefault("HISTORY_BACKEND", "file"),
		LLMBaseURL:     stringsTrimSpace("LLM_BASE_URL"),
		LLMToken:       stringsTrimSpace("LLM_TOKEN"),
		LLMModel:       envOrDefault("LLM_MODEL", "llama3"),
		EmbeddingModel: stringsTrimSpace("EMBEDDING_MODEL"),
		EmbeddingDim:   768,
		RetrievalTopK:  3,

		GreetingCloseMatchCutoff: 0.8,
		GreetingRatioCutoff:      0.75,

		ShutdownTimeout:     15 * time.Second,
		CollaboratorTimeout: 60 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CollaboratorTimeout, err = durationFromEnv("APP_COLLABORATOR_TIMEOUT", cfg.CollaboratorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.WhisperThreads, err = intFromEnv("WHISPER_THREADS", cfg.WhisperThreads)
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingDim, err = intFromEnv("EMBEDDING_DIM", cfg.EmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.RetrievalTopK, err = intFromEnv("RETRIEVAL_TOP_K", cfg.RetrievalTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.GreetingCloseMatchCutoff, err = floatFromEnv("GREETING_CLOSE_MATCH_CUTOFF", cfg.GreetingCloseMatchCutoff)
	if err != nil {
		return Config{}, err
	}
	cfg.GreetingRatioCutoff, err = floatFromEnv("GREETING_RATIO_CUTOFF", cfg.GreetingRatioCutoff)
	if err != nil {
		return Config{}, err
	}

	if cfg.WhisperThreads < 0 {
		return Config{}, fmt.Errorf("WHISPER_THREADS must be >= 0")
	}
	if cfg.EmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("EMBEDDING_DIM must be positive")
	}
	if cfg.RetrievalTopK <= 0 {
		return Config{}, fmt.Errorf("RETRIEVAL_TOP_K must be positive")
	}
	if cfg.GreetingCloseMatchCutoff <= 0 || cfg.GreetingCloseMatchCutoff > 1 {
		return Config{}, fmt.Errorf("GREETING_CLOSE_MATCH_CUTOFF must be in (0, 1]")
	}
	if cfg.GreetingRatioCutoff <= 0 || cfg.GreetingRatioCutoff > 1 {
		return Config{}, fmt.Errorf("GREETING_RATIO_CUTOFF must be in (0, 1]")
	}
	switch cfg.HistoryBackend {
	case "file", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("HISTORY_BACKEND must be file, sqlite, or postgres")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
