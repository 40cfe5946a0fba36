package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.TTSProvider != "edge" {
		t.Fatalf("TTSProvider = %q, want %q", cfg.TTSProvider, "edge")
	}
	if cfg.ArabicVoiceRate != "+10%" {
		t.Fatalf("ArabicVoiceRate = %q, want %q", cfg.ArabicVoiceRate, "+10%")
	}
	if cfg.RetrievalTopK != 3 {
		t.Fatalf("RetrievalTopK = %d, want 3", cfg.RetrievalTopK)
	}
	if cfg.GreetingCloseMatchCutoff != 0.8 || cfg.GreetingRatioCutoff != 0.75 {
		t.Fatalf("greeting cutoffs = %v, %v", cfg.GreetingCloseMatchCutoff, cfg.GreetingRatioCutoff)
	}
	if cfg.HistoryBackend != "file" {
		t.Fatalf("HistoryBackend = %q, want %q", cfg.HistoryBackend, "file")
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_COLLABORATOR_TIMEOUT", "5s")
	t.Setenv("RETRIEVAL_TOP_K", "7")
	t.Setenv("HISTORY_BACKEND", "sqlite")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CollaboratorTimeout != 5*time.Second {
		t.Fatalf("CollaboratorTimeout = %v, want 5s", cfg.CollaboratorTimeout)
	}
	if cfg.RetrievalTopK != 7 {
		t.Fatalf("RetrievalTopK = %d, want 7", cfg.RetrievalTopK)
	}
	if cfg.HistoryBackend != "sqlite" {
		t.Fatalf("HistoryBackend = %q, want %q", cfg.HistoryBackend, "sqlite")
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HISTORY_BACKEND", "cassandra")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted unknown history backend")
	}

	setCoreEnvEmpty(t)
	t.Setenv("GREETING_RATIO_CUTOFF", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted out-of-range cutoff")
	}

	setCoreEnvEmpty(t)
	t.Setenv("WHISPER_THREADS", "-2")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() accepted negative thread count")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_COLLABORATOR_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_DATA_DIR",
		"APP_AUDIO_DIR",
		"APP_STATIC_DIR",
		"FFMPEG_PATH",
		"TTS_PROVIDER",
		"TTS_WS_BASE_URL",
		"TTS_OUTPUT_FORMAT",
		"TTS_ARABIC_VOICE",
		"TTS_ENGLISH_VOICE",
		"TTS_ARABIC_RATE",
		"TTS_ENGLISH_RATE",
		"WHISPER_CLI",
		"WHISPER_MODEL_PATH",
		"WHISPER_LANGUAGE",
		"WHISPER_THREADS",
		"DATABASE_URL",
		"HISTORY_BACKEND",
		"LLM_BASE_URL",
		"LLM_TOKEN",
		"LLM_MODEL",
		"EMBEDDING_MODEL",
		"EMBEDDING_DIM",
		"RETRIEVAL_TOP_K",
		"GREETING_CLOSE_MATCH_CUTOFF",
		"GREETING_RATIO_CUTOFF",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
