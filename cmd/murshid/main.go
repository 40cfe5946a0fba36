package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/murshid-dev/murshid/internal/config"
	"github.com/murshid-dev/murshid/internal/history"
	"github.com/murshid-dev/murshid/internal/httpapi"
	"github.com/murshid-dev/murshid/internal/lang"
	"github.com/murshid-dev/murshid/internal/llm"
	"github.com/murshid-dev/murshid/internal/media"
	"github.com/murshid-dev/murshid/internal/observability"
	"github.com/murshid-dev/murshid/internal/retrieval"
	"github.com/murshid-dev/murshid/internal/stt"
	"github.com/murshid-dev/murshid/internal/tts"
	"github.com/murshid-dev/murshid/internal/turn"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	for _, dir := range []string{cfg.DataDir, cfg.AudioDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Fatal("creating data directory failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	ctx := context.Background()
	store, err := history.NewStore(ctx, cfg.DatabaseURL, cfg.HistoryBackend, cfg.DataDir)
	if err != nil {
		logger.Fatal("history store init failed", zap.Error(err))
	}
	defer store.Close()

	converter := media.NewConverter(cfg.FFmpegPath, logger)
	if converter.Available() {
		if err := converter.Verify(ctx); err != nil {
			logger.Warn("ffmpeg verification failed", zap.Error(err))
		}
	} else {
		logger.Warn("ffmpeg not found, uploads will be transcribed unconverted")
	}

	voices := tts.Voices{
		Arabic:      cfg.ArabicVoice,
		English:     cfg.EnglishVoice,
		ArabicRate:  cfg.ArabicVoiceRate,
		EnglishRate: cfg.EnglishVoiceRate,
	}
	var synthesizer *tts.Synthesizer
	switch strings.ToLower(strings.TrimSpace(cfg.TTSProvider)) {
	case "edge", "":
		engine := tts.NewEdgeEngine(tts.EdgeConfig{
			WSBaseURL:    cfg.TTSWSBaseURL,
			OutputFormat: cfg.TTSOutputFormat,
		})
		synthesizer = tts.NewSynthesizer(engine, converter.ToWAV, voices, metrics, logger)
		logger.Info("tts provider: edge")
	case "mock":
		synthesizer = tts.NewSynthesizer(tts.NewMockEngine(), tts.CopyConvert, voices, metrics, logger)
		logger.Info("tts provider: mock")
	default:
		logger.Fatal("invalid TTS_PROVIDER", zap.String("value", cfg.TTSProvider))
	}

	var transcriber stt.Transcriber
	whisper, err := stt.NewWhisperCLI(stt.WhisperConfig{
		CLIPath:   cfg.WhisperCLI,
		ModelPath: cfg.WhisperModelPath,
		Language:  cfg.WhisperLanguage,
		Threads:   cfg.WhisperThreads,
	})
	if err != nil {
		logger.Warn("whisper unavailable, audio questions will be treated as empty", zap.Error(err))
	} else {
		transcriber = whisper
	}

	var generator turn.Generator
	var retriever retrieval.Retriever = retrieval.None{}
	if cfg.LLMBaseURL != "" || cfg.LLMToken != "" {
		gen, err := llm.New(llm.Config{
			BaseURL:        cfg.LLMBaseURL,
			Token:          cfg.LLMToken,
			Model:          cfg.LLMModel,
			EmbeddingModel: cfg.EmbeddingModel,
		}, logger)
		if err != nil {
			logger.Fatal("llm init failed", zap.Error(err))
		}
		generator = gen

		if cfg.DatabaseURL != "" {
			pg, err := retrieval.NewPostgresRetriever(ctx, cfg.DatabaseURL, gen, cfg.EmbeddingDim)
			if err != nil {
				logger.Fatal("retrieval init failed", zap.Error(err))
			}
			defer pg.Close()
			retriever = pg
			logger.Info("retrieval: pgvector index")
		} else {
			logger.Warn("no DATABASE_URL, retrieval disabled; every question answers with the fixed fallback")
		}
	} else {
		logger.Warn("no LLM configured, generation and translation disabled")
	}

	orchestrator := turn.NewOrchestrator(turn.Options{
		Classifier: lang.NewClassifier(lang.ClassifierConfig{
			Phrases:          lang.DefaultGreetings,
			CloseMatchCutoff: cfg.GreetingCloseMatchCutoff,
			RatioCutoff:      cfg.GreetingRatioCutoff,
		}),
		Retriever:           retriever,
		Generator:           generator,
		Synthesizer:         synthesizer,
		Transcriber:         transcriber,
		Converter:           converter,
		Store:               store,
		Metrics:             metrics,
		Logger:              logger,
		AudioDir:            cfg.AudioDir,
		TopK:                cfg.RetrievalTopK,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
	})

	api := httpapi.New(cfg, orchestrator, store, httpapi.HeaderAuth{}, metrics, logger)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
}
