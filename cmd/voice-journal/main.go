package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/voice-journal/internal/audio"
	"github.com/sjawhar/voice-journal/internal/config"
	"github.com/sjawhar/voice-journal/internal/llm"
	"github.com/sjawhar/voice-journal/internal/metrics"
	"github.com/sjawhar/voice-journal/internal/reply"
	"github.com/sjawhar/voice-journal/internal/server"
	"github.com/sjawhar/voice-journal/internal/session"
	"github.com/sjawhar/voice-journal/internal/speech"
	"github.com/sjawhar/voice-journal/internal/storage"
	"github.com/sjawhar/voice-journal/internal/transcribe"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config file")
	once := flag.Bool("once", false, "record a single turn, print it and exit")
	flag.Parse()

	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("dotenv: %v", err)
	}

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	os.Exit(run(cfg, warnings, *once))
}

// run returns an exit code so deferred cleanup happens before os.Exit.
func run(cfg config.Config, warnings []string, once bool) int {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn(w)
	}

	logger.Info("voice-journal: starting")

	timeout := cfg.ParsedRemoteTimeout()

	transcriber, err := transcribe.NewClient(cfg.TranscriptionProvider, cfg.APIKey(cfg.TranscriptionProvider), cfg.TranscriptionModel,
		transcribe.WithTimeout(timeout))
	if err != nil {
		logger.Error("transcription client", "error", err)
		return 1
	}

	chatProvider, chatModel, err := llm.ParseModel(cfg.ChatModel)
	if err != nil {
		logger.Error("chat model", "error", err)
		return 1
	}
	chat, err := llm.NewClient(chatProvider, cfg.APIKey(chatProvider), chatModel, llm.WithTimeout(timeout))
	if err != nil {
		logger.Error("chat client", "error", err)
		return 1
	}
	responder := reply.New(chat, reply.WithSystemPrompt(cfg.SystemPrompt), reply.WithHistory(cfg.IncludeHistory))

	synthesizer, err := speech.NewClient(cfg.SpeechProvider, cfg.APIKey(cfg.SpeechProvider), cfg.SpeechModel, cfg.SpeechVoice,
		speech.WithTimeout(timeout), speech.WithTempDir(cfg.TempDir))
	if err != nil {
		logger.Error("speech client", "error", err)
		return 1
	}

	if err := audio.Initialize(); err != nil {
		logger.Warn("audio init failed, turns will fail at capture", "error", err)
	} else {
		defer func() { _ = audio.Terminate() }()
	}

	capturer := audio.NewCapturer(cfg.FramesPerBuffer, logger)
	sampleRate, err := capturer.Probe(cfg.SampleRateCandidates())
	if err != nil {
		sampleRate = cfg.MicSampleRate
		logger.Warn("microphone unavailable, turns will fail at capture", "error", err)
	} else {
		logger.Info("microphone ready", "sample_rate", sampleRate)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("storage init failed", "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	hub := server.NewHub()
	controller := session.NewController(session.Stages{
		Capturer:    capturer,
		Transcriber: transcriber,
		Responder:   responder,
		Synthesizer: synthesizer,
	}, hub, store, session.NewDetector(cfg.ParsedSessionIdleTimeout()), session.Options{
		RecordDuration: cfg.ParsedRecordDuration(),
		SampleRate:     sampleRate,
		TempDir:        cfg.TempDir,
		Logger:         logger,
		Observer:       m,
	})
	defer controller.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		if err := runOnce(ctx, controller); err != nil {
			logger.Error("turn failed", "error", err)
			return 1
		}
		return 0
	}

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		logger.Error("static assets init failed", "error", err)
		return 1
	}

	handler, err := server.Handler(assets, hub, controller, store, server.ControlHooks{
		Warnings: func() []string { return warnings },
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		Logger:   logger,
	})
	if err != nil {
		logger.Error("build http handler failed", "error", err)
		return 1
	}

	code := 0
	if err := server.Serve(ctx, cfg.ListenAddr, handler, logger); err != nil {
		logger.Error("http server error", "error", err)
		code = 1
	}

	logger.Info("voice-journal: shutting down")
	return code
}

func runOnce(ctx context.Context, controller *session.Controller) error {
	fmt.Println("Recording...")
	turn, err := controller.RunTurn(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("You: %s\n", turn.User.Content)
	fmt.Printf("Journal: %s\n", turn.Assistant.Content)
	return nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
