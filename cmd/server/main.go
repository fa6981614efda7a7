package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/config"
	"github.com/arkonballoon/VoiceToDocWeb/internal/metrics"
	"github.com/arkonballoon/VoiceToDocWeb/internal/scheduler"
	"github.com/arkonballoon/VoiceToDocWeb/internal/server"
	"github.com/arkonballoon/VoiceToDocWeb/internal/stream"
	"github.com/arkonballoon/VoiceToDocWeb/internal/transcription"
	"github.com/arkonballoon/VoiceToDocWeb/internal/version"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voicetodoc-server"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with VTD_* overrides")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full(serviceName))
		return
	}

	// A missing .env file is not an error
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", version.Version),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.Int("min_silence_len_ms", cfg.Audio.MinSilenceLenMs),
		slog.Float64("silence_thresh_db", cfg.Audio.SilenceThreshDB),
		slog.Int("min_chunk_length_ms", cfg.Audio.MinChunkLengthMs),
		slog.Int("max_chunk_length_ms", cfg.Audio.MaxChunkLengthMs),
		slog.Int("workers", cfg.Scheduler.Workers),
		slog.Int("queue_size", cfg.Scheduler.QueueSize),
		slog.String("transcription_engine", cfg.Transcription.Engine),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics on a private registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Initialize the transcription engine behind the single-permit gate
	var (
		engine transcription.Engine
		client *transcription.Client
	)
	switch cfg.Transcription.Engine {
	case "stub":
		engine = transcription.NewStubEngine(logger, cfg.Transcription.Language)
		logger.Warn("Using stub transcription engine")
	default:
		client, err = transcription.NewClient(transcription.Config{
			Endpoint:     cfg.Transcription.Endpoint,
			APIKey:       cfg.Transcription.APIKey,
			Timeout:      cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:   cfg.Transcription.MaxRetries,
			Language:     cfg.Transcription.Language,
			Model:        cfg.Transcription.Model,
			OutputFormat: cfg.Transcription.OutputFormat,
			UserAgent:    fmt.Sprintf("VoiceToDoc/%s", version.Version),
		}, appMetrics)
		if err != nil {
			logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
			os.Exit(1)
		}
		engine = client
	}
	resource := transcription.NewSharedResource(engine, logger, appMetrics)

	// Initialize the scheduler
	sched := scheduler.New(scheduler.Config{
		QueueSize:   cfg.Scheduler.QueueSize,
		TaskTimeout: cfg.Scheduler.GetTaskTimeoutDuration(),
	}, resource, logger, appMetrics)
	if err := sched.Start(cfg.Scheduler.Workers); err != nil {
		logger.Error("Failed to start scheduler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Scheduler started", slog.Int("workers", cfg.Scheduler.Workers))

	// Initialize the segmenter
	segmenter, err := audio.NewSegmenter(audio.Params{
		MinSilenceLen:   cfg.Audio.GetMinSilenceLen(),
		SilenceThreshDB: cfg.Audio.SilenceThreshDB,
		MinChunkLength:  cfg.Audio.GetMinChunkLength(),
		MaxChunkLength:  cfg.Audio.GetMaxChunkLength(),
	}, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create segmenter", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Initialize session manager
	sessions := stream.NewManager(logger, stream.Config{
		SessionTimeout:  cfg.Stream.GetSessionTimeoutDuration(),
		ContextMaxChars: cfg.Stream.ContextMaxChars,
	}, segmenter, sched, appMetrics)
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Stream.GetSessionTimeoutDuration()),
	)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, server.Dependencies{
			Config:    cfg,
			Sessions:  sessions,
			Scheduler: sched,
			Resource:  resource,
			Client:    client,
			Metrics:   appMetrics,
			Gatherer:  registry,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("HTTP API disabled, nothing will accept audio")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Workers finish their current task; queued tasks are abandoned
	sched.Stop()
	sessions.Stop()

	if client != nil {
		client.Close()
	}

	stats := sched.GetStats()
	logger.Info("Final scheduler statistics",
		slog.Uint64("submitted", stats.Submitted),
		slog.Uint64("completed", stats.Completed),
		slog.Uint64("failed", stats.Failed),
		slog.Int("abandoned", stats.QueueLength),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
