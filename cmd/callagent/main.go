package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowpbx/callagent/internal/api"
	"github.com/flowpbx/callagent/internal/artifact"
	"github.com/flowpbx/callagent/internal/call"
	"github.com/flowpbx/callagent/internal/config"
	"github.com/flowpbx/callagent/internal/database"
	"github.com/flowpbx/callagent/internal/dialogue"
	"github.com/flowpbx/callagent/internal/metrics"
	"github.com/flowpbx/callagent/internal/session"
	"github.com/flowpbx/callagent/internal/tts"
	"github.com/flowpbx/callagent/internal/twiml"
)

const reapInterval = time.Minute

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callagent",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"public_url", cfg.PublicURL,
		"validate_signatures", cfg.ValidateSignatures,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	callLog := database.NewCallLogRepository(db)

	store, err := artifact.NewStore(cfg.AudioDir(), logger)
	if err != nil {
		slog.Error("failed to open audio store", "error", err)
		os.Exit(1)
	}

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	store.StartSweeper(appCtx, cfg.SweepInterval, cfg.AudioRetention)

	sessions := session.NewRegistry(logger)
	sessions.SetTTL(cfg.SessionTTL)
	sessions.StartReaper(appCtx, reapInterval)

	engine := dialogue.NewEngine(dialogue.Config{
		APIKey:       cfg.OpenAIKey,
		Model:        cfg.OpenAIModel,
		BaseURL:      cfg.OpenAIBaseURL,
		SystemPrompt: cfg.SystemPrompt,
		Timeout:      cfg.LLMTimeout,
		MaxRetries:   cfg.LLMMaxRetries,
	}, logger)

	voice := tts.NewElevenLabs(tts.ElevenLabsConfig{
		APIKey:  cfg.ElevenLabsKey,
		VoiceID: cfg.ElevenLabsVoiceID,
		Model:   cfg.ElevenLabsModel,
		BaseURL: cfg.ElevenLabsBaseURL,
		Timeout: cfg.TTSTimeout,
	})
	gateway := tts.NewGateway(voice, store, cfg.TTSTimeout, logger)

	ctrl := call.NewController(sessions, engine, gateway, store, callLog, call.Options{
		Greeting:    cfg.Greeting,
		MaxFailures: cfg.MaxFailures,
	}, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(sessions, store, ctrl, callLog, time.Now()),
	)

	handler := api.NewServer(cfg, api.Dependencies{
		Calls:    ctrl,
		Renderer: twiml.NewRenderer(twiml.DefaultGatherConfig()),
		Audio:    store,
		Sessions: sessions,
		CallLog:  callLog,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:   logger,
	})
	defer handler.Close()

	// Turns wait on two provider calls, so the write timeout covers both.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.LLMTimeout*time.Duration(cfg.LLMMaxRetries+1) + cfg.TTSTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callagent stopped")
}
