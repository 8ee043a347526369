package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/agent"
	"github.com/MikeSquared-Agency/quill/internal/api"
	"github.com/MikeSquared-Agency/quill/internal/batcher"
	"github.com/MikeSquared-Agency/quill/internal/config"
	"github.com/MikeSquared-Agency/quill/internal/ingester"
	"github.com/MikeSquared-Agency/quill/internal/live"
	"github.com/MikeSquared-Agency/quill/internal/runctl"
	slackalert "github.com/MikeSquared-Agency/quill/internal/slack"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/stream"
	"github.com/MikeSquared-Agency/quill/internal/transcript"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("quill starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"flush_interval", cfg.BatchFlushInterval,
		"flush_threshold", cfg.BatchFlushThreshold,
		"buffer_max", cfg.BufferMaxSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	// Step 2: Conditionally create the Slack run-failure alerter.
	var alerter live.FailureAlerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		alerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack run failure alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	// Step 3: Initialize the live pipeline and the event journal batcher.
	ctl := runctl.NewController()
	mgr := live.NewManager(ctl, stream.Options{
		ShowToolMetadata: cfg.ShowToolMetadata,
		Stream:           cfg.StreamResponses,
	}, alerter)

	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	})
	bat.Start(ctx)

	// Step 4: Connect to NATS and start ingesting run events.
	ing, err := ingester.New(cfg.NatsURL, mgr, bat)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer ing.Close()

	// Snapshots and cancel requests go out over the same connection.
	mgr.SetPublisher(ing.Publish, agent.NewNATSCanceller(ing.Publish))

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 5: Announce availability.
	announcement, _ := json.Marshal(map[string]any{
		"event_type": "agent.registered",
		"source":     "quill",
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"metadata":   map[string]any{"port": cfg.Port},
	})
	if err := ing.Publish("swarm.agent.quill.registered", announcement); err != nil {
		slog.Warn("failed to publish registration event", "error", err)
	}

	// Step 6: Start HTTP API.
	srv := api.NewServer(db, bat, mgr, transcript.Options{
		ShowToolMetadata: cfg.ShowToolMetadata,
		LatexMode:        cfg.LatexMode,
	}, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("quill ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)
	cancel()
	bat.Wait()
	slog.Info("quill stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
