// Command logarte-relay reads JSON-encoded entries from stdin (one per
// line), runs them through the alert engine and the delivery pipeline, and
// streams notifications to WebSocket consoles. It is a thin wrapper around
// the library for host applications that log to a pipe instead of embedding
// the core directly.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sachinkoro/logarte"
	"github.com/sachinkoro/logarte/internal/config"
	"github.com/sachinkoro/logarte/internal/ws"
	"github.com/sachinkoro/logarte/pkg/entry"
)

const flushTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Secrets (API key, webhook URL) come from the environment; a local
	// .env file is honored when present.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("logarte-relay starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"collector", cfg.Collector.Endpoint,
		"rules", len(cfg.Alerts.Rules),
		"batch_size", cfg.Batching.Size,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core := logarte.New(logarte.Config{
		Rules:          cfg.Rules(),
		Cooldown:       time.Duration(cfg.Alerts.Cooldown),
		WebhookURL:     cfg.Alerts.Webhook.URL(),
		WebhookHeaders: cfg.Alerts.Webhook.Headers,
		Delivery:       cfg.DeliveryOptions(),
		Logger:         logger,
	})

	// Watch config file for rule hot-reload. Delivery identity changes are
	// applied too; queued entries are kept.
	go func() {
		if err := config.Watch(ctx, *configPath, logger, func(updated *config.Config) {
			core.UpdateRules(updated.Rules())
			core.UpdateDelivery(updated.DeliveryOptions())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Stream notifications to WebSocket consoles when configured.
	if cfg.WS.Listen != "" {
		notifs, unsubscribe := core.Subscribe()
		defer unsubscribe()

		hub := ws.New()
		go hub.Run(ctx, notifs)

		mux := http.NewServeMux()
		mux.Handle("/ws/alerts", hub)
		srv := &http.Server{Addr: cfg.WS.Listen, Handler: mux}
		go func() {
			slog.Info("alert stream listening", "addr", cfg.WS.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("alert stream server failed", "err", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Ingest loop: one JSON entry per stdin line. Undecodable lines are
	// logged and skipped; they never stop the relay.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			e, err := entry.Decode(line)
			if err != nil {
				slog.Warn("skipping undecodable line", "err", err)
				continue
			}
			core.Submit(e)
		}
		if err := scanner.Err(); err != nil {
			slog.Error("stdin read failed", "err", err)
		}
		slog.Info("stdin closed")
		cancel()
	}()

	<-ctx.Done()
	slog.Info("logarte-relay shutting down")

	flushCtx, stop := context.WithTimeout(context.Background(), flushTimeout)
	defer stop()
	if ack, err := core.FlushNow(flushCtx); err != nil {
		slog.Warn("final flush incomplete", "delivered", ack.Delivered, "err", err)
	} else {
		slog.Info("final flush complete", "delivered", ack.Delivered)
	}
	core.Close()
}
