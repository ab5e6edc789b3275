// Command riskwatch runs the business-risk news scanner: HTTP API, MCP
// endpoint and the scan scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hazyhaar/riskwatch/riskwatch"
	"github.com/hazyhaar/riskwatch/shield"
	"github.com/hazyhaar/riskwatch/watch"
)

func main() {
	port := env("PORT", "8090")
	logLevel := env("LOG_LEVEL", "info")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := &riskwatch.Config{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = riskwatch.LoadConfigFile(path); err != nil {
			slog.Error("config file", "path", path, "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv(os.Getenv)

	svc, err := riskwatch.New(cfg, logger)
	if err != nil {
		slog.Error("riskwatch init", "error", err)
		os.Exit(1)
	}
	defer svc.Close()
	svc.Start(ctx)

	// Hand edits to the configuration document re-arm the scheduler.
	go func() {
		w := watch.New(svc.ConfigPath(), watch.Options{Logger: logger})
		if err := w.OnChange(ctx, svc.ReloadConfiguration); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("config watch stopped", "error", err)
		}
	}()

	rps, _ := strconv.ParseFloat(env("SCAN_RATE_LIMIT", "0.1"), 64)
	handler := svc.Handler(shield.APIStack(shield.Options{
		RateLimit:         rps,
		RateBurst:         2,
		RateLimitPrefixes: []string{"/api/scan"},
		Logger:            logger,
	})...)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Manual scans answer when the whole pipeline has finished.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
