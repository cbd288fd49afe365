package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/httpserver"
	"pastebin-lite/internal/paste"
	"pastebin-lite/internal/storage"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancelOpen := context.WithTimeout(ctx, 15*time.Second)
	store, err := openStore(openCtx, cfg)
	cancelOpen()
	if err != nil {
		logger.Error("failed opening data store", "store", cfg.store, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine, err := paste.New(paste.Config{Store: store, Logger: logger})
	if err != nil {
		logger.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	srv, err := httpserver.New(httpserver.Config{
		Engine:     engine,
		MaxBytes:   cfg.maxBytes,
		TrustProxy: cfg.behindProxy,
		BaseURL:    cfg.baseURL,
		TestMode:   cfg.testMode,
		Metrics:    cfg.metrics,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to construct server", "error", err)
		os.Exit(1)
	}

	if sweeper, ok := store.(storage.Sweeper); ok {
		httpserver.StartJanitor(ctx, sweeper, clock.Real, cfg.janitorInterval, logger)
	}
	if cfg.testMode {
		logger.Warn("test mode enabled: x-test-now-ms overrides the clock")
	}

	srvHTTP := &http.Server{
		Addr:              cfg.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.addr, "store", cfg.store)
		if err := srvHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		store.Close()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
