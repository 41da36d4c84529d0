package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hotlympics/leaderboard"
)

func main() {
	ctx := context.Background()
	app, err := BuildApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}

	cfg := app.Config

	slog.Info("starting hotlympics admin",
		"environment", cfg.Environment,
		"profile", cfg.Profile,
		"address", cfg.Server.Address,
		"api", cfg.API.BaseURL,
		"storage_adapter", cfg.Storage.Adapter)

	// warm the configured leaderboards without holding up the listener
	go func() {
		res := app.Service.Leaderboards.RefreshMany(ctx, cfg.Cache.Leaderboards, cfg.Cache.MaxAge,
			leaderboard.EnsureOptions{PreloadImages: cfg.Cache.PreloadImages})
		slog.Info("leaderboards warmed", "success", res.Success, "failed", res.Failed)
	}()

	srv := app.Server

	go func() {
		slog.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil {
			if errors.Is(err, http.ErrServerClosed) {
				return
			}
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during server shutdown", "error", err)
	}
	app.Service.Close()
	if c, ok := app.Storage.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Error("error closing storage", "error", err)
		}
	}

	slog.Info("server stopped")
}
