package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bcnelson/stacks/internal/api"
	"github.com/bcnelson/stacks/internal/api/middleware"
	"github.com/bcnelson/stacks/internal/auth"
	"github.com/bcnelson/stacks/internal/config"
	"github.com/bcnelson/stacks/internal/notify"
	"github.com/bcnelson/stacks/internal/storage/sql"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Create data directory if needed (for SQLite)
	if cfg.Database.Driver == "sqlite3" && !strings.HasPrefix(cfg.Database.DSN, "file::memory:") {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
		}
	}

	// Initialize storage
	store, err := sql.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize notifications
	var publisher notify.Publisher
	if cfg.UseRedis() {
		redisPub, err := notify.NewRedisPublisher(ctx, cfg.Notify.RedisURL, cfg.Notify.Prefix, cfg.Notify.Timeout, logger)
		if err != nil {
			return err
		}
		defer redisPub.Close()
		publisher = redisPub
		logger.Info("publishing notifications to redis", "prefix", cfg.Notify.Prefix)
	} else {
		publisher = notify.NewLogPublisher(logger)
		logger.Info("REDIS_URL not set, notifications are only logged")
	}

	// Initialize OIDC token verification
	var verifier middleware.TokenVerifier
	if cfg.OIDC.Enabled {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID, cfg.OIDC.UsernameClaim)
		if err != nil {
			return err
		}
		verifier = v
		logger.Info("accepting OIDC bearer tokens", "issuer", cfg.OIDC.IssuerURL)
	}

	authn := middleware.NewAuthenticator(store, cfg.Auth.BootstrapAPIKey, verifier, logger)

	// Create router
	router := api.NewRouter(store, publisher, authn, api.Roles{
		Packager: cfg.Auth.PackagerGroups,
		Admin:    cfg.Auth.AdminGroups,
	}, logger)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
