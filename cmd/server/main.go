// Command calsync-server starts the calendar sync HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/venuehq/calsync/internal/calendar"
	"github.com/venuehq/calsync/internal/config"
	"github.com/venuehq/calsync/internal/crypto/tokencipher"
	"github.com/venuehq/calsync/internal/limiter"
	"github.com/venuehq/calsync/internal/migrate"
	"github.com/venuehq/calsync/internal/repository/postgres"
	"github.com/venuehq/calsync/internal/server/httpapi"
	"github.com/venuehq/calsync/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration, runs migrations, and starts the HTTP server.
func main() {
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			logger.Fatal("load env file", zap.Error(err))
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	bookingRepo := postgres.NewBookingRepo(db)
	credRepo := postgres.NewCredentialRepo(db)
	venueRepo := postgres.NewVenueRepo(db)

	lim := limiter.NewPGWithQuerier(db.Pool, time.Minute, 30, 5*time.Minute)

	cipher, err := tokencipher.New(cfg.TokenPassphrase)
	if err != nil {
		logger.Fatal("token cipher", zap.Error(err))
	}

	provider := calendar.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret)

	// Services
	syncSvc := service.NewSyncService(bookingRepo, credRepo, venueRepo, provider, cipher, logger)

	app := httpapi.New(syncSvc, lim, []byte(cfg.JWTSigningKey), cfg.AllowedOrigins(), logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}

	logger.Info("shutdown complete")
}
