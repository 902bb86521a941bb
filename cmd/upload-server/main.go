package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/lmittmann/tint"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-upload/migrations"
	"github.com/tendant/simple-upload/pkg/simpleupload"
	"github.com/tendant/simple-upload/pkg/simpleupload/api"
	"github.com/tendant/simple-upload/pkg/simpleupload/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations before serving (postgres only)")
	envFile := flag.String("env-file", "", "optional .env file to load before reading the environment")
	flag.Parse()

	opts := []config.Option{}
	if *envFile != "" {
		opts = append(opts, config.WithDotEnv(*envFile))
	}
	opts = append(opts, config.WithEnv())

	cfg, err := config.Load(opts...)
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.IsProduction(), os.Stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrate, logger); err != nil {
		logger.Error("Server stopped with error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ServerConfig, migrate bool, logger *slog.Logger) error {
	if migrate && cfg.DatabaseType == "postgres" {
		logger.Info("Applying migrations", "schema", cfg.DBSchema)
		if err := migrations.Up(ctx, cfg.DatabaseURL, cfg.DBSchema); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	svc, closeService, err := cfg.BuildService(ctx, simpleupload.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer closeService()

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)

	if err := mountRoutes(server.R, cfg, svc, logger); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.R,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Upload server listening",
			"addr", httpServer.Addr,
			"environment", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.Storage.Type)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down upload server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// mountRoutes exposes the tusd hook at /hooks and the admin API under /api/v1.
// The hook endpoint is called by tusd itself and is not behind the API key.
func mountRoutes(r chi.Router, cfg *config.ServerConfig, svc simpleupload.Service, logger *slog.Logger) error {
	apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
		APIKeys: map[string]string{
			"key1": cfg.APIKeySHA256,
		},
	})
	if err != nil {
		return fmt.Errorf("api key middleware: %w", err)
	}

	r.Group(func(r chi.Router) {
		r.Use(api.LoggingMiddleware(logger))
		api.MountHooks(r, svc, logger)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.LoggingMiddleware(logger))
		r.Use(corsHandler(cfg.CORSAllowedOrigins))
		api.MountAdmin(r, svc, logger, apiKeyMiddleware)
	})
	return nil
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

func newLogger(production bool, w io.Writer) *slog.Logger {
	if production {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	}))
}
