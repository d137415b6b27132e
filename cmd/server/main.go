// Package main is the entrypoint for the LLM-Shield core API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lidorpahima/llmshield/internal/api"
	"github.com/lidorpahima/llmshield/internal/api/handler"
	mw "github.com/lidorpahima/llmshield/internal/api/middleware"
	"github.com/lidorpahima/llmshield/internal/api/response"
	"github.com/lidorpahima/llmshield/internal/cache"
	"github.com/lidorpahima/llmshield/internal/config"
	"github.com/lidorpahima/llmshield/internal/gateway"
	"github.com/lidorpahima/llmshield/internal/keys"
	"github.com/lidorpahima/llmshield/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "gateway", cfg.Gateway.BaseURL, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create the remote gateway client. The gateway being down at boot is
	// not fatal; lifecycle operations classify that per call.
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)
	if err := gw.Ready(ctx); err != nil {
		slog.Warn("security gateway not reachable at startup", "error", err)
	} else {
		slog.Info("security gateway reachable")
	}

	// 6. Create store and lifecycle service
	pgStore := store.NewPostgresStore(pool)
	lifecycle := keys.NewService(pgStore, gw, redisCache)

	// 7. Build router with dependencies
	auth := mw.NewAuth([]byte(cfg.Auth.JWTSecret))
	internalAuth := mw.NewInternalAuth(cfg.Auth.InternalSecret)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:         auth,
		InternalAuth: internalAuth,
		RateLimit:    rateLimit,

		HealthHandler: healthHandler(pgStore, redisCache, gw),

		CreateKeyHandler: handler.NewCreateKeyHandler(lifecycle),
		ListKeysHandler:  handler.NewListKeysHandler(lifecycle),
		GetKeyHandler:    handler.NewGetKeyHandler(lifecycle),
		UpdateKeyHandler: handler.NewUpdateKeyHandler(lifecycle),
		DeleteKeyHandler: handler.NewDeleteKeyHandler(lifecycle),

		ListActivityHandler:   handler.NewListActivityHandler(pgStore),
		ResolveKeyHandler:     handler.NewResolveKeyHandler(lifecycle),
		RecordActivityHandler: handler.NewRecordActivityHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache, and gateway connectivity. The gateway
// being down degrades health but the resolve path keeps serving from store
// and cache.
func healthHandler(s store.Store, c cache.Cache, gw gateway.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"gateway":  "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := gw.Ready(r.Context()); err != nil {
			checks["gateway"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
