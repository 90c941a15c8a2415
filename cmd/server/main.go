// Panelbridge - per-session outbound message delivery engine server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/panelbridge/internal/api"
	"github.com/ashureev/panelbridge/internal/config"
	"github.com/ashureev/panelbridge/internal/delivery"
	"github.com/ashureev/panelbridge/internal/identity"
	"github.com/ashureev/panelbridge/internal/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	deliveryCfg := delivery.Config{
		LockTimeout:    cfg.LockTimeout,
		StrongLifetime: cfg.StrongLifetime,
		SoftLifetime:   cfg.SoftLifetime,
		PingInterval:   cfg.PingInterval,
		GraceWindow:    cfg.GraceWindow,
		SoftCapacity:   cfg.SoftCapacity,
	}
	registry := delivery.NewRegistry(deliveryCfg, delivery.SystemClock{}, logger)

	panelHandler := api.NewPanelHandler(registry, cfg.FrontendURL, cfg.IsDevelopment(), cfg.PingInterval)
	healthHandler := api.NewDeliveryHealthHandler(registry)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	panelHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout; long-poll and WebSocket attachments outlive a fixed deadline
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Scheduler: periodic tick (idle pings / batch timeouts) and reap.
	go runScheduler(ctx, registry, cfg.PingInterval, cfg.ReapInterval, cfg.GraceWindow)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	registry.Drain(drainCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// runScheduler periodically ticks every session (idle pings, batch
// timeouts, expiry housekeeping) and reaps sessions that have sat empty and
// unattached past the grace window.
func runScheduler(ctx context.Context, registry *delivery.Registry, tickInterval, reapInterval, graceWindow time.Duration) {
	tickTicker := time.NewTicker(tickInterval)
	defer tickTicker.Stop()
	reapTicker := time.NewTicker(reapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickTicker.C:
			registry.ForEachTick(ctx)
		case <-reapTicker.C:
			registry.Reap(time.Now(), graceWindow)
		}
	}
}
