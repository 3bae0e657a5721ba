package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/pathlighthq/pathlight/internal/config"
	"github.com/pathlighthq/pathlight/internal/server/billing"
	"github.com/pathlighthq/pathlight/internal/server/billing/journal"
	"github.com/pathlighthq/pathlight/internal/server/handlers"
	"github.com/pathlighthq/pathlight/internal/server/middleware"
	"github.com/pathlighthq/pathlight/internal/server/storage/sqlite"
	"github.com/pathlighthq/pathlight/internal/server/token"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pathlight: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	logger.Info("starting pathlight server",
		"version", Version,
		"addr", cfg.Server.Addr,
		"billing_configured", cfg.Billing.Configured(),
		"admin_configured", cfg.Admin.Configured(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	tokens := token.NewService(logger, store, token.Config{
		Secret:          []byte(cfg.Auth.JWTSecret),
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
	})

	// Billing wiring is feature scoped: without provider credentials the
	// endpoints answer "not configured" and everything else keeps working.
	var (
		gateway     billing.Gateway
		reconciler  *billing.Reconciler
		eventLister handlers.EventLister
	)
	if cfg.Billing.Configured() || cfg.Billing.WebhookConfigured() {
		events, err := journal.Open(cfg.Storage.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open event journal: %w", err)
		}
		defer func() {
			if err := events.Close(); err != nil {
				logger.Error("failed to close event journal", "error", err)
			}
		}()

		stripe := billing.NewStripeGateway(logger, cfg.Billing)
		gateway = stripe
		reconciler = billing.NewReconciler(logger, stripe, store, store, events, cfg.Billing)
		eventLister = events
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:         handlers.NewAuthHandler(logger, store, tokens),
		Account:      handlers.NewAccountHandler(logger, store),
		Billing:      handlers.NewBillingHandler(logger, store, gateway, cfg.Billing),
		Webhook:      handlers.NewWebhookHandler(logger, gateway, reconciler, cfg.Billing.WebhookConfigured()),
		Admin:        handlers.NewAdminHandler(logger, store, store, tokens, reconciler, eventLister),
		Health:       handlers.NewHealthHandler(logger, store.DB(), Version),
		Authenticate: middleware.Authenticate(logger, tokens, store),
		AdminAuth:    middleware.AdminAuth(logger, cfg.Admin),
	})

	// Credential endpoints get tighter rate limits than the rest of the API
	var handler http.Handler = router
	handler = middleware.RateLimitByPathMiddleware([]middleware.PathRateLimit{
		{Path: "/api/v1/auth/signup", Rate: cfg.Auth.RateLimit, Window: cfg.Auth.RateLimitWindow},
		{Path: "/api/v1/auth/login", Rate: cfg.Auth.RateLimit, Window: cfg.Auth.RateLimitWindow},
		{Path: "/api/v1/auth/refresh", Rate: cfg.Auth.RateLimit, Window: cfg.Auth.RateLimitWindow},
	}, 300, cfg.Auth.RateLimitWindow, logger)(handler)
	handler = middleware.LoggingWithSkip(logger, []string{"/api/v1/health"})(handler)
	handler = middleware.RecoveryMiddleware(logger)(handler)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Auth.SweepSchedule, func() {
		if _, err := tokens.CleanupExpiredTokens(context.Background()); err != nil {
			logger.Error("scheduled token sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", cfg.Auth.SweepSchedule, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("server stopped")
	return nil
}

// newLogger builds the process logger. JSON output, level from config.
func newLogger(level string) *slog.Logger {
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

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func printVersion() {
	fmt.Printf("Pathlight Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
