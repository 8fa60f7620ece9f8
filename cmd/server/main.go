package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/redis/go-redis/v9"

	"github.com/booksapi/booksapi/internal/api"
	"github.com/booksapi/booksapi/internal/auth"
	"github.com/booksapi/booksapi/internal/config"
	"github.com/booksapi/booksapi/internal/db"
	"github.com/booksapi/booksapi/internal/feed"
	"github.com/booksapi/booksapi/internal/health"
	"github.com/booksapi/booksapi/internal/logger"
	"github.com/booksapi/booksapi/internal/metrics"
	"github.com/booksapi/booksapi/internal/ratelimit"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error(context.Background(), "server stopped with error", err)
		os.Exit(1)
	}
	log.Info(context.Background(), "server stopped")
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	displayBanner("books api")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.SecretGenerated {
		log.Warn(ctx, "SECRET_KEY not set, using a random secret; tokens will not survive a restart")
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var redisClient redis.UniversalClient
	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendRedis:
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient, "")
	default:
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitWindow)
		defer mem.Close()
		limiter = mem
	}

	codec, err := auth.NewCodec(auth.TokenConfig{
		Secret:     cfg.SecretKey,
		Algorithm:  cfg.Algorithm,
		AccessTTL:  cfg.AccessTokenExpiry,
		RefreshTTL: cfg.RefreshTokenExpiry,
	})
	if err != nil {
		return fmt.Errorf("token codec: %w", err)
	}

	m := metrics.Default()
	authService := auth.NewService(db.NewUserRepository(database), auth.NewPasswordHasher(cfg.BcryptCost), codec, log, m)
	hub := feed.NewHub()

	router := api.NewRouter(api.Deps{
		Config:  cfg,
		Auth:    authService,
		Books:   db.NewBookRepository(database),
		Limiter: limiter,
		Hub:     hub,
		Health: health.NewChecker(&health.CheckerConfig{
			DB:      database.DB,
			Redis:   redisClient,
			Version: version,
		}),
		Metrics: m,
		Logger:  log,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Feed streams never finish on their own.
	server.RegisterOnShutdown(hub.CloseAll)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"addr":       cfg.ServerAddr,
			"prefix":     cfg.RoutePrefix(),
			"rate_limit": cfg.RateLimitBackend,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func displayBanner(name string) {
	banner := figure.NewFigure(name, "cybermedium", true)
	banner.Print()
	fmt.Println()
}
