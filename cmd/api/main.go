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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"adstudio/internal/domain"
	"adstudio/internal/http/handlers"
	httpapi "adstudio/internal/http/httpapi"
	"adstudio/internal/infra"
	"adstudio/internal/infra/credentials"
	"adstudio/internal/infra/geoip"
	"adstudio/internal/infra/google"
	"adstudio/internal/middleware"
	"adstudio/internal/orchestrator"
	"adstudio/internal/providers/genai"
	"adstudio/internal/providers/image"
	"adstudio/internal/quota"
	"adstudio/internal/storage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		pool   *pgxpool.Pool
		runner *infra.SQLRunner
	)
	if cfg.DatabaseURL != "" {
		pool, err = infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		runner = infra.NewSQLRunner(pool, logger)
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedisClient(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
	}

	files, err := storage.NewFileStore(cfg.StorageRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare storage root")
	}

	history, err := newHistory(cfg, files, rdb, runner)
	if err != nil {
		logger.Fatal().Err(err).Msg("history backend")
	}
	quotaSvc, err := newQuotaService(cfg, runner)
	if err != nil {
		logger.Fatal().Err(err).Msg("quota backend")
	}

	keys := cfg.GeminiAPIKeys
	if len(keys) == 0 && runner != nil {
		keyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		keys, err = credentials.NewStore(runner).GeminiAPIKeys(keyCtx)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load gemini keys from database")
		}
	}
	client, err := genai.NewClient(genai.Options{
		APIKeys: keys,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build gemini client")
	}
	if client.Synthetic() {
		logger.Warn().Msg("no gemini api key configured, rendering synthetic composites")
	} else {
		logger.Info().Int("keys", client.KeyCount()).Str("model", client.Model()).Msg("gemini client ready")
	}

	validator := image.NewValidator(&http.Client{Timeout: cfg.Engine.ValidationTimeout}, cfg.Engine.ValidationTimeout)
	generator := image.NewGeminiGenerator(client, validator)
	gate := quota.NewGate(quotaSvc, &logger)
	archive := storage.NewArchive(files)

	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Generator: generator,
		History:   history,
		Gate:      gate,
		Archive:   archive,
		Templates: domain.Catalog,
		Engine:    cfg.Engine,
		Logger:    &logger,
	})
	defer registry.Close()

	app := &handlers.App{
		Config:    cfg,
		Logger:    &logger,
		Engines:   registry,
		Gate:      gate,
		Archive:   archive,
		Templates: domain.Catalog,
	}
	if cfg.GoogleClientID != "" {
		app.Google = google.NewVerifier(cfg.GoogleIssuer, cfg.GoogleClientID)
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
		defer resolver.Close()
	}

	server := infra.NewHTTPServer(cfg, httpapi.NewRouter(app, lookup))

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr()).Msg("api listening")
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newHistory(cfg *infra.Config, files *storage.FileStore, rdb *redis.Client, runner *infra.SQLRunner) (domain.HistoryRepository, error) {
	switch cfg.HistoryBackend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis history requires REDIS_URL")
		}
		return storage.NewRedisHistory(rdb, "", cfg.HistoryTTL), nil
	case "postgres":
		if runner == nil {
			return nil, errors.New("postgres history requires DATABASE_URL")
		}
		return storage.NewPGHistory(runner), nil
	default:
		return storage.NewFileHistory(files), nil
	}
}

func newQuotaService(cfg *infra.Config, runner *infra.SQLRunner) (domain.QuotaService, error) {
	switch cfg.QuotaBackend {
	case "http":
		return quota.NewHTTPService(cfg.QuotaServiceURL, cfg.QuotaToken, &http.Client{Timeout: 10 * time.Second}), nil
	case "postgres":
		if runner == nil {
			return nil, errors.New("postgres quota requires DATABASE_URL")
		}
		return quota.NewPGService(runner, cfg.QuotaDefaultMax), nil
	default:
		return quota.NewMemoryService(cfg.QuotaDefaultMax), nil
	}
}
