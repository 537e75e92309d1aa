package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/orchestrator"
	"adstudio/internal/providers/genai"
	"adstudio/internal/providers/image"
	"adstudio/internal/quota"
	"adstudio/internal/session"
	"adstudio/internal/storage"
	"adstudio/pkg/zip"
)

// render runs one generation for a logo file without the HTTP layer and
// writes the finished composites as a zip.
func main() {
	_ = godotenv.Load()

	var (
		logoPath string
		outPath  string
		owner    string
	)
	flag.StringVar(&logoPath, "logo", "", "path to the logo image (png, jpeg, gif or webp)")
	flag.StringVar(&outPath, "out", "", "zip destination (default <run-id>.zip)")
	flag.StringVar(&owner, "owner", "cli", "history owner the run is recorded under")
	flag.Parse()

	if strings.TrimSpace(logoPath) == "" {
		exitWithError(fmt.Errorf("-logo is required"))
	}
	data, err := os.ReadFile(logoPath)
	if err != nil {
		exitWithError(fmt.Errorf("read logo: %w", err))
	}

	// Only the engine and storage settings matter here.
	if os.Getenv("JWT_SECRET") == "" {
		_ = os.Setenv("JWT_SECRET", "render-cli")
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "render").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.NewFileStore(cfg.StorageRoot)
	if err != nil {
		logger.Fatal().Err(err).Msg("render: failed to configure storage")
	}
	client, err := genai.NewClient(genai.Options{
		APIKeys: cfg.GeminiAPIKeys,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("render: gemini client")
	}
	if client.Synthetic() {
		logger.Warn().Msg("render: no gemini api key, using synthetic composites")
	}

	validator := image.NewValidator(&http.Client{Timeout: cfg.Engine.ValidationTimeout}, cfg.Engine.ValidationTimeout)
	registry := orchestrator.NewRegistry(orchestrator.Deps{
		Generator: image.NewGeminiGenerator(client, validator),
		History:   storage.NewFileHistory(files),
		Gate:      quota.NewGate(quota.NewMemoryService(cfg.QuotaDefaultMax), &logger),
		Templates: domain.Catalog,
		Engine:    cfg.Engine,
		Logger:    &logger,
	})
	defer registry.Close()

	engine, err := registry.Get(ctx, owner)
	if err != nil {
		logger.Fatal().Err(err).Msg("render: engine")
	}

	events, unwatch := engine.Session().Watch()
	defer unwatch()

	run, err := engine.GenerateAll(domain.LogoRef{
		Name:     filepath.Base(logoPath),
		MIMEType: http.DetectContentType(data),
		Data:     data,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("render: start run")
	}
	logger.Info().Str("run_id", run.ID).Int("templates", len(run.Results)).Msg("render: run started")

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()

	finished := 0
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Warn().Msg("render: interrupted, writing what finished")
			break wait
		case <-done:
			break wait
		case ev, ok := <-events:
			if !ok {
				break wait
			}
			if ev.Kind != session.EventJobUpdated || ev.RunID != run.ID || ev.Job == nil || ev.Job.Status == domain.JobStatusLoading {
				continue
			}
			finished++
			logger.Info().Str("template", ev.Job.TemplateID).Str("status", string(ev.Job.Status)).Int("done", finished).Msg("render: template finished")
		}
	}

	final, ok := engine.Session().Run(run.ID)
	if !ok {
		final = run
	}
	assets := storage.RunAssets(final)
	if len(assets) == 0 {
		exitWithError(fmt.Errorf("run %s produced no images", run.ID))
	}
	archive, err := zip.ArchiveAssets(assets)
	if err != nil {
		exitWithError(err)
	}
	if outPath == "" {
		outPath = run.ID + ".zip"
	}
	if err := os.WriteFile(outPath, archive, 0o644); err != nil {
		exitWithError(fmt.Errorf("write zip: %w", err))
	}
	fmt.Printf("%d of %d images written to %s\n", len(assets), len(final.Results), outPath)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
