package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"adstudio/internal/domain"
	"adstudio/internal/infra"
	"adstudio/internal/quota"
)

func main() {
	_ = godotenv.Load()

	var (
		emailFlag string
		maxFlag   int
		resetFlag bool
	)
	flag.StringVar(&emailFlag, "email", "", "verified email whose regeneration quota is managed")
	flag.IntVar(&maxFlag, "max", 0, "new regeneration ceiling (<=0 keeps the current one)")
	flag.BoolVar(&resetFlag, "reset", false, "zero the used regeneration count")
	flag.Parse()

	email := strings.ToLower(strings.TrimSpace(emailFlag))
	if email == "" {
		exitWithError(errors.New("-email is required"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "quotaadmin").Logger()
	svc := quota.NewPGService(infra.NewSQLRunner(pool, logger), quota.DefaultMaxRegenerations)

	var status domain.QuotaStatus
	if maxFlag > 0 {
		if status, err = svc.SetCeiling(ctx, email, maxFlag); err != nil {
			exitWithError(fmt.Errorf("failed to set ceiling: %w", err))
		}
	}
	if resetFlag {
		if status, err = svc.Reset(ctx, email); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				exitWithError(fmt.Errorf("no quota row for %s", email))
			}
			exitWithError(fmt.Errorf("failed to reset quota: %w", err))
		}
	}
	if maxFlag <= 0 && !resetFlag {
		if status, err = svc.CanRegenerate(ctx, email); err != nil {
			exitWithError(fmt.Errorf("failed to read quota: %w", err))
		}
	}

	fmt.Printf("%s used=%d max=%d can_proceed=%t\n", email, status.Used, status.Max, status.CanProceed)
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
