package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"adstudio/internal/infra"
	"adstudio/internal/infra/credentials"
)

type keyList []string

func (k *keyList) String() string { return strings.Join(*k, ",") }

func (k *keyList) Set(v string) error {
	*k = append(*k, v)
	return nil
}

func main() {
	_ = godotenv.Load()

	var (
		keys      keyList
		show      bool
		clearKeys bool
	)
	flag.Var(&keys, "key", "Gemini API key; repeat the flag or pass a comma separated list (falls back to GEMINI_API_KEYS)")
	flag.BoolVar(&show, "show", false, "print how many keys are stored and exit")
	flag.BoolVar(&clearKeys, "clear", false, "remove the stored key pool and exit")
	flag.Parse()

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "geminikey").Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if show {
		stored, err := store.GeminiAPIKeys(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read gemini api keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d gemini api key(s) stored\n", len(stored))
		return
	}

	if clearKeys {
		if err := store.ClearGeminiAPIKeys(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to clear gemini api keys: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("GEMINI API keys removed")
		return
	}

	if len(keys) == 0 {
		if env := strings.TrimSpace(os.Getenv("GEMINI_API_KEYS")); env != "" {
			keys = append(keys, env)
		} else if env := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); env != "" {
			keys = append(keys, env)
		}
	}
	if len(keys) == 0 {
		fmt.Fprintln(os.Stderr, "at least one key is required via -key or GEMINI_API_KEYS")
		os.Exit(1)
	}

	if err := store.SetGeminiAPIKeys(ctx, keys); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist gemini api keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("GEMINI API keys stored successfully")
}
