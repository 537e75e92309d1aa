package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	RedisURL         string
	JWTSecret        string
	JWTIssuer        string
	TokenTTL         time.Duration
	GoogleClientID   string
	GoogleIssuer     string
	CORSOrigins      []string
	StorageRoot      string
	GeoIPDBPath      string
	DefaultLocale    string
	GeminiAPIKeys    []string
	GeminiModel      string
	GeminiBaseURL    string
	QuotaBackend     string
	QuotaServiceURL  string
	QuotaToken       string
	QuotaDefaultMax  int
	HistoryBackend   string
	HistoryTTL       time.Duration
	MaxLogoBytes     int64
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	Engine           EngineConfig
}

// EngineConfig holds the generation engine tunables.
type EngineConfig struct {
	BatchSize               int
	MaxAttempts             int
	BaseDelay               time.Duration
	MaxDelay                time.Duration
	RateLimitDelay          time.Duration
	RateLimitMaxAttempts    int
	QueueMaxSize            int
	QueueInterval           time.Duration
	QueueConcurrency        int
	QueueMaxAge             time.Duration
	HistoryCap              int
	PersistCap              int
	PersistFallbackCap      int
	ValidationTimeout       time.Duration
	SurfaceSingleItemErrors bool
	// IdleTTL closes a session engine unused for this long; zero keeps engines
	// until shutdown.
	IdleTTL time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTIssuer:        getEnv("JWT_ISSUER", "adstudio"),
		TokenTTL:         getEnvDuration("TOKEN_TTL", 24*time.Hour),
		GoogleClientID:   os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleIssuer:     getEnv("GOOGLE_ISSUER", "https://accounts.google.com"),
		CORSOrigins:      getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		StorageRoot:      getEnv("STORAGE_ROOT", "./storage"),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		DefaultLocale:    getEnv("DEFAULT_LOCALE", "en"),
		GeminiAPIKeys:    getEnvList("GEMINI_API_KEYS", getEnvList("GEMINI_API_KEY", nil)),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		QuotaBackend:     strings.ToLower(getEnv("QUOTA_BACKEND", "memory")),
		QuotaServiceURL:  os.Getenv("QUOTA_SERVICE_URL"),
		QuotaToken:       os.Getenv("QUOTA_SERVICE_TOKEN"),
		QuotaDefaultMax:  getEnvInt("QUOTA_DEFAULT_MAX", 3),
		HistoryBackend:   strings.ToLower(getEnv("HISTORY_BACKEND", "file")),
		HistoryTTL:       getEnvDuration("HISTORY_TTL", 30*24*time.Hour),
		MaxLogoBytes:     int64(getEnvInt("MAX_LOGO_BYTES", 5<<20)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		Engine: EngineConfig{
			BatchSize:               getEnvInt("ENGINE_BATCH_SIZE", 10),
			MaxAttempts:             getEnvInt("ENGINE_MAX_ATTEMPTS", 10),
			BaseDelay:               getEnvDuration("ENGINE_BASE_DELAY", 2*time.Second),
			MaxDelay:                getEnvDuration("ENGINE_MAX_DELAY", 60*time.Second),
			RateLimitDelay:          getEnvDuration("ENGINE_RATE_LIMIT_DELAY", 2*time.Second),
			RateLimitMaxAttempts:    getEnvInt("ENGINE_RATE_LIMIT_MAX_ATTEMPTS", 2),
			QueueMaxSize:            getEnvInt("RETRY_QUEUE_MAX_SIZE", 50),
			QueueInterval:           getEnvDuration("RETRY_QUEUE_INTERVAL", 5*time.Second),
			QueueConcurrency:        getEnvInt("RETRY_QUEUE_CONCURRENCY", 3),
			QueueMaxAge:             getEnvDuration("RETRY_QUEUE_MAX_AGE", 30*time.Minute),
			HistoryCap:              getEnvInt("HISTORY_CAP", 15),
			PersistCap:              getEnvInt("HISTORY_PERSIST_CAP", 10),
			PersistFallbackCap:      getEnvInt("HISTORY_PERSIST_FALLBACK_CAP", 5),
			ValidationTimeout:       getEnvDuration("IMAGE_VALIDATION_TIMEOUT", 10*time.Second),
			SurfaceSingleItemErrors: getEnvBool("SURFACE_SINGLE_ITEM_ERRORS", false),
			IdleTTL:                 getEnvDuration("ENGINE_IDLE_TTL", 30*time.Minute),
		},
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	switch cfg.QuotaBackend {
	case "memory", "http", "postgres":
	default:
		return nil, fmt.Errorf("QUOTA_BACKEND %q is not supported", cfg.QuotaBackend)
	}
	switch cfg.HistoryBackend {
	case "file", "redis", "postgres":
	default:
		return nil, fmt.Errorf("HISTORY_BACKEND %q is not supported", cfg.HistoryBackend)
	}

	if (cfg.QuotaBackend == "postgres" || cfg.HistoryBackend == "postgres") && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for postgres backends")
	}
	if cfg.HistoryBackend == "redis" && cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required for the redis history backend")
	}
	if cfg.QuotaBackend == "http" && cfg.QuotaServiceURL == "" {
		return nil, fmt.Errorf("QUOTA_SERVICE_URL is required for the http quota backend")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
