package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	StoreType       string
	DatabaseURL     string
	SQLitePath      string
	DevinAPIBase    string
	DevinAPIKey     string
	PollInterval    time.Duration
	PollMaxDuration time.Duration
	GitHubAPIBase   string
	GitHubToken     string
	ShutdownTimeout time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	storeType := normalizeStoreType(getEnv("STORE", ""), dbURL)
	if storeType == StorePostgres && dbURL == "" {
		log.Printf("STORE=postgres requires DATABASE_URL")
	}
	if env == "production" && os.Getenv("DEVIN_API_KEY") == "" {
		log.Printf("DEVIN_API_KEY is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		StoreType:       storeType,
		DatabaseURL:     dbURL,
		SQLitePath:      getEnv("DEVIN_DB_PATH", "./devin.db"),
		DevinAPIBase:    strings.TrimRight(getEnv("DEVIN_API_BASE", "https://api.devin.ai/v1"), "/"),
		DevinAPIKey:     os.Getenv("DEVIN_API_KEY"),
		PollInterval:    getDuration("DEVIN_POLL_INTERVAL", 15*time.Second),
		PollMaxDuration: getDuration("DEVIN_POLL_MAX_DURATION", 6*time.Hour),
		GitHubAPIBase:   strings.TrimRight(getEnv("GITHUB_API_BASE", "https://api.github.com"), "/"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		RateLimitRPS:    getFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:  getInt("RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if val, err := time.ParseDuration(raw); err == nil && val >= 0 {
		return val
	}
	// bare integers are seconds
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	log.Printf("config %s invalid duration %q, using %s", key, raw, def)
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config %s invalid float %q, using %g", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

// normalizeStoreType picks the store backend. An explicit STORE wins; otherwise a
// DATABASE_URL selects Postgres and everything else falls back to SQLite.
func normalizeStoreType(raw, databaseURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg", "postgresql":
		return StorePostgres
	case "memory", "mem":
		return StoreMemory
	case "sqlite", "sqlite3":
		return StoreSQLite
	}
	if strings.TrimSpace(databaseURL) != "" {
		return StorePostgres
	}
	return StoreSQLite
}
