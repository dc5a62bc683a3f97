package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment
// variables. It is constructed once at process start and passed by
// reference; no package reads the environment after LoadConfig returns.
type Config struct {
	AppEnv string
	Port   string

	// Free-trial allowance. The ASTROBOT_ prefix is kept from the
	// backend these settings originated in.
	FreeTriesPerPeriod  int
	FreeTriesPeriodDays int

	// Supabase PostgREST backing store. Both must be present for the
	// REST adapter to engage.
	SupabaseURL        string
	SupabaseServiceKey string
	StoreTimeout       time.Duration

	// Direct Postgres access. Takes precedence over the REST adapter
	// when set; also used by the grantcredits CLI.
	DatabaseURL string

	// Optional collaborators.
	RedisURL    string
	GeoIPDBPath string
	IPSalt      string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. No setting is mandatory: with neither a Supabase
// endpoint nor a database URL the service runs the stub store and gates on
// free tries alone.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:              getEnv("APP_ENV", "development"),
		Port:                getEnv("PORT", "8080"),
		FreeTriesPerPeriod:  getEnvInt("ASTROBOT_FREE_TRIES_PER_PERIOD", 2),
		FreeTriesPeriodDays: getEnvInt("ASTROBOT_FREE_TRIES_PERIOD_DAYS", 1),
		SupabaseURL:         os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey:  os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		StoreTimeout:        time.Second * time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 5)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		GeoIPDBPath:         os.Getenv("GEOIP_DB_PATH"),
		IPSalt:              getEnv("IP_SALT", "changeme-long-random-string"),
		HTTPReadTimeout:     time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:    time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:     time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:     getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:      splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.FreeTriesPerPeriod < 0 {
		return nil, fmt.Errorf("ASTROBOT_FREE_TRIES_PER_PERIOD must be >= 0")
	}
	if cfg.FreeTriesPeriodDays < 1 {
		return nil, fmt.Errorf("ASTROBOT_FREE_TRIES_PERIOD_DAYS must be >= 1")
	}

	return cfg, nil
}

// SupabaseConfigured reports whether the PostgREST adapter can run in
// backed mode: endpoint and credential both present.
func (c *Config) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
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
