package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sjsage522/estateworker/pkg/errors"
)

// Run modes
const (
	ModeDaily    = "daily"
	ModeFull     = "full"
	ModeBackfill = "backfill"
)

// Config represents the application configuration
type Config struct {
	Environment string
	Mode        string

	// Declarative inputs
	SourcesPath   string
	TypeTablePath string
	ProxyListPath string

	// Seen-set persistence
	SeenBackend string
	SeenPath    string
	SeenKey     string

	// Monitoring window in days for daily mode (1 = today only)
	WindowDays int

	// Redis configuration
	RedisAddr            string
	RedisDB              int
	RedisStream          string
	RedisStreamCount     int
	RedisStreamMaxLength int

	// Memcache configuration
	MemcacheAddr     string
	GeocodeCacheTTL  time.Duration
	BlockedCooldown  time.Duration
	DisableCache     bool
	DisablePublisher bool

	// Postgres configuration
	PostgresDSN      string
	PostgresMaxConns int
	AuditFile        string

	// Fetch policy
	BaseDelay         time.Duration
	MinDelay          time.Duration
	MaxDelay          time.Duration
	DelayJitter       float64
	BlockedSleepMin   time.Duration
	BlockedSleepMax   time.Duration
	RotateMinRequests int
	RotateMaxRequests int
	MaxRetries        int
	RequestTimeout    time.Duration
	MinBodyBytes      int
	ProxyTopK         int
	ProxyMaxFailures  int
	ProxyRetestAfter  time.Duration
	DomainConcurrency int
	DomainParallelism int
	UseBrowser        bool
	AcceptLanguage    string

	// Geocoding
	NominatimURL       string
	NominatimUserAgent string
	GoogleGeocodeURL   string
	GoogleAPIKey       string
	GeocodeTimeout     time.Duration
	RequireLocation    bool
	UseFallback        bool

	// Process
	RunInterval time.Duration
	MetricsAddr string
}

// LoadConfig loads the configuration from environment variables with defaults
func LoadConfig() Config {
	return Config{
		Environment: getEnv("HARVEST_ENVIRONMENT", "development"),
		Mode:        strings.ToLower(getEnv("HARVEST_MODE", ModeDaily)),

		SourcesPath:   getEnv("SOURCES_PATH", "sources.yaml"),
		TypeTablePath: getEnv("TYPE_TABLE_PATH", "types.yaml"),
		ProxyListPath: getEnv("PROXY_LIST_PATH", ""),

		SeenBackend: getEnv("SEEN_BACKEND", "file"),
		SeenPath:    getEnv("SEEN_PATH", "seen_keys.txt"),
		SeenKey:     getEnv("SEEN_KEY", "estate:seen"),

		WindowDays: getEnvInt("WINDOW_DAYS", 1),

		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:              getEnvInt("REDIS_DB", 0),
		RedisStream:          getEnv("REDIS_STREAM", "listings"),
		RedisStreamCount:     getEnvInt("REDIS_STREAM_COUNT", 1),
		RedisStreamMaxLength: getEnvInt("REDIS_STREAM_MAX_LENGTH", 10000),

		MemcacheAddr:     getEnv("MEMCACHE_ADDR", "localhost:11211"),
		GeocodeCacheTTL:  getEnvDuration("GEOCODE_CACHE_TTL", 7*24*time.Hour),
		BlockedCooldown:  getEnvDuration("BLOCKED_COOLDOWN", 10*time.Minute),
		DisableCache:     getEnvBool("DISABLE_CACHE", false),
		DisablePublisher: getEnvBool("DISABLE_PUBLISHER", false),

		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		PostgresMaxConns: getEnvInt("POSTGRES_MAX_CONNS", 4),
		AuditFile:        getEnv("AUDIT_FILE", "harvest_audit.jsonl"),

		BaseDelay:         getEnvDuration("FETCH_BASE_DELAY", 5*time.Second),
		MinDelay:          getEnvDuration("FETCH_MIN_DELAY", 2*time.Second),
		MaxDelay:          getEnvDuration("FETCH_MAX_DELAY", 30*time.Second),
		DelayJitter:       getEnvFloat("FETCH_DELAY_JITTER", 0.2),
		BlockedSleepMin:   getEnvDuration("FETCH_BLOCKED_SLEEP_MIN", 30*time.Second),
		BlockedSleepMax:   getEnvDuration("FETCH_BLOCKED_SLEEP_MAX", 90*time.Second),
		RotateMinRequests: getEnvInt("FETCH_ROTATE_MIN_REQUESTS", 30),
		RotateMaxRequests: getEnvInt("FETCH_ROTATE_MAX_REQUESTS", 60),
		MaxRetries:        getEnvInt("FETCH_MAX_RETRIES", 3),
		RequestTimeout:    getEnvDuration("FETCH_REQUEST_TIMEOUT", 30*time.Second),
		MinBodyBytes:      getEnvInt("FETCH_MIN_BODY_BYTES", 1000),
		ProxyTopK:         getEnvInt("PROXY_TOP_K", 5),
		ProxyMaxFailures:  getEnvInt("PROXY_MAX_FAILURES", 3),
		ProxyRetestAfter:  getEnvDuration("PROXY_RETEST_AFTER", 15*time.Minute),
		DomainConcurrency: getEnvInt("DOMAIN_CONCURRENCY", 1),
		DomainParallelism: getEnvInt("DOMAIN_PARALLELISM", 4),
		UseBrowser:        getEnvBool("FETCH_USE_BROWSER", false),
		AcceptLanguage:    getEnv("FETCH_ACCEPT_LANGUAGE", "zh-HK,zh;q=0.9,en-US;q=0.8,en;q=0.7"),

		NominatimURL:       getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org/search"),
		NominatimUserAgent: getEnv("NOMINATIM_USER_AGENT", "estateworker/1.0"),
		GoogleGeocodeURL:   getEnv("GOOGLE_GEOCODE_URL", "https://maps.googleapis.com/maps/api/geocode/json"),
		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		GeocodeTimeout:     getEnvDuration("GEOCODE_TIMEOUT", 10*time.Second),
		RequireLocation:    getEnvBool("GEOCODE_REQUIRE_LOCATION", false),
		UseFallback:        getEnvBool("GEOCODE_USE_FALLBACK", false),

		RunInterval: getEnvDuration("RUN_INTERVAL", 0),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}
}

// Validate checks the configuration for inconsistent values
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeDaily, ModeFull, ModeBackfill:
	default:
		return errors.NewConfiguration(fmt.Sprintf("unknown HARVEST_MODE %q", c.Mode), nil)
	}

	switch c.SeenBackend {
	case "file":
		if c.SeenPath == "" {
			return errors.NewConfiguration("SEEN_PATH is required for the file backend", nil)
		}
	case "redis":
		if c.SeenKey == "" {
			return errors.NewConfiguration("SEEN_KEY is required for the redis backend", nil)
		}
	default:
		return errors.NewConfiguration(fmt.Sprintf("unknown SEEN_BACKEND %q", c.SeenBackend), nil)
	}

	if c.SourcesPath == "" {
		return errors.NewConfiguration("SOURCES_PATH is required", nil)
	}
	if c.MinDelay <= 0 || c.BaseDelay < c.MinDelay || c.MaxDelay < c.BaseDelay {
		return errors.NewConfiguration("fetch delays must satisfy 0 < min <= base <= max", nil)
	}
	if c.DelayJitter < 0 || c.DelayJitter >= 1 {
		return errors.NewConfiguration("FETCH_DELAY_JITTER must be in [0, 1)", nil)
	}
	if c.BlockedSleepMax < c.BlockedSleepMin {
		return errors.NewConfiguration("FETCH_BLOCKED_SLEEP_MAX must not be below the minimum", nil)
	}
	if c.RotateMinRequests <= 0 || c.RotateMaxRequests < c.RotateMinRequests {
		return errors.NewConfiguration("session rotation bounds are invalid", nil)
	}
	if c.MaxRetries < 0 {
		return errors.NewConfiguration("FETCH_MAX_RETRIES must not be negative", nil)
	}
	if c.DomainConcurrency < 1 || c.DomainParallelism < 1 {
		return errors.NewConfiguration("domain concurrency and parallelism must be at least 1", nil)
	}
	if c.RequireLocation && c.UseFallback {
		return errors.NewConfiguration("GEOCODE_REQUIRE_LOCATION and GEOCODE_USE_FALLBACK are mutually exclusive", nil)
	}
	if c.WindowDays < 1 {
		return errors.NewConfiguration("WINDOW_DAYS must be at least 1", nil)
	}
	return nil
}

// IsProduction reports whether the process runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go duration strings ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
