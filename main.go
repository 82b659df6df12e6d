package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sjsage522/estateworker/config"
	"sjsage522/estateworker/internal/fetch"
	"sjsage522/estateworker/internal/geo"
	"sjsage522/estateworker/internal/normalize"
	"sjsage522/estateworker/internal/pipeline"
	"sjsage522/estateworker/internal/source"
	"sjsage522/estateworker/internal/tracker"
	"sjsage522/estateworker/logger"
	"sjsage522/estateworker/services/audit"
	"sjsage522/estateworker/services/cache"
	"sjsage522/estateworker/services/metrics"
	"sjsage522/estateworker/services/proxy"
	"sjsage522/estateworker/services/publisher"
	"sjsage522/estateworker/services/storage"
	"sjsage522/estateworker/services/worker"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	sources, err := source.Load(cfg.SourcesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.SourcesPath).Msg("Failed to load sources")
	}
	tables := source.TypeTables{}
	if cfg.TypeTablePath != "" {
		tables, err = source.LoadTypeTables(cfg.TypeTablePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.TypeTablePath).Msg("Failed to load type tables")
		}
	}
	if err := tables.CheckReferences(sources); err != nil {
		log.Fatal().Err(err).Msg("Sources reference unknown type tables")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("mode", cfg.Mode).
		Int("source_count", len(sources)).
		Dur("run_interval", cfg.RunInterval).
		Msg("Starting application")

	// Cancel on SIGINT/SIGTERM; the runner still commits the seen set
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := initializeServices(ctx, &cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	runner := pipeline.NewRunner(sources, services.Registry, services.Seen, pipeline.Deps{
		Normalizer: normalize.New(tables),
		Store:      services.Store,
		Geocoder:   services.Geocoder,
		Cache:      services.Cache,
		Publisher:  services.Publisher,
		Audit:      services.Audit,
		Observer:   services.Metrics,
	}, pipeline.RunnerOptions{
		Mode:            cfg.Mode,
		WindowDays:      cfg.WindowDays,
		Parallelism:     cfg.DomainParallelism,
		RequireLocation: cfg.RequireLocation,
		UseFallback:     cfg.UseFallback,
		GeocodeCacheTTL: cfg.GeocodeCacheTTL,
	})

	var proxyStats worker.ProxyStats
	if services.Proxies != nil {
		proxyStats = services.Proxies
	}
	w := worker.NewWorker(runner, cfg.RunInterval, services.Metrics, proxyStats)

	log.Info().Msg("Starting estate worker")
	if err := w.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Worker exited with error")
		services.Cleanup()
		os.Exit(1)
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
}

// Services holds all the initialized services
type Services struct {
	Registry  *fetch.Registry
	Seen      tracker.Store
	Store     storage.Store
	Geocoder  pipeline.Geocoder
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Audit     audit.Sink
	Metrics   *metrics.Metrics
	Proxies   *proxy.Pool

	redis   *redis.Client
	pg      *storage.PostgresStore
	fetcher *fetch.HTTPFetcher
	server  *http.Server
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.server.Shutdown(shutdownCtx)
		cancel()
		s.server = nil
	}
	// The publisher owns the shared Redis client when there is one
	if s.Publisher != nil {
		s.Publisher.Close()
		s.Publisher = nil
	} else if s.redis != nil {
		s.redis.Close()
	}
	s.redis = nil
	if s.pg != nil {
		s.pg.Close()
		s.pg = nil
	}
	if s.fetcher != nil {
		s.fetcher.CloseIdle()
		s.fetcher = nil
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}
	log := logger.Default

	// Metrics and health endpoints
	reg := prometheus.NewRegistry()
	services.Metrics = metrics.New(reg)
	if cfg.MetricsAddr != "" {
		services.server = startMetricsServer(cfg.MetricsAddr, reg)
	}

	// Proxy pool
	var proxies fetch.ProxySource
	if cfg.ProxyListPath != "" {
		list, err := proxy.LoadFile(cfg.ProxyListPath)
		if err != nil {
			return nil, err
		}
		services.Proxies = proxy.NewPool(list, proxy.Options{
			TopK:                   cfg.ProxyTopK,
			MaxConsecutiveFailures: cfg.ProxyMaxFailures,
			RetestAfter:            cfg.ProxyRetestAfter,
		})
		if services.Proxies.Len() > 0 {
			proxies = services.Proxies
		}
		log.Info().Interface("proxy_stats", services.Proxies.Stats()).Msg("Proxy pool loaded")
	}

	// Memcache for geocode results and cooldown markers
	if !cfg.DisableCache {
		mc := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := mc.Ping(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unreachable, continuing without cache")
		} else {
			services.Cache = mc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	// Fetch registry
	var fetcher fetch.Fetcher
	if cfg.UseBrowser {
		fetcher = fetch.NewBrowserFetcher(os.Getenv("CHROME_PATH"))
	} else {
		services.fetcher = fetch.NewHTTPFetcher()
		fetcher = services.fetcher
	}
	services.Registry = fetch.NewRegistry(fetch.RegistryOptions{
		Scheduler: fetch.SchedulerConfig{
			Base:   cfg.BaseDelay,
			Min:    cfg.MinDelay,
			Max:    cfg.MaxDelay,
			Jitter: cfg.DelayJitter,
		},
		Policy: fetch.PolicyConfig{
			MaxRetries:      cfg.MaxRetries,
			RequestTimeout:  cfg.RequestTimeout,
			BlockedSleepMin: cfg.BlockedSleepMin,
			BlockedSleepMax: cfg.BlockedSleepMax,
			Concurrency:     cfg.DomainConcurrency,
			Cooldown:        cfg.BlockedCooldown,
		},
		RotateMinRequests: cfg.RotateMinRequests,
		RotateMaxRequests: cfg.RotateMaxRequests,
		AcceptLanguage:    cfg.AcceptLanguage,
		MinBodyBytes:      cfg.MinBodyBytes,
	}, fetcher, proxies, services.Cache, services.Metrics)

	// Redis backs the seen set and the listing streams
	if cfg.SeenBackend == "redis" || !cfg.DisablePublisher {
		services.redis = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := services.redis.Ping(ctx).Err(); err != nil {
			services.Cleanup()
			return nil, err
		}
		logger.Info("Connected to Redis at %s (DB: %d)", cfg.RedisAddr, cfg.RedisDB)
	}

	switch cfg.SeenBackend {
	case "redis":
		services.Seen = tracker.NewRedisStore(services.redis, cfg.SeenKey)
	default:
		services.Seen = tracker.NewFileStore(cfg.SeenPath)
	}

	if !cfg.DisablePublisher {
		services.Publisher = publisher.NewRedisPublisher(
			services.redis,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		logger.Info("Publishing listings to stream %s (shards: %d)", cfg.RedisStream, cfg.RedisStreamCount)
	}

	// Geocoding: Nominatim first, Google when a key is configured
	client := &http.Client{Timeout: cfg.GeocodeTimeout}
	var secondary geo.Provider
	if cfg.GoogleAPIKey != "" {
		secondary = geo.NewGoogleProvider(cfg.GoogleGeocodeURL, cfg.GoogleAPIKey, client)
	}
	services.Geocoder = geo.NewResolver(
		geo.NewNominatimProvider(cfg.NominatimURL, cfg.NominatimUserAgent, client),
		secondary,
		cfg.GeocodeTimeout,
	)

	// Listing store and audit trail
	sinks := audit.Multi{audit.NewFileSink(cfg.AuditFile)}
	if cfg.PostgresDSN != "" {
		pool, err := storage.OpenPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
		if err != nil {
			services.Cleanup()
			return nil, err
		}
		services.pg = storage.NewPostgresStore(pool)
		if err := services.pg.Migrate(ctx); err != nil {
			services.Cleanup()
			return nil, err
		}
		services.Store = services.pg
		sinks = append(sinks, services.pg)
		log.Info().Msg("Connected to Postgres")
	} else {
		logger.Warn("POSTGRES_DSN not set, listings are kept in memory only")
		services.Store = storage.NewMemoryStore()
	}
	services.Audit = sinks

	if services.Proxies != nil && services.Proxies.Len() > 0 {
		if probeURL := os.Getenv("PROXY_PROBE_URL"); probeURL != "" {
			services.Proxies.Probe(ctx, probeURL, cfg.RequestTimeout)
		}
	}

	return services, nil
}

func newRouter(reg *prometheus.Registry) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router
}

func startMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           newRouter(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.LogError("metrics", err, "Metrics server stopped")
		}
	}()
	logger.Info("Serving metrics on %s", addr)
	return server
}
