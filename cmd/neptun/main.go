package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/neptunmap/neptun/config"
	"github.com/neptunmap/neptun/internal/api"
	"github.com/neptunmap/neptun/internal/database"
	"github.com/neptunmap/neptun/internal/geocoder"
	"github.com/neptunmap/neptun/internal/logger"
	"github.com/neptunmap/neptun/internal/maintenance"
	"github.com/neptunmap/neptun/internal/merger"
	"github.com/neptunmap/neptun/internal/metrics"
	middlewares "github.com/neptunmap/neptun/internal/middleware"
	"github.com/neptunmap/neptun/internal/parser"
	"github.com/neptunmap/neptun/internal/pipeline"
	"github.com/neptunmap/neptun/internal/processor"
	"github.com/neptunmap/neptun/internal/ratelimit"
	"github.com/neptunmap/neptun/internal/realtime"
	"github.com/neptunmap/neptun/internal/store"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting neptun",
		"version", Version,
		"build_time", BuildTime,
		"git_commit", GitCommit,
	)

	// Initialize metrics
	if cfg.Metrics.Enabled {
		metrics.Init()
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize", "error", err)
	}
	defer a.close()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	if err := a.run(ctx); err != nil {
		logger.Error("Exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exited")
}

// app holds the wired components.
type app struct {
	cfg *config.Config

	db        *database.DB
	quota     *ratelimit.Manager
	tracks    *store.TrackStore
	archive   store.Archive
	cache     *geocoder.GeocodeCache
	smart     *geocoder.SmartGeocoder
	pipeline  *pipeline.MessagePipeline
	processor *processor.Processor
	poller    *pipeline.Poller
	bus       *realtime.Bus
	maint     *maintenance.Runner
	router    chi.Router
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.db = db
	if err := db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.archive = store.NewArchive(db)

	var quota ratelimit.Quota = ratelimit.NewMemoryQuota()
	if cfg.Redis.URL != "" {
		m, err := ratelimit.NewManager(cfg.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable, using in-memory quotas", "error", err)
		} else {
			a.quota = m
			quota = m
		}
	}

	a.tracks = store.NewTrackStore(store.Config{
		Path:             cfg.Tracks.File,
		RetentionMinutes: cfg.Tracks.RetentionMinutes,
		MaxCount:         cfg.Tracks.MaxCount,
		BackupCount:      cfg.Tracks.BackupCount,
		AutoSaveInterval: cfg.Tracks.AutoSaveInterval,
	})

	geo, err := a.buildGeocoder(quota)
	if err != nil {
		return nil, err
	}

	a.bus = realtime.NewBus(256)
	a.pipeline = pipeline.New(parser.New(), geo, a.tracks, pipeline.Config{
		HistorySize: cfg.Pipeline.HistorySize,
		TextLimit:   cfg.Pipeline.TextLimit,
	})
	a.pipeline.Subscribe("realtime", a.bus.PublishTrack)

	a.processor = processor.New(a.tracks, geo, processor.Config{
		BatchSize:    cfg.Processor.BatchSize,
		BatchDelay:   cfg.Processor.BatchDelay,
		GeocodeDelay: cfg.Processor.GeocodeDelay,
		IdleInterval: cfg.Processor.IdleInterval,
	})

	if sources := buildSources(cfg.Pipeline); len(sources) > 0 {
		a.poller = pipeline.NewPoller(a.pipeline, pipeline.PollerConfig{
			Workers:       cfg.Pipeline.RelayWorkers,
			RatePerSec:    2,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
		}, sources...)
	}

	a.maint = &maintenance.Runner{
		Store:    a.tracks,
		Cache:    a.cache,
		Archive:  a.archive,
		Interval: cfg.Maintenance.Interval,
	}

	a.router = a.buildRouter()
	return a, nil
}

// buildGeocoder assembles the local dictionary, cache and HTTP providers
// behind the configured strategy.
func (a *app) buildGeocoder(quota ratelimit.Quota) (pipeline.Geocoder, error) {
	gc := a.cfg.Geocoding

	gaz, err := geocoder.DefaultGazetteer()
	if err != nil {
		return nil, err
	}
	for _, path := range []string{gc.CitiesFile, gc.SettlementsFile} {
		if path == "" {
			continue
		}
		extra, err := geocoder.LoadGazetteer(path)
		if err != nil {
			return nil, err
		}
		gaz.Merge(extra)
	}
	local := geocoder.NewLocalGeocoder(gaz)

	cacheCfg := geocoder.DefaultCacheConfig(a.cfg.Cache.Dir)
	cacheCfg.PositiveTTL = a.cfg.Cache.PositiveTTL
	cacheCfg.NegativeTTL = a.cfg.Cache.NegativeTTL
	cacheCfg.MaxNegative = a.cfg.Cache.MaxNegative
	a.cache = geocoder.NewGeocodeCache(cacheCfg)

	var apis []geocoder.Geocoder
	if gc.Photon.Enabled {
		apis = append(apis, geocoder.NewPhotonGeocoder(httpConfig(gc.Photon, gc.UserAgent), quota, nil))
	}
	if gc.Nominatim.Enabled {
		apis = append(apis, geocoder.NewNominatimGeocoder(httpConfig(gc.Nominatim, gc.UserAgent), quota, nil))
	}
	if gc.OpenCage.Enabled {
		apis = append(apis, geocoder.NewOpenCageGeocoder(httpConfig(gc.OpenCage, gc.UserAgent), quota, nil))
	}

	if gc.Strategy == "chain" {
		logger.Info("Using geocoder chain", "providers", len(apis))
		return geocoder.NewChain(a.cache, append([]geocoder.Geocoder{local}, apis...)...), nil
	}

	learningFile := gc.LearningFile
	if learningFile != "" {
		if err := os.MkdirAll(filepath.Dir(learningFile), 0o755); err != nil {
			return nil, fmt.Errorf("create learning dir: %w", err)
		}
	}
	a.smart = geocoder.NewSmartGeocoder(local, apis, a.cache, geocoder.NewLearningStore(learningFile), geocoder.SmartConfig{
		MaxNegative:   gc.SmartNegativeCap,
		NegativeTTL:   gc.SmartNegativeTTL,
		LookupTimeout: gc.LookupTimeout,
	})
	logger.Info("Using smart geocoder", "providers", len(apis))
	return a.smart, nil
}

func httpConfig(p config.ProviderConfig, userAgent string) geocoder.HTTPConfig {
	return geocoder.HTTPConfig{
		URL:        p.URL,
		APIKey:     p.APIKey,
		Enabled:    p.Enabled,
		Timeout:    p.Timeout,
		UserAgent:  userAgent,
		RatePerSec: p.RatePerSec,
		DailyQuota: p.DailyQuota,
	}
}

func buildSources(cfg config.PipelineConfig) []pipeline.Source {
	var sources []pipeline.Source
	if cfg.RelayURL != "" {
		sources = append(sources, pipeline.NewRelaySource("relay", cfg.RelayURL, cfg.RelayInterval, nil))
	}
	for _, entry := range cfg.Feeds {
		channel, feedURL, ok := pipeline.ParseFeedEntry(entry)
		if !ok {
			logger.Warn("Ignoring malformed channel feed", "entry", entry)
			continue
		}
		sources = append(sources, pipeline.NewFeedSource(channel, feedURL, 0, nil))
	}
	return sources
}

func (a *app) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewares.Logging)
	r.Use(middlewares.Metrics)
	r.Use(middleware.Recoverer)
	r.Use(middlewares.CORS(a.cfg.Server.CORSOrigins))
	r.Use(middlewares.Security)
	if a.quota != nil {
		r.Use(middlewares.RedisRateLimit(a.quota, a.cfg.RateLimit.RequestsPerMinute))
	} else {
		r.Use(middlewares.RateLimit(a.cfg.RateLimit.RequestsPerMinute, a.cfg.RateLimit.Burst))
	}

	deps := api.Deps{
		Store:       a.tracks,
		Pipeline:    a.pipeline,
		Processor:   a.processor,
		Archive:     a.archive,
		Bus:         a.bus,
		Merger:      merger.New(0, 0),
		AdminSecret: a.cfg.Admin.AdminSecret,
		Version:     Version,
		BuildTime:   BuildTime,
		GitCommit:   GitCommit,
	}
	if a.smart != nil {
		deps.Geocoder = a.smart
	}
	api.NewHandler(deps).RegisterRoutes(r)
	return r
}

// run serves HTTP and drives the background loops until ctx is done.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		// SSE handlers only return once their subscription closes
		a.bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.GracefulShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	if a.cfg.Processor.Enabled {
		g.Go(func() error { return a.processor.Run(ctx) })
	}
	g.Go(func() error { return a.maint.Run(ctx) })
	if a.poller != nil {
		g.Go(func() error { return a.poller.Run(ctx) })
	}

	return g.Wait()
}

// close releases whatever newApp managed to open.
func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.quota != nil {
		_ = a.quota.Close()
	}
	if a.db != nil {
		a.db.Close(context.Background())
	}
}

func startMetricsServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", "address", addr, "path", path)

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics server failed", "error", err)
	}
}
