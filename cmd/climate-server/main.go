package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/farmnav/climate-cache/internal/archive"
	"github.com/farmnav/climate-cache/internal/climate"
	"github.com/farmnav/climate-cache/internal/climate/cache"
	"github.com/farmnav/climate-cache/internal/climate/datemap"
	"github.com/farmnav/climate-cache/internal/climate/fallback"
	"github.com/farmnav/climate-cache/internal/climate/ratelimit"
	"github.com/farmnav/climate-cache/internal/climate/retry"
	"github.com/farmnav/climate-cache/internal/climate/upstream"
	"github.com/farmnav/climate-cache/internal/core/config"
	"github.com/farmnav/climate-cache/internal/core/health"
	"github.com/farmnav/climate-cache/internal/core/observability"
	"github.com/farmnav/climate-cache/internal/core/server"
	kafkainval "github.com/farmnav/climate-cache/internal/invalidation/kafka"
	"github.com/farmnav/climate-cache/internal/logger"
	"github.com/farmnav/climate-cache/internal/prefetch"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		zl := logger.Build(logger.Config{Component: "climate-server"}, os.Stdout)
		zl.Error().Err(err).Msg("configuration invalid")
		return 1
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "climate-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting climate server",
		"addr", cfg.Addr,
		"version", Version,
		"upstream", cfg.PowerBaseURL,
		"cache_backend", cfg.CacheBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store cache.Store
	switch cfg.CacheBackend {
	case "redis":
		rs, err := cache.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis unavailable", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		store = rs
	default:
		store = cache.NewMemory(cfg.MemoryCacheSize)
	}
	defer store.Close()

	fetcher, err := upstream.New(cfg.PowerBaseURL, upstream.NewOutbound(), cfg.RequestTimeout, appLog)
	if err != nil {
		appLog.Error("upstream client setup failed", "err", err)
		return 1
	}

	deps := climate.Deps{
		Mapper:   datemap.New(cfg.ReferenceYear),
		Limiter:  ratelimit.New(cfg.MinRequestInterval),
		Fetcher:  fetcher,
		Retrier:  retry.New(cfg.MaxRetries, cfg.RetryBaseDelay, appLog),
		Store:    store,
		Logger:   appLog,
		Fallback: fallback.New(),
	}
	if cfg.BreakerEnabled {
		deps.Breaker = climate.NewBreaker("power", cfg.BreakerInterval, cfg.BreakerTimeout)
	}
	if cfg.ArchivePath != "" {
		arch, err := archive.Open(cfg.ArchivePath, appLog)
		if err != nil {
			appLog.Error("archive open failed", "path", cfg.ArchivePath, "err", err)
			return 1
		}
		defer arch.Close()
		deps.Archive = arch
	}

	svc := climate.NewService(climate.Config{
		TTLGenuine:   cfg.TTLGenuine,
		TTLSynthetic: cfg.TTLSynthetic,
	}, deps)

	var ready health.ReadinessReporter = health.AlwaysReady{}
	if cfg.Invalidation.Enabled {
		runner := kafkainval.New(kafkainval.ConfigFrom(cfg.Invalidation), svc, kafkainval.Options{
			Logger: appLog,
		})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation runner start failed", "err", err)
			return 1
		}
		defer runner.Stop()
		ready = runner
	}

	if cfg.Prefetch.Enabled {
		warmer := prefetch.New(prefetch.Config{
			Latitude:  cfg.Prefetch.Latitude,
			Longitude: cfg.Prefetch.Longitude,
			Days:      cfg.Prefetch.Days,
			Interval:  cfg.Prefetch.Interval,
		}, svc, appLog)
		if err := warmer.Start(); err != nil {
			appLog.Error("prefetch warmer start failed", "err", err)
			return 1
		}
		defer warmer.Stop()
	}

	if err := server.Run(ctx, cfg, appLog, svc, ready); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}

	appLog.Info("server stopped")
	return 0
}
