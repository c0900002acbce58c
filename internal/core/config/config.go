// Package config loads service configuration. Environment variables come
// first; an optional TOML file (CONFIG_FILE) overrides them for deployments
// that prefer a checked-in profile.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
)

type InvalidationCfg struct {
	Enabled bool   `toml:"enabled"`
	Driver  string `toml:"driver"`
	Topic   string `toml:"topic"`
	Brokers string `toml:"brokers"`
	GroupID string `toml:"group_id"`
}

type PrefetchCfg struct {
	Enabled   bool          `toml:"enabled"`
	Latitude  float64       `toml:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64       `toml:"longitude" validate:"gte=-180,lte=180"`
	Days      int           `toml:"days" validate:"gte=0,lte=366"`
	Interval  time.Duration `toml:"interval"`
}

type Config struct {
	Addr     string `toml:"addr" validate:"required"`
	LogLevel string `toml:"log_level"`

	PowerBaseURL   string        `toml:"power_base_url" validate:"required,url"`
	RequestTimeout time.Duration `toml:"request_timeout" validate:"gt=0"`

	MinRequestInterval time.Duration `toml:"min_request_interval" validate:"gt=0"`
	MaxRetries         int           `toml:"max_retries" validate:"gte=0,lte=10"`
	RetryBaseDelay     time.Duration `toml:"retry_base_delay" validate:"gt=0"`

	ReferenceYear int `toml:"reference_year" validate:"gte=1981,lte=2100"`

	CacheBackend    string        `toml:"cache_backend" validate:"oneof=memory redis"`
	RedisAddr       string        `toml:"redis_addr"`
	MemoryCacheSize int           `toml:"memory_cache_size" validate:"gt=0"`
	TTLGenuine      time.Duration `toml:"ttl_genuine" validate:"gt=0"`
	TTLSynthetic    time.Duration `toml:"ttl_synthetic" validate:"gt=0"`

	BreakerEnabled  bool          `toml:"breaker_enabled"`
	BreakerInterval time.Duration `toml:"breaker_interval"`
	BreakerTimeout  time.Duration `toml:"breaker_timeout"`

	ArchivePath string `toml:"archive_path"`

	Prefetch     PrefetchCfg     `toml:"prefetch"`
	Invalidation InvalidationCfg `toml:"invalidation"`
}

// FromEnv builds the config from the environment, applying defaults, an
// optional TOML overlay, and struct validation.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:     getenv("ADDR", ":8090"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		PowerBaseURL:   getenv("POWER_BASE_URL", "https://power.larc.nasa.gov/api/temporal/daily/point"),
		RequestTimeout: getduration("REQUEST_TIMEOUT", 30*time.Second),

		MinRequestInterval: getduration("MIN_REQUEST_INTERVAL", time.Second),
		MaxRetries:         getint("MAX_RETRIES", 3),
		RetryBaseDelay:     getduration("RETRY_BASE_DELAY", time.Second),

		ReferenceYear: getint("REFERENCE_YEAR", 2023),

		CacheBackend:    getenv("CACHE_BACKEND", "memory"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		MemoryCacheSize: getint("MEMORY_CACHE_SIZE", 4096),
		TTLGenuine:      getduration("CACHE_TTL_GENUINE", time.Hour),
		TTLSynthetic:    getduration("CACHE_TTL_SYNTHETIC", 5*time.Minute),

		BreakerEnabled:  getbool("BREAKER_ENABLED", true),
		BreakerInterval: getduration("BREAKER_INTERVAL", time.Minute),
		BreakerTimeout:  getduration("BREAKER_TIMEOUT", 2*time.Minute),

		ArchivePath: getenv("ARCHIVE_PATH", ""),

		Prefetch: PrefetchCfg{
			Enabled:   getbool("PREFETCH_ENABLED", false),
			Latitude:  getfloat("PREFETCH_LAT", 0),
			Longitude: getfloat("PREFETCH_LON", 0),
			Days:      getint("PREFETCH_DAYS", 7),
			Interval:  getduration("PREFETCH_INTERVAL", 30*time.Minute),
		},
		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Driver:  getenv("INVALIDATION_DRIVER", "none"),
			Topic:   getenv("KAFKA_TOPIC", "climate-invalidation"),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID: getenv("KAFKA_GROUP_ID", "climate-invalidator"),
		},
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := toml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
