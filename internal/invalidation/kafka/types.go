package kafka

import (
	"strings"
	"time"

	"github.com/farmnav/climate-cache/internal/core/config"
)

// WireEvent is the message format on the invalidation topic. Producers
// either name a cache key directly or describe the query it was built
// from (coordinates plus an inclusive date range, YYYY-MM-DD).
type WireEvent struct {
	Key       string    `json:"key,omitempty"`
	Latitude  float64   `json:"lat,omitempty"`
	Longitude float64   `json:"lon,omitempty"`
	Start     string    `json:"start,omitempty"`
	End       string    `json:"end,omitempty"`
	Version   uint64    `json:"version"`
	TS        time.Time `json:"ts"`
	Op        string    `json:"op,omitempty"`
}

type Driver string

const (
	DriverNone  Driver = "none"
	DriverKafka Driver = "kafka"
)

type Config struct {
	Enabled bool
	Driver  Driver

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	InitialOldest    bool
}

// ConfigFrom fills consumer-group tuning with defaults the service does
// not expose as settings.
func ConfigFrom(c config.InvalidationCfg) Config {
	driver := Driver(strings.TrimSpace(c.Driver))
	if driver == "" {
		driver = DriverNone
	}
	return Config{
		Enabled:          c.Enabled,
		Driver:           driver,
		Brokers:          split(c.Brokers),
		Topic:            c.Topic,
		GroupID:          c.GroupID,
		SessionTimeout:   30 * time.Second,
		Heartbeat:        3 * time.Second,
		RebalanceTimeout: 30 * time.Second,
		InitialOldest:    false,
	}
}

func split(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
