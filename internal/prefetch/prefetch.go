// Package prefetch warms the cache for upcoming simulation days so a
// consumer advancing one day at a time rarely waits on the network.
package prefetch

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/farmnav/climate-cache/internal/climate"
	"github.com/farmnav/climate-cache/internal/climate/model"
)

type Config struct {
	Latitude  float64
	Longitude float64
	Days      int
	Interval  time.Duration
}

// Warmer periodically requests the next N days for the home location
// through the facade, so results land in the cache with the facade's own
// TTL and dedup rules.
type Warmer struct {
	scheduler *gocron.Scheduler
	svc       *climate.Service
	cfg       Config
	log       *slog.Logger

	now func() time.Time // for tests
}

func New(cfg Config, svc *climate.Service, log *slog.Logger) *Warmer {
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Warmer{
		scheduler: gocron.NewScheduler(time.UTC),
		svc:       svc,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Start schedules the warm job and begins running it asynchronously.
func (w *Warmer) Start() error {
	_, err := w.scheduler.Every(w.cfg.Interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		w.WarmOnce(ctx)
	})
	if err != nil {
		return err
	}
	w.scheduler.StartAsync()
	return nil
}

// WarmOnce requests the configured window ending Days from today.
func (w *Warmer) WarmOnce(ctx context.Context) {
	start := model.Day(w.now())
	q := model.Query{
		Latitude:  w.cfg.Latitude,
		Longitude: w.cfg.Longitude,
		Start:     start,
		End:       start.AddDate(0, 0, w.cfg.Days-1),
	}

	ds, src, err := w.svc.GetClimateData(ctx, q)
	if err != nil {
		w.log.LogAttrs(ctx, slog.LevelWarn, "prefetch canceled", slog.String("err", err.Error()))
		return
	}
	w.log.LogAttrs(ctx, slog.LevelDebug, "prefetch warmed",
		slog.Int("records", len(ds.Records)),
		slog.String("source", string(src)),
	)
}

// Stop halts the scheduler and waits for a running job to finish.
func (w *Warmer) Stop() {
	w.scheduler.Stop()
}
