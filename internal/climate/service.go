// Package climate orchestrates the acquisition pipeline behind a single
// total entry point: cache lookup, rate-limited fetch with bounded retries,
// strict validation, and a deterministic synthetic fallback. No failure mode
// short of the caller's own cancellation ever surfaces as an error.
package climate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/farmnav/climate-cache/internal/climate/cache"
	"github.com/farmnav/climate-cache/internal/climate/datemap"
	"github.com/farmnav/climate-cache/internal/climate/fallback"
	"github.com/farmnav/climate-cache/internal/climate/keys"
	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/climate/ratelimit"
	"github.com/farmnav/climate-cache/internal/climate/retry"
	"github.com/farmnav/climate-cache/internal/climate/upstream"
	"github.com/farmnav/climate-cache/internal/climate/validate"
	"github.com/farmnav/climate-cache/internal/core/observability"
)

const (
	DefaultTTLGenuine   = time.Hour
	DefaultTTLSynthetic = 5 * time.Minute
)

// errCircuitOpen short-circuits an attempt when the breaker has decided the
// upstream is down. Not retryable; the pipeline falls through to synthetic
// data without consuming the rate limiter.
var errCircuitOpen = errors.New("upstream circuit open")

// Recorder archives acquired datasets. Implementations must be best-effort:
// a Record call never fails the request it observes.
type Recorder interface {
	Record(ctx context.Context, key string, q model.Query, ds model.Dataset, src model.Source)
}

// Config carries the facade's tuning knobs.
type Config struct {
	TTLGenuine   time.Duration
	TTLSynthetic time.Duration
}

// Deps are the pipeline stages the facade drives. Store, Fetcher and Logger
// are required; Breaker and Archive are optional.
type Deps struct {
	Mapper   datemap.Mapper
	Limiter  *ratelimit.Gate
	Fetcher  Fetcher
	Retrier  *retry.Controller
	Store    cache.Store
	Breaker  *gobreaker.CircuitBreaker
	Archive  Recorder
	Logger   *slog.Logger
	Fallback fallback.Generator
}

// Fetcher is the single-attempt upstream call. *upstream.Client implements
// it; tests inject fakes to drive failure sequences deterministically.
type Fetcher interface {
	Fetch(ctx context.Context, q model.Query) ([]byte, error)
}

type Service struct {
	cfg    Config
	mapper datemap.Mapper
	gate   *ratelimit.Gate
	fetch  Fetcher
	retry  *retry.Controller
	store  cache.Store
	cb     *gobreaker.CircuitBreaker
	arch   Recorder
	fb     fallback.Generator
	flight *cache.Flight
	log    *slog.Logger

	now func() time.Time // for tests
}

func NewService(cfg Config, d Deps) *Service {
	if cfg.TTLGenuine <= 0 {
		cfg.TTLGenuine = DefaultTTLGenuine
	}
	if cfg.TTLSynthetic <= 0 {
		cfg.TTLSynthetic = DefaultTTLSynthetic
	}
	if d.Retrier == nil {
		d.Retrier = retry.New(retry.DefaultMaxRetries, retry.DefaultBaseDelay, d.Logger)
	}
	if d.Limiter == nil {
		d.Limiter = ratelimit.New(ratelimit.DefaultInterval)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		mapper: d.Mapper,
		gate:   d.Limiter,
		fetch:  d.Fetcher,
		retry:  d.Retrier,
		store:  d.Store,
		cb:     d.Breaker,
		arch:   d.Archive,
		fb:     d.Fallback,
		flight: cache.NewFlight(),
		log:    d.Logger,
		now:    time.Now,
	}
}

// NewBreaker builds the circuit breaker guarding the upstream with the
// service's conventions.
func NewBreaker(name string, interval, timeout time.Duration) *gobreaker.CircuitBreaker {
	if name == "" {
		name = "power"
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    interval,
		Timeout:     timeout,
	})
}

// GetClimateData resolves a query to a dataset. The contract is total: every
// internal failure path terminates in a synthetic dataset, and the only
// error ever returned is the caller's own context ending. Source tells the
// caller whether the data came from cache, a fresh fetch, or the fallback
// generator.
func (s *Service) GetClimateData(ctx context.Context, q model.Query) (model.Dataset, model.Source, error) {
	q = q.Normalize()
	if q.End.Before(q.Start) {
		// keep the contract total rather than rejecting
		q.Start, q.End = q.End, q.Start
	}
	key := keys.Key(q)

	for {
		if ds, ok := s.lookup(ctx, key); ok {
			observability.IncCacheHit()
			return ds, model.SourceCache, nil
		}
		observability.IncCacheMiss()

		res, leader, err := s.flight.Do(ctx, key, func() cache.Result {
			return s.produce(ctx, key, q)
		})
		if err != nil {
			// this caller was cancelled while waiting on another fetch
			return model.Dataset{}, "", err
		}
		if res.Err != nil {
			if leader || ctx.Err() != nil {
				return model.Dataset{}, "", res.Err
			}
			// the leader was cancelled but this waiter is still live:
			// go around and claim the fetch ourselves
			continue
		}
		return res.Dataset, res.Source, nil
	}
}

func (s *Service) lookup(ctx context.Context, key string) (model.Dataset, bool) {
	b, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "cache get failed, continuing with fetch path",
			slog.String("key", key), slog.String("err", err.Error()))
		return model.Dataset{}, false
	}
	if !ok {
		return model.Dataset{}, false
	}
	e, err := cache.Decode(b)
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "dropping undecodable cache entry",
			slog.String("key", key), slog.String("err", err.Error()))
		_ = s.store.Del(ctx, key)
		return model.Dataset{}, false
	}
	return e.Dataset, true
}

// produce runs the full pipeline for a cache miss. It never returns an error
// other than context cancellation.
func (s *Service) produce(ctx context.Context, key string, q model.Query) cache.Result {
	start := s.now()

	mapped, contiguous := s.mapper.MapRange(q)
	if !contiguous {
		s.log.LogAttrs(ctx, slog.LevelInfo, "range spans a year boundary, serving synthetic",
			slog.String("key", key))
		return s.synthetic(ctx, key, q)
	}

	var fetched model.Dataset
	outcome, err := s.retry.Do(ctx, func(ctx context.Context, n int) error {
		return s.attempt(ctx, mapped, n, &fetched)
	})

	switch outcome {
	case retry.Success:
		ds, ok := s.remap(q, fetched)
		if !ok {
			// a validated window that cannot cover the simulation range
			// is an integrity failure; fall through to synthetic
			return s.synthetic(ctx, key, q)
		}
		s.storeEntry(ctx, key, ds, s.cfg.TTLGenuine)
		s.record(ctx, key, q, ds, model.SourceFetched)
		s.log.LogAttrs(ctx, slog.LevelInfo, "dataset fetched",
			slog.String("key", key),
			slog.Int("records", len(ds.Records)),
			slog.String("dur", time.Since(start).String()))
		return cache.Result{Dataset: ds, Source: model.SourceFetched}

	case retry.Cancelled:
		return cache.Result{Err: err}

	default: // Exhausted or Permanent
		s.log.LogAttrs(ctx, slog.LevelWarn, "fetch pipeline failed, serving synthetic",
			slog.String("key", key),
			slog.String("outcome", string(outcome)),
			slog.String("class", string(classOf(err))),
			slog.String("err", errString(err)))
		return s.synthetic(ctx, key, q)
	}
}

// attempt is one pass through limiter, breaker, fetch and validation.
func (s *Service) attempt(ctx context.Context, mapped model.Query, n int, out *model.Dataset) error {
	if s.cb != nil && s.cb.State() == gobreaker.StateOpen {
		return errCircuitOpen
	}

	waitStart := s.now()
	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}
	observability.ObserveRateLimitWait(time.Since(waitStart).Seconds())

	var raw []byte
	if s.cb != nil {
		v, err := s.cb.Execute(func() (any, error) {
			return s.fetch.Fetch(ctx, mapped)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return errCircuitOpen
			}
			return err
		}
		raw = v.([]byte)
	} else {
		var err error
		raw, err = s.fetch.Fetch(ctx, mapped)
		if err != nil {
			return err
		}
	}

	ds, err := validate.Validate(raw, mapped, s.now())
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "response failed validation",
			slog.Int("attempt", n), slog.String("err", err.Error()))
		return err
	}
	*out = ds
	return nil
}

// remap rebuilds the fetched historical records onto the simulation dates.
// February 29 reuses the clamped February 28 record.
func (s *Service) remap(q model.Query, hist model.Dataset) (model.Dataset, bool) {
	byDate := make(map[time.Time]model.DailyRecord, len(hist.Records))
	for _, r := range hist.Records {
		byDate[model.Day(r.Date)] = r
	}

	dates := q.Dates()
	records := make([]model.DailyRecord, 0, len(dates))
	for _, d := range dates {
		r, ok := byDate[s.mapper.Map(d)]
		if !ok {
			return model.Dataset{}, false
		}
		r.Date = d
		records = append(records, r)
	}
	return model.Dataset{Records: records, FetchedAt: hist.FetchedAt}, true
}

func (s *Service) synthetic(ctx context.Context, key string, q model.Query) cache.Result {
	ds := s.fb.Generate(q, s.now())
	observability.IncFallback()
	s.storeEntry(ctx, key, ds, s.cfg.TTLSynthetic)
	s.record(ctx, key, q, ds, model.SourceSynthetic)
	return cache.Result{Dataset: ds, Source: model.SourceSynthetic}
}

func (s *Service) storeEntry(ctx context.Context, key string, ds model.Dataset, ttl time.Duration) {
	b, err := cache.Encode(cache.Entry{
		Key:       key,
		Dataset:   ds,
		ExpiresAt: ds.FetchedAt.Add(ttl),
	})
	if err != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "encode cache entry", slog.String("err", err.Error()))
		return
	}
	// store under a background-derived context so a caller cancelling right
	// after the result is ready cannot leave the cache half-written
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.store.Set(sctx, key, b, ttl); err != nil {
		s.log.LogAttrs(ctx, slog.LevelWarn, "cache set failed",
			slog.String("key", key), slog.String("err", err.Error()))
	}
}

func (s *Service) record(ctx context.Context, key string, q model.Query, ds model.Dataset, src model.Source) {
	if s.arch == nil {
		return
	}
	s.arch.Record(ctx, key, q, ds, src)
}

// Purge removes keys from the cache store. Used by the invalidation
// consumer.
func (s *Service) Purge(ctx context.Context, ks ...string) error {
	return s.store.Del(ctx, ks...)
}

// PurgeQuery removes the entry for a query's canonical key.
func (s *Service) PurgeQuery(ctx context.Context, q model.Query) error {
	return s.store.Del(ctx, keys.Key(q))
}

func classOf(err error) upstream.Class {
	var de *validate.DataError
	if errors.As(err, &de) {
		return upstream.ClassDataIntegrity
	}
	return upstream.ClassOf(err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
