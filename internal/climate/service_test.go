package climate

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/cache"
	"github.com/farmnav/climate-cache/internal/climate/datemap"
	"github.com/farmnav/climate-cache/internal/climate/fallback"
	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/climate/ratelimit"
	"github.com/farmnav/climate-cache/internal/climate/retry"
	"github.com/farmnav/climate-cache/internal/climate/upstream"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func houstonWeek() model.Query {
	return model.Query{
		Latitude:  29.7604,
		Longitude: -95.3698,
		Start:     day("2025-06-01"),
		End:       day("2025-06-07"),
	}
}

// payloadFor builds a valid archive response covering every day of q.
func payloadFor(q model.Query) []byte {
	params := map[string]map[string]float64{}
	values := map[string]float64{
		"T2M_MAX":     33.5,
		"T2M_MIN":     24.1,
		"PRECTOTCORR": 1.2,
		"RH2M":        71.0,
		"WS2M":        3.8,
	}
	for name, v := range values {
		series := map[string]float64{}
		for _, d := range q.Normalize().Dates() {
			series[d.Format(model.CompactDate)] = v
		}
		params[name] = series
	}
	b, err := json.Marshal(map[string]any{
		"properties": map[string]any{"parameter": params},
	})
	if err != nil {
		panic(err)
	}
	return b
}

// fetchFunc adapts a function to the Fetcher seam and counts calls.
type fetchFunc struct {
	calls atomic.Int32
	fn    func(ctx context.Context, q model.Query) ([]byte, error)
}

func (f *fetchFunc) Fetch(ctx context.Context, q model.Query) ([]byte, error) {
	f.calls.Add(1)
	return f.fn(ctx, q)
}

func transient() error {
	return &upstream.Error{Class: upstream.ClassTransientService, Status: 503, Err: errors.New("unavailable")}
}

func permanent() error {
	return &upstream.Error{Class: upstream.ClassPermanentRequest, Status: 422, Err: errors.New("rejected")}
}

func newTestService(t *testing.T, f Fetcher, opts ...func(*Deps)) *Service {
	t.Helper()
	d := Deps{
		Mapper:   datemap.New(2023),
		Limiter:  ratelimit.New(time.Microsecond),
		Fetcher:  f,
		Retrier:  retry.New(3, time.Millisecond, nil),
		Store:    cache.NewMemory(64),
		Fallback: fallback.New(),
	}
	for _, o := range opts {
		o(&d)
	}
	return NewService(Config{}, d)
}

func TestGetClimateData_FetchThenCache(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		if q.Start.Year() != 2023 {
			return nil, permanent()
		}
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)
	q := houstonWeek()

	ds, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceFetched {
		t.Fatalf("source = %s, want fetched", src)
	}
	if len(ds.Records) != 7 {
		t.Fatalf("records = %d, want 7", len(ds.Records))
	}
	for i, rec := range ds.Records {
		want := q.Start.AddDate(0, 0, i)
		if !rec.Date.Equal(want) {
			t.Fatalf("record %d carries date %s, want simulation date %s", i, rec.Date, want)
		}
	}
	if ds.Synthetic {
		t.Fatalf("fetched dataset flagged synthetic")
	}

	ds2, src2, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("second GetClimateData: %v", err)
	}
	if src2 != model.SourceCache {
		t.Fatalf("second source = %s, want cache", src2)
	}
	if len(ds2.Records) != 7 {
		t.Fatalf("cached records = %d, want 7", len(ds2.Records))
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("upstream calls = %d, want 1", n)
	}
}

func TestGetClimateData_TransientFailuresRecovered(t *testing.T) {
	var n atomic.Int32
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		if n.Add(1) < 3 {
			return nil, transient()
		}
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)

	_, src, err := svc.GetClimateData(context.Background(), houstonWeek())
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceFetched {
		t.Fatalf("source = %s, want fetched after retries", src)
	}
	if c := f.calls.Load(); c != 3 {
		t.Fatalf("upstream calls = %d, want 3", c)
	}
}

func TestGetClimateData_ExhaustedRetriesServeSynthetic(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return nil, transient()
	}}
	svc := newTestService(t, f)
	q := houstonWeek()

	ds, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceSynthetic {
		t.Fatalf("source = %s, want synthetic", src)
	}
	if !ds.Synthetic || len(ds.Records) != 7 {
		t.Fatalf("synthetic dataset wrong shape: synthetic=%v records=%d", ds.Synthetic, len(ds.Records))
	}
	for _, rec := range ds.Records {
		if !rec.InBounds() {
			t.Fatalf("synthetic record out of bounds: %+v", rec)
		}
	}
	if c := f.calls.Load(); c != 4 {
		t.Fatalf("upstream calls = %d, want 4 (initial + 3 retries)", c)
	}

	// the synthetic result is cached too
	_, src2, _ := svc.GetClimateData(context.Background(), q)
	if src2 != model.SourceCache {
		t.Fatalf("second source = %s, want cache", src2)
	}
	if c := f.calls.Load(); c != 4 {
		t.Fatalf("cached synthetic still hit upstream: calls = %d", c)
	}
}

func TestGetClimateData_NonFiniteCoordinatesRepaired(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return nil, transient()
	}}
	svc := newTestService(t, f)
	q := houstonWeek()
	q.Latitude = math.NaN()

	ds, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceSynthetic {
		t.Fatalf("source = %s, want synthetic", src)
	}
	for i, rec := range ds.Records {
		if !rec.InBounds() {
			t.Fatalf("record %d out of bounds: %+v", i, rec)
		}
		if math.IsNaN(rec.MaxTemp) || math.IsNaN(rec.MinTemp) {
			t.Fatalf("record %d has NaN temperatures: %+v", i, rec)
		}
	}

	// the repaired key must be cacheable
	_, src2, _ := svc.GetClimateData(context.Background(), q)
	if src2 != model.SourceCache {
		t.Fatalf("second source = %s, want cache", src2)
	}
}

func TestGetClimateData_PermanentFailureSkipsRetries(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return nil, permanent()
	}}
	svc := newTestService(t, f)

	_, src, err := svc.GetClimateData(context.Background(), houstonWeek())
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceSynthetic {
		t.Fatalf("source = %s, want synthetic", src)
	}
	if c := f.calls.Load(); c != 1 {
		t.Fatalf("upstream calls = %d, want 1 for permanent failure", c)
	}
}

func TestGetClimateData_ValidationFailureServesSynthetic(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return []byte(`{"properties":{"parameter":{}}}`), nil
	}}
	svc := newTestService(t, f)

	_, src, err := svc.GetClimateData(context.Background(), houstonWeek())
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceSynthetic {
		t.Fatalf("source = %s, want synthetic for invalid payload", src)
	}
	if c := f.calls.Load(); c != 1 {
		t.Fatalf("upstream calls = %d; validation failures must not retry", c)
	}
}

func TestGetClimateData_YearBoundaryRangeIsSynthetic(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return nil, errors.New("must not be called")
	}}
	svc := newTestService(t, f)

	q := model.Query{Latitude: 29.76, Longitude: -95.37, Start: day("2025-12-29"), End: day("2026-01-03")}
	ds, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceSynthetic {
		t.Fatalf("source = %s, want synthetic for year-spanning range", src)
	}
	if len(ds.Records) != 6 {
		t.Fatalf("records = %d, want 6", len(ds.Records))
	}
	if c := f.calls.Load(); c != 0 {
		t.Fatalf("upstream called %d times for an unfetchable range", c)
	}
}

func TestGetClimateData_LeapDayServedFromFeb28(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)

	q := model.Query{Latitude: 29.76, Longitude: -95.37, Start: day("2024-02-28"), End: day("2024-02-29")}
	ds, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceFetched {
		t.Fatalf("source = %s, want fetched", src)
	}
	if len(ds.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(ds.Records))
	}
	if !ds.Records[1].Date.Equal(day("2024-02-29")) {
		t.Fatalf("leap day missing: %s", ds.Records[1].Date)
	}
	// both simulation days resolve to the same clamped historical day
	if ds.Records[0].MaxTemp != ds.Records[1].MaxTemp {
		t.Fatalf("leap day did not reuse the clamped record")
	}
}

func TestGetClimateData_ReversedRangeSwapped(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)

	q := model.Query{Latitude: 29.76, Longitude: -95.37, Start: day("2025-06-07"), End: day("2025-06-01")}
	ds, _, err := svc.GetClimateData(context.Background(), q)
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if len(ds.Records) != 7 {
		t.Fatalf("records = %d, want 7 after endpoint swap", len(ds.Records))
	}
	if !ds.Records[0].Date.Equal(day("2025-06-01")) {
		t.Fatalf("first record = %s, want 2025-06-01", ds.Records[0].Date)
	}
}

func TestGetClimateData_ConcurrentRequestsCoalesce(t *testing.T) {
	release := make(chan struct{})
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		<-release
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)
	q := houstonWeek()

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	sources := make([]model.Source, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, src, err := svc.GetClimateData(context.Background(), q)
			errs[i], sources[i] = err, src
		}(i)
	}

	// let every caller miss the cache and pile onto the flight
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if sources[i] != model.SourceFetched && sources[i] != model.SourceCache {
			t.Fatalf("caller %d source = %s", i, sources[i])
		}
	}
	if c := f.calls.Load(); c != 1 {
		t.Fatalf("upstream calls = %d, want 1 for coalesced burst", c)
	}
}

func TestGetClimateData_OpenBreakerShortCircuits(t *testing.T) {
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		return nil, transient()
	}}
	svc := newTestService(t, f, func(d *Deps) {
		d.Breaker = NewBreaker("power", time.Minute, time.Minute)
	})

	// distinct keys so the cached synthetic result does not short-circuit;
	// gobreaker trips after more than five consecutive failures
	base := houstonWeek()
	for i := range 2 {
		q := base
		q.Latitude += float64(i)
		if _, src, err := svc.GetClimateData(context.Background(), q); err != nil || src != model.SourceSynthetic {
			t.Fatalf("warmup %d: src=%s err=%v", i, src, err)
		}
	}
	// query 1 burns four attempts; the breaker opens on the sixth
	// consecutive failure, two attempts into query 2
	tripped := f.calls.Load()
	if tripped != 6 {
		t.Fatalf("upstream calls = %d, want 6 before the breaker opens", tripped)
	}

	q := base
	q.Latitude += 10
	_, src, err := svc.GetClimateData(context.Background(), q)
	if err != nil || src != model.SourceSynthetic {
		t.Fatalf("post-trip: src=%s err=%v", src, err)
	}
	if c := f.calls.Load(); c != tripped {
		t.Fatalf("open breaker still reached upstream: calls went %d -> %d", tripped, c)
	}
}

func TestGetClimateData_StoreFailuresDoNotFailRequests(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f, func(d *Deps) {
		d.Store = brokenStore{}
	})

	ds, src, err := svc.GetClimateData(context.Background(), houstonWeek())
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	if src != model.SourceFetched || len(ds.Records) != 7 {
		t.Fatalf("src=%s records=%d; a broken cache must not fail the request", src, len(ds.Records))
	}
}

func TestGetClimateData_CallerCancellationSurfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &fetchFunc{fn: func(context.Context, model.Query) ([]byte, error) {
		cancel()
		return nil, transient()
	}}
	svc := newTestService(t, f)

	_, _, err := svc.GetClimateData(ctx, houstonWeek())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestGetClimateData_ArchiveObservesResults(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		return payloadFor(q), nil
	}}
	rec := &captureRecorder{}
	svc := newTestService(t, f, func(d *Deps) {
		d.Archive = rec
	})

	_, _, err := svc.GetClimateData(context.Background(), houstonWeek())
	if err != nil {
		t.Fatalf("GetClimateData: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.sources) != 1 || rec.sources[0] != model.SourceFetched {
		t.Fatalf("archive saw %v, want one fetched record", rec.sources)
	}
}

func TestPurge_ForcesRefetch(t *testing.T) {
	f := &fetchFunc{fn: func(_ context.Context, q model.Query) ([]byte, error) {
		return payloadFor(q), nil
	}}
	svc := newTestService(t, f)
	q := houstonWeek()
	ctx := context.Background()

	if _, _, err := svc.GetClimateData(ctx, q); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if err := svc.PurgeQuery(ctx, q); err != nil {
		t.Fatalf("PurgeQuery: %v", err)
	}
	_, src, err := svc.GetClimateData(ctx, q)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if src != model.SourceFetched {
		t.Fatalf("source = %s, want fetched after purge", src)
	}
	if c := f.calls.Load(); c != 2 {
		t.Fatalf("upstream calls = %d, want 2", c)
	}
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache backend down")
}
func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache backend down")
}
func (brokenStore) Del(context.Context, ...string) error { return errors.New("cache backend down") }
func (brokenStore) Close() error                         { return nil }

type captureRecorder struct {
	mu      sync.Mutex
	sources []model.Source
}

func (r *captureRecorder) Record(_ context.Context, _ string, _ model.Query, _ model.Dataset, src model.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
}
