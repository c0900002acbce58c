// Package upstream performs single fetch attempts against the climate data
// archive and classifies their outcomes.
package upstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/core/observability"
)

// DefaultBaseURL is the daily point endpoint of the NASA POWER archive.
const DefaultBaseURL = "https://power.larc.nasa.gov/api/temporal/daily/point"

// DefaultTimeout bounds one fetch attempt.
const DefaultTimeout = 30 * time.Second

// Parameters requested for every query, in the order the validator expects
// them.
var Parameters = []string{"T2M_MAX", "T2M_MIN", "PRECTOTCORR", "RH2M", "WS2M"}

// Client performs one network call per Fetch and classifies the outcome.
// Safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     *slog.Logger

	now func() time.Time // for tests
}

func New(baseURL string, client *http.Client, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if client == nil {
		client = NewOutbound()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{base: u, http: client, timeout: timeout, log: log, now: time.Now}, nil
}

// Fetch issues one GET for the query's location and date range and returns
// the raw response body. Failures come back as a classified *Error.
func (c *Client) Fetch(ctx context.Context, q model.Query) ([]byte, error) {
	u := *c.base
	u.RawQuery = c.params(q).Encode()
	rawURL := u.String()

	ctxReq, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctxReq, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := c.now()
	resp, err := c.http.Do(req)
	dur := time.Since(start)

	if err != nil {
		cerr := classifyTransport(rawURL, err)
		c.record(ctx, cerr.Class, 0, dur)
		return nil, cerr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		cerr := classifyStatus(rawURL, resp.StatusCode, strings.TrimSpace(string(b)))
		c.record(ctx, cerr.Class, resp.StatusCode, dur)
		return nil, cerr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		cerr := classifyTransport(rawURL, fmt.Errorf("read body: %w", err))
		c.record(ctx, cerr.Class, resp.StatusCode, dur)
		return nil, cerr
	}

	observability.ObserveFetchAttempt("success", dur.Seconds())
	c.log.LogAttrs(ctx, slog.LevelDebug, "fetch attempt",
		slog.String("outcome", "success"),
		slog.Int("bytes", len(body)),
		slog.String("dur", dur.String()),
	)
	return body, nil
}

func (c *Client) record(ctx context.Context, class Class, status int, dur time.Duration) {
	observability.ObserveFetchAttempt(string(class), dur.Seconds())
	c.log.LogAttrs(ctx, slog.LevelWarn, "fetch attempt",
		slog.String("outcome", string(class)),
		slog.Int("status", status),
		slog.String("dur", dur.String()),
	)
}

func (c *Client) params(q model.Query) url.Values {
	q = q.Normalize()
	v := url.Values{}
	v.Set("parameters", strings.Join(Parameters, ","))
	v.Set("community", "RE")
	v.Set("latitude", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	v.Set("start", q.Start.Format(model.CompactDate))
	v.Set("end", q.End.Format(model.CompactDate))
	v.Set("format", "JSON")
	return v
}
