// Package router validates incoming climate queries and hands them to the
// handler seam.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/core/observability"
)

// ClimateHandler receives validated queries and serves them.
type ClimateHandler interface {
	HandleClimate(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.Query)
}

// HandleClimate validates input query params and calls the handler.
func HandleClimate(logger *slog.Logger, h ClimateHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, err := ParseClimateQuery(r)
		if err != nil {
			logger.LogAttrs(r.Context(), slog.LevelDebug, "bad climate query",
				slog.String("err", err.Error()))
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/climate", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleClimate(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, "/climate", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseClimateQuery reads lat, lon, start and end query parameters. Dates
// accept YYYY-MM-DD or the compact YYYYMMDD form.
func ParseClimateQuery(r *http.Request) (model.Query, error) {
	lat, err := parseFloat(r.URL.Query().Get("lat"))
	if err != nil {
		return model.Query{}, fmt.Errorf("invalid lat: %w", err)
	}
	lon, err := parseFloat(r.URL.Query().Get("lon"))
	if err != nil {
		return model.Query{}, fmt.Errorf("invalid lon: %w", err)
	}
	start, err := parseDate(r.URL.Query().Get("start"))
	if err != nil {
		return model.Query{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := parseDate(r.URL.Query().Get("end"))
	if err != nil {
		return model.Query{}, fmt.Errorf("invalid end: %w", err)
	}

	q := model.Query{Latitude: lat, Longitude: lon, Start: start, End: end}.Normalize()
	if err := q.Validate(); err != nil {
		return model.Query{}, err
	}
	return q, nil
}

func parseFloat(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("missing")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value %q", v)
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("missing")
	}
	if t, err := time.ParseInLocation(time.DateOnly, v, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(model.CompactDate, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or YYYYMMDD, got %q", v)
	}
	return t, nil
}
