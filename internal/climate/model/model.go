// Package model defines the climate query and dataset types shared by the
// acquisition pipeline.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Physical bounds a daily record must satisfy. Values outside these ranges
// are rejected at validation time and never reach a consumer.
const (
	TempMinC      = -90.0
	TempMaxC      = 60.0
	PrecipMaxMM   = 2000.0
	HumidityMaxPC = 100.0
	WindMaxMS     = 120.0
)

// CompactDate is the wire format the upstream uses for date keys and the
// start/end query parameters.
const CompactDate = "20060102"

// Source reports where a dataset handed to a consumer came from.
type Source string

const (
	SourceCache     Source = "cache"
	SourceFetched   Source = "fetched"
	SourceSynthetic Source = "synthetic"
)

// Query selects a location and an inclusive, non-empty date range.
type Query struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
}

// Normalize clamps coordinates into their valid ranges, repairing NaN to
// zero, and truncates both dates to UTC calendar days. It never rejects a
// query.
func (q Query) Normalize() Query {
	q.Latitude = clamp(q.Latitude, -90, 90)
	q.Longitude = clamp(q.Longitude, -180, 180)
	q.Start = Day(q.Start)
	q.End = Day(q.End)
	return q
}

// Validate checks that the normalized query describes a usable range.
func (q Query) Validate() error {
	if q.Start.IsZero() || q.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if q.End.Before(q.Start) {
		return fmt.Errorf("end %s precedes start %s",
			q.End.Format(time.DateOnly), q.Start.Format(time.DateOnly))
	}
	return nil
}

// Days returns the number of calendar days in the inclusive range.
func (q Query) Days() int {
	return int(Day(q.End).Sub(Day(q.Start))/(24*time.Hour)) + 1
}

// Dates returns every day in the inclusive range, in order.
func (q Query) Dates() []time.Time {
	n := q.Days()
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	d := Day(q.Start)
	for range n {
		out = append(out, d)
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyRecord is the validated weather observation for one calendar day.
type DailyRecord struct {
	Date          time.Time `json:"date"`
	MaxTemp       float64   `json:"max_temp"`
	MinTemp       float64   `json:"min_temp"`
	Precipitation float64   `json:"precipitation"`
	Humidity      float64   `json:"humidity"`
	WindSpeed     float64   `json:"wind_speed"`
}

// InBounds reports whether every value sits inside the documented physical
// ranges.
func (r DailyRecord) InBounds() bool {
	if r.MaxTemp < TempMinC || r.MaxTemp > TempMaxC {
		return false
	}
	if r.MinTemp < TempMinC || r.MinTemp > TempMaxC {
		return false
	}
	if r.MinTemp > r.MaxTemp {
		return false
	}
	if r.Precipitation < 0 || r.Precipitation > PrecipMaxMM {
		return false
	}
	if r.Humidity < 0 || r.Humidity > HumidityMaxPC {
		return false
	}
	if r.WindSpeed < 0 || r.WindSpeed > WindMaxMS {
		return false
	}
	return true
}

// Dataset is an ordered sequence of daily records covering every day of a
// query range. A non-synthetic dataset never contains gaps or out-of-range
// values.
type Dataset struct {
	Records   []DailyRecord `json:"records"`
	Synthetic bool          `json:"synthetic"`
	FetchedAt time.Time     `json:"fetched_at"`
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
