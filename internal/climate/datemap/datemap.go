// Package datemap translates simulation dates into historical dates the
// upstream archive actually covers.
package datemap

import (
	"time"

	"github.com/farmnav/climate-cache/internal/climate/model"
)

// DefaultReferenceYear is a recent year with confirmed full coverage in the
// upstream archive.
const DefaultReferenceYear = 2023

// Mapper substitutes a fixed reference year while preserving month and day.
// Pure and deterministic: the same input always yields the same output.
type Mapper struct {
	year int
}

func New(referenceYear int) Mapper {
	if referenceYear <= 0 {
		referenceYear = DefaultReferenceYear
	}
	return Mapper{year: referenceYear}
}

func (m Mapper) ReferenceYear() int { return m.year }

// Map returns the historical date for a simulation date. February 29 maps to
// February 28 when the reference year is not a leap year; the clamp keeps the
// mapping total and reproducible.
func (m Mapper) Map(sim time.Time) time.Time {
	sim = model.Day(sim)
	day := sim.Day()
	if sim.Month() == time.February && day == 29 && !isLeap(m.year) {
		day = 28
	}
	return time.Date(m.year, sim.Month(), day, 0, 0, 0, 0, time.UTC)
}

// MapRange maps both endpoints of a simulation query onto the reference
// year. The returned bool is false when the simulation range spans a year
// boundary: both endpoints then land in the single reference year out of
// order and no contiguous archive window exists, so the caller serves the
// range synthetically instead.
func (m Mapper) MapRange(q model.Query) (model.Query, bool) {
	q = q.Normalize()
	start := m.Map(q.Start)
	end := m.Map(q.End)
	if end.Before(start) {
		return q, false
	}
	q.Start, q.End = start, end
	return q, true
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
