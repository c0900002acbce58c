// Package fallback generates deterministic synthetic weather when real data
// cannot be obtained. It is the availability guarantee of the acquisition
// pipeline: generation never fails.
package fallback

import (
	"math"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/farmnav/climate-cache/internal/climate/keys"
	"github.com/farmnav/climate-cache/internal/climate/model"
)

// Generator produces physically plausible datasets: a latitude-aware seasonal
// temperature curve with bounded noise variation rather than constants, so
// downstream consumers keep day-to-day variety.
type Generator struct{}

func New() Generator { return Generator{} }

// Generate returns a synthetic dataset covering every day of the query
// range. Output is reproducible: the noise field is seeded from the query's
// canonical cache key, so repeated fallback invocations for the same query
// are identical.
func (Generator) Generate(q model.Query, now time.Time) model.Dataset {
	q = q.Normalize()
	noise := opensimplex.NewNormalized(int64(keys.Seed64(q)))

	dates := q.Dates()
	records := make([]model.DailyRecord, 0, len(dates))
	for _, d := range dates {
		records = append(records, dayRecord(noise, q.Latitude, d))
	}

	return model.Dataset{Records: records, Synthetic: true, FetchedAt: now.UTC()}
}

func dayRecord(noise opensimplex.Noise, lat float64, d time.Time) model.DailyRecord {
	doy := float64(d.YearDay())

	// Annual temperature curve peaking around early July in the northern
	// hemisphere, early January in the southern.
	phase := 2 * math.Pi * (doy - 172) / 365
	if lat < 0 {
		phase += math.Pi
	}
	base := 28 - math.Abs(lat)*0.45
	amplitude := 4 + math.Abs(lat)*0.25
	mean := base + amplitude*math.Cos(phase)

	// Smooth day-to-day wander plus an independent diurnal spread channel.
	wander := (noise.Eval2(doy/9, 0) - 0.5) * 8
	spread := 4 + noise.Eval2(doy/9, 10)*8

	maxT := clamp(mean+wander+spread/2, model.TempMinC, model.TempMaxC)
	minT := clamp(maxT-spread, model.TempMinC, maxT)

	// Rain on roughly a third of days, heavier when the wet channel spikes.
	var precip float64
	if wet := noise.Eval2(doy/5, 20); wet > 0.62 {
		precip = (wet - 0.62) * 60
	}
	precip = clamp(precip, 0, model.PrecipMaxMM)

	humidity := clamp(45+noise.Eval2(doy/7, 30)*45+precip*0.5, 0, model.HumidityMaxPC)
	wind := clamp(1+noise.Eval2(doy/6, 40)*9, 0, model.WindMaxMS)

	return model.DailyRecord{
		Date:          d,
		MaxTemp:       round1(maxT),
		MinTemp:       round1(minT),
		Precipitation: round1(precip),
		Humidity:      round1(humidity),
		WindSpeed:     round1(wind),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
