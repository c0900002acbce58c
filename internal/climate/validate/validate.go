// Package validate turns a raw archive response into a validated Dataset.
// The decode is strict: a missing parameter, a missing day, a documented
// missing-value sentinel or an out-of-range value all fail closed instead of
// silently defaulting.
package validate

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/climate/upstream"
)

// MissingSentinel is the archive's fill value for days without data.
const MissingSentinel = -999.0

// DataError is a non-retryable validation failure: malformed structure will
// not fix itself on retry.
type DataError struct {
	Param string
	Date  string
	Err   error
}

func (e *DataError) Error() string {
	switch {
	case e.Param != "" && e.Date != "":
		return fmt.Sprintf("invalid response: %s[%s]: %v", e.Param, e.Date, e.Err)
	case e.Param != "":
		return fmt.Sprintf("invalid response: %s: %v", e.Param, e.Err)
	default:
		return fmt.Sprintf("invalid response: %v", e.Err)
	}
}

func (e *DataError) Unwrap() error { return e.Err }

// Retryable always reports false; the retry controller stops immediately on
// a DataError.
func (e *DataError) Retryable() bool { return false }

// payload mirrors the part of the archive response the pipeline consumes:
// values nested by parameter, then by compact date.
type payload struct {
	Properties struct {
		Parameter map[string]map[string]float64 `json:"parameter"`
	} `json:"properties"`
}

// Validate decodes raw and checks that every day of the query range carries
// an in-range value for every required parameter. Records come back ordered
// by date, with FetchedAt set by the caller's clock at store time.
func Validate(raw []byte, q model.Query, now time.Time) (model.Dataset, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Dataset{}, &DataError{Err: fmt.Errorf("decode: %w", err)}
	}
	if len(p.Properties.Parameter) == 0 {
		return model.Dataset{}, &DataError{Err: fmt.Errorf("no parameter block")}
	}

	params := make(map[string]map[string]float64, len(upstream.Parameters))
	for _, name := range upstream.Parameters {
		series, ok := p.Properties.Parameter[name]
		if !ok {
			return model.Dataset{}, &DataError{Param: name, Err: fmt.Errorf("parameter missing")}
		}
		params[name] = series
	}

	q = q.Normalize()
	dates := q.Dates()
	records := make([]model.DailyRecord, 0, len(dates))
	for _, d := range dates {
		key := d.Format(model.CompactDate)
		rec := model.DailyRecord{Date: d}

		var err error
		if rec.MaxTemp, err = value(params, "T2M_MAX", key); err != nil {
			return model.Dataset{}, err
		}
		if rec.MinTemp, err = value(params, "T2M_MIN", key); err != nil {
			return model.Dataset{}, err
		}
		if rec.Precipitation, err = value(params, "PRECTOTCORR", key); err != nil {
			return model.Dataset{}, err
		}
		if rec.Humidity, err = value(params, "RH2M", key); err != nil {
			return model.Dataset{}, err
		}
		if rec.WindSpeed, err = value(params, "WS2M", key); err != nil {
			return model.Dataset{}, err
		}

		if !rec.InBounds() {
			return model.Dataset{}, &DataError{Date: key, Err: fmt.Errorf(
				"values out of physical range: max=%.1f min=%.1f precip=%.1f rh=%.1f wind=%.1f",
				rec.MaxTemp, rec.MinTemp, rec.Precipitation, rec.Humidity, rec.WindSpeed)}
		}
		records = append(records, rec)
	}

	return model.Dataset{Records: records, Synthetic: false, FetchedAt: now.UTC()}, nil
}

func value(params map[string]map[string]float64, name, date string) (float64, error) {
	v, ok := params[name][date]
	if !ok {
		return 0, &DataError{Param: name, Date: date, Err: fmt.Errorf("day missing")}
	}
	if v == MissingSentinel {
		return 0, &DataError{Param: name, Date: date, Err: fmt.Errorf("missing-value sentinel")}
	}
	return v, nil
}
