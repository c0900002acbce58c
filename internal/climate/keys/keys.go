// Package keys builds canonical cache keys for climate queries. Two queries
// that would return the same underlying data must map to the same key, so
// coordinates are rounded to a fixed precision and dates normalized to
// calendar days before hashing.
package keys

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/farmnav/climate-cache/internal/climate/model"
)

// CoordPrecision is the number of decimal degrees kept when canonicalizing
// coordinates. Two decimals (~1.1 km at the equator) matches the upstream's
// grid resolution, so near-duplicate queries collapse to one entry.
const CoordPrecision = 2

const prefix = "climate"

// Key returns the canonical cache key for a query.
func Key(q model.Query) string {
	c := canonical(q)
	return fmt.Sprintf("%s:%s:h=%016x", prefix, c, xxhash.Sum64String(c))
}

// Seed64 returns a stable 64-bit seed derived from the canonical form of the
// query. Used to make synthetic fallback data reproducible per key.
func Seed64(q model.Query) uint64 {
	return xxhash.Sum64String(canonical(q))
}

func canonical(q model.Query) string {
	q = q.Normalize()
	return fmt.Sprintf("%s,%s:%s-%s",
		roundCoord(q.Latitude),
		roundCoord(q.Longitude),
		q.Start.Format(model.CompactDate),
		q.End.Format(model.CompactDate))
}

// roundCoord formats a coordinate with CoordPrecision decimals, folding the
// negative-zero artifact so -0.001 and 0.001 share a key.
func roundCoord(v float64) string {
	p := math.Pow10(CoordPrecision)
	r := math.Round(v*p) / p
	if r == 0 {
		r = 0 // normalize -0
	}
	return fmt.Sprintf("%.*f", CoordPrecision, r)
}
