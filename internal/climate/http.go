package climate

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/farmnav/climate-cache/internal/climate/model"
	"github.com/farmnav/climate-cache/internal/logger"
)

// climateResponse is the wire shape served to HTTP consumers; the source tag
// lets them degrade gracefully when the data is synthetic.
type climateResponse struct {
	Source  model.Source  `json:"source"`
	Dataset model.Dataset `json:"dataset"`
}

// HandleClimate implements the router seam on top of GetClimateData.
func (s *Service) HandleClimate(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.Query) {
	ds, src, err := s.GetClimateData(ctx, q)
	if err != nil {
		// only reachable when the client went away
		http.Error(w, "request canceled", http.StatusRequestTimeout)
		return
	}

	ctx = logger.WithSource(ctx, string(src))
	s.log.LogAttrs(ctx, slog.LevelInfo, "climate query served",
		slog.Int("records", len(ds.Records)),
		slog.String("source", string(src)),
	)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(climateResponse{Source: src, Dataset: ds}); err != nil {
		s.log.LogAttrs(r.Context(), slog.LevelWarn, "write response", slog.String("err", err.Error()))
	}
}
