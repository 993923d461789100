package api

import (
	"encoding/json"
	"net/http"

	"github.com/samber/lo"

	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/model"
)

const maxRouteBody = 4 << 10

type routeRequest struct {
	Source      *int64 `json:"source"`
	Destination *int64 `json:"destination"`
}

type routeResponse struct {
	Success     bool           `json:"success"`
	Distance    float64        `json:"distance"`
	Path        []int64        `json:"path"`
	Coordinates []model.LatLon `json:"coordinates"`
}

type routeErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func decodeRouteRequest(r *http.Request, w http.ResponseWriter) (src, dst int64, err error) {
	var req routeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRouteBody))
	if err := dec.Decode(&req); err != nil {
		return 0, 0, badRequest("invalid route body: %v", err)
	}
	if req.Source == nil || req.Destination == nil {
		return 0, 0, badRequest("source and destination are required")
	}
	if *req.Source < 0 || *req.Destination < 0 {
		return 0, 0, badRequest("source and destination must be non-negative node ids")
	}
	return *req.Source, *req.Destination, nil
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	src, dst, err := decodeRouteRequest(r, w)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.routes == nil {
		s.writeError(w, r, engine.ErrDisabled)
		return
	}

	rt, err := s.routes.GetRoute(r.Context(), src, dst)
	if err != nil {
		code := s.logError(r, err)
		msg := err.Error()
		switch code {
		case http.StatusNotFound:
			msg = "no route between the given nodes"
		case http.StatusServiceUnavailable:
			msg = "routing engine unavailable"
		}
		writeJSON(w, code, routeErrorResponse{Error: msg})
		return
	}

	writeJSON(w, http.StatusOK, routeResponse{
		Success:     true,
		Distance:    rt.Distance,
		Path:        lo.Ternary(rt.Path == nil, []int64{}, rt.Path),
		Coordinates: lo.Ternary(rt.Coordinates == nil, []model.LatLon{}, rt.Coordinates),
	})
}
