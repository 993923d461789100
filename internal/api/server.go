// Package api serves the road graph over HTTP JSON.
package api

import (
	"context"
	"net/http"

	"github.com/signalsfoundry/roadgraph/internal/dataset"
	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/internal/observability"
	"github.com/signalsfoundry/roadgraph/internal/route"
)

// DatasetSource publishes the loaded stores. *dataset.Loader implements it.
type DatasetSource interface {
	Status() dataset.Status
	Dataset() *dataset.Dataset
}

// RouteService resolves routes. *route.Service implements it.
type RouteService interface {
	GetRoute(ctx context.Context, src, dst int64) (*route.Route, error)
}

// EngineStatus reports the routing engine supervisor state.
// *engine.Engine implements it.
type EngineStatus interface {
	Snapshot() engine.Snapshot
}

// Options wires a Server.
type Options struct {
	Data   DatasetSource
	Routes RouteService
	Engine EngineStatus
	Logger logging.Logger
	// Metrics records request metrics. When MetricsPath is set the
	// collector's registry is also exposed there.
	Metrics     *observability.HTTPCollector
	MetricsPath string
	CORSOrigins []string
}

// Server holds the HTTP handlers.
type Server struct {
	data    DatasetSource
	routes  RouteService
	engine  EngineStatus
	log     logging.Logger
	metrics *observability.HTTPCollector

	metricsPath string
	corsOrigins []string
}

// New builds a Server.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		data:        opts.Data,
		routes:      opts.Routes,
		engine:      opts.Engine,
		log:         log.With(logging.Component("api")),
		metrics:     opts.Metrics,
		metricsPath: opts.MetricsPath,
		corsOrigins: opts.CORSOrigins,
	}
}

var endpoints = []string{
	"/api/nodes",
	"/api/nodes/stats",
	"/api/edges",
	"/api/places/search",
	"/api/places/{id}/node",
	"/api/route",
	"/api/engine",
}

// Handler returns the routed handler with request id, tracing, metrics and
// CORS middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/nodes/stats", s.handleNodeStats)
	mux.HandleFunc("GET /api/edges", s.handleEdges)
	mux.HandleFunc("GET /api/places/search", s.handlePlaceSearch)
	mux.HandleFunc("GET /api/places/{id}/node", s.handlePlaceNode)
	mux.HandleFunc("POST /api/route", s.handleRoute)
	mux.HandleFunc("GET /api/engine", s.handleEngine)
	if s.metricsPath != "" {
		mux.Handle("GET "+s.metricsPath, s.metrics.Handler())
	}

	var h http.Handler = mux
	h = s.metrics.Middleware(h)
	h = withTracing(h)
	h = withRequestID(s.log, h)
	h = withCORS(s.corsOrigins, h)
	return h
}

// published returns the dataset to serve from. loading is true until the
// loader finishes. A failed load is served as an empty dataset so callers
// see empty results rather than a load that never completes.
func (s *Server) published() (ds *dataset.Dataset, loading bool) {
	if s.data != nil {
		if d := s.data.Dataset(); d != nil {
			return d, false
		}
	}
	if s.datasetStatus() == dataset.Loading {
		return nil, true
	}
	return &dataset.Dataset{}, false
}

func (s *Server) datasetStatus() dataset.Status {
	if s.data == nil {
		return dataset.Failed
	}
	return s.data.Status()
}

type indexResponse struct {
	Name      string         `json:"name"`
	Status    string         `json:"status"`
	Dataset   dataset.Status `json:"dataset"`
	Endpoints []string       `json:"endpoints"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, indexResponse{
		Name:      "roadgraph",
		Status:    "running",
		Dataset:   s.datasetStatus(),
		Endpoints: endpoints,
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.datasetStatus()
	code := http.StatusOK
	if status != dataset.Ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status.String()})
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, r, engine.ErrDisabled)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}
