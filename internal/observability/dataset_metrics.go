package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DatasetCollector exposes the size of the loaded graph and place data, and
// the route cache hit rate.
type DatasetCollector struct {
	Nodes          prometheus.Gauge
	Edges          prometheus.Gauge
	Places         prometheus.Gauge
	PlacesResolved prometheus.Gauge
	LoadDuration   *prometheus.GaugeVec
	RouteCache     *prometheus.CounterVec
}

// NewDatasetCollector registers dataset metrics against the provided registerer.
func NewDatasetCollector(reg prometheus.Registerer) (*DatasetCollector, error) {
	reg, _ = resolveRegistry(reg)

	nodes, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataset_nodes",
		Help: "Number of graph nodes served.",
	}), "dataset_nodes")
	if err != nil {
		return nil, err
	}
	edges, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataset_edges",
		Help: "Number of CSR adjacency entries served.",
	}), "dataset_edges")
	if err != nil {
		return nil, err
	}
	places, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataset_places",
		Help: "Number of places loaded.",
	}), "dataset_places")
	if err != nil {
		return nil, err
	}
	resolved, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dataset_places_resolved",
		Help: "Number of places joined to a graph node.",
	}), "dataset_places_resolved")
	if err != nil {
		return nil, err
	}
	load, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dataset_load_duration_seconds",
		Help: "Wall time of the last dataset load, labeled by final status.",
	}, []string{"status"}), "dataset_load_duration_seconds")
	if err != nil {
		return nil, err
	}
	cache, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "route_cache_lookups_total",
		Help: "Route cache lookups by result (hit, miss).",
	}, []string{"result"}), "route_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	return &DatasetCollector{
		Nodes:          nodes,
		Edges:          edges,
		Places:         places,
		PlacesResolved: resolved,
		LoadDuration:   load,
		RouteCache:     cache,
	}, nil
}

// SetDatasetCounts publishes the loaded dataset's sizes.
func (c *DatasetCollector) SetDatasetCounts(nodes, edges, places, resolved int) {
	if c == nil {
		return
	}
	c.Nodes.Set(float64(nodes))
	c.Edges.Set(float64(edges))
	c.Places.Set(float64(places))
	c.PlacesResolved.Set(float64(resolved))
}

// ObserveLoad records how long the dataset load took.
func (c *DatasetCollector) ObserveLoad(status string, d time.Duration) {
	if c == nil || c.LoadDuration == nil {
		return
	}
	c.LoadDuration.WithLabelValues(status).Set(d.Seconds())
}

// ObserveCacheLookup counts a route cache hit or miss.
func (c *DatasetCollector) ObserveCacheLookup(hit bool) {
	if c == nil || c.RouteCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.RouteCache.WithLabelValues(result).Inc()
}
