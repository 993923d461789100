// Package route decorates routing engine answers with node coordinates.
package route

import (
	"context"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/signalsfoundry/roadgraph/internal/engine"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/model"
)

var (
	// ErrNotFound reports that the engine found no path between the nodes.
	ErrNotFound = errors.WithMessage(engine.ErrNoPath, "route not found")
	// ErrUnavailable reports that no engine answer could be obtained.
	ErrUnavailable = engine.ErrUnavailable
)

// Querier answers shortest path queries. *engine.Engine implements it.
type Querier interface {
	Query(ctx context.Context, src, dst int64) (engine.Result, error)
}

// Locator resolves node ids to coordinates. *graph.NodeStore implements it.
type Locator interface {
	Lookup(id int64) (model.LatLon, bool)
}

// CacheRecorder counts cache lookups.
type CacheRecorder interface {
	ObserveCacheLookup(hit bool)
}

// Route is a resolved path. Coordinates holds one entry per path node the
// node store could resolve, in path order.
type Route struct {
	Distance    float64        `json:"distance"`
	Path        []int64        `json:"path"`
	Coordinates []model.LatLon `json:"coordinates"`
}

// Option customises a Service.
type Option func(*Service)

// WithCacheSize keeps the n most recent results. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(s *Service) { s.cacheSize = n }
}

// WithCacheRecorder reports cache hits and misses to r.
func WithCacheRecorder(r CacheRecorder) Option {
	return func(s *Service) { s.rec = r }
}

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

type cacheKey struct {
	src, dst int64
}

func (k cacheKey) String() string {
	return strconv.FormatInt(k.src, 10) + ":" + strconv.FormatInt(k.dst, 10)
}

// cached is a successful route or a remembered no-path answer.
type cached struct {
	route  *Route
	noPath bool
}

// Service is the route facade. Identical concurrent requests share one
// engine query.
type Service struct {
	q         Querier
	nodes     Locator
	log       logging.Logger
	rec       CacheRecorder
	cacheSize int
	cache     *lru.Cache[cacheKey, cached]
	group     singleflight.Group
}

// NewService builds a facade over q. nodes may be nil, in which case routes
// carry no coordinates.
func NewService(q Querier, nodes Locator, opts ...Option) (*Service, error) {
	s := &Service{q: q, nodes: nodes, log: logging.Noop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize > 0 {
		c, err := lru.New[cacheKey, cached](s.cacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "route cache")
		}
		s.cache = c
	}
	s.log = s.log.With(logging.Component("route"))
	return s, nil
}

// GetRoute returns the shortest path from src to dst with coordinates.
// Errors match ErrNotFound or ErrUnavailable. The returned Route may be
// shared with other callers and must not be modified.
func (s *Service) GetRoute(ctx context.Context, src, dst int64) (*Route, error) {
	if s == nil || s.q == nil {
		return nil, ErrUnavailable
	}
	key := cacheKey{src: src, dst: dst}
	if c, ok := s.lookup(key); ok {
		return c.result()
	}

	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.resolve(context.WithoutCancel(ctx), key)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Route), nil
	case <-ctx.Done():
		return nil, errors.WithMessage(ErrUnavailable, ctx.Err().Error())
	}
}

func (s *Service) lookup(key cacheKey) (cached, bool) {
	if s.cache == nil {
		return cached{}, false
	}
	c, ok := s.cache.Get(key)
	if s.rec != nil {
		s.rec.ObserveCacheLookup(ok)
	}
	return c, ok
}

func (c cached) result() (*Route, error) {
	if c.noPath {
		return nil, ErrNotFound
	}
	return c.route, nil
}

func (s *Service) resolve(ctx context.Context, key cacheKey) (*Route, error) {
	res, err := s.q.Query(ctx, key.src, key.dst)
	if errors.Is(err, engine.ErrNoPath) {
		s.remember(key, cached{noPath: true})
		return nil, ErrNotFound
	}
	if err != nil {
		s.log.Debug(ctx, "route query failed",
			logging.Int64("source", key.src),
			logging.Int64("destination", key.dst),
			logging.Err(err))
		return nil, err
	}

	route := &Route{
		Distance:    res.Distance,
		Path:        lo.Ternary(res.Path == nil, []int64{}, res.Path),
		Coordinates: s.coordinates(res.Path),
	}
	// Routes with unresolved coordinates are not cached; the node store
	// may not have been published yet.
	if skipped := len(route.Path) - len(route.Coordinates); skipped > 0 {
		s.log.Warn(ctx, "route path contains unknown nodes",
			logging.Int("skipped", skipped),
			logging.Int("path_length", len(route.Path)))
	} else {
		s.remember(key, cached{route: route})
	}
	s.log.Debug(ctx, "route resolved",
		logging.Int64("source", key.src),
		logging.Int64("destination", key.dst),
		logging.Float64("distance", route.Distance),
		logging.Int("path_length", len(route.Path)))
	return route, nil
}

func (s *Service) coordinates(path []int64) []model.LatLon {
	if s.nodes == nil {
		return []model.LatLon{}
	}
	return lo.FilterMap(path, func(id int64, _ int) (model.LatLon, bool) {
		return s.nodes.Lookup(id)
	})
}

func (s *Service) remember(key cacheKey, c cached) {
	if s.cache != nil {
		s.cache.Add(key, c)
	}
}

// Purge drops every cached result.
func (s *Service) Purge() {
	if s != nil && s.cache != nil {
		s.cache.Purge()
	}
}
