// Package dataset opens the graph and place files in the background and
// publishes them as one immutable Dataset.
package dataset

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/roadgraph/internal/graph"
	"github.com/signalsfoundry/roadgraph/internal/logging"
	"github.com/signalsfoundry/roadgraph/internal/places"
	"github.com/signalsfoundry/roadgraph/model"
)

// Config locates the data files. Relative file names are resolved against
// Dir.
type Config struct {
	Dir      string `yaml:"dir"`
	Nodes    string `yaml:"nodes"`
	Offsets  string `yaml:"offsets"`
	Targets  string `yaml:"targets"`
	Places   string `yaml:"places"`
	Strategy string `yaml:"strategy"` // memory | mmap | pread
}

// DefaultConfig uses the standard file names in ./data.
func DefaultConfig() Config {
	return Config{
		Dir:      "data",
		Nodes:    "nodes.bin",
		Offsets:  "graph.offset",
		Targets:  "graph.targets",
		Places:   "places.bin",
		Strategy: string(graph.StrategyMemory),
	}
}

func (c Config) path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// Status is the progress of a Loader.
type Status int

const (
	Loading Status = iota
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Dataset is the set of opened stores. Edges and Places may be nil when
// their files were missing or corrupt; their methods are nil-safe.
type Dataset struct {
	Nodes  *graph.NodeStore
	Edges  *graph.EdgeStore
	Places *places.Index

	LoadedAt time.Time
	Took     time.Duration
}

// Close releases the underlying files.
func (d *Dataset) Close() error {
	if d == nil {
		return nil
	}
	err := d.Edges.Close()
	if nerr := d.Nodes.Close(); err == nil {
		err = nerr
	}
	return err
}

// Recorder receives dataset metrics. observability.DatasetCollector
// implements it.
type Recorder interface {
	SetDatasetCounts(nodes, edges, places, resolved int)
	ObserveLoad(status string, d time.Duration)
}

// Loader runs the one-time load and exposes its outcome.
type Loader struct {
	cfg Config
	log logging.Logger
	rec Recorder

	start sync.Once
	done  chan struct{}

	mu     sync.RWMutex
	status Status
	ds     *Dataset
	err    error
	closed bool
}

// ErrClosed is the load error when Close ran before loading finished.
var ErrClosed = errors.New("loader closed")

// NewLoader prepares a loader. log and rec may be nil.
func NewLoader(cfg Config, log logging.Logger, rec Recorder) *Loader {
	if log == nil {
		log = logging.Noop()
	}
	return &Loader{
		cfg:  cfg,
		log:  log.With(logging.Component("dataset")),
		rec:  rec,
		done: make(chan struct{}),
	}
}

// Start begins loading in the background. Later calls do nothing.
func (l *Loader) Start(ctx context.Context) {
	l.start.Do(func() {
		go func() {
			_, _ = l.run(ctx)
		}()
	})
}

// Load loads synchronously, or waits for a load already started.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	ran := false
	var (
		ds  *Dataset
		err error
	)
	l.start.Do(func() {
		ran = true
		ds, err = l.run(ctx)
	})
	if ran {
		return ds, err
	}
	if err := l.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Dataset(), nil
}

// Wait blocks until loading finishes or ctx ends. It returns the load error
// when loading failed.
func (l *Loader) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports loading progress.
func (l *Loader) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

// Dataset returns the published dataset, or nil until Ready.
func (l *Loader) Dataset() *Dataset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ds
}

// Err returns the reason loading failed.
func (l *Loader) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Lookup resolves a node id against the published node store. It reports
// false until the dataset is Ready.
func (l *Loader) Lookup(id int64) (model.LatLon, bool) {
	ds := l.Dataset()
	if ds == nil {
		return model.LatLon{}, false
	}
	return ds.Nodes.Lookup(id)
}

// Close releases the published dataset. A load still running when Close
// is called releases its files itself instead of publishing them.
func (l *Loader) Close() error {
	l.mu.Lock()
	ds := l.ds
	l.ds = nil
	l.closed = true
	l.mu.Unlock()
	return ds.Close()
}

func (l *Loader) run(ctx context.Context) (*Dataset, error) {
	defer close(l.done)
	began := time.Now()
	l.log.Info(ctx, "loading dataset", logging.String("dir", l.cfg.Dir))

	ds, err := l.load(ctx)
	took := time.Since(began)

	l.mu.Lock()
	if err == nil && l.closed {
		_ = ds.Close()
		ds, err = nil, ErrClosed
	}
	if err != nil {
		l.status, l.err = Failed, err
	} else {
		ds.LoadedAt, ds.Took = time.Now(), took
		l.status, l.ds = Ready, ds
	}
	status := l.status
	l.mu.Unlock()

	if l.rec != nil {
		l.rec.ObserveLoad(status.String(), took)
	}
	if errors.Is(err, ErrClosed) {
		l.log.Info(ctx, "loader closed during load; dataset released", logging.Duration("took", took))
		return nil, err
	}
	if err != nil {
		l.log.Error(ctx, "dataset load failed", logging.Err(err), logging.Duration("took", took))
		return nil, err
	}

	if l.rec != nil {
		l.rec.SetDatasetCounts(int(ds.Nodes.Count()), int(ds.Edges.EdgeCount()), ds.Places.Len(), ds.Places.Resolved())
	}
	l.log.Info(ctx, "dataset ready",
		logging.Int64("nodes", int64(ds.Nodes.Count())),
		logging.Int64("edges", int64(ds.Edges.EdgeCount())),
		logging.Int("places", ds.Places.Len()),
		logging.Int("places_resolved", ds.Places.Resolved()),
		logging.String("strategy", string(ds.Nodes.Strategy())),
		logging.Duration("took", took))
	return ds, nil
}

// load opens the node store, then the edge store and the joined place index
// in parallel. A missing or corrupt node file degrades to an empty graph:
// edges are skipped and places stay searchable but unresolved. Other node
// store errors fail the load.
func (l *Loader) load(ctx context.Context) (*Dataset, error) {
	strategy, err := graph.ParseStrategy(l.cfg.Strategy)
	if err != nil {
		return nil, err
	}
	nodes, err := graph.OpenNodes(l.cfg.path(l.cfg.Nodes), graph.WithStrategy(strategy))
	switch {
	case errors.Is(err, graph.ErrMissingFile), errors.Is(err, graph.ErrCorruptFile):
		l.log.Warn(ctx, "node store unavailable; serving an empty graph", logging.Err(err))
		nodes = nil
	case err != nil:
		return nil, errors.Wrap(err, "open node store")
	}

	ds := &Dataset{Nodes: nodes}
	g, gctx := errgroup.WithContext(ctx)
	if nodes != nil {
		g.Go(func() error {
			edges, err := graph.OpenEdges(nodes, l.cfg.path(l.cfg.Offsets), l.cfg.path(l.cfg.Targets), graph.WithStrategy(strategy))
			if err != nil {
				l.log.Warn(gctx, "edge store unavailable; serving nodes only", logging.Err(err))
				return nil
			}
			ds.Edges = edges
			return gctx.Err()
		})
	}
	g.Go(func() error {
		idx, err := l.loadPlaces(gctx, nodes)
		if err != nil {
			return err
		}
		ds.Places = idx
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		_ = ds.Close()
		return nil, errors.Wrap(err, "load dataset")
	}
	return ds, nil
}

func (l *Loader) loadPlaces(ctx context.Context, nodes *graph.NodeStore) (*places.Index, error) {
	list, err := places.Load(l.cfg.path(l.cfg.Places))
	if err != nil {
		l.log.Warn(ctx, "places unavailable; search disabled", logging.Err(err))
		return places.NewIndex(nil), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if nodes == nil {
		l.log.Info(ctx, "places loaded without a graph; none resolved", logging.Int("places", len(list)))
		return places.NewIndex(list), nil
	}

	began := time.Now()
	resolved, err := places.Resolve(list, nodes)
	if err != nil {
		l.log.Warn(ctx, "place join failed; places keep no node", logging.Err(err))
		for i := range list {
			list[i].NodeID = model.UnresolvedNode
		}
		resolved = 0
	}
	l.log.Info(ctx, "places joined to graph",
		logging.Int("places", len(list)),
		logging.Int("resolved", resolved),
		logging.Duration("took", time.Since(began)))
	return places.NewIndex(list), nil
}
