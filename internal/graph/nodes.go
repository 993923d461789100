package graph

import (
	"bufio"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/model"
)

const (
	// DefaultSampleBudget bounds how many records a bounding-box query
	// examines. Larger files are sampled every ceil(count/DefaultSampleBudget)
	// records.
	DefaultSampleBudget = 50000
	// DefaultNodeLimit is the result size used when the caller passes no limit.
	DefaultNodeLimit = 2000
	// MaxNodeResults is the hard cap on nodes returned by one query.
	MaxNodeResults = 5000
)

// NodeStore answers point and bounding-box lookups over nodes.bin.
// A nil *NodeStore is a valid, empty store.
type NodeStore struct {
	src      blob
	count    uint32
	strategy Strategy
	stats    model.Stats
}

// OpenNodes opens a node file. On ErrMissingFile or ErrCorruptFile the
// returned store is nil; callers may keep using it in degraded mode.
func OpenNodes(path string, opts ...Option) (*NodeStore, error) {
	o := buildOptions(opts)
	src, err := openBlob(path, o.strategy)
	if err != nil {
		return nil, err
	}
	size := src.Size()
	if size%RecordSize != 0 {
		_ = src.Close()
		return nil, errors.Wrapf(ErrCorruptFile, "%s: size %d is not a multiple of %d", path, size, RecordSize)
	}
	if size/RecordSize > math.MaxUint32 {
		_ = src.Close()
		return nil, errors.Wrapf(ErrCorruptFile, "%s: %d records exceed the uint32 id space", path, size/RecordSize)
	}

	s := &NodeStore{
		src:      src,
		count:    uint32(size / RecordSize),
		strategy: o.strategy,
	}
	if err := s.computeStats(); err != nil {
		_ = src.Close()
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return s, nil
}

// Count returns the number of node records.
func (s *NodeStore) Count() uint32 {
	if s == nil {
		return 0
	}
	return s.count
}

// Strategy returns the access strategy the store was opened with.
func (s *NodeStore) Strategy() Strategy {
	if s == nil {
		return ""
	}
	return s.strategy
}

// Get returns the coordinate of node id. ok is false when id is out of
// range or the record cannot be read.
func (s *NodeStore) Get(id uint32) (model.LatLon, bool) {
	if s == nil || id >= s.count {
		return model.LatLon{}, false
	}
	var rec [RecordSize]byte
	return s.read(id, rec[:])
}

// Lookup is Get for ids arriving as signed integers from the engine or
// the API. Negative or oversized ids are out of range.
func (s *NodeStore) Lookup(id int64) (model.LatLon, bool) {
	if id < 0 || id > math.MaxUint32 {
		return model.LatLon{}, false
	}
	return s.Get(uint32(id))
}

func (s *NodeStore) read(id uint32, rec []byte) (model.LatLon, bool) {
	if _, err := s.src.ReadAt(rec[:RecordSize], int64(id)*RecordSize); err != nil {
		return model.LatLon{}, false
	}
	return DecodeNode(rec), true
}

// SampleStep returns the default stride for bounding-box queries. A scan
// with this stride examines at most DefaultSampleBudget records.
func (s *NodeStore) SampleStep() int {
	if s == nil {
		return 1
	}
	return max(1, int((uint64(s.count)+DefaultSampleBudget-1)/DefaultSampleBudget))
}

// QueryBBox returns up to maxResults nodes inside b, examining every
// step-th record. maxResults <= 0 selects DefaultNodeLimit and is capped at
// MaxNodeResults; step <= 0 selects SampleStep. Sampling trades
// completeness for bounded latency: callers wanting every node page with
// tighter bounds.
func (s *NodeStore) QueryBBox(b model.Bounds, maxResults, step int) []model.Node {
	if s == nil || s.count == 0 {
		return []model.Node{}
	}
	maxResults = clampLimit(maxResults, DefaultNodeLimit, MaxNodeResults)
	if step <= 0 {
		step = s.SampleStep()
	}

	out := make([]model.Node, 0, min(maxResults, 256))
	var rec [RecordSize]byte
	for id := uint64(0); id < uint64(s.count); id += uint64(step) {
		ll, ok := s.read(uint32(id), rec[:])
		if !ok || !b.Contains(ll.Lat, ll.Lon) {
			continue
		}
		out = append(out, model.Node{ID: uint32(id), Lat: ll.Lat, Lon: ll.Lon})
		if len(out) >= maxResults {
			break
		}
	}
	return out
}

// Head returns the first n nodes in file order.
func (s *NodeStore) Head(n int) []model.Node {
	out := []model.Node{}
	if s == nil || n <= 0 {
		return out
	}
	_ = s.Scan(func(node model.Node) bool {
		out = append(out, node)
		return len(out) < n
	})
	return out
}

// Stats returns the node count, bounding box and center computed at open.
func (s *NodeStore) Stats() model.Stats {
	if s == nil {
		return model.Stats{Bounds: model.EmptyBounds()}
	}
	return s.stats
}

// Scan streams every node in id order until fn returns false.
func (s *NodeStore) Scan(fn func(model.Node) bool) error {
	if s == nil || s.count == 0 {
		return nil
	}
	r := bufio.NewReaderSize(io.NewSectionReader(s.src, 0, s.src.Size()), 1<<16)
	var rec [RecordSize]byte
	for id := uint32(0); id < s.count; id++ {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return errors.Wrapf(err, "read node %d", id)
		}
		ll := DecodeNode(rec[:])
		if !fn(model.Node{ID: id, Lat: ll.Lat, Lon: ll.Lon}) {
			return nil
		}
	}
	return nil
}

// Close releases the underlying file or mapping.
func (s *NodeStore) Close() error {
	if s == nil {
		return nil
	}
	return s.src.Close()
}

func (s *NodeStore) computeStats() error {
	bounds := model.EmptyBounds()
	if err := s.Scan(func(n model.Node) bool {
		bounds = bounds.Extend(n.Lat, n.Lon)
		return true
	}); err != nil {
		return err
	}
	s.stats = model.Stats{Count: s.count, Bounds: bounds}
	if s.count > 0 {
		s.stats.Center = bounds.Center()
	}
	return nil
}

func clampLimit(limit, def, hardMax int) int {
	if limit <= 0 {
		limit = def
	}
	return min(limit, hardMax)
}
