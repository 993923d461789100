package graph

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/model"
)

const (
	// DefaultEdgeLimit is the result size used when the caller passes no limit.
	DefaultEdgeLimit = 2000
	// MaxEdgeResults is the hard cap on edges returned by one query.
	MaxEdgeResults = 5000
)

// EdgeStore serves adjacency from graph.offset/graph.targets, resolving
// endpoint coordinates through a NodeStore. A nil *EdgeStore is a valid,
// empty store.
type EdgeStore struct {
	nodes       *NodeStore
	offsets     blob
	targets     blob
	targetCount uint32
}

// OpenEdges opens the CSR arrays for nodes. The offset file must hold
// exactly nodes.Count()+1 entries.
func OpenEdges(nodes *NodeStore, offsetPath, targetPath string, opts ...Option) (*EdgeStore, error) {
	if nodes == nil {
		return nil, errors.Wrap(ErrMissingFile, "edge store needs a node store")
	}
	o := buildOptions(opts)

	offsets, err := openBlob(offsetPath, o.strategy)
	if err != nil {
		return nil, err
	}
	if want := (int64(nodes.Count()) + 1) * 4; offsets.Size() != want {
		_ = offsets.Close()
		return nil, errors.Wrapf(ErrCorruptFile, "%s: size %d, want %d for %d nodes",
			offsetPath, offsets.Size(), want, nodes.Count())
	}

	targets, err := openBlob(targetPath, o.strategy)
	if err != nil {
		_ = offsets.Close()
		return nil, err
	}
	if targets.Size()%4 != 0 {
		_ = offsets.Close()
		_ = targets.Close()
		return nil, errors.Wrapf(ErrCorruptFile, "%s: size %d is not a multiple of 4", targetPath, targets.Size())
	}

	return &EdgeStore{
		nodes:       nodes,
		offsets:     offsets,
		targets:     targets,
		targetCount: uint32(targets.Size() / 4),
	}, nil
}

// EdgeCount returns the number of entries in the targets array.
func (e *EdgeStore) EdgeCount() uint32 {
	if e == nil {
		return 0
	}
	return e.targetCount
}

// span returns node u's half-open range into targets. Ranges that are
// decreasing or run past the targets array read as empty.
func (e *EdgeStore) span(u uint32) (uint32, uint32, bool) {
	var buf [8]byte
	if _, err := e.offsets.ReadAt(buf[:], int64(u)*4); err != nil {
		return 0, 0, false
	}
	start := binary.LittleEndian.Uint32(buf[0:4])
	end := binary.LittleEndian.Uint32(buf[4:8])
	if start > end || end > e.targetCount {
		return 0, 0, false
	}
	return start, end, true
}

// adjacentChunk is how many targets adjacent reads per call.
const adjacentChunk = 1024

// adjacent calls fn for every valid target of u until fn returns false.
// Targets are read adjacentChunk at a time so a huge or malformed span
// costs no more than the caller consumes.
func (e *EdgeStore) adjacent(u uint32, fn func(v uint32) bool) {
	start, end, ok := e.span(u)
	if !ok || start == end {
		return
	}
	count := e.nodes.Count()
	var buf [adjacentChunk * 4]byte
	for pos := uint64(start); pos < uint64(end); {
		n := min(uint64(end)-pos, adjacentChunk)
		chunk := buf[:n*4]
		if _, err := e.targets.ReadAt(chunk, int64(pos)*4); err != nil {
			return
		}
		for i := 0; i < len(chunk); i += 4 {
			v := int32(binary.LittleEndian.Uint32(chunk[i : i+4]))
			if v < 0 || uint32(v) >= count {
				continue
			}
			if !fn(uint32(v)) {
				return
			}
		}
		pos += n
	}
}

// Neighbors returns the targets of node u. Out-of-range u yields an empty
// slice.
func (e *EdgeStore) Neighbors(u uint32) []uint32 {
	out := []uint32{}
	if e == nil || u >= e.nodes.Count() {
		return out
	}
	e.adjacent(u, func(v uint32) bool {
		out = append(out, v)
		return true
	})
	return out
}

// QueryBBoxEdges returns up to maxEdges edges whose endpoints both lie in
// b. Sources are sampled with the node store's SampleStep and the scan
// stops as soon as the limit is reached. (u,v) and (v,u) are reported
// separately when both adjacency lists carry them.
func (e *EdgeStore) QueryBBoxEdges(b model.Bounds, maxEdges int) []model.Edge {
	out := []model.Edge{}
	if e == nil || e.nodes.Count() == 0 {
		return out
	}
	maxEdges = clampLimit(maxEdges, DefaultEdgeLimit, MaxEdgeResults)
	step := uint64(e.nodes.SampleStep())
	count := uint64(e.nodes.Count())

	var rec [RecordSize]byte
	for u := uint64(0); u < count && len(out) < maxEdges; u += step {
		from, ok := e.nodes.read(uint32(u), rec[:])
		if !ok || !b.Contains(from.Lat, from.Lon) {
			continue
		}
		e.adjacent(uint32(u), func(v uint32) bool {
			to, ok := e.nodes.read(v, rec[:])
			if !ok || !b.Contains(to.Lat, to.Lon) {
				return true
			}
			out = append(out, model.Edge{
				From:    uint32(u),
				To:      v,
				FromLat: from.Lat,
				FromLon: from.Lon,
				ToLat:   to.Lat,
				ToLon:   to.Lon,
			})
			return len(out) < maxEdges
		})
	}
	return out
}

// Close releases both CSR files. The node store is owned by the caller.
func (e *EdgeStore) Close() error {
	if e == nil {
		return nil
	}
	err := e.offsets.Close()
	if terr := e.targets.Close(); err == nil {
		err = terr
	}
	return err
}
