package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/roadgraph/model"
)

func openSample(t *testing.T, strategy Strategy) (*NodeStore, *EdgeStore) {
	t.Helper()
	nodesPath, offsetPath, targetPath := writeSampleGraph(t)
	nodes, err := OpenNodes(nodesPath, WithStrategy(strategy))
	require.NoError(t, err)
	edges, err := OpenEdges(nodes, offsetPath, targetPath, WithStrategy(strategy))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = edges.Close()
		_ = nodes.Close()
	})
	return nodes, edges
}

func TestNeighborsSampleGraph(t *testing.T) {
	for _, strategy := range allStrategies {
		_, edges := openSample(t, strategy)
		require.Equal(t, []uint32{1}, edges.Neighbors(0), strategy)
		require.Equal(t, []uint32{2}, edges.Neighbors(1), strategy)
		require.Empty(t, edges.Neighbors(2), strategy)
		require.Empty(t, edges.Neighbors(3), strategy)
		require.Equal(t, uint32(2), edges.EdgeCount())
	}
}

func TestQueryBBoxEdgesSampleGraph(t *testing.T) {
	for _, strategy := range allStrategies {
		_, edges := openSample(t, strategy)
		got := edges.QueryBBoxEdges(model.NewBounds(28.695, 28.715, 77.095, 77.115), 10)
		require.Equal(t, []model.Edge{{
			From: 0, To: 1,
			FromLat: 28.70, FromLon: 77.10,
			ToLat: 28.71, ToLon: 77.11,
		}}, got, strategy)
	}
}

func TestQueryBBoxEdgesStopsAtLimit(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.bin")
	offsetPath := filepath.Join(dir, "graph.offset")
	targetPath := filepath.Join(dir, "graph.targets")

	const n = 300
	require.NoError(t, WriteNodesFile(nodesPath, gridCoords(n)))
	adj := make([][]int32, n)
	for u := range adj {
		adj[u] = []int32{int32((u + 1) % n), int32((u + n - 1) % n)}
	}
	require.NoError(t, WriteCSRFiles(offsetPath, targetPath, adj))

	nodes, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer nodes.Close()
	edges, err := OpenEdges(nodes, offsetPath, targetPath)
	require.NoError(t, err)
	defer edges.Close()

	b := model.NewBounds(-90, 90, -180, 180)
	for _, limit := range []int{1, 5, 99, 10000} {
		got := edges.QueryBBoxEdges(b, limit)
		if len(got) > min(limit, MaxEdgeResults) {
			t.Fatalf("QueryBBoxEdges(limit=%d) returned %d edges", limit, len(got))
		}
	}
	require.Len(t, edges.QueryBBoxEdges(b, 10000), 2*n)

	inner := model.NewBounds(10.2, 10.5, 20.0, 20.02)
	for _, e := range edges.QueryBBoxEdges(inner, 0) {
		require.True(t, inner.Contains(e.FromLat, e.FromLon))
		require.True(t, inner.Contains(e.ToLat, e.ToLon))
	}
}

type countingBlob struct {
	blob
	read int
}

func (c *countingBlob) ReadAt(p []byte, off int64) (int, error) {
	c.read += len(p)
	return c.blob.ReadAt(p, off)
}

func TestHighDegreeSpanReadsInChunks(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.bin")
	offsetPath := filepath.Join(dir, "graph.offset")
	targetPath := filepath.Join(dir, "graph.targets")

	const degree = 3*adjacentChunk + 7
	hub := make([]int32, degree)
	for i := range hub {
		hub[i] = int32(1 + i%2)
	}
	require.NoError(t, WriteNodesFile(nodesPath, gridCoords(3)))
	require.NoError(t, WriteCSRFiles(offsetPath, targetPath, [][]int32{hub, {}, {}}))

	nodes, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer nodes.Close()
	edges, err := OpenEdges(nodes, offsetPath, targetPath)
	require.NoError(t, err)
	defer edges.Close()

	got := edges.Neighbors(0)
	require.Len(t, got, degree)
	require.Equal(t, uint32(1), got[0])
	require.Equal(t, uint32(1+(degree-1)%2), got[degree-1])

	counter := &countingBlob{blob: edges.targets}
	edges.targets = counter
	require.Len(t, edges.QueryBBoxEdges(model.NewBounds(-90, 90, -180, 180), 5), 5)
	require.LessOrEqual(t, counter.read, adjacentChunk*4)
}

func TestEdgesSkipInvalidTargets(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.bin")
	offsetPath := filepath.Join(dir, "graph.offset")
	targetPath := filepath.Join(dir, "graph.targets")
	require.NoError(t, WriteNodesFile(nodesPath, []model.LatLon{{Lat: 1, Lon: 1}, {Lat: 1.001, Lon: 1.001}}))
	require.NoError(t, WriteCSRFiles(offsetPath, targetPath, [][]int32{{-1, 7, 1}, {0}}))

	nodes, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer nodes.Close()
	edges, err := OpenEdges(nodes, offsetPath, targetPath)
	require.NoError(t, err)
	defer edges.Close()

	require.Equal(t, []uint32{1}, edges.Neighbors(0))
	require.Len(t, edges.QueryBBoxEdges(model.NewBounds(0, 2, 0, 2), 10), 2)
}

func TestEdgesNonMonotonicOffsetsReadEmpty(t *testing.T) {
	dir := t.TempDir()
	nodesPath := filepath.Join(dir, "nodes.bin")
	offsetPath := filepath.Join(dir, "graph.offset")
	targetPath := filepath.Join(dir, "graph.targets")
	require.NoError(t, WriteNodesFile(nodesPath, []model.LatLon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}))
	require.NoError(t, writeLE(offsetPath, []uint32{0, 2, 1}))
	require.NoError(t, writeLE(targetPath, []int32{1, 0}))

	nodes, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer nodes.Close()
	edges, err := OpenEdges(nodes, offsetPath, targetPath)
	require.NoError(t, err)
	defer edges.Close()

	require.Equal(t, []uint32{1, 0}, edges.Neighbors(0))
	require.Empty(t, edges.Neighbors(1))
}

func TestOpenEdgesDegradedModes(t *testing.T) {
	nodesPath, offsetPath, targetPath := writeSampleGraph(t)
	nodes, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer nodes.Close()

	_, err = OpenEdges(nil, offsetPath, targetPath)
	require.ErrorIs(t, err, ErrMissingFile)

	_, err = OpenEdges(nodes, offsetPath+".missing", targetPath)
	require.ErrorIs(t, err, ErrMissingFile)

	_, err = OpenEdges(nodes, offsetPath, targetPath+".missing")
	require.ErrorIs(t, err, ErrMissingFile)

	short := filepath.Join(t.TempDir(), "short.offset")
	require.NoError(t, os.WriteFile(short, make([]byte, 8), 0o644))
	_, err = OpenEdges(nodes, short, targetPath)
	require.ErrorIs(t, err, ErrCorruptFile)

	ragged := filepath.Join(t.TempDir(), "ragged.targets")
	require.NoError(t, os.WriteFile(ragged, make([]byte, 6), 0o644))
	_, err = OpenEdges(nodes, offsetPath, ragged)
	require.ErrorIs(t, err, ErrCorruptFile)

	var edges *EdgeStore
	require.Empty(t, edges.Neighbors(0))
	require.Empty(t, edges.QueryBBoxEdges(model.NewBounds(-90, 90, -180, 180), 10))
	require.Zero(t, edges.EdgeCount())
	require.NoError(t, edges.Close())
}
