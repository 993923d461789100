package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/roadgraph/model"
)

var allStrategies = []Strategy{StrategyMemory, StrategyMmap, StrategyPread}

// writeSampleGraph lays out the three-node sample graph used across the
// package tests: 0 -> 1, 1 -> 2, 2 has no outgoing edges.
func writeSampleGraph(t *testing.T) (nodesPath, offsetPath, targetPath string) {
	t.Helper()
	dir := t.TempDir()
	nodesPath = filepath.Join(dir, "nodes.bin")
	offsetPath = filepath.Join(dir, "graph.offset")
	targetPath = filepath.Join(dir, "graph.targets")

	require.NoError(t, WriteNodesFile(nodesPath, []model.LatLon{
		{Lat: 28.70, Lon: 77.10},
		{Lat: 28.71, Lon: 77.11},
		{Lat: 28.72, Lon: 77.12},
	}))
	require.NoError(t, WriteCSRFiles(offsetPath, targetPath, [][]int32{{1}, {2}, {}}))
	return nodesPath, offsetPath, targetPath
}

func gridCoords(n int) []model.LatLon {
	coords := make([]model.LatLon, 0, n)
	for i := 0; i < n; i++ {
		coords = append(coords, model.LatLon{
			Lat: 10 + float64(i%100)*0.01,
			Lon: 20 + float64(i/100)*0.01,
		})
	}
	return coords
}
