package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/roadgraph/model"
)

func TestEncodeDecodeNodeRoundTrip(t *testing.T) {
	for _, ll := range []model.LatLon{
		{Lat: 28.7041, Lon: 77.1025},
		{Lat: -89.999999999, Lon: 179.123456789012},
		{Lat: 0, Lon: -0.000000001},
	} {
		var rec [RecordSize]byte
		EncodeNode(rec[:], ll)
		if got := DecodeNode(rec[:]); got != ll {
			t.Fatalf("DecodeNode(EncodeNode(%v)) = %v", ll, got)
		}
	}
}

func TestOpenNodesStrategiesAgree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.bin")
	coords := gridCoords(1000)
	require.NoError(t, WriteNodesFile(path, coords))

	b := model.NewBounds(10.2, 10.5, 20.01, 20.04)
	var reference []model.Node
	for _, strategy := range allStrategies {
		store, err := OpenNodes(path, WithStrategy(strategy))
		require.NoError(t, err, strategy)
		require.Equal(t, uint32(1000), store.Count())
		require.Equal(t, strategy, store.Strategy())

		got := store.QueryBBox(b, 0, 1)
		require.NotEmpty(t, got)
		if reference == nil {
			reference = got
		} else {
			require.Equal(t, reference, got, "strategy %s", strategy)
		}

		ll, ok := store.Get(101)
		require.True(t, ok)
		require.Equal(t, coords[101], ll)
		require.NoError(t, store.Close())
	}
}

func TestQueryBBoxReturnsOnlyNodesInside(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.bin")
	require.NoError(t, WriteNodesFile(path, gridCoords(5000)))
	store, err := OpenNodes(path)
	require.NoError(t, err)
	defer store.Close()

	b := model.NewBounds(10.1, 10.3, 20.0, 20.2)
	got := store.QueryBBox(b, MaxNodeResults, 1)
	require.NotEmpty(t, got)
	for _, n := range got {
		if !b.Contains(n.Lat, n.Lon) {
			t.Fatalf("node %d (%v,%v) outside bounds", n.ID, n.Lat, n.Lon)
		}
		ll, ok := store.Get(n.ID)
		require.True(t, ok)
		require.Equal(t, n.LatLon(), ll)
	}
}

func TestQueryBBoxHonoursLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.bin")
	require.NoError(t, WriteNodesFile(path, gridCoords(20000)))
	store, err := OpenNodes(path)
	require.NoError(t, err)
	defer store.Close()

	everything := model.NewBounds(-90, 90, -180, 180)
	for _, limit := range []int{1, 7, 2000, 10000} {
		got := store.QueryBBox(everything, limit, 1)
		want := min(limit, MaxNodeResults)
		if len(got) != want {
			t.Fatalf("QueryBBox(limit=%d) returned %d nodes, want %d", limit, len(got), want)
		}
	}
	if got := store.QueryBBox(everything, 0, 1); len(got) != DefaultNodeLimit {
		t.Fatalf("QueryBBox(limit=0) returned %d nodes, want %d", len(got), DefaultNodeLimit)
	}
}

func TestQueryBBoxSamplesWithStep(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.bin")
	require.NoError(t, WriteNodesFile(path, gridCoords(100)))
	store, err := OpenNodes(path)
	require.NoError(t, err)
	defer store.Close()

	got := store.QueryBBox(model.NewBounds(-90, 90, -180, 180), 100, 10)
	require.Len(t, got, 10)
	for i, n := range got {
		require.Equal(t, uint32(i*10), n.ID)
	}
}

func TestSampleStepBoundsExaminedRecords(t *testing.T) {
	cases := []struct {
		count uint32
		want  int
	}{
		{10, 1},
		{DefaultSampleBudget, 1},
		{DefaultSampleBudget + 1, 2},
		{99_999, 2},
		{3_000_000, 60},
		{3_000_001, 61},
	}
	for _, tc := range cases {
		s := &NodeStore{count: tc.count}
		got := s.SampleStep()
		if got != tc.want {
			t.Fatalf("SampleStep() for %d nodes = %d, want %d", tc.count, got, tc.want)
		}
		if examined := (uint64(tc.count) + uint64(got) - 1) / uint64(got); examined > DefaultSampleBudget {
			t.Fatalf("stride %d examines %d of %d records, want at most %d", got, examined, tc.count, DefaultSampleBudget)
		}
	}
}

func TestGetOutOfRange(t *testing.T) {
	nodesPath, _, _ := writeSampleGraph(t)
	store, err := OpenNodes(nodesPath)
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.Get(3)
	require.False(t, ok)
	_, ok = store.Lookup(-1)
	require.False(t, ok)
	_, ok = store.Lookup(1 << 40)
	require.False(t, ok)
	ll, ok := store.Lookup(2)
	require.True(t, ok)
	require.Equal(t, model.LatLon{Lat: 28.72, Lon: 77.12}, ll)
}

func TestStatsAndHead(t *testing.T) {
	nodesPath, _, _ := writeSampleGraph(t)
	store, err := OpenNodes(nodesPath, WithStrategy(StrategyPread))
	require.NoError(t, err)
	defer store.Close()

	stats := store.Stats()
	require.Equal(t, uint32(3), stats.Count)
	require.Equal(t, 28.70, stats.Bounds.MinLat())
	require.Equal(t, 28.72, stats.Bounds.MaxLat())
	require.Equal(t, 77.10, stats.Bounds.MinLon())
	require.Equal(t, 77.12, stats.Bounds.MaxLon())
	require.InDelta(t, 28.71, stats.Center.Lat, 1e-9)
	require.InDelta(t, 77.11, stats.Center.Lon, 1e-9)

	head := store.Head(2)
	require.Len(t, head, 2)
	require.Equal(t, uint32(1), head[1].ID)
}

func TestOpenNodesDegradedModes(t *testing.T) {
	dir := t.TempDir()

	store, err := OpenNodes(filepath.Join(dir, "missing.bin"))
	require.ErrorIs(t, err, ErrMissingFile)
	require.Nil(t, store)

	corrupt := filepath.Join(dir, "corrupt.bin")
	require.NoError(t, os.WriteFile(corrupt, make([]byte, 17), 0o644))
	store, err = OpenNodes(corrupt, WithStrategy(StrategyMmap))
	require.ErrorIs(t, err, ErrCorruptFile)
	require.Nil(t, store)

	// A nil store answers everything with empty results.
	require.Zero(t, store.Count())
	require.Empty(t, store.QueryBBox(model.NewBounds(-90, 90, -180, 180), 10, 0))
	require.Empty(t, store.Head(10))
	_, ok := store.Get(0)
	require.False(t, ok)
	require.Zero(t, store.Stats().Count)
	require.NoError(t, store.Scan(func(model.Node) bool { t.Fatal("scan on nil store"); return false }))
	require.NoError(t, store.Close())
}

func TestOpenNodesEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	for _, strategy := range allStrategies {
		store, err := OpenNodes(path, WithStrategy(strategy))
		require.NoError(t, err, strategy)
		require.Zero(t, store.Count())
		require.Empty(t, store.QueryBBox(model.NewBounds(-90, 90, -180, 180), 10, 0))
		require.NoError(t, store.Close())
	}
}

func TestParseStrategy(t *testing.T) {
	for in, want := range map[string]Strategy{"": StrategyMemory, "MMAP": StrategyMmap, " pread ": StrategyPread} {
		got, err := ParseStrategy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseStrategy("tape")
	require.Error(t, err)
}
