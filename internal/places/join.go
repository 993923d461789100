package places

import (
	"math"

	"github.com/pkg/errors"

	"github.com/signalsfoundry/roadgraph/model"
)

const (
	// GridSize is the spatial join cell edge in degrees.
	GridSize = 0.01
	// widenFactor grows the cell edge for places left unresolved by a pass.
	widenFactor = 8
	// maxCellSize covers the whole globe from any cell's neighbourhood.
	maxCellSize = 360.0
)

// NodeScanner streams every graph node once. *graph.NodeStore satisfies it.
type NodeScanner interface {
	Scan(fn func(model.Node) bool) error
}

type cell struct {
	lat, lon int64
}

func cellOf(lat, lon, size float64) cell {
	return cell{
		lat: int64(math.Floor(lat / size)),
		lon: int64(math.Floor(lon / size)),
	}
}

// Resolve sets NodeID on every place to a nearby graph node and returns the
// number of resolved places.
//
// The first pass registers each place in its GridSize cell and the eight
// neighbours, then streams the nodes once, so a place is matched to the
// closest node within one cell-width. Places with no node that close are
// retried with cells widenFactor times larger until every place is resolved
// or the cells span the globe. Distance is squared Euclidean distance in
// degree space: consistent, not geodesic.
//
// An empty graph leaves every place at model.UnresolvedNode.
func Resolve(places []model.Place, nodes NodeScanner) (int, error) {
	if len(places) == 0 || nodes == nil {
		return 0, nil
	}

	best := make([]float64, len(places))
	pending := make([]int32, len(places))
	for i := range places {
		best[i] = math.Inf(1)
		pending[i] = int32(i)
	}

	for size := GridSize; len(pending) > 0; size *= widenFactor {
		seen, err := joinPass(places, pending, best, nodes, size)
		if err != nil {
			return 0, err
		}
		if seen == 0 {
			break
		}
		pending = pending[:0]
		for i := range places {
			if !places[i].Resolved() {
				pending = append(pending, int32(i))
			}
		}
		if size >= maxCellSize {
			break
		}
	}

	resolved := 0
	for _, p := range places {
		if p.Resolved() {
			resolved++
		}
	}
	return resolved, nil
}

// joinPass runs one grid pass over the places listed in pending and returns
// how many nodes were streamed. The grid is scratch and dropped on return.
func joinPass(places []model.Place, pending []int32, best []float64, nodes NodeScanner, size float64) (int, error) {
	grid := make(map[cell][]int32, len(pending)*9)
	for _, pi := range pending {
		base := cellOf(places[pi].Lat, places[pi].Lon, size)
		for dLat := int64(-1); dLat <= 1; dLat++ {
			for dLon := int64(-1); dLon <= 1; dLon++ {
				k := cell{lat: base.lat + dLat, lon: base.lon + dLon}
				grid[k] = append(grid[k], pi)
			}
		}
	}

	seen := 0
	err := nodes.Scan(func(n model.Node) bool {
		seen++
		for _, pi := range grid[cellOf(n.Lat, n.Lon, size)] {
			p := &places[pi]
			dLat, dLon := p.Lat-n.Lat, p.Lon-n.Lon
			if d := dLat*dLat + dLon*dLon; d < best[pi] {
				best[pi] = d
				p.NodeID = int32(n.ID)
			}
		}
		return true
	})
	if err != nil {
		return seen, errors.Wrap(err, "scan nodes for place join")
	}
	return seen, nil
}
