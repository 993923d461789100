package api

import (
	"math"
	"net/url"
	"strconv"

	"github.com/signalsfoundry/roadgraph/model"
)

var boundsKeys = [...]string{"minLat", "maxLat", "minLon", "maxLon"}

// parseBounds reads minLat, maxLat, minLon and maxLon. It reports ok=false
// when none is given, and an error when only some are or one is not a
// finite number.
func parseBounds(q url.Values) (b model.Bounds, ok bool, err error) {
	var vals [len(boundsKeys)]float64
	given := 0
	for i, key := range boundsKeys {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		given++
		v, perr := strconv.ParseFloat(raw, 64)
		if perr != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return model.Bounds{}, false, badRequest("%s must be a number, got %q", key, raw)
		}
		vals[i] = v
	}
	switch given {
	case 0:
		return model.Bounds{}, false, nil
	case len(boundsKeys):
		return model.NewBounds(vals[0], vals[1], vals[2], vals[3]), true, nil
	default:
		return model.Bounds{}, false, badRequest("minLat, maxLat, minLon and maxLon must be given together")
	}
}

// intParam parses an optional non-negative integer. Missing yields def.
func intParam(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest("%s must be a non-negative integer, got %q", key, raw)
	}
	return v, nil
}

// parseID parses a place id path segment.
func parseID(raw string) (uint32, error) {
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, badRequest("id must be a non-negative integer, got %q", raw)
	}
	return uint32(v), nil
}
