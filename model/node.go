package model

// LatLon is a WGS84 coordinate pair in degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Node is a road-graph vertex. ID is the record's position in the node
// file and is never stored on disk.
type Node struct {
	ID  uint32  `json:"id"`
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LatLon returns the node's coordinate.
func (n Node) LatLon() LatLon { return LatLon{Lat: n.Lat, Lon: n.Lon} }

// Edge is a directed adjacency entry with both endpoint coordinates
// denormalized so the caller needs no second lookup.
type Edge struct {
	From    uint32  `json:"from"`
	To      uint32  `json:"to"`
	FromLat float64 `json:"fromLat"`
	FromLon float64 `json:"fromLon"`
	ToLat   float64 `json:"toLat"`
	ToLon   float64 `json:"toLon"`
}

// Stats summarises a node set.
type Stats struct {
	Count  uint32 `json:"count"`
	Bounds Bounds `json:"bounds"`
	Center LatLon `json:"center"`
}
