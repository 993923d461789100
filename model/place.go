package model

// UnresolvedNode is the NodeID of a place that has not been joined to the
// graph yet (or could not be, because the graph is empty).
const UnresolvedNode int32 = -1

// Place is a named point of interest loaded from places.bin.
type Place struct {
	ID     uint32  `json:"id"`
	Name   string  `json:"name"`
	Type   string  `json:"type"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	NodeID int32   `json:"nodeId"`
}

// Resolved reports whether the place has been mapped onto a graph node.
func (p Place) Resolved() bool { return p.NodeID >= 0 }
