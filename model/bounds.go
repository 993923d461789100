package model

import (
	"encoding/json"
	"math"

	"github.com/paulmach/orb"
)

// Bounds is an inclusive latitude/longitude window. It is backed by an
// orb.Bound, whose points are ordered [lon, lat].
type Bounds struct {
	b orb.Bound
}

// NewBounds builds a window from its four edges. Swapped edges are
// normalised so Min <= Max on both axes.
func NewBounds(minLat, maxLat, minLon, maxLon float64) Bounds {
	return Bounds{b: orb.Bound{
		Min: orb.Point{math.Min(minLon, maxLon), math.Min(minLat, maxLat)},
		Max: orb.Point{math.Max(minLon, maxLon), math.Max(minLat, maxLat)},
	}}
}

// EmptyBounds returns a window that contains nothing until extended.
func EmptyBounds() Bounds {
	return Bounds{b: orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}}
}

func (b Bounds) MinLat() float64 { return b.b.Min.Lat() }
func (b Bounds) MaxLat() float64 { return b.b.Max.Lat() }
func (b Bounds) MinLon() float64 { return b.b.Min.Lon() }
func (b Bounds) MaxLon() float64 { return b.b.Max.Lon() }

// IsEmpty reports whether nothing has been added to an EmptyBounds window.
func (b Bounds) IsEmpty() bool {
	return b.b.Min.Lat() > b.b.Max.Lat() || b.b.Min.Lon() > b.b.Max.Lon()
}

// Contains reports whether (lat, lon) lies inside the window, edges included.
func (b Bounds) Contains(lat, lon float64) bool {
	return b.b.Contains(orb.Point{lon, lat})
}

// Extend grows the window to include (lat, lon).
func (b Bounds) Extend(lat, lon float64) Bounds {
	if b.IsEmpty() {
		p := orb.Point{lon, lat}
		return Bounds{b: orb.Bound{Min: p, Max: p}}
	}
	return Bounds{b: b.b.Extend(orb.Point{lon, lat})}
}

// Center returns the midpoint of the window.
func (b Bounds) Center() LatLon {
	c := b.b.Center()
	return LatLon{Lat: c.Lat(), Lon: c.Lon()}
}

type boundsJSON struct {
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// MarshalJSON renders the window as {minLat,maxLat,minLon,maxLon}.
func (b Bounds) MarshalJSON() ([]byte, error) {
	if b.IsEmpty() {
		return json.Marshal(boundsJSON{})
	}
	return json.Marshal(boundsJSON{
		MinLat: b.MinLat(),
		MaxLat: b.MaxLat(),
		MinLon: b.MinLon(),
		MaxLon: b.MaxLon(),
	})
}
