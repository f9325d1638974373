// Package geo holds the geographic primitives tiles are addressed with
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// mercatorLimit is the latitude where Web-Mercator tiles end
const mercatorLimit = 85.0511287798066

// Sector is a lat/lon rectangle in degrees, backed by an orb.Bound (Min = south-west)
type Sector struct{ b orb.Bound }

// NewSector builds a sector from its edges, swapping inverted edges
func NewSector(south, west, north, east float64) Sector {
	if south > north {
		south, north = north, south
	}
	if west > east {
		west, east = east, west
	}
	return Sector{b: orb.Bound{Min: orb.Point{west, south}, Max: orb.Point{east, north}}}
}

// FromBound wraps an orb.Bound whose X is longitude and Y latitude
func FromBound(b orb.Bound) Sector { return NewSector(b.Min.Y(), b.Min.X(), b.Max.Y(), b.Max.X()) }

// FullSphere covers the whole globe
func FullSphere() Sector { return NewSector(-90, -180, 90, 180) }

func (s Sector) South() float64 { return s.b.Min.Y() }
func (s Sector) West() float64  { return s.b.Min.X() }
func (s Sector) North() float64 { return s.b.Max.Y() }
func (s Sector) East() float64  { return s.b.Max.X() }

// DeltaLat is the latitude span in degrees
func (s Sector) DeltaLat() float64 { return s.North() - s.South() }

// DeltaLon is the longitude span in degrees
func (s Sector) DeltaLon() float64 { return s.East() - s.West() }

// Center returns the sector midpoint as lon,lat
func (s Sector) Center() orb.Point { return s.b.Center() }

// Bound returns the underlying orb.Bound
func (s Sector) Bound() orb.Bound { return s.b }

// IsEmpty reports a sector without area
func (s Sector) IsEmpty() bool { return s.DeltaLat() <= 0 || s.DeltaLon() <= 0 }

// Equal compares edges exactly
func (s Sector) Equal(o Sector) bool { return s.b.Equal(o.b) }

// Touches reports whether s and o share a region with positive area
// Sectors meeting only on an edge or a corner do not touch.
func (s Sector) Touches(o Sector) bool {
	_, ok := s.Intersection(o)
	return ok
}

// FullContains reports whether o lies entirely inside s, edges included
func (s Sector) FullContains(o Sector) bool {
	return s.South() <= o.South() && s.West() <= o.West() &&
		s.North() >= o.North() && s.East() >= o.East()
}

// Intersection returns the overlap of s and o; ok is false when it has no area
func (s Sector) Intersection(o Sector) (Sector, bool) {
	south := math.Max(s.South(), o.South())
	west := math.Max(s.West(), o.West())
	north := math.Min(s.North(), o.North())
	east := math.Min(s.East(), o.East())
	if south >= north || west >= east {
		return Sector{}, false
	}
	return NewSector(south, west, north, east), true
}

// MercatorBound projects the sector to Web-Mercator meters
// Latitudes are clamped to the projection limit first.
func (s Sector) MercatorBound() orb.Bound {
	clamp := func(lat float64) float64 { return math.Max(-mercatorLimit, math.Min(mercatorLimit, lat)) }
	lo := project.WGS84.ToMercator(orb.Point{s.West(), clamp(s.South())})
	hi := project.WGS84.ToMercator(orb.Point{s.East(), clamp(s.North())})
	return orb.Bound{Min: lo, Max: hi}
}

// String renders south,west,north,east with shortest round-trip numbers
func (s Sector) String() string {
	return FormatFloat(s.South()) + "," + FormatFloat(s.West()) + "," +
		FormatFloat(s.North()) + "," + FormatFloat(s.East())
}

// FormatFloat renders f with the shortest representation that parses back to f
func FormatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// ParseSector parses "south,west,north,east" in degrees
func ParseSector(raw string) (Sector, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return Sector{}, fmt.Errorf("sector %q: want 4 comma separated values, got %d", raw, len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Sector{}, fmt.Errorf("sector %q: %w", raw, err)
		}
		v[i] = f
	}
	for i, f := range v {
		limit := 90.0
		if i%2 == 1 {
			limit = 180
		}
		if f < -limit || f > limit {
			return Sector{}, fmt.Errorf("sector %q: out of range", raw)
		}
	}
	s := NewSector(v[0], v[1], v[2], v[3])
	if s.IsEmpty() {
		return Sector{}, fmt.Errorf("sector %q: empty", raw)
	}
	return s, nil
}

// Extent is a raster size in pixels
type Extent struct {
	Width  int `json:"width" yaml:"width" validate:"min=1"`
	Height int `json:"height" yaml:"height" validate:"min=1"`
}

// String renders WxH
func (e Extent) String() string { return strconv.Itoa(e.Width) + "x" + strconv.Itoa(e.Height) }
