package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Projection selects how a pyramid cuts the globe into tiles
type Projection string

const (
	// WGS84 splits the top sector into equal lat/lon cells
	WGS84 Projection = "wgs84"
	// Mercator follows the Web-Mercator quadtree (orb/maptile)
	Mercator Projection = "mercator"
)

// Key addresses one tile in a pyramid; Row grows northward in both projections
type Key struct {
	Level  int `json:"level"`
	Row    int `json:"row"`
	Column int `json:"column"`
}

// String renders level/row/column
func (k Key) String() string { return fmt.Sprintf("%d/%d/%d", k.Level, k.Row, k.Column) }

// Pyramid describes the tile layout of a layer
type Pyramid struct {
	Projection Projection `yaml:"projection" validate:"omitempty,oneof=wgs84 mercator"`
	// SplitsLat and SplitsLon size level 0 for WGS84 pyramids
	SplitsLat int `yaml:"splits_lat" validate:"omitempty,min=1"`
	SplitsLon int `yaml:"splits_lon" validate:"omitempty,min=1"`
	MaxLevel  int `yaml:"max_level" validate:"min=0,max=30"`
}

// DefaultWGS84 is the usual globe layout: 2x4 tiles at level 0, quad split below
func DefaultWGS84() Pyramid {
	return Pyramid{Projection: WGS84, SplitsLat: 2, SplitsLon: 4, MaxLevel: 17}
}

// DefaultMercator is the Web-Mercator quadtree with a single tile at level 0
func DefaultMercator() Pyramid { return Pyramid{Projection: Mercator, MaxLevel: 18} }

func (p Pyramid) normalized() Pyramid {
	if p.Projection == "" {
		p.Projection = WGS84
	}
	if p.SplitsLat <= 0 {
		p.SplitsLat = 2
	}
	if p.SplitsLon <= 0 {
		p.SplitsLon = 4
	}
	return p
}

// Rows is the number of tile rows at level
func (p Pyramid) Rows(level int) int {
	p = p.normalized()
	if p.Projection == Mercator {
		return 1 << level
	}
	return p.SplitsLat << level
}

// Columns is the number of tile columns at level
func (p Pyramid) Columns(level int) int {
	p = p.normalized()
	if p.Projection == Mercator {
		return 1 << level
	}
	return p.SplitsLon << level
}

// Sector returns the geographic extent of a tile
func (p Pyramid) Sector(k Key) (Sector, error) {
	p = p.normalized()
	if k.Level < 0 || k.Level > p.MaxLevel {
		return Sector{}, fmt.Errorf("tile %s: level outside 0..%d", k, p.MaxLevel)
	}
	rows, cols := p.Rows(k.Level), p.Columns(k.Level)
	if k.Row < 0 || k.Row >= rows || k.Column < 0 || k.Column >= cols {
		return Sector{}, fmt.Errorf("tile %s: outside %dx%d grid", k, rows, cols)
	}
	if p.Projection == Mercator {
		y := uint32(rows - 1 - k.Row)
		t := maptile.New(uint32(k.Column), y, maptile.Zoom(k.Level))
		return FromBound(t.Bound()), nil
	}
	top := FullSphere()
	dLat := top.DeltaLat() / float64(rows)
	dLon := top.DeltaLon() / float64(cols)
	south := top.South() + float64(k.Row)*dLat
	west := top.West() + float64(k.Column)*dLon
	return NewSector(south, west, south+dLat, west+dLon), nil
}

// Children returns the four tiles one level down, south-west first
func (p Pyramid) Children(k Key) []Key {
	next := k.Level + 1
	return []Key{
		{Level: next, Row: 2 * k.Row, Column: 2 * k.Column},
		{Level: next, Row: 2 * k.Row, Column: 2*k.Column + 1},
		{Level: next, Row: 2*k.Row + 1, Column: 2 * k.Column},
		{Level: next, Row: 2*k.Row + 1, Column: 2*k.Column + 1},
	}
}

// Covering lists the tiles at level whose sector touches area, row-major from the south-west
func (p Pyramid) Covering(level int, area Sector) []Key {
	p = p.normalized()
	rows, cols := p.Rows(level), p.Columns(level)
	if p.Projection == Mercator {
		z := maptile.Zoom(level)
		clamp := func(lat float64) float64 { return math.Max(-mercatorLimit, math.Min(mercatorLimit, lat)) }
		nw := maptile.At(orb.Point{area.West(), clamp(area.North())}, z)
		se := maptile.At(orb.Point{math.Min(area.East(), 179.999999), clamp(area.South())}, z)
		return p.collect(level, rows-1-int(se.Y), rows-1-int(nw.Y), int(nw.X), int(se.X), area)
	}
	top := FullSphere()
	dLat := top.DeltaLat() / float64(rows)
	dLon := top.DeltaLon() / float64(cols)
	r0 := int(math.Floor((area.South() - top.South()) / dLat))
	r1 := int(math.Floor((area.North() - top.South()) / dLat))
	c0 := int(math.Floor((area.West() - top.West()) / dLon))
	c1 := int(math.Floor((area.East() - top.West()) / dLon))
	return p.collect(level, r0, r1, c0, c1, area)
}

func (p Pyramid) collect(level, r0, r1, c0, c1 int, area Sector) []Key {
	rows, cols := p.Rows(level), p.Columns(level)
	r0, r1 = max(r0, 0), min(r1, rows-1)
	c0, c1 = max(c0, 0), min(c1, cols-1)
	var out []Key
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			k := Key{Level: level, Row: r, Column: c}
			s, err := p.Sector(k)
			if err != nil || !s.Touches(area) {
				continue
			}
			out = append(out, k)
		}
	}
	return out
}
