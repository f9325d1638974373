// Package domain holds the tile acquisition vocabulary shared by providers, trackers and downloaders
package domain

import (
	"image"

	"tilefetch/internal/core/geo"
)

// TileID names a tile within one provider's scope; compared by value
type TileID string

// RequestID identifies a submitted download; NoRequest means nothing was submitted
type RequestID int64

// NoRequest is returned when a submission was rejected before any network activity
const NoRequest RequestID = -1

// Valid reports whether id names a submitted request
func (id RequestID) Valid() bool { return id >= 0 }

// Tile is one addressable unit of a layer pyramid
type Tile struct {
	ID     TileID     `json:"id"`
	Level  int        `json:"level"`
	Row    int        `json:"row"`
	Column int        `json:"column"`
	Sector geo.Sector `json:"-"`
}

// NewTile builds a tile whose id is level/row/column
func NewTile(k geo.Key, sector geo.Sector) Tile {
	return Tile{ID: TileID(k.String()), Level: k.Level, Row: k.Row, Column: k.Column, Sector: sector}
}

// Key returns the pyramid address of t
func (t Tile) Key() geo.Key { return geo.Key{Level: t.Level, Row: t.Row, Column: t.Column} }

// ElevationTileID derives the tracker key of an elevation request
func ElevationTileID(sector geo.Sector, extent geo.Extent) TileID {
	return TileID("elevation/" + sector.String() + "/" + extent.String())
}

// TileImage is a decoded raster tile as delivered to listeners
type TileImage struct {
	Tile         TileID
	Image        image.Image
	URL          string
	Contribution Contribution
}
