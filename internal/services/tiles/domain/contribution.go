package domain

import (
	"fmt"

	"tilefetch/internal/core/geo"
)

// Coverage tells how much of a tile a layer paints
type Coverage uint8

const (
	// CoverageNone means the layer has nothing for the tile
	CoverageNone Coverage = iota
	// CoverageFull means the layer paints the whole tile
	CoverageFull
	// CoveragePartial means the layer paints only Contribution.Sector
	CoveragePartial
)

func (c Coverage) String() string {
	switch c {
	case CoverageFull:
		return "full"
	case CoveragePartial:
		return "partial"
	default:
		return "none"
	}
}

// Contribution describes how a layer's image blends into a tile
// The zero value is "no contribution".
type Contribution struct {
	Coverage    Coverage
	Sector      geo.Sector // meaningful for partial coverage only
	Transparent bool
	Alpha       float32
}

// NoContribution is returned for tiles outside a layer
func NoContribution() Contribution { return Contribution{} }

// FullOpaque covers the whole tile with an opaque image
func FullOpaque() Contribution { return Contribution{Coverage: CoverageFull, Alpha: 1} }

// FullTransparent covers the whole tile with a translucent image
func FullTransparent(alpha float32) Contribution {
	return Contribution{Coverage: CoverageFull, Transparent: true, Alpha: alpha}
}

// PartialOpaque covers sector with an opaque image
func PartialOpaque(sector geo.Sector) Contribution {
	return Contribution{Coverage: CoveragePartial, Sector: sector, Alpha: 1}
}

// PartialTransparent covers sector with a translucent image
func PartialTransparent(sector geo.Sector, alpha float32) Contribution {
	return Contribution{Coverage: CoveragePartial, Sector: sector, Transparent: true, Alpha: alpha}
}

// IsNone reports that the tile gets nothing from the layer
func (c Contribution) IsNone() bool { return c.Coverage == CoverageNone }

// IsFullOpaque reports a contribution that hides every layer below it
func (c Contribution) IsFullOpaque() bool { return c.Coverage == CoverageFull && !c.Transparent }

func (c Contribution) String() string {
	switch c.Coverage {
	case CoverageNone:
		return "none"
	case CoverageFull:
		if c.Transparent {
			return fmt.Sprintf("full transparent alpha=%g", c.Alpha)
		}
		return "full opaque"
	default:
		if c.Transparent {
			return fmt.Sprintf("partial [%s] transparent alpha=%g", c.Sector, c.Alpha)
		}
		return fmt.Sprintf("partial [%s] opaque", c.Sector)
	}
}
