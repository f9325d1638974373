// Package bil decodes Band Interleaved by Line elevation rasters
package bil

import (
	"encoding/binary"
	"fmt"
	"math"

	"tilefetch/internal/core/geo"
	perr "tilefetch/internal/platform/errors"
)

// Grid is a decoded 16-bit elevation raster, rows north to south
type Grid struct {
	Sector  geo.Sector
	Width   int
	Height  int
	NoData  float64
	Samples []int16
}

// Decode16 parses a little-endian int16 BIL buffer of exactly width*height samples
func Decode16(sector geo.Sector, extent geo.Extent, noData float64, buf []byte) (*Grid, error) {
	if extent.Width <= 0 || extent.Height <= 0 {
		return nil, perr.Decodef("bil: invalid extent %s", extent)
	}
	want := extent.Width * extent.Height * 2
	if len(buf) != want {
		return nil, perr.Decodef("bil: expected %d bytes for %s, got %d", want, extent, len(buf))
	}
	samples := make([]int16, extent.Width*extent.Height)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return &Grid{
		Sector:  sector,
		Width:   extent.Width,
		Height:  extent.Height,
		NoData:  noData,
		Samples: samples,
	}, nil
}

// Extent returns the grid size
func (g *Grid) Extent() geo.Extent { return geo.Extent{Width: g.Width, Height: g.Height} }

// At returns the sample at column x and row y, counted from the north-west corner
func (g *Grid) At(x, y int) (float64, error) {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return 0, fmt.Errorf("bil: sample %d,%d outside %dx%d", x, y, g.Width, g.Height)
	}
	return float64(g.Samples[y*g.Width+x]), nil
}

// IsNoData reports whether v is the no-data sentinel
func (g *Grid) IsNoData(v float64) bool { return v == g.NoData }

// MinMax returns the lowest and highest samples, skipping no-data; ok is false when every sample is no-data
func (g *Grid) MinMax() (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range g.Samples {
		v := float64(s)
		if g.IsNoData(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	return lo, hi, true
}

// NoDataCount counts samples equal to the sentinel
func (g *Grid) NoDataCount() int {
	n := 0
	for _, s := range g.Samples {
		if g.IsNoData(float64(s)) {
			n++
		}
	}
	return n
}
