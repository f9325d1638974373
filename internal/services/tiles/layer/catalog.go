package layer

import (
	"sort"

	"tilefetch/internal/platform/config"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/net/http/bind"
)

// ElevationSource is a WMS GetMap base URL serving BIL grids
// The URL carries every parameter except BBOX, WIDTH and HEIGHT.
type ElevationSource struct {
	Name string `yaml:"name" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

// File is the catalog document
type File struct {
	Raster    []Config          `yaml:"raster" validate:"dive"`
	Elevation []ElevationSource `yaml:"elevation" validate:"dive"`
}

// Catalog indexes the configured layers by name
type Catalog struct {
	raster    map[string]*WMS
	elevation map[string]ElevationSource
}

// Load reads, validates and builds the catalog at path
func Load(path string) (*Catalog, error) {
	var f File
	if err := config.ReadYAML(path, &f); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "layer catalog")
	}
	return Build(f)
}

// Build validates f and indexes its layers
func Build(f File) (*Catalog, error) {
	if err := bind.Validate(f); err != nil {
		return nil, err
	}
	c := &Catalog{raster: map[string]*WMS{}, elevation: map[string]ElevationSource{}}
	for _, cfg := range f.Raster {
		if _, dup := c.raster[cfg.Name]; dup {
			return nil, perr.WithField(perr.InvalidArgf("duplicate raster layer %q", cfg.Name), "name")
		}
		l, err := New(cfg)
		if err != nil {
			return nil, err
		}
		c.raster[cfg.Name] = l
	}
	for _, src := range f.Elevation {
		if _, dup := c.elevation[src.Name]; dup {
			return nil, perr.WithField(perr.InvalidArgf("duplicate elevation source %q", src.Name), "name")
		}
		c.elevation[src.Name] = src
	}
	return c, nil
}

// Raster returns the named raster layer
func (c *Catalog) Raster(name string) (*WMS, bool) {
	l, ok := c.raster[name]
	return l, ok
}

// Elevation returns the named elevation source
func (c *Catalog) Elevation(name string) (ElevationSource, bool) {
	s, ok := c.elevation[name]
	return s, ok
}

// RasterNames lists raster layers in name order
func (c *Catalog) RasterNames() []string { return sortedKeys(c.raster) }

// ElevationNames lists elevation sources in name order
func (c *Catalog) ElevationNames() []string { return sortedKeys(c.elevation) }

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
