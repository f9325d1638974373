// Package layer builds WMS raster layers and the layer catalog
package layer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tilefetch/internal/core/geo"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/services/tiles/domain"
)

// WMS versions understood by TileURL
const (
	Version111 = "1.1.1"
	Version130 = "1.3.0"
)

// Config describes one WMS raster layer as written in the catalog
type Config struct {
	Name    string `yaml:"name" validate:"required"`
	URL     string `yaml:"url" validate:"required,url"`
	Version string `yaml:"version" validate:"omitempty,oneof=1.1.1 1.3.0"`
	Layers  string `yaml:"layers" validate:"required"`
	Format  string `yaml:"format"`
	SRS     string `yaml:"srs"`
	Styles  string `yaml:"styles"`
	// Extra is appended verbatim, without the leading '&'
	Extra       string  `yaml:"extra"`
	Transparent bool    `yaml:"transparent"`
	Alpha       float32 `yaml:"alpha" validate:"gte=0,lte=1"`
	// Sector limits the layer to "south,west,north,east"; empty means the whole globe
	Sector      string        `yaml:"sector"`
	Pyramid     geo.Pyramid   `yaml:"pyramid"`
	TimeToCache time.Duration `yaml:"time_to_cache"`
	ReadExpired bool          `yaml:"read_expired"`
}

// WMS is a raster layer served by a WMS GetMap endpoint
type WMS struct {
	cfg     Config
	sector  geo.Sector
	pyramid geo.Pyramid
}

var _ domain.Layer = (*WMS)(nil)

// New builds a layer from cfg, filling defaults
// Alpha 0 is read as unset and becomes 1.
func New(cfg Config) (*WMS, error) {
	if cfg.URL == "" || cfg.Layers == "" {
		return nil, perr.InvalidArgf("layer %q: url and layers are required", cfg.Name)
	}
	if cfg.Version == "" {
		cfg.Version = Version130
	}
	if cfg.Version != Version111 && cfg.Version != Version130 {
		return nil, perr.InvalidArgf("layer %q: unsupported WMS version %q", cfg.Name, cfg.Version)
	}
	if cfg.Format == "" {
		cfg.Format = "image/png"
	}
	if cfg.Alpha == 0 {
		cfg.Alpha = 1
	}
	if cfg.Pyramid.Projection == "" {
		cfg.Pyramid.Projection = geo.WGS84
	}
	if cfg.Pyramid.MaxLevel == 0 {
		if cfg.Pyramid.Projection == geo.Mercator {
			cfg.Pyramid.MaxLevel = geo.DefaultMercator().MaxLevel
		} else {
			cfg.Pyramid.MaxLevel = geo.DefaultWGS84().MaxLevel
		}
	}
	if cfg.SRS == "" {
		cfg.SRS = "EPSG:4326"
		if cfg.Pyramid.Projection == geo.Mercator {
			cfg.SRS = "EPSG:3857"
		}
	}

	sector := geo.FullSphere()
	if cfg.Sector != "" {
		s, err := geo.ParseSector(cfg.Sector)
		if err != nil {
			return nil, perr.WithField(perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "layer %q", cfg.Name), "sector")
		}
		sector = s
	}
	return &WMS{cfg: cfg, sector: sector, pyramid: cfg.Pyramid}, nil
}

// Name satisfies domain.Layer
func (l *WMS) Name() string { return l.cfg.Name }

// Config returns the layer settings after defaults
func (l *WMS) Config() Config { return l.cfg }

// Sector is the area the layer paints
func (l *WMS) Sector() geo.Sector { return l.sector }

// Pyramid is the tile layout the layer is requested in
func (l *WMS) Pyramid() geo.Pyramid { return l.pyramid }

// TimeToCache satisfies domain.Layer
func (l *WMS) TimeToCache() time.Duration { return l.cfg.TimeToCache }

// ReadExpired satisfies domain.Layer
func (l *WMS) ReadExpired() bool { return l.cfg.ReadExpired }

// Tile resolves k to a tile of this layer
func (l *WMS) Tile(k geo.Key) (domain.Tile, error) {
	if k.Level > l.pyramid.MaxLevel {
		return domain.Tile{}, perr.InvalidArgf("level %d beyond max level %d", k.Level, l.pyramid.MaxLevel)
	}
	s, err := l.pyramid.Sector(k)
	if err != nil {
		return domain.Tile{}, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "tile "+k.String())
	}
	return domain.NewTile(k, s), nil
}

func (l *WMS) translucent() bool { return l.cfg.Transparent || l.cfg.Alpha < 1 }

// Contribution satisfies domain.Layer
// No overlap gives none, a tile inside the layer gets full coverage, anything else
// is partial on the overlap.
func (l *WMS) Contribution(t domain.Tile) domain.Contribution {
	overlap, ok := l.sector.Intersection(t.Sector)
	if !ok {
		return domain.NoContribution()
	}
	if l.sector.FullContains(t.Sector) {
		if l.translucent() {
			return domain.FullTransparent(l.cfg.Alpha)
		}
		return domain.FullOpaque()
	}
	if l.translucent() {
		return domain.PartialTransparent(overlap, l.cfg.Alpha)
	}
	return domain.PartialOpaque(overlap)
}

// TileURL satisfies domain.Layer
// The request covers the overlap of the tile and the layer; ok is false when they do not overlap.
func (l *WMS) TileURL(t domain.Tile, resolution geo.Extent) (string, bool) {
	area, ok := l.sector.Intersection(t.Sector)
	if !ok || resolution.Width <= 0 || resolution.Height <= 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString(l.cfg.URL)
	if !strings.HasSuffix(l.cfg.URL, "?") {
		if strings.Contains(l.cfg.URL, "?") {
			b.WriteByte('&')
		} else {
			b.WriteByte('?')
		}
	}
	b.WriteString("REQUEST=GetMap&SERVICE=WMS")
	b.WriteString("&VERSION=" + l.cfg.Version)
	b.WriteString("&WIDTH=" + strconv.Itoa(resolution.Width))
	b.WriteString("&HEIGHT=" + strconv.Itoa(resolution.Height))
	b.WriteString("&BBOX=" + l.bbox(area))
	if l.cfg.Version == Version130 {
		b.WriteString("&CRS=" + l.cfg.SRS)
	} else {
		b.WriteString("&SRS=" + l.cfg.SRS)
	}
	b.WriteString("&LAYERS=" + l.cfg.Layers)
	b.WriteString("&FORMAT=" + l.cfg.Format)
	b.WriteString("&STYLES=" + l.cfg.Styles)
	if l.cfg.Transparent {
		b.WriteString("&TRANSPARENT=TRUE")
	} else {
		b.WriteString("&TRANSPARENT=FALSE")
	}
	if l.cfg.Extra != "" {
		b.WriteString("&" + strings.TrimPrefix(l.cfg.Extra, "&"))
	}
	return b.String(), true
}

// bbox orders the corners for the layer's version and projection
// WMS 1.3.0 with EPSG:4326 swaps to lat,lon; mercator boxes are always x,y meters.
func (l *WMS) bbox(s geo.Sector) string {
	if l.pyramid.Projection == geo.Mercator {
		m := s.MercatorBound()
		return fmt.Sprintf("%s,%s,%s,%s", meters(m.Min.X()), meters(m.Min.Y()), meters(m.Max.X()), meters(m.Max.Y()))
	}
	if l.cfg.Version == Version130 {
		return s.String()
	}
	return geo.FormatFloat(s.West()) + "," + geo.FormatFloat(s.South()) + "," +
		geo.FormatFloat(s.East()) + "," + geo.FormatFloat(s.North())
}

// meters renders projected coordinates without an exponent
func meters(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
