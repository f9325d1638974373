// Package module wires the tile providers and their admin routes using modkit
package module

import (
	"tilefetch/internal/modkit"
	"tilefetch/internal/platform/logger"
	phttp "tilefetch/internal/platform/net/http"
	thttp "tilefetch/internal/services/tiles/http"
	"tilefetch/internal/services/tiles/layer"
	"tilefetch/internal/services/tiles/service"
)

// Ports exposed by the tiles module
type Ports struct {
	Catalog   *layer.Catalog
	Raster    map[string]*service.RasterProvider
	Elevation map[string]*service.ElevationProvider
}

// Module implements the tiles module
type Module struct {
	built modkit.Built
	opts  Options
	ports Ports
	log   *logger.Logger
}

// New loads the layer catalog named by the config and builds the module
func New(deps modkit.Deps, opts ...modkit.Option) (*Module, error) {
	o := FromConfig(deps.Cfg)
	cat, err := layer.Load(o.CatalogPath)
	if err != nil {
		return nil, err
	}
	return NewWithCatalog(deps, cat, o, opts...), nil
}

// Build satisfies modkit.Builder
func Build(deps modkit.Deps, opts ...modkit.Option) (modkit.Module, error) {
	m, err := New(deps, opts...)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// NewWithCatalog builds one provider per catalog layer, all sharing deps.Downloader
func NewWithCatalog(deps modkit.Deps, cat *layer.Catalog, o Options, opts ...modkit.Option) *Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("tiles"),
		modkit.WithPrefix("/v1"),
	}, opts...)...)

	popts := []service.Option{service.WithDownloader(deps.Downloader), service.WithMetrics(deps.Metrics)}
	if o.RasterMaxBytes > 0 {
		popts = append(popts, service.WithMaxBytes(o.RasterMaxBytes))
	}

	m := &Module{
		built: b,
		opts:  o,
		ports: Ports{
			Catalog:   cat,
			Raster:    make(map[string]*service.RasterProvider),
			Elevation: make(map[string]*service.ElevationProvider),
		},
		log: logger.Named(b.Name),
	}
	for _, name := range cat.RasterNames() {
		l, _ := cat.Raster(name)
		m.ports.Raster[name] = service.NewRasterProvider(l, popts...)
	}
	for _, name := range cat.ElevationNames() {
		src, _ := cat.Elevation(name)
		m.ports.Elevation[name] = service.NewElevationProvider(src.URL, service.WithDownloader(deps.Downloader), service.WithMetrics(deps.Metrics))
	}
	if !deps.Ready() {
		m.log.Warn().Msg("no downloader configured, every request will be rejected")
	}
	m.log.Info().
		Strs("raster", cat.RasterNames()).
		Strs("elevation", cat.ElevationNames()).
		Msg("tile providers ready")
	return m
}

// Name satisfies modkit.Module
func (m *Module) Name() string { return m.built.Name }

// Ports satisfies modkit.Module
func (m *Module) Ports() any { return m.ports }

// MountRoutes satisfies modkit.Module
func (m *Module) MountRoutes(r phttp.Router) {
	m.built.Mount(r, func(rr phttp.Router) {
		thttp.Register(rr, thttp.Deps{
			Catalog:      m.ports.Catalog,
			Raster:       m.raster,
			Elevation:    m.elevation,
			FetchTimeout: m.opts.FetchTimeout,
		})
	})
}

func (m *Module) raster(name string) (*layer.WMS, *service.RasterProvider, bool) {
	p, ok := m.ports.Raster[name]
	if !ok {
		return nil, nil, false
	}
	l, _ := m.ports.Catalog.Raster(name)
	return l, p, true
}

func (m *Module) elevation(name string) (*service.ElevationProvider, bool) {
	p, ok := m.ports.Elevation[name]
	return p, ok
}

// Close shuts every provider down, canceling what they still track
func (m *Module) Close() error {
	canceled := 0
	for _, p := range m.ports.Raster {
		canceled += p.Close()
	}
	for _, p := range m.ports.Elevation {
		canceled += p.Close()
	}
	m.log.Info().Int("canceled", canceled).Msg("tile providers closed")
	return nil
}
