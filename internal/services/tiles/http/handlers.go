// Package http provides the tile admin endpoints
package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"tilefetch/internal/core/geo"
	"tilefetch/internal/core/imagedec"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/logger"
	phttp "tilefetch/internal/platform/net/http"
	"tilefetch/internal/platform/net/http/bind"
	"tilefetch/internal/platform/net/middleware"
	"tilefetch/internal/services/tiles/domain"
	"tilefetch/internal/services/tiles/layer"
	"tilefetch/internal/services/tiles/service"
	"tilefetch/internal/services/tiles/tracker"
)

// Deps are the handler dependencies
type Deps struct {
	Catalog *layer.Catalog
	// Raster resolves a layer name to its layer and provider
	Raster func(name string) (*layer.WMS, *service.RasterProvider, bool)
	// Elevation resolves a source name to its provider
	Elevation func(name string) (*service.ElevationProvider, bool)
	// FetchTimeout bounds one fetch; zero means the request context alone
	FetchTimeout time.Duration
}

type handlers struct {
	deps Deps
}

// Register mounts the tile routes
func Register(r phttp.Router, d Deps) {
	h := &handlers{deps: d}

	phttp.GetJSON(r, "/layers", h.layers)
	r.Route("/raster/{layer}", func(sub phttp.Router) {
		sub.Use(middleware.RequestID)
		phttp.GetJSON(sub, "/inflight", h.inflight)
		sub.Get("/{level}/{row}/{column}", phttp.Handle(h.raster))
		phttp.DeleteJSON(sub, "/{level}/{row}/{column}", h.cancel)
	})
	r.Route("/elevation/{source}", func(sub phttp.Router) {
		sub.Use(middleware.RequestID)
		phttp.GetJSON(sub, "/", h.elevation)
	})
}

// LayersResponse lists the catalog
type LayersResponse struct {
	Raster    []string `json:"raster"`
	Elevation []string `json:"elevation"`
}

// CancelResponse reports whether a tracked request was dropped
type CancelResponse struct {
	Tile     domain.TileID `json:"tile"`
	Canceled bool          `json:"canceled"`
}

// InFlightResponse lists tracked requests of a layer
type InFlightResponse struct {
	Layer    string          `json:"layer"`
	Requests []tracker.Entry `json:"requests"`
}

// GridResponse summarizes an elevation grid
type GridResponse struct {
	Sector      string  `json:"sector"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	NoData      float64 `json:"no_data"`
	NoDataCount int     `json:"no_data_count"`
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
}

type rasterQuery struct {
	Width    int   `query:"width" validate:"omitempty,min=1,max=4096"`
	Height   int   `query:"height" validate:"omitempty,min=1,max=4096"`
	Priority int64 `query:"priority"`
}

type elevationQuery struct {
	BBox   string `query:"bbox" validate:"required"`
	Width  int    `query:"width" validate:"min=1,max=4096"`
	Height int    `query:"height" validate:"min=1,max=4096"`
}

func (h *handlers) layers(_ *http.Request) (any, error) {
	return LayersResponse{Raster: h.deps.Catalog.RasterNames(), Elevation: h.deps.Catalog.ElevationNames()}, nil
}

func (h *handlers) rasterLayer(r *http.Request) (*layer.WMS, *service.RasterProvider, error) {
	name := phttp.Param(r, "layer")
	l, p, ok := h.deps.Raster(name)
	if !ok {
		return nil, nil, perr.NotFoundf("raster layer %q not found", name)
	}
	return l, p, nil
}

func tileKey(r *http.Request) (geo.Key, error) {
	var out [3]int
	for i, name := range []string{"level", "row", "column"} {
		n, err := strconv.Atoi(phttp.Param(r, name))
		if err != nil || n < 0 {
			return geo.Key{}, perr.WithField(perr.InvalidArgf("%s must be a non negative integer", name), name)
		}
		out[i] = n
	}
	return geo.Key{Level: out[0], Row: out[1], Column: out[2]}, nil
}

func (h *handlers) fetchContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.deps.FetchTimeout > 0 {
		return context.WithTimeout(r.Context(), h.deps.FetchTimeout)
	}
	return context.WithCancel(r.Context())
}

func (h *handlers) raster(r *http.Request) phttp.Response {
	l, p, err := h.rasterLayer(r)
	if err != nil {
		return phttp.Error(err)
	}
	key, err := tileKey(r)
	if err != nil {
		return phttp.Error(err)
	}
	tile, err := l.Tile(key)
	if err != nil {
		return phttp.Error(err)
	}
	q, err := bind.Query[rasterQuery](r)
	if err != nil {
		return phttp.Error(err)
	}
	if p.Contribution(tile).IsNone() {
		return phttp.Error(perr.NotFoundf("layer %s has nothing for tile %s", l.Name(), tile.ID))
	}

	res := geo.Extent{Width: 256, Height: 256}
	if q.Width > 0 {
		res.Width = q.Width
	}
	if q.Height > 0 {
		res.Height = q.Height
	}

	ctx, cancel := h.fetchContext(r)
	defer cancel()
	img, err := p.Fetch(ctx, tile, res, q.Priority)
	if err != nil {
		logger.C(r.Context()).Debug().Err(err).Str("tile", string(tile.ID)).Msg("raster fetch failed")
		return phttp.Error(err)
	}
	raw, err := imagedec.PNG(img.Image)
	if err != nil {
		return phttp.Error(err)
	}
	resp := phttp.Blob("image/png", raw)
	resp.Header = http.Header{}
	resp.Header.Set("X-Tile-Contribution", img.Contribution.String())
	resp.Header.Set("X-Tile-Source", img.URL)
	return resp
}

func (h *handlers) cancel(r *http.Request) (any, error) {
	_, p, err := h.rasterLayer(r)
	if err != nil {
		return nil, err
	}
	key, err := tileKey(r)
	if err != nil {
		return nil, err
	}
	id := domain.TileID(key.String())
	return CancelResponse{Tile: id, Canceled: p.Cancel(id)}, nil
}

func (h *handlers) inflight(r *http.Request) (any, error) {
	l, p, err := h.rasterLayer(r)
	if err != nil {
		return nil, err
	}
	return InFlightResponse{Layer: l.Name(), Requests: p.InFlight()}, nil
}

func (h *handlers) elevation(r *http.Request) (any, error) {
	name := phttp.Param(r, "source")
	p, ok := h.deps.Elevation(name)
	if !ok {
		return nil, perr.NotFoundf("elevation source %q not found", name)
	}
	q, err := bind.Query[elevationQuery](r)
	if err != nil {
		return nil, err
	}
	sector, err := geo.ParseSector(q.BBox)
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.ErrorCodeInvalidArgument, "bad bbox"), "bbox")
	}

	ctx, cancel := h.fetchContext(r)
	defer cancel()
	grid, err := p.Fetch(ctx, sector, geo.Extent{Width: q.Width, Height: q.Height})
	if err != nil {
		return nil, err
	}
	lo, hi, _ := grid.MinMax()
	return GridResponse{
		Sector:      grid.Sector.String(),
		Width:       grid.Width,
		Height:      grid.Height,
		NoData:      grid.NoData,
		NoDataCount: grid.NoDataCount(),
		Min:         lo,
		Max:         hi,
	}, nil
}
