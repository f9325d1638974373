package service

import (
	"context"
	"image"

	"tilefetch/internal/core/bil"
	"tilefetch/internal/core/geo"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/services/tiles/domain"

	"github.com/google/uuid"
)

// imageWaiter turns the raster listener callbacks into a single value on a channel
type imageWaiter struct{ ch chan imageResult }

type imageResult struct {
	img *domain.TileImage
	err error
}

func newImageWaiter() *imageWaiter { return &imageWaiter{ch: make(chan imageResult, 1)} }

func (w *imageWaiter) send(r imageResult) {
	select {
	case w.ch <- r:
	default:
	}
}

func (w *imageWaiter) ImageCreated(tile domain.TileID, img image.Image, url string, c domain.Contribution) {
	w.send(imageResult{img: &domain.TileImage{Tile: tile, Image: img, URL: url, Contribution: c}})
}

func (w *imageWaiter) ImageCreationError(_ domain.TileID, err error) { w.send(imageResult{err: err}) }

func (w *imageWaiter) ImageCreationCanceled(tile domain.TileID) {
	w.send(imageResult{err: perr.Canceledf("tile %s canceled", tile)})
}

// Fetch creates tile and waits for its image
// Canceling ctx cancels the download; a rejected request returns a SubmissionRejected error.
// A Cancel from elsewhere that lands after the bytes arrived ends the download through
// OnCanceledDownload, which reaches no listener, so Fetch then waits until ctx is done.
func (p *RasterProvider) Fetch(ctx context.Context, tile domain.Tile, resolution geo.Extent, priority int64) (*domain.TileImage, error) {
	log := logger.C(ctx).With().Str("fetch_id", uuid.NewString()).Str("tile", string(tile.ID)).Logger()

	w := newImageWaiter()
	ref := domain.Transfer[domain.TileImageListener](w)
	id, err := p.create(tile, p.Contribution(tile), resolution, priority, ref)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-w.ch:
		log.Debug().Err(r.err).Msg("raster fetch done")
		return r.img, r.err
	case <-ctx.Done():
		p.reqs.cancelIf(tile.ID, id)
		log.Debug().Msg("raster fetch abandoned")
		return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeCanceled, "raster fetch canceled")
	}
}

// gridWaiter turns the elevation listener callbacks into a single value on a channel
type gridWaiter struct{ ch chan gridResult }

type gridResult struct {
	grid *bil.Grid
	err  error
}

func (w *gridWaiter) send(r gridResult) {
	select {
	case w.ch <- r:
	default:
	}
}

func (w *gridWaiter) OnData(_ geo.Sector, _ geo.Extent, g *bil.Grid) { w.send(gridResult{grid: g}) }

func (w *gridWaiter) OnError(_ geo.Sector, _ geo.Extent, err error) { w.send(gridResult{err: err}) }

// Fetch requests a grid and waits for it
// Elevation listeners see no cancel callback, so a download canceled elsewhere only ends when ctx does.
// A second Fetch for a sector and extent already in flight fails at once with SubmissionRejected.
func (p *ElevationProvider) Fetch(ctx context.Context, sector geo.Sector, extent geo.Extent) (*bil.Grid, error) {
	log := logger.C(ctx).With().Str("fetch_id", uuid.NewString()).Str("sector", sector.String()).Logger()

	w := &gridWaiter{ch: make(chan gridResult, 1)}
	ref := domain.Transfer[domain.ElevationListener](w)
	id, err := p.requestData(sector, extent, ref)
	if err != nil {
		return nil, err
	}

	select {
	case r := <-w.ch:
		log.Debug().Err(r.err).Msg("elevation fetch done")
		return r.grid, r.err
	case <-ctx.Done():
		p.reqs.cancelIf(domain.ElevationTileID(sector, extent), id)
		log.Debug().Msg("elevation fetch abandoned")
		return nil, perr.Wrap(ctx.Err(), perr.ErrorCodeCanceled, "elevation fetch canceled")
	}
}
