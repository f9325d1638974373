package service

import (
	"sync"

	"tilefetch/internal/core/bil"
	"tilefetch/internal/core/geo"
	"tilefetch/internal/core/imagedec"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/domain"
)

// outcome labels for provider metrics
const (
	outcomeData        = "data"
	outcomeDecodeError = "decode_error"
	outcomeError       = "error"
	outcomeCanceled    = "canceled"
	outcomeLate        = "late_data_dropped"
)

func downloadError(url string, cause error) error {
	if cause == nil {
		return perr.Transportf("Download error - %s", url)
	}
	return perr.Wrap(cause, perr.ErrorCodeTransport, "Download error - "+url)
}

// imageAdapter bridges one raster download to a TileImageListener
type imageAdapter struct {
	owner        finisher
	tk           *ticket
	tile         domain.TileID
	contribution domain.Contribution
	ref          *domain.ListenerRef[domain.TileImageListener]
	metrics      *metrics.Metrics

	closeOnce sync.Once
}

func (a *imageAdapter) OnDownload(url string, data []byte, _ bool) {
	d, err := imagedec.Decode(data)
	if err != nil {
		a.metrics.Finished("raster", outcomeDecodeError)
		a.ref.Get().ImageCreationError(a.tile, perr.Wrap(err, perr.ErrorCodeDecode, "Can't create image from buffer - "+url))
		return
	}
	a.metrics.Finished("raster", outcomeData)
	a.ref.Get().ImageCreated(a.tile, d.Image, url, a.contribution)
}

func (a *imageAdapter) OnError(url string, err error) {
	a.metrics.Finished("raster", outcomeError)
	a.ref.Get().ImageCreationError(a.tile, downloadError(url, err))
}

func (a *imageAdapter) OnCancel(string) {
	a.metrics.Finished("raster", outcomeCanceled)
	a.ref.Get().ImageCreationCanceled(a.tile)
}

// OnCanceledDownload drops data that arrived after a cancel
func (a *imageAdapter) OnCanceledDownload(string, []byte, bool) {
	a.metrics.Finished("raster", outcomeLate)
}

// Close forgets the tracker entry and releases the listener, once
func (a *imageAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.owner.requestFinish(a.tile, a.tk)
		a.ref.Release()
	})
	return nil
}

func (a *imageAdapter) discard() { a.closeOnce.Do(a.ref.Release) }

// elevationAdapter bridges one BIL download to an ElevationListener
type elevationAdapter struct {
	owner   finisher
	tk      *ticket
	tile    domain.TileID
	sector  geo.Sector
	extent  geo.Extent
	noData  float64
	ref     *domain.ListenerRef[domain.ElevationListener]
	metrics *metrics.Metrics

	closeOnce sync.Once
}

func (a *elevationAdapter) OnDownload(url string, data []byte, _ bool) {
	grid, err := bil.Decode16(a.sector, a.extent, a.noData, data)
	if err != nil {
		a.metrics.Finished("elevation", outcomeDecodeError)
		a.ref.Get().OnError(a.sector, a.extent, perr.Wrap(err, perr.ErrorCodeDecode, "Can't parse elevation data - "+url))
		return
	}
	a.metrics.Finished("elevation", outcomeData)
	a.ref.Get().OnData(a.sector, a.extent, grid)
}

func (a *elevationAdapter) OnError(url string, err error) {
	a.metrics.Finished("elevation", outcomeError)
	a.ref.Get().OnError(a.sector, a.extent, downloadError(url, err))
}

// OnCancel does not reach the listener; elevation listeners have no cancel callback
func (a *elevationAdapter) OnCancel(string) {
	a.metrics.Finished("elevation", outcomeCanceled)
}

func (a *elevationAdapter) OnCanceledDownload(string, []byte, bool) {
	a.metrics.Finished("elevation", outcomeLate)
}

// Close forgets the tracker entry and releases the listener, once
func (a *elevationAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.owner.requestFinish(a.tile, a.tk)
		a.ref.Release()
	})
	return nil
}

func (a *elevationAdapter) discard() { a.closeOnce.Do(a.ref.Release) }
