package domain

import (
	"image"
	"time"

	"tilefetch/internal/core/bil"
	"tilefetch/internal/core/geo"
)

// RequestOptions carries the per request download policy
type RequestOptions struct {
	// MaxBytes caps the response body; 0 means unlimited
	MaxBytes int64
	// TimeToCache is how long a cached copy stays fresh; 0 disables caching
	TimeToCache time.Duration
	// ReadExpired allows serving a stale cached copy, flagged as expired
	ReadExpired bool
	// Priority orders queued requests, higher first
	Priority int64
}

// BufferListener receives the single terminal outcome of a buffer request
// Exactly one of the four methods is called per submitted request. When the
// listener also implements io.Closer, the downloader closes it right after that call.
type BufferListener interface {
	OnDownload(url string, data []byte, expired bool)
	OnError(url string, err error)
	OnCancel(url string)
	OnCanceledDownload(url string, data []byte, expired bool)
}

// Downloader schedules buffer downloads
// Implementations never call a listener before RequestBuffer has returned, and
// return NoRequest without ever touching the listener when they refuse a request.
type Downloader interface {
	RequestBuffer(url string, opts RequestOptions, l BufferListener) RequestID
	Cancel(id RequestID)
}

// TileImageListener receives raster results; implementations must be safe to call from any goroutine
type TileImageListener interface {
	ImageCreated(tile TileID, img image.Image, url string, c Contribution)
	ImageCreationError(tile TileID, err error)
	ImageCreationCanceled(tile TileID)
}

// ElevationListener receives elevation results; there is no cancel callback
type ElevationListener interface {
	OnData(sector geo.Sector, extent geo.Extent, grid *bil.Grid)
	OnError(sector geo.Sector, extent geo.Extent, err error)
}

// Layer is the raster source configuration a provider consults
type Layer interface {
	Name() string
	// Contribution is pure and available before any downloader is attached
	Contribution(t Tile) Contribution
	// TileURL builds the request for t at the given pixel size; ok is false when the layer has nothing to fetch
	TileURL(t Tile, resolution geo.Extent) (url string, ok bool)
	TimeToCache() time.Duration
	ReadExpired() bool
}
