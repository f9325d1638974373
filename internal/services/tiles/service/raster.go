package service

import (
	"tilefetch/internal/core/geo"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/domain"
	"tilefetch/internal/services/tiles/tracker"
)

// Option tunes a provider at construction
type Option func(*options)

type options struct {
	dl       domain.Downloader
	metrics  *metrics.Metrics
	maxBytes int64
}

// WithDownloader attaches the downloader right away instead of through Initialize
func WithDownloader(dl domain.Downloader) Option { return func(o *options) { o.dl = dl } }

// WithMetrics records provider activity into m
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithMaxBytes caps raster responses; elevation requests keep their own limit
func WithMaxBytes(n int64) Option { return func(o *options) { o.maxBytes = n } }

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// RasterProvider fetches layer images per tile
type RasterProvider struct {
	layer    domain.Layer
	maxBytes int64
	reqs     *requests
}

// NewRasterProvider serves tiles of layer; without WithDownloader it rejects requests until Initialize
func NewRasterProvider(layer domain.Layer, opts ...Option) *RasterProvider {
	o := collect(opts)
	p := &RasterProvider{
		layer:    layer,
		maxBytes: o.maxBytes,
		reqs:     newRequests("raster", o.metrics),
	}
	if o.dl != nil {
		p.reqs.attach(o.dl)
	}
	return p
}

// Initialize attaches the downloader
func (p *RasterProvider) Initialize(dl domain.Downloader) { p.reqs.attach(dl) }

// Layer returns the configured layer
func (p *RasterProvider) Layer() domain.Layer { return p.layer }

// Contribution asks the layer how it covers tile; no side effects
func (p *RasterProvider) Contribution(tile domain.Tile) domain.Contribution {
	return p.layer.Contribution(tile)
}

// Create starts the download of tile's image and returns its request id
// The listener ref moves into the request. When the request is rejected the
// ref is released without any callback and NoRequest is returned.
func (p *RasterProvider) Create(
	tile domain.Tile,
	contribution domain.Contribution,
	resolution geo.Extent,
	priority int64,
	ref *domain.ListenerRef[domain.TileImageListener],
) domain.RequestID {
	id, _ := p.create(tile, contribution, resolution, priority, ref)
	return id
}

func (p *RasterProvider) create(
	tile domain.Tile,
	contribution domain.Contribution,
	resolution geo.Extent,
	priority int64,
	ref *domain.ListenerRef[domain.TileImageListener],
) (domain.RequestID, error) {
	tk := &ticket{id: domain.NoRequest}
	a := &imageAdapter{
		owner:        p.reqs,
		tk:           tk,
		tile:         tile.ID,
		contribution: contribution,
		ref:          ref,
		metrics:      p.reqs.metrics,
	}
	url, ok := p.layer.TileURL(tile, resolution)
	if !ok {
		return domain.NoRequest, p.reqs.reject(tile.ID, reasonNoURL, a.discard)
	}
	opts := domain.RequestOptions{
		MaxBytes:    p.maxBytes,
		TimeToCache: p.layer.TimeToCache(),
		ReadExpired: p.layer.ReadExpired(),
		Priority:    priority,
	}
	return p.reqs.submit(tile.ID, url, opts, a, tk)
}

// Cancel drops tile's request; it reports whether one was tracked
func (p *RasterProvider) Cancel(tile domain.TileID) bool { return p.reqs.cancel(tile) }

// Pending returns the request tracked for tile
func (p *RasterProvider) Pending(tile domain.TileID) (domain.RequestID, bool) {
	return p.reqs.lookup(tile)
}

// InFlight lists tracked requests
func (p *RasterProvider) InFlight() []tracker.Entry { return p.reqs.inFlight() }

// Close cancels every tracked request and rejects new ones; it returns how many were canceled
func (p *RasterProvider) Close() int { return p.reqs.close() }
