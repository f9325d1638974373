package service

import (
	"strconv"
	"strings"
	"time"

	"tilefetch/internal/core/geo"
	"tilefetch/internal/services/tiles/domain"
	"tilefetch/internal/services/tiles/tracker"
)

// Elevation request policy
const (
	ElevationMaxBytes    int64 = 2000000000
	ElevationTimeToCache       = 30 * 24 * time.Hour
	ElevationNoData            = 0.0
)

// ElevationProvider fetches BIL elevation grids from a WMS endpoint
type ElevationProvider struct {
	base   string
	noData float64
	reqs   *requests
}

// NewElevationProvider requests grids from base, a GetMap URL without BBOX, WIDTH and HEIGHT
func NewElevationProvider(base string, opts ...Option) *ElevationProvider {
	o := collect(opts)
	p := &ElevationProvider{
		base:   base,
		noData: ElevationNoData,
		reqs:   newRequests("elevation", o.metrics),
	}
	// elevation listeners have no cancel callback, so a superseded caller would never hear back
	p.reqs.keepFirst = true
	if o.dl != nil {
		p.reqs.attach(o.dl)
	}
	return p
}

// Initialize attaches the downloader
func (p *ElevationProvider) Initialize(dl domain.Downloader) { p.reqs.attach(dl) }

// URL builds the request for sector at extent
// BBOX is south,west,north,east; the ordering is what the backend expects.
func (p *ElevationProvider) URL(sector geo.Sector, extent geo.Extent) string {
	var b strings.Builder
	b.WriteString(p.base)
	b.WriteString("&BBOX=")
	b.WriteString(geo.FormatFloat(sector.South()))
	b.WriteByte(',')
	b.WriteString(geo.FormatFloat(sector.West()))
	b.WriteByte(',')
	b.WriteString(geo.FormatFloat(sector.North()))
	b.WriteByte(',')
	b.WriteString(geo.FormatFloat(sector.East()))
	b.WriteString("&WIDTH=")
	b.WriteString(strconv.Itoa(extent.Width))
	b.WriteString("&HEIGHT=")
	b.WriteString(strconv.Itoa(extent.Height))
	return b.String()
}

// RequestData starts the download of a grid covering sector at extent
// On rejection the ref is released without any callback and NoRequest is returned.
// A request for a sector and extent already in flight is rejected; the pending one keeps its listener.
func (p *ElevationProvider) RequestData(
	sector geo.Sector,
	extent geo.Extent,
	ref *domain.ListenerRef[domain.ElevationListener],
) domain.RequestID {
	id, _ := p.requestData(sector, extent, ref)
	return id
}

func (p *ElevationProvider) requestData(
	sector geo.Sector,
	extent geo.Extent,
	ref *domain.ListenerRef[domain.ElevationListener],
) (domain.RequestID, error) {
	tile := domain.ElevationTileID(sector, extent)
	tk := &ticket{id: domain.NoRequest}
	a := &elevationAdapter{
		owner:   p.reqs,
		tk:      tk,
		tile:    tile,
		sector:  sector,
		extent:  extent,
		noData:  p.noData,
		ref:     ref,
		metrics: p.reqs.metrics,
	}
	if extent.Width <= 0 || extent.Height <= 0 || sector.IsEmpty() {
		return domain.NoRequest, p.reqs.reject(tile, reasonInvalid, a.discard)
	}
	opts := domain.RequestOptions{
		MaxBytes:    ElevationMaxBytes,
		TimeToCache: ElevationTimeToCache,
		ReadExpired: true,
	}
	return p.reqs.submit(tile, p.URL(sector, extent), opts, a, tk)
}

// Cancel drops the request for sector at extent
func (p *ElevationProvider) Cancel(sector geo.Sector, extent geo.Extent) bool {
	return p.reqs.cancel(domain.ElevationTileID(sector, extent))
}

// CancelRequest drops the request with the given id
func (p *ElevationProvider) CancelRequest(id domain.RequestID) bool { return p.reqs.cancelRequest(id) }

// InFlight lists tracked requests
func (p *ElevationProvider) InFlight() []tracker.Entry { return p.reqs.inFlight() }

// Close cancels every tracked request and rejects new ones
func (p *ElevationProvider) Close() int { return p.reqs.close() }
