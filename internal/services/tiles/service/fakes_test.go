package service

import (
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"tilefetch/internal/core/bil"
	"tilefetch/internal/core/geo"
	"tilefetch/internal/core/imagedec"
	"tilefetch/internal/services/tiles/domain"
)

// fakeDownloader records submissions and lets tests drive terminal callbacks
type fakeDownloader struct {
	mu       sync.Mutex
	next     domain.RequestID
	reqs     map[domain.RequestID]*fakeReq
	canceled []domain.RequestID
	refuse   bool
	auto     func(f *fakeDownloader, r *fakeReq)
}

type fakeReq struct {
	id   domain.RequestID
	url  string
	opts domain.RequestOptions
	l    domain.BufferListener
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{reqs: make(map[domain.RequestID]*fakeReq)}
}

func (f *fakeDownloader) RequestBuffer(url string, opts domain.RequestOptions, l domain.BufferListener) domain.RequestID {
	f.mu.Lock()
	if f.refuse {
		f.mu.Unlock()
		return domain.NoRequest
	}
	r := &fakeReq{id: f.next, url: url, opts: opts, l: l}
	f.reqs[r.id] = r
	f.next++
	auto := f.auto
	f.mu.Unlock()
	if auto != nil {
		go auto(f, r)
	}
	return r.id
}

func (f *fakeDownloader) Cancel(id domain.RequestID) {
	f.mu.Lock()
	f.canceled = append(f.canceled, id)
	f.mu.Unlock()
}

func (f *fakeDownloader) req(t *testing.T, id domain.RequestID) *fakeReq {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok {
		t.Fatalf("no request %d", id)
	}
	return r
}

func (f *fakeDownloader) canceledIDs() []domain.RequestID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RequestID(nil), f.canceled...)
}

// finish runs one terminal callback then closes the listener, as a downloader must
func (f *fakeDownloader) finish(id domain.RequestID, fire func(r *fakeReq)) {
	f.mu.Lock()
	r := f.reqs[id]
	delete(f.reqs, id)
	f.mu.Unlock()
	if r == nil {
		return
	}
	fire(r)
	if c, ok := r.l.(io.Closer); ok {
		_ = c.Close()
	}
}

func (f *fakeDownloader) deliver(id domain.RequestID, data []byte) {
	f.finish(id, func(r *fakeReq) { r.l.OnDownload(r.url, data, false) })
}

func (f *fakeDownloader) fail(id domain.RequestID) {
	f.finish(id, func(r *fakeReq) { r.l.OnError(r.url, nil) })
}

func (f *fakeDownloader) cancelCallback(id domain.RequestID) {
	f.finish(id, func(r *fakeReq) { r.l.OnCancel(r.url) })
}

func (f *fakeDownloader) lateData(id domain.RequestID, data []byte) {
	f.finish(id, func(r *fakeReq) { r.l.OnCanceledDownload(r.url, data, false) })
}

// fakeLayer serves every tile at http://tiles/<id>
type fakeLayer struct {
	noURL bool
	c     domain.Contribution
}

func (l fakeLayer) Name() string { return "test" }

func (l fakeLayer) Contribution(domain.Tile) domain.Contribution { return l.c }

func (l fakeLayer) TileURL(t domain.Tile, _ geo.Extent) (string, bool) {
	if l.noURL {
		return "", false
	}
	return "http://tiles/" + string(t.ID), true
}

func (l fakeLayer) TimeToCache() time.Duration { return time.Hour }
func (l fakeLayer) ReadExpired() bool          { return false }

// imageRecorder counts every raster callback and release
type imageRecorder struct {
	mu       sync.Mutex
	created  []domain.TileImage
	errs     []error
	canceled int
	released int
}

func (r *imageRecorder) ImageCreated(tile domain.TileID, img image.Image, url string, c domain.Contribution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, domain.TileImage{Tile: tile, Image: img, URL: url, Contribution: c})
}

func (r *imageRecorder) ImageCreationError(_ domain.TileID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *imageRecorder) ImageCreationCanceled(domain.TileID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled++
}

func (r *imageRecorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
}

func (r *imageRecorder) callbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.created) + len(r.errs) + r.canceled
}

func (r *imageRecorder) releases() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// elevationRecorder counts every elevation callback and release
type elevationRecorder struct {
	mu       sync.Mutex
	grids    []*bil.Grid
	extents  []geo.Extent
	sectors  []geo.Sector
	errs     []error
	released int
}

func (r *elevationRecorder) OnData(s geo.Sector, e geo.Extent, g *bil.Grid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sectors = append(r.sectors, s)
	r.extents = append(r.extents, e)
	r.grids = append(r.grids, g)
}

func (r *elevationRecorder) OnError(_ geo.Sector, _ geo.Extent, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *elevationRecorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released++
}

func (r *elevationRecorder) callbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.grids) + len(r.errs)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	raw, err := imagedec.PNG(image.NewRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func testTile(level, row, col int) domain.Tile {
	k := geo.Key{Level: level, Row: row, Column: col}
	s, _ := geo.DefaultWGS84().Sector(k)
	return domain.NewTile(k, s)
}

func rasterRef(r *imageRecorder) *domain.ListenerRef[domain.TileImageListener] {
	return domain.Transfer[domain.TileImageListener](r)
}

func elevationRef(r *elevationRecorder) *domain.ListenerRef[domain.ElevationListener] {
	return domain.Transfer[domain.ElevationListener](r)
}
