// Package service implements the raster and elevation tile providers
package service

import (
	"sync"

	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/domain"
	"tilefetch/internal/services/tiles/tracker"
)

// rejection reasons, also used as metric labels
const (
	reasonNotInitialized = "not_initialized"
	reasonClosed         = "closed"
	reasonNoURL          = "no_url"
	reasonRefused        = "downloader_refused"
	reasonInvalid        = "invalid_request"
	reasonPending        = "already_pending"
)

// ticket is the request id an adapter was submitted under
// It is written and read only while holding requests.mu.
type ticket struct{ id domain.RequestID }

// finisher is the adapter's view of its provider; a back reference, never ownership
type finisher interface {
	requestFinish(tile domain.TileID, tk *ticket)
}

// submission is the adapter half of a submit call
type submission interface {
	domain.BufferListener
	// discard releases the listener of an adapter the downloader never accepted
	discard()
}

// requests is the bookkeeping shared by both providers: one lock around one tracker
type requests struct {
	name    string
	log     *logger.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	tr     *tracker.Tracker
	dl     domain.Downloader
	closed bool
	// keepFirst rejects a submission for a tile already in flight instead of superseding it
	keepFirst bool
}

func newRequests(name string, m *metrics.Metrics) *requests {
	return &requests{
		name:    name,
		log:     logger.Named(name),
		metrics: m,
		tr:      tracker.New(),
	}
}

// attach wires the downloader; a closed provider stays closed
func (r *requests) attach(dl domain.Downloader) {
	r.mu.Lock()
	r.dl = dl
	r.mu.Unlock()
}

// reject logs a refused submission and releases the listener without any callback
func (r *requests) reject(tile domain.TileID, reason string, release func()) error {
	err := perr.WithOp(perr.Rejectedf("%s: request for %s rejected: %s", r.name, tile, reason), r.name)
	r.log.Error().Str("tile", string(tile)).Str("reason", reason).Msg("request rejected")
	r.metrics.Rejected(r.name, reason)
	release()
	return err
}

// submit hands adapter to the downloader and records the returned id
// The lock is held across RequestBuffer so a completion cannot finish before the id is recorded.
// A pending request for the same tile is superseded: its entry is replaced and it is canceled.
// With keepFirst the new submission is rejected and the pending one left alone.
func (r *requests) submit(tile domain.TileID, url string, opts domain.RequestOptions, a submission, tk *ticket) (domain.RequestID, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return domain.NoRequest, r.reject(tile, reasonClosed, a.discard)
	case r.dl == nil:
		r.mu.Unlock()
		return domain.NoRequest, r.reject(tile, reasonNotInitialized, a.discard)
	}

	superseded := domain.NoRequest
	if prev, ok := r.tr.Lookup(tile); ok {
		if r.keepFirst {
			r.mu.Unlock()
			return domain.NoRequest, r.reject(tile, reasonPending, a.discard)
		}
		r.tr.Forget(tile)
		superseded = prev
	}

	dl := r.dl
	id := dl.RequestBuffer(url, opts, a)
	if id.Valid() {
		tk.id = id
		r.tr.Record(tile, id)
	}
	n := r.tr.Len()
	r.mu.Unlock()

	if superseded.Valid() {
		r.log.Warn().Str("tile", string(tile)).Int64("previous", int64(superseded)).Msg("tile already in flight; superseding previous request")
		dl.Cancel(superseded)
	}
	if !id.Valid() {
		return domain.NoRequest, r.reject(tile, reasonRefused, a.discard)
	}

	r.metrics.Submitted(r.name)
	r.metrics.InFlight(r.name, n)
	r.log.Debug().Str("tile", string(tile)).Int64("request", int64(id)).Str("url", url).Msg("request submitted")
	return id, nil
}

// cancel drops the entry for tile at once and then asks the downloader to cancel
func (r *requests) cancel(tile domain.TileID) bool {
	r.mu.Lock()
	req, ok := r.tr.Lookup(tile)
	if ok {
		r.tr.Forget(tile)
	}
	dl, n := r.dl, r.tr.Len()
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.metrics.InFlight(r.name, n)
	r.log.Debug().Str("tile", string(tile)).Int64("request", int64(req)).Msg("request canceled")
	if dl != nil {
		dl.Cancel(req)
	}
	return true
}

// cancelRequest cancels by request id, whichever tile it belongs to
func (r *requests) cancelRequest(req domain.RequestID) bool {
	r.mu.Lock()
	var tile domain.TileID
	found := false
	for _, e := range r.tr.Snapshot() {
		if e.Request == req {
			tile, found = e.Tile, true
			break
		}
	}
	r.mu.Unlock()
	if !found {
		return false
	}
	return r.cancelIf(tile, req)
}

// cancelIf cancels tile only while it is still tracked under req
func (r *requests) cancelIf(tile domain.TileID, req domain.RequestID) bool {
	r.mu.Lock()
	ok := r.tr.ForgetRequest(tile, req)
	dl, n := r.dl, r.tr.Len()
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.metrics.InFlight(r.name, n)
	if dl != nil {
		dl.Cancel(req)
	}
	return true
}

// requestFinish is called by an adapter's Close; it is idempotent and harmless after close
func (r *requests) requestFinish(tile domain.TileID, tk *ticket) {
	r.mu.Lock()
	removed := r.tr.ForgetRequest(tile, tk.id)
	n := r.tr.Len()
	r.mu.Unlock()
	if removed {
		r.metrics.InFlight(r.name, n)
	}
}

// lookup reports the request tracked for tile
func (r *requests) lookup(tile domain.TileID) (domain.RequestID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tr.Lookup(tile)
}

// inFlight snapshots the tracker
func (r *requests) inFlight() []tracker.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tr.Snapshot()
}

// close rejects later submissions and cancels everything still tracked
func (r *requests) close() int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	r.closed = true
	entries := r.tr.Drain()
	dl := r.dl
	r.mu.Unlock()

	r.metrics.InFlight(r.name, 0)
	if dl != nil {
		for _, e := range entries {
			dl.Cancel(e.Request)
		}
	}
	if len(entries) > 0 {
		r.log.Info().Int("canceled", len(entries)).Msg("provider closed with requests in flight")
	}
	return len(entries)
}
