// Package tracker maps tiles to their in-flight download request
// A Tracker does no locking; the owning provider serializes access.
package tracker

import (
	"sort"

	"tilefetch/internal/services/tiles/domain"
)

// Entry is one tracked request
type Entry struct {
	Tile    domain.TileID    `json:"tile"`
	Request domain.RequestID `json:"request"`
}

// Tracker holds at most one request per tile
type Tracker struct {
	byTile map[domain.TileID]domain.RequestID
}

// New returns an empty tracker
func New() *Tracker { return &Tracker{byTile: make(map[domain.TileID]domain.RequestID)} }

// Record maps tile to req, replacing any previous entry
// It reports false and records nothing for an unsubmitted request.
func (t *Tracker) Record(tile domain.TileID, req domain.RequestID) bool {
	if !req.Valid() {
		return false
	}
	t.byTile[tile] = req
	return true
}

// Forget removes tile; absent tiles are ignored
func (t *Tracker) Forget(tile domain.TileID) { delete(t.byTile, tile) }

// ForgetRequest removes tile only while it still maps to req
// A completion that lost a race with cancel and re-create leaves the newer entry alone.
func (t *Tracker) ForgetRequest(tile domain.TileID, req domain.RequestID) bool {
	cur, ok := t.byTile[tile]
	if !ok || cur != req {
		return false
	}
	delete(t.byTile, tile)
	return true
}

// Lookup returns the request tracked for tile
func (t *Tracker) Lookup(tile domain.TileID) (domain.RequestID, bool) {
	req, ok := t.byTile[tile]
	return req, ok
}

// Len is the number of in-flight tiles
func (t *Tracker) Len() int { return len(t.byTile) }

// Snapshot copies the table, ordered by tile id
func (t *Tracker) Snapshot() []Entry {
	out := make([]Entry, 0, len(t.byTile))
	for tile, req := range t.byTile {
		out = append(out, Entry{Tile: tile, Request: req})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tile < out[j].Tile })
	return out
}

// Drain empties the tracker and returns what it held, ordered by tile id
func (t *Tracker) Drain() []Entry {
	out := t.Snapshot()
	clear(t.byTile)
	return out
}
