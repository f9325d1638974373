package domain

import (
	"sync"
	"sync/atomic"
)

// Releaser is implemented by listeners that hold resources until their single callback is done
type Releaser interface {
	Release()
}

// ListenerRef is a single owner handle on a listener
// A transferred ref releases the listener exactly once; a borrowed ref never does.
type ListenerRef[L any] struct {
	l     L
	owned bool
	once  sync.Once
	done  atomic.Bool
}

// Transfer hands ownership of l to whoever ends up holding the ref
func Transfer[L any](l L) *ListenerRef[L] { return &ListenerRef[L]{l: l, owned: true} }

// Borrow lends l; the caller keeps ownership and Release only marks the ref done
func Borrow[L any](l L) *ListenerRef[L] { return &ListenerRef[L]{l: l} }

// Get returns the listener
func (r *ListenerRef[L]) Get() L { return r.l }

// Owned reports whether Release will release the listener
func (r *ListenerRef[L]) Owned() bool { return r.owned }

// Release lets go of the listener; later calls are no-ops
func (r *ListenerRef[L]) Release() {
	r.once.Do(func() {
		r.done.Store(true)
		if !r.owned {
			return
		}
		if rel, ok := any(r.l).(Releaser); ok {
			rel.Release()
		}
	})
}

// Released reports whether Release already ran
func (r *ListenerRef[L]) Released() bool { return r.done.Load() }
