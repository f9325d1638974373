package modkit

import (
	"net/http"

	phttp "tilefetch/internal/platform/net/http"
)

// Built is a plain struct with the fields modules care about
type Built struct {
	Name     string
	Prefix   string
	Mw       []func(http.Handler) http.Handler
	Ports    any
	Register func(phttp.Router)
}

// Build applies Option funcs to an internal buildCfg and returns a plain struct
func Build(opts ...Option) Built {
	var c buildCfg
	for _, o := range opts {
		o(&c)
	}
	if c.register == nil {
		c.register = func(phttp.Router) {}
	}
	return Built{
		Name:     c.name,
		Prefix:   c.prefix,
		Mw:       append([]func(http.Handler) http.Handler(nil), c.mw...),
		Ports:    c.ports,
		Register: c.register,
	}
}

// Mount mounts fn under prefix with the module middlewares
// An empty prefix mounts on r itself.
func (b Built) Mount(r phttp.Router, fn func(phttp.Router)) {
	mount := func(sub phttp.Router) {
		if len(b.Mw) > 0 {
			sub.Use(b.Mw...)
		}
		fn(sub)
		b.Register(sub)
	}
	if b.Prefix == "" {
		mount(r)
		return
	}
	r.Route(b.Prefix, mount)
}
