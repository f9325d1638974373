package middleware

import (
	"net/http"

	"tilefetch/internal/platform/logger"
	pnet "tilefetch/internal/platform/net"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// HeaderRequestID carries the correlation id in and out
const HeaderRequestID = "X-Request-ID"

// RequestID propagates X-Request-ID or mints a uuid, and annotates the context
// for both chi and the logger. The {layer} or {source} route param, when present,
// is attached as the layer field.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		layer := chi.URLParam(r, "layer")
		if layer == "" {
			layer = chi.URLParam(r, "source")
		}
		ctx := pnet.WithRequest(r.Context(), id, layer)
		ctx = logger.WithRequest(ctx, id, layer)
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
