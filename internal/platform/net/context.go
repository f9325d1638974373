// Package net provides utilities for working with request contexts
package net

import (
	"context"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// ctxKey is an unexported key type for context values
type ctxKey string

const keyLayer ctxKey = "layer"

// WithRequest annotates context with the request id and the tile layer it targets
func WithRequest(ctx context.Context, reqID, layer string) context.Context {
	if reqID != "" {
		// set chi RequestID so chimw.GetReqID can retrieve it
		ctx = context.WithValue(ctx, chimw.RequestIDKey, reqID)
	}
	if layer != "" {
		ctx = context.WithValue(ctx, keyLayer, layer)
	}
	return ctx
}

// RequestID returns the request id on the context if present
func RequestID(ctx context.Context) string { return chimw.GetReqID(ctx) }

// Layer returns the layer name on the context if present
func Layer(ctx context.Context) string {
	if v, ok := ctx.Value(keyLayer).(string); ok {
		return v
	}
	return ""
}
