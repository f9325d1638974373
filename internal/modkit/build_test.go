package modkit

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	phttp "tilefetch/internal/platform/net/http"

	"github.com/go-chi/chi/v5"
)

func TestBuild_Defaults(t *testing.T) {
	t.Parallel()

	b := Build()
	if b.Name != "" || b.Prefix != "" || b.Ports != nil || len(b.Mw) != 0 {
		t.Fatalf("unexpected defaults %+v", b)
	}

	defer func() {
		if v := recover(); v != nil {
			t.Fatalf("default Register panicked: %v", v)
		}
	}()
	b.Register(nil)
}

func TestBuild_WithOptionsAndCopySemantics(t *testing.T) {
	t.Parallel()

	fnPtr := func(f func(http.Handler) http.Handler) uintptr {
		return reflect.ValueOf(f).Pointer()
	}
	mwA := func(next http.Handler) http.Handler { return next }
	mwB := func(next http.Handler) http.Handler { return next }
	mid := []func(http.Handler) http.Handler{mwA, mwB}

	type ports struct{ X int }
	b := Build(
		WithName("tiles"),
		WithPrefix("/v1"),
		WithMiddlewares(mid...),
		WithPorts(ports{X: 7}),
	)

	if b.Name != "tiles" || b.Prefix != "/v1" {
		t.Fatalf("name/prefix = %q %q", b.Name, b.Prefix)
	}
	if got, ok := b.Ports.(ports); !ok || got.X != 7 {
		t.Fatalf("Ports mismatch after Build")
	}
	mid[0] = func(next http.Handler) http.Handler { return next }
	if len(b.Mw) != 2 || fnPtr(b.Mw[0]) != fnPtr(mwA) || fnPtr(b.Mw[1]) != fnPtr(mwB) {
		t.Fatalf("Mw not copied in order")
	}
}

func TestBuilt_Mount(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "mw")
			next.ServeHTTP(w, r)
		})
	}
	b := Build(
		WithPrefix("/v1"),
		WithMiddlewares(mw),
		WithRegister(func(r phttp.Router) {
			r.Get("/extra", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
		}),
	)

	mux := chi.NewRouter()
	b.Mount(phttp.AdaptChi(mux), func(r phttp.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
			w.WriteHeader(http.StatusNoContent)
		})
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	if rec.Code != http.StatusNoContent || len(order) != 2 || order[0] != "mw" {
		t.Fatalf("code=%d order=%v", rec.Code, order)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/extra", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("register hook not mounted: %d", rec.Code)
	}
}

func TestDeps_Ready(t *testing.T) {
	t.Parallel()
	if (Deps{}).Ready() {
		t.Fatalf("zero deps reported ready")
	}
}
