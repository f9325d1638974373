package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	perr "tilefetch/internal/platform/errors"
	pnet "tilefetch/internal/platform/net"
	phttp "tilefetch/internal/platform/net/http"
)

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) phttp.Envelope {
	t.Helper()
	var env phttp.Envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return env
}

func TestHandle_OKEnvelope(t *testing.T) {
	h := phttp.Handle(func(r *http.Request) phttp.Response { return phttp.OK(map[string]int{"n": 3}) })
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(pnet.WithRequest(req.Context(), "rid-1", ""))
	rr := httptest.NewRecorder()
	h(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.RequestID != "rid-1" || env.StatusCode != http.StatusOK {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHandle_ErrorMapsStatus(t *testing.T) {
	h := phttp.Handle(func(r *http.Request) phttp.Response {
		return phttp.Error(perr.Transportf("Download error - http://x"))
	})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	env := decodeEnvelope(t, rr)
	if env.Code != perr.ErrorCodeTransport || env.Error != "Download error - http://x" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestHandle_BlobWritesRaw(t *testing.T) {
	h := phttp.Handle(func(r *http.Request) phttp.Response { return phttp.Blob("image/png", []byte{1, 2, 3}) })
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}
	if got := rr.Body.Bytes(); len(got) != 3 || got[2] != 3 {
		t.Fatalf("body = %v", got)
	}
}

func TestHandle_NoContent(t *testing.T) {
	h := phttp.Handle(func(r *http.Request) phttp.Response { return phttp.NoContent() })
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodDelete, "/x", nil))
	if rr.Code != http.StatusNoContent || rr.Body.Len() != 0 {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestHandle_AcceptedAndHeaders(t *testing.T) {
	h := phttp.Handle(func(r *http.Request) phttp.Response {
		resp := phttp.Accepted("queued")
		resp.Header = http.Header{"X-Tile": []string{"1/0/0"}}
		return resp
	})
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusAccepted || rr.Header().Get("X-Tile") != "1/0/0" {
		t.Fatalf("status=%d header=%q", rr.Code, rr.Header().Get("X-Tile"))
	}
}
