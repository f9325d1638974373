package download

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perr "tilefetch/internal/platform/errors"
	kit "tilefetch/internal/platform/testkit"
	"tilefetch/internal/services/tiles/domain"

	"gocloud.dev/blob/memblob"
)

// recorder is a BufferListener that captures its single callback
type recorder struct {
	mu      sync.Mutex
	events  []string
	data    []byte
	expired bool
	err     error
	closed  int
	done    chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnDownload(_ string, data []byte, expired bool) {
	r.mu.Lock()
	r.data, r.expired = data, expired
	r.mu.Unlock()
	r.add("download")
}

func (r *recorder) OnError(_ string, err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
	r.add("error")
}

func (r *recorder) OnCancel(string) { r.add("cancel") }

func (r *recorder) OnCanceledDownload(_ string, data []byte, _ bool) {
	r.mu.Lock()
	r.data = data
	r.mu.Unlock()
	r.add("canceled_download")
}

func (r *recorder) Close() error {
	r.mu.Lock()
	r.closed++
	n := r.closed
	r.mu.Unlock()
	if n == 1 {
		close(r.done)
	}
	return nil
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("listener never closed")
	}
}

func (r *recorder) only(t *testing.T, want string) {
	t.Helper()
	r.wait(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) != 1 || r.events[0] != want || r.closed != 1 {
		t.Fatalf("events = %v closed = %d, want [%s] closed once", r.events, r.closed, want)
	}
}

func fastConfig() Config {
	return Config{Workers: 2, Retries: 2, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, MemoryItems: 16}
}

func newDownloader(t *testing.T, cfg Config, opts ...Option) *Downloader {
	t.Helper()
	d := New(cfg, opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// blockingServer holds every request until release is closed or the client goes away
func blockingServer(t *testing.T) (*httptest.Server, chan struct{}, chan string) {
	t.Helper()
	release := make(chan struct{})
	seen := make(chan string, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.URL.Path
		select {
		case <-release:
			_, _ = io.WriteString(w, "ok"+r.URL.Path)
		case <-r.Context().Done():
		}
	}))
	var once sync.Once
	t.Cleanup(func() {
		once.Do(func() { close(release) })
		srv.Close()
	})
	return srv, release, seen
}

func TestRequestBuffer_DeliversBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "tilefetch" {
			t.Errorf("user agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = io.WriteString(w, "tile bytes")
	}))
	defer srv.Close()

	d := newDownloader(t, fastConfig())
	rec := newRecorder()
	id := d.RequestBuffer(srv.URL+"/a", domain.RequestOptions{}, rec)
	if !id.Valid() {
		t.Fatalf("RequestBuffer = %d", id)
	}
	rec.only(t, "download")
	if string(rec.data) != "tile bytes" || rec.expired {
		t.Fatalf("data = %q expired = %v", rec.data, rec.expired)
	}
}

func TestRequestBuffer_IDsAreDistinct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()
	d := newDownloader(t, fastConfig())
	a, b := newRecorder(), newRecorder()
	ia := d.RequestBuffer(srv.URL, domain.RequestOptions{}, a)
	ib := d.RequestBuffer(srv.URL, domain.RequestOptions{}, b)
	if ia == ib || !ia.Valid() || !ib.Valid() {
		t.Fatalf("ids %d %d", ia, ib)
	}
	a.wait(t)
	b.wait(t)
}

func TestRequestBuffer_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "finally")
	}))
	defer srv.Close()

	d := newDownloader(t, fastConfig())
	rec := newRecorder()
	d.RequestBuffer(srv.URL, domain.RequestOptions{}, rec)
	rec.only(t, "download")
	if hits.Load() != 3 || string(rec.data) != "finally" {
		t.Fatalf("hits = %d data = %q", hits.Load(), rec.data)
	}
}

func TestRequestBuffer_ErrorPaths(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		body     string
		maxBytes int64
		code     perr.ErrorCode
		hits     int32
	}{
		{"server error exhausts retries", http.StatusInternalServerError, "", 0, perr.ErrorCodeUnavailable, 3},
		{"not found is final", http.StatusNotFound, "", 0, perr.ErrorCodeNotFound, 1},
		{"client error is final", http.StatusForbidden, "", 0, perr.ErrorCodeTransport, 1},
		{"body over limit", http.StatusOK, strings.Repeat("x", 100), 10, perr.ErrorCodeTooLarge, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				hits.Add(1)
				w.WriteHeader(c.status)
				_, _ = io.WriteString(w, c.body)
			}))
			defer srv.Close()

			d := newDownloader(t, fastConfig())
			rec := newRecorder()
			d.RequestBuffer(srv.URL, domain.RequestOptions{MaxBytes: c.maxBytes}, rec)
			rec.only(t, "error")
			if !perr.IsCode(rec.err, c.code) {
				t.Fatalf("code = %v (%v)", perr.CodeOf(rec.err), rec.err)
			}
			if hits.Load() != c.hits {
				t.Fatalf("hits = %d, want %d", hits.Load(), c.hits)
			}
		})
	}
}

func TestRequestBuffer_CacheFreshThenExpired(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "v")
	}))
	defer srv.Close()

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	d := newDownloader(t, fastConfig(), WithClock(clock))
	opts := domain.RequestOptions{TimeToCache: time.Hour}

	first := newRecorder()
	d.RequestBuffer(srv.URL, opts, first)
	first.only(t, "download")

	fresh := newRecorder()
	d.RequestBuffer(srv.URL, opts, fresh)
	fresh.only(t, "download")
	if hits.Load() != 1 || fresh.expired {
		t.Fatalf("fresh entry not served from cache: hits=%d expired=%v", hits.Load(), fresh.expired)
	}

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	stale := newRecorder()
	d.RequestBuffer(srv.URL, domain.RequestOptions{TimeToCache: time.Hour, ReadExpired: true}, stale)
	stale.only(t, "download")
	if hits.Load() != 1 || !stale.expired {
		t.Fatalf("expired entry not served as expired: hits=%d expired=%v", hits.Load(), stale.expired)
	}

	refetch := newRecorder()
	d.RequestBuffer(srv.URL, opts, refetch)
	refetch.only(t, "download")
	if hits.Load() != 2 || refetch.expired {
		t.Fatalf("expired entry served without ReadExpired: hits=%d", hits.Load())
	}
}

func TestRequestBuffer_NoCachingWithoutTTL(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { hits.Add(1) }))
	defer srv.Close()
	d := newDownloader(t, fastConfig())
	for i := 0; i < 2; i++ {
		rec := newRecorder()
		d.RequestBuffer(srv.URL, domain.RequestOptions{}, rec)
		rec.wait(t)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d", hits.Load())
	}
}

func TestRequestBuffer_PersistentStoreTier(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "persisted")
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MemoryItems = 0
	d := newDownloader(t, cfg, WithStore(NewStore(memblob.OpenBucket(nil))))
	opts := domain.RequestOptions{TimeToCache: time.Hour}

	a := newRecorder()
	d.RequestBuffer(srv.URL+"/p", opts, a)
	a.only(t, "download")
	b := newRecorder()
	d.RequestBuffer(srv.URL+"/p", opts, b)
	b.only(t, "download")
	if hits.Load() != 1 || string(b.data) != "persisted" {
		t.Fatalf("store tier missed: hits=%d data=%q", hits.Load(), b.data)
	}
}

func TestCancel_QueuedRequest(t *testing.T) {
	srv, release, seen := blockingServer(t)
	cfg := fastConfig()
	cfg.Workers = 1
	d := newDownloader(t, cfg)

	running := newRecorder()
	d.RequestBuffer(srv.URL+"/running", domain.RequestOptions{}, running)
	kit.Recv(t, seen, 5*time.Second)

	queued := newRecorder()
	id := d.RequestBuffer(srv.URL+"/queued", domain.RequestOptions{}, queued)
	d.Cancel(id)
	queued.only(t, "cancel")

	d.Cancel(id)
	d.Cancel(999)

	close(release)
	running.only(t, "download")
	kit.Never(t, seen, 50*time.Millisecond)
}

func TestCancel_RunningRequest(t *testing.T) {
	srv, _, seen := blockingServer(t)
	d := newDownloader(t, fastConfig())

	rec := newRecorder()
	id := d.RequestBuffer(srv.URL+"/slow", domain.RequestOptions{}, rec)
	kit.Recv(t, seen, 5*time.Second)
	d.Cancel(id)
	rec.only(t, "cancel")
}

// cancelingTransport answers every request but cancels it first, so data arrives after the cancel
type cancelingTransport struct {
	d   **Downloader
	ids chan domain.RequestID
}

func (c cancelingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	(*c.d).Cancel(<-c.ids)
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("late")),
		Header:     http.Header{},
	}, nil
}

func TestCancel_DataAfterCancel(t *testing.T) {
	var d *Downloader
	ids := make(chan domain.RequestID, 1)
	d = newDownloader(t, fastConfig(), WithHTTPClient(&http.Client{Transport: cancelingTransport{d: &d, ids: ids}}))

	rec := newRecorder()
	ids <- d.RequestBuffer("http://tiles.invalid/late", domain.RequestOptions{}, rec)
	rec.only(t, "canceled_download")
	if string(rec.data) != "late" {
		t.Fatalf("data = %q", rec.data)
	}
}

func TestPriorityOrder(t *testing.T) {
	srv, release, seen := blockingServer(t)
	cfg := fastConfig()
	cfg.Workers = 1
	d := newDownloader(t, cfg)

	first := newRecorder()
	d.RequestBuffer(srv.URL+"/first", domain.RequestOptions{}, first)
	kit.Recv(t, seen, 5*time.Second)

	low, mid, high := newRecorder(), newRecorder(), newRecorder()
	d.RequestBuffer(srv.URL+"/low", domain.RequestOptions{Priority: 1}, low)
	d.RequestBuffer(srv.URL+"/mid", domain.RequestOptions{Priority: 5}, mid)
	d.RequestBuffer(srv.URL+"/high", domain.RequestOptions{Priority: 9}, high)
	if s := d.Stats(); s.Queued != 3 || s.Running != 1 {
		t.Fatalf("stats = %+v", s)
	}
	close(release)

	var order []string
	for i := 0; i < 3; i++ {
		order = append(order, kit.Recv(t, seen, 5*time.Second))
	}
	if strings.Join(order, ",") != "/high,/mid,/low" {
		t.Fatalf("order = %v", order)
	}
	low.wait(t)
}

func TestClose_CancelsEverythingAndRefusesNewWork(t *testing.T) {
	srv, _, seen := blockingServer(t)
	cfg := fastConfig()
	cfg.Workers = 1
	d := New(cfg)

	running, queued := newRecorder(), newRecorder()
	d.RequestBuffer(srv.URL+"/running", domain.RequestOptions{}, running)
	kit.Recv(t, seen, 5*time.Second)
	d.RequestBuffer(srv.URL+"/queued", domain.RequestOptions{}, queued)

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	queued.only(t, "cancel")
	running.only(t, "cancel")

	late := newRecorder()
	if id := d.RequestBuffer(srv.URL, domain.RequestOptions{}, late); id != domain.NoRequest {
		t.Fatalf("RequestBuffer after close = %d", id)
	}
	late.mu.Lock()
	defer late.mu.Unlock()
	if len(late.events) != 0 || late.closed != 0 {
		t.Fatalf("refused listener was touched")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

type panicky struct{ *recorder }

func (p panicky) OnDownload(string, []byte, bool) { panic("boom") }

func TestListenerPanicKeepsWorkerAlive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()
	cfg := fastConfig()
	cfg.Workers = 1
	d := newDownloader(t, cfg)

	bad := panicky{newRecorder()}
	d.RequestBuffer(srv.URL, domain.RequestOptions{}, bad)
	bad.wait(t)

	good := newRecorder()
	d.RequestBuffer(srv.URL, domain.RequestOptions{}, good)
	good.only(t, "download")
}

func TestRequestBuffer_RejectsEmptyInput(t *testing.T) {
	d := newDownloader(t, fastConfig())
	if d.RequestBuffer("", domain.RequestOptions{}, newRecorder()) != domain.NoRequest {
		t.Fatalf("empty url accepted")
	}
	if d.RequestBuffer("http://x", domain.RequestOptions{}, nil) != domain.NoRequest {
		t.Fatalf("nil listener accepted")
	}
}

func TestStore_PutGetPrune(t *testing.T) {
	ctx := context.Background()
	s, err := OpenStore(ctx, "mem://")
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer s.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, ok, err := s.Get(ctx, "http://a"); ok || err != nil {
		t.Fatalf("miss expected, got ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "http://a", entry{data: []byte("a"), expires: now.Add(time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "http://b", entry{data: []byte("b"), expires: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e, ok, err := s.Get(ctx, "http://a")
	if err != nil || !ok || string(e.data) != "a" || !e.expires.Equal(now.Add(time.Hour)) {
		t.Fatalf("Get = %+v %v %v", e, ok, err)
	}
	if e.expired(now) || !e.expired(now.Add(time.Hour)) {
		t.Fatalf("expiry boundary wrong")
	}

	n, err := s.Prune(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if _, ok, _ := s.Get(ctx, "http://b"); ok {
		t.Fatalf("expired entry survived prune")
	}
	if _, ok, _ := s.Get(ctx, "http://a"); !ok {
		t.Fatalf("fresh entry pruned")
	}
}

func TestPrune_KeepsRecentlyExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "tile")
	}))
	defer srv.Close()

	var (
		mu  sync.Mutex
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cfg := fastConfig()
	cfg.MemoryItems = 0
	d := newDownloader(t, cfg, WithClock(clock), WithStore(NewStore(memblob.OpenBucket(nil))))

	r := newRecorder()
	d.RequestBuffer(srv.URL+"/t", domain.RequestOptions{TimeToCache: time.Hour}, r)
	r.only(t, "download")

	mu.Lock()
	now = now.Add(3 * time.Hour)
	mu.Unlock()

	ctx := context.Background()
	if n, err := d.Prune(ctx, 3*time.Hour); err != nil || n != 0 {
		t.Fatalf("Prune within keep = %d, %v", n, err)
	}
	if n, err := d.Prune(ctx, time.Hour); err != nil || n != 1 {
		t.Fatalf("Prune past keep = %d, %v", n, err)
	}
}

func TestPrune_WithoutStore(t *testing.T) {
	d := newDownloader(t, fastConfig())
	if n, err := d.Prune(context.Background(), 0); n != 0 || err != nil {
		t.Fatalf("Prune = %d, %v", n, err)
	}
	if err := d.RunPruner(context.Background(), time.Millisecond, 0); err != nil {
		t.Fatalf("RunPruner without store = %v", err)
	}
}
