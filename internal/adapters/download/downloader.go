// Package download is the reference Downloader: a prioritized worker pool
// fetching over HTTP, with an LRU and an optional blob bucket as cache tiers.
//
// Every accepted request ends in exactly one listener callback, after which a
// listener implementing io.Closer is closed. Callbacks never start before
// RequestBuffer has returned.
package download

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/domain"

	"github.com/hashicorp/go-multierror"
)

// outcome labels for downloader metrics
const (
	outcomeData            = "data"
	outcomeExpired         = "expired"
	outcomeError           = "error"
	outcomeCanceled        = "canceled"
	outcomeCanceledPayload = "canceled_download"
)

// Config sizes the pool and the retry policy
type Config struct {
	Workers     int
	Retries     uint64
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Timeout     time.Duration
	MemoryItems int
	UserAgent   string
}

// DefaultConfig is used for every zero field of a Config
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		Retries:     3,
		Backoff:     200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		Timeout:     30 * time.Second,
		MemoryItems: 256,
		UserAgent:   "tilefetch",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.Backoff <= 0 {
		c.Backoff = def.Backoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	return c
}

// Option customizes a Downloader
type Option func(*Downloader)

// WithStore adds a persistent cache tier; the downloader closes it on Close
func WithStore(s *Store) Option { return func(d *Downloader) { d.store = s } }

// WithMetrics records downloader metrics
func WithMetrics(m *metrics.Metrics) Option { return func(d *Downloader) { d.metrics = m } }

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) Option { return func(d *Downloader) { d.client = c } }

// WithClock replaces time.Now for cache expiry
func WithClock(now func() time.Time) Option { return func(d *Downloader) { d.now = now } }

// Downloader implements domain.Downloader
type Downloader struct {
	cfg     Config
	client  *http.Client
	store   *Store
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time

	fetch *fetcher
	cache *cache

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	q      queue
	jobs   map[domain.RequestID]*job
	next   domain.RequestID
	seq    uint64
	closed bool
}

var _ domain.Downloader = (*Downloader)(nil)

// New starts cfg.Workers workers
func New(cfg Config, opts ...Option) *Downloader {
	cfg = cfg.withDefaults()
	d := &Downloader{
		cfg:  cfg,
		log:  logger.Named("downloader"),
		now:  time.Now,
		jobs: make(map[domain.RequestID]*job),
	}
	for _, o := range opts {
		o(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: cfg.Timeout}
	}
	d.fetch = &fetcher{
		client:     d.client,
		userAgent:  cfg.UserAgent,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		maxBackoff: cfg.MaxBackoff,
		metrics:    d.metrics,
		log:        d.log,
	}
	d.cache = newCache(cfg.MemoryItems, d.store, d.metrics, d.log)
	d.cond = sync.NewCond(&d.mu)
	d.ctx, d.stop = context.WithCancel(context.Background())

	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.log.Info().Int("workers", cfg.Workers).Uint64("retries", cfg.Retries).Bool("store", d.store != nil).Msg("downloader started")
	return d
}

// RequestBuffer queues url; it returns NoRequest without touching l once the downloader is closed
func (d *Downloader) RequestBuffer(url string, opts domain.RequestOptions, l domain.BufferListener) domain.RequestID {
	if l == nil || url == "" {
		return domain.NoRequest
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Debug().Str("url", url).Msg("request after close refused")
		return domain.NoRequest
	}
	id := d.next
	d.next++
	d.seq++
	j := &job{id: id, url: url, opts: opts, l: l, seq: d.seq, accepted: make(chan struct{})}
	d.jobs[id] = j
	heap.Push(&d.q, j)
	depth := d.q.Len()
	d.cond.Signal()
	d.mu.Unlock()

	d.metrics.QueueDepth(depth)
	close(j.accepted)
	return id
}

// Cancel drops a queued request at once with OnCancel, or aborts a running one
// A running request whose bytes already arrived ends with OnCanceledDownload.
// Unknown and finished ids are ignored.
func (d *Downloader) Cancel(id domain.RequestID) {
	d.mu.Lock()
	j, ok := d.jobs[id]
	if !ok || j.canceled {
		d.mu.Unlock()
		return
	}
	j.canceled = true
	if j.index >= 0 {
		heap.Remove(&d.q, j.index)
		delete(d.jobs, id)
		depth := d.q.Len()
		d.mu.Unlock()
		d.metrics.QueueDepth(depth)
		_ = d.finish(j, outcomeCanceled, func(l domain.BufferListener) { l.OnCancel(j.url) })
		return
	}
	stop := j.stop
	d.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// Stats reports queued and running requests and memory cache entries
type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Cached  int `json:"cached"`
}

// Stats snapshots the pool
func (d *Downloader) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Queued: d.q.Len(), Running: len(d.jobs) - d.q.Len(), Cached: d.cache.len()}
}

// Prune drops persistent entries that expired more than keep ago; without a store it does nothing
func (d *Downloader) Prune(ctx context.Context, keep time.Duration) (int, error) {
	if d.store == nil {
		return 0, nil
	}
	return d.store.Prune(ctx, d.now().Add(-keep))
}

// RunPruner calls Prune every interval until ctx is done
func (d *Downloader) RunPruner(ctx context.Context, every, keep time.Duration) error {
	if d.store == nil || every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := d.Prune(ctx, keep)
			if err != nil {
				d.log.Warn().Err(err).Int("pruned", n).Msg("cache prune incomplete")
				continue
			}
			d.log.Debug().Int("pruned", n).Msg("cache pruned")
		}
	}
}

// Close cancels queued and running requests, waits for the workers and closes the store
func (d *Downloader) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	queued := make([]*job, 0, d.q.Len())
	for d.q.Len() > 0 {
		j := heap.Pop(&d.q).(*job)
		j.canceled = true
		delete(d.jobs, j.id)
		queued = append(queued, j)
	}
	for _, j := range d.jobs {
		j.canceled = true
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	d.stop()
	d.metrics.QueueDepth(0)

	var errs *multierror.Error
	for _, j := range queued {
		if err := d.finish(j, outcomeCanceled, func(l domain.BufferListener) { l.OnCancel(j.url) }); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.wg.Wait()
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close cache store: %w", err))
		}
	}
	d.log.Info().Int("canceled", len(queued)).Msg("downloader closed")
	return errs.ErrorOrNil()
}

func (d *Downloader) worker() {
	defer d.wg.Done()
	for {
		j, ctx, ok := d.take()
		if !ok {
			return
		}
		d.run(ctx, j)
	}
}

// take blocks for the next job and arms its cancel func under the lock
func (d *Downloader) take() (*job, context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.q.Len() == 0 && !d.closed {
		d.cond.Wait()
	}
	if d.closed {
		return nil, nil, false
	}
	j := heap.Pop(&d.q).(*job)
	ctx, stop := context.WithCancel(d.ctx)
	j.stop = stop
	d.metrics.QueueDepth(d.q.Len())
	return j, ctx, true
}

func (d *Downloader) run(ctx context.Context, j *job) {
	defer j.stop()
	data, expired, err := d.load(ctx, j)

	d.mu.Lock()
	canceled := j.canceled
	delete(d.jobs, j.id)
	d.mu.Unlock()

	switch {
	case canceled && err == nil:
		_ = d.finish(j, outcomeCanceledPayload, func(l domain.BufferListener) { l.OnCanceledDownload(j.url, data, expired) })
	case canceled:
		_ = d.finish(j, outcomeCanceled, func(l domain.BufferListener) { l.OnCancel(j.url) })
	case err != nil:
		d.log.Debug().Err(err).Str("url", j.url).Msg("download failed")
		_ = d.finish(j, outcomeError, func(l domain.BufferListener) { l.OnError(j.url, err) })
	case expired:
		_ = d.finish(j, outcomeExpired, func(l domain.BufferListener) { l.OnDownload(j.url, data, true) })
	default:
		_ = d.finish(j, outcomeData, func(l domain.BufferListener) { l.OnDownload(j.url, data, false) })
	}
}

// load serves from cache when allowed, otherwise fetches and caches
// Expired entries are returned only when the request reads expired data.
func (d *Downloader) load(ctx context.Context, j *job) ([]byte, bool, error) {
	now := d.now()
	ttl := j.opts.TimeToCache
	if ttl > 0 {
		if e, _, ok := d.cache.get(ctx, j.url, now); ok {
			if !e.expired(now) {
				return e.data, false, nil
			}
			if j.opts.ReadExpired {
				return e.data, true, nil
			}
		}
	}

	data, err := d.fetch.get(ctx, j.url, j.opts.MaxBytes)
	if err != nil {
		return nil, false, err
	}
	if ttl > 0 {
		d.cache.put(d.ctx, j.url, entry{data: data, expires: now.Add(ttl)})
	}
	return data, false, nil
}

// finish fires the single terminal callback and closes the listener
// A panicking listener is logged and still closed.
func (d *Downloader) finish(j *job, outcome string, fire func(domain.BufferListener)) (err error) {
	<-j.accepted
	defer func() {
		if c, ok := j.l.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				d.log.Warn().Err(cerr).Str("url", j.url).Msg("listener close failed")
				err = cerr
			}
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Interface("panic", r).Str("url", j.url).Msg("listener panicked")
		}
	}()
	d.metrics.Download(outcome)
	fire(j.l)
	return nil
}
