package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"

	"github.com/sethvargo/go-retry"
)

// fetcher performs GETs with exponential backoff on transient failures
type fetcher struct {
	client     *http.Client
	userAgent  string
	retries    uint64
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *metrics.Metrics
	log        *logger.Logger
}

// get downloads url, reading at most maxBytes when maxBytes > 0
// Server errors, transport failures and attempt timeouts are retried; everything else ends the loop.
func (f *fetcher) get(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	b := retry.NewExponential(f.backoff)
	b = retry.WithCappedDuration(f.maxBackoff, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(f.retries, b)

	var (
		data    []byte
		attempt int
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			f.log.Debug().Str("url", url).Int("attempt", attempt).Msg("retrying download")
			f.metrics.Retry()
		}
		attempt++

		var err error
		data, err = f.once(ctx, url, maxBytes)
		if err != nil && ctx.Err() == nil && perr.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *fetcher) once(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "create request")
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "get "+url)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return nil, perr.Unavailablef("get %s: status %d", url, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, perr.NotFoundf("get %s: status %d", url, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, perr.Transportf("get %s: status %d", url, resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, perr.Newf(perr.ErrorCodeTooLarge, "get %s: %d bytes exceeds limit %d", url, resp.ContentLength, maxBytes)
	}

	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, fmt.Sprintf("read %s", url))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, perr.Newf(perr.ErrorCodeTooLarge, "get %s: body exceeds limit %d", url, maxBytes)
	}
	f.metrics.Fetched(len(data), time.Since(start))
	return data, nil
}
