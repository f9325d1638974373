package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	// bucket drivers selectable through DOWNLOADER_CACHE_URL
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

const (
	storePrefix = "tiles/"
	metaExpires = "expires"
	metaURL     = "url"
)

// entry is one cached response
type entry struct {
	data    []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool { return !now.Before(e.expires) }

// Store persists responses in a blob bucket with their expiry in object metadata
type Store struct {
	bucket *blob.Bucket
}

// OpenStore opens the bucket at urlstr, e.g. mem:// or file:///var/cache/tilefetch
func OpenStore(ctx context.Context, urlstr string) (*Store, error) {
	b, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, err
	}
	return &Store{bucket: b}, nil
}

// NewStore wraps an already open bucket
func NewStore(b *blob.Bucket) *Store { return &Store{bucket: b} }

func storeKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	h := hex.EncodeToString(sum[:])
	return storePrefix + h[:2] + "/" + h
}

// Get returns the entry for url; ok is false on a miss
func (s *Store) Get(ctx context.Context, url string) (entry, bool, error) {
	key := storeKey(url)
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return entry{}, false, nil
		}
		return entry{}, false, err
	}
	expires, err := time.Parse(time.RFC3339Nano, attrs.Metadata[metaExpires])
	if err != nil {
		// unreadable expiry is treated as stale
		expires = time.Time{}
	}
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return entry{}, false, nil
		}
		return entry{}, false, err
	}
	return entry{data: data, expires: expires}, true, nil
}

// Put writes data for url with its expiry
func (s *Store) Put(ctx context.Context, url string, e entry) error {
	w, err := s.bucket.NewWriter(ctx, storeKey(url), &blob.WriterOptions{
		ContentType: "application/octet-stream",
		Metadata: map[string]string{
			metaExpires: e.expires.UTC().Format(time.RFC3339Nano),
			metaURL:     url,
		},
	})
	if err != nil {
		return err
	}
	if _, err := w.Write(e.data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Prune deletes every entry that expired before now and reports how many went
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	var (
		errs    *multierror.Error
		removed int
	)
	it := s.bucket.List(&blob.ListOptions{Prefix: storePrefix})
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			break
		}
		if obj.IsDir {
			continue
		}
		attrs, err := s.bucket.Attributes(ctx, obj.Key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		expires, parseErr := time.Parse(time.RFC3339Nano, attrs.Metadata[metaExpires])
		if parseErr == nil && now.Before(expires) {
			continue
		}
		if err := s.bucket.Delete(ctx, obj.Key); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

// Close closes the bucket
func (s *Store) Close() error { return s.bucket.Close() }
