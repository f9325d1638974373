package module

import (
	"time"

	"tilefetch/internal/platform/config"
)

// Options holds configuration settings for the tiles module
type Options struct {
	CatalogPath    string
	RasterMaxBytes int64
	FetchTimeout   time.Duration
}

// FromConfig reads TILEFETCH_* settings
func FromConfig(cfg config.Conf) Options {
	tf := cfg.Prefix("TILEFETCH_")
	return Options{
		CatalogPath:    tf.MayString("CATALOG", "layers.yaml"),
		RasterMaxBytes: tf.MayInt64("RASTER_MAX_BYTES", 0),
		FetchTimeout:   tf.MayDuration("FETCH_TIMEOUT", 30*time.Second),
	}
}
