package download

import (
	"context"

	"tilefetch/internal/platform/config"
	"tilefetch/internal/platform/metrics"
)

// FromConfig reads DOWNLOADER_* settings, falling back to DefaultConfig
func FromConfig(cfg config.Conf) Config {
	def := DefaultConfig()
	c := cfg.Prefix("DOWNLOADER_")
	return Config{
		Workers:     c.MayInt("WORKERS", def.Workers),
		Retries:     uint64(max(c.MayInt("RETRIES", int(def.Retries)), 0)),
		Backoff:     c.MayDuration("BACKOFF", def.Backoff),
		MaxBackoff:  c.MayDuration("MAX_BACKOFF", def.MaxBackoff),
		Timeout:     c.MayDuration("TIMEOUT", def.Timeout),
		MemoryItems: c.MayInt("MEMORY_ITEMS", def.MemoryItems),
		UserAgent:   c.MayString("USER_AGENT", def.UserAgent),
	}
}

// Open builds a Downloader from cfg, opening DOWNLOADER_CACHE_URL as the persistent tier when set
func Open(ctx context.Context, cfg config.Conf, m *metrics.Metrics) (*Downloader, error) {
	opts := []Option{WithMetrics(m)}
	if u := cfg.Prefix("DOWNLOADER_").MayString("CACHE_URL", ""); u != "" {
		s, err := OpenStore(ctx, u)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithStore(s))
	}
	return New(FromConfig(cfg), opts...), nil
}
