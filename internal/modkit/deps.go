// Package modkit provides module wiring and core deps
package modkit

import (
	"tilefetch/internal/platform/config"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/domain"
)

// Deps holds core dependencies passed to modules
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log        logger.Logger
	Cfg        config.Conf
	Downloader domain.Downloader
	Metrics    *metrics.Metrics
}

// Ready reports whether the deps can serve requests; a nil downloader means providers reject everything
func (d Deps) Ready() bool { return d.Downloader != nil }
