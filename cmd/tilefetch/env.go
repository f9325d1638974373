package main

import (
	"context"

	"tilefetch/internal/adapters/download"
	"tilefetch/internal/modkit"
	"tilefetch/internal/platform/config"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/platform/metrics"
	"tilefetch/internal/services/tiles/layer"
	"tilefetch/internal/services/tiles/module"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// env is what every command needs: config, metrics, a downloader and the tiles module
type env struct {
	cfg      config.Conf
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	dl       *download.Downloader
	tiles    *module.Module
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg := config.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := module.FromConfig(cfg)
	if path, _ := cmd.Flags().GetString("catalog"); path != "" {
		opts.CatalogPath = path
	}
	cat, err := layer.Load(opts.CatalogPath)
	if err != nil {
		return nil, err
	}

	dl, err := download.Open(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	deps := modkit.Deps{Log: *logger.Get(), Cfg: cfg, Downloader: dl, Metrics: m}
	return &env{
		cfg:      cfg,
		registry: reg,
		metrics:  m,
		dl:       dl,
		tiles:    module.NewWithCatalog(deps, cat, opts),
	}, nil
}

// close shuts the providers before the downloader so their requests end on the cancel path
func (e *env) close() {
	log := logger.Get()
	if err := e.tiles.Close(); err != nil {
		log.Error().Err(err).Msg("close tiles module")
	}
	if err := e.dl.Close(); err != nil {
		log.Error().Err(err).Msg("close downloader")
	}
}

func (e *env) ports() module.Ports { return e.tiles.Ports().(module.Ports) }
