package main

import (
	"context"
	"time"

	phttp "tilefetch/internal/platform/net/http"
	"tilefetch/internal/platform/net/middleware"
	thttp "tilefetch/internal/services/tiles/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the admin HTTP API (tiles, health, metrics)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *env) error {
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	httpCfg := e.cfg.Prefix("TILEFETCH_")
	srv := phttp.NewServer(httpCfg, func(m *chi.Mux) {
		m.Use(
			middleware.RecoverJSON,
			middleware.AccessLogZerolog(middleware.AccessLogOptions{Slow: httpCfg.MayDuration("SLOW", 2*time.Second)}),
			middleware.CORS(middleware.CORSOptions{
				AllowedOrigins: httpCfg.MayCSV("CORS_ORIGINS", nil),
				MaxAge:         httpCfg.MayInt("CORS_MAX_AGE", 300),
			}),
		)
	})

	r := srv.Router()
	thttp.RegisterMeta(r, thttp.MetaDeps{
		ServiceName: "tilefetch",
		StartedAt:   time.Now(),
		Gatherer:    e.registry,
		Stats:       func() any { return e.dl.Stats() },
	})
	e.tiles.MountRoutes(r)

	dlCfg := e.cfg.Prefix("DOWNLOADER_")
	every := dlCfg.MayDuration("PRUNE_EVERY", time.Hour)
	keep := dlCfg.MayDuration("PRUNE_KEEP", 7*24*time.Hour)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return e.dl.RunPruner(gctx, every, keep) })
	return g.Wait()
}
