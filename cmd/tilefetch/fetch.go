package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tilefetch/internal/core/geo"
	"tilefetch/internal/core/imagedec"
	perr "tilefetch/internal/platform/errors"
	"tilefetch/internal/platform/logger"
	"tilefetch/internal/services/tiles/domain"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type rasterFlags struct {
	layer    string
	level    int
	area     string
	width    int
	height   int
	out      string
	parallel int
	timeout  time.Duration
}

func newRasterCommand(ctx context.Context) *cobra.Command {
	f := &rasterFlags{}
	cmd := &cobra.Command{
		Use:   "raster <level/row/column>...",
		Short: "fetch raster tiles and write them as PNG files",
		Long: "Fetches the given tiles of a raster layer, or every tile of --level covering --sector,\n" +
			"and writes <out>/<layer>/<level>/<row>/<column>.png.",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return fetchRaster(ctx, e, f, args)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.layer, "layer", "", "raster layer name")
	fs.IntVar(&f.level, "level", -1, "pyramid level to cover with --sector")
	fs.StringVar(&f.area, "sector", "", "area to cover as south,west,north,east")
	fs.IntVar(&f.width, "width", 256, "tile width in pixels")
	fs.IntVar(&f.height, "height", 256, "tile height in pixels")
	fs.StringVar(&f.out, "out", "tiles", "output directory")
	fs.IntVar(&f.parallel, "parallel", 8, "tiles fetched at once")
	fs.DurationVar(&f.timeout, "timeout", time.Minute, "timeout per tile")
	_ = cmd.MarkFlagRequired("layer")
	return cmd
}

func parseKey(raw string) (geo.Key, error) {
	var k geo.Key
	if _, err := fmt.Sscanf(raw, "%d/%d/%d", &k.Level, &k.Row, &k.Column); err != nil {
		return geo.Key{}, perr.InvalidArgf("tile %q: want level/row/column", raw)
	}
	return k, nil
}

func fetchRaster(ctx context.Context, e *env, f *rasterFlags, args []string) error {
	ports := e.ports()
	p, ok := ports.Raster[f.layer]
	if !ok {
		return perr.NotFoundf("raster layer %q not found (have %s)", f.layer, strings.Join(ports.Catalog.RasterNames(), ", "))
	}
	l, _ := ports.Catalog.Raster(f.layer)

	keys := make([]geo.Key, 0, len(args))
	for _, a := range args {
		k, err := parseKey(a)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	if f.area != "" {
		area, err := geo.ParseSector(f.area)
		if err != nil {
			return perr.WithField(perr.Wrap(err, perr.ErrorCodeInvalidArgument, "bad sector"), "sector")
		}
		if f.level < 0 {
			return perr.InvalidArgf("--sector needs --level")
		}
		keys = append(keys, l.Pyramid().Covering(f.level, area)...)
	}
	if len(keys) == 0 {
		return perr.InvalidArgf("no tiles to fetch")
	}

	log := logger.Named("raster").With().Str("layer", f.layer).Logger()
	res := geo.Extent{Width: f.width, Height: f.height}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.parallel, 1))
	for _, k := range keys {
		g.Go(func() error {
			tile, err := l.Tile(k)
			if err != nil {
				return err
			}
			if p.Contribution(tile).IsNone() {
				log.Debug().Str("tile", string(tile.ID)).Msg("layer does not cover tile, skipped")
				return nil
			}
			tctx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()
			img, err := p.Fetch(tctx, tile, res, int64(-k.Level))
			if err != nil {
				return perr.Wrapf(err, perr.CodeOf(err), "tile %s", tile.ID)
			}
			return writeTile(f.out, f.layer, tile, img)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Int("tiles", len(keys)).Str("out", f.out).Msg("raster fetch done")
	return nil
}

func writeTile(out, layerName string, tile domain.Tile, img *domain.TileImage) error {
	raw, err := imagedec.PNG(img.Image)
	if err != nil {
		return err
	}
	path := filepath.Join(out, layerName, fmt.Sprint(tile.Level), fmt.Sprint(tile.Row), fmt.Sprintf("%d.png", tile.Column))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

type elevationFlags struct {
	source  string
	width   int
	height  int
	timeout time.Duration
}

func newElevationCommand(ctx context.Context) *cobra.Command {
	f := &elevationFlags{}
	cmd := &cobra.Command{
		Use:   "elevation <south,west,north,east>",
		Short: "fetch an elevation grid and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(ctx, cmd)
			if err != nil {
				return err
			}
			defer e.close()
			return fetchElevation(ctx, e, f, args[0], cmd)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.source, "source", "", "elevation source name")
	fs.IntVar(&f.width, "width", 64, "grid width in samples")
	fs.IntVar(&f.height, "height", 64, "grid height in samples")
	fs.DurationVar(&f.timeout, "timeout", time.Minute, "fetch timeout")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func fetchElevation(ctx context.Context, e *env, f *elevationFlags, rawSector string, cmd *cobra.Command) error {
	p, ok := e.ports().Elevation[f.source]
	if !ok {
		return perr.NotFoundf("elevation source %q not found", f.source)
	}
	sector, err := geo.ParseSector(rawSector)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "bad sector")
	}

	fctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	grid, err := p.Fetch(fctx, sector, geo.Extent{Width: f.width, Height: f.height})
	if err != nil {
		return err
	}
	lo, hi, _ := grid.MinMax()
	fmt.Fprintf(cmd.OutOrStdout(), "sector %s\nsize %dx%d\nmin %g\nmax %g\nno-data %d\n",
		grid.Sector, grid.Width, grid.Height, lo, hi, grid.NoDataCount())
	return nil
}
