// Command tilefetch serves and fetches map tiles through the tile providers
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"tilefetch/internal/core/version"
	"tilefetch/internal/platform/logger"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Init(logger.FromEnv())
	if err := newRootCommand(ctx).Execute(); err != nil {
		logger.Get().Error().Err(err).Msg("tilefetch failed")
		stop()
		os.Exit(1)
	}
}

func newRootCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tilefetch",
		Short:        "tile data acquisition for globe renderers",
		Version:      version.Info().String(),
		SilenceUsage: true,
	}
	cmd.PersistentFlags().String("catalog", "", "layer catalog path, overrides TILEFETCH_CATALOG")
	cmd.AddCommand(
		newServeCommand(ctx),
		newRasterCommand(ctx),
		newElevationCommand(ctx),
	)
	return cmd
}
