package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/di"
	"github.com/sandeepkv93/session-guard/internal/observability"
)

func newServeCommand(_ *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, lp, err := observability.InitLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, lp)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	a, cleanup, err := di.InitializeApp(cfg, logger, runtime)
	if err != nil {
		_ = runtime.Shutdown(context.Background())
		return fmt.Errorf("initialize app: %w", err)
	}
	a.OnShutdown(cleanup)
	return a.Run(ctx)
}
