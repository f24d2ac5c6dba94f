package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storyindex/internal/core/ports"
	"storyindex/internal/shared/observability"

	"github.com/spf13/cobra"
)

func newDevCommand(root *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "dev [dir]",
		Short: "Serve the story index and keep it current",
		Long: `Build the index, then watch story files, MDX docs, the preview config and
the config file. Every change rewrites index.json and notifies connected
managers over the channel.

Endpoints: /index.json, /channel, /metrics and /health.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd, root, address, args)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "Listen address (overrides server.address)")
	return cmd
}

func runDev(cmd *cobra.Command, root *rootOptions, address string, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(root, args)
	if err != nil {
		return err
	}
	svc := a.IndexService()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()
	if address != "" {
		a.Config.Server.Address = address
	}

	shutdownTracing, err := observability.SetupTracing(ctx, a.Config.Observability.OTLPEndpoint, a.Config.Observability.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	watch := svc.WatchService()
	if err := watch.Subscribe(ctx, logUpdate); err != nil {
		return err
	}
	if err := watch.Start(ctx); err != nil {
		return err
	}
	return svc.Serve(ctx)
}

func logUpdate(u ports.WatchUpdate) {
	if u.Err != "" {
		slog.Error("index update failed", "generation", u.Generation, "error", u.Err)
		return
	}
	slog.Info("index updated",
		"generation", u.Generation,
		"added", len(u.Delta.Added),
		"removed", len(u.Delta.Removed),
		"changed", len(u.Delta.Changed),
		"stories", u.Summary.StoryCount,
	)
}
