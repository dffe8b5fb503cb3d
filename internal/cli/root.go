// Package cli implements the worldsync command-line tool.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/plus3/remoteworld/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Config  Config

	configErr error
	shutdown  func(context.Context) error
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "worldsync",
		Short: "Serve and observe a synchronized world",
		Long: `worldsync runs an authoritative world and the clients that mirror it.

Configuration is read from WORLDSYNC_* environment variables; flags override
them. Tracing is exported over OTLP/HTTP when WORLDSYNC_OTEL_ENDPOINT is set.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configErr != nil {
				return opts.configErr
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			shutdown, err := telemetry.Setup(cmd.Context(), opts.Config.ServiceName, opts.Config.OTelEndpoint)
			if err != nil {
				return err
			}
			opts.shutdown = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.shutdown == nil {
				return nil
			}
			return opts.shutdown(context.Background())
		},
	}

	cfg, err := LoadConfig()
	opts.Config, opts.configErr = cfg, err

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Config.Addr, "addr", cfg.Addr, "authority address")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))

	return cmd
}
