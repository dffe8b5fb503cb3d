package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/plus3/remoteworld/authority"
	"github.com/plus3/remoteworld/authority/sqlite"
	"github.com/plus3/remoteworld/ecs"
	transport "github.com/plus3/remoteworld/transport/grpc"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authoritative world",
		Long: `Run the authoritative world and accept client connections over gRPC.

Persistent resources are kept in a SQLite database when --db is set and
restored on the next start. A YAML seed file is applied after restoring.

Example:
  worldsync serve --db ./world.db --seed ./seed.yaml
  worldsync serve --addr 0.0.0.0:7420 --tick 20ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cfg := &rootOpts.Config
	cmd.Flags().StringVar(&cfg.Database, "db", cfg.Database, "path to SQLite database (empty keeps the world in memory)")
	cmd.Flags().StringVar(&cfg.Seed, "seed", cfg.Seed, "YAML seed file applied on start")
	cmd.Flags().DurationVar(&cfg.TickInterval, "tick", cfg.TickInterval, "simulation tick interval")
	cmd.Flags().IntVar(&cfg.CompactEvery, "compact-every", cfg.CompactEvery, "compact storage every N ticks (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg := opts.Config
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := ecs.NewComponentRegistry()
	components := RegisterComponents(reg)

	serverOpts := []authority.Option{
		authority.WithLogger(slog.Default()),
		authority.WithCompactEvery(cfg.CompactEvery),
	}
	if cfg.Database != "" {
		store, err := sqlite.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}()
		serverOpts = append(serverOpts, authority.WithStore(store))
	}

	world := authority.NewServer(reg, serverOpts...)
	if _, err := world.Restore(ctx); err != nil {
		return err
	}
	if cfg.Seed != "" {
		report, err := world.LoadSeedFile(ctx, cfg.Seed)
		if err != nil {
			return fmt.Errorf("load seed: %w", err)
		}
		slog.Info("seed applied", "path", cfg.Seed, "applied", report.Applied.Len(), "skipped", len(report.Skipped))
	}
	world.RegisterSystem("movement", MovementSystem{Components: components})

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := transport.NewGRPCServer(transport.NewServer(world, transport.WithServerLogger(slog.Default())))
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", lis.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		return world.Run(ctx, cfg.TickInterval)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		world.Close(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
