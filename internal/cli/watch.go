package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/inspect"
	"github.com/plus3/remoteworld/remote"
	"github.com/plus3/remoteworld/session"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	User     string
	Interval time.Duration
	Frames   int
	Stats    bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror the world and print what changes",
		Long: `Connect, mirror the world, and print each bound value when it changes.

The watcher binds the persistent message of the day, the shared counter, this
connection's player counter, and every position.

Example:
  worldsync watch --user alice
  worldsync watch --frames 100 --stats`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", rootOpts.Config.User, "user id to connect as")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 100*time.Millisecond, "frame interval")
	cmd.Flags().IntVar(&opts.Frames, "frames", 0, "stop after this many frames (0 runs until interrupted)")
	cmd.Flags().BoolVar(&opts.Stats, "stats", false, "print observer statistics on exit")

	return cmd
}

// mountWatchers mounts the observers that print bound values to out.
func mountWatchers(rt *hooks.Runtime, sess *session.Session, components Components, out io.Writer) {
	rt.Mount("motd", func(h *hooks.H) {
		motd := remote.UseRemotePersistedResource(h, sess, components.Motd)
		if value, ok := motd.Get(); ok {
			fmt.Fprintf(out, "motd: %s\n", value)
		}
	})
	rt.Mount("counter", func(h *hooks.H) {
		counter := remote.UseRemoteSyncedResource(h, sess, components.Counter)
		if value, ok := counter.Get(); ok {
			fmt.Fprintf(out, "counter: %d\n", value.Value)
		}
	})
	rt.Mount("player", func(h *hooks.H) {
		score := remote.UseRemotePlayerComponent(h, sess, components.Counter, Counter{})
		if !score.Entity().IsNull() {
			fmt.Fprintf(out, "player %d: %d\n", score.Entity(), score.Value().Value)
		}
	})
	rt.Mount("positions", func(h *hooks.H) {
		positions := remote.UseRemoteComponents(h, sess, ecs.NewFilter(), components.Position)
		for _, p := range positions {
			pos := p.Value()
			fmt.Fprintf(out, "position %d: %.2f,%.2f\n", p.Entity(), pos.X, pos.Y)
		}
	})
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, cleanup, err := subscribe(ctx, opts.Config.Addr, opts.User)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := ecs.NewComponentRegistry()
	components := RegisterComponents(reg)
	sess := session.New(link, link.Welcome(), reg, session.WithLogger(slog.Default()))
	defer sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(ctx)
		cancel()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "connected as %s (player %d)\n", link.Welcome().UserID, link.Welcome().PlayerEntity)

	rt := hooks.NewRuntime(hooks.WithLogger(slog.Default()))
	mountWatchers(rt, sess, components, out)

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()
	last := time.Now()
	frames := 0
loop:
	for opts.Frames == 0 || frames < opts.Frames {
		select {
		case <-ctx.Done():
			break loop
		case now := <-ticker.C:
			rt.Tick(now.Sub(last).Seconds())
			last = now
			frames++
		}
	}

	if opts.Stats {
		if err := inspect.WriteObservers(cmd.ErrOrStderr(), rt.Stats()); err != nil {
			return err
		}
	}
	cancel()
	return <-done
}
