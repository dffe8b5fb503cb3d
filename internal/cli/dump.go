package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/inspect"
	"github.com/plus3/remoteworld/protocol"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	User   string
	Entity uint64
	Match  []string
	Filter string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print a snapshot of the authority's world",
		Long: `Connect, receive the world snapshot, and print it as tables.

Example:
  worldsync dump
  worldsync dump --match position,velocity
  worldsync dump --entity 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", rootOpts.Config.User, "user id to connect as")
	cmd.Flags().Uint64Var(&opts.Entity, "entity", 0, "print the components of one entity")
	cmd.Flags().StringSliceVar(&opts.Match, "match", nil, "list archetypes carrying every named component")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only list entities matching this text")

	return cmd
}

func runDump(cmd *cobra.Command, opts *DumpOptions) error {
	link, cleanup, err := subscribe(cmd.Context(), opts.Config.Addr, opts.User)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := ecs.NewComponentRegistry()
	RegisterComponents(reg)
	data, err := link.Recv(cmd.Context())
	if err != nil {
		return fmt.Errorf("await snapshot: %w", err)
	}
	snapshot, err := protocol.DecodeDiff(reg, data)
	if err != nil {
		return err
	}
	world := ecs.NewStorage(reg)
	snapshot.Apply(world)

	out := cmd.OutOrStdout()
	if opts.Entity != 0 {
		id := ecs.EntityId(opts.Entity)
		fields, err := inspect.Entity(world, id)
		if err != nil {
			return err
		}
		return inspect.WriteEntity(out, id, fields)
	}
	if len(opts.Match) > 0 {
		rows, err := inspect.Matching(world, opts.Match...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archetypes with %s\n", strings.Join(opts.Match, ", "))
		return inspect.WriteArchetypes(out, rows)
	}

	if err := inspect.WriteArchetypes(out, inspect.Archetypes(world, inspect.ByEntityCount, false)); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return inspect.WriteEntities(out, inspect.Entities(world, inspect.EntityFilter{Text: opts.Filter}))
}
