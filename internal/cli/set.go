package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
)

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	User       string
	Entity     uint64
	Remove     bool
	Persistent bool
	Synced     bool
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <component> [json-value]",
		Short: "Write a component on the authority",
		Long: `Write one component through the world_diff procedure.

Without --entity a new entity is spawned carrying the component.

Example:
  worldsync set motd '"hello"' --persistent
  worldsync set counter '{"value":3}' --entity 4
  worldsync set counter --entity 4 --remove`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSet(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", rootOpts.Config.User, "user id to connect as")
	cmd.Flags().Uint64Var(&opts.Entity, "entity", 0, "target entity (0 spawns a new one)")
	cmd.Flags().BoolVar(&opts.Remove, "remove", false, "remove the component instead of writing it")
	cmd.Flags().BoolVar(&opts.Persistent, "persistent", false, "mark a spawned entity as a persistent resource")
	cmd.Flags().BoolVar(&opts.Synced, "synced", false, "mark a spawned entity as a synced resource")

	return cmd
}

func buildSetDiff(reg *ecs.ComponentRegistry, components Components, opts *SetOptions, args []string) (*ecs.Diff, error) {
	desc, ok := reg.Lookup(args[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ecs.ErrUnknownComponent, args[0])
	}
	entity := ecs.EntityId(opts.Entity)

	if opts.Remove {
		if entity.IsNull() {
			return nil, fmt.Errorf("--remove needs --entity")
		}
		return ecs.NewDiff().Remove(entity, desc), nil
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("a value is required unless --remove is set")
	}
	value, err := reg.Unmarshal(desc, []byte(args[1]))
	if err != nil {
		return nil, err
	}
	if !entity.IsNull() {
		return ecs.NewDiff().Set(entity, value), nil
	}

	values := []ecs.ComponentValue{value}
	if opts.Persistent {
		values = append(values, components.Core.PersistentResource.With(protocol.PersistentResource{}))
	}
	if opts.Synced {
		values = append(values, components.Core.SyncedResource.With(protocol.SyncedResource{}))
	}
	return ecs.NewDiff().Spawn(ecs.Null, values...), nil
}

func runSet(cmd *cobra.Command, opts *SetOptions, args []string) error {
	reg := ecs.NewComponentRegistry()
	components := RegisterComponents(reg)
	diff, err := buildSetDiff(reg, components, opts, args)
	if err != nil {
		return err
	}
	payload, err := protocol.EncodeDiff(reg, diff)
	if err != nil {
		return err
	}

	link, cleanup, err := subscribe(cmd.Context(), opts.Config.Addr, opts.User)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := link.Call(cmd.Context(), protocol.ProcWorldDiff, payload)
	if err != nil {
		return err
	}
	var result protocol.ApplyResult
	if err := protocol.Unmarshal(resp, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "applied %d\n", result.Applied)
	for _, skipped := range result.Skipped {
		fmt.Fprintf(out, "skipped: %s\n", skipped)
	}
	return nil
}
