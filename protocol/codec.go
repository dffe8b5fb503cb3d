package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/plus3/remoteworld/ecs"
)

// ErrMalformedDiff is returned when a payload is not a valid encoded diff.
var ErrMalformedDiff = errors.New("malformed diff")

type wireOp struct {
	Op         string                     `json:"op"`
	Entity     ecs.EntityId               `json:"entity,omitempty"`
	Components map[string]json.RawMessage `json:"components,omitempty"`
	Remove     []string                   `json:"remove,omitempty"`
}

type wireDiff struct {
	Ops []wireOp `json:"ops"`
}

// EncodeDiff renders a diff as JSON, with component values keyed by their
// registered names. Values for the same component within one operation
// collapse to the last one.
func EncodeDiff(reg *ecs.ComponentRegistry, d *ecs.Diff) ([]byte, error) {
	wire := wireDiff{Ops: make([]wireOp, 0, d.Len())}
	for _, op := range d.Ops() {
		w := wireOp{Op: op.Kind.String(), Entity: op.Entity}
		if len(op.Values) > 0 {
			w.Components = make(map[string]json.RawMessage, len(op.Values))
			for _, cv := range op.Values {
				data, err := reg.Marshal(cv.Desc, cv.Value)
				if err != nil {
					return nil, fmt.Errorf("encode %s %s: %w", op.Kind, op.Entity, err)
				}
				w.Components[cv.Desc.Name()] = data
			}
		}
		for _, desc := range op.Components {
			w.Remove = append(w.Remove, desc.Name())
		}
		wire.Ops = append(wire.Ops, w)
	}
	return json.MarshalIndent(wire, "", "  ")
}

// DecodeDiff parses a diff encoded by EncodeDiff. Every component name must be
// registered in reg.
func DecodeDiff(reg *ecs.ComponentRegistry, data []byte) (*ecs.Diff, error) {
	var wire wireDiff
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDiff, err)
	}

	d := ecs.NewDiff()
	for i, w := range wire.Ops {
		op := ecs.Op{Entity: w.Entity}
		switch w.Op {
		case "spawn":
			op.Kind = ecs.OpSpawn
		case "despawn":
			op.Kind = ecs.OpDespawn
		case "set":
			op.Kind = ecs.OpSet
		case "remove":
			op.Kind = ecs.OpRemove
		default:
			return nil, fmt.Errorf("%w: op %d has unknown kind %q", ErrMalformedDiff, i, w.Op)
		}
		if op.Kind != ecs.OpSpawn && op.Entity.IsNull() {
			return nil, fmt.Errorf("%w: op %d (%s) has no entity", ErrMalformedDiff, i, w.Op)
		}

		names := make([]string, 0, len(w.Components))
		for name := range w.Components {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			desc, ok := reg.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("op %d: %w: %s", i, ecs.ErrUnknownComponent, name)
			}
			cv, err := reg.Unmarshal(desc, w.Components[name])
			if err != nil {
				return nil, fmt.Errorf("%w: op %d: %v", ErrMalformedDiff, i, err)
			}
			op.Values = append(op.Values, cv)
		}
		for _, name := range w.Remove {
			desc, ok := reg.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("op %d: %w: %s", i, ecs.ErrUnknownComponent, name)
			}
			op.Components = append(op.Components, desc)
		}
		d.Append(op)
	}
	return d, nil
}
