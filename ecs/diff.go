package ecs

import "slices"

// OpKind identifies the kind of a diff operation.
type OpKind uint8

const (
	// OpSpawn creates an entity. A null entity lets the applying store pick the id.
	OpSpawn OpKind = iota + 1
	// OpDespawn removes an entity.
	OpDespawn
	// OpSet writes component values, attaching components the entity lacks.
	OpSet
	// OpRemove detaches components.
	OpRemove
)

func (k OpKind) String() string {
	switch k {
	case OpSpawn:
		return "spawn"
	case OpDespawn:
		return "despawn"
	case OpSet:
		return "set"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Op is a single diff operation.
type Op struct {
	Kind       OpKind
	Entity     EntityId
	Values     []ComponentValue
	Components []ComponentDesc
}

// Diff is an ordered batch of operations applied to a store as a unit.
type Diff struct {
	ops []Op
}

// NewDiff creates an empty diff.
func NewDiff() *Diff {
	return &Diff{}
}

// Spawn queues an entity spawn. Pass Null to let the target store assign the id.
func (d *Diff) Spawn(id EntityId, values ...ComponentValue) *Diff {
	d.ops = append(d.ops, Op{Kind: OpSpawn, Entity: id, Values: values})
	return d
}

// Despawn queues an entity removal.
func (d *Diff) Despawn(id EntityId) *Diff {
	d.ops = append(d.ops, Op{Kind: OpDespawn, Entity: id})
	return d
}

// Set queues component writes on an entity.
func (d *Diff) Set(id EntityId, values ...ComponentValue) *Diff {
	d.ops = append(d.ops, Op{Kind: OpSet, Entity: id, Values: values})
	return d
}

// Remove queues component removals on an entity.
func (d *Diff) Remove(id EntityId, components ...ComponentDesc) *Diff {
	d.ops = append(d.ops, Op{Kind: OpRemove, Entity: id, Components: components})
	return d
}

// Append adds a prepared operation.
func (d *Diff) Append(op Op) {
	d.ops = append(d.ops, op)
}

// Ops returns the operations in application order.
func (d *Diff) Ops() []Op {
	return d.ops
}

// Len returns the number of operations.
func (d *Diff) Len() int {
	return len(d.ops)
}

// Entities returns the distinct entities the diff touches, in first-touch order.
func (d *Diff) Entities() []EntityId {
	var out []EntityId
	for _, op := range d.ops {
		if !op.Entity.IsNull() && !slices.Contains(out, op.Entity) {
			out = append(out, op.Entity)
		}
	}
	return out
}

// ApplyReport describes the outcome of applying a diff.
type ApplyReport struct {
	// Applied holds the operations that took effect, with store-assigned ids
	// filled in for spawns.
	Applied *Diff
	// Skipped holds one error per operation that could not be applied.
	Skipped []error
}

// Apply runs every operation against s in order. An operation that fails, for
// instance because its entity is gone, is skipped and recorded; it never stops
// later operations from applying.
func (d *Diff) Apply(s *Storage) ApplyReport {
	report := ApplyReport{Applied: NewDiff()}
	for _, op := range d.ops {
		var err error
		switch op.Kind {
		case OpSpawn:
			if op.Entity.IsNull() {
				op.Entity = s.nextID()
			}
			err = s.SpawnWithID(op.Entity, op.Values...)
		case OpDespawn:
			if !s.Despawn(op.Entity) {
				err = entityError("despawn", op.Entity, ComponentDesc{}, ErrNoSuchEntity)
			}
		case OpSet:
			err = s.SetValues(op.Entity, op.Values...)
		case OpRemove:
			err = s.Remove(op.Entity, op.Components...)
		default:
			continue
		}
		if err != nil {
			report.Skipped = append(report.Skipped, err)
			continue
		}
		report.Applied.Append(op)
	}
	return report
}

// Snapshot renders the whole store as a diff of spawns in id order. Applying it
// to an empty store reproduces every entity under the same id.
func (s *Storage) Snapshot() *Diff {
	ids := make([]EntityId, 0, s.Len())
	for _, a := range s.archetypes {
		for id := range a.Iter() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	d := NewDiff()
	for _, id := range ids {
		loc, _ := s.entities.Get(id)
		a := loc.archetype
		values := make([]ComponentValue, 0, len(a.components))
		for i, comp := range a.components {
			values = append(values, ComponentValue{
				Desc:  s.registry.components[comp].desc,
				Value: a.columns[i].Get(loc.row),
			})
		}
		d.Spawn(id, values...)
	}
	return d
}
