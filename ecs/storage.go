package ecs

import (
	"reflect"

	"github.com/kamstrup/intmap"
)

// Storage is the versioned entity/component store. Every component value carries
// a content version that starts at 1 when the component is first attached and
// grows by exactly one on each overwrite. Reads never touch versions.
//
// Storage is not safe for concurrent use; owners guard it with their own lock.
type Storage struct {
	registry   *ComponentRegistry
	archetypes []*Archetype
	byMask     map[Mask]*Archetype
	entities   *intmap.Map[EntityId, entityLocation]
	retired    map[EntityId]map[uint32]uint64
	dead       *intmap.Map[EntityId, struct{}]
	nextId     EntityId
	structural uint64
}

// NewStorage creates a new store using the given component registry.
func NewStorage(registry *ComponentRegistry) *Storage {
	return &Storage{
		registry: registry,
		byMask:   make(map[Mask]*Archetype),
		entities: intmap.New[EntityId, entityLocation](256),
		retired:  make(map[EntityId]map[uint32]uint64),
		dead:     intmap.New[EntityId, struct{}](64),
	}
}

// Registry returns the store's component registry.
func (s *Storage) Registry() *ComponentRegistry {
	return s.registry
}

func (s *Storage) archetypeFor(mask Mask) *Archetype {
	if a, ok := s.byMask[mask]; ok {
		return a
	}
	a := newArchetype(uint32(len(s.archetypes)+1), mask, s.registry)
	s.archetypes = append(s.archetypes, a)
	s.byMask[mask] = a
	return a
}

func (s *Storage) checkValue(op string, id EntityId, cv ComponentValue) error {
	typ := s.registry.Type(cv.Desc)
	if typ == nil {
		return entityError(op, id, cv.Desc, ErrUnknownComponent)
	}
	if reflect.TypeOf(cv.Value) != typ {
		return entityError(op, id, cv.Desc, ErrComponentType)
	}
	return nil
}

// Spawn creates a new entity with the provided components. It panics if a value
// does not match its component's registered type or the id space is used up.
func (s *Storage) Spawn(values ...ComponentValue) EntityId {
	id := s.nextID()
	if err := s.SpawnWithID(id, values...); err != nil {
		panic(err)
	}
	return id
}

// SpawnWithID creates an entity under an id chosen by the caller, typically one
// assigned by a remote authority. The store's own counter moves past id. An id
// that this store has despawned is refused.
func (s *Storage) SpawnWithID(id EntityId, values ...ComponentValue) error {
	switch {
	case id.IsNull():
		return entityError("spawn", id, ComponentDesc{}, ErrNoSuchEntity)
	case id > MaxEntityId:
		return entityError("spawn", id, ComponentDesc{}, ErrIdOutOfRange)
	case s.entities.Has(id):
		return entityError("spawn", id, ComponentDesc{}, ErrEntityExists)
	case s.dead.Has(id):
		return entityError("spawn", id, ComponentDesc{}, ErrEntityRetired)
	}
	var mask Mask
	for _, cv := range values {
		if err := s.checkValue("spawn", id, cv); err != nil {
			return err
		}
		mask.set(cv.Desc.index)
	}

	a := s.archetypeFor(mask)
	row := a.allocate(id)
	for _, cv := range values {
		a.columns[a.columnIndex(cv.Desc.index)].Put(row, cv.Value, 1)
	}
	s.entities.Put(id, entityLocation{archetype: a, row: row})
	if id > s.nextId {
		s.nextId = id
	}
	return nil
}

// nextID returns the id the counter hands out next, or an id above
// MaxEntityId once the counter is exhausted. It never wraps to Null.
func (s *Storage) nextID() EntityId {
	if s.nextId >= MaxEntityId {
		return MaxEntityId + 1
	}
	return s.nextId + 1
}

// Despawn removes an entity and all its components. It returns false if the
// entity was not alive.
func (s *Storage) Despawn(id EntityId) bool {
	loc, ok := s.entities.Get(id)
	if !ok {
		return false
	}
	loc.archetype.release(loc.row)
	s.entities.Del(id)
	s.dead.Put(id, struct{}{})
	delete(s.retired, id)
	s.structural++
	return true
}

// Alive reports whether the entity exists.
func (s *Storage) Alive(id EntityId) bool {
	return s.entities.Has(id)
}

// Len returns the number of live entities.
func (s *Storage) Len() int {
	return s.entities.Len()
}

// SetValue writes a single component value; see SetValues.
func (s *Storage) SetValue(id EntityId, cv ComponentValue) error {
	return s.SetValues(id, cv)
}

// SetValues writes component values on an existing entity, attaching any the
// entity lacks. Each written component's version grows by one. Either every
// value is written or, if the entity is missing or a value is ill-typed, none.
func (s *Storage) SetValues(id EntityId, values ...ComponentValue) error {
	loc, ok := s.entities.Get(id)
	if !ok {
		var desc ComponentDesc
		if len(values) > 0 {
			desc = values[0].Desc
		}
		return entityError("set", id, desc, ErrNoSuchEntity)
	}

	mask := loc.archetype.mask
	for _, cv := range values {
		if err := s.checkValue("set", id, cv); err != nil {
			return err
		}
		mask.set(cv.Desc.index)
	}

	if mask != loc.archetype.mask {
		loc = s.move(id, loc, mask)
	}

	a := loc.archetype
	var written Mask
	for i := len(values) - 1; i >= 0; i-- {
		cv := values[i]
		if written.Has(cv.Desc.index) {
			continue
		}
		written.set(cv.Desc.index)
		col := a.columns[a.columnIndex(cv.Desc.index)]
		version := col.Version(loc.row)
		if version == 0 {
			version = s.takeRetired(id, cv.Desc.index)
		}
		col.Put(loc.row, cv.Value, version+1)
	}
	return nil
}

// Remove detaches components from an entity. Components the entity lacks are
// ignored. The removed pairs keep their version count so that re-attaching
// continues from it.
func (s *Storage) Remove(id EntityId, components ...ComponentDesc) error {
	loc, ok := s.entities.Get(id)
	if !ok {
		var desc ComponentDesc
		if len(components) > 0 {
			desc = components[0]
		}
		return entityError("remove", id, desc, ErrNoSuchEntity)
	}

	mask := loc.archetype.mask
	for _, c := range components {
		if !mask.Has(c.index) {
			continue
		}
		col := loc.archetype.columns[loc.archetype.columnIndex(c.index)]
		s.retire(id, c.index, col.Version(loc.row))
		mask.unset(c.index)
	}
	if mask == loc.archetype.mask {
		return nil
	}
	s.move(id, loc, mask)
	return nil
}

// move transfers an entity to the archetype for mask, carrying over the values
// and versions of every component the two archetypes share.
func (s *Storage) move(id EntityId, from entityLocation, mask Mask) entityLocation {
	target := s.archetypeFor(mask)
	row := target.allocate(id)
	src := from.archetype
	for i, comp := range target.components {
		srcCol := src.columnIndex(comp)
		if srcCol < 0 {
			continue
		}
		col := src.columns[srcCol]
		target.columns[i].Put(row, col.Get(from.row), col.Version(from.row))
	}
	src.release(from.row)

	loc := entityLocation{archetype: target, row: row}
	s.entities.Put(id, loc)
	s.structural++
	return loc
}

func (s *Storage) retire(id EntityId, comp uint32, version uint64) {
	r, ok := s.retired[id]
	if !ok {
		r = make(map[uint32]uint64)
		s.retired[id] = r
	}
	r[comp] = version
}

func (s *Storage) takeRetired(id EntityId, comp uint32) uint64 {
	r, ok := s.retired[id]
	if !ok {
		return 0
	}
	v := r[comp]
	delete(r, comp)
	if len(r) == 0 {
		delete(s.retired, id)
	}
	return v
}

// GetValue returns the untyped value of a component.
func (s *Storage) GetValue(id EntityId, desc ComponentDesc) (any, error) {
	loc, ok := s.entities.Get(id)
	if !ok {
		return nil, entityError("get", id, desc, ErrNoSuchEntity)
	}
	idx := loc.archetype.columnIndex(desc.index)
	if idx < 0 {
		return nil, entityError("get", id, desc, ErrMissingComponent)
	}
	return loc.archetype.columns[idx].Get(loc.row), nil
}

// Has reports whether a live entity carries the component.
func (s *Storage) Has(id EntityId, desc ComponentDesc) bool {
	loc, ok := s.entities.Get(id)
	if !ok {
		return false
	}
	return loc.archetype.mask.Has(desc.index)
}

// ContentVersion returns the version of a component on an entity. The second
// result is false when the entity is gone or lacks the component.
func (s *Storage) ContentVersion(id EntityId, desc ComponentDesc) (uint64, bool) {
	loc, ok := s.entities.Get(id)
	if !ok {
		return 0, false
	}
	idx := loc.archetype.columnIndex(desc.index)
	if idx < 0 {
		return 0, false
	}
	return loc.archetype.columns[idx].Version(loc.row), true
}

// Matches reports whether a live entity's current component set satisfies f.
func (s *Storage) Matches(id EntityId, f Filter) bool {
	loc, ok := s.entities.Get(id)
	if !ok {
		return false
	}
	return f.Matches(loc.archetype.mask)
}

// ComponentsOf lists the components an entity carries, in index order.
func (s *Storage) ComponentsOf(id EntityId) []ComponentDesc {
	loc, ok := s.entities.Get(id)
	if !ok {
		return nil
	}
	out := make([]ComponentDesc, 0, len(loc.archetype.components))
	for _, comp := range loc.archetype.components {
		out = append(out, s.registry.components[comp].desc)
	}
	return out
}

// Archetypes returns every archetype in creation order.
func (s *Storage) Archetypes() []*Archetype {
	out := make([]*Archetype, len(s.archetypes))
	copy(out, s.archetypes)
	return out
}

// Compact reorganizes every archetype to eliminate empty rows. Entity ids and
// content versions are unaffected.
func (s *Storage) Compact() {
	for _, a := range s.archetypes {
		indexMap := a.compact()
		for _, newRow := range indexMap {
			s.entities.Put(a.entities.at(newRow), entityLocation{archetype: a, row: newRow})
		}
	}
}

// Get returns the typed value of a component on an entity.
func Get[T any](s *Storage, id EntityId, comp Component[T]) (T, error) {
	var zero T
	loc, ok := s.entities.Get(id)
	if !ok {
		return zero, entityError("get", id, comp.desc, ErrNoSuchEntity)
	}
	idx := loc.archetype.columnIndex(comp.desc.index)
	if idx < 0 {
		return zero, entityError("get", id, comp.desc, ErrMissingComponent)
	}
	col, ok := loc.archetype.columns[idx].(*genericComponentStorage[T])
	if !ok {
		return zero, entityError("get", id, comp.desc, ErrComponentType)
	}
	return col.at(loc.row), nil
}

// Set writes a typed component value on an existing entity.
func Set[T any](s *Storage, id EntityId, comp Component[T], value T) error {
	return s.SetValues(id, comp.With(value))
}
