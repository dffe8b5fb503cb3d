package ecs

import (
	"iter"
	"slices"
)

// Archetype holds every entity that carries exactly one particular set of
// components. Each component is stored in its own column; all columns and the
// entity column share row numbers.
type Archetype struct {
	id         uint32
	mask       Mask
	components []uint32
	columns    []iComponentStorage
	entities   genericComponentStorage[EntityId]
	count      int
}

// newArchetype creates an archetype for the component set in mask.
func newArchetype(id uint32, mask Mask, registry *ComponentRegistry) *Archetype {
	components := mask.Indices()
	a := &Archetype{
		id:         id,
		mask:       mask,
		components: components,
		columns:    make([]iComponentStorage, len(components)),
	}

	for idx, comp := range components {
		factory := registry.getFactory(comp)
		if factory == nil {
			panic("ecs: component index not registered")
		}
		a.columns[idx] = factory()
	}

	return a
}

// columnIndex returns the column holding comp, or -1.
func (a *Archetype) columnIndex(comp uint32) int {
	idx, ok := slices.BinarySearch(a.components, comp)
	if !ok {
		return -1
	}
	return idx
}

// allocate reserves a row for id. The caller fills every column.
func (a *Archetype) allocate(id EntityId) int {
	a.count++
	return a.entities.Append(id)
}

// release empties a row in every column.
func (a *Archetype) release(row int) {
	for _, col := range a.columns {
		col.Clear(row)
	}
	a.entities.Delete(row)
	a.count--
}

// HasComponent checks if this archetype has the given component.
func (a *Archetype) HasComponent(comp ComponentDesc) bool {
	return a.mask.Has(comp.index)
}

// ID returns the archetype's identifier. Ids follow creation order.
func (a *Archetype) ID() uint32 {
	return a.id
}

// Mask returns the archetype's component set.
func (a *Archetype) Mask() Mask {
	return a.mask
}

// Len returns the number of live entities in the archetype.
func (a *Archetype) Len() int {
	return a.count
}

// compact squeezes empty rows out of every column and returns the row mapping.
func (a *Archetype) compact() map[int]int {
	indexMap := a.entities.Compact()
	for _, col := range a.columns {
		col.Compact()
	}
	return indexMap
}

// Iter returns an iterator over all live entities in this archetype.
func (a *Archetype) Iter() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for row := range a.entities.Iter() {
			if !yield(a.entities.at(row)) {
				return
			}
		}
	}
}
