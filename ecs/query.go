package ecs

import (
	"iter"

	"github.com/kamstrup/intmap"
)

// Query selects entities that carry component T and satisfy a Filter. A Query is
// an immutable description; per-subscriber progress lives in a QueryState.
type Query[T any] struct {
	component Component[T]
	filter    Filter
}

// NewQuery creates a query over every entity carrying component.
func NewQuery[T any](component Component[T]) Query[T] {
	return Query[T]{
		component: component,
		filter:    NewFilter().Incl(component.desc),
	}
}

// Filter returns a copy of the query further restricted by f.
func (q Query[T]) Filter(f Filter) Query[T] {
	for word := range q.filter.include {
		q.filter.include[word] |= f.include[word]
		q.filter.exclude[word] |= f.exclude[word]
	}
	return q
}

// Component returns the component the query reads.
func (q Query[T]) Component() Component[T] {
	return q.component
}

// column returns the typed column for the query's component in a matching
// archetype.
func (q Query[T]) column(a *Archetype) *genericComponentStorage[T] {
	col, ok := a.columns[a.columnIndex(q.component.desc.index)].(*genericComponentStorage[T])
	if !ok {
		panic("ecs: query component " + q.component.desc.name + " does not belong to this storage's registry")
	}
	return col
}

// Iter returns an iterator over every entity currently matching the query,
// without touching any cursor.
func (q Query[T]) Iter(s *Storage) iter.Seq2[EntityId, T] {
	return func(yield func(EntityId, T) bool) {
		for _, a := range s.archetypes {
			if a.count == 0 || !q.filter.Matches(a.mask) {
				continue
			}
			col := q.column(a)
			for row := range a.entities.Iter() {
				if !yield(a.entities.at(row), col.at(row)) {
					return
				}
			}
		}
	}
}

// First returns the lowest-id entity matching the query.
func (q Query[T]) First(s *Storage) (EntityId, T, bool) {
	var (
		bestId  EntityId
		bestVal T
		found   bool
	)
	for id, v := range q.Iter(s) {
		if !found || id < bestId {
			bestId, bestVal, found = id, v, true
		}
	}
	return bestId, bestVal, found
}

// QueryState is the cursor a subscriber keeps between polls: the content
// version it last observed for every entity it has been shown, plus the cached
// list of archetypes that satisfy its query.
type QueryState struct {
	storage    *Storage
	filter     Filter
	archetypes []*Archetype
	scanned    int
	seen       *intmap.Map[EntityId, uint64]
	tracked    []EntityId
	structural uint64
}

// NewQueryState creates an empty cursor.
func NewQueryState() *QueryState {
	return &QueryState{
		seen: intmap.New[EntityId, uint64](64),
	}
}

// Reset forgets everything the cursor has observed. The next poll reports every
// matching entity as changed.
func (qs *QueryState) Reset() {
	qs.storage = nil
	qs.archetypes = nil
	qs.scanned = 0
	qs.seen.Clear()
	qs.tracked = qs.tracked[:0]
	qs.structural = 0
}

// Seen returns the version the cursor last recorded for an entity.
func (qs *QueryState) Seen(id EntityId) (uint64, bool) {
	return qs.seen.Get(id)
}

// Len returns the number of entities the cursor is tracking.
func (qs *QueryState) Len() int {
	return len(qs.tracked)
}

// bind attaches the cursor to a storage and filter, resetting it when either
// differs from the previous poll.
func (qs *QueryState) bind(s *Storage, f Filter) {
	if qs.storage == s && qs.filter == f {
		return
	}
	qs.Reset()
	qs.storage = s
	qs.filter = f
	qs.structural = s.structural
}

// matching returns the archetypes that satisfy the cursor's filter. Archetypes
// are never removed from a store, so only ones created since the last call need
// to be examined.
func (qs *QueryState) matching() []*Archetype {
	all := qs.storage.archetypes
	for ; qs.scanned < len(all); qs.scanned++ {
		if qs.filter.Matches(all[qs.scanned].mask) {
			qs.archetypes = append(qs.archetypes, all[qs.scanned])
		}
	}
	return qs.archetypes
}
