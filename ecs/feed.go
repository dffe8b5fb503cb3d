package ecs

import "slices"

// Change is one entity reported as changed by a poll.
type Change[T any] struct {
	Entity  EntityId
	Value   T
	Version uint64
}

// Poll is the result of one change-feed poll. The sets are disjoint.
//
//   - Changed holds entities that currently match and whose component version
//     differs from what the cursor last recorded, including first-time matches.
//   - Removed holds previously matched entities that are alive but no longer
//     carry the component.
//   - Despawned holds previously matched entities that no longer exist.
//   - Unmatched holds previously matched entities that still carry the
//     component but no longer satisfy the query's filter.
type Poll[T any] struct {
	Changed   []Change[T]
	Removed   []EntityId
	Despawned []EntityId
	Unmatched []EntityId
}

// Empty reports whether the poll observed nothing.
func (p Poll[T]) Empty() bool {
	return len(p.Changed) == 0 && len(p.Removed) == 0 && len(p.Despawned) == 0 && len(p.Unmatched) == 0
}

// ChangedValue returns the new value for id if it was reported as changed.
func (p Poll[T]) ChangedValue(id EntityId) (T, bool) {
	for _, c := range p.Changed {
		if c.Entity == id {
			return c.Value, true
		}
	}
	var zero T
	return zero, false
}

// Gone reports whether id left the result set in this poll.
func (p Poll[T]) Gone(id EntityId) bool {
	return slices.Contains(p.Removed, id) || slices.Contains(p.Despawned, id) || slices.Contains(p.Unmatched, id)
}

// Poll compares the store against the cursor, returns the delta since the
// cursor's previous poll, and advances the cursor so no version transition is
// reported twice.
//
// Departures are evaluated before changes: an entity that was written and then
// despawned since the last poll shows up only in Despawned. Removal is judged
// on component presence alone; an entity that keeps the component but stops
// satisfying the filter is reported in Unmatched instead, and is reported as
// changed if it matches again later.
func (q Query[T]) Poll(s *Storage, state *QueryState) Poll[T] {
	state.bind(s, q.filter)
	var out Poll[T]

	if state.structural != s.structural {
		kept := state.tracked[:0]
		for _, id := range state.tracked {
			loc, alive := s.entities.Get(id)
			switch {
			case !alive:
				out.Despawned = append(out.Despawned, id)
				state.seen.Del(id)
			case !loc.archetype.mask.Has(q.component.desc.index):
				out.Removed = append(out.Removed, id)
				state.seen.Del(id)
			case !q.filter.Matches(loc.archetype.mask):
				out.Unmatched = append(out.Unmatched, id)
				state.seen.Del(id)
			default:
				kept = append(kept, id)
			}
		}
		state.tracked = kept
		state.structural = s.structural
	}

	for _, a := range state.matching() {
		if a.count == 0 {
			continue
		}
		col := q.column(a)
		for row := range a.entities.Iter() {
			id := a.entities.at(row)
			version := col.Version(row)
			prev, seen := state.seen.Get(id)
			if seen && prev == version {
				continue
			}
			if !seen {
				state.tracked = append(state.tracked, id)
			}
			state.seen.Put(id, version)
			out.Changed = append(out.Changed, Change[T]{Entity: id, Value: col.at(row), Version: version})
		}
	}
	return out
}

// ChangeFeed couples a query with its own cursor.
type ChangeFeed[T any] struct {
	query Query[T]
	state *QueryState
}

// NewChangeFeed creates a feed whose first poll reports every current match.
func NewChangeFeed[T any](query Query[T]) *ChangeFeed[T] {
	return &ChangeFeed[T]{query: query, state: NewQueryState()}
}

// Poll returns the delta since the previous poll.
func (f *ChangeFeed[T]) Poll(s *Storage) Poll[T] {
	return f.query.Poll(s, f.state)
}

// Reset rewinds the feed so the next poll reports every current match again.
func (f *ChangeFeed[T]) Reset() {
	f.state.Reset()
}

// Query returns the feed's query.
func (f *ChangeFeed[T]) Query() Query[T] {
	return f.query
}

// State returns the feed's cursor.
func (f *ChangeFeed[T]) State() *QueryState {
	return f.state
}
