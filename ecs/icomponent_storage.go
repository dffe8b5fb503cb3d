package ecs

import "iter"

// iComponentStorage is an interface for a type-erased component column. Rows are
// allocated by the owning archetype; every column of an archetype shares the same
// row numbering.
type iComponentStorage interface {
	Put(index int, item any, version uint64) bool
	Get(index int) any
	Version(index int) uint64
	Clear(index int)
	Has(index int) bool
	Compact() map[int]int
	Iter() iter.Seq[int]
}
