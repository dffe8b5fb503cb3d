package ecs

import "strconv"

// EntityId identifies an entity within a Storage. Ids are handed out by a
// monotonic counter and are never reused, so an id that has been despawned
// stays invalid for the lifetime of the store.
type EntityId uint64

// Null is the sentinel id. No live entity ever carries it.
const Null EntityId = 0

// MaxEntityId is the largest id a store accepts.
const MaxEntityId EntityId = 1<<64 - 2

// IsNull reports whether the id is the null sentinel.
func (e EntityId) IsNull() bool {
	return e == Null
}

func (e EntityId) String() string {
	if e == Null {
		return "null"
	}
	return "e" + strconv.FormatUint(uint64(e), 10)
}

// entityLocation records where an entity's components live.
type entityLocation struct {
	archetype *Archetype
	row       int
}
