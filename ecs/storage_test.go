package ecs_test

import (
	"testing"

	"github.com/plus3/remoteworld/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterComponentIsIdempotent(t *testing.T) {
	registry := ecs.NewComponentRegistry()
	a := ecs.RegisterComponent[Position](registry, "position")
	b := ecs.RegisterComponent[Position](registry, "position")
	assert.Equal(t, a.Desc(), b.Desc())
	assert.Len(t, registry.Components(), 1)

	assert.Panics(t, func() {
		ecs.RegisterComponent[Velocity](registry, "position")
	})

	desc, ok := registry.Lookup("position")
	require.True(t, ok)
	assert.Equal(t, a.Desc(), desc)

	_, ok = registry.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryMarshalRoundTrip(t *testing.T) {
	registry, c := newTestRegistry()

	data, err := registry.Marshal(c.Position.Desc(), Position{X: 1, Y: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"X":1,"Y":2}`, string(data))

	cv, err := registry.Unmarshal(c.Position.Desc(), data)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1, Y: 2}, cv.Value)

	_, err = registry.Marshal(c.Position.Desc(), Velocity{})
	assert.ErrorIs(t, err, ecs.ErrComponentType)
}

func TestSpawnStartsAtVersionOne(t *testing.T) {
	storage, c := newTestStorage()

	id := storage.Spawn(c.Position.With(Position{X: 1}), c.Health.With(Health{Current: 10, Max: 10}))
	assert.False(t, id.IsNull())
	assert.True(t, storage.Alive(id))
	assert.Equal(t, 1, storage.Len())

	v, ok := storage.ContentVersion(id, c.Position.Desc())
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	v, ok = storage.ContentVersion(id, c.Health.Desc())
	require.True(t, ok)
	assert.Equal(t, uint64(1), v)

	_, ok = storage.ContentVersion(id, c.Velocity.Desc())
	assert.False(t, ok)
}

func TestSetIncrementsVersion(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))

	for i := 2; i <= 5; i++ {
		require.NoError(t, ecs.Set(storage, id, c.Score, i))
		v, _ := storage.ContentVersion(id, c.Score.Desc())
		assert.Equal(t, uint64(i), v)
	}

	score, err := ecs.Get(storage, id, c.Score)
	require.NoError(t, err)
	assert.Equal(t, 5, score)
}

func TestSetSameValueStillBumpsVersion(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(7))

	require.NoError(t, ecs.Set(storage, id, c.Score, 7))
	v, _ := storage.ContentVersion(id, c.Score.Desc())
	assert.Equal(t, uint64(2), v)
}

func TestSetAttachesMissingComponent(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Position.With(Position{X: 3}))
	require.NoError(t, storage.SetValue(id, c.Velocity.With(Velocity{DX: 1})))

	assert.True(t, storage.Has(id, c.Velocity.Desc()))
	pos, err := ecs.Get(storage, id, c.Position)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 3}, pos)

	v, _ := storage.ContentVersion(id, c.Position.Desc())
	assert.Equal(t, uint64(1), v, "moving archetypes keeps versions")
	v, _ = storage.ContentVersion(id, c.Velocity.Desc())
	assert.Equal(t, uint64(1), v)
}

func TestSetValuesDuplicateComponentWritesOnce(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(0))

	require.NoError(t, storage.SetValues(id, c.Score.With(1), c.Score.With(2)))
	score, _ := ecs.Get(storage, id, c.Score)
	assert.Equal(t, 2, score, "last write wins")
	v, _ := storage.ContentVersion(id, c.Score.Desc())
	assert.Equal(t, uint64(2), v)
}

func TestSetValuesIsAllOrNothing(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))

	err := storage.SetValues(id,
		c.Score.With(2),
		ecs.ComponentValue{Desc: c.Name.Desc(), Value: 42},
	)
	require.ErrorIs(t, err, ecs.ErrComponentType)

	score, _ := ecs.Get(storage, id, c.Score)
	assert.Equal(t, 1, score)
	assert.False(t, storage.Has(id, c.Name.Desc()))
}

func TestSetMissingEntity(t *testing.T) {
	storage, c := newTestStorage()

	err := ecs.Set(storage, ecs.EntityId(99), c.Score, 1)
	require.ErrorIs(t, err, ecs.ErrNoSuchEntity)

	var entityErr *ecs.EntityError
	require.ErrorAs(t, err, &entityErr)
	assert.Equal(t, ecs.EntityId(99), entityErr.Entity)
	assert.Equal(t, "score", entityErr.Component)
}

func TestGetErrors(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))

	_, err := ecs.Get(storage, id, c.Name)
	assert.ErrorIs(t, err, ecs.ErrMissingComponent)

	_, err = ecs.Get(storage, ecs.EntityId(1000), c.Score)
	assert.ErrorIs(t, err, ecs.ErrNoSuchEntity)

	_, err = storage.GetValue(id, c.Name.Desc())
	assert.ErrorIs(t, err, ecs.ErrMissingComponent)
}

func TestRemoveThenReattachContinuesVersion(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1), c.Name.With("a"))
	require.NoError(t, ecs.Set(storage, id, c.Score, 2))

	require.NoError(t, storage.Remove(id, c.Score.Desc()))
	assert.False(t, storage.Has(id, c.Score.Desc()))
	assert.True(t, storage.Alive(id))

	require.NoError(t, ecs.Set(storage, id, c.Score, 3))
	v, _ := storage.ContentVersion(id, c.Score.Desc())
	assert.Equal(t, uint64(3), v)
}

func TestRemoveAbsentComponentIsNoop(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))
	require.NoError(t, storage.Remove(id, c.Name.Desc()))
	assert.Equal(t, []ecs.ComponentDesc{c.Score.Desc()}, storage.ComponentsOf(id))

	assert.ErrorIs(t, storage.Remove(ecs.EntityId(50), c.Score.Desc()), ecs.ErrNoSuchEntity)
}

func TestDespawn(t *testing.T) {
	storage, c := newTestStorage()
	a := storage.Spawn(c.Score.With(1))
	b := storage.Spawn(c.Score.With(2))

	assert.True(t, storage.Despawn(a))
	assert.False(t, storage.Despawn(a))
	assert.False(t, storage.Alive(a))
	assert.True(t, storage.Alive(b))
	assert.Equal(t, 1, storage.Len())

	c2 := storage.Spawn(c.Score.With(3))
	assert.NotEqual(t, a, c2, "ids are never reused")
}

func TestSpawnWithID(t *testing.T) {
	storage, c := newTestStorage()

	require.NoError(t, storage.SpawnWithID(ecs.EntityId(40), c.Score.With(1)))
	assert.ErrorIs(t, storage.SpawnWithID(ecs.EntityId(40), c.Score.With(1)), ecs.ErrEntityExists)
	assert.ErrorIs(t, storage.SpawnWithID(ecs.Null, c.Score.With(1)), ecs.ErrNoSuchEntity)

	next := storage.Spawn(c.Score.With(2))
	assert.Equal(t, ecs.EntityId(41), next)
}

func TestSpawnWithIDRefusesDespawnedId(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))
	feed := ecs.NewChangeFeed(ecs.NewQuery(c.Score))
	feed.Poll(storage)

	require.True(t, storage.Despawn(id))
	err := storage.SpawnWithID(id, c.Score.With(99))
	assert.ErrorIs(t, err, ecs.ErrEntityRetired)
	assert.False(t, storage.Alive(id))

	report := ecs.NewDiff().Spawn(id, c.Score.With(99)).Apply(storage)
	assert.Equal(t, 0, report.Applied.Len())
	require.Len(t, report.Skipped, 1)
	assert.ErrorIs(t, report.Skipped[0], ecs.ErrEntityRetired)

	poll := feed.Poll(storage)
	assert.Empty(t, poll.Changed)
	assert.Equal(t, []ecs.EntityId{id}, poll.Despawned)
}

func TestSpawnWithIDNearCounterLimit(t *testing.T) {
	storage, c := newTestStorage()

	err := storage.SpawnWithID(ecs.EntityId(1<<64-1), c.Score.With(1))
	assert.ErrorIs(t, err, ecs.ErrIdOutOfRange)
	assert.Equal(t, 0, storage.Len())

	next := storage.Spawn(c.Score.With(2))
	assert.Equal(t, ecs.EntityId(1), next)

	require.NoError(t, storage.SpawnWithID(ecs.MaxEntityId, c.Score.With(3)))
	assert.Panics(t, func() { storage.Spawn(c.Score.With(4)) })

	report := ecs.NewDiff().Spawn(ecs.Null, c.Score.With(5)).Apply(storage)
	assert.Equal(t, 0, report.Applied.Len())
	require.Len(t, report.Skipped, 1)
	assert.ErrorIs(t, report.Skipped[0], ecs.ErrIdOutOfRange)
	assert.Equal(t, 2, storage.Len())
}

func TestSpawnPanicsOnWrongType(t *testing.T) {
	storage, c := newTestStorage()
	assert.Panics(t, func() {
		storage.Spawn(ecs.ComponentValue{Desc: c.Score.Desc(), Value: "nope"})
	})
}

func TestMatchesFilter(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Position.With(Position{}), c.Velocity.With(Velocity{}))

	assert.True(t, storage.Matches(id, ecs.NewFilter().Incl(c.Position.Desc())))
	assert.False(t, storage.Matches(id, ecs.NewFilter().Incl(c.Position.Desc()).Excl(c.Velocity.Desc())))
	assert.False(t, storage.Matches(ecs.EntityId(77), ecs.NewFilter()))
}

func TestCompactPreservesVersions(t *testing.T) {
	storage, c := newTestStorage()
	var ids []ecs.EntityId
	for i := range 100 {
		ids = append(ids, storage.Spawn(c.Score.With(i)))
	}
	for i, id := range ids {
		if i%3 == 0 {
			storage.Despawn(id)
		}
	}
	require.NoError(t, ecs.Set(storage, ids[1], c.Score, 1000))

	storage.Compact()

	for i, id := range ids {
		if i%3 == 0 {
			assert.False(t, storage.Alive(id))
			continue
		}
		score, err := ecs.Get(storage, id, c.Score)
		require.NoError(t, err)
		if i == 1 {
			assert.Equal(t, 1000, score)
			v, _ := storage.ContentVersion(id, c.Score.Desc())
			assert.Equal(t, uint64(2), v)
		} else {
			assert.Equal(t, i, score)
		}
	}
}

func TestCollectStats(t *testing.T) {
	storage, c := newTestStorage()

	stats := storage.CollectStats()
	assert.Equal(t, 0, stats.ArchetypeCount)
	assert.Equal(t, 0, stats.TotalEntityCount)

	storage.Spawn(c.Score.With(1), c.Name.With("a"))
	storage.Spawn(c.Score.With(2), c.Name.With("b"))
	storage.Spawn(c.Position.With(Position{}))

	stats = storage.CollectStats()
	assert.Equal(t, 2, stats.ArchetypeCount)
	assert.Equal(t, 3, stats.TotalEntityCount)
	require.Len(t, stats.ArchetypeBreakdown, 2)
	assert.Equal(t, 2, stats.ArchetypeBreakdown[0].EntityCount)
	assert.ElementsMatch(t, []string{"score", "name"}, stats.ArchetypeBreakdown[0].ComponentTypes)
	assert.Equal(t, 1, stats.ArchetypeBreakdown[1].EntityCount)
}
