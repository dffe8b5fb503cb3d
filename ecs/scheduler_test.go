package ecs_test

import (
	"context"
	"testing"
	"time"

	"github.com/plus3/remoteworld/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MovementSystem struct {
	components testComponents
}

func (s *MovementSystem) Execute(frame *ecs.UpdateFrame) {
	q := ecs.NewQuery(s.components.Position).Filter(ecs.NewFilter().Incl(s.components.Velocity.Desc()))
	for id, pos := range q.Iter(frame.Storage) {
		vel, _ := ecs.Get(frame.Storage, id, s.components.Velocity)
		pos.X += vel.DX * float32(frame.DeltaTime)
		pos.Y += vel.DY * float32(frame.DeltaTime)
		frame.Diff.Set(id, s.components.Position.With(pos))
	}
}

type sleepySystem struct {
	executeCount int
	sleepDur     time.Duration
}

func (s *sleepySystem) Execute(frame *ecs.UpdateFrame) {
	s.executeCount++
	time.Sleep(s.sleepDur)
}

func TestSchedulerAppliesQueuedWrites(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Position.With(Position{}), c.Velocity.With(Velocity{DX: 2, DY: 1}))
	still := storage.Spawn(c.Position.With(Position{X: 5}))

	scheduler := ecs.NewScheduler(storage)
	scheduler.Register(&MovementSystem{components: c})

	report := scheduler.Once(1.0)
	assert.Empty(t, report.Skipped)
	assert.Equal(t, []ecs.EntityId{id}, report.Applied.Entities())

	pos, _ := ecs.Get(storage, id, c.Position)
	assert.Equal(t, Position{X: 2, Y: 1}, pos)
	v, _ := storage.ContentVersion(still, c.Position.Desc())
	assert.Equal(t, uint64(1), v)
}

func TestSchedulerWritesAreDeferred(t *testing.T) {
	storage, c := newTestStorage()
	id := storage.Spawn(c.Score.With(1))

	var seen []int
	scheduler := ecs.NewScheduler(storage)
	scheduler.RegisterNamed("writer", ecs.SystemFunc(func(frame *ecs.UpdateFrame) {
		frame.Diff.Set(id, c.Score.With(2))
	}))
	scheduler.RegisterNamed("reader", ecs.SystemFunc(func(frame *ecs.UpdateFrame) {
		score, _ := ecs.Get(frame.Storage, id, c.Score)
		seen = append(seen, score)
	}))

	scheduler.Once(0)
	scheduler.Once(0)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	storage, _ := newTestStorage()
	scheduler := ecs.NewScheduler(storage)
	sys := &sleepySystem{}
	scheduler.Register(sys)

	ctx, cancel := context.WithCancel(context.Background())
	passes := make(chan ecs.ApplyReport, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		scheduler.Run(ctx, time.Millisecond, func(report ecs.ApplyReport) {
			select {
			case passes <- report:
			default:
			}
		})
	}()

	<-passes
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Positive(t, scheduler.GetStats().TotalExecutions)
}

func TestSchedulerStats(t *testing.T) {
	storage, _ := newTestStorage()
	scheduler := ecs.NewScheduler(storage)

	stats := scheduler.GetStats()
	assert.Equal(t, 0, stats.SystemCount)
	assert.Equal(t, int64(0), stats.TotalExecutions)

	sys1 := &sleepySystem{sleepDur: time.Millisecond}
	sys2 := &sleepySystem{sleepDur: 2 * time.Millisecond}
	scheduler.Register(sys1)
	scheduler.Register(sys2)

	for range 3 {
		scheduler.Once(0.016)
	}

	stats = scheduler.GetStats()
	assert.Equal(t, 2, stats.SystemCount)
	assert.Equal(t, int64(6), stats.TotalExecutions)
	require.Len(t, stats.Systems, 2)

	for _, sysStats := range stats.Systems {
		assert.Equal(t, "sleepySystem", sysStats.Name)
		assert.Equal(t, int64(3), sysStats.ExecutionCount)
		assert.Positive(t, sysStats.MinDuration)
		assert.LessOrEqual(t, sysStats.MinDuration, sysStats.AvgDuration)
		assert.LessOrEqual(t, sysStats.AvgDuration, sysStats.MaxDuration)
		assert.Positive(t, sysStats.LastDuration)
		assert.Positive(t, sysStats.TotalDuration)
	}

	assert.Equal(t, 3, sys1.executeCount)
	assert.Equal(t, 3, sys2.executeCount)
}
