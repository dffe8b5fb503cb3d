package remote

import (
	"cmp"
	"slices"

	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/session"
)

// UseRemoteWorldSystem runs system against the mirror once per tick. The
// system reads the mirror through frame.Storage; the writes it queues on
// frame.Diff are submitted to the authority rather than applied locally.
func UseRemoteWorldSystem(h *hooks.H, sess *session.Session, system ecs.System) {
	hooks.UseFrame(h, func(ev hooks.FrameEvent) {
		var diff *ecs.Diff
		sess.View(func(world *ecs.Storage) {
			frame := &ecs.UpdateFrame{DeltaTime: ev.DeltaTime, Diff: ecs.NewDiff(), Storage: world}
			system.Execute(frame)
			diff = frame.Diff
		})
		if diff.Len() > 0 {
			sess.SubmitDiff(diff)
		}
	})
}

type manySlot[T any] struct {
	feed    *ecs.ChangeFeed[T]
	entries map[ecs.EntityId]ecs.Change[T]
	state   BindingState
}

func (s *manySlot[T]) absorb(poll ecs.Poll[T]) bool {
	if poll.Empty() {
		return false
	}
	for _, id := range poll.Despawned {
		delete(s.entries, id)
	}
	for _, id := range poll.Removed {
		delete(s.entries, id)
	}
	for _, id := range poll.Unmatched {
		delete(s.entries, id)
	}
	for _, c := range poll.Changed {
		s.entries[c.Entity] = c
	}
	return true
}

// UseRemoteComponents binds comp on every entity that satisfies filter. The
// handles are ordered by entity id. Entities that despawn, lose the
// component, or stop satisfying filter drop out on the tick that notices.
func UseRemoteComponents[T any](h *hooks.H, sess *session.Session, filter ecs.Filter, comp ecs.Component[T]) []Handle[T] {
	s := hooks.UseRef(h, func() manySlot[T] {
		return manySlot[T]{
			feed:    ecs.NewChangeFeed(ecs.NewQuery(comp).Filter(filter)),
			entries: make(map[ecs.EntityId]ecs.Change[T]),
		}
	})
	observer := h.Observer()

	if s.state == Uninitialized {
		sess.View(func(world *ecs.Storage) {
			s.absorb(s.feed.Poll(world))
		})
		s.state = Subscribed
	}

	hooks.UseFrame(h, func(hooks.FrameEvent) {
		var changed bool
		sess.View(func(world *ecs.Storage) {
			changed = s.absorb(s.feed.Poll(world))
		})
		if changed {
			s.state = Updated
			observer.Invalidate()
		}
	})
	hooks.UseCleanup(h, func() {
		s.state = TornDown
		s.feed.Reset()
		clear(s.entries)
	})

	state := s.state
	if s.state == Updated {
		s.state = Idle
	}
	handles := make([]Handle[T], 0, len(s.entries))
	for id, c := range s.entries {
		handles = append(handles, Handle[T]{
			sess:   sess,
			comp:   comp,
			entity: id,
			value:  c.Value,
			ok:     true,
			state:  state,
		})
	}
	slices.SortFunc(handles, func(a, b Handle[T]) int {
		return cmp.Compare(a.entity, b.entity)
	})
	return handles
}
