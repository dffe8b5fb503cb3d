package remote

import (
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/session"
)

// slot is the persistent state behind a single-value binding.
type slot[T any] struct {
	entity  ecs.EntityId
	value   T
	ok      bool
	version uint64
	state   BindingState
}

// deliver records a change and reports whether anything differs.
func (s *slot[T]) deliver(entity ecs.EntityId, value T, ok bool, version uint64) bool {
	if s.entity == entity && s.ok == ok && s.version == version {
		return false
	}
	s.entity, s.value, s.ok, s.version = entity, value, ok, version
	s.state = Updated
	return true
}

func (s *slot[T]) clear() bool {
	var zero T
	return s.deliver(ecs.Null, zero, false, 0)
}

// handle renders the slot's current state. A delivered change is reported as
// Updated exactly once.
func (s *slot[T]) handle(sess *session.Session, comp ecs.Component[T]) Handle[T] {
	h := Handle[T]{
		sess:   sess,
		comp:   comp,
		entity: s.entity,
		value:  s.value,
		ok:     s.ok,
		state:  s.state,
	}
	if s.state == Updated {
		s.state = Idle
	}
	return h
}

// UseRemoteComponent binds one component of one entity. The binding follows
// the component's content version, so each write the mirror receives is
// delivered once. Passing a different entity on a later render rebinds.
func UseRemoteComponent[T any](h *hooks.H, sess *session.Session, entity ecs.EntityId, comp ecs.Component[T]) Handle[T] {
	s := hooks.UseRef(h, func() slot[T] { return slot[T]{} })
	observer := h.Observer()

	read := func(world *ecs.Storage, id ecs.EntityId) (T, bool, uint64) {
		var zero T
		if id.IsNull() {
			return zero, false, 0
		}
		version, ok := world.ContentVersion(id, comp.Desc())
		if !ok {
			return zero, false, 0
		}
		value, err := ecs.Get(world, id, comp)
		if err != nil {
			return zero, false, 0
		}
		return value, true, version
	}

	if s.state == Uninitialized || s.entity != entity {
		sess.View(func(world *ecs.Storage) {
			value, ok, version := read(world, entity)
			s.entity, s.value, s.ok, s.version = entity, value, ok, version
		})
		s.state = Subscribed
	}

	hooks.UseFrame(h, func(hooks.FrameEvent) {
		changed := false
		sess.View(func(world *ecs.Storage) {
			value, ok, version := read(world, s.entity)
			changed = s.deliver(s.entity, value, ok, version)
		})
		if changed {
			observer.Invalidate()
		}
	})
	hooks.UseCleanup(h, func() { s.state = TornDown })

	return s.handle(sess, comp)
}
