package remote

import (
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/session"
)

// Predicate decides whether a matching entity qualifies for a first-match
// binding. It runs under the session lock and must not call back into the
// session.
type Predicate func(world *ecs.Storage, id ecs.EntityId) bool

// Any accepts every entity.
func Any(*ecs.Storage, ecs.EntityId) bool {
	return true
}

type firstSlot[T any] struct {
	slot[T]
	filter ecs.Filter
	query  ecs.Query[T]
	feed   *ecs.ChangeFeed[T]
}

// retarget points the slot at a new filter and drops the current binding.
func (s *firstSlot[T]) retarget(comp ecs.Component[T], filter ecs.Filter) {
	s.filter = filter
	s.query = ecs.NewQuery(comp).Filter(filter)
	s.feed = ecs.NewChangeFeed(s.query)
	s.clear()
}

// acquire binds the lowest-id entity that has comp, satisfies filter, and
// passes pred. It reports whether one was found.
func (s *firstSlot[T]) acquire(world *ecs.Storage, pred Predicate) bool {
	best := ecs.Null
	var value T
	for id, v := range s.query.Iter(world) {
		if (best.IsNull() || id < best) && pred(world, id) {
			best, value = id, v
		}
	}
	if best.IsNull() {
		return false
	}
	version, _ := world.ContentVersion(best, s.query.Component().Desc())
	s.deliver(best, value, true, version)

	s.feed.Reset()
	s.feed.Poll(world)
	return true
}

// step advances a bound or unbound slot by one tick and reports whether the
// observer has something new to render.
func (s *firstSlot[T]) step(world *ecs.Storage, pred Predicate) bool {
	if s.entity.IsNull() {
		return s.acquire(world, pred)
	}

	poll := s.feed.Poll(world)
	if poll.Gone(s.entity) || !world.Alive(s.entity) || !pred(world, s.entity) {
		s.feed.Reset()
		return s.clear()
	}
	if change, ok := changeFor(poll, s.entity); ok {
		return s.deliver(s.entity, change.Value, true, change.Version)
	}
	return false
}

func changeFor[T any](poll ecs.Poll[T], id ecs.EntityId) (ecs.Change[T], bool) {
	for _, c := range poll.Changed {
		if c.Entity == id {
			return c, true
		}
	}
	return ecs.Change[T]{}, false
}

// UseRemoteFirstComponent binds comp on the first entity, by lowest id, that
// satisfies filter and pred. Once bound it stays on that entity while it keeps
// qualifying. When the entity despawns, loses the component, or stops
// qualifying, the binding clears to empty on that tick and looks for a new
// match from the next tick on. Passing a different filter on a later render
// drops the binding and searches again under the new filter.
func UseRemoteFirstComponent[T any](h *hooks.H, sess *session.Session, filter ecs.Filter, pred Predicate, comp ecs.Component[T]) Handle[T] {
	if pred == nil {
		pred = Any
	}
	s := hooks.UseRef(h, func() firstSlot[T] {
		query := ecs.NewQuery(comp).Filter(filter)
		return firstSlot[T]{filter: filter, query: query, feed: ecs.NewChangeFeed(query)}
	})
	observer := h.Observer()

	if s.state != Uninitialized && s.filter != filter {
		s.retarget(comp, filter)
		s.state = Uninitialized
	}
	if s.state == Uninitialized {
		sess.View(func(world *ecs.Storage) {
			s.acquire(world, pred)
		})
		s.state = Subscribed
	}

	hooks.UseFrame(h, func(hooks.FrameEvent) {
		var changed bool
		sess.View(func(world *ecs.Storage) {
			changed = s.step(world, pred)
		})
		if changed {
			observer.Invalidate()
		}
	})
	hooks.UseCleanup(h, func() {
		s.state = TornDown
		s.feed.Reset()
	})

	return s.handle(sess, comp)
}
