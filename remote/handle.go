// Package remote binds observers to a session's mirrored world.
//
// Every binding is a hook: it must be called from an observer's render, in the
// same position on every render, with the session passed explicitly. Bindings
// fetch their initial value synchronously on the first render and poll the
// mirror once per tick afterwards; an observer re-renders only on ticks where a
// binding saw a relevant change. Setters never update the local mirror. They
// submit a diff to the authority, and the value changes once that diff comes
// back through the mirror.
package remote

import (
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/session"
)

// BindingState is the lifecycle state of a binding slot.
type BindingState uint8

const (
	// Uninitialized bindings have not rendered yet.
	Uninitialized BindingState = iota
	// Subscribed bindings hold their initial value and have not seen a change.
	Subscribed
	// Updated bindings are delivering a change in the current render.
	Updated
	// Idle bindings delivered their last change in an earlier render.
	Idle
	// TornDown bindings belong to an unmounted observer.
	TornDown
)

func (s BindingState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Subscribed:
		return "subscribed"
	case Updated:
		return "updated"
	case Idle:
		return "idle"
	case TornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// Handle is the current value of a bound component and the means to change it.
type Handle[T any] struct {
	sess     *session.Session
	comp     ecs.Component[T]
	entity   ecs.EntityId
	value    T
	ok       bool
	state    BindingState
	fallback T
}

// Entity returns the bound entity, or ecs.Null when nothing is bound.
func (h Handle[T]) Entity() ecs.EntityId {
	return h.entity
}

// Get returns the bound value. ok is false when the entity is unbound or
// lacks the component.
func (h Handle[T]) Get() (value T, ok bool) {
	return h.value, h.ok
}

// Value returns the bound value, or the binding's default when there is none.
func (h Handle[T]) Value() T {
	if !h.ok {
		return h.fallback
	}
	return h.value
}

// Ok reports whether a value is bound.
func (h Handle[T]) Ok() bool {
	return h.ok
}

// State returns the binding's lifecycle state as of this render.
func (h Handle[T]) State() BindingState {
	return h.state
}

// Set asks the authority to write value on the bound entity.
func (h Handle[T]) Set(value T) {
	if !h.writable("set") {
		return
	}
	h.sess.SubmitDiff(ecs.NewDiff().Set(h.entity, h.comp.With(value)))
}

// Remove asks the authority to detach the component from the bound entity.
func (h Handle[T]) Remove() {
	if !h.writable("remove") {
		return
	}
	h.sess.SubmitDiff(ecs.NewDiff().Remove(h.entity, h.comp.Desc()))
}

// Put sets *value, or removes the component when value is nil.
func (h Handle[T]) Put(value *T) {
	if value == nil {
		h.Remove()
		return
	}
	h.Set(*value)
}

func (h Handle[T]) writable(op string) bool {
	if h.sess == nil {
		return false
	}
	if h.entity.IsNull() {
		h.sess.Logger().Debug("ignoring write to unbound component", "op", op, "component", h.comp.Name())
		return false
	}
	return true
}
