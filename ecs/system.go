package ecs

// System represents a behavior that operates on entities with specific components.
// Systems can keep state between frames, such as a ChangeFeed cursor, in their
// own fields.
type System interface {
	Execute(frame *UpdateFrame)
}

// SystemFunc adapts a plain function to the System interface.
type SystemFunc func(frame *UpdateFrame)

// Execute calls f(frame).
func (f SystemFunc) Execute(frame *UpdateFrame) {
	f(frame)
}
