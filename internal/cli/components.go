package cli

import (
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/protocol"
)

// Position is a point in the plane.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Velocity is a change in Position per second.
type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Counter is a plain integer.
type Counter struct {
	Value int `json:"value"`
}

// Components is the component set the tools agree on. Server and clients must
// register the same names.
type Components struct {
	Core     protocol.Components
	Position ecs.Component[Position]
	Velocity ecs.Component[Velocity]
	Counter  ecs.Component[Counter]
	Motd     ecs.Component[string]
}

// RegisterComponents registers the tool component set in reg.
func RegisterComponents(reg *ecs.ComponentRegistry) Components {
	return Components{
		Core:     protocol.Register(reg),
		Position: ecs.RegisterComponent[Position](reg, "position"),
		Velocity: ecs.RegisterComponent[Velocity](reg, "velocity"),
		Counter:  ecs.RegisterComponent[Counter](reg, "counter"),
		Motd:     ecs.RegisterComponent[string](reg, "motd"),
	}
}

// MovementSystem advances every moving entity by its velocity.
type MovementSystem struct {
	Components Components
}

func (m MovementSystem) Execute(frame *ecs.UpdateFrame) {
	c := m.Components
	query := ecs.NewQuery(c.Position).Filter(ecs.NewFilter().Incl(c.Velocity.Desc()))
	for id, pos := range query.Iter(frame.Storage) {
		vel, err := ecs.Get(frame.Storage, id, c.Velocity)
		if err != nil || (vel.X == 0 && vel.Y == 0) {
			continue
		}
		pos.X += vel.X * frame.DeltaTime
		pos.Y += vel.Y * frame.DeltaTime
		frame.Diff.Set(id, c.Position.With(pos))
	}
}
