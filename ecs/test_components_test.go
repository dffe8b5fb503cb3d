package ecs_test

import "github.com/plus3/remoteworld/ecs"

// Common test component types
type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Health struct {
	Current int
	Max     int
}

type Name string

type testComponents struct {
	Position ecs.Component[Position]
	Velocity ecs.Component[Velocity]
	Health   ecs.Component[Health]
	Name     ecs.Component[Name]
	Score    ecs.Component[int]
}

func newTestRegistry() (*ecs.ComponentRegistry, testComponents) {
	registry := ecs.NewComponentRegistry()
	return registry, testComponents{
		Position: ecs.RegisterComponent[Position](registry, "position"),
		Velocity: ecs.RegisterComponent[Velocity](registry, "velocity"),
		Health:   ecs.RegisterComponent[Health](registry, "health"),
		Name:     ecs.RegisterComponent[Name](registry, "name"),
		Score:    ecs.RegisterComponent[int](registry, "score"),
	}
}

func newTestStorage() (*ecs.Storage, testComponents) {
	registry, c := newTestRegistry()
	return ecs.NewStorage(registry), c
}
