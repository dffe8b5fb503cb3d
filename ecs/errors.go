package ecs

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSuchEntity is returned when the target entity is not alive.
	ErrNoSuchEntity = errors.New("no such entity")
	// ErrMissingComponent is returned when a live entity lacks the component read.
	ErrMissingComponent = errors.New("entity does not have component")
	// ErrEntityExists is returned when spawning with an id that is already alive.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityRetired is returned when spawning with an id that was despawned.
	ErrEntityRetired = errors.New("entity id was despawned and cannot be reused")
	// ErrIdOutOfRange is returned when spawning with an id above MaxEntityId,
	// or when the store has handed out every id.
	ErrIdOutOfRange = errors.New("entity id out of range")
	// ErrUnknownComponent is returned for descriptors that were not registered.
	ErrUnknownComponent = errors.New("unknown component")
	// ErrComponentType is returned when a value does not match its component's type.
	ErrComponentType = errors.New("component value has wrong type")
)

// EntityError describes a failed store operation against one entity.
type EntityError struct {
	Op        string
	Entity    EntityId
	Component string
	Err       error
}

// Error implements the error interface.
func (e *EntityError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("ecs %s %s/%s: %v", e.Op, e.Entity, e.Component, e.Err)
	}
	return fmt.Sprintf("ecs %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying sentinel.
func (e *EntityError) Unwrap() error {
	return e.Err
}

func entityError(op string, id EntityId, desc ComponentDesc, err error) error {
	return &EntityError{Op: op, Entity: id, Component: desc.name, Err: err}
}
