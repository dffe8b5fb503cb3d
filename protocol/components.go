// Package protocol defines what a remote authority and its mirrors agree on:
// the tag components that classify resource entities, the connection
// handshake, procedure names, and the wire form of a diff.
package protocol

import "github.com/plus3/remoteworld/ecs"

// PersistentResource tags a resource entity whose components outlive the
// authority process.
type PersistentResource struct{}

// SyncedResource tags a resource entity shared by every connection for the
// lifetime of the authority.
type SyncedResource struct{}

// ConnectionResource marks the resource entity private to one connection.
type ConnectionResource struct {
	ConnectionID string `json:"connection_id"`
}

// Player tags the entity that represents a connected user.
type Player struct{}

// UserID names the user an entity belongs to.
type UserID string

// Components holds the handles of the core components. Both ends of a
// connection register them, in the same order, before any other component.
type Components struct {
	PersistentResource ecs.Component[PersistentResource]
	SyncedResource     ecs.Component[SyncedResource]
	ConnectionResource ecs.Component[ConnectionResource]
	Player             ecs.Component[Player]
	UserID             ecs.Component[UserID]
}

// Register adds the core components to reg.
func Register(reg *ecs.ComponentRegistry) Components {
	return Components{
		PersistentResource: ecs.RegisterComponent[PersistentResource](reg, "persistent_resource"),
		SyncedResource:     ecs.RegisterComponent[SyncedResource](reg, "synced_resource"),
		ConnectionResource: ecs.RegisterComponent[ConnectionResource](reg, "connection_resource"),
		Player:             ecs.RegisterComponent[Player](reg, "player"),
		UserID:             ecs.RegisterComponent[UserID](reg, "user_id"),
	}
}

// PersistentResources selects entities tagged as persistent resources.
func (c Components) PersistentResources() ecs.Filter {
	return ecs.NewFilter().Incl(c.PersistentResource.Desc())
}

// SyncedResources selects entities tagged as synced resources.
func (c Components) SyncedResources() ecs.Filter {
	return ecs.NewFilter().Incl(c.SyncedResource.Desc())
}

// Players selects player entities.
func (c Components) Players() ecs.Filter {
	return ecs.NewFilter().Incl(c.Player.Desc(), c.UserID.Desc())
}
