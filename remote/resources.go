package remote

import (
	"github.com/plus3/remoteworld/ecs"
	"github.com/plus3/remoteworld/hooks"
	"github.com/plus3/remoteworld/protocol"
	"github.com/plus3/remoteworld/session"
)

// UseRemotePersistedResource binds comp on the persistent resource entity.
func UseRemotePersistedResource[T any](h *hooks.H, sess *session.Session, comp ecs.Component[T]) Handle[T] {
	return UseRemoteFirstComponent(h, sess, sess.Components().PersistentResources(), Any, comp)
}

// UseRemoteSyncedResource binds comp on the resource entity shared by every
// connection.
func UseRemoteSyncedResource[T any](h *hooks.H, sess *session.Session, comp ecs.Component[T]) Handle[T] {
	return UseRemoteFirstComponent(h, sess, sess.Components().SyncedResources(), Any, comp)
}

// UseRemoteResource binds comp on the resource entity private to this
// connection.
func UseRemoteResource[T any](h *hooks.H, sess *session.Session, comp ecs.Component[T]) Handle[T] {
	own := sess.Welcome().ResourceEntity
	return UseRemoteFirstComponent(h, sess, ecs.NewFilter(), func(_ *ecs.Storage, id ecs.EntityId) bool {
		return id == own
	}, comp)
}

// UsePlayerID returns the entity of this connection's player, or ecs.Null
// while it is not in the mirror.
func UsePlayerID(h *hooks.H, sess *session.Session) ecs.EntityId {
	user := protocol.UserID(sess.Welcome().UserID)
	core := sess.Components()
	player := UseRemoteFirstComponent(h, sess, core.Players(), func(world *ecs.Storage, id ecs.EntityId) bool {
		owner, err := ecs.Get(world, id, core.UserID)
		return err == nil && owner == user
	}, core.UserID)
	return player.Entity()
}

// UseRemotePlayerComponent binds comp on this connection's player. Value
// returns def while the player or the component is missing.
func UseRemotePlayerComponent[T any](h *hooks.H, sess *session.Session, comp ecs.Component[T], def T) Handle[T] {
	player := UsePlayerID(h, sess)
	handle := UseRemoteComponent(h, sess, player, comp)
	handle.fallback = def
	return handle
}
