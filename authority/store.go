package authority

import (
	"context"
	"fmt"

	"github.com/plus3/remoteworld/ecs"
)

// Store persists the components of persistent-resource entities.
type Store interface {
	// LoadEntities returns every stored entity with its encoded components,
	// keyed by component name.
	LoadEntities(ctx context.Context) (map[ecs.EntityId]map[string][]byte, error)
	// SaveEntity replaces the stored components of an entity.
	SaveEntity(ctx context.Context, id ecs.EntityId, components map[string][]byte) error
	// DeleteEntity forgets an entity.
	DeleteEntity(ctx context.Context, id ecs.EntityId) error
}

// Restore spawns every entity in the server's store. Components whose names
// are no longer registered are skipped. It returns the number of entities
// restored.
func (s *Server) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	stored, err := s.store.LoadEntities(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	restored := 0
	for id, components := range stored {
		values := make([]ecs.ComponentValue, 0, len(components))
		for name, data := range components {
			desc, ok := s.registry.Lookup(name)
			if !ok {
				s.logger.Warn("skipping unregistered stored component", "entity", id, "component", name)
				continue
			}
			cv, err := s.registry.Unmarshal(desc, data)
			if err != nil {
				return restored, fmt.Errorf("restore %s/%s: %w", id, name, err)
			}
			values = append(values, cv)
		}
		if err := s.world.SpawnWithID(id, values...); err != nil {
			return restored, fmt.Errorf("restore: %w", err)
		}
		s.persisted[id] = true
		restored++
	}
	s.logger.Info("restored persistent entities", "count", restored)
	return restored, nil
}

// persistLocked writes every persistent entity the diff touched and forgets
// the ones that stopped being persistent.
func (s *Server) persistLocked(ctx context.Context, applied *ecs.Diff) {
	if s.store == nil {
		return
	}
	for _, id := range applied.Entities() {
		if s.world.Has(id, s.core.PersistentResource.Desc()) {
			components, err := s.encodeEntity(id)
			if err == nil {
				err = s.store.SaveEntity(ctx, id, components)
			}
			if err != nil {
				s.logger.Error("cannot persist entity", "entity", id, "error", err)
				continue
			}
			s.persisted[id] = true
			continue
		}
		if s.persisted[id] {
			if err := s.store.DeleteEntity(ctx, id); err != nil {
				s.logger.Error("cannot delete persisted entity", "entity", id, "error", err)
				continue
			}
			delete(s.persisted, id)
		}
	}
}

func (s *Server) encodeEntity(id ecs.EntityId) (map[string][]byte, error) {
	components := make(map[string][]byte)
	for _, desc := range s.world.ComponentsOf(id) {
		value, err := s.world.GetValue(id, desc)
		if err != nil {
			return nil, err
		}
		data, err := s.registry.Marshal(desc, value)
		if err != nil {
			return nil, err
		}
		components[desc.Name()] = data
	}
	return components, nil
}
