package ecs

// StorageStats summarizes the contents of a store.
type StorageStats struct {
	TotalEntityCount   int
	ArchetypeCount     int
	ArchetypeBreakdown []ArchetypeStats
}

// ArchetypeStats describes a single archetype.
type ArchetypeStats struct {
	ID             uint32
	ComponentTypes []string
	EntityCount    int
}

// CollectStats gathers entity and archetype counts. Archetypes that have been
// emptied are still listed with a zero count.
func (s *Storage) CollectStats() StorageStats {
	stats := StorageStats{
		TotalEntityCount:   s.Len(),
		ArchetypeCount:     len(s.archetypes),
		ArchetypeBreakdown: make([]ArchetypeStats, 0, len(s.archetypes)),
	}
	for _, a := range s.archetypes {
		names := make([]string, 0, len(a.components))
		for _, comp := range a.components {
			names = append(names, s.registry.components[comp].desc.name)
		}
		stats.ArchetypeBreakdown = append(stats.ArchetypeBreakdown, ArchetypeStats{
			ID:             a.id,
			ComponentTypes: names,
			EntityCount:    a.count,
		})
	}
	return stats
}
