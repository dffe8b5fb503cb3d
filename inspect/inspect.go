// Package inspect renders the contents of a world as plain-text tables for
// operators: archetypes, entities, single entities, and system timings.
package inspect

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/plus3/remoteworld/ecs"
)

// Column selects the column archetype rows are sorted by.
type Column int

const (
	ByID Column = iota
	ByComponents
	ByComponentCount
	ByEntityCount
)

// ArchetypeRow describes one archetype.
type ArchetypeRow struct {
	ID          uint32
	Components  []string
	EntityCount int
}

// Archetypes lists every archetype of world sorted by column.
func Archetypes(world *ecs.Storage, column Column, ascending bool) []ArchetypeRow {
	stats := world.CollectStats()
	rows := make([]ArchetypeRow, 0, len(stats.ArchetypeBreakdown))
	for _, a := range stats.ArchetypeBreakdown {
		rows = append(rows, ArchetypeRow{ID: a.ID, Components: a.ComponentTypes, EntityCount: a.EntityCount})
	}
	sortArchetypes(rows, column, ascending)
	return rows
}

func sortArchetypes(rows []ArchetypeRow, column Column, ascending bool) {
	slices.SortStableFunc(rows, func(a, b ArchetypeRow) int {
		var c int
		switch column {
		case ByID:
			c = cmp.Compare(a.ID, b.ID)
		case ByComponents:
			c = strings.Compare(strings.Join(a.Components, ","), strings.Join(b.Components, ","))
		case ByComponentCount:
			c = cmp.Compare(len(a.Components), len(b.Components))
		default:
			c = cmp.Compare(a.EntityCount, b.EntityCount)
		}
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !ascending {
			return -c
		}
		return c
	})
}

// Matching lists the archetypes that carry every named component, by id.
func Matching(world *ecs.Storage, names ...string) ([]ArchetypeRow, error) {
	filter := ecs.NewFilter()
	for _, name := range names {
		desc, ok := world.Registry().Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ecs.ErrUnknownComponent, name)
		}
		filter = filter.Incl(desc)
	}

	matching := make(map[uint32]bool)
	for _, a := range world.Archetypes() {
		if filter.Matches(a.Mask()) {
			matching[a.ID()] = true
		}
	}

	var rows []ArchetypeRow
	for _, row := range Archetypes(world, ByID, true) {
		if matching[row.ID] {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// EntityRow describes one entity.
type EntityRow struct {
	ID          ecs.EntityId
	ArchetypeID uint32
	Components  []string
}

// EntityFilter narrows an entity listing. Text matches case-insensitively
// against the id, the archetype id, and the component names.
type EntityFilter struct {
	Text      string
	Archetype *uint32
}

func (f EntityFilter) match(row EntityRow) bool {
	if f.Archetype != nil && row.ArchetypeID != *f.Archetype {
		return false
	}
	if f.Text == "" {
		return true
	}
	text := strings.ToLower(f.Text)
	return strings.Contains(fmt.Sprintf("%d", row.ID), text) ||
		strings.Contains(fmt.Sprintf("0x%x", row.ArchetypeID), text) ||
		strings.Contains(strings.ToLower(strings.Join(row.Components, " ")), text)
}

// Entities lists the live entities that pass filter, by id.
func Entities(world *ecs.Storage, filter EntityFilter) []EntityRow {
	names := make(map[uint32][]string)
	for _, a := range world.CollectStats().ArchetypeBreakdown {
		names[a.ID] = a.ComponentTypes
	}

	var rows []EntityRow
	for _, a := range world.Archetypes() {
		for id := range a.Iter() {
			row := EntityRow{ID: id, ArchetypeID: a.ID(), Components: names[a.ID()]}
			if filter.match(row) {
				rows = append(rows, row)
			}
		}
	}
	slices.SortFunc(rows, func(a, b EntityRow) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return rows
}

// Field is one component of an entity in its wire encoding.
type Field struct {
	Component string
	Value     json.RawMessage
}

// Entity returns every component of id, ordered by component name.
func Entity(world *ecs.Storage, id ecs.EntityId) ([]Field, error) {
	if !world.Alive(id) {
		return nil, fmt.Errorf("inspect %s: %w", id, ecs.ErrNoSuchEntity)
	}
	var fields []Field
	for _, desc := range world.ComponentsOf(id) {
		value, err := world.GetValue(id, desc)
		if err != nil {
			return nil, err
		}
		data, err := world.Registry().Marshal(desc, value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Component: desc.Name(), Value: data})
	}
	slices.SortFunc(fields, func(a, b Field) int {
		return strings.Compare(a.Component, b.Component)
	})
	return fields, nil
}
