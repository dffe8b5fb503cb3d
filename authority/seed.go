package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plus3/remoteworld/ecs"
)

// Seed describes entities to create when a world starts.
//
//	entities:
//	  - components:
//	      synced_resource: {}
//	      counter: {value: 3}
//	  - id: 100
//	    components:
//	      persistent_resource: {}
//	      motd: "hello"
type Seed struct {
	Entities []SeedEntity `yaml:"entities"`
}

// SeedEntity is one entity of a seed. A zero ID lets the world assign one.
type SeedEntity struct {
	ID         uint64               `yaml:"id"`
	Components map[string]yaml.Node `yaml:"components"`
}

// ParseSeed decodes a YAML seed. Unknown fields are rejected.
func ParseSeed(r io.Reader) (*Seed, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var seed Seed
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return &seed, nil
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &seed, nil
}

// LoadSeedFile parses a seed file and applies it; see ApplySeed.
func (s *Server) LoadSeedFile(ctx context.Context, path string) (ecs.ApplyReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return ecs.ApplyReport{}, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()

	seed, err := ParseSeed(f)
	if err != nil {
		return ecs.ApplyReport{}, err
	}
	return s.ApplySeed(ctx, seed)
}

// ApplySeed spawns the seed's entities. Entities whose id already exists, for
// instance because they were restored from the store, are skipped and listed
// in the report.
func (s *Server) ApplySeed(ctx context.Context, seed *Seed) (ecs.ApplyReport, error) {
	diff, err := s.seedDiff(seed)
	if err != nil {
		return ecs.ApplyReport{}, err
	}
	return s.Apply(ctx, diff), nil
}

func (s *Server) seedDiff(seed *Seed) (*ecs.Diff, error) {
	diff := ecs.NewDiff()
	for i, entity := range seed.Entities {
		values := make([]ecs.ComponentValue, 0, len(entity.Components))
		for name, node := range entity.Components {
			desc, ok := s.registry.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("seed entity %d: %w: %s", i, ecs.ErrUnknownComponent, name)
			}
			var raw any
			if err := node.Decode(&raw); err != nil {
				return nil, fmt.Errorf("seed entity %d component %s: %w", i, name, err)
			}
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("seed entity %d component %s: %w", i, name, err)
			}
			cv, err := s.registry.Unmarshal(desc, data)
			if err != nil {
				return nil, fmt.Errorf("seed entity %d: %w", i, err)
			}
			values = append(values, cv)
		}
		diff.Spawn(ecs.EntityId(entity.ID), values...)
	}
	return diff, nil
}
