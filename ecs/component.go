package ecs

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// MaxComponents is the number of distinct components a single registry can hold.
const MaxComponents = 256

// ComponentDesc is the untyped identity of a registered component.
type ComponentDesc struct {
	index uint32
	name  string
}

// Index returns the component's stable index within its registry.
func (d ComponentDesc) Index() uint32 {
	return d.index
}

// Name returns the name the component was registered under.
func (d ComponentDesc) Name() string {
	return d.name
}

// Valid reports whether the descriptor came from a registry.
func (d ComponentDesc) Valid() bool {
	return d.name != ""
}

func (d ComponentDesc) String() string {
	return d.name
}

// Component is a typed handle to a registered component. Several components may
// share the same Go type; they are told apart by index.
type Component[T any] struct {
	desc ComponentDesc
}

// Index returns the component's stable index.
func (c Component[T]) Index() uint32 {
	return c.desc.index
}

// Name returns the component's registered name.
func (c Component[T]) Name() string {
	return c.desc.name
}

// Desc returns the untyped descriptor for this component.
func (c Component[T]) Desc() ComponentDesc {
	return c.desc
}

// With pairs the component with a value, for use in spawns and diffs.
func (c Component[T]) With(value T) ComponentValue {
	return ComponentValue{Desc: c.desc, Value: value}
}

// ComponentValue is a component descriptor paired with a value of the
// component's registered type.
type ComponentValue struct {
	Desc  ComponentDesc
	Value any
}

type componentInfo struct {
	desc      ComponentDesc
	typ       reflect.Type
	factory   func() iComponentStorage
	marshal   func(any) ([]byte, error)
	unmarshal func([]byte) (any, error)
}

// ComponentRegistry manages component registration for an ECS instance.
// Each Storage has its own registry, allowing multiple independent stores
// (an authority and its mirrors, say) to coexist in one process.
type ComponentRegistry struct {
	components []componentInfo
	byName     map[string]uint32
}

// NewComponentRegistry creates a new component registry.
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byName: make(map[string]uint32),
	}
}

// RegisterComponent registers a component of type T under name and returns its
// handle. Registering the same name and type twice returns the existing handle;
// reusing a name for a different type panics.
func RegisterComponent[T any](r *ComponentRegistry, name string) Component[T] {
	if name == "" {
		panic("ecs: component name must not be empty")
	}
	typ := reflect.TypeFor[T]()

	if idx, ok := r.byName[name]; ok {
		info := r.components[idx]
		if info.typ != typ {
			panic(fmt.Sprintf("ecs: component %q already registered with type %s", name, info.typ))
		}
		return Component[T]{desc: info.desc}
	}

	if len(r.components) >= MaxComponents {
		panic("ecs: too many component types")
	}

	desc := ComponentDesc{index: uint32(len(r.components)), name: name}
	r.components = append(r.components, componentInfo{
		desc: desc,
		typ:  typ,
		factory: func() iComponentStorage {
			return &genericComponentStorage[T]{}
		},
		marshal: func(v any) ([]byte, error) {
			tv, ok := v.(T)
			if !ok {
				return nil, fmt.Errorf("component %s: %w: got %T", name, ErrComponentType, v)
			}
			return json.Marshal(tv)
		},
		unmarshal: func(data []byte) (any, error) {
			var tv T
			if err := json.Unmarshal(data, &tv); err != nil {
				return nil, fmt.Errorf("component %s: %w", name, err)
			}
			return tv, nil
		},
	})
	r.byName[name] = desc.index
	return Component[T]{desc: desc}
}

// Lookup finds a component by its registered name.
func (r *ComponentRegistry) Lookup(name string) (ComponentDesc, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return ComponentDesc{}, false
	}
	return r.components[idx].desc, true
}

// Components returns every registered component in index order.
func (r *ComponentRegistry) Components() []ComponentDesc {
	out := make([]ComponentDesc, len(r.components))
	for i, info := range r.components {
		out[i] = info.desc
	}
	return out
}

// Type returns the Go type a component was registered with.
func (r *ComponentRegistry) Type(desc ComponentDesc) reflect.Type {
	info, ok := r.info(desc)
	if !ok {
		return nil
	}
	return info.typ
}

// Marshal encodes a component value for the wire.
func (r *ComponentRegistry) Marshal(desc ComponentDesc, value any) ([]byte, error) {
	info, ok := r.info(desc)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownComponent, desc.name)
	}
	return info.marshal(value)
}

// Unmarshal decodes a wire-encoded component value into the component's type.
func (r *ComponentRegistry) Unmarshal(desc ComponentDesc, data []byte) (ComponentValue, error) {
	info, ok := r.info(desc)
	if !ok {
		return ComponentValue{}, fmt.Errorf("%w: %s", ErrUnknownComponent, desc.name)
	}
	v, err := info.unmarshal(data)
	if err != nil {
		return ComponentValue{}, err
	}
	return ComponentValue{Desc: info.desc, Value: v}, nil
}

func (r *ComponentRegistry) info(desc ComponentDesc) (componentInfo, bool) {
	if !desc.Valid() || int(desc.index) >= len(r.components) {
		return componentInfo{}, false
	}
	info := r.components[desc.index]
	if info.desc.name != desc.name {
		return componentInfo{}, false
	}
	return info, true
}

// getFactory returns the storage factory for a component index.
func (r *ComponentRegistry) getFactory(index uint32) func() iComponentStorage {
	if int(index) >= len(r.components) {
		return nil
	}
	return r.components[index].factory
}
