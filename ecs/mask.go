package ecs

import "math/bits"

// Mask is a set of up to MaxComponents component indices. Archetypes are keyed
// by their mask.
type Mask [4]uint64

func (m *Mask) set(index uint32) {
	m[index>>6] |= uint64(1) << (index & 63)
}

func (m *Mask) unset(index uint32) {
	m[index>>6] &^= uint64(1) << (index & 63)
}

// Has reports whether the component index is in the set.
func (m Mask) Has(index uint32) bool {
	return m[index>>6]&(uint64(1)<<(index&63)) != 0
}

// Contains reports whether every bit of sub is also set in m.
func (m Mask) Contains(sub Mask) bool {
	return (m[0]&sub[0]) == sub[0] &&
		(m[1]&sub[1]) == sub[1] &&
		(m[2]&sub[2]) == sub[2] &&
		(m[3]&sub[3]) == sub[3]
}

// Intersects reports whether m and other share any bit.
func (m Mask) Intersects(other Mask) bool {
	return (m[0]&other[0]) != 0 ||
		(m[1]&other[1]) != 0 ||
		(m[2]&other[2]) != 0 ||
		(m[3]&other[3]) != 0
}

// Count returns the number of components in the set.
func (m Mask) Count() int {
	return bits.OnesCount64(m[0]) + bits.OnesCount64(m[1]) +
		bits.OnesCount64(m[2]) + bits.OnesCount64(m[3])
}

// Indices returns the component indices in ascending order.
func (m Mask) Indices() []uint32 {
	out := make([]uint32, 0, m.Count())
	for word := range m {
		w := m[word]
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			out = append(out, uint32(word*64+bit))
			w &= w - 1
		}
	}
	return out
}

// Filter selects archetypes by the components they must include and must not
// include. It is re-evaluated against an entity's current archetype on every
// poll; membership is never cached across ticks.
type Filter struct {
	include Mask
	exclude Mask
}

// NewFilter returns a filter that matches every archetype.
func NewFilter() Filter {
	return Filter{}
}

// Incl returns a copy of the filter that also requires the given components.
func (f Filter) Incl(components ...ComponentDesc) Filter {
	for _, c := range components {
		f.include.set(c.index)
	}
	return f
}

// Excl returns a copy of the filter that also rejects the given components.
func (f Filter) Excl(components ...ComponentDesc) Filter {
	for _, c := range components {
		f.exclude.set(c.index)
	}
	return f
}

// Matches reports whether an archetype mask satisfies the filter.
func (f Filter) Matches(m Mask) bool {
	return m.Contains(f.include) && !m.Intersects(f.exclude)
}
