package ecs

import "iter"

const (
	genericBlockSize = 64
)

// genericComponentStorage stores values of type T in fixed-size blocks together
// with the content version of each slot.
type genericComponentStorage[T any] struct {
	blocks    [][genericBlockSize]T
	versions  [][genericBlockSize]uint64
	filled    [][genericBlockSize]bool
	freeSlots []int
	nextIndex int
}

func (cs *genericComponentStorage[T]) grow(index int) {
	blockIdx := index / genericBlockSize
	for blockIdx >= len(cs.blocks) {
		cs.blocks = append(cs.blocks, [genericBlockSize]T{})
		cs.versions = append(cs.versions, [genericBlockSize]uint64{})
		cs.filled = append(cs.filled, [genericBlockSize]bool{})
	}
	if index >= cs.nextIndex {
		cs.nextIndex = index + 1
	}
}

// Append stores item in the first free slot and returns its index.
func (cs *genericComponentStorage[T]) Append(item T) int {
	var index int
	if len(cs.freeSlots) > 0 {
		index = cs.freeSlots[len(cs.freeSlots)-1]
		cs.freeSlots = cs.freeSlots[:len(cs.freeSlots)-1]
	} else {
		index = cs.nextIndex
	}
	cs.set(index, item, 0)
	return index
}

// Delete empties a slot and makes it available to Append again.
func (cs *genericComponentStorage[T]) Delete(index int) {
	if !cs.Has(index) {
		return
	}
	cs.Clear(index)
	cs.freeSlots = append(cs.freeSlots, index)
}

// Put writes item at index. It reports false when item is not a T.
func (cs *genericComponentStorage[T]) Put(index int, item any, version uint64) bool {
	if index < 0 {
		return false
	}
	var concreteItem T
	if ptr, ok := item.(*T); ok {
		concreteItem = *ptr
	} else if val, ok := item.(T); ok {
		concreteItem = val
	} else {
		return false
	}
	cs.set(index, concreteItem, version)
	return true
}

func (cs *genericComponentStorage[T]) set(index int, item T, version uint64) {
	cs.grow(index)
	blockIdx := index / genericBlockSize
	slotIdx := index % genericBlockSize

	cs.blocks[blockIdx][slotIdx] = item
	cs.versions[blockIdx][slotIdx] = version
	cs.filled[blockIdx][slotIdx] = true
}

// at returns the value stored at index. The caller must have checked Has.
func (cs *genericComponentStorage[T]) at(index int) T {
	return cs.blocks[index/genericBlockSize][index%genericBlockSize]
}

// Get returns the value at the given index, or nil for an empty slot.
func (cs *genericComponentStorage[T]) Get(index int) any {
	if !cs.Has(index) {
		return nil
	}
	return cs.at(index)
}

// Version returns the content version at index, or 0 for an empty slot.
func (cs *genericComponentStorage[T]) Version(index int) uint64 {
	if !cs.Has(index) {
		return 0
	}
	return cs.versions[index/genericBlockSize][index%genericBlockSize]
}

// Clear marks a slot as empty without recycling it.
func (cs *genericComponentStorage[T]) Clear(index int) {
	if !cs.Has(index) {
		return
	}
	blockIdx := index / genericBlockSize
	slotIdx := index % genericBlockSize

	var zero T
	cs.blocks[blockIdx][slotIdx] = zero
	cs.versions[blockIdx][slotIdx] = 0
	cs.filled[blockIdx][slotIdx] = false
}

// Has checks if a value exists at the given index.
func (cs *genericComponentStorage[T]) Has(index int) bool {
	if index < 0 {
		return false
	}

	blockIdx := index / genericBlockSize
	slotIdx := index % genericBlockSize

	if blockIdx >= len(cs.blocks) {
		return false
	}

	return cs.filled[blockIdx][slotIdx]
}

// Compact reorganizes storage to remove empty slots. Versions travel with their
// values.
func (cs *genericComponentStorage[T]) Compact() map[int]int {
	indexMap := make(map[int]int)
	writePos := 0

	totalComponents := 0
	for range cs.Iter() {
		totalComponents++
	}
	if totalComponents == 0 {
		cs.blocks = nil
		cs.versions = nil
		cs.filled = nil
		cs.freeSlots = nil
		cs.nextIndex = 0
		return indexMap
	}

	numNewBlocks := (totalComponents + genericBlockSize - 1) / genericBlockSize
	newBlocks := make([][genericBlockSize]T, numNewBlocks)
	newVersions := make([][genericBlockSize]uint64, numNewBlocks)
	newFilled := make([][genericBlockSize]bool, numNewBlocks)

	for readIdx := 0; readIdx < cs.nextIndex; readIdx++ {
		readBlockIdx := readIdx / genericBlockSize
		readSlotIdx := readIdx % genericBlockSize

		if cs.filled[readBlockIdx][readSlotIdx] {
			indexMap[readIdx] = writePos

			writeBlockIdx := writePos / genericBlockSize
			writeSlotIdx := writePos % genericBlockSize

			newBlocks[writeBlockIdx][writeSlotIdx] = cs.blocks[readBlockIdx][readSlotIdx]
			newVersions[writeBlockIdx][writeSlotIdx] = cs.versions[readBlockIdx][readSlotIdx]
			newFilled[writeBlockIdx][writeSlotIdx] = true

			writePos++
		}
	}

	cs.blocks = newBlocks
	cs.versions = newVersions
	cs.filled = newFilled
	cs.freeSlots = nil
	cs.nextIndex = writePos

	return indexMap
}

// Iter yields the index of every filled slot in ascending order.
func (cs *genericComponentStorage[T]) Iter() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := 0; i < cs.nextIndex; i++ {
			blockIdx := i / genericBlockSize
			slotIdx := i % genericBlockSize

			if blockIdx >= len(cs.filled) {
				return
			}

			if cs.filled[blockIdx][slotIdx] {
				if !yield(i) {
					return
				}
			}
		}
	}
}
