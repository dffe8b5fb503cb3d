package hooks

import (
	"fmt"
	"slices"
	"sync/atomic"
)

type slot struct {
	kind  string
	value any
}

// node is the state arena of one observer or keyed child.
type node struct {
	path       string
	slots      []slot
	children   map[string]*node
	childOrder []string
	rendered   bool
	torn       atomic.Bool
}

func newNode(path string) *node {
	return &node{path: path, children: make(map[string]*node)}
}

func (n *node) renderWith(o *Observer, render RenderFunc) {
	h := &H{observer: o, node: n}
	render(h)
	if n.rendered && h.cursor != len(n.slots) {
		panic(fmt.Sprintf("hooks: %s called %d hooks, expected %d", n.path, h.cursor, len(n.slots)))
	}
	n.rendered = true

	for _, key := range n.childOrder {
		if h.visited[key] {
			continue
		}
		n.children[key].teardown()
		delete(n.children, key)
	}
	n.childOrder = slices.DeleteFunc(n.childOrder, func(key string) bool {
		return !h.visited[key]
	})
}

func (n *node) runFrames(o *Observer, ev FrameEvent) {
	for _, s := range n.slots {
		if o.torn.Load() || n.torn.Load() {
			return
		}
		if f, ok := s.value.(*frameSlot); ok && f.fn != nil {
			f.fn(ev)
		}
	}
	for _, key := range slices.Clone(n.childOrder) {
		if child, ok := n.children[key]; ok {
			child.runFrames(o, ev)
		}
	}
}

func (n *node) teardown() {
	n.torn.Store(true)
	for _, key := range n.childOrder {
		n.children[key].teardown()
	}
	for _, s := range n.slots {
		switch v := s.value.(type) {
		case *frameSlot:
			v.fn = nil
		case *cleanupSlot:
			if v.fn != nil {
				fn := v.fn
				v.fn = nil
				fn()
			}
		}
	}
	n.children = nil
	n.childOrder = nil
}
