package directory

import "github.com/google/uuid"

// tree is an arena of department nodes indexed by id. Parent pointers are
// ids, never object references, which keeps cycle detection and
// copy-on-write snapshots cheap. Ancestor chains are cached per node in
// root-to-immediate-parent order.
type tree struct {
	parents   map[uuid.UUID]uuid.UUID // uuid.Nil parent for roots
	children  map[uuid.UUID][]uuid.UUID
	ancestors map[uuid.UUID][]uuid.UUID
}

func newTree() *tree {
	return &tree{
		parents:   make(map[uuid.UUID]uuid.UUID),
		children:  make(map[uuid.UUID][]uuid.UUID),
		ancestors: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (t *tree) has(id uuid.UUID) bool {
	_, ok := t.parents[id]
	return ok
}

// wouldCycle reports whether reparenting id under newParent closes a cycle:
// true when newParent is id itself or any of id's descendants.
func (t *tree) wouldCycle(id, newParent uuid.UUID) bool {
	if newParent == uuid.Nil {
		return false
	}
	if newParent == id {
		return true
	}
	_, isDescendant := t.descendants(id)[newParent]
	return isDescendant
}

// descendants returns the transitive child set of id, excluding id.
func (t *tree) descendants(id uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{})
	stack := append([]uuid.UUID(nil), t.children[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := out[n]; seen {
			continue
		}
		out[n] = struct{}{}
		stack = append(stack, t.children[n]...)
	}
	return out
}

// clone returns a deep copy; mutations always operate on a fresh clone so
// previously published views stay immutable.
func (t *tree) clone() *tree {
	c := newTree()
	for id, p := range t.parents {
		c.parents[id] = p
	}
	for id, kids := range t.children {
		c.children[id] = append([]uuid.UUID(nil), kids...)
	}
	for id, chain := range t.ancestors {
		c.ancestors[id] = chain
	}
	return c
}

func (t *tree) add(id, parent uuid.UUID) {
	t.parents[id] = parent
	if parent != uuid.Nil {
		t.children[parent] = append(t.children[parent], id)
	}
	t.recomputeAncestors(id)
}

// reparent moves id under newParent. Callers must have rejected cycles via
// wouldCycle first.
func (t *tree) reparent(id, newParent uuid.UUID) {
	old := t.parents[id]
	if old != uuid.Nil {
		kids := t.children[old]
		for i, k := range kids {
			if k == id {
				t.children[old] = append(append([]uuid.UUID(nil), kids[:i]...), kids[i+1:]...)
				break
			}
		}
	}
	t.parents[id] = newParent
	if newParent != uuid.Nil {
		t.children[newParent] = append(t.children[newParent], id)
	}
	t.recomputeSubtree(id)
}

// recomputeSubtree refreshes cached ancestor chains for id and everything
// below it after a reparent.
func (t *tree) recomputeSubtree(id uuid.UUID) {
	t.recomputeAncestors(id)
	for _, child := range t.children[id] {
		t.recomputeSubtree(child)
	}
}

func (t *tree) recomputeAncestors(id uuid.UUID) {
	parent := t.parents[id]
	if parent == uuid.Nil {
		t.ancestors[id] = nil
		return
	}
	chain := append([]uuid.UUID(nil), t.ancestors[parent]...)
	t.ancestors[id] = append(chain, parent)
}

// ancestorChain returns ancestors of id in root-to-immediate-parent order.
func (t *tree) ancestorChain(id uuid.UUID) []uuid.UUID {
	return t.ancestors[id]
}
