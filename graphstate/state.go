// Package graphstate holds the per-agent graph membership and the invariant-enforcing
// mutators that the DGC engines use to change it. Only those engines call the
// mutators; every other package treats a State as read-only.
package graphstate

import "ddcop/agentid"

// State is the per-agent rooted-tree (or pseudo-tree) membership: parent, children,
// pseudo-parents, and pseudo-children. Derived Neighbors = children ∪ {parent}.
//
// Invariants:
//  1. A parent edge implies a child edge on the other side and vice versa (enforced
//     cooperatively across two agents' State by the DGC protocol, not by a single
//     State value in isolation).
//  2. parent ∉ children; pseudo_* sets are disjoint from parent and children.
//  3. Across all agents the parent relation is acyclic (a forest) — enforced by the
//     DGC protocols' construction order, not representable as a single-agent check.
//  4. DIGCA/DBFS yield a tree; DDFS yields a pseudo-tree via pseudo edges.
//  5. neighbors ⊆ agents_in_comm_range after each time step settles.
type State struct {
	parent         agentid.ID
	hasParent      bool
	children       map[agentid.ID]bool
	pseudoParents  map[agentid.ID]bool
	pseudoChildren map[agentid.ID]bool
}

// New returns an empty GraphState.
func New() *State {
	return &State{
		children:       map[agentid.ID]bool{},
		pseudoParents:  map[agentid.ID]bool{},
		pseudoChildren: map[agentid.ID]bool{},
	}
}

// Parent returns the current parent and whether one is set.
func (s *State) Parent() (agentid.ID, bool) { return s.parent, s.hasParent }

// Children returns a snapshot slice of the child ids.
func (s *State) Children() []agentid.ID { return keys(s.children) }

// PseudoParents returns a snapshot slice of pseudo-parent ids.
func (s *State) PseudoParents() []agentid.ID { return keys(s.pseudoParents) }

// PseudoChildren returns a snapshot slice of pseudo-child ids.
func (s *State) PseudoChildren() []agentid.ID { return keys(s.pseudoChildren) }

// Neighbors returns children ∪ {parent}, the set relevant to invariant 5.
func (s *State) Neighbors() []agentid.ID {
	n := keys(s.children)
	if s.hasParent {
		n = append(n, s.parent)
	}
	return n
}

// HasChild reports whether id is a (tree) child.
func (s *State) HasChild(id agentid.ID) bool { return s.children[id] }

// IsPseudoParent reports whether id is a pseudo-parent.
func (s *State) IsPseudoParent(id agentid.ID) bool { return s.pseudoParents[id] }

// IsPseudoChild reports whether id is a pseudo-child.
func (s *State) IsPseudoChild(id agentid.ID) bool { return s.pseudoChildren[id] }

// SetParent installs id as this agent's parent. Invariant 2: a no-op (returns false)
// if id is already a child or pseudo-* peer.
func (s *State) SetParent(id agentid.ID) bool {
	if s.children[id] || s.pseudoParents[id] || s.pseudoChildren[id] {
		return false
	}
	s.parent = id
	s.hasParent = true
	return true
}

// ClearParent removes the parent edge (e.g. on neighbor loss).
func (s *State) ClearParent() {
	s.hasParent = false
	s.parent = ""
}

// AddChild installs id as a tree child, enforcing invariant 2 against parent/pseudo
// sets; adding the same child twice is a no-op, not an error.
func (s *State) AddChild(id agentid.ID) bool {
	if s.hasParent && s.parent == id {
		return false
	}
	if s.pseudoParents[id] || s.pseudoChildren[id] {
		return false
	}
	s.children[id] = true
	return true
}

// AddPseudoParent installs id as a pseudo-parent (DDFS cross edge), disjoint from
// parent/children.
func (s *State) AddPseudoParent(id agentid.ID) bool {
	if (s.hasParent && s.parent == id) || s.children[id] {
		return false
	}
	s.pseudoParents[id] = true
	return true
}

// AddPseudoChild installs id as a pseudo-child (DDFS cross edge), disjoint from
// parent/children.
func (s *State) AddPseudoChild(id agentid.ID) bool {
	if (s.hasParent && s.parent == id) || s.children[id] {
		return false
	}
	s.pseudoChildren[id] = true
	return true
}

// RemoveNeighbor drops id from every set it might belong to — parent, children,
// pseudo-parents, pseudo-children — releasing the edge entirely. Used when a peer
// drops out of communication range.
func (s *State) RemoveNeighbor(id agentid.ID) {
	if s.hasParent && s.parent == id {
		s.ClearParent()
	}
	delete(s.children, id)
	delete(s.pseudoParents, id)
	delete(s.pseudoChildren, id)
}

// Reset clears all graph membership, used at the start of a DGC rebuild when the
// protocol restarts from scratch (e.g. after losing all neighbors).
func (s *State) Reset() {
	s.hasParent = false
	s.parent = ""
	s.children = map[agentid.ID]bool{}
	s.pseudoParents = map[agentid.ID]bool{}
	s.pseudoChildren = map[agentid.ID]bool{}
}

// IsIsolated reports whether this agent currently has no parent, children, or pseudo
// edges at all.
func (s *State) IsIsolated() bool {
	return !s.hasParent && len(s.children) == 0 && len(s.pseudoParents) == 0 && len(s.pseudoChildren) == 0
}

func keys(m map[agentid.ID]bool) []agentid.ID {
	out := make([]agentid.ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
