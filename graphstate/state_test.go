package graphstate

import "testing"

func TestParentChildDisjoint(t *testing.T) {
	s := New()
	if !s.AddChild("a1") {
		t.Fatal("expected AddChild to succeed")
	}
	if s.SetParent("a1") {
		t.Fatal("expected SetParent to fail: a1 is already a child")
	}
	if !s.SetParent("a0") {
		t.Fatal("expected SetParent to succeed for a fresh id")
	}
	if s.AddChild("a0") {
		t.Fatal("expected AddChild to fail: a0 is already the parent")
	}
}

func TestNeighborsIsUnionOfParentAndChildren(t *testing.T) {
	s := New()
	s.SetParent("a0")
	s.AddChild("a1")
	s.AddChild("a2")

	got := map[string]bool{}
	for _, n := range s.Neighbors() {
		got[string(n)] = true
	}
	want := map[string]bool{"a0": true, "a1": true, "a2": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("missing neighbor %s", id)
		}
	}
}

func TestRemoveNeighborReleasesEveryEdgeKind(t *testing.T) {
	s := New()
	s.SetParent("a0")
	s.AddChild("a1")
	s.AddPseudoParent("a2")
	s.AddPseudoChild("a3")

	s.RemoveNeighbor("a0")
	if _, ok := s.Parent(); ok {
		t.Fatal("expected parent to be cleared")
	}

	s.RemoveNeighbor("a1")
	if s.HasChild("a1") {
		t.Fatal("expected a1 removed from children")
	}

	s.RemoveNeighbor("a2")
	if s.IsPseudoParent("a2") {
		t.Fatal("expected a2 removed from pseudo-parents")
	}

	s.RemoveNeighbor("a3")
	if s.IsPseudoChild("a3") {
		t.Fatal("expected a3 removed from pseudo-children")
	}
}

func TestAddChildIsIdempotent(t *testing.T) {
	s := New()
	if !s.AddChild("a1") {
		t.Fatal("first AddChild should succeed")
	}
	// A duplicate handshake (e.g. a retried ADD_ME) must leave identical visible state.
	if !s.AddChild("a1") {
		t.Fatal("re-adding the same child should be a harmless no-op, not a failure")
	}
	if len(s.Children()) != 1 {
		t.Fatalf("expected exactly one child, got %d", len(s.Children()))
	}
}

func TestIsIsolated(t *testing.T) {
	s := New()
	if !s.IsIsolated() {
		t.Fatal("fresh state should be isolated")
	}
	s.AddChild("a1")
	if s.IsIsolated() {
		t.Fatal("state with a child should not be isolated")
	}
}
