package scenario

import (
	"testing"

	"ddcop/agentid"
	"ddcop/constraint"
)

func TestScenarioAddAndLen(t *testing.T) {
	s := NewScenario()
	if s.Len() != 0 {
		t.Fatalf("expected empty scenario, got len %d", s.Len())
	}

	s.Add(Event{ID: "0", Actions: []Action{AddAgent{Agent: "a0"}}})
	s.Add(Event{ID: "1", Delay: 2.5, IsDelay: true})
	s.Add(Event{ID: "2", Actions: []Action{
		RemoveAgent{Agent: "a0"},
		AddAgent{Agent: "a1"},
	}})

	if s.Len() != 3 {
		t.Fatalf("expected 3 events, got %d", s.Len())
	}

	events := s.Events()
	if !events[1].IsDelay || events[1].Delay != 2.5 {
		t.Fatalf("expected event 1 to be a 2.5s delay, got %+v", events[1])
	}
	if len(events[2].Actions) != 2 {
		t.Fatalf("expected event 2 to batch 2 actions, got %d", len(events[2].Actions))
	}
}

func TestActionTypes(t *testing.T) {
	add := AddAgent{Agent: agentid.ID("a0")}
	rem := RemoveAgent{Agent: agentid.ID("a0")}
	chg := ChangeConstraint{Self: "a0", Other: "a1", Constraint: constraint.Quadratic{A: 1}}

	if add.Type() != ActionAddAgent {
		t.Fatalf("expected ActionAddAgent, got %s", add.Type())
	}
	if rem.Type() != ActionRemoveAgent {
		t.Fatalf("expected ActionRemoveAgent, got %s", rem.Type())
	}
	if chg.Type() != ActionChangeConstraint {
		t.Fatalf("expected ActionChangeConstraint, got %s", chg.Type())
	}

	var actions []Action = []Action{add, rem, chg}
	if len(actions) != 3 {
		t.Fatalf("expected Action interface satisfied by all three types")
	}
}
