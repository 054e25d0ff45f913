// Package scenario defines the dynamic events an external runner replays against a
// running system: agents joining and leaving, and constraints changing between two
// already-connected agents. Grounded in
// _examples/original_source/mascoord/src/envs/scenario.py's DcopEvent/EventAction/
// Scenario shape. Only the data types are defined here -- the line-based scenario
// file format of spec §6 is owned by the external runner (an explicit Non-goal), so
// there is no parser; this package exists so the coordinator and tests have a
// concrete, typed event to pass around instead of an untyped map.
package scenario

import (
	"ddcop/agentid"
	"ddcop/constraint"
)

// ActionType identifies what kind of change one Action applies. The original's
// EventAction carried its type as a free-form string plus a kwargs bag; here each
// action kind gets its own typed struct instead, since Go has no kwargs equivalent
// worth emulating.
type ActionType string

const (
	ActionAddAgent         ActionType = "add-agent"
	ActionRemoveAgent      ActionType = "remove-agent"
	ActionChangeConstraint ActionType = "change-constraint"
)

// AddAgent introduces a new agent into the running system at the event's time step.
type AddAgent struct {
	Agent agentid.ID
}

func (AddAgent) Type() ActionType { return ActionAddAgent }

// RemoveAgent withdraws an agent, the counterpart to the original's
// {'type': 'remove-agent', 'agent': ...} action.
type RemoveAgent struct {
	Agent agentid.ID
}

func (RemoveAgent) Type() ActionType { return ActionRemoveAgent }

// ChangeConstraint replaces the Quadratic shared by an already-connected pair, the
// dynamic-constraint feature the distillation dropped but original_source's agent.py
// CONSTRAINT_CHANGED handling exercises.
type ChangeConstraint struct {
	Self, Other agentid.ID
	Constraint  constraint.Quadratic
}

func (ChangeConstraint) Type() ActionType { return ActionChangeConstraint }

// Action is one typed change applied by an Event. AddAgent, RemoveAgent, and
// ChangeConstraint all implement it.
type Action interface {
	Type() ActionType
}

// Event is a single point in a Scenario's timeline: either a delay (advance the clock
// with no actions) or a batch of Actions applied simultaneously, mirroring
// DcopEvent's is_delay/actions split -- several agents can disappear in the same
// event, for instance.
type Event struct {
	ID      string
	Delay   float64 // seconds to advance before applying Actions; zero if IsDelay is false
	IsDelay bool
	Actions []Action
}

// Scenario is an ordered list of Events, replayed by an external runner against a
// live coordinator. It carries no file-format knowledge; building one is entirely the
// caller's responsibility (by hand in tests, or by whatever parser the runner owns).
type Scenario struct {
	events []Event
}

// NewScenario builds a Scenario from an ordered slice of Events.
func NewScenario(events ...Event) *Scenario {
	return &Scenario{events: append([]Event(nil), events...)}
}

// Events returns a copy of this Scenario's events, in order.
func (s *Scenario) Events() []Event {
	return append([]Event(nil), s.events...)
}

// Add appends evt to the end of the scenario's timeline.
func (s *Scenario) Add(evt Event) {
	s.events = append(s.events, evt)
}

// Len reports how many events this scenario contains.
func (s *Scenario) Len() int {
	return len(s.events)
}
