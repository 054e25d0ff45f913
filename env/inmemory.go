package env

import (
	"sync"

	"ddcop/agentid"
	"ddcop/constraint"
)

type agentState struct {
	x, y      float64
	commRange float64
	domain    constraint.Domain
}

// InMemory is a reference Environment: a flat set of agents with fixed or
// externally-moved 2D positions, a communication range apiece, and a shared
// constraint oracle. It is good enough to drive this repo's coordinator-level
// scenario test (TestDdfsStarViaCoordinator) and a small demo run; it is not the
// mobile-sensing simulation itself
// (target tracking, sensor kinematics) which spec §1 places out of scope.
type InMemory struct {
	mu     sync.RWMutex
	oracle constraint.Oracle
	agents map[agentid.ID]*agentState
	order  []agentid.ID
}

// NewInMemory builds an empty InMemory environment sharing oracle across every edge.
func NewInMemory(oracle constraint.Oracle) *InMemory {
	return &InMemory{oracle: oracle, agents: map[agentid.ID]*agentState{}}
}

func (e *InMemory) Oracle() constraint.Oracle { return e.oracle }

func (e *InMemory) Agents() []agentid.ID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]agentid.ID, len(e.order))
	copy(out, e.order)
	return out
}

func (e *InMemory) Position(id agentid.ID) (float64, float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.agents[id]
	if !ok {
		return 0, 0
	}
	return a.x, a.y
}

func (e *InMemory) CommRange(id agentid.ID) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.agents[id]; ok {
		return a.commRange
	}
	return 0
}

func (e *InMemory) Domain(id agentid.ID) constraint.Domain {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if a, ok := e.agents[id]; ok {
		return a.domain
	}
	return nil
}

// AddAgent registers a new agent at (x, y) with the given communication range and
// legal-value domain (spec §3 "Scenario event", add_agent action).
func (e *InMemory) AddAgent(id agentid.ID, x, y float64, commRange float64, domain constraint.Domain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.agents[id]; exists {
		return
	}
	e.agents[id] = &agentState{x: x, y: y, commRange: commRange, domain: domain}
	e.order = append(e.order, id)
}

// RemoveAgent drops id from the live population (spec §3 "Scenario event",
// remove_agent action).
func (e *InMemory) RemoveAgent(id agentid.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.agents[id]; !exists {
		return
	}
	delete(e.agents, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// SetPosition moves id, e.g. between rounds to simulate spatial churn driving
// in-range set changes.
func (e *InMemory) SetPosition(id agentid.ID, x, y float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[id]; ok {
		a.x, a.y = x, y
	}
}

// SetDomain replaces id's legal-value domain for the next round.
func (e *InMemory) SetDomain(id agentid.ID, domain constraint.Domain) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if a, ok := e.agents[id]; ok {
		a.domain = domain
	}
}

// Advance scores the round's chosen values against every live pair's constraint and
// returns the sum -- the "global objective" of spec §4.6 step 3. This reference
// Environment does not itself move agents in response to values (that is
// scenario/simulation-specific); callers drive churn explicitly via SetPosition,
// AddAgent, RemoveAgent between rounds.
func (e *InMemory) Advance(values map[agentid.ID]float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total float64
	for i, a := range e.order {
		av, ok := values[a]
		if !ok {
			continue
		}
		for _, b := range e.order[i+1:] {
			bv, ok := values[b]
			if !ok {
				continue
			}
			total += e.oracle.Evaluate(a, b, av, bv)
		}
	}
	return total
}

var _ Environment = (*InMemory)(nil)
var _ Mutator = (*InMemory)(nil)
