package constraint

import "ddcop/agentid"

// Oracle evaluates the constraint between two agents' chosen values directly, as an
// alternative to a Quadratic's coefficients — the shape used by a mobile-sensing
// scenario, where cost is derived from simulated positions rather than fixed
// coefficients. Implementations live with the simulation environment; the DCOP
// engines only ever call through this interface or a Quadratic, never assume which.
type Oracle interface {
	Evaluate(self, other agentid.ID, selfValue, otherValue float64) float64
}

// GradientOracle is implemented by oracles whose edges are differentiable, letting
// C-DPOP's continuous refinement descend the joint cost surface instead of searching
// a discretized domain. An Oracle that cannot provide gradients (a live sensing
// environment with no closed form) simply does not implement this; C-DPOP falls back
// to the discrete DPOP projection in that case.
type GradientOracle interface {
	Oracle
	// Gradient returns d(cost)/d(selfValue) and d(cost)/d(otherValue) at the given
	// point, in that order.
	Gradient(self, other agentid.ID, selfValue, otherValue float64) (ddSelf, ddOther float64)
}

// QuadraticOracle adapts a per-edge table of Quadratic constraints to the Oracle
// interface, for callers that keep active constraints keyed by "self,other" and want
// a single evaluation entry point regardless of source.
type QuadraticOracle struct {
	// Edges maps "self,other" agent id pairs to their shared constraint.
	Edges map[string]Quadratic
}

// EdgeKey builds the canonical "self_id,other_id" key used to index active constraints.
func EdgeKey(self, other agentid.ID) string {
	return string(self) + "," + string(other)
}

// Evaluate looks up the edge (self, other) and applies its Quadratic. It returns 0 if
// no such edge is registered, which callers should treat as "no constraint" rather
// than a real zero-cost assignment.
func (q QuadraticOracle) Evaluate(self, other agentid.ID, selfValue, otherValue float64) float64 {
	c, ok := q.Edges[EdgeKey(self, other)]
	if !ok {
		return 0
	}
	return c.Evaluate(selfValue, otherValue)
}

// Gradient implements GradientOracle using each edge's Quadratic partials.
func (q QuadraticOracle) Gradient(self, other agentid.ID, selfValue, otherValue float64) (float64, float64) {
	c, ok := q.Edges[EdgeKey(self, other)]
	if !ok {
		return 0, 0
	}
	return c.DDX(selfValue, otherValue), c.DDY(selfValue, otherValue)
}

var _ GradientOracle = QuadraticOracle{}
