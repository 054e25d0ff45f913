// Package constraint defines the pairwise cost function shared by two agents' chosen
// values, and the pluggable oracle a live simulation environment supplies in place of
// it. This package only defines the immutable coefficient-carrying type and its
// formula; the concrete evaluator a running simulation uses is an external
// collaborator.
package constraint

// Quadratic is an immutable pairwise constraint over two scalars:
//
//	cost(v1, v2) = A*v1^2 + B*v1*v2 + C*v2^2
//
// Invariant: an edge (i,j) uses the same Quadratic on both endpoints, or the
// environment oracle supplies the value instead (mobile-sensing scenario).
type Quadratic struct {
	A, B, C float64
}

// Evaluate computes the constraint's cost for the ordered pair (v1, v2). The cross
// term is only symmetric when applied consistently by both endpoints — callers on
// either side of an edge must agree on which argument is "self" and which is "other",
// exactly as DPOP's util matrices index by (self-domain-index, parent-domain-index).
func (q Quadratic) Evaluate(v1, v2 float64) float64 {
	return q.A*v1*v1 + q.B*v1*v2 + q.C*v2*v2
}

// DDX returns d(cost)/d(v1), the partial derivative with respect to this agent's own
// value, holding v2 fixed. Used by C-DPOP's continuous gradient-descent refinement.
func (q Quadratic) DDX(v1, v2 float64) float64 {
	return 2*q.A*v1 + q.B*v2
}

// DDY returns d(cost)/d(v2), the partial derivative with respect to the other party's
// value, holding v1 fixed.
func (q Quadratic) DDY(v1, v2 float64) float64 {
	return q.B*v1 + 2*q.C*v2
}

// Domain is the ordered list of admissible scalar values for an agent in a given time
// step, supplied by the environment each round.
type Domain []float64

// IndexOf returns the index of v within d, or -1 if absent. Ties in CoCoA/DPOP
// argmin/argmax are broken by "first such value in domain ordering", which is
// exactly index order here.
func (d Domain) IndexOf(v float64) int {
	for i, x := range d {
		if x == v {
			return i
		}
	}
	return -1
}

// Bounds returns the lower and upper bound of the domain, used to clamp continuous
// values produced by gradient descent back into the admissible range.
func (d Domain) Bounds() (lo, hi float64) {
	if len(d) == 0 {
		return 0, 0
	}
	lo, hi = d[0], d[0]
	for _, v := range d[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
