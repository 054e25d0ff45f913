// Package dcop implements the three interchangeable DCOP optimizers (CoCoA, DPOP,
// C-DPOP) that run on top of whatever rooted structure the dgc package produces.
// Each computes a value from the agent's current domain that locally optimizes the
// sum of edge-constraint evaluations with chosen neighbor values.
package dcop

import (
	"context"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/graphstate"
	"ddcop/message"
)

// Transport is the non-owning handle a DCOP engine uses to publish messages and
// read agent facts, resolving the cyclic agent<->dcop reference the original held
// via back-pointers into a borrowed, capability-scoped interface instead.
type Transport interface {
	Publish(ctx context.Context, topic string, msg message.Message) error
	SelfID() agentid.ID
	AgentTopic(id agentid.ID) string
	EnvTopic() string
	MonitoringTopic() string
	Now() float64
}

// TraversalOrder says whether the dgc layer must call start_dcop() on the parent
// side of a newly-settled edge (top-down, CoCoA) or the child side (bottom-up, the
// DPOP family). Mirrors dgc.TraversalOrder; duplicated rather than imported so
// neither package depends on the other -- both are leaves the agent package wires
// together.
type TraversalOrder int

const (
	TopDown TraversalOrder = iota
	BottomUp
)

// OptimizationOp selects whether the engine minimizes or maximizes accumulated cost.
type OptimizationOp int

const (
	Min OptimizationOp = iota
	Max
)

// Engine is the shared contract of CoCoA, DPOP, and C-DPOP. The multi-inheritance
// among the DCOP classes in the original source (DPOP <- C-DPOP) maps to this
// interface plus composition: CDPOPEngine embeds *DPOPEngine and overrides the
// compute-util-and-value hook, rather than subclassing.
type Engine interface {
	// Name identifies the algorithm, used in snapshots/diagnostics.
	Name() string
	// TraversalOrder reports whether this algorithm expects start_dcop() top-down or
	// bottom-up.
	TraversalOrder() TraversalOrder
	// OnTimeStep resets per-round transient state for the new domain.
	OnTimeStep(domain constraint.Domain, timestamp float64)
	// ExtraArgs returns the data attached to this agent's CHILD_ADDED/PARENT_ASSIGNED
	// replies for the peer to adopt (e.g. this agent's domain, for DPOP's util matrix).
	ExtraArgs() map[string]any
	// ReceiveExtraArgs adopts a peer's extra args, received via the dgc layer's
	// handshake.
	ReceiveExtraArgs(sender agentid.ID, args map[string]any)
	// OnAgentRemoved clears any per-neighbor bookkeeping for a lost peer.
	OnAgentRemoved(id agentid.ID)
	// HandleMessage processes one DCOP-tagged message that has already passed the
	// timestamp fence; returns true if the tag was recognized.
	HandleMessage(ctx context.Context, msg message.Message) bool
	// Execute is start_dcop(): the entry point invoked once the graph layer declares
	// the structure stable. Must be idempotent -- re-entry while already running is a
	// safe no-op or restart, never undefined behavior.
	Execute(ctx context.Context)
	// CanResolve reports whether enough information has arrived to select a value.
	CanResolve() bool
	// Resolve selects this agent's value iff CanResolve(); this is resolve_value().
	Resolve(ctx context.Context)
	// Value returns the agent's selected value for this round, if any.
	Value() (float64, bool)
	// Cost returns the accumulated cost of the current value against its neighbors.
	Cost() float64
	// CPA returns the current partial assignment accumulated so far.
	CPA() map[agentid.ID]float64
}

// Deps bundles the constructor-time dependencies every Engine needs: its graph
// view, its oracle for evaluating edge costs, and the transport handle.
type Deps struct {
	Transport Transport
	Graph     *graphstate.State
	Oracle    constraint.Oracle
	SelfID    agentid.ID
	Op        OptimizationOp
}

func (d Deps) publishToAgent(ctx context.Context, to agentid.ID, tag message.Tag, payload map[string]any) {
	msg := message.New(tag, string(d.SelfID), d.Transport.Now(), payload)
	_ = d.Transport.Publish(ctx, d.Transport.AgentTopic(to), msg)
}

func (d Deps) publishToEnv(ctx context.Context, tag message.Tag, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := message.New(tag, string(d.SelfID), d.Transport.Now(), payload)
	_ = d.Transport.Publish(ctx, d.Transport.EnvTopic(), msg)
}

func (d Deps) publishToMonitoring(ctx context.Context, tag message.Tag, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := message.New(tag, string(d.SelfID), d.Transport.Now(), payload)
	_ = d.Transport.Publish(ctx, d.Transport.MonitoringTopic(), msg)
}

// argBest picks the index of the best value in xs under op, tie-breaking on the
// first (lowest-index) occurrence -- the deterministic tiebreak spec §8 invariant 8
// requires.
func argBest(xs []float64, op OptimizationOp) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if (op == Min && xs[i] < xs[best]) || (op == Max && xs[i] > xs[best]) {
			best = i
		}
	}
	return best
}

func applyOp(xs []float64, op OptimizationOp) float64 {
	return xs[argBest(xs, op)]
}
