// Package dgc implements the three interchangeable Dynamic Graph Construction
// protocols (DIGCA, DBFS, DDFS). Each elects parent/child/pseudo-parent/pseudo-child
// relations over an agent's in-range peer set and signals start_dcop() exactly once
// per time step once the structure is stable.
package dgc

import (
	"context"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/graphstate"
	"ddcop/message"
)

// Transport is the non-owning handle a DGC engine uses to publish messages and read
// agent facts. It resolves the cyclic agent<->graph reference the original held via
// back-pointers into a borrowed, capability-scoped interface instead.
type Transport interface {
	Publish(ctx context.Context, topic string, msg message.Message) error
	SelfID() agentid.ID
	PublicTopic() string
	AgentTopic(id agentid.ID) string
	EnvTopic() string
	Now() float64
}

// Engine is the shared contract of DIGCA, DBFS, and DDFS.
type Engine interface {
	// OnTimeStep resets per-round transient protocol state for the new in-range set
	// and domain.
	OnTimeStep(ctx context.Context, inRange []agentid.ID, domain constraint.Domain, timestamp float64)
	// HandleMessage processes one DGC-tagged message that has already passed the
	// timestamp fence; returns true if the tag was recognized.
	HandleMessage(ctx context.Context, msg message.Message) bool
	// Connect performs one round of time-triggered protocol work: announce if idle
	// and a potential parent exists, check the quiet-window timeout, service the
	// keepalive loop. Called once per mailbox-loop iteration after draining messages.
	Connect(ctx context.Context)
	// HasPotentialNeighbor reports whether some in-range peer could still become a
	// parent or child this round.
	HasPotentialNeighbor() bool
	// RemoveAgent drops id from all bookkeeping on neighbor loss.
	RemoveAgent(ctx context.Context, id agentid.ID)
	// Graph exposes the rooted-structure result for this round.
	Graph() *graphstate.State
}

// StartDcopFunc invokes the DCOP layer once the graph is stable. It must be
// idempotent: re-entry when the DCOP layer is already running (e.g. after a partial
// restart triggered by neighbor loss) must be a safe no-op.
type StartDcopFunc func(ctx context.Context)

// TraversalOrder selects whether a newly-settled edge triggers start_dcop() on the
// parent (top-down, CoCoA) or the child (bottom-up, DPOP family).
type TraversalOrder int

const (
	TopDown TraversalOrder = iota
	BottomUp
)

// ExtraArgs carries algorithm-specific data attached to CHILD_ADDED/PARENT_ASSIGNED,
// e.g. the sender's domain for the receiving side to adopt.
type ExtraArgs map[string]any
