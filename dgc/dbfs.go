package dgc

import (
	"context"
	"time"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/graphstate"
	"ddcop/message"
)

// Dbfs implements the breadth-first rooted-tree protocol: the minimum-id agent among
// itself and its in-range peers roots the tree at level 0 and broadcasts LEVEL(0);
// each peer adopts its first LEVEL sender as parent, ACKs it, and forwards
// LEVEL(level+1) to every in-range peer with a strictly greater id -- the tiebreak
// that keeps concurrent discovery acyclic. A peer that already has a parent replies
// LEVEL_IGNORED instead. start_dcop() fires once every potential child has answered.
// Grounded on original_source/mascoord/src/algorithms/graphs/dbfs.py.
type Dbfs struct {
	transport Transport
	startDcop StartDcopFunc
	order     TraversalOrder

	graph *graphstate.State
	level int

	inRange   map[agentid.ID]bool
	domain    constraint.Domain
	timestamp float64

	expectedReplies int
	repliesSeen     map[agentid.ID]bool

	quietWindowStart time.Time
	quietWindow      time.Duration
	dcopStarted      bool

	selfExtra   ExtraArgs
	onExtraArgs func(peer agentid.ID, args ExtraArgs)
}

// NewDbfs builds a Dbfs engine. quietWindow derives from
// AGENT_COMM_TIMEOUT_IN_SECONDS/2, per spec §9, and forces start_dcop() for an
// isolated or partially-unresponsive agent.
func NewDbfs(transport Transport, startDcop StartDcopFunc, order TraversalOrder, quietWindow time.Duration, selfExtra ExtraArgs, onExtraArgs func(peer agentid.ID, args ExtraArgs)) *Dbfs {
	return &Dbfs{
		transport:   transport,
		startDcop:   startDcop,
		order:       order,
		graph:       graphstate.New(),
		inRange:     map[agentid.ID]bool{},
		repliesSeen: map[agentid.ID]bool{},
		quietWindow: quietWindow,
		selfExtra:   selfExtra,
		onExtraArgs: onExtraArgs,
	}
}

func (b *Dbfs) Graph() *graphstate.State { return b.graph }

// OnTimeStep clears per-round bookkeeping, records the new in-range set, and kicks
// off the round: the minimum-id agent in the component broadcasts LEVEL(0).
func (b *Dbfs) OnTimeStep(ctx context.Context, inRange []agentid.ID, domain constraint.Domain, timestamp float64) {
	b.graph.Reset()
	b.level = 0
	b.inRange = map[agentid.ID]bool{}
	for _, id := range inRange {
		b.inRange[id] = true
	}
	b.domain = domain
	b.timestamp = timestamp
	b.expectedReplies = 0
	b.repliesSeen = map[agentid.ID]bool{}
	b.quietWindowStart = time.Now()
	b.dcopStarted = false

	b.beginRound(ctx)
}

func (b *Dbfs) beginRound(ctx context.Context) {
	if len(b.inRange) == 0 {
		return
	}
	self := b.transport.SelfID()
	smallest := self
	for id := range b.inRange {
		if agentid.Less(id, smallest) {
			smallest = id
		}
	}
	if smallest != self {
		return
	}

	for id := range b.inRange {
		b.publishToAgent(ctx, id, message.TagLevel, map[string]any{"level": float64(0), "extra_args": b.selfExtra})
		b.expectedReplies++
	}
}

func (b *Dbfs) HasPotentialNeighbor() bool { return len(b.inRange) > 0 }

// Connect's only time-triggered behavior is the quiet-window fallback: an agent that
// never received a LEVEL message (e.g. it is not the root of its component and the
// root hasn't reached it yet) still needs to eventually run DCOP.
func (b *Dbfs) Connect(ctx context.Context) {
	if !b.dcopStarted && !b.quietWindowStart.IsZero() && time.Since(b.quietWindowStart) > b.quietWindow {
		b.runStartDcop(ctx)
		b.quietWindowStart = time.Time{}
	}
}

func (b *Dbfs) runStartDcop(ctx context.Context) {
	b.dcopStarted = true
	b.startDcop(ctx)
}

func (b *Dbfs) checkAndStartDcop(ctx context.Context) {
	if b.expectedReplies == len(b.repliesSeen) {
		b.runStartDcop(ctx)
	}
}

func (b *Dbfs) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagLevel:
		b.handleLevel(ctx, sender, msg)
		return true
	case message.TagAck:
		b.handleAck(ctx, sender, msg)
		return true
	case message.TagLevelIgnored:
		b.repliesSeen[sender] = true
		b.checkAndStartDcop(ctx)
		return true
	}
	return false
}

func (b *Dbfs) handleLevel(ctx context.Context, sender agentid.ID, msg message.Message) {
	if _, hasParent := b.graph.Parent(); hasParent {
		b.publishToAgent(ctx, sender, message.TagLevelIgnored, nil)
		return
	}

	senderLevel, _ := msg.Payload["level"].(float64)
	b.graph.SetParent(sender)
	if b.onExtraArgs != nil {
		b.onExtraArgs(sender, extractExtraArgs(msg))
	}
	b.publishToAgent(ctx, sender, message.TagAck, map[string]any{"extra_args": b.selfExtra})
	b.publishToEnv(ctx, message.TagAddGraphEdge, map[string]any{
		"from": string(sender),
		"to":   string(b.transport.SelfID()),
	})

	b.level = int(senderLevel) + 1
	self := b.transport.SelfID()
	for id := range b.inRange {
		if id == sender {
			continue
		}
		if agentid.Less(self, id) {
			b.publishToAgent(ctx, id, message.TagLevel, map[string]any{"level": float64(b.level), "extra_args": b.selfExtra})
			b.expectedReplies++
		}
	}

	if b.expectedReplies == 0 {
		b.checkAndStartDcop(ctx)
	}
}

func (b *Dbfs) handleAck(ctx context.Context, sender agentid.ID, msg message.Message) {
	b.graph.AddChild(sender)
	b.repliesSeen[sender] = true
	if b.onExtraArgs != nil {
		b.onExtraArgs(sender, extractExtraArgs(msg))
	}
	b.publishToEnv(ctx, message.TagAddGraphEdge, map[string]any{
		"from": string(b.transport.SelfID()),
		"to":   string(sender),
	})
	b.checkAndStartDcop(ctx)
}

// RemoveAgent drops id from every set it occupies and releases any reply still owed,
// so a dead expected-child no longer blocks start_dcop().
func (b *Dbfs) RemoveAgent(ctx context.Context, id agentid.ID) {
	b.graph.RemoveNeighbor(id)
	delete(b.inRange, id)
	if _, owed := b.repliesSeen[id]; !owed {
		b.repliesSeen[id] = true
		b.checkAndStartDcop(ctx)
	}
}

func (b *Dbfs) publishToAgent(ctx context.Context, to agentid.ID, tag message.Tag, payload map[string]any) {
	msg := message.New(tag, string(b.transport.SelfID()), b.transport.Now(), payload)
	_ = b.transport.Publish(ctx, b.transport.AgentTopic(to), msg)
}

func (b *Dbfs) publishToEnv(ctx context.Context, tag message.Tag, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := message.New(tag, string(b.transport.SelfID()), b.transport.Now(), payload)
	_ = b.transport.Publish(ctx, b.transport.EnvTopic(), msg)
}

var _ Engine = (*Dbfs)(nil)
