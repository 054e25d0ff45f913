package dgc

import (
	"context"
	"sort"
	"time"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/graphstate"
	"ddcop/message"
)

// Ddfs implements the depth-first pseudo-tree protocol: the environment first
// gossips each agent's in-range peer count, each agent classifies every in-range
// peer as a potential child or potential parent from that count (ties broken by
// id), leaves begin a value-propagation round that assigns each potential parent a
// discrete level, and every agent picks the potential parent with the smallest
// level as its tree parent and the rest as pseudo-parents. Grounded on
// original_source/mascoord/src/algorithms/graphs/ddfs.py.
//
// Deviation from the original: ddfs.py's receive_value_message retrigger path (run
// when a split arrives after value messages were paused) replays an empty message
// rather than the paused ones, silently dropping their sender/value -- a bug, not a
// protocol requirement. This engine replays each paused message instead.
type Ddfs struct {
	transport Transport
	startDcop StartDcopFunc
	order     TraversalOrder

	graph *graphstate.State

	inRange   map[agentid.ID]bool
	domain    constraint.Domain
	timestamp float64

	neighborCounts map[agentid.ID]int
	childrenTemp   []agentid.ID
	parentsTemp    []agentid.ID

	parentLevels map[agentid.ID]int
	valueMsgs    map[agentid.ID]int
	pausedValue  []ddfsValueMsg
	max          int

	quietWindowStart time.Time
	quietWindow      time.Duration
	dcopStarted      bool

	selfExtra   ExtraArgs
	onExtraArgs func(peer agentid.ID, args ExtraArgs)
}

type ddfsValueMsg struct {
	sender agentid.ID
	value  int
}

// NewDdfs builds a Ddfs engine. quietWindow derives from
// AGENT_COMM_TIMEOUT_IN_SECONDS/2, per spec §9.
func NewDdfs(transport Transport, startDcop StartDcopFunc, order TraversalOrder, quietWindow time.Duration, selfExtra ExtraArgs, onExtraArgs func(peer agentid.ID, args ExtraArgs)) *Ddfs {
	return &Ddfs{
		transport:      transport,
		startDcop:      startDcop,
		order:          order,
		graph:          graphstate.New(),
		inRange:        map[agentid.ID]bool{},
		neighborCounts: map[agentid.ID]int{},
		parentLevels:   map[agentid.ID]int{},
		valueMsgs:      map[agentid.ID]int{},
		quietWindow:    quietWindow,
		selfExtra:      selfExtra,
		onExtraArgs:    onExtraArgs,
	}
}

func (d *Ddfs) Graph() *graphstate.State { return d.graph }

// OnTimeStep resets per-round state and gossips this agent's in-range count to the
// environment, which relays DDFS_NEIGHBOR_DATA between agents.
func (d *Ddfs) OnTimeStep(ctx context.Context, inRange []agentid.ID, domain constraint.Domain, timestamp float64) {
	d.graph.Reset()
	d.inRange = map[agentid.ID]bool{}
	for _, id := range inRange {
		d.inRange[id] = true
	}
	d.domain = domain
	d.timestamp = timestamp
	d.neighborCounts = map[agentid.ID]int{}
	d.childrenTemp = nil
	d.parentsTemp = nil
	d.parentLevels = map[agentid.ID]int{}
	d.valueMsgs = map[agentid.ID]int{}
	d.pausedValue = nil
	d.max = 0
	d.quietWindowStart = time.Now()
	d.dcopStarted = false

	d.publishToEnv(ctx, message.TagDdfsNeighborData, map[string]any{
		"num_agents_in_comm_range": float64(len(d.inRange)),
	})
}

func (d *Ddfs) HasPotentialNeighbor() bool { return len(d.inRange) > 0 }

func (d *Ddfs) Connect(ctx context.Context) {
	if !d.dcopStarted && !d.quietWindowStart.IsZero() && time.Since(d.quietWindowStart) > d.quietWindow {
		d.runStartDcop(ctx)
		d.quietWindowStart = time.Time{}
	}
}

func (d *Ddfs) runStartDcop(ctx context.Context) {
	d.dcopStarted = true
	d.startDcop(ctx)
}

func (d *Ddfs) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagDdfsNeighborData:
		d.receiveNeighborData(ctx, sender, msg)
		return true
	case message.TagDdfsValue:
		v, _ := msg.Payload["value"].(float64)
		d.receiveValueMessage(ctx, &ddfsValueMsg{sender: sender, value: int(v)})
		return true
	case message.TagDdfsPosition:
		p, _ := msg.Payload["position"].(float64)
		d.receivePosition(ctx, sender, int(p))
		return true
	case message.TagDdfsChild:
		d.receiveChild(ctx, sender, msg)
		return true
	case message.TagDdfsPseudoChild:
		d.receivePseudoChild(ctx, sender, msg)
		return true
	}
	return false
}

func (d *Ddfs) receiveNeighborData(ctx context.Context, sender agentid.ID, msg message.Message) {
	count, _ := msg.Payload["num_agents_in_comm_range"].(float64)
	d.neighborCounts[sender] = int(count)

	if len(d.neighborCounts) < len(d.inRange) {
		return
	}
	for id := range d.inRange {
		if _, ok := d.neighborCounts[id]; !ok {
			return
		}
	}
	d.splitNeighbors(ctx)
}

// splitNeighbors classifies every in-range peer as a potential child (strictly
// fewer in-range peers, or equal count with a strictly greater id) or a potential
// parent, and, if this agent is a leaf (no potential children), begins the
// value-propagation round that will order its potential parents by level.
func (d *Ddfs) splitNeighbors(ctx context.Context) {
	self := d.transport.SelfID()
	selfCount := len(d.inRange)
	for peer, count := range d.neighborCounts {
		if count < selfCount || (count == selfCount && agentid.Less(self, peer)) {
			d.childrenTemp = append(d.childrenTemp, peer)
		} else {
			d.parentsTemp = append(d.parentsTemp, peer)
		}
	}

	if len(d.childrenTemp) == 0 && len(d.parentsTemp) > 0 {
		d.max = 1
		for _, p := range d.parentsTemp {
			d.publishToAgent(ctx, p, message.TagDdfsValue, map[string]any{"value": float64(d.max)})
		}
	}

	d.neighborCounts = map[agentid.ID]int{}

	if len(d.pausedValue) > 0 {
		paused := d.pausedValue
		d.pausedValue = nil
		for i := range paused {
			d.receiveValueMessage(ctx, &paused[i])
		}
	}
}

// receiveValueMessage processes one DDFS_VALUE_MSG, propagating the running level
// maximum upward to potential parents and the resulting position downward to
// potential children once every potential child has reported in. Before the split
// has happened (or while potential children are still outstanding), the message is
// queued in pausedValue.
func (d *Ddfs) receiveValueMessage(ctx context.Context, vm *ddfsValueMsg) {
	d.valueMsgs[vm.sender] = vm.value
	if d.max < vm.value {
		d.max = vm.value
	}

	splitExecuted := len(d.childrenTemp) > 0 || len(d.parentsTemp) > 0
	allChildValuesIn := true
	for _, c := range d.childrenTemp {
		if _, ok := d.valueMsgs[c]; !ok {
			allChildValuesIn = false
			break
		}
	}

	if !splitExecuted || !allChildValuesIn {
		d.pausedValue = append(d.pausedValue, *vm)
		return
	}

	d.max++
	for _, p := range d.parentsTemp {
		d.publishToAgent(ctx, p, message.TagDdfsValue, map[string]any{"value": float64(d.max)})
	}
	for _, c := range d.childrenTemp {
		d.publishToAgent(ctx, c, message.TagDdfsPosition, map[string]any{"position": float64(d.max)})
	}
}

// receivePosition records a potential parent's announced level; once every
// potential parent has reported, the lowest-level one becomes the tree parent and
// the rest become pseudo-parents.
func (d *Ddfs) receivePosition(ctx context.Context, sender agentid.ID, position int) {
	d.parentLevels[sender] = position
	if len(d.parentLevels) != len(d.parentsTemp) {
		return
	}

	parents := append([]agentid.ID{}, d.parentsTemp...)
	sort.Slice(parents, func(i, j int) bool { return d.parentLevels[parents[i]] < d.parentLevels[parents[j]] })
	parent := parents[0]
	pseudoParents := parents[1:]

	d.graph.SetParent(parent)
	d.publishToAgent(ctx, parent, message.TagDdfsChild, map[string]any{"extra_args": d.selfExtra})

	for _, p := range pseudoParents {
		d.graph.AddPseudoParent(p)
		d.publishToAgent(ctx, p, message.TagDdfsPseudoChild, map[string]any{"extra_args": d.selfExtra})
	}

	if d.order == BottomUp {
		d.runStartDcop(ctx)
	}
}

func (d *Ddfs) receiveChild(ctx context.Context, sender agentid.ID, msg message.Message) {
	d.graph.AddChild(sender)
	if d.onExtraArgs != nil {
		d.onExtraArgs(sender, extractExtraArgs(msg))
	}
	d.publishToEnv(ctx, message.TagAddGraphEdge, map[string]any{
		"from": string(d.transport.SelfID()),
		"to":   string(sender),
	})
	d.checkTopDownStart(ctx)
}

func (d *Ddfs) receivePseudoChild(ctx context.Context, sender agentid.ID, msg message.Message) {
	d.graph.AddPseudoChild(sender)
	if d.onExtraArgs != nil {
		d.onExtraArgs(sender, extractExtraArgs(msg))
	}
	d.checkTopDownStart(ctx)
}

func (d *Ddfs) checkTopDownStart(ctx context.Context) {
	if d.order != TopDown {
		return
	}
	total := len(d.graph.Children()) + len(d.graph.PseudoChildren())
	if total == len(d.inRange) {
		d.runStartDcop(ctx)
	}
}

// RemoveAgent drops id from every bookkeeping set on neighbor loss.
func (d *Ddfs) RemoveAgent(ctx context.Context, id agentid.ID) {
	d.graph.RemoveNeighbor(id)
	delete(d.inRange, id)
	delete(d.neighborCounts, id)
	delete(d.parentLevels, id)
	delete(d.valueMsgs, id)
}

func (d *Ddfs) publishToAgent(ctx context.Context, to agentid.ID, tag message.Tag, payload map[string]any) {
	msg := message.New(tag, string(d.transport.SelfID()), d.transport.Now(), payload)
	_ = d.transport.Publish(ctx, d.transport.AgentTopic(to), msg)
}

func (d *Ddfs) publishToEnv(ctx context.Context, tag message.Tag, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := message.New(tag, string(d.transport.SelfID()), d.transport.Now(), payload)
	_ = d.transport.Publish(ctx, d.transport.EnvTopic(), msg)
}

var _ Engine = (*Ddfs)(nil)
