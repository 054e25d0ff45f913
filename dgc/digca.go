package dgc

import (
	"context"
	"math/rand"
	"time"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/graphstate"
	"ddcop/message"
)

type digcaState int

const (
	digcaInactive digcaState = iota
	digcaActive
)

// Digca implements the announce/respond/add-me handshake: each idle agent announces
// to the group, in-range peers with a lower order respond, and the announcer picks
// one respondent uniformly at random to send an ADD_ME handshake to. Grounded on the
// announce/add-me/child-added/parent-assigned exchange and its quiet-window fallback.
type Digca struct {
	transport Transport
	startDcop StartDcopFunc
	order     TraversalOrder
	rng       *rand.Rand
	maxOutDeg int

	graph *graphstate.State
	state digcaState

	inRange   map[agentid.ID]bool
	domain    constraint.Domain
	timestamp float64

	announceResponses []agentid.ID
	ignoredAnnounces  map[agentid.ID]bool
	parentAlready     map[agentid.ID]bool
	sentParentAvail   bool

	quietWindowStart time.Time
	quietWindow      time.Duration
	dcopStarted      bool

	pingCounts  map[agentid.ID]int
	lastPingAt  map[agentid.ID]time.Time
	pingPeriod  time.Duration
	maxPing     int
	extraArgs   func(peer agentid.ID, args ExtraArgs)
	selfExtra   ExtraArgs
}

// NewDigca builds a Digca engine. quietWindow and pingPeriod are both meant to derive
// from the same AGENT_COMM_TIMEOUT_IN_SECONDS/2 configuration value; maxPing bounds
// how many missed pings tolerate a neighbor before it is declared dead. maxOutDegree
// caps the number of children this agent will accept; 0 (or negative) means
// unbounded.
func NewDigca(transport Transport, startDcop StartDcopFunc, order TraversalOrder, seed int64, maxOutDegree int, quietWindow, pingPeriod time.Duration, maxPing int, selfExtra ExtraArgs, onExtraArgs func(peer agentid.ID, args ExtraArgs)) *Digca {
	return &Digca{
		transport:        transport,
		startDcop:        startDcop,
		order:            order,
		rng:              rand.New(rand.NewSource(seed)),
		maxOutDeg:        maxOutDegree,
		graph:            graphstate.New(),
		state:            digcaInactive,
		inRange:          map[agentid.ID]bool{},
		ignoredAnnounces: map[agentid.ID]bool{},
		parentAlready:    map[agentid.ID]bool{},
		quietWindow:      quietWindow,
		pingCounts:       map[agentid.ID]int{},
		lastPingAt:       map[agentid.ID]time.Time{},
		pingPeriod:       pingPeriod,
		maxPing:          maxPing,
		selfExtra:        selfExtra,
		extraArgs:        onExtraArgs,
	}
}

func (d *Digca) Graph() *graphstate.State { return d.graph }

// OnTimeStep clears per-round bookkeeping and records the new in-range set.
func (d *Digca) OnTimeStep(ctx context.Context, inRange []agentid.ID, domain constraint.Domain, timestamp float64) {
	d.inRange = map[agentid.ID]bool{}
	for _, id := range inRange {
		d.inRange[id] = true
	}
	d.domain = domain
	d.timestamp = timestamp
	d.ignoredAnnounces = map[agentid.ID]bool{}
	d.parentAlready = map[agentid.ID]bool{}
	d.sentParentAvail = false
	d.quietWindowStart = time.Now()
	d.dcopStarted = false
}

// potentialChildren returns in-range peers not already a neighbor and with a higher
// order than self — the side that may ADD_ME to us.
func (d *Digca) potentialChildren() []agentid.ID {
	self := d.transport.SelfID()
	var out []agentid.ID
	for id := range d.inRange {
		if d.graph.HasChild(id) {
			continue
		}
		p, hasParent := d.graph.Parent()
		if hasParent && p == id {
			continue
		}
		if agentid.Less(self, id) {
			out = append(out, id)
		}
	}
	return out
}

func (d *Digca) hasPotentialParent() bool {
	self := d.transport.SelfID()
	for id := range d.inRange {
		if agentid.Less(id, self) {
			return true
		}
	}
	return false
}

func (d *Digca) HasPotentialNeighbor() bool {
	_, hasParent := d.graph.Parent()
	return len(d.potentialChildren()) > 0 || (!hasParent && d.hasPotentialParent())
}

// Connect announces to the group when idle and a lower-ordered in-range peer might
// accept, and otherwise falls back to start_dcop() once the quiet window elapses with
// no new connections.
func (d *Digca) Connect(ctx context.Context) {
	d.servicePings(ctx)

	_, hasParent := d.graph.Parent()
	if !hasParent && d.hasPotentialParent() && d.state == digcaInactive {
		d.publishBroadcast(ctx, message.TagAnnounce, nil)

		// Responses arrive asynchronously via HandleMessage and accumulate into
		// d.announceResponses; the selection below runs on whatever has arrived by
		// the time Connect is next called, mirroring the original's blocking wait
		// replaced here by the cooperative mailbox-loop's natural delay.
		if len(d.announceResponses) > 0 {
			selected := d.announceResponses[d.rng.Intn(len(d.announceResponses))]
			d.publishToAgent(ctx, selected, message.TagAddMe, nil)
			d.state = digcaActive

			seen := map[agentid.ID]bool{}
			for _, a := range d.announceResponses {
				if a == selected || seen[a] {
					continue
				}
				seen[a] = true
				d.publishToAgent(ctx, a, message.TagAnnounceIgnored, nil)
			}
			d.announceResponses = nil
		}
		return
	}

	if !d.dcopStarted && !d.quietWindowStart.IsZero() && time.Since(d.quietWindowStart) > d.quietWindow {
		d.runStartDcop(ctx)
		d.quietWindowStart = time.Time{}
	}
}

func (d *Digca) runStartDcop(ctx context.Context) {
	d.dcopStarted = true
	d.startDcop(ctx)
}

func (d *Digca) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagAnnounce:
		if d.state == digcaInactive && agentid.Less(d.transport.SelfID(), sender) {
			d.publishToAgent(ctx, sender, message.TagAnnounceResponse, nil)
		}
		return true

	case message.TagAnnounceResponse:
		if d.state == digcaInactive {
			d.announceResponses = append(d.announceResponses, sender)
		}
		return true

	case message.TagAnnounceIgnored:
		d.ignoredAnnounces[sender] = true
		return true

	case message.TagAddMe:
		d.handleAddMe(ctx, sender)
		return true

	case message.TagChildAdded:
		d.handleChildAdded(ctx, sender, msg)
		return true

	case message.TagParentAssigned:
		if d.extraArgs != nil {
			d.extraArgs(sender, extractExtraArgs(msg))
		}
		if d.order == TopDown {
			d.runStartDcop(ctx)
		}
		return true

	case message.TagAlreadyActive:
		d.state = digcaInactive
		return true

	case message.TagPing:
		if d.graph.HasChild(sender) || sameID(d.graph, sender) {
			d.publishToAgent(ctx, sender, message.TagPingResponse, nil)
		}
		return true

	case message.TagPingResponse:
		delete(d.pingCounts, sender)
		return true

	case message.TagConstraintChanged:
		if d.order == TopDown && d.graph.HasChild(sender) {
			d.runStartDcop(ctx)
		} else if d.order == BottomUp && sameID(d.graph, sender) {
			d.runStartDcop(ctx)
		}
		return true

	case message.TagParentAvailable:
		if _, ok := d.graph.Parent(); ok {
			d.publishToAgent(ctx, sender, message.TagParentAlreadyAssigned, nil)
		}
		return true

	case message.TagParentAlreadyAssigned:
		d.parentAlready[sender] = true
		if len(d.parentAlready) == len(d.potentialChildren()) {
			d.sentParentAvail = true
			d.runStartDcop(ctx)
		}
		return true
	}
	return false
}

func sameID(g *graphstate.State, id agentid.ID) bool {
	p, ok := g.Parent()
	return ok && p == id
}

func (d *Digca) handleAddMe(ctx context.Context, sender agentid.ID) {
	underCap := d.maxOutDeg <= 0 || len(d.graph.Children()) < d.maxOutDeg
	if d.state == digcaInactive && underCap {
		if d.graph.AddChild(sender) {
			d.publishToAgent(ctx, sender, message.TagChildAdded, map[string]any{"extra_args": d.selfExtra})
			d.publishToEnv(ctx, message.TagAddGraphEdge, map[string]any{
				"from": string(d.transport.SelfID()),
				"to":   string(sender),
			})
			return
		}
	}
	d.publishToAgent(ctx, sender, message.TagAlreadyActive, nil)
}

func (d *Digca) handleChildAdded(ctx context.Context, sender agentid.ID, msg message.Message) {
	_, hasParent := d.graph.Parent()
	if d.state != digcaActive || hasParent {
		return
	}
	d.state = digcaInactive
	d.graph.SetParent(sender)
	if d.extraArgs != nil {
		d.extraArgs(sender, extractExtraArgs(msg))
	}
	d.publishToAgent(ctx, sender, message.TagParentAssigned, map[string]any{"extra_args": d.selfExtra})
	d.publishToEnv(ctx, message.TagAddGraphEdge, map[string]any{
		"from": string(sender),
		"to":   string(d.transport.SelfID()),
	})
	if d.order == BottomUp {
		d.runStartDcop(ctx)
	}
}

func extractExtraArgs(msg message.Message) ExtraArgs {
	if v, ok := msg.Payload["extra_args"]; ok {
		if m, ok := v.(map[string]any); ok {
			return ExtraArgs(m)
		}
	}
	return nil
}

// RemoveAgent handles a neighbor dropping out of range, reopening the announce cycle
// if the lost neighbor was our parent.
func (d *Digca) RemoveAgent(ctx context.Context, id agentid.ID) {
	if p, ok := d.graph.Parent(); ok && p == id {
		d.state = digcaInactive
	}
	d.graph.RemoveNeighbor(id)
	delete(d.pingCounts, id)
	delete(d.lastPingAt, id)
}

// servicePings runs the keepalive loop inline with Connect: every pingPeriod it pings
// each neighbor and counts the pings sent since that neighbor's last PING_RESPONSE;
// a neighbor whose count reaches maxPing (the ping just sent included) is declared
// dead.
func (d *Digca) servicePings(ctx context.Context) {
	now := time.Now()
	for _, id := range d.graph.Neighbors() {
		last, seen := d.lastPingAt[id]
		if !seen || now.Sub(last) >= d.pingPeriod {
			d.publishToAgent(ctx, id, message.TagPing, nil)
			d.pingCounts[id]++
			d.lastPingAt[id] = now
		}
	}

	var dead []agentid.ID
	for id, count := range d.pingCounts {
		if count >= d.maxPing {
			dead = append(dead, id)
		}
	}
	if len(dead) == 0 {
		return
	}
	for _, id := range dead {
		d.RemoveAgent(ctx, id)
	}
	d.runStartDcop(ctx)
}

func (d *Digca) publishBroadcast(ctx context.Context, tag message.Tag, payload map[string]any) {
	msg := message.New(tag, string(d.transport.SelfID()), d.transport.Now(), payload)
	_ = d.transport.Publish(ctx, d.transport.PublicTopic(), msg)
}

func (d *Digca) publishToAgent(ctx context.Context, to agentid.ID, tag message.Tag, payload map[string]any) {
	msg := message.New(tag, string(d.transport.SelfID()), d.transport.Now(), payload)
	_ = d.transport.Publish(ctx, d.transport.AgentTopic(to), msg)
}

func (d *Digca) publishToEnv(ctx context.Context, tag message.Tag, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	msg := message.New(tag, string(d.transport.SelfID()), d.transport.Now(), payload)
	_ = d.transport.Publish(ctx, d.transport.EnvTopic(), msg)
}

var _ Engine = (*Digca)(nil)
