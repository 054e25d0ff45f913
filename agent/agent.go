// Package agent implements the single-threaded cooperative mailbox loop (spec §4.2):
// one goroutine per agent, draining its mailbox, applying the timestamp fence, then
// calling graph.Connect() and dcop.Resolve() in that fixed order every iteration
// before yielding back to the broker. There is no shared mutable state between
// agents; the only synchronization is message passing, matching the teacher's
// agent_worker goroutine-per-unit-of-work shape
// (reinforcement.alphaMonteCarloVanillaTrain), generalized from "generate episodes"
// to "drain mailbox, advance protocol state".
package agent

import (
	"context"
	"log"
	"time"

	"ddcop/agentid"
	"ddcop/broker"
	"ddcop/constraint"
	"ddcop/dcop"
	"ddcop/dgc"
	"ddcop/message"
	"ddcop/metrics"
)

// Config bundles the construction-time parameters of one Agent that don't depend on
// the Agent itself. Graph and Dcop are supplied afterward via Wire, since both are
// built using this Agent as their Transport (see Wire).
type Config struct {
	ID            agentid.ID
	Domain        string
	Broker        broker.Broker
	YieldInterval time.Duration
	Now           func() float64 // injectable clock for tests; defaults to wall time
}

// Agent owns its mailbox, its GraphState (via Graph), its DcopState (via Dcop), and
// its own metrics counters. It is the only writer of its own fields; graph and dcop
// communicate with it only through the Transport interfaces they were constructed
// with, resolving the cyclic agent<->graph<->dcop back-pointers the original held by
// giving each a non-owning handle instead (spec §9).
type Agent struct {
	id     agentid.ID
	domain string
	brk    broker.Broker
	graph  dgc.Engine
	dcop   dcop.Engine
	now    func() float64

	metrics *metrics.Counters

	yieldInterval time.Duration

	latestEventTimestamp float64
	terminate            bool

	mailbox     <-chan message.Message
	unsubscribe func()
}

// New constructs the Agent shell: its identity, broker handle, clock, and metrics.
// Graph and Dcop are attached afterward by Wire, once they have been built with this
// Agent as their Transport -- a small unavoidable two-step construction, since Go has
// no forward references (see cmd/ddcopsim for the standard order: New, then build the
// dgc/dcop engines passing the *Agent as Transport, then Wire).
func New(cfg Config) *Agent {
	now := cfg.Now
	if now == nil {
		now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	yield := cfg.YieldInterval
	if yield <= 0 {
		yield = 10 * time.Millisecond
	}
	return &Agent{
		id:            cfg.ID,
		domain:        cfg.Domain,
		brk:           cfg.Broker,
		now:           now,
		metrics:       metrics.New(),
		yieldInterval: yield,
	}
}

// Wire attaches the DGC and DCOP engines this agent drives each round. Must be
// called once, before Run.
func (a *Agent) Wire(graph dgc.Engine, dc dcop.Engine) {
	a.graph = graph
	a.dcop = dc
}

// Metrics exposes this agent's per-tag message counters (C7), read by the caller for
// publication alongside VALUE_SELECTED or a metrics sink.
func (a *Agent) Metrics() *metrics.Counters { return a.metrics }

// PublishMetricsSnapshot pushes this agent's current per-tag counts to the domain's
// metrics topic, for dashboard.Monitor or any other subscriber (spec §4.8's
// per-message-type metrics).
func (a *Agent) PublishMetricsSnapshot(ctx context.Context) error {
	counts := make(map[string]int64, 8)
	for tag, n := range a.metrics.Snapshot() {
		counts[string(tag)] = n
	}
	return a.Publish(ctx, message.MetricsTopic(a.domain), message.New(message.TagMetricsSnapshot, string(a.id), a.Now(), map[string]any{
		"counts": counts,
	}))
}

// Transport methods -- the capability-scoped handle dgc/dcop engines were built with.

func (a *Agent) SelfID() agentid.ID             { return a.id }
func (a *Agent) PublicTopic() string            { return message.PublicTopic(a.domain) }
func (a *Agent) AgentTopic(id agentid.ID) string { return message.AgentTopic(a.domain, string(id)) }
func (a *Agent) EnvTopic() string               { return message.EnvTopic(a.domain) }
func (a *Agent) MonitoringTopic() string        { return message.MonitoringTopic(a.domain) }
func (a *Agent) Now() float64                   { return a.now() }

// Publish counts msg's tag and sends it; a VALUE_SELECTED message also carries this
// agent's per-tag counts under "metrics".
func (a *Agent) Publish(ctx context.Context, topic string, msg message.Message) error {
	a.metrics.Count(msg.Type)
	if msg.Type == message.TagValueSelected && msg.Payload != nil {
		counts := make(map[string]int64, 8)
		for tag, n := range a.metrics.Snapshot() {
			counts[string(tag)] = n
		}
		msg.Payload["metrics"] = counts
	}
	return a.brk.Publish(ctx, topic, msg)
}

// Register subscribes this agent's mailbox (its own topic plus the public broadcast)
// and sends AGENT_REGISTRATION to the environment, per spec §4.1's lifecycle group.
func (a *Agent) Register(ctx context.Context) error {
	own, _ := a.brk.Subscribe(ctx, a.AgentTopic(a.id))
	pub, unsubPub := a.brk.Subscribe(ctx, a.PublicTopic())

	merged := make(chan message.Message, 256)
	go func() {
		defer close(merged)
		for {
			select {
			case msg, ok := <-own:
				if !ok {
					own = nil
				} else {
					merged <- msg
				}
			case msg, ok := <-pub:
				if !ok {
					pub = nil
				} else {
					merged <- msg
				}
			case <-ctx.Done():
				return
			}
			if own == nil && pub == nil {
				return
			}
		}
	}()
	a.mailbox = merged
	a.unsubscribe = unsubPub

	return a.Publish(ctx, a.EnvTopic(), message.New(message.TagAgentRegistration, string(a.id), a.Now(), nil))
}

// Run is the cooperative event loop: drain the mailbox, then call graph.Connect()
// then dcop.Resolve() in that order, then yield briefly to the broker. It returns
// when ctx is cancelled or a STOP_AGENT message sets terminate.
func (a *Agent) Run(ctx context.Context) {
	defer a.release()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-a.mailbox:
			if !ok {
				return
			}
			a.dispatch(ctx, msg)
			a.drainPending(ctx)
		}

		if a.terminate {
			return
		}

		a.safely(func() { a.graph.Connect(ctx) })
		a.safely(func() { a.dcop.Resolve(ctx) })

		select {
		case <-time.After(a.yieldInterval):
		case <-ctx.Done():
			return
		}
	}
}

// drainPending empties whatever else has already queued up without blocking, so a
// burst of messages delivered between two Run iterations is fully processed before
// graph.Connect/dcop.Resolve run once for the round, rather than once per message.
func (a *Agent) drainPending(ctx context.Context) {
	for {
		select {
		case msg, ok := <-a.mailbox:
			if !ok {
				return
			}
			a.dispatch(ctx, msg)
			if a.terminate {
				return
			}
		default:
			return
		}
	}
}

// dispatch applies the self-delivery drop and the timestamp fence (spec §4.2), then
// routes the message by tag. STOP_AGENT is exempt from the self-delivery drop, since
// Stop sends it to this agent's own mailbox. A panicking handler is caught and logged
// with the offending tag; the loop continues (spec §7: "handlers never raise across
// the mailbox boundary").
func (a *Agent) dispatch(ctx context.Context, msg message.Message) {
	if msg.Type != message.TagStopAgent && msg.IsSelf(string(a.id)) {
		return
	}
	if msg.Type != message.TagTimeStep && msg.IsStale(a.latestEventTimestamp) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent %s: handler panic on %s: %v", a.id, msg.Type, r)
		}
	}()

	switch {
	case msg.Type == message.TagStopAgent:
		a.terminate = true
	case msg.Type == message.TagTimeStep:
		a.handleTimeStep(ctx, msg)
	case msg.Type.IsDGC():
		if !a.graph.HandleMessage(ctx, msg) {
			log.Printf("agent %s: dgc tag %s not recognized by %T", a.id, msg.Type, a.graph)
		}
	case msg.Type.IsDCOP():
		if !a.dcop.HandleMessage(ctx, msg) {
			log.Printf("agent %s: dcop tag %s not recognized by %T", a.id, msg.Type, a.dcop)
		}
	default:
		log.Printf("agent %s: dropping unrecognized tag %s", a.id, msg.Type)
	}
}

// handleTimeStep applies a new round's in-range set and domain (spec §4.3/§4.6):
// any current neighbor that fell out of range is released -- its edge dropped, its
// DCOP bookkeeping cleared, and the environment notified -- before the graph and
// DCOP layers are reset for the new round.
func (a *Agent) handleTimeStep(ctx context.Context, msg message.Message) {
	a.latestEventTimestamp = msg.Timestamp

	inRange := idsFromAny(msg.Payload["in_range"])
	domain := constraint.Domain(floatsFromAny(msg.Payload["agent_domain"]))

	inRangeSet := make(map[agentid.ID]bool, len(inRange))
	for _, id := range inRange {
		inRangeSet[id] = true
	}

	for _, n := range a.graph.Graph().Neighbors() {
		if inRangeSet[n] {
			continue
		}
		a.graph.RemoveAgent(ctx, n)
		a.dcop.OnAgentRemoved(n)
		a.Publish(ctx, a.EnvTopic(), message.New(message.TagRemoveGraphEdge, string(a.id), a.Now(), map[string]any{
			"from": string(a.id),
			"to":   string(n),
		}))
	}

	a.dcop.OnTimeStep(domain, msg.Timestamp)
	a.graph.OnTimeStep(ctx, inRange, domain, msg.Timestamp)
}

// safely runs fn, catching and logging any panic rather than letting it escape the
// mailbox-loop boundary (spec §7).
func (a *Agent) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("agent %s: recovered from %v", a.id, r)
		}
	}()
	fn()
}

// release unsubscribes from the broker, per spec §4.2's "the loop exits after
// releasing broker resources."
func (a *Agent) release() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// Stop publishes STOP_AGENT to this agent's own mailbox, the cooperative way to ask
// the loop to exit at its next dispatch.
func (a *Agent) Stop(ctx context.Context) error {
	return a.Publish(ctx, a.AgentTopic(a.id), message.New(message.TagStopAgent, string(a.id), a.Now(), nil))
}

func idsFromAny(v any) []agentid.ID {
	arr, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]agentid.ID); ok {
			return direct
		}
		return nil
	}
	out := make([]agentid.ID, 0, len(arr))
	for _, x := range arr {
		if s, ok := x.(string); ok {
			out = append(out, agentid.ID(s))
		}
	}
	return out
}

func floatsFromAny(v any) []float64 {
	raw, ok := v.([]float64)
	if ok {
		return raw
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(arr))
	for _, x := range arr {
		if f, ok := x.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

// Terminated reports whether this agent has processed a STOP_AGENT message.
func (a *Agent) Terminated() bool { return a.terminate }
