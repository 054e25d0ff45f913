package dcop

import (
	"context"
	"math/rand"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/message"
)

type cocoaState int

const (
	cocoaIdle cocoaState = iota
	cocoaActive
	cocoaDone
)

type costEntry struct {
	v1, v2, cost float64
}

// CoCoAEngine implements top-down single-pass CoCoA: the root (or any ACTIVE agent
// whose parent has gone DONE) inquires of every neighbor's domain, each neighbor
// replies with a cost map of its locally-best response per asked value, and the
// asker sums the maps element-wise and picks the value minimizing (or maximizing)
// total cost. Grounded on
// original_source/mascoord/src/algorithms/dcop/cocoa.py.
type CoCoAEngine struct {
	deps Deps
	rng  *rand.Rand

	state  cocoaState
	domain constraint.Domain
	value  *float64
	cost   float64
	cpa    map[agentid.ID]float64

	costMap map[agentid.ID][]costEntry
}

// NewCoCoAEngine builds a CoCoAEngine. seed controls the isolated-agent random
// value draw, keeping test runs reproducible.
func NewCoCoAEngine(deps Deps, seed int64) *CoCoAEngine {
	return &CoCoAEngine{
		deps:    deps,
		rng:     rand.New(rand.NewSource(seed)),
		cpa:     map[agentid.ID]float64{},
		costMap: map[agentid.ID][]costEntry{},
	}
}

func (c *CoCoAEngine) Name() string                    { return "cocoa" }
func (c *CoCoAEngine) TraversalOrder() TraversalOrder  { return TopDown }
func (c *CoCoAEngine) Value() (float64, bool)          { return derefValue(c.value) }
func (c *CoCoAEngine) Cost() float64                   { return c.cost }
func (c *CoCoAEngine) CPA() map[agentid.ID]float64     { return c.cpa }
func (c *CoCoAEngine) ExtraArgs() map[string]any       { return map[string]any{"alg": c.Name()} }
func (c *CoCoAEngine) ReceiveExtraArgs(agentid.ID, map[string]any) {}

func derefValue(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// OnTimeStep resets per-round transient state: state, domain, value, cost, the cost
// maps, and the cpa. The cpa does not survive across rounds; each round's top-down
// broadcast (spec §3) rebuilds it from scratch.
func (c *CoCoAEngine) OnTimeStep(domain constraint.Domain, timestamp float64) {
	c.state = cocoaIdle
	c.domain = domain
	c.value = nil
	c.cost = 0
	c.cpa = map[agentid.ID]float64{}
	c.costMap = map[agentid.ID][]costEntry{}
}

func (c *CoCoAEngine) OnAgentRemoved(id agentid.ID) {
	delete(c.costMap, id)
}

// Execute is start_dcop(): become ACTIVE and inquire of every neighbor, or select a
// random value immediately if isolated.
func (c *CoCoAEngine) Execute(ctx context.Context) {
	c.value = nil
	c.state = cocoaActive

	neighbors := c.deps.Graph.Neighbors()
	if len(neighbors) == 0 {
		c.selectRandomValue(ctx)
		return
	}
	for _, n := range neighbors {
		c.deps.publishToAgent(ctx, n, message.TagInquiry, map[string]any{"domain": floatsOf(c.domain)})
	}
}

func (c *CoCoAEngine) selectRandomValue(ctx context.Context) {
	if len(c.domain) == 0 {
		return
	}
	v := c.domain[c.rng.Intn(len(c.domain))]
	c.value = &v
	c.cpa[c.deps.SelfID] = v
	c.publishValueSelected(ctx, v)
}

// CanResolve gates select_value: ACTIVE, has neighbors, and a cost map entry from
// every one of them.
func (c *CoCoAEngine) CanResolve() bool {
	neighbors := c.deps.Graph.Neighbors()
	return c.state == cocoaActive && len(neighbors) > 0 && len(c.costMap) == len(neighbors)
}

func (c *CoCoAEngine) Resolve(ctx context.Context) {
	if c.CanResolve() {
		c.selectValue(ctx)
	}
}

// selectValue sums every neighbor's cost map element-wise over the shared domain
// index and picks the value minimizing (or maximizing) total cost, tie-broken by
// first index -- exactly Domain.IndexOf order.
func (c *CoCoAEngine) selectValue(ctx context.Context) {
	totals := make([]float64, len(c.domain))
	for _, entries := range c.costMap {
		for i, e := range entries {
			if i < len(totals) {
				totals[i] += e.cost
			}
		}
	}

	best := argBest(totals, c.deps.Op)
	v := c.domain[best]
	c.value = &v
	c.cpa[c.deps.SelfID] = v
	c.state = cocoaDone

	for _, n := range c.deps.Graph.Neighbors() {
		c.deps.publishToAgent(ctx, n, message.TagUpdateState, map[string]any{
			"state": "DONE",
			"cpa":   cpaPayload(c.cpa),
		})
	}
	c.costMap = map[agentid.ID][]costEntry{}
	c.publishValueSelected(ctx, v)
}

func (c *CoCoAEngine) publishValueSelected(ctx context.Context, v float64) {
	c.computeCost()
	c.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{
		"value": v,
		"cpa":   cpaPayload(c.cpa),
	})
}

func (c *CoCoAEngine) computeCost() {
	if c.value == nil {
		return
	}
	var total float64
	for _, n := range c.deps.Graph.Neighbors() {
		nv, ok := c.cpa[n]
		if !ok {
			continue
		}
		total += c.deps.Oracle.Evaluate(c.deps.SelfID, n, *c.value, nv)
	}
	c.cost = total
}

func (c *CoCoAEngine) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagInquiry:
		c.receiveInquiry(ctx, sender, msg)
		return true
	case message.TagCost:
		c.receiveCost(sender, msg)
		return true
	case message.TagUpdateState:
		c.receiveUpdateState(ctx, sender, msg)
		return true
	}
	return false
}

// receiveInquiry builds a cost map for the asker's domain: for every value the
// asker might pick, the locally best (askerValue, ownValue, cost) pair. If this
// agent has already settled its own value and the asker is a tree child, the
// search is restricted to that fixed value -- a settled ancestor does not revise
// its choice to please a descendant.
func (c *CoCoAEngine) receiveInquiry(ctx context.Context, sender agentid.ID, msg message.Message) {
	senderDomain := constraint.Domain(floatsFromAny(msg.Payload["domain"]))

	searchDomain := c.domain
	if c.value != nil && c.deps.Graph.HasChild(sender) {
		searchDomain = constraint.Domain{*c.value}
	}

	entries := make([]costEntry, 0, len(senderDomain))
	for _, v1 := range senderDomain {
		bestCost := 0.0
		haveBest := false
		var bestV2 float64
		for _, v2 := range searchDomain {
			cost := c.deps.Oracle.Evaluate(c.deps.SelfID, sender, v2, v1)
			if !haveBest || better(cost, bestCost, c.deps.Op) {
				bestCost = cost
				bestV2 = v2
				haveBest = true
			}
		}
		entries = append(entries, costEntry{v1: v1, v2: bestV2, cost: bestCost})
	}

	c.deps.publishToAgent(ctx, sender, message.TagCost, map[string]any{"cost_map": costMapPayload(entries)})
}

func better(candidate, current float64, op OptimizationOp) bool {
	if op == Max {
		return candidate > current
	}
	return candidate < current
}

func (c *CoCoAEngine) receiveCost(sender agentid.ID, msg message.Message) {
	c.costMap[sender] = entriesFromAny(msg.Payload["cost_map"])
}

// receiveUpdateState adopts a neighbor's pushed cpa and, on its first DONE
// notification, starts this agent's own resolution using that cpa as a starting
// point.
func (c *CoCoAEngine) receiveUpdateState(ctx context.Context, _ agentid.ID, msg message.Message) {
	state, _ := msg.Payload["state"].(string)
	if state != "DONE" || c.value != nil {
		return
	}
	c.cpa = cpaFromAny(msg.Payload["cpa"])
	c.Execute(ctx)
}

func floatsOf(d constraint.Domain) []float64 { return []float64(d) }

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

func costMapPayload(entries []costEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = []float64{e.v1, e.v2, e.cost}
	}
	return out
}

func entriesFromAny(v any) []costEntry {
	raw, ok := v.([]any)
	if !ok {
		if direct, ok := v.([]costEntry); ok {
			return direct
		}
		return nil
	}
	out := make([]costEntry, 0, len(raw))
	for _, x := range raw {
		triple, ok := x.([]float64)
		if !ok || len(triple) != 3 {
			continue
		}
		out = append(out, costEntry{v1: triple[0], v2: triple[1], cost: triple[2]})
	}
	return out
}

func cpaPayload(cpa map[agentid.ID]float64) map[string]any {
	out := make(map[string]any, len(cpa))
	for k, v := range cpa {
		out[string(k)] = v
	}
	return out
}

func cpaFromAny(v any) map[agentid.ID]float64 {
	out := map[agentid.ID]float64{}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	for k, raw := range m {
		if f, ok := raw.(float64); ok {
			out[agentid.ID(k)] = f
		}
	}
	return out
}

var _ Engine = (*CoCoAEngine)(nil)
