package dcop

import (
	"context"
	"math/rand"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/message"
)

// DPOPEngine implements bottom-up two-phase DPOP: leaves compute a UTIL vector over
// their own domain crossed with their parent's domain and send it upward; each
// interior node sums its children's UTIL vectors into its own crossed-with-parent
// matrix and forwards the projection; the root, having no parent to project onto,
// picks its value directly from the fully-summed vector and pushes the resulting
// partial assignment (VALUE messages) back down the tree. Grounded on
// original_source/mascoord/src/algorithms/dcop/dpop.py.
type DPOPEngine struct {
	deps Deps
	rng  *rand.Rand

	domain constraint.Domain
	value  *float64
	cost   float64
	cpa    map[agentid.ID]float64
	params map[agentid.ID]float64

	neighborDomains  map[agentid.ID]constraint.Domain
	utilMessages     map[agentid.ID][]float64
	utilMsgRequested bool
	utilReceived     bool
	xij              [][]float64
}

func NewDPOPEngine(deps Deps, seed int64) *DPOPEngine {
	return &DPOPEngine{
		deps:            deps,
		rng:             rand.New(rand.NewSource(seed)),
		cpa:             map[agentid.ID]float64{},
		params:          map[agentid.ID]float64{},
		neighborDomains: map[agentid.ID]constraint.Domain{},
		utilMessages:    map[agentid.ID][]float64{},
	}
}

func (p *DPOPEngine) Name() string                   { return "dpop" }
func (p *DPOPEngine) TraversalOrder() TraversalOrder { return BottomUp }
func (p *DPOPEngine) Value() (float64, bool)         { return derefValue(p.value) }
func (p *DPOPEngine) Cost() float64                  { return p.cost }
func (p *DPOPEngine) CPA() map[agentid.ID]float64    { return p.cpa }

// ExtraArgs exchanges this agent's domain so a parent can size its UTIL matrix and a
// child can index VALUE messages by domain position -- the "trick to get values of
// neighbors in before setting edge costs" the original comments on.
func (p *DPOPEngine) ExtraArgs() map[string]any {
	return map[string]any{"domain": floatsOf(p.domain), "alg": p.Name()}
}

func (p *DPOPEngine) ReceiveExtraArgs(sender agentid.ID, args map[string]any) {
	p.neighborDomains[sender] = constraint.Domain(floatsFromAny(args["domain"]))
}

func (p *DPOPEngine) OnAgentRemoved(id agentid.ID) {
	delete(p.neighborDomains, id)
	delete(p.utilMessages, id)
}

func (p *DPOPEngine) OnTimeStep(domain constraint.Domain, timestamp float64) {
	p.domain = domain
	p.value = nil
	p.cost = 0
	p.xij = nil
	p.utilMessages = map[agentid.ID][]float64{}
	p.utilMsgRequested = false
	p.utilReceived = false
}

// Execute is execute_dcop(): an isolated agent picks at random, a leaf with a parent
// immediately computes and sends its UTIL, and every other node requests UTIL from
// its children.
func (p *DPOPEngine) Execute(ctx context.Context) {
	neighbors := p.deps.Graph.Neighbors()
	_, hasParent := p.deps.Graph.Parent()
	children := p.deps.Graph.Children()

	switch {
	case len(neighbors) == 0:
		p.selectRandomValue(ctx)
	case hasParent && len(children) == 0:
		p.xij = nil
		p.computeUtilAndValue(ctx)
	case !p.utilMsgRequested:
		p.sendUtilRequestsToChildren(ctx)
		p.utilMsgRequested = true
	}
}

func (p *DPOPEngine) selectRandomValue(ctx context.Context) {
	if len(p.domain) == 0 {
		return
	}
	v := p.domain[p.rng.Intn(len(p.domain))]
	p.value = &v
	p.cpa[p.deps.SelfID] = v
	p.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{"value": v, "cpa": cpaPayload(p.cpa)})
}

func (p *DPOPEngine) sendUtilRequestsToChildren(ctx context.Context) {
	children := p.deps.Graph.Children()
	var pending []agentid.ID
	for _, c := range children {
		if _, ok := p.utilMessages[c]; !ok {
			pending = append(pending, c)
		}
	}
	if len(p.utilMessages) > 0 && len(pending) == 0 {
		p.computeUtilAndValue(ctx)
		return
	}
	for _, c := range pending {
		p.deps.publishToAgent(ctx, c, message.TagRequestUtil, nil)
	}
}

// computeUtilAndValue is _compute_util_and_value(): sum children UTILs, cross with
// the parent's domain (or, at the root, project straight to a value and fan VALUE
// messages out to children).
func (p *DPOPEngine) computeUtilAndValue(ctx context.Context) {
	cUtilSum := make([]float64, len(p.domain))
	for _, child := range p.deps.Graph.Children() {
		cUtil := p.utilMessages[child]
		for i := 0; i < len(cUtilSum) && i < len(cUtil); i++ {
			cUtilSum[i] += cUtil[i]
		}
	}

	parent, hasParent := p.deps.Graph.Parent()
	if hasParent {
		pDomain := p.neighborDomains[parent]
		xij := make([][]float64, len(p.domain))
		for i, v1 := range p.domain {
			row := make([]float64, len(pDomain))
			for j, v2 := range pDomain {
				row[j] = p.deps.Oracle.Evaluate(p.deps.SelfID, parent, v1, v2) + cUtilSum[i]
			}
			xij[i] = row
		}
		p.xij = xij

		xj := make([]float64, len(pDomain))
		for j := range pDomain {
			col := make([]float64, len(p.domain))
			for i := range p.domain {
				col[i] = xij[i][j]
			}
			xj[j] = applyOp(col, p.deps.Op)
		}
		p.deps.publishToAgent(ctx, parent, message.TagUtil, map[string]any{"util": xj})
	} else {
		p.cost = applyOp(cUtilSum, p.deps.Op)
		idx := argBest(cUtilSum, p.deps.Op)
		v := p.domain[idx]
		p.value = &v
		p.cpa[p.deps.SelfID] = v

		p.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{"value": v, "cpa": cpaPayload(p.cpa)})
		for _, child := range p.deps.Graph.Children() {
			p.deps.publishToAgent(ctx, child, message.TagValue, map[string]any{"cpa": cpaPayload(p.cpa)})
		}
	}
	p.utilReceived = false
}

func (p *DPOPEngine) CanResolve() bool {
	children := p.deps.Graph.Children()
	return len(p.deps.Graph.Neighbors()) > 0 && len(p.utilMessages) > 0 &&
		len(p.utilMessages) == len(children) && p.utilReceived
}

func (p *DPOPEngine) Resolve(ctx context.Context) {
	if p.CanResolve() {
		p.computeUtilAndValue(ctx)
	}
}

func (p *DPOPEngine) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagUtil:
		p.receiveUtilMessage(ctx, sender, msg)
		return true
	case message.TagValue:
		p.receiveValueMessage(ctx, sender, msg)
		return true
	case message.TagRequestUtil:
		p.receiveUtilRequest(ctx, sender)
		return true
	}
	return false
}

func (p *DPOPEngine) receiveUtilMessage(ctx context.Context, sender agentid.ID, msg message.Message) {
	if p.deps.Graph.HasChild(sender) {
		p.utilMessages[sender] = floatsFromAny(msg.Payload["util"])
	}

	children := p.deps.Graph.Children()
	neighbors := p.deps.Graph.Neighbors()
	if len(p.utilMessages) == len(children) && sameIDSet(connectedAgents(p.deps.Graph), neighbors) {
		p.utilReceived = true
	}
	p.sendUtilRequestsToChildren(ctx)
}

func connectedAgents(g interface {
	Neighbors() []agentid.ID
}) []agentid.ID {
	return g.Neighbors()
}

func sameIDSet(a, b []agentid.ID) bool {
	if len(a) != len(b) {
		return false
	}
	seen := map[agentid.ID]bool{}
	for _, x := range a {
		seen[x] = true
	}
	for _, x := range b {
		if !seen[x] {
			return false
		}
	}
	return true
}

// receiveValueMessage derives this agent's value from the parent's cpa: the parent's
// own value picks out a column of the cached X_ij matrix, whose best entry is this
// agent's value.
func (p *DPOPEngine) receiveValueMessage(ctx context.Context, sender agentid.ID, msg message.Message) {
	parent, isParent := p.deps.Graph.Parent()
	if !isParent || parent != sender || p.xij == nil {
		return
	}

	parentCPA := cpaFromAny(msg.Payload["cpa"])
	parentValue, ok := parentCPA[sender]
	if !ok {
		return
	}
	p.cpa = parentCPA

	j := p.neighborDomains[sender].IndexOf(parentValue)
	if j < 0 {
		return
	}
	col := make([]float64, len(p.domain))
	for i := range p.domain {
		col[i] = p.xij[i][j]
	}
	p.cost = applyOp(col, p.deps.Op)
	idx := argBest(col, p.deps.Op)
	v := p.domain[idx]
	p.value = &v
	p.cpa[p.deps.SelfID] = v

	p.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{"value": v, "cpa": cpaPayload(p.cpa)})
	for _, child := range p.deps.Graph.Children() {
		p.deps.publishToAgent(ctx, child, message.TagValue, map[string]any{"cpa": cpaPayload(p.cpa)})
	}
}

func (p *DPOPEngine) receiveUtilRequest(ctx context.Context, sender agentid.ID) {
	if p.xij != nil {
		return
	}
	if len(p.deps.Graph.Children()) > 0 {
		p.sendUtilRequestsToChildren(ctx)
	} else {
		p.computeUtilAndValue(ctx)
	}
}

var _ Engine = (*DPOPEngine)(nil)
