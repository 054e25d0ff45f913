package dcop

import (
	"context"

	"ddcop/agentid"
	"ddcop/constraint"
	"ddcop/message"
)

// CDPOPEngine is the continuous-domain refinement of DPOP: it runs the identical
// bottom-up UTIL phase, then -- where DPOP would simply look a discrete value up in
// its cached X_ij matrix -- runs a bounded gradient descent against each already-known
// neighbor value, projecting back into the domain's [lo, hi] bounds after every step,
// and pushes the refined value down instead of the discrete one. Grounded on
// original_source/mascoord/src/algorithms/dcop/cdpop.py.
//
// The original expresses this as a subclass overriding one method
// (_compute_util_and_value); Go has no virtual dispatch through embedding, so every
// call site that DPOP reaches that hook from (Execute, the UTIL-phase completion
// check, REQUEST_UTIL servicing, and the VALUE-phase descent) is reimplemented here
// rather than inherited -- composition around the embedded *DPOPEngine covers the
// parts that do NOT change (ExtraArgs, ReceiveExtraArgs, OnAgentRemoved, the
// accessors); this file overrides the compute-util-and-value hook, its callers, and
// CanResolve (whose body is identical to DPOP's).
type CDPOPEngine struct {
	*DPOPEngine

	maxIter int
	alpha   float64

	// lastInitial caches, per agent id, the continuous value refine descends against:
	// the parent's announced value (recorded on VALUE) and this agent's own refined
	// value. Child values are never recorded, and OnTimeStep clears the map every
	// round.
	lastInitial map[agentid.ID]float64
}

// NewCDPOPEngine builds a CDPOPEngine around a fresh DPOPEngine. maxIter and alpha
// bound the gradient-descent refinement: at most maxIter steps of size alpha along
// the constraint's partial derivative, per edge.
func NewCDPOPEngine(deps Deps, seed int64, maxIter int, alpha float64) *CDPOPEngine {
	return &CDPOPEngine{
		DPOPEngine:  NewDPOPEngine(deps, seed),
		maxIter:     maxIter,
		alpha:       alpha,
		lastInitial: map[agentid.ID]float64{},
	}
}

func (c *CDPOPEngine) Name() string { return "c-dpop" }

func (c *CDPOPEngine) OnTimeStep(domain constraint.Domain, timestamp float64) {
	c.DPOPEngine.OnTimeStep(domain, timestamp)
	c.lastInitial = map[agentid.ID]float64{}
}

// Execute mirrors DPOPEngine.Execute exactly except the two branches that would call
// the private computeUtilAndValue hook now call this type's own version.
func (c *CDPOPEngine) Execute(ctx context.Context) {
	neighbors := c.deps.Graph.Neighbors()
	_, hasParent := c.deps.Graph.Parent()
	children := c.deps.Graph.Children()

	switch {
	case len(neighbors) == 0:
		c.selectRandomValue(ctx)
	case hasParent && len(children) == 0:
		c.xij = nil
		c.computeUtilAndValue(ctx)
	case !c.utilMsgRequested:
		c.sendUtilRequestsToChildren(ctx)
		c.utilMsgRequested = true
	}
}

// sendUtilRequestsToChildren is DPOP's, with the ready-to-compute branch redirected
// to this type's computeUtilAndValue instead of the embedded one.
func (c *CDPOPEngine) sendUtilRequestsToChildren(ctx context.Context) {
	children := c.deps.Graph.Children()
	var pending []agentid.ID
	for _, ch := range children {
		if _, ok := c.utilMessages[ch]; !ok {
			pending = append(pending, ch)
		}
	}
	if len(c.utilMessages) > 0 && len(pending) == 0 {
		c.computeUtilAndValue(ctx)
		return
	}
	for _, ch := range pending {
		c.deps.publishToAgent(ctx, ch, message.TagRequestUtil, nil)
	}
}

// computeUtilAndValue is the overridden hook: sum children UTILs and cross with the
// parent's domain exactly as DPOP does, but where DPOP would stop at the discrete
// argmin/argmax it continues into a gradient-descent refinement seeded at that
// discrete value.
func (c *CDPOPEngine) computeUtilAndValue(ctx context.Context) {
	cUtilSum := make([]float64, len(c.domain))
	for _, child := range c.deps.Graph.Children() {
		cUtil := c.utilMessages[child]
		for i := 0; i < len(cUtilSum) && i < len(cUtil); i++ {
			cUtilSum[i] += cUtil[i]
		}
	}

	parent, hasParent := c.deps.Graph.Parent()
	if hasParent {
		pDomain := c.neighborDomains[parent]
		xij := make([][]float64, len(c.domain))
		for i, v1 := range c.domain {
			row := make([]float64, len(pDomain))
			for j, v2 := range pDomain {
				row[j] = c.deps.Oracle.Evaluate(c.deps.SelfID, parent, v1, v2) + cUtilSum[i]
			}
			xij[i] = row
		}
		c.xij = xij

		xj := make([]float64, len(pDomain))
		for j := range pDomain {
			col := make([]float64, len(c.domain))
			for i := range c.domain {
				col[i] = xij[i][j]
			}
			xj[j] = applyOp(col, c.deps.Op)
		}
		c.deps.publishToAgent(ctx, parent, message.TagUtil, map[string]any{"util": xj})
		c.utilReceived = false
		return
	}

	// Root: no parent edge to cross with, so the discrete pick is directly off the
	// summed child utilities. refine is called against the children, but lastInitial
	// holds no child values, so no gradient step is taken at the root and the
	// discrete pick stands.
	idx := argBest(cUtilSum, c.deps.Op)
	discrete := c.domain[idx]
	refined, cost := c.refine(discrete, c.deps.Graph.Children())
	c.value = &refined
	c.cost = cost
	c.cpa[c.deps.SelfID] = refined
	c.lastInitial[c.deps.SelfID] = refined

	c.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{"value": refined, "cpa": cpaPayload(c.cpa)})
	for _, child := range c.deps.Graph.Children() {
		c.deps.publishToAgent(ctx, child, message.TagValue, map[string]any{"cpa": cpaPayload(c.cpa)})
	}
	c.utilReceived = false
}

// refine runs bounded gradient descent on v0 against every id in neighbors that has a
// cached value in lastInitial, using the oracle's partial derivative with respect to
// this agent's own axis when the oracle supports it. It returns the refined value and
// its total cost against the same neighbor set (computed with Evaluate, which every
// Oracle supports, so cost is always reportable even when no gradient step was
// possible).
func (c *CDPOPEngine) refine(v0 float64, neighbors []agentid.ID) (float64, float64) {
	lo, hi := c.domain.Bounds()
	grad, canDescend := c.deps.Oracle.(constraint.GradientOracle)

	v := v0
	if canDescend {
		for iter := 0; iter < c.maxIter; iter++ {
			var d float64
			haveNeighbor := false
			for _, n := range neighbors {
				nv, ok := c.lastInitial[n]
				if !ok {
					continue
				}
				ddSelf, _ := grad.Gradient(c.deps.SelfID, n, v, nv)
				d += ddSelf
				haveNeighbor = true
			}
			if !haveNeighbor {
				break
			}
			step := v
			if c.deps.Op == Min {
				step -= c.alpha * d
			} else {
				step += c.alpha * d
			}
			if step < lo {
				step = lo
			}
			if step > hi {
				step = hi
			}
			v = step
		}
	}

	var cost float64
	for _, n := range neighbors {
		nv, ok := c.lastInitial[n]
		if !ok {
			continue
		}
		cost += c.deps.Oracle.Evaluate(c.deps.SelfID, n, v, nv)
	}
	return v, cost
}

func (c *CDPOPEngine) CanResolve() bool {
	children := c.deps.Graph.Children()
	return len(c.deps.Graph.Neighbors()) > 0 && len(c.utilMessages) > 0 &&
		len(c.utilMessages) == len(children) && c.utilReceived
}

func (c *CDPOPEngine) Resolve(ctx context.Context) {
	if c.CanResolve() {
		c.computeUtilAndValue(ctx)
	}
}

func (c *CDPOPEngine) HandleMessage(ctx context.Context, msg message.Message) bool {
	sender := agentid.ID(msg.SenderID())
	switch msg.Type {
	case message.TagUtil:
		c.receiveUtilMessage(ctx, sender, msg)
		return true
	case message.TagValue:
		c.receiveValueMessage(ctx, sender, msg)
		return true
	case message.TagRequestUtil:
		c.receiveUtilRequest(ctx, sender)
		return true
	}
	return false
}

func (c *CDPOPEngine) receiveUtilMessage(ctx context.Context, sender agentid.ID, msg message.Message) {
	if c.deps.Graph.HasChild(sender) {
		c.utilMessages[sender] = floatsFromAny(msg.Payload["util"])
	}

	children := c.deps.Graph.Children()
	neighbors := c.deps.Graph.Neighbors()
	if len(c.utilMessages) == len(children) && sameIDSet(connectedAgents(c.deps.Graph), neighbors) {
		c.utilReceived = true
	}
	c.sendUtilRequestsToChildren(ctx)
}

func (c *CDPOPEngine) receiveUtilRequest(ctx context.Context, sender agentid.ID) {
	if c.xij != nil {
		return
	}
	if len(c.deps.Graph.Children()) > 0 {
		c.sendUtilRequestsToChildren(ctx)
	} else {
		c.computeUtilAndValue(ctx)
	}
}

// receiveValueMessage derives this agent's discrete value from the parent's
// announced value exactly as DPOP does (column lookup into the cached X_ij matrix),
// then refines it against the parent's continuous value (the only neighbor value
// lastInitial holds) before caching and forwarding it down.
func (c *CDPOPEngine) receiveValueMessage(ctx context.Context, sender agentid.ID, msg message.Message) {
	parent, isParent := c.deps.Graph.Parent()
	if !isParent || parent != sender || c.xij == nil {
		return
	}

	parentCPA := cpaFromAny(msg.Payload["cpa"])
	parentValue, ok := parentCPA[sender]
	if !ok {
		return
	}
	c.cpa = parentCPA
	c.lastInitial[parent] = parentValue

	j := c.neighborDomains[sender].IndexOf(closestDomainValue(c.neighborDomains[sender], parentValue))
	if j < 0 {
		return
	}
	col := make([]float64, len(c.domain))
	for i := range c.domain {
		col[i] = c.xij[i][j]
	}
	idx := argBest(col, c.deps.Op)
	discrete := c.domain[idx]

	neighbors := append(append([]agentid.ID{}, c.deps.Graph.Children()...), parent)
	refined, cost := c.refine(discrete, neighbors)
	c.cost = cost
	c.value = &refined
	c.cpa[c.deps.SelfID] = refined
	c.lastInitial[c.deps.SelfID] = refined

	c.deps.publishToEnv(ctx, message.TagValueSelected, map[string]any{"value": refined, "cpa": cpaPayload(c.cpa)})
	for _, child := range c.deps.Graph.Children() {
		c.deps.publishToAgent(ctx, child, message.TagValue, map[string]any{"cpa": cpaPayload(c.cpa)})
	}
}

// closestDomainValue finds the domain entry closest to target -- the parent's
// announced value may itself have been refined to a continuous point off the
// discrete grid, so an exact IndexOf match can miss; this recovers the column whose
// discrete assignment is the nearest approximation.
func closestDomainValue(d constraint.Domain, target float64) float64 {
	if len(d) == 0 {
		return target
	}
	best := d[0]
	bestDist := abs(target - best)
	for _, v := range d[1:] {
		if dist := abs(target - v); dist < bestDist {
			best = v
			bestDist = dist
		}
	}
	return best
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

var _ Engine = (*CDPOPEngine)(nil)
