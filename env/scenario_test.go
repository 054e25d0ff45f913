package env_test

import (
	"context"
	"testing"
	"time"

	"ddcop/agent"
	"ddcop/agentid"
	"ddcop/broker"
	"ddcop/constraint"
	"ddcop/dcop"
	"ddcop/dgc"
	"ddcop/env"
	"ddcop/message"
)

// algo selects which DGC/DCOP pair a scenario wires onto an Agent -- the harness
// covers DIGCA paired with CoCoA or DPOP, the combinations spec §8's S2/S3/S6 name.
type algo int

const (
	algoDigcaCocoa algo = iota
	algoDigcaDpop
)

const testDomain = "scen"

// harness runs a fixed set of agents against each other for one time step, collecting
// every VALUE_SELECTED published to the shared environment topic.
type harness struct {
	t      *testing.T
	brk    broker.Broker
	agents map[agentid.ID]*agent.Agent
	cancel context.CancelFunc
	ctx    context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, brk: broker.NewLocal(), agents: map[agentid.ID]*agent.Agent{}, ctx: ctx, cancel: cancel}
	t.Cleanup(func() {
		cancel()
		h.brk.Close()
	})
	return h
}

func (h *harness) add(id agentid.ID, a algo, oracle constraint.Oracle, op dcop.OptimizationOp, quietWindow time.Duration) *agent.Agent {
	ag := wireAgent(id, h.brk, a, oracle, op, quietWindow)
	h.agents[id] = ag
	return ag
}

// wireAgent builds one Agent and its DGC/DCOP engine pair, using the same
// forward-declared-callback construction order as agent_test.go's buildPair: NewDigca
// needs start_dcop up front, the DCOP engine needs the graph's *graphstate.State up
// front, so a closure bridges the two.
func wireAgent(id agentid.ID, brk broker.Broker, a algo, oracle constraint.Oracle, op dcop.OptimizationOp, quietWindow time.Duration) *agent.Agent {
	seed := int64(len(id))
	for _, c := range string(id) {
		seed += int64(c)
	}
	ag := agent.New(agent.Config{ID: id, Domain: testDomain, Broker: brk, YieldInterval: time.Millisecond})
	var dc dcop.Engine
	startDcop := func(ctx context.Context) {
		if dc != nil {
			dc.Execute(ctx)
		}
	}
	order := dcop.TopDown
	if a == algoDigcaDpop {
		order = dcop.BottomUp
	}
	g := dgc.NewDigca(ag, startDcop, dgc.TraversalOrder(order), seed, 8, quietWindow, quietWindow*4, 10, nil, func(peer agentid.ID, args dgc.ExtraArgs) {
		dc.ReceiveExtraArgs(peer, map[string]any(args))
	})
	switch a {
	case algoDigcaCocoa:
		dc = dcop.NewCoCoAEngine(dcop.Deps{Transport: ag, Graph: g.Graph(), Oracle: oracle, SelfID: id, Op: op}, seed)
	case algoDigcaDpop:
		dc = dcop.NewDPOPEngine(dcop.Deps{Transport: ag, Graph: g.Graph(), Oracle: oracle, SelfID: id, Op: op}, seed)
	}
	ag.Wire(g, dc)
	return ag
}

func (h *harness) start() {
	for _, ag := range h.agents {
		if err := ag.Register(h.ctx); err != nil {
			h.t.Fatalf("register: %v", err)
		}
	}
	for _, ag := range h.agents {
		go ag.Run(h.ctx)
	}
}

// runStep publishes a TIME_STEP to every agent with the given in-range maps and
// domain, then collects one VALUE_SELECTED per agent or times out.
func (h *harness) runStep(inRange map[agentid.ID][]agentid.ID, domain constraint.Domain, timestamp float64, timeout time.Duration) map[agentid.ID]float64 {
	h.t.Helper()
	envCh, unsub := h.brk.Subscribe(h.ctx, message.EnvTopic(testDomain))
	defer unsub()

	for id, peers := range inRange {
		peerAny := make([]any, len(peers))
		for i, p := range peers {
			peerAny[i] = string(p)
		}
		msg := message.New(message.TagTimeStep, "env", timestamp, map[string]any{
			"in_range":     peerAny,
			"agent_domain": []float64(domain),
			"timestep":     float64(1),
		})
		if err := h.brk.Publish(h.ctx, message.AgentTopic(testDomain, string(id)), msg); err != nil {
			h.t.Fatalf("publish time-step to %s: %v", id, err)
		}
	}

	values := map[agentid.ID]float64{}
	deadline := time.After(timeout)
	for len(values) < len(inRange) {
		select {
		case msg := <-envCh:
			if msg.Type != message.TagValueSelected {
				continue
			}
			if v, ok := msg.Payload["value"].(float64); ok {
				values[agentid.ID(msg.SenderID())] = v
			}
		case <-deadline:
			return values
		}
	}
	return values
}

// TestS1IsolatedAgents is spec §8's S1: two agents not in range each publish a value
// from their own domain.
func TestS1IsolatedAgents(t *testing.T) {
	h := newHarness(t)
	oracle := constraint.QuadraticOracle{}
	h.add("a0", algoDigcaCocoa, oracle, dcop.Min, 50*time.Millisecond)
	h.add("a1", algoDigcaCocoa, oracle, dcop.Min, 50*time.Millisecond)
	h.start()

	values := h.runStep(map[agentid.ID][]agentid.ID{"a0": nil, "a1": nil}, constraint.Domain{1, 2, 3}, 1.0, 2*time.Second)

	if len(values) != 2 {
		t.Fatalf("expected both isolated agents to publish a value, got %v", values)
	}
	for id, v := range values {
		if v != 1 && v != 2 && v != 3 {
			t.Fatalf("agent %s published out-of-domain value %v", id, v)
		}
	}
}

// TestS2LinearChainCoCoA is spec §8's S2: a0-a1-a2 all in pairwise range, quadratic
// (1,1,1) on each edge, domain {-1,0,1}, minimizing. The unique cost-zero assignment
// is everyone at 0.
func TestS2LinearChainCoCoA(t *testing.T) {
	h := newHarness(t)
	q := constraint.Quadratic{A: 1, B: 1, C: 1}
	oracle := constraint.QuadraticOracle{Edges: map[string]constraint.Quadratic{
		constraint.EdgeKey("a0", "a1"): q, constraint.EdgeKey("a1", "a0"): q,
		constraint.EdgeKey("a1", "a2"): q, constraint.EdgeKey("a2", "a1"): q,
		constraint.EdgeKey("a0", "a2"): q, constraint.EdgeKey("a2", "a0"): q,
	}}
	h.add("a0", algoDigcaCocoa, oracle, dcop.Min, 80*time.Millisecond)
	h.add("a1", algoDigcaCocoa, oracle, dcop.Min, 80*time.Millisecond)
	h.add("a2", algoDigcaCocoa, oracle, dcop.Min, 80*time.Millisecond)
	h.start()

	inRange := map[agentid.ID][]agentid.ID{
		"a0": {"a1", "a2"},
		"a1": {"a0", "a2"},
		"a2": {"a0", "a1"},
	}
	values := h.runStep(inRange, constraint.Domain{-1, 0, 1}, 1.0, 3*time.Second)

	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %v", values)
	}
	for id, v := range values {
		if v != 0 {
			t.Fatalf("agent %s picked %v, want 0 (the unique zero-cost assignment)", id, v)
		}
	}
}

// TestS3StarDPOP is spec §8's S3: root a0 in range with a1,a2,a3 (leaves not in range
// with each other), constraints all (1,0,0) on x, minimizing. Every edge's minimum is
// at x=0 regardless of the other endpoint's value, so every agent -- root and leaves
// alike -- should select the first domain entry, 0.
func TestS3StarDPOP(t *testing.T) {
	h := newHarness(t)
	q := constraint.Quadratic{A: 1}
	edges := map[string]constraint.Quadratic{}
	for _, leaf := range []string{"a1", "a2", "a3"} {
		edges[constraint.EdgeKey("a0", leaf)] = q
		edges[constraint.EdgeKey(leaf, "a0")] = q
	}
	oracle := constraint.QuadraticOracle{Edges: edges}

	h.add("a0", algoDigcaDpop, oracle, dcop.Min, 80*time.Millisecond)
	h.add("a1", algoDigcaDpop, oracle, dcop.Min, 80*time.Millisecond)
	h.add("a2", algoDigcaDpop, oracle, dcop.Min, 80*time.Millisecond)
	h.add("a3", algoDigcaDpop, oracle, dcop.Min, 80*time.Millisecond)
	h.start()

	inRange := map[agentid.ID][]agentid.ID{
		"a0": {"a1", "a2", "a3"},
		"a1": {"a0"},
		"a2": {"a0"},
		"a3": {"a0"},
	}
	values := h.runStep(inRange, constraint.Domain{0, -1, 1}, 1.0, 3*time.Second)

	if len(values) != 4 {
		t.Fatalf("expected 4 values, got %v", values)
	}
	for id, v := range values {
		if v != 0 {
			t.Fatalf("agent %s picked %v, want 0", id, v)
		}
	}
}

// TestS6DisconnectedAnnouncer is spec §8's S6: an agent with no in-range peers still
// invokes start_dcop() after the quiet-window timeout and publishes a value from its
// domain.
func TestS6DisconnectedAnnouncer(t *testing.T) {
	h := newHarness(t)
	h.add("a0", algoDigcaCocoa, constraint.QuadraticOracle{}, dcop.Min, 30*time.Millisecond)
	h.start()

	values := h.runStep(map[agentid.ID][]agentid.ID{"a0": nil}, constraint.Domain{5, 6, 7}, 1.0, 2*time.Second)
	if len(values) != 1 {
		t.Fatalf("expected exactly one VALUE_SELECTED from the disconnected announcer, got %v", values)
	}
	v := values["a0"]
	if v != 5 && v != 6 && v != 7 {
		t.Fatalf("published value %v not in domain", v)
	}
}

// TestS4Churn is spec §8's S4 at the value level: after a1 drops out of range of a0
// and a2, both survivors still report a value in the next round. It does not inspect
// the agents' graph state.
func TestS4Churn(t *testing.T) {
	h := newHarness(t)
	oracle := constraint.QuadraticOracle{Edges: map[string]constraint.Quadratic{
		constraint.EdgeKey("a0", "a1"): {A: 1, B: 1, C: 1}, constraint.EdgeKey("a1", "a0"): {A: 1, B: 1, C: 1},
		constraint.EdgeKey("a1", "a2"): {A: 1, B: 1, C: 1}, constraint.EdgeKey("a2", "a1"): {A: 1, B: 1, C: 1},
	}}
	h.add("a0", algoDigcaCocoa, oracle, dcop.Min, 60*time.Millisecond)
	h.add("a1", algoDigcaCocoa, oracle, dcop.Min, 60*time.Millisecond)
	h.add("a2", algoDigcaCocoa, oracle, dcop.Min, 60*time.Millisecond)
	h.start()

	// Step 1: a0, a1 in range of each other; a2 joins in range of a1 only.
	round1 := h.runStep(map[agentid.ID][]agentid.ID{
		"a0": {"a1"},
		"a1": {"a0", "a2"},
		"a2": {"a1"},
	}, constraint.Domain{-1, 0, 1}, 1.0, 2*time.Second)
	if len(round1) != 3 {
		t.Fatalf("round 1: expected all 3 agents to report a value, got %v", round1)
	}

	// Step 2: a1 leaves range of both -- a0 and a2 must each drop it as a neighbor and
	// still resolve a value on their own, confirming neighbor loss doesn't wedge the
	// survivors' DCOP state.
	round2 := h.runStep(map[agentid.ID][]agentid.ID{
		"a0": nil,
		"a2": nil,
	}, constraint.Domain{-1, 0, 1}, 2.0, 2*time.Second)
	if len(round2) != 2 {
		t.Fatalf("round 2: expected a0 and a2 to still resolve a value after losing a1, got %v", round2)
	}
}

// wireDdfsAgent builds one Agent running DDFS over CoCoA (top-down), the same
// forward-declared-callback construction order as wireAgent.
func wireDdfsAgent(id agentid.ID, brk broker.Broker, oracle constraint.Oracle, op dcop.OptimizationOp, quietWindow time.Duration) *agent.Agent {
	ag := agent.New(agent.Config{ID: id, Domain: testDomain, Broker: brk, YieldInterval: time.Millisecond})
	var dc dcop.Engine
	startDcop := func(ctx context.Context) {
		if dc != nil {
			dc.Execute(ctx)
		}
	}
	g := dgc.NewDdfs(ag, startDcop, dgc.TopDown, quietWindow, nil, func(peer agentid.ID, args dgc.ExtraArgs) {
		dc.ReceiveExtraArgs(peer, map[string]any(args))
	})
	dc = dcop.NewCoCoAEngine(dcop.Deps{Transport: ag, Graph: g.Graph(), Oracle: oracle, SelfID: id, Op: op}, int64(len(id)))
	ag.Wire(g, dc)
	return ag
}

// TestDdfsStarViaCoordinator exercises DDFS's pseudo-tree election end to end through
// env.Coordinator and env.InMemory -- the only path that drives a real round,
// including the coordinator's relay of DDFS_NEIGHBOR_DATA between an agent and its
// in-range neighbors (spec §4.4.3: "the environment first gossips each agent's
// in-range count to its neighbors"). Root a0 is in range of leaves a1, a2, a3; the
// leaves are out of range of each other, so every leaf's only potential parent is a0
// and a0's only potential children are the leaves -- a star-shaped pseudo-tree with
// no pseudo-edges. Quadratic{A:1} on every edge is minimized at 0 regardless of the
// other endpoint's value, so every agent should select domain value 0.
func TestDdfsStarViaCoordinator(t *testing.T) {
	q := constraint.Quadratic{A: 1}
	edges := map[string]constraint.Quadratic{}
	for _, leaf := range []string{"a1", "a2", "a3"} {
		edges[constraint.EdgeKey("a0", leaf)] = q
		edges[constraint.EdgeKey(leaf, "a0")] = q
	}
	oracle := constraint.QuadraticOracle{Edges: edges}

	domain := constraint.Domain{0, -1, 1}
	envir := env.NewInMemory(oracle)
	envir.AddAgent("a0", 0, 0, 6, domain)
	envir.AddAgent("a1", 5, 0, 6, domain)
	envir.AddAgent("a2", 0, 5, 6, domain)
	envir.AddAgent("a3", -5, 0, 6, domain)

	brk := broker.NewLocal()
	defer brk.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []agentid.ID{"a0", "a1", "a2", "a3"} {
		ag := wireDdfsAgent(id, brk, oracle, dcop.Min, 80*time.Millisecond)
		if err := ag.Register(ctx); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		go ag.Run(ctx)
	}

	coord := env.NewCoordinator(brk, testDomain, envir, func() float64 { return 1.0 })
	roundCtx, roundCancel := context.WithTimeout(ctx, 3*time.Second)
	defer roundCancel()
	result, err := coord.RunRound(roundCtx)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if len(result.Reported) != 4 {
		t.Fatalf("expected all 4 agents to report a value, got %v", result.Reported)
	}
	for id, v := range result.Values {
		if v != 0 {
			t.Fatalf("agent %s picked %v via DDFS, want 0", id, v)
		}
	}
}
