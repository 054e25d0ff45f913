package agent

import (
	"context"
	"testing"
	"time"

	"ddcop/broker"
	"ddcop/constraint"
	"ddcop/dcop"
	"ddcop/dgc"
	"ddcop/message"
)

// buildPair wires two agents (a0, a1) sharing a Local broker, DIGCA for graph
// construction and CoCoA for DCOP (top-down traversal), mirroring the standard
// New -> build engines with Wire -> Run construction order.
func buildPair(t *testing.T, brk broker.Broker) (*Agent, *Agent) {
	t.Helper()
	const domain = "s8test"

	a0 := New(Config{ID: "a0", Domain: domain, Broker: brk, YieldInterval: time.Millisecond})
	a1 := New(Config{ID: "a1", Domain: domain, Broker: brk, YieldInterval: time.Millisecond})

	oracle := constraint.QuadraticOracle{Edges: map[string]constraint.Quadratic{
		constraint.EdgeKey("a0", "a1"): {A: 1, B: 1, C: 1},
		constraint.EdgeKey("a1", "a0"): {A: 1, B: 1, C: 1},
	}}

	for i, a := range []*Agent{a0, a1} {
		// dc is forward-declared and captured by startDcop so NewDigca (which needs
		// the callback up front) and NewCoCoAEngine (which needs the graph's final
		// *graphstate.State up front) can each be built in one shot against the same
		// underlying graph, with the callback only ever invoked once both exist.
		var dc *dcop.CoCoAEngine
		startDcop := func(ctx context.Context) {
			if dc != nil {
				dc.Execute(ctx)
			}
		}
		g := dgc.NewDigca(a, startDcop, dgc.TopDown, int64(i), 2, 50*time.Millisecond, 200*time.Millisecond, 5, nil, nil)
		dc = dcop.NewCoCoAEngine(dcop.Deps{Transport: a, Graph: g.Graph(), Oracle: oracle, SelfID: a.SelfID(), Op: dcop.Min}, int64(i))
		a.Wire(g, dc)
	}
	return a0, a1
}

// TestSingleValuePerRound exercises spec §8 invariant 4: exactly one VALUE_SELECTED
// is published per (agent, time step), over a two-agent in-range pair running DIGCA
// + CoCoA end to end.
func TestSingleValuePerRound(t *testing.T) {
	brk := broker.NewLocal()
	defer brk.Close()
	a0, a1 := buildPair(t, brk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	envCh, _ := brk.Subscribe(ctx, "s8test.sim_env")

	if err := a0.Register(ctx); err != nil {
		t.Fatalf("a0 register: %v", err)
	}
	if err := a1.Register(ctx); err != nil {
		t.Fatalf("a1 register: %v", err)
	}
	go a0.Run(ctx)
	go a1.Run(ctx)

	step := message.New(message.TagTimeStep, "env", 1.0, map[string]any{
		"in_range":     []any{"a1"},
		"agent_domain": []float64{-1, 0, 1},
		"timestep":     float64(1),
	})
	if err := brk.Publish(ctx, "s8test.agent.a0", step); err != nil {
		t.Fatalf("publish to a0: %v", err)
	}
	step1 := message.New(message.TagTimeStep, "env", 1.0, map[string]any{
		"in_range":     []any{"a0"},
		"agent_domain": []float64{-1, 0, 1},
		"timestep":     float64(1),
	})
	if err := brk.Publish(ctx, "s8test.agent.a1", step1); err != nil {
		t.Fatalf("publish to a1: %v", err)
	}

	selections := map[string]int{}
	deadline := time.After(2 * time.Second)
	registrations := 0
collect:
	for {
		select {
		case msg := <-envCh:
			switch msg.Type {
			case message.TagAgentRegistration:
				registrations++
			case message.TagValueSelected:
				selections[msg.SenderID()]++
				if len(selections) == 2 && selections["a0"] == 1 && selections["a1"] == 1 {
					break collect
				}
			}
		case <-deadline:
			break collect
		}
	}

	if registrations != 2 {
		t.Fatalf("expected 2 registrations, got %d", registrations)
	}
	for _, id := range []string{"a0", "a1"} {
		if selections[id] != 1 {
			t.Fatalf("agent %s published %d VALUE_SELECTED, want exactly 1", id, selections[id])
		}
	}
}

// TestStaleMessageFence exercises spec §8 invariant 5: a message whose timestamp
// precedes the agent's latest observed event timestamp must never reach the
// dgc/dcop handlers, even when otherwise well-formed and addressed to a live neighbor.
func TestStaleMessageFence(t *testing.T) {
	brk := broker.NewLocal()
	defer brk.Close()

	a := New(Config{ID: "a0", Domain: "s5test", Broker: brk})
	g := dgc.NewDigca(a, nil, dgc.TopDown, 0, 2, time.Hour, time.Hour, 5, nil, nil)
	oracle := constraint.QuadraticOracle{}
	dc := dcop.NewCoCoAEngine(dcop.Deps{Transport: a, Graph: g.Graph(), Oracle: oracle, SelfID: a.SelfID(), Op: dcop.Min}, 0)
	a.Wire(g, dc)

	g.Graph().AddChild("a1")
	ctx := context.Background()
	dc.OnTimeStep(constraint.Domain{-1, 0, 1}, 10.0)
	dc.Execute(ctx) // ACTIVE, awaiting a cost map from its one neighbor, a1
	a.latestEventTimestamp = 10.0

	costMap := []any{[]float64{-1, -1, 2}, []float64{0, 0, 0}, []float64{1, 1, 2}}

	stale := message.New(message.TagCost, "a1", 5.0, map[string]any{"cost_map": costMap})
	a.dispatch(ctx, stale)
	if dc.CanResolve() {
		t.Fatalf("stale CostMessage should not have been applied -- CanResolve became true")
	}

	fresh := message.New(message.TagCost, "a1", 10.0, map[string]any{"cost_map": costMap})
	a.dispatch(ctx, fresh)
	if !dc.CanResolve() {
		t.Fatalf("fresh CostMessage at the fence boundary should have been applied")
	}
}
