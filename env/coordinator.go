package env

import (
	"context"
	"fmt"
	"time"

	"ddcop/agentid"
	"ddcop/broker"
	"ddcop/message"
)

// Coordinator is the time-step coordinator (C6): it owns the round clock, broadcasts
// a time-step message to every registered agent with that agent's in-range set,
// domain, and the round's event timestamp, collects one VALUE_SELECTED per live
// agent, then applies the chosen values to the Environment and advances. Grounded on
// spec §4.6, with position/in-range bookkeeping adapted from
// grid_world's state-position conventions (velocity/acceleration/collision/reward
// machinery is not carried over -- the constraint evaluator is an explicit
// out-of-scope collaborator per spec §1).
type Coordinator struct {
	brk    broker.Broker
	domain string
	envir  Environment
	now    func() float64

	timestep int
}

// NewCoordinator builds a Coordinator. now defaults to wall-clock seconds if nil.
func NewCoordinator(brk broker.Broker, domain string, envir Environment, now func() float64) *Coordinator {
	if now == nil {
		now = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }
	}
	return &Coordinator{brk: brk, domain: domain, envir: envir, now: now}
}

// RoundResult summarizes one completed round, the data spec §6's metrics CSV would
// draw a row from (this package does not itself write CSV -- that is an explicit
// Non-goal -- but exposes everything a caller needs to).
type RoundResult struct {
	Timestep int
	Score    float64
	Values   map[agentid.ID]float64
	// Reported is the set of agents that actually published VALUE_SELECTED this
	// round; an agent missing from this set (e.g. it was removed mid-round) is
	// simply absent from Values too.
	Reported map[agentid.ID]bool
}

// RunRound drives one complete round: broadcast, collect, apply, advance. It returns
// once every currently-live agent has reported a value or ctx is cancelled -- per
// spec §4.6, the base design does not time out individual agents; round completion is
// synchronous across the whole cohort.
func (c *Coordinator) RunRound(ctx context.Context) (RoundResult, error) {
	c.timestep++
	agents := c.envir.Agents()
	if len(agents) == 0 {
		return RoundResult{Timestep: c.timestep, Reported: map[agentid.ID]bool{}}, nil
	}

	ts := c.now()
	collectorTopic := message.EnvTopic(c.domain)
	selections, unsubscribe := c.brk.Subscribe(ctx, collectorTopic)
	defer unsubscribe()

	ranges := make(map[agentid.ID][]agentid.ID, len(agents))
	for _, id := range agents {
		ranges[id] = c.inRangeSet(id, agents)
	}

	for _, id := range agents {
		inRangeIDs := ranges[id]
		payload := map[string]any{
			"in_range":     idsToAny(inRangeIDs),
			"agent_domain": []float64(c.envir.Domain(id)),
			"timestep":     float64(c.timestep),
		}
		x, y := c.envir.Position(id)
		payload["current_position"] = []float64{x, y}
		msg := message.New(message.TagTimeStep, "sim_env", ts, payload)
		if err := c.brk.Publish(ctx, message.AgentTopic(c.domain, string(id)), msg); err != nil {
			return RoundResult{}, fmt.Errorf("broadcast time-step to %s: %w", id, err)
		}
	}

	want := make(map[agentid.ID]bool, len(agents))
	for _, id := range agents {
		want[id] = true
	}
	values := make(map[agentid.ID]float64, len(agents))
	reported := make(map[agentid.ID]bool, len(agents))

	for len(reported) < len(want) {
		select {
		case <-ctx.Done():
			return RoundResult{Timestep: c.timestep, Values: values, Reported: reported}, ctx.Err()
		case msg, ok := <-selections:
			if !ok {
				return RoundResult{Timestep: c.timestep, Values: values, Reported: reported}, nil
			}
			switch msg.Type {
			case message.TagDdfsNeighborData:
				c.relayNeighborData(ctx, msg, ranges)
				continue
			case message.TagValueSelected:
			default:
				continue
			}
			sender := agentid.ID(msg.SenderID())
			if !want[sender] || reported[sender] {
				continue
			}
			v, ok := msg.Payload["value"].(float64)
			if !ok {
				continue
			}
			values[sender] = v
			reported[sender] = true
		}
	}

	score := c.envir.Advance(values)
	return RoundResult{Timestep: c.timestep, Score: score, Values: values, Reported: reported}, nil
}

// relayNeighborData forwards one DDFS_NEIGHBOR_DATA message (an agent's in-range
// peer count) on to every one of that agent's own in-range neighbors, per spec
// §4.4.3: "the environment first gossips each agent's in-range count to its
// neighbors". DDFS has no direct agent-to-agent channel for this, only the env
// topic every agent already publishes it to, so the coordinator relays it while
// collecting the round's values.
func (c *Coordinator) relayNeighborData(ctx context.Context, msg message.Message, ranges map[agentid.ID][]agentid.ID) {
	sender := agentid.ID(msg.SenderID())
	for _, peer := range ranges[sender] {
		if err := c.brk.Publish(ctx, message.AgentTopic(c.domain, string(peer)), msg); err != nil {
			continue
		}
	}
}

// inRangeSet returns every agent in agents (other than self) within self's
// communication range of the environment's current positions.
func (c *Coordinator) inRangeSet(self agentid.ID, agents []agentid.ID) []agentid.ID {
	var out []agentid.ID
	for _, other := range agents {
		if other == self {
			continue
		}
		if inRange(c.envir, self, other) {
			out = append(out, other)
		}
	}
	return out
}

func idsToAny(ids []agentid.ID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
