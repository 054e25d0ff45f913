// ddcopsim wires an in-memory broker, a reference InMemory environment, a
// Coordinator, and N agents running DIGCA/DBFS/DDFS over CoCoA/DPOP/C-DPOP, and
// drives a fixed number of rounds, printing each round's score. It also serves a
// dashboard.Monitor websocket on -addr so a viewer can watch lifecycle and metrics
// events live. Descended from tabular/main.go's init/flag-parse/runApp/main shape --
// same TODO-laden honesty about flags belonging in config instead, the same
// single-error-return runApp, the same "print the error and exit" main.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"ddcop/agent"
	"ddcop/agentid"
	"ddcop/broker"
	"ddcop/config"
	"ddcop/constraint"
	"ddcop/dashboard"
	"ddcop/dcop"
	"ddcop/dgc"
	"ddcop/env"
)

var (
	nagents    *int
	rounds     *int
	addr       *string
	configPath *string
)

// TODO: per 12-factor rules these belong entirely in config.Load; kept as flags too
// since this is a local demo runner, not the production entrypoint.
func init() {
	nagents = flag.Int("nagents", 5, "number of simulated agents")
	rounds = flag.Int("rounds", 20, "number of coordinator rounds to run")
	addr = flag.String("addr", ":8080", "dashboard websocket listen address")
	configPath = flag.String("config", "", "optional runtime-options YAML file")
	flag.Parse()
}

func runApp() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	oracle := constraint.QuadraticOracle{Edges: map[string]constraint.Quadratic{}}
	rng := rand.New(rand.NewSource(cfg.Runtime.Seed))
	domainSize := cfg.Runtime.DomainSize
	if domainSize <= 0 {
		domainSize = 5
	}
	domain := buildDomain(domainSize)

	envir := env.NewInMemory(oracle)
	brk := broker.NewLocal()
	defer brk.Close()

	agents := make([]*agent.Agent, 0, *nagents)
	for i := 0; i < *nagents; i++ {
		id := agentid.ID(fmt.Sprintf("a%d", i))
		x, y := rng.Float64()*10, rng.Float64()*10
		envir.AddAgent(id, x, y, 5, domain)
		ag := wireAgent(cfg, brk, id, oracle)
		agents = append(agents, ag)
	}

	for _, ag := range agents {
		if err := ag.Register(appCtx); err != nil {
			return fmt.Errorf("register %s: %w", ag.SelfID(), err)
		}
		go ag.Run(appCtx)
	}

	mon := dashboard.NewMonitor(brk, cfg.Env.Domain)
	srv := &http.Server{Addr: *addr, Handler: http.HandlerFunc(mon.ServeWS)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Println("dashboard server:", err)
		}
	}()
	defer srv.Close()

	coord := env.NewCoordinator(brk, cfg.Env.Domain, envir, nil)
	for r := 0; r < *rounds; r++ {
		result, err := coord.RunRound(appCtx)
		if err != nil {
			return fmt.Errorf("round %d: %w", r, err)
		}
		fmt.Printf("round %d: score=%.3f reported=%d/%d\n", result.Timestep, result.Score, len(result.Reported), *nagents)
		for _, ag := range agents {
			_ = ag.PublishMetricsSnapshot(appCtx)
		}
	}

	for _, ag := range agents {
		_ = ag.Stop(appCtx)
	}
	return nil
}

// wireAgent builds one agent.Agent together with the DGC/DCOP engine pair its
// runtime options select, resolving the circular construction the same way
// env/scenario_test.go's harness does: build the Agent first, forward-declare the
// DCOP engine variable so the DGC engine's start_dcop callback can close over it,
// then Wire both in at the end.
func wireAgent(cfg *config.Config, brk broker.Broker, id agentid.ID, oracle constraint.Oracle) *agent.Agent {
	ag := agent.New(agent.Config{
		ID:            id,
		Domain:        cfg.Env.Domain,
		Broker:        brk,
		YieldInterval: 10 * time.Millisecond,
	})

	var dc dcop.Engine
	startDcop := func(ctx context.Context) {
		if dc != nil {
			dc.Execute(ctx)
		}
	}

	seed := cfg.Runtime.Seed + int64(len(id))
	onExtraArgs := func(peer agentid.ID, args dgc.ExtraArgs) {
		if dc != nil {
			dc.ReceiveExtraArgs(peer, map[string]any(args))
		}
	}

	var graph dgc.Engine
	switch cfg.Runtime.GraphAlgorithm {
	case "dbfs":
		graph = dgc.NewDbfs(ag, startDcop, cfg.TraversalOrder(), cfg.QuietWindow(), nil, onExtraArgs)
	case "ddfs":
		graph = dgc.NewDdfs(ag, startDcop, cfg.TraversalOrder(), cfg.QuietWindow(), nil, onExtraArgs)
	default:
		graph = dgc.NewDigca(ag, startDcop, cfg.TraversalOrder(), seed, 0, cfg.QuietWindow(), cfg.PingPeriod(), cfg.Env.MaxPingCount, nil, onExtraArgs)
	}

	deps := dcop.Deps{Transport: ag, Graph: graph.Graph(), Oracle: oracle, SelfID: id, Op: cfg.OptimizationOp()}
	switch cfg.Runtime.DcopAlgorithm {
	case "dpop":
		dc = dcop.NewDPOPEngine(deps, seed)
	case "c-dpop":
		dc = dcop.NewCDPOPEngine(deps, seed, 50, 0.1)
	default:
		dc = dcop.NewCoCoAEngine(deps, seed)
	}

	ag.Wire(graph, dc)
	return ag
}

func buildDomain(size int) constraint.Domain {
	d := make(constraint.Domain, size)
	for i := range d {
		d[i] = float64(i)
	}
	return d
}

func main() {
	if err := runApp(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
