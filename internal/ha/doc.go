// Package ha implements cluster failover planning and execution.
//
// # Overview
//
// The package models a cluster of nodes and moves the primary role when
// the current primary is judged failed:
//   - Heartbeats and quorum (HeartbeatMonitor, HealthTracker, ComputeQuorum)
//   - Deterministic planning (Planner)
//   - Sequential, fail-fast execution with a deadline (Executor)
//   - Post-failover verification (Verifier)
//   - Seeded what-if simulation (Simulator, ScenarioSuite)
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────┐
//	│                     Simulator                        │
//	│   (seeded failure injection, one clock per run)      │
//	├──────────────┬─────────────┬────────────┬────────────┤
//	│   Monitor    │   Planner   │  Executor  │  Verifier  │
//	│ (heartbeats, │ (ranking,   │ (handlers, │ (quorum,   │
//	│  quorum)     │  actions)   │  deadline) │  policy)   │
//	├──────────────┴─────────────┴────────────┴────────────┤
//	│          Domain model (Node, Cluster, Policy)         │
//	└──────────────────────────────────────────────────────┘
//
// # Quick Start
//
//	planner := ha.NewPlanner(ha.DefaultTuning())
//	plan, err := planner.BuildPlan(cluster, policy, "primary unreachable")
//	if err != nil {
//	    return err // *ha.PlanningError
//	}
//
//	executor := ha.NewExecutor(handlers, ha.WithLogger(logger))
//	result := executor.Execute(ctx, plan, false)
//
//	verifier := ha.NewVerifier(ha.DefaultTuning(), ha.RealClock{}, lookup)
//	report := verifier.Verify(result, postCluster, policy)
//
// # Determinism
//
// Planner and Verifier do no I/O and never read the system clock. The
// Executor and Simulator take a Clock; with a ManualClock a dry run
// advances time by each action's estimate, so repeated runs produce
// identical results.
package ha
