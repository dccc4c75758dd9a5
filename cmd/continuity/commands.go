package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/continuity/internal/audit"
	"github.com/FairForge/continuity/internal/database"
	"github.com/FairForge/continuity/internal/engine"
	"github.com/FairForge/continuity/internal/ha"
)

func (c *cli) printJSON(v any) {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// start parses flags and wires the engine for a one-shot command
func (c *cli) start(fs *flag.FlagSet, args []string) (*runtime, int) {
	if err := fs.Parse(args); err != nil {
		return nil, exitUsage
	}
	rt, err := c.build(context.Background())
	if err != nil {
		return nil, c.fail(err)
	}
	return rt, exitOK
}

func runPlan(c *cli, args []string) int {
	fs := c.flags("plan")
	reason := fs.String("reason", "manual plan", "trigger reason recorded in the plan")
	out := fs.String("out", "", "write the plan to this file instead of stdout")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()

	plan, err := rt.engine.Plan(context.Background(), *reason)
	if err != nil {
		return c.fail(err)
	}
	if *out == "" {
		c.printJSON(plan)
		return exitOK
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return c.fail(err)
	}
	if err := os.WriteFile(*out, append(data, '\n'), 0o600); err != nil {
		return c.fail(fmt.Errorf("write plan: %w", err))
	}
	fmt.Fprintf(c.stdout, "plan %s written to %s\n", plan.ID, *out)
	return exitOK
}

func readPlan(path string) (ha.ContinuityPlan, error) {
	var plan ha.ContinuityPlan
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("read plan: %w", err)
	}
	if err := json.Unmarshal(data, &plan); err != nil {
		return plan, &ha.ConfigError{Field: path, Msg: err.Error()}
	}
	return plan, nil
}

func runSimulate(c *cli, args []string) int {
	fs := c.flags("simulate")
	scenario := fs.String("scenario", string(ha.ScenarioPrimaryFailure), "primary_failure, random_failures or region_failure")
	count := fs.Int("count", 0, "nodes to fail for random_failures")
	region := fs.String("region", "", "region to fail for region_failure")
	seed := fs.Int64("seed", engine.DefaultSeed, "generator seed")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()

	res, err := rt.engine.Simulate(context.Background(), engine.SimulationRequest{
		Scenario: ha.Scenario(*scenario),
		Count:    *count,
		Region:   *region,
		Seed:     seed,
	})
	if err != nil {
		return c.fail(err)
	}
	c.printJSON(res)
	if !res.Success {
		return exitFailure
	}
	return exitOK
}

func runSuite(c *cli, args []string) int {
	fs := c.flags("suite")
	file := fs.String("file", "", "YAML list of cases (built-in cases when empty)")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()

	var cases []ha.SuiteCase
	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			return c.fail(fmt.Errorf("read suite: %w", err))
		}
		if err := yaml.Unmarshal(data, &cases); err != nil {
			return c.fail(&ha.ConfigError{Field: *file, Msg: err.Error()})
		}
	}

	report, err := rt.engine.RunSuite(context.Background(), cases)
	if err != nil {
		return c.fail(err)
	}
	c.printJSON(report)
	if report.FailedCases > 0 {
		return exitFailure
	}
	return exitOK
}

func runExecute(c *cli, args []string) int {
	fs := c.flags("execute")
	dryRun := fs.Bool("dry-run", false, "rehearse without invoking any action")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	reason := fs.String("reason", "manual failover", "trigger reason recorded in the plan")
	planFile := fs.String("plan", "", "run this previously emitted plan instead of planning now")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()
	ctx := context.Background()

	var stored *ha.ContinuityPlan
	if *planFile != "" {
		plan, err := readPlan(*planFile)
		if err != nil {
			return c.fail(err)
		}
		stored = &plan
	}

	if !*dryRun && !*yes {
		plan, err := preview(ctx, rt, stored, *reason)
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stderr, "Fail over cluster %s from %s to %s? Type 'yes' to continue: ",
			plan.ClusterID, plan.PrimaryNodeID, plan.FailoverTargetID)
		answer, _ := bufio.NewReader(c.stdin).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(c.stderr, "aborted")
			return exitFailure
		}
	}

	var report engine.ExecutionReport
	var err error
	if stored != nil {
		report, err = rt.engine.ExecutePlan(ctx, *stored, *dryRun)
	} else {
		report, err = rt.engine.Execute(ctx, *reason, *dryRun)
	}
	var planErr *ha.PlanningError
	if err != nil && !errors.As(err, &planErr) {
		return c.fail(err)
	}
	c.printJSON(report)
	if err != nil {
		fmt.Fprintf(c.stderr, "error: %v\n", err)
		return exitFailure
	}
	if !report.Success() {
		return exitFailure
	}
	return exitOK
}

// preview returns the plan the confirmation prompt describes
func preview(ctx context.Context, rt *runtime, stored *ha.ContinuityPlan, reason string) (ha.ContinuityPlan, error) {
	if stored != nil {
		return *stored, nil
	}
	return rt.engine.Plan(ctx, reason)
}

func runStatus(c *cli, args []string) int {
	fs := c.flags("status")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()

	st := rt.engine.Status(context.Background())
	if *asJSON {
		c.printJSON(st)
		return exitOK
	}

	fmt.Fprintf(c.stdout, "cluster:    %s (policy %s)\n", st.ClusterID, st.PolicyID)
	fmt.Fprintf(c.stdout, "primary:    %s\n", valueOr(st.Primary, "none"))
	fmt.Fprintf(c.stdout, "quorum:     %d/%d healthy, need %d, has_quorum=%t\n",
		st.Quorum.HealthyNodes, st.Quorum.TotalNodes, st.Quorum.QuorumSize, st.Quorum.HasQuorum)
	fmt.Fprintf(c.stdout, "candidates: %s\n", valueOr(strings.Join(st.Candidates, ", "), "none"))
	fmt.Fprintf(c.stdout, "unhealthy:  %s\n\n", valueOr(strings.Join(st.Unhealthy, ", "), "none"))

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tROLE\tSTATUS\tHEALTH\tREGION\tSITE\tPRIORITY\tLAST HEARTBEAT")
	for _, n := range st.Nodes {
		last := "-"
		if n.LastHeartbeat != nil {
			last = n.LastHeartbeat.UTC().Format(time.RFC3339)
		}
		health := "-"
		if n.Health != nil {
			health = n.Health.State
			if n.Health.ConsecutiveFails > 0 {
				health += fmt.Sprintf(" (%d fails)", n.Health.ConsecutiveFails)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n", n.ID, n.Role, n.Status, health, n.Region, n.Site, n.Priority, last)
	}
	_ = tw.Flush()
	return exitOK
}

func runAudit(c *cli, args []string) int {
	fs := c.flags("audit")
	verify := fs.Bool("verify", false, "check the manifest digest and seal")
	list := fs.Int("list", 0, "list the newest N packs instead")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()
	ctx := context.Background()

	if *list > 0 {
		packs, err := rt.engine.Audits(ctx, *list)
		if err != nil {
			return c.fail(err)
		}
		tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "AUDIT ID\tCREATED\tSTATUS\tCONFIDENCE")
		for _, p := range packs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d (%s)\n", p.AuditID, p.CreatedAt.UTC().Format(time.RFC3339),
				p.Status, p.Confidence.Score, p.Confidence.Band)
		}
		_ = tw.Flush()
		return exitOK
	}

	id := audit.LatestID
	if fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if !*verify {
		pack, err := rt.engine.Audit(ctx, id)
		if err != nil {
			return c.fail(err)
		}
		c.printJSON(pack)
		return exitOK
	}

	pack, err := rt.engine.VerifyAudit(ctx, id)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "audit %s verified (manifest %s)\n", pack.AuditID, pack.ManifestHash)
	return exitOK
}

func runHistory(c *cli, args []string) int {
	fs := c.flags("history")
	limit := fs.Int("limit", 20, "number of executions to list")
	asJSON := fs.Bool("json", false, "print JSON instead of a table")
	rt, code := c.start(fs, args)
	if rt == nil {
		return code
	}
	defer func() { _ = rt.Close() }()

	if *limit < 1 {
		return c.fail(&ha.ConfigError{Field: "limit", Msg: "must be a positive integer"})
	}
	records, err := rt.engine.History(context.Background(), *limit)
	if err != nil {
		return c.fail(err)
	}
	if *asJSON {
		c.printJSON(records)
		return exitOK
	}
	printHistory(c.stdout, records)
	return exitOK
}

func printHistory(w io.Writer, records []database.ExecutionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTION\tSTARTED\tTARGET\tMODE\tRESULT\tACTIONS\tDURATION\tAUDIT ID")
	for _, r := range records {
		mode := "live"
		if r.DryRun {
			mode = "dry-run"
		}
		result := "failed"
		if r.Success {
			result = "ok"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%dms\t%s\n", r.ExecutionID, r.StartedAt.UTC().Format(time.RFC3339),
			valueOr(r.TargetNodeID, "-"), mode, result, r.ActionsExecuted-r.ActionsFailed, r.ActionsExecuted,
			r.TotalDurationMs, valueOr(r.AuditID, "-"))
	}
	_ = tw.Flush()
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
