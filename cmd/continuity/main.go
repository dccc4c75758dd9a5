// cmd/continuity/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/FairForge/continuity/internal/config"
	"github.com/FairForge/continuity/internal/ha"
	"github.com/FairForge/continuity/internal/logging"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usage = `usage: continuity [--config file] [--cluster file] [--policy file] <command> [flags]

commands:
  plan       build a failover plan (stdout or --out file)
  simulate   run a seeded what-if scenario
  suite      run simulation cases as a regression gate
  execute    run a failover or a --plan file (--dry-run to rehearse)
  status     show nodes, quorum and failover candidates
  audit      show or verify an audit pack
  history    list recorded executions (postgres backend)
  serve      run the HTTP API and heartbeat monitor
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries what every command needs
type cli struct {
	cfg    *config.Config
	logger *zap.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type command func(c *cli, args []string) int

var commands = map[string]command{
	"plan":     runPlan,
	"simulate": runSimulate,
	"suite":    runSuite,
	"execute":  runExecute,
	"status":   runStatus,
	"audit":    runAudit,
	"history":  runHistory,
	"serve":    runServe,
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("continuity", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := fs.String("config", config.GetEnvOrDefault("CONTINUITY_CONFIG", "continuity.yaml"), "settings file")
	clusterPath := fs.String("cluster", "", "cluster document (overrides settings)")
	policyPath := fs.String("policy", "", "policy document (overrides settings)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", fs.Arg(0))
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return exitUsage
	}
	if *clusterPath != "" {
		cfg.Topology.ClusterFile = *clusterPath
	}
	if *policyPath != "" {
		cfg.Topology.PolicyFile = *policyPath
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "logging: %v\n", err)
		return exitUsage
	}
	defer func() { _ = logger.Sync() }()

	return cmd(&cli{cfg: cfg, logger: logger, stdin: stdin, stdout: stdout, stderr: stderr}, fs.Args()[1:])
}

// fail reports err and maps it to an exit code
func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "error: %v\n", err)
	var cfgErr *ha.ConfigError
	if errors.As(err, &cfgErr) {
		return exitUsage
	}
	return exitFailure
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}
