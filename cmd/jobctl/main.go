// Command jobctl runs one reconciliation job against the configured database
// and broker, then exits. It is meant for operators and external schedulers.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"

	"github.com/gainy-app/gainy-compute-sub000/internal/app"
	"github.com/gainy-app/gainy-compute-sub000/internal/config"
	"github.com/gainy-app/gainy-compute-sub000/internal/jobs"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&jobCmd{name: jobs.Rebalance, synopsis: "apply pending orders and push target weights to the broker"}, "jobs")
	commander.Register(&jobCmd{name: jobs.Reconcile, synopsis: "attribute broker cash flows to pending orders"}, "jobs")
	commander.Register(&jobCmd{name: jobs.CorporateActions, synopsis: "turn dividends and spin-offs into fund orders"}, "jobs")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	logger.Sync()
	os.Exit(int(status))
}

// jobCmd runs one registered job.
type jobCmd struct {
	name     string
	synopsis string
	asJSON   bool
	migrate  bool
}

func (c *jobCmd) Name() string { return c.name }
func (c *jobCmd) Synopsis() string { return c.synopsis }
func (c *jobCmd) Usage() string {
	return fmt.Sprintf("%s [-json] [-migrate]\n\n%s.\n", c.name, c.synopsis)
}

func (c *jobCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.asJSON, "json", false, "print the run summary as JSON")
	f.BoolVar(&c.migrate, "migrate", false, "apply pending migrations before running")
}

func (c *jobCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "Error: %s takes no arguments\n", c.name)
		return subcommands.ExitUsageError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		return subcommands.ExitFailure
	}
	logger.Init(cfg.Env, cfg.LogLevel)

	a, err := app.New(cfg, c.migrate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	result, err := a.Jobs.Run(ctx, c.name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error running %s: %v\n", c.name, err)
		return subcommands.ExitFailure
	}

	if c.asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding result: %v\n", err)
			return subcommands.ExitFailure
		}
	} else {
		fmt.Println(result)
		for _, e := range result.Errors {
			fmt.Printf("  %d: %s\n", e.ID, e.Error)
		}
	}

	if result.Failed > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
