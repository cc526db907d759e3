// Command migrate applies, rolls back or inspects the SQL migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/subcommands"

	"github.com/gainy-app/gainy-compute-sub000/internal/config"
	"github.com/gainy-app/gainy-compute-sub000/internal/database"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
)

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, "migrate")
	commander.Register(commander.HelpCommand(), "")
	commander.Register(&upCmd{}, "")
	commander.Register(&downCmd{}, "")
	commander.Register(&versionCmd{}, "")
	commander.Register(&forceCmd{}, "")

	flag.Parse()
	status := commander.Execute(context.Background())
	logger.Sync()
	os.Exit(int(status))
}

// withMigrate opens a migrate instance for the configured database, runs fn
// and maps its error to an exit status.
func withMigrate(fn func(m *migrate.Migrate) error) subcommands.ExitStatus {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return subcommands.ExitFailure
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	log := logger.Get()

	m, err := migrate.New(database.MigrationsSource, cfg.MigrationURL())
	if err != nil {
		log.Errorf("failed to create migrate instance: %v", err)
		return subcommands.ExitFailure
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			log.Warnf("migrate source close error: %v", srcErr)
		}
		if dbErr != nil {
			log.Warnf("migrate database close error: %v", dbErr)
		}
	}()

	if err := fn(m); err != nil {
		log.Errorf("Migration error: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type upCmd struct{}

func (*upCmd) Name() string { return "up" }
func (*upCmd) Synopsis() string { return "apply all pending migrations" }
func (*upCmd) Usage() string { return "up\n" }
func (*upCmd) SetFlags(*flag.FlagSet) {}
func (*upCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withMigrate(func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration up failed: %w", err)
		}
		logger.Get().Info("Migrations applied successfully")
		return nil
	})
}

type downCmd struct {
	steps int
}

func (*downCmd) Name() string { return "down" }
func (*downCmd) Synopsis() string { return "roll back migrations" }
func (*downCmd) Usage() string { return "down [-steps N]\n" }
func (c *downCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.steps, "steps", 1, "number of migrations to roll back")
}

func (c *downCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.steps < 1 {
		fmt.Fprintln(os.Stderr, "Error: -steps must be at least 1")
		return subcommands.ExitUsageError
	}
	return withMigrate(func(m *migrate.Migrate) error {
		if err := m.Steps(-c.steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration down failed: %w", err)
		}
		logger.Get().Infof("Rolled back %d migration(s)", c.steps)
		return nil
	})
}

type versionCmd struct{}

func (*versionCmd) Name() string { return "version" }
func (*versionCmd) Synopsis() string { return "print the applied migration version" }
func (*versionCmd) Usage() string { return "version\n" }
func (*versionCmd) SetFlags(*flag.FlagSet) {}
func (*versionCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withMigrate(func(m *migrate.Migrate) error {
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return nil
	})
}

// forceCmd clears the dirty flag after a failed migration was fixed by hand.
type forceCmd struct{}

func (*forceCmd) Name() string { return "force" }
func (*forceCmd) Synopsis() string { return "set the migration version without running migrations" }
func (*forceCmd) Usage() string { return "force <version>\n" }
func (*forceCmd) SetFlags(*flag.FlagSet) {}
func (*forceCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: force takes exactly one version argument")
		return subcommands.ExitUsageError
	}
	version, err := strconv.Atoi(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid version %q\n", f.Arg(0))
		return subcommands.ExitUsageError
	}
	return withMigrate(func(m *migrate.Migrate) error {
		if err := m.Force(version); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		logger.Get().Infof("Forced version %d", version)
		return nil
	})
}
