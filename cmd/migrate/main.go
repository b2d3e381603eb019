// Command migrate manages the PostgreSQL schema used by the postgres store
// driver.
//
//	migrate [-dsn URL] up | down | steps N | version | force V
//
// Without -dsn the connection is built from the KTRU_DB_* environment.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"

	"github.com/JaimeStill/ktru/internal/config"
	"github.com/JaimeStill/ktru/internal/state"
	"github.com/JaimeStill/ktru/pkg/database"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(os.Args[1:], logger); err != nil {
		logger.Error("migrate failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", "", "database URL (defaults to KTRU_DB_* environment)")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: migrate [-dsn URL] up | down | steps N | version | force V")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}

	target, err := resolveDSN(*dsn)
	if err != nil {
		return err
	}

	m, err := state.NewMigrator(target)
	if err != nil {
		return err
	}
	defer m.Close()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "up":
		err = ignoreNoChange(m.Up())
	case "down":
		err = ignoreNoChange(m.Down())
	case "steps":
		var n int
		if n, err = intArg(cmd, rest); err == nil {
			err = ignoreNoChange(m.Steps(n))
		}
	case "force":
		var v int
		if v, err = intArg(cmd, rest); err == nil {
			err = m.Force(v)
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		logger.Info("schema empty", "command", cmd)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}

	logger.Info("schema version", "command", cmd, "version", v, "dirty", dirty)
	return nil
}

func resolveDSN(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	var cfg database.Config
	if err := cfg.Finalize(config.DatabaseEnv); err != nil {
		return "", fmt.Errorf("database config: %w", err)
	}
	return cfg.Dsn(), nil
}

func intArg(cmd string, rest []string) (int, error) {
	if len(rest) != 1 {
		return 0, fmt.Errorf("%s takes exactly one integer argument", cmd)
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", cmd, rest[0])
	}
	return n, nil
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
