// Command crabtool is a read-only operator CLI over the aggregator's own
// store: inspecting a node, tallying archived responses under a
// supernet, and sizing prober throughput offline. It never mutates the
// tree or measurement state.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/hexmap/aggregator/cmd/crabtool/commands"
	"github.com/hexmap/aggregator/internal/obs"
	"github.com/hexmap/aggregator/internal/store/pg"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "crabtool:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: crabtool <inspect|hitcount|rate> [flags]")
	}

	sub, rest := args[0], args[1:]

	// rate needs no store at all; keep it free of a DATABASE_URL
	// requirement so it runs on an operator's laptop.
	if sub == "rate" {
		return commands.Rate(rest, os.Stdout)
	}

	dbFlags := flag.NewFlagSet(sub, flag.ExitOnError)
	dsn := dbFlags.String("db", os.Getenv("AGGREGATOR_DATABASE_URL"), "Postgres DSN")
	if err := dbFlags.Parse(rest); err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("-db (or AGGREGATOR_DATABASE_URL) is required for %q", sub)
	}

	log, err := obs.NewLogger(false)
	if err != nil {
		return fmt.Errorf("crabtool: logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	ctx := context.Background()
	pool, err := pg.Open(ctx, *dsn, log)
	if err != nil {
		return fmt.Errorf("crabtool: connect: %w", err)
	}
	defer pool.Close()

	switch sub {
	case "inspect":
		return commands.Inspect(ctx, dbFlags.Args(), pool, os.Stdout)
	case "hitcount":
		return commands.HitCount(ctx, dbFlags.Args(), pool, os.Stdout)
	default:
		return fmt.Errorf("unknown subcommand %q; usage: crabtool <inspect|hitcount|rate> [flags]", sub)
	}
}
