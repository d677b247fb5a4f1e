package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"accessmatrix.org/internal/migrate"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		dsn     string
		table   string
		timeout time.Duration
	)
	flagSet := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flagSet.StringVar(&dsn, "dsn", os.Getenv("ACCESSMATRIX_PG_DSN"), "PostgreSQL DSN (default $ACCESSMATRIX_PG_DSN)")
	flagSet.StringVar(&table, "table", "", "bookkeeping table (default schema_migrations)")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")
	flagSet.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: migrate [flags] up|down|status")
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if dsn == "" {
		return errors.New("missing DSN: provide via --dsn or ACCESSMATRIX_PG_DSN")
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return errors.New("expected exactly one command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, migrate.WithMigrationsTable(table))

	switch cmd := flagSet.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		if err != nil {
			return fmt.Errorf("up: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("nothing to apply")
		}
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			return fmt.Errorf("down: %w", err)
		}
		fmt.Println("rolled back", name)
	case "status":
		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		for _, st := range status {
			mark := "pending"
			if st.Applied {
				mark = "applied"
			}
			fmt.Printf("%-8s %s\n", mark, st.Name)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
