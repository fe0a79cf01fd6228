// Command migrate manages the schema of the alert and watchlist store.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"spacenexus/migrations"
)

type settings struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/alerts.db"`
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, db *sql.DB, out io.Writer) error
}

var commands = []command{
	{
		name:  "up",
		usage: "Create or upgrade the alert and watchlist tables",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.UpContext(ctx, db, ".")
		},
	},
	{
		name:  "up-one",
		usage: "Apply the next schema version only",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.UpByOneContext(ctx, db, ".")
		},
	},
	{
		name:  "down",
		usage: "Roll back the latest schema version (watchlist tables go first)",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.DownContext(ctx, db, ".")
		},
	},
	{
		name:  "redo",
		usage: "Roll back and re-apply the latest schema version",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.RedoContext(ctx, db, ".")
		},
	},
	{
		name:  "status",
		usage: "List schema versions and whether each is applied",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.StatusContext(ctx, db, ".")
		},
	},
	{
		name:  "version",
		usage: "Print the applied schema version",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.VersionContext(ctx, db, ".")
		},
	},
	{
		name:  "tables",
		usage: "Print row counts of the alert and watchlist tables",
		run:   printTables,
	},
	{
		name:  "reset",
		usage: "Drop every alert and watchlist table, including queued deliveries",
		run: func(ctx context.Context, db *sql.DB, _ io.Writer) error {
			return goose.ResetContext(ctx, db, ".")
		},
	},
}

func main() {
	cfg, err := env.ParseAs[settings]()
	if err != nil {
		slog.Error("parse environment", "error", err)
		os.Exit(1)
	}

	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "path to the alert store SQLite database (env DATABASE_PATH)")
	flag.Usage = func() { usage(flag.CommandLine.Output()) }
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		slog.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	name := flag.Arg(0)
	if err := run(context.Background(), db, name, os.Stdout); err != nil {
		slog.Error("migrate", "command", name, "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "Usage: migrate [-db path] <command>")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Manages the alert store schema.")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %-9s %s\n", c.name, c.usage)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Flags:")
	flag.CommandLine.SetOutput(w)
	flag.PrintDefaults()
}

// run executes the named command against db.
func run(ctx context.Context, db *sql.DB, name string, out io.Writer) error {
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := migrations.Setup(); err != nil {
			return err
		}
		return c.run(ctx, db, out)
	}
	return fmt.Errorf("unknown command %q", name)
}

func printTables(ctx context.Context, db *sql.DB, out io.Writer) error {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != ?
		 ORDER BY name`, goose.TableName(),
	)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := errors.Join(rows.Err(), rows.Close()); err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	if len(tables) == 0 {
		return errors.New("no tables, run migrate up first")
	}

	for _, table := range tables {
		var n int
		// Names come from sqlite_master, not from user input.
		q := `SELECT COUNT(*) FROM "` + strings.ReplaceAll(table, `"`, `""`) + `"`
		if err := db.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return fmt.Errorf("count %s: %w", table, err)
		}
		if _, err := fmt.Fprintf(out, "%-28s %d\n", table, n); err != nil {
			return err
		}
	}
	return nil
}
