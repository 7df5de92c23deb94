package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"trafficpilot/internal/logging"
	"trafficpilot/migrations"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

var openDB = sql.Open

func main() {
	logging.Init("migrate", nil)
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dsn := fs.String("dsn", os.Getenv("POSTGRES_DSN"), "postgres DSN (default $POSTGRES_DSN)")
	dir := fs.String("dir", "", "migrations dir on disk; embedded migrations when empty")
	action := fs.String("action", "up", "up/down/status/version/redo")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*dsn) == "" {
		return errors.New("dsn required")
	}
	switch *action {
	case "up", "down", "status", "version", "redo":
	default:
		return fmt.Errorf("unknown action %q", *action)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if *dir == "" {
		goose.SetBaseFS(migrations.EmbeddedFS)
		*dir = "."
	} else {
		goose.SetBaseFS(nil)
	}

	db, err := openDB("postgres", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	switch *action {
	case "up":
		return goose.Up(db, *dir)
	case "down":
		return goose.Down(db, *dir)
	case "status":
		return goose.Status(db, *dir)
	case "version":
		version, err := goose.GetDBVersion(db)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "audit schema version %d\n", version)
		return nil
	default:
		return goose.Redo(db, *dir)
	}
}
