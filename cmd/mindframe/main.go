// Command mindframe administers the mindframe database: schema migrations,
// Firebase user sync, metrics rollups, maintenance jobs, reports and a
// debug console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/mindframe/internal/config"
	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/version"
)

// errUsage marks command-line mistakes; main exits with status 2 for them.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		os.Exit(exitCode(err, os.Stderr))
	}
}

// exitCode reports err on w and returns the process status. Usage errors
// exit 2; the bare sentinels are silent because usage was already printed.
func exitCode(err error, w io.Writer) int {
	if err == nil {
		return 0
	}
	usage := errors.Is(err, errUsage) || errors.Is(err, db.ErrUsage) || errors.Is(err, flag.ErrHelp)
	switch {
	case usage && (err == errUsage || err == db.ErrUsage || err == flag.ErrHelp):
		return 2
	case usage:
		fmt.Fprintf(w, "Error: %v\n", err)
		return 2
	default:
		fmt.Fprintf(w, "Error: %v\n", err)
		return 1
	}
}

// app carries the resolved configuration into command handlers.
type app struct {
	cfg    *config.Config
	dbPath string
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	fs := flag.NewFlagSet("mindframe", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "Path to JSON config file")
	dbPath := fs.String("db", "", "Path to the SQLite database (overrides config)")
	fs.Usage = func() { printUsage(errOut) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printUsage(errOut)
		return errUsage
	}

	command, rest := fs.Arg(0), fs.Args()[1:]
	switch command {
	case "version":
		fmt.Fprintln(out, version.String())
		return nil
	case "help":
		printUsage(out)
		return nil
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	a := &app{cfg: cfg, dbPath: cfg.GetDBPath(), in: in, out: out, errOut: errOut}
	if *dbPath != "" {
		a.dbPath = *dbPath
	}

	switch command {
	case "migrate":
		return a.migrate(rest)
	case "sync-users":
		return a.syncUsers(ctx, rest)
	case "metrics":
		return a.metrics(ctx, rest)
	case "maintenance":
		return a.maintenance(ctx, rest)
	case "report":
		return a.report(ctx, rest)
	case "debug":
		return a.debug(ctx, rest)
	default:
		fmt.Fprintf(errOut, "Unknown command: %s\n\n", command)
		printUsage(errOut)
		return errUsage
	}
}

// openDB opens the database and applies pending migrations.
func (a *app) openDB() (*db.DB, error) {
	database, err := db.NewDB(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", a.dbPath, err)
	}
	return database, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `mindframe - data administration for the mindframe backend

Usage: mindframe [-config file.json] [-db path] <command> [options]

Commands:
  migrate         Manage schema migrations (up, down, status, version N, force N)
  sync-users      Sync a Firebase Auth export: -file export.json [-prune]
  metrics         compute [-date D] [-to D] | list [-from D] [-to D]
  maintenance     overdue-homework | cleanup-events [-days N] | run [-days N]
  report          metrics [-from D] [-to D] [-out file.html]
                  mood -user ID [-days N] [-out file.png]
  debug           Serve the debug console: [-listen addr]
  version         Show build information
  help            Show this help message

Dates are UTC calendar dates in YYYY-MM-DD form.
`)
}
