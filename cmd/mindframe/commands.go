package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/monitoring"
	"github.com/banshee-data/mindframe/internal/report"
	"github.com/banshee-data/mindframe/internal/security"
	"github.com/banshee-data/mindframe/internal/timeutil"
	"github.com/banshee-data/mindframe/internal/usersync"
)

func (a *app) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

// subcommand splits args into the action and its flags.
func (a *app) subcommand(group string, args []string) (string, []string, error) {
	if len(args) == 0 {
		fmt.Fprintf(a.errOut, "mindframe %s requires an action\n\n", group)
		printUsage(a.errOut)
		return "", nil, errUsage
	}
	return args[0], args[1:], nil
}

// migrate opens the database without migrating so status and down work on
// any schema version.
func (a *app) migrate(args []string) error {
	database, err := db.OpenDB(a.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", a.dbPath, err)
	}
	defer database.Close()
	return db.RunMigrateCommand(database, args, a.out, a.in)
}

func (a *app) syncUsers(ctx context.Context, args []string) error {
	fs := a.flagSet("sync-users")
	file := fs.String("file", "", "Firebase Auth export JSON (required)")
	prune := fs.Bool("prune", false, "Soft-delete local users missing from the export")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fmt.Fprintln(a.errOut, "Error: -file is required")
		fs.Usage()
		return errUsage
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	res, err := usersync.New(database, usersync.Options{Prune: *prune}).SyncFile(ctx, *file)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Synced users: %s\n", res)
	for _, f := range res.Failed {
		fmt.Fprintf(a.errOut, "  %s: %v\n", f.UID, f.Err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d users failed to sync", len(res.Failed))
	}
	return nil
}

func (a *app) metrics(ctx context.Context, args []string) error {
	action, rest, err := a.subcommand("metrics", args)
	if err != nil {
		return err
	}
	today := timeutil.Today(timeutil.RealClock{})
	svc := db.ServicePrincipal()

	switch action {
	case "compute":
		fs := a.flagSet("metrics compute")
		date := fs.String("date", today, "Date to compute")
		to := fs.String("to", "", "Recompute every date from -date through -to")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		database, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		end := *to
		if end == "" {
			end = *date
		}
		rows, err := database.ComputeDailyMetricsRange(ctx, svc, *date, end)
		if err != nil {
			return err
		}
		return a.printMetrics(rows)
	case "list":
		fs := a.flagSet("metrics list")
		from := fs.String("from", time.Now().UTC().AddDate(0, 0, -29).Format(timeutil.DateLayout), "First date")
		to := fs.String("to", today, "Last date")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		database, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := database.ListDailyMetrics(ctx, svc, *from, *to)
		if err != nil {
			return err
		}
		return a.printMetrics(rows)
	default:
		fmt.Fprintf(a.errOut, "Unknown metrics action: %s\n", action)
		return errUsage
	}
}

func (a *app) printMetrics(rows []db.DailyMetrics) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tNEW\tACTIVE\tEVENTS\tTHOUGHTS\tMOODS\tREDEMPTIONS\tDISCOUNT¢\tCONVERSIONS\tREVENUE¢")
	for _, m := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			m.MetricDate, m.NewUsers, m.ActiveUsers, m.TotalEvents, m.ThoughtRecordsCreated,
			m.MoodEntriesLogged, m.PromoRedemptions, m.PromoDiscountCents,
			m.ReferralConversions, m.ReferralRevenueCents)
	}
	return tw.Flush()
}

func (a *app) maintenance(ctx context.Context, args []string) error {
	action, rest, err := a.subcommand("maintenance", args)
	if err != nil {
		return err
	}
	fs := a.flagSet("maintenance " + action)
	days := fs.Int("days", int(a.cfg.GetAnalyticsRetention()/(24*time.Hour)), "Analytics retention in days")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	retention := time.Duration(*days) * 24 * time.Hour
	svc := db.ServicePrincipal()

	switch action {
	case "overdue-homework", "cleanup-events", "run":
	default:
		fmt.Fprintf(a.errOut, "Unknown maintenance action: %s\n", action)
		return errUsage
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	switch action {
	case "overdue-homework":
		n, err := database.MarkOverdueHomework(ctx, svc)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Marked %d homework assignments overdue\n", n)
	case "cleanup-events":
		n, err := database.CleanupAnalyticsEvents(ctx, svc, retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Deleted %d analytics events older than %d days\n", n, *days)
	case "run":
		res, err := database.RunMaintenance(ctx, svc, retention)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Marked %d homework assignments overdue, deleted %d analytics events\n",
			res.OverdueHomework, res.DeletedEvents)
	}
	return nil
}

func (a *app) report(ctx context.Context, args []string) error {
	action, rest, err := a.subcommand("report", args)
	if err != nil {
		return err
	}
	svc := db.ServicePrincipal()

	switch action {
	case "metrics":
		fs := a.flagSet("report metrics")
		from := fs.String("from", time.Now().UTC().AddDate(0, 0, -29).Format(timeutil.DateLayout), "First date")
		to := fs.String("to", timeutil.Today(timeutil.RealClock{}), "Last date")
		out := fs.String("out", "metrics.html", "Output HTML file")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		database, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := database.ListDailyMetrics(ctx, svc, *from, *to)
		if err != nil {
			return err
		}
		if err := report.WriteMetricsPage(*out, rows); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Wrote %d days of metrics to %s\n", len(rows), *out)
	case "mood":
		fs := a.flagSet("report mood")
		user := fs.String("user", "", "User id (required)")
		days := fs.Int("days", a.cfg.GetMoodTrendDays(), "Trend window in days")
		out := fs.String("out", "", "Output PNG file (default mood-<user>.png)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *user == "" {
			fmt.Fprintln(a.errOut, "Error: -user is required")
			fs.Usage()
			return errUsage
		}
		path := *out
		if path == "" {
			path = fmt.Sprintf("mood-%s.png", security.SafeFilename(*user))
		}
		database, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close()

		trend, err := database.GetMoodTrend(ctx, svc, *user, *days)
		if err != nil {
			return err
		}
		if err := report.SaveMoodTrendPNG(trend, path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Mood %s (slope %+.3f/day over %d days) written to %s\n",
			trend.Direction, trend.Slope, len(trend.Points), path)
	default:
		fmt.Fprintf(a.errOut, "Unknown report action: %s\n", action)
		return errUsage
	}
	return nil
}

// debug serves the tsweb debug index until ctx is cancelled.
func (a *app) debug(ctx context.Context, args []string) error {
	fs := a.flagSet("debug")
	listen := fs.String("listen", a.cfg.GetDebugListen(), "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	mux := http.NewServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return err
	}
	server := &http.Server{
		Addr:              *listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("debug console listening on http://%s/debug/", *listen)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	monitoring.Logf("shutting down debug console...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("debug console shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("debug console force close error: %v", err)
		}
	}
	return nil
}
