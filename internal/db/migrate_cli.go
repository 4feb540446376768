package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/banshee-data/mindframe/internal/monitoring"
)

// ErrUsage is returned by RunMigrateCommand when the arguments are malformed.
var ErrUsage = errors.New("invalid usage")

// RunMigrateCommand handles the 'migrate' subcommand dispatching. Output
// goes to out; the force confirmation prompt reads from in.
func RunMigrateCommand(database *DB, args []string, out io.Writer, in io.Reader) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}

	migrationsFS := MigrationsFS()

	switch action := args[0]; action {
	case "up":
		return handleMigrateUp(database, migrationsFS)

	case "down":
		return handleMigrateDown(database, migrationsFS)

	case "status":
		return handleMigrateStatus(database, migrationsFS, out)

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("%w: mindframe migrate version <version_number>", ErrUsage)
		}
		return handleMigrateVersion(database, migrationsFS, args[1])

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("%w: mindframe migrate force <version_number>", ErrUsage)
		}
		return handleMigrateForce(database, migrationsFS, args[1], out, in)

	case "help":
		PrintMigrateHelp(out)
		return nil

	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func handleMigrateUp(database *DB, migrationsFS fs.FS) error {
	monitoring.Logf("Running migrations...")
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	monitoring.Logf("✓ All migrations applied successfully")

	version, dirty, _ := database.MigrateVersion(migrationsFS)
	monitoring.Logf("Current version: %d (dirty: %v)", version, dirty)
	return nil
}

func handleMigrateDown(database *DB, migrationsFS fs.FS) error {
	monitoring.Logf("Rolling back one migration...")
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	monitoring.Logf("✓ Migration rolled back successfully")

	version, dirty, _ := database.MigrateVersion(migrationsFS)
	monitoring.Logf("Current version: %d (dirty: %v)", version, dirty)
	return nil
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(out, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)

	switch {
	case status.Dirty:
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. You may need to:")
		fmt.Fprintln(out, "  1. Inspect the database manually")
		fmt.Fprintln(out, "  2. Fix any issues")
		fmt.Fprintln(out, "  3. Run: mindframe migrate force <version>")
	case status.Pending() > 0:
		fmt.Fprintf(out, "⚠️  Database is %d version(s) behind. Run 'mindframe migrate up' to update.\n", status.Pending())
	default:
		fmt.Fprintln(out, "✓ Database is up to date!")
	}
	return nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, versionStr string) error {
	var targetVersion uint
	if _, err := fmt.Sscanf(versionStr, "%d", &targetVersion); err != nil {
		return fmt.Errorf("%w: invalid version number: %s", ErrUsage, versionStr)
	}

	monitoring.Logf("Migrating to version %d...", targetVersion)
	if err := database.MigrateTo(migrationsFS, targetVersion); err != nil {
		return err
	}
	monitoring.Logf("✓ Migrated to version %d successfully", targetVersion)
	return nil
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, versionStr string, out io.Writer, in io.Reader) error {
	var forceVersion int
	if _, err := fmt.Sscanf(versionStr, "%d", &forceVersion); err != nil {
		return fmt.Errorf("%w: invalid version number: %s", ErrUsage, versionStr)
	}

	fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", forceVersion)
	fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(out, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(response)
	if response != "y" && response != "Y" {
		fmt.Fprintln(out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(migrationsFS, forceVersion); err != nil {
		return err
	}
	monitoring.Logf("✓ Migration version forced to %d", forceVersion)
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Database Migration Commands")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: mindframe migrate <command> [options]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up              Apply all pending migrations")
	fmt.Fprintln(out, "  down            Rollback one migration")
	fmt.Fprintln(out, "  status          Show current migration status and version")
	fmt.Fprintln(out, "  version <N>     Migrate to specific version N")
	fmt.Fprintln(out, "  force <N>       Force migration version to N (recovery only)")
	fmt.Fprintln(out, "  help            Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  mindframe migrate up")
	fmt.Fprintln(out, "  mindframe migrate status")
	fmt.Fprintln(out, "  mindframe migrate version 3")
	fmt.Fprintln(out, "  mindframe -db mindframe.db migrate force 2")
}
