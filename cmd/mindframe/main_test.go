package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/monitoring"
	"github.com/banshee-data/mindframe/internal/timeutil"
)

type cli struct {
	t      *testing.T
	dbPath string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	return &cli{t: t, dbPath: filepath.Join(t.TempDir(), "cli.db")}
}

// run invokes the CLI against the test database and returns stdout.
func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"-db", c.dbPath}, args...)
	err := run(context.Background(), full, strings.NewReader(stdin), &out, &errOut)
	if errOut.Len() > 0 {
		c.t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func TestRun_VersionAndUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, nil, &out, &errOut))
	assert.Contains(t, out.String(), "mindframe dev")

	out.Reset()
	require.NoError(t, run(context.Background(), []string{"help"}, nil, &out, &errOut))
	assert.Contains(t, out.String(), "sync-users")

	assert.ErrorIs(t, run(context.Background(), nil, nil, &out, &errOut), errUsage)
	assert.ErrorIs(t, run(context.Background(), []string{"frobnicate"}, nil, &out, &errOut), errUsage)
	assert.Error(t, run(context.Background(), []string{"-nope"}, nil, &out, &errOut))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{"nil", nil, 0, ""},
		{"bare usage", errUsage, 2, ""},
		{"bare migrate usage", db.ErrUsage, 2, ""},
		{"help", flag.ErrHelp, 2, ""},
		{"wrapped migrate usage", fmt.Errorf("%w: invalid version number: abc", db.ErrUsage), 2, "Error: invalid usage: invalid version number: abc\n"},
		{"runtime failure", errors.New("disk full"), 1, "Error: disk full\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			assert.Equal(t, tt.wantCode, exitCode(tt.err, &buf))
			assert.Equal(t, tt.wantOut, buf.String())
		})
	}
}

func TestRun_MigrateVersionReportsBadArgument(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "migrate", "version", "abc")
	require.ErrorIs(t, err, db.ErrUsage)

	var buf bytes.Buffer
	assert.Equal(t, 2, exitCode(err, &buf))
	assert.Contains(t, buf.String(), "invalid version number: abc")
}

func TestRun_Migrate(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0")

	_, err = c.run("", "migrate", "up")
	require.NoError(t, err)
	out, err = c.run("", "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 4")

	_, err = c.run("", "migrate", "bogus")
	assert.ErrorIs(t, err, db.ErrUsage)
}

func TestRun_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "from-config.db")
	cfgPath := filepath.Join(dir, "mindframe.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{"db_path": "`+dbPath+`"}`), 0o600))

	var out, errOut bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-config", cfgPath, "migrate", "up"}, nil, &out, &errOut))
	_, err := os.Stat(dbPath)
	assert.NoError(t, err)

	err = run(context.Background(), []string{"-config", filepath.Join(dir, "missing.json"), "migrate", "up"}, nil, &out, &errOut)
	assert.Error(t, err)
}

func TestRun_SyncUsers(t *testing.T) {
	c := newCLI(t)
	export := filepath.Join(t.TempDir(), "export.json")
	require.NoError(t, os.WriteFile(export, []byte(`{"users": [
		{"localId": "uid-1", "email": "one@example.com", "createdAt": "1718000000000"},
		{"localId": "uid-2", "createdAt": "garbage"}
	]}`), 0o600))

	out, err := c.run("", "sync-users", "-file", export)
	assert.ErrorContains(t, err, "1 users failed to sync")
	assert.Contains(t, out, "created=1 updated=0 deleted=0 failed=1")

	_, err = c.run("", "sync-users")
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_MetricsAndReport(t *testing.T) {
	c := newCLI(t)
	today := timeutil.Today(timeutil.RealClock{})

	out, err := c.run("", "metrics", "compute")
	require.NoError(t, err)
	assert.Contains(t, out, today)

	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(timeutil.DateLayout)
	_, err = c.run("", "metrics", "compute", "-date", yesterday, "-to", today)
	require.NoError(t, err)

	out, err = c.run("", "metrics", "list", "-from", yesterday, "-to", today)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3, "header plus two days")

	_, err = c.run("", "metrics", "compute", "-date", "yesterday")
	assert.ErrorIs(t, err, db.ErrInvalidInput)
	_, err = c.run("", "metrics")
	assert.ErrorIs(t, err, errUsage)

	html := filepath.Join(t.TempDir(), "metrics.html")
	out, err = c.run("", "report", "metrics", "-from", yesterday, "-to", today, "-out", html)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 2 days")
	_, err = os.Stat(html)
	assert.NoError(t, err)
}

func TestRun_ReportMood(t *testing.T) {
	c := newCLI(t)
	ctx := context.Background()

	database, err := db.NewDB(c.dbPath)
	require.NoError(t, err)
	u, _, err := database.UpsertUserByFirebaseUID(ctx, db.ServicePrincipal(), db.FirebaseUser{UID: "uid-mood"})
	require.NoError(t, err)
	for i, score := range []int{4, 5, 7} {
		date := time.Now().UTC().AddDate(0, 0, i-2).Format(timeutil.DateLayout)
		_, err := database.UpsertMoodEntry(ctx, db.UserPrincipal(u.ID), db.MoodEntryInput{EntryDate: date, MoodScore: score})
		require.NoError(t, err)
	}
	require.NoError(t, database.Close())

	png := filepath.Join(t.TempDir(), "mood.png")
	out, err := c.run("", "report", "mood", "-user", u.ID, "-days", "7", "-out", png)
	require.NoError(t, err)
	assert.Contains(t, out, "Mood improving")
	_, err = os.Stat(png)
	assert.NoError(t, err)

	_, err = c.run("", "report", "mood")
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_Maintenance(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("", "maintenance", "overdue-homework")
	require.NoError(t, err)
	assert.Contains(t, out, "Marked 0 homework")

	out, err = c.run("", "maintenance", "cleanup-events", "-days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "older than 30 days")

	out, err = c.run("", "maintenance", "run")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 analytics events")

	_, err = c.run("", "maintenance", "cleanup-events", "-days", "0")
	assert.ErrorIs(t, err, db.ErrInvalidInput)
	_, err = c.run("", "maintenance", "vacuum")
	assert.ErrorIs(t, err, errUsage)
}

func TestRun_DebugStopsOnCancel(t *testing.T) {
	c := newCLI(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var out, errOut bytes.Buffer
		done <- run(ctx, []string{"-db", c.dbPath, "debug", "-listen", "127.0.0.1:0"}, nil, &out, &errOut)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("debug server did not stop")
	}
}
