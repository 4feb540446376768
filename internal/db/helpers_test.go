package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mindframe/internal/monitoring"
	"github.com/banshee-data/mindframe/internal/timeutil"
)

// testNow is the fixed clock time used across the package tests.
var testNow = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

// setupTestDB creates a migrated database in a temp dir with a mock clock.
func setupTestDB(t *testing.T) (*DB, *timeutil.MockClock) {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := timeutil.NewMockClock(testNow)
	db.SetClock(clock)
	return db, clock
}

// createTestUser syncs a Firebase account and returns the local row.
func createTestUser(t *testing.T, db *DB, uid string) *User {
	t.Helper()
	email := uid + "@example.com"
	u, _, err := db.UpsertUserByFirebaseUID(context.Background(), ServicePrincipal(), FirebaseUser{
		UID:   uid,
		Email: &email,
	})
	require.NoError(t, err)
	return u
}

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

func int64Ptr(i int64) *int64 {
	return &i
}

func floatPtr(f float64) *float64 {
	return &f
}
