package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEvent(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-events")
	p := UserPrincipal(u.ID)

	ev, err := db.RecordEvent(ctx, p, NewAnalyticsEvent{
		Name:       "thought_record_created",
		Properties: map[string]any{"source": "ios", "distortions": float64(2)},
		SessionID:  strPtr("sess-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, ev.UserID)
	assert.Equal(t, u.ID, *ev.UserID)
	assert.Equal(t, "2025-06-15", ev.EventDate)

	clock.Advance(time.Minute)
	anon, err := db.RecordEvent(ctx, ServicePrincipal(), NewAnalyticsEvent{Name: "landing_view"})
	require.NoError(t, err)
	assert.Nil(t, anon.UserID)

	late := time.Date(2025, 6, 14, 23, 59, 59, 0, time.FixedZone("CEST", 2*3600))
	backdated, err := db.RecordEvent(ctx, p, NewAnalyticsEvent{Name: "app_open", OccurredAt: &late})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-14", backdated.EventDate, "event dates are UTC")

	events, err := db.ListEvents(ctx, ServicePrincipal(), "2025-06-15")
	require.NoError(t, err)
	require.Len(t, events, 2)
	if diff := cmp.Diff(*ev, events[0]); diff != "" {
		t.Errorf("event mismatch (-recorded +listed):\n%s", diff)
	}
	assert.Empty(t, events[1].Properties)

	_, err = db.ListEvents(ctx, p, "2025-06-15")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRecordEvent_Guards(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "fb-alice")
	bob := createTestUser(t, db, "fb-bob")

	_, err := db.RecordEvent(ctx, UserPrincipal(bob.ID), NewAnalyticsEvent{UserID: alice.ID, Name: "spoof"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = db.RecordEvent(ctx, Principal{Role: RoleUser}, NewAnalyticsEvent{Name: "anon"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = db.RecordEvent(ctx, UserPrincipal(bob.ID), NewAnalyticsEvent{Name: ""})
	assert.ErrorIs(t, err, ErrCheckViolation)
	_, err = db.RecordEvent(ctx, UserPrincipal(bob.ID), NewAnalyticsEvent{Name: "bad", Properties: map[string]any{"ch": make(chan int)}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = db.Exec(`
		INSERT INTO analytics_events (id, event_name, properties, occurred_at, event_date)
		VALUES ('raw', 'raw', '[1,2]', 0, '1970-01-01')`)
	require.Error(t, err)
	assert.ErrorIs(t, ClassifyError(err), ErrCheckViolation, "properties must be a JSON object")
}

func TestRecordEvent_PurgedUserKeepsEvent(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-gone")

	_, err := db.RecordEvent(ctx, UserPrincipal(u.ID), NewAnalyticsEvent{Name: "app_open"})
	require.NoError(t, err)
	require.NoError(t, db.PurgeUser(ctx, ServicePrincipal(), u.ID))

	events, err := db.ListEvents(ctx, ServicePrincipal(), "2025-06-15")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].UserID)
}

func TestCleanupAnalyticsEvents(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	svc := ServicePrincipal()

	for _, age := range []time.Duration{100 * 24 * time.Hour, 91 * 24 * time.Hour, 89 * 24 * time.Hour, time.Hour} {
		at := testNow.Add(-age)
		_, err := db.RecordEvent(ctx, svc, NewAnalyticsEvent{Name: "tick", OccurredAt: &at})
		require.NoError(t, err)
	}

	n, err := db.CleanupAnalyticsEvents(ctx, svc, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = db.CleanupAnalyticsEvents(ctx, svc, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * 24 * time.Hour)
	n, err = db.CleanupAnalyticsEvents(ctx, svc, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = db.CleanupAnalyticsEvents(ctx, svc, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = db.CleanupAnalyticsEvents(ctx, UserPrincipal("someone"), time.Hour)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRunMaintenance(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	svc := ServicePrincipal()
	u := createTestUser(t, db, "fb-maint")

	_, err := db.AssignHomework(ctx, UserPrincipal(u.ID), HomeworkInput{Title: "late", DueDate: strPtr("2025-06-01")})
	require.NoError(t, err)
	old := testNow.AddDate(0, 0, -200)
	_, err = db.RecordEvent(ctx, svc, NewAnalyticsEvent{Name: "ancient", OccurredAt: &old})
	require.NoError(t, err)
	_, err = db.RecordEvent(ctx, svc, NewAnalyticsEvent{Name: "fresh"})
	require.NoError(t, err)

	res, err := db.RunMaintenance(ctx, svc, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, MaintenanceResult{OverdueHomework: 1, DeletedEvents: 1}, res)

	_, err = db.RunMaintenance(ctx, UserPrincipal(u.ID), time.Hour)
	assert.ErrorIs(t, err, ErrForbidden)
}
