package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertMoodEntry_DuplicateKeyUpdates(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-mood")
	p := UserPrincipal(u.ID)

	first, err := db.UpsertMoodEntry(ctx, p, MoodEntryInput{
		EntryDate:    "2025-06-15",
		EntryTime:    "08:30",
		MoodScore:    4,
		AnxietyLevel: intPtr(7),
		Activities:   []string{"walk"},
	})
	require.NoError(t, err)

	second, err := db.UpsertMoodEntry(ctx, p, MoodEntryInput{
		EntryDate:  "2025-06-15",
		EntryTime:  "08:30",
		MoodScore:  6,
		SleepHours: floatPtr(7.5),
		Activities: []string{"walk", "journal"},
		Notes:      strPtr("better after coffee"),
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 6, second.MoodScore)
	assert.Nil(t, second.AnxietyLevel)
	assert.Equal(t, 7.5, *second.SleepHours)
	assert.Equal(t, []string{"walk", "journal"}, second.Activities)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM mood_entries WHERE user_id = ?`, u.ID).Scan(&count))
	assert.Equal(t, 1, count)

	// a different time of day is a separate entry
	_, err = db.UpsertMoodEntry(ctx, p, MoodEntryInput{EntryDate: "2025-06-15", EntryTime: "21:00", MoodScore: 7})
	require.NoError(t, err)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM mood_entries WHERE user_id = ?`, u.ID).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestUpsertMoodEntry_Defaults(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-mood")

	e, err := db.UpsertMoodEntry(ctx, UserPrincipal(u.ID), MoodEntryInput{MoodScore: 5})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15", e.EntryDate)
	assert.Equal(t, defaultEntryTime, e.EntryTime)
	assert.NotNil(t, e.Activities)
	assert.Empty(t, e.Activities)
}

func TestUpsertMoodEntry_Checks(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-mood")
	p := UserPrincipal(u.ID)

	tests := []struct {
		name string
		in   MoodEntryInput
	}{
		{"mood too low", MoodEntryInput{MoodScore: 0}},
		{"mood too high", MoodEntryInput{MoodScore: 11}},
		{"anxiety out of range", MoodEntryInput{MoodScore: 5, AnxietyLevel: intPtr(11)}},
		{"sleep out of range", MoodEntryInput{MoodScore: 5, SleepHours: floatPtr(25)}},
		{"bad date", MoodEntryInput{MoodScore: 5, EntryDate: "2025-02-30"}},
		{"bad time", MoodEntryInput{MoodScore: 5, EntryTime: "25:00"}},
		{"time with seconds", MoodEntryInput{MoodScore: 5, EntryTime: "08:30:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.UpsertMoodEntry(ctx, p, tt.in)
			assert.ErrorIs(t, err, ErrCheckViolation)
		})
	}
}

func TestMoodEntry_Isolation(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "fb-alice")
	bob := createTestUser(t, db, "fb-bob")

	e, err := db.UpsertMoodEntry(ctx, UserPrincipal(alice.ID), MoodEntryInput{MoodScore: 3})
	require.NoError(t, err)

	_, err = db.GetMoodEntry(ctx, UserPrincipal(bob.ID), e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteMoodEntry(ctx, UserPrincipal(bob.ID), e.ID), ErrNotFound)
	_, err = db.UpsertMoodEntry(ctx, UserPrincipal(bob.ID), MoodEntryInput{UserID: alice.ID, MoodScore: 9})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = db.ListMoodEntries(ctx, UserPrincipal(bob.ID), alice.ID, "2025-01-01", "2025-12-31")
	assert.ErrorIs(t, err, ErrForbidden)

	entries, err := db.ListMoodEntries(ctx, UserPrincipal(alice.ID), "", "2025-01-01", "2025-12-31")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, db.DeleteMoodEntry(ctx, UserPrincipal(alice.ID), e.ID))
}

func TestGetMoodTrend(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-trend")
	p := UserPrincipal(u.ID)

	// mood rises by one point per day over five days; day three has two entries
	for i, score := range []int{3, 4, 5, 6, 7} {
		date := testNow.AddDate(0, 0, i-4).Format("2006-01-02")
		_, err := db.UpsertMoodEntry(ctx, p, MoodEntryInput{
			EntryDate: date, EntryTime: "09:00", MoodScore: score, AnxietyLevel: intPtr(8 - i),
		})
		require.NoError(t, err)
	}
	_, err := db.UpsertMoodEntry(ctx, p, MoodEntryInput{EntryDate: "2025-06-13", EntryTime: "20:00", MoodScore: 5})
	require.NoError(t, err)
	// outside the window
	_, err = db.UpsertMoodEntry(ctx, p, MoodEntryInput{EntryDate: "2025-06-01", MoodScore: 1})
	require.NoError(t, err)

	trend, err := db.GetMoodTrend(ctx, p, "", 7)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-09", trend.From)
	assert.Equal(t, "2025-06-15", trend.To)
	require.Len(t, trend.Points, 5)
	assert.Equal(t, "2025-06-11", trend.Points[0].Date)
	assert.Equal(t, 2, trend.Points[2].Entries)
	assert.InDelta(t, 5.0, trend.Points[2].AverageMood, 1e-9)
	require.NotNil(t, trend.Points[2].AverageAnxiety)
	assert.InDelta(t, 6.0, *trend.Points[2].AverageAnxiety, 1e-9)

	assert.InDelta(t, 5.0, trend.Mean, 1e-9)
	assert.InDelta(t, 1.0, trend.Slope, 1e-9)
	assert.InDelta(t, 1.5811388, trend.StdDev, 1e-6)
	assert.Equal(t, TrendImproving, trend.Direction)
}

func TestGetMoodTrend_EdgeCases(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-edge")
	p := UserPrincipal(u.ID)

	trend, err := db.GetMoodTrend(ctx, p, "", 30)
	require.NoError(t, err)
	assert.Empty(t, trend.Points)
	assert.Equal(t, TrendInsufficient, trend.Direction)

	_, err = db.UpsertMoodEntry(ctx, p, MoodEntryInput{MoodScore: 6})
	require.NoError(t, err)
	trend, err = db.GetMoodTrend(ctx, p, "", 30)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, trend.Mean, 1e-9)
	assert.Equal(t, TrendInsufficient, trend.Direction)

	clock.Advance(24 * time.Hour)
	_, err = db.UpsertMoodEntry(ctx, p, MoodEntryInput{MoodScore: 6})
	require.NoError(t, err)
	trend, err = db.GetMoodTrend(ctx, p, "", 30)
	require.NoError(t, err)
	assert.Equal(t, TrendStable, trend.Direction)

	_, err = db.GetMoodTrend(ctx, p, "", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
