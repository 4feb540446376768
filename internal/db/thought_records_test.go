package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateThoughtRecord_RoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-tr")
	p := UserPrincipal(u.ID)

	in := ThoughtRecordInput{
		Situation:        "Presentation at work",
		AutomaticThought: strPtr("Everyone will think I'm incompetent"),
		Emotions:         []Emotion{{Name: "anxiety", Intensity: 80}, {Name: "shame", Intensity: 40}},
		Distortions:      []string{"jumping_to_conclusions", "labeling"},
		EvidenceFor:      strPtr("I stumbled once last time"),
		EvidenceAgainst:  strPtr("My manager praised the last deck"),
		BalancedThought:  strPtr("One stumble doesn't define the talk"),
		EmotionsAfter:    []Emotion{{Name: "anxiety", Intensity: 35}},
		BeliefBefore:     intPtr(90),
		BeliefAfter:      intPtr(30),
	}
	tr, err := db.CreateThoughtRecord(ctx, p, in)
	require.NoError(t, err)
	assert.Equal(t, u.ID, tr.UserID)
	assert.Equal(t, testNow, tr.RecordedAt)

	got, err := db.GetThoughtRecord(ctx, p, tr.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(tr, got); diff != "" {
		t.Errorf("thought record mismatch (-created +fetched):\n%s", diff)
	}
	if diff := cmp.Diff(in.Emotions, got.Emotions); diff != "" {
		t.Errorf("emotions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"jumping_to_conclusions", "labeling"}, got.Distortions)
}

func TestCreateThoughtRecord_Defaults(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-tr")

	tr, err := db.CreateThoughtRecord(ctx, UserPrincipal(u.ID), ThoughtRecordInput{Situation: "Traffic"})
	require.NoError(t, err)
	assert.Empty(t, tr.Emotions)
	assert.NotNil(t, tr.Emotions)
	assert.Empty(t, tr.Distortions)
	assert.Nil(t, tr.EmotionsAfter)
	assert.Nil(t, tr.BeliefBefore)
	assert.False(t, tr.IsArchived)
}

func TestThoughtRecord_Validation(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-tr")
	p := UserPrincipal(u.ID)

	_, err := db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{
		Situation: "x", Emotions: []Emotion{{Name: "anger", Intensity: 101}},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "x", Distortions: []string{"catastrophizing_typo"}})
	assert.ErrorIs(t, err, ErrUnknownDistortion)

	_, err = db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "x", BeliefBefore: intPtr(150)})
	assert.ErrorIs(t, err, ErrCheckViolation)
}

func TestThoughtRecord_EmotionsMustBeJSONArray(t *testing.T) {
	db, _ := setupTestDB(t)
	u := createTestUser(t, db, "fb-json")

	for name, emotions := range map[string]string{
		"object":    `{"name":"anxiety"}`,
		"scalar":    `42`,
		"malformed": `[{"name":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := db.Exec(`
				INSERT INTO thought_records (id, user_id, situation, emotions, recorded_at)
				VALUES (?, ?, 'raw insert', ?, 0)`, "tr-"+name, u.ID, emotions)
			require.Error(t, err)
			assert.ErrorIs(t, ClassifyError(err), ErrCheckViolation)
		})
	}

	_, err := db.Exec(`
		INSERT INTO thought_records (id, user_id, situation, emotions, recorded_at)
		VALUES ('tr-ok', ?, 'raw insert', '[]', 0)`, u.ID)
	assert.NoError(t, err)
}

func TestThoughtRecord_EmotionsAfterMustBeJSONArray(t *testing.T) {
	db, _ := setupTestDB(t)
	u := createTestUser(t, db, "fb-json-after")

	_, err := db.Exec(`
		INSERT INTO thought_records (id, user_id, situation, emotions, recorded_at)
		VALUES ('tr-base', ?, 'raw insert', '[]', 0)`, u.ID)
	require.NoError(t, err)

	for name, after := range map[string]string{
		"object":    `{"x":1}`,
		"scalar":    `42`,
		"malformed": `[{"name":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := db.Exec(`
				INSERT INTO thought_records (id, user_id, situation, emotions, emotions_after, recorded_at)
				VALUES (?, ?, 'raw insert', '[]', ?, 0)`, "tr-"+name, u.ID, after)
			require.Error(t, err)
			assert.ErrorIs(t, ClassifyError(err), ErrCheckViolation)

			_, err = db.Exec(`UPDATE thought_records SET emotions_after = ? WHERE id = 'tr-base'`, after)
			require.Error(t, err)
			assert.ErrorIs(t, ClassifyError(err), ErrCheckViolation)
		})
	}

	_, err = db.Exec(`UPDATE thought_records SET emotions_after = '[]' WHERE id = 'tr-base'`)
	assert.NoError(t, err)
	_, err = db.Exec(`UPDATE thought_records SET emotions_after = NULL WHERE id = 'tr-base'`)
	assert.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO thought_records (id, user_id, situation, emotions, emotions_after, recorded_at)
		VALUES ('tr-null', ?, 'raw insert', '[]', NULL, 0)`, u.ID)
	assert.NoError(t, err)
}

func TestThoughtRecord_UpdatedAtFollowsClock(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-stamp")
	p := UserPrincipal(u.ID)

	tr, err := db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "Missed the bus"})
	require.NoError(t, err)
	assert.Equal(t, testNow, tr.UpdatedAt)

	// an explicit write in the same clock second is not replaced by the trigger
	require.NoError(t, db.SetThoughtRecordArchived(ctx, p, tr.ID, true))
	got, err := db.GetThoughtRecord(ctx, p, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Second), got.UpdatedAt)

	clock.Advance(time.Hour)
	got, err = db.UpdateThoughtRecord(ctx, p, tr.ID, ThoughtRecordInput{Situation: "Missed the bus again"})
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour), got.UpdatedAt)

	// raw updates that leave updated_at alone are still stamped forward
	_, err = db.Exec(`UPDATE thought_records SET situation = 'raw edit' WHERE id = ?`, tr.ID)
	require.NoError(t, err)
	raw, err := db.GetThoughtRecord(ctx, p, tr.ID)
	require.NoError(t, err)
	assert.True(t, raw.UpdatedAt.After(got.UpdatedAt))
}

func TestThoughtRecord_Isolation(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	alice := createTestUser(t, db, "fb-alice")
	bob := createTestUser(t, db, "fb-bob")
	pa, pb := UserPrincipal(alice.ID), UserPrincipal(bob.ID)

	tr, err := db.CreateThoughtRecord(ctx, pa, ThoughtRecordInput{Situation: "private"})
	require.NoError(t, err)

	_, err = db.GetThoughtRecord(ctx, pb, tr.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.UpdateThoughtRecord(ctx, pb, tr.ID, ThoughtRecordInput{Situation: "hijacked"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.SetThoughtRecordArchived(ctx, pb, tr.ID, true), ErrNotFound)
	assert.ErrorIs(t, db.DeleteThoughtRecord(ctx, pb, tr.ID), ErrNotFound)

	_, err = db.CreateThoughtRecord(ctx, pb, ThoughtRecordInput{UserID: alice.ID, Situation: "forged"})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = db.ListThoughtRecords(ctx, pb, ThoughtRecordFilter{UserID: alice.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	// admins do not read journal rows
	admin := Principal{UserID: bob.ID, Role: RoleSuperAdmin}
	_, err = db.GetThoughtRecord(ctx, admin, tr.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	bobs, err := db.ListThoughtRecords(ctx, pb, ThoughtRecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, bobs)

	_, err = db.GetThoughtRecord(ctx, ServicePrincipal(), tr.ID)
	assert.NoError(t, err)
}

func TestThoughtRecord_UpdateArchiveList(t *testing.T) {
	db, clock := setupTestDB(t)
	ctx := context.Background()
	u := createTestUser(t, db, "fb-list")
	p := UserPrincipal(u.ID)

	first, err := db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "first", Distortions: []string{"labeling"}})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := db.CreateThoughtRecord(ctx, p, ThoughtRecordInput{Situation: "second", Distortions: []string{"mental_filter"}})
	require.NoError(t, err)

	updated, err := db.UpdateThoughtRecord(ctx, p, first.ID, ThoughtRecordInput{
		Situation:       "first, revisited",
		Distortions:     []string{"labeling", "should_statements"},
		BalancedThought: strPtr("It was one moment"),
	})
	require.NoError(t, err)
	assert.Equal(t, "first, revisited", updated.Situation)
	assert.Equal(t, first.RecordedAt, updated.RecordedAt)

	list, err := db.ListThoughtRecords(ctx, p, ThoughtRecordFilter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	require.NoError(t, db.SetThoughtRecordArchived(ctx, p, second.ID, true))
	list, err = db.ListThoughtRecords(ctx, p, ThoughtRecordFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	list, err = db.ListThoughtRecords(ctx, p, ThoughtRecordFilter{IncludeArchived: true, Distortion: "should_statements"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	list, err = db.ListThoughtRecords(ctx, p, ThoughtRecordFilter{IncludeArchived: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, db.DeleteThoughtRecord(ctx, p, first.ID))
	_, err = db.GetThoughtRecord(ctx, p, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListCognitiveDistortions(t *testing.T) {
	db, _ := setupTestDB(t)

	ds, err := db.ListCognitiveDistortions(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds, 10)
	assert.Equal(t, "all_or_nothing", ds[0].Slug)
}
