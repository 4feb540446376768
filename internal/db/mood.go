package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/mindframe/internal/timeutil"
)

// defaultEntryTime is used for entries logged without a time of day.
const defaultEntryTime = "00:00"

// trendSlopeThreshold is the daily change in average mood below which a
// trend is reported as stable.
const trendSlopeThreshold = 0.05

type MoodEntry struct {
	ID           string
	UserID       string
	EntryDate    string
	EntryTime    string
	MoodScore    int
	AnxietyLevel *int
	EnergyLevel  *int
	SleepHours   *float64
	Activities   []string
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MoodEntryInput is the input to UpsertMoodEntry. EntryDate defaults to
// today (UTC) and EntryTime to "00:00".
type MoodEntryInput struct {
	UserID       string
	EntryDate    string
	EntryTime    string
	MoodScore    int
	AnxietyLevel *int
	EnergyLevel  *int
	SleepHours   *float64
	Activities   []string
	Notes        *string
}

const moodColumns = `id, user_id, entry_date, entry_time, mood_score, anxiety_level, energy_level,
	sleep_hours, activities, notes, created_at, updated_at`

func scanMoodEntry(row interface{ Scan(...any) error }) (*MoodEntry, error) {
	var m MoodEntry
	var anxiety, energy sql.NullInt64
	var sleep sql.NullFloat64
	var activities string
	var notes sql.NullString
	var created, updated int64
	if err := row.Scan(&m.ID, &m.UserID, &m.EntryDate, &m.EntryTime, &m.MoodScore, &anxiety, &energy,
		&sleep, &activities, &notes, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(activities), &m.Activities); err != nil {
		return nil, fmt.Errorf("failed to decode activities: %w", err)
	}
	m.AnxietyLevel = intFromNull(anxiety)
	m.EnergyLevel = intFromNull(energy)
	m.SleepHours = floatFromNull(sleep)
	m.Notes = stringFromNull(notes)
	m.CreatedAt = time.Unix(created, 0).UTC()
	m.UpdatedAt = time.Unix(updated, 0).UTC()
	return &m, nil
}

// UpsertMoodEntry logs a mood entry. A second entry for the same user,
// date and time replaces the first rather than failing.
func (db *DB) UpsertMoodEntry(ctx context.Context, p Principal, in MoodEntryInput) (*MoodEntry, error) {
	owner, err := p.owner(in.UserID)
	if err != nil {
		return nil, err
	}
	if in.EntryDate == "" {
		in.EntryDate = timeutil.Today(db.clock)
	}
	if in.EntryTime == "" {
		in.EntryTime = defaultEntryTime
	}
	activities := in.Activities
	if activities == nil {
		activities = []string{}
	}
	activitiesJSON, err := json.Marshal(activities)
	if err != nil {
		return nil, fmt.Errorf("%w: activities: %v", ErrInvalidInput, err)
	}

	now := db.now().Unix()
	var entry *MoodEntry
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mood_entries (
				id, user_id, entry_date, entry_time, mood_score, anxiety_level, energy_level,
				sleep_hours, activities, notes, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, entry_date, entry_time) DO UPDATE SET
				mood_score = excluded.mood_score,
				anxiety_level = excluded.anxiety_level,
				energy_level = excluded.energy_level,
				sleep_hours = excluded.sleep_hours,
				activities = excluded.activities,
				notes = excluded.notes,
				updated_at = MAX(excluded.updated_at, mood_entries.updated_at + 1)`,
			uuid.NewString(), owner, in.EntryDate, in.EntryTime, in.MoodScore, in.AnxietyLevel, in.EnergyLevel,
			in.SleepHours, string(activitiesJSON), in.Notes, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert mood entry: %w", classify(err))
		}
		entry, err = scanMoodEntry(tx.QueryRowContext(ctx, `
			SELECT `+moodColumns+` FROM mood_entries
			WHERE user_id = ? AND entry_date = ? AND entry_time = ?`,
			owner, in.EntryDate, in.EntryTime))
		if err != nil {
			return fmt.Errorf("failed to read mood entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetMoodEntry returns a mood entry visible to the principal.
func (db *DB) GetMoodEntry(ctx context.Context, p Principal, id string) (*MoodEntry, error) {
	args := append([]any{id}, p.ownerArgs()...)
	m, err := scanMoodEntry(db.QueryRowContext(ctx,
		`SELECT `+moodColumns+` FROM mood_entries WHERE id = ? AND `+ownerFilter, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mood entry: %w", err)
	}
	return m, nil
}

// ListMoodEntries returns entries dated from..to inclusive, oldest first.
func (db *DB) ListMoodEntries(ctx context.Context, p Principal, userID, from, to string) ([]MoodEntry, error) {
	owner, err := p.owner(userID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+moodColumns+` FROM mood_entries
		WHERE user_id = ? AND entry_date BETWEEN ? AND ?
		ORDER BY entry_date, entry_time`, owner, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list mood entries: %w", err)
	}
	defer rows.Close()

	var out []MoodEntry
	for rows.Next() {
		m, err := scanMoodEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mood entry: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// DeleteMoodEntry removes a mood entry.
func (db *DB) DeleteMoodEntry(ctx context.Context, p Principal, id string) error {
	args := append([]any{id}, p.ownerArgs()...)
	res, err := db.ExecContext(ctx, `DELETE FROM mood_entries WHERE id = ? AND `+ownerFilter, args...)
	if err != nil {
		return fmt.Errorf("failed to delete mood entry: %w", classify(err))
	}
	return checkAffected(res)
}

// TrendDirection summarises the sign of a mood trend.
type TrendDirection string

const (
	TrendImproving    TrendDirection = "improving"
	TrendDeclining    TrendDirection = "declining"
	TrendStable       TrendDirection = "stable"
	TrendInsufficient TrendDirection = "insufficient_data"
)

// MoodTrendPoint is the average of one day's entries.
type MoodTrendPoint struct {
	Date           string
	AverageMood    float64
	AverageAnxiety *float64
	Entries        int
}

// MoodTrend is the daily mood series over a window ending today, with a
// least-squares slope in mood points per day.
type MoodTrend struct {
	UserID    string
	From      string
	To        string
	Points    []MoodTrendPoint
	Mean      float64
	StdDev    float64
	Slope     float64
	Direction TrendDirection
}

// GetMoodTrend aggregates the last days days of mood entries for a user.
func (db *DB) GetMoodTrend(ctx context.Context, p Principal, userID string, days int) (*MoodTrend, error) {
	owner, err := p.owner(userID)
	if err != nil {
		return nil, err
	}
	if days < 1 {
		return nil, fmt.Errorf("%w: days must be at least 1", ErrInvalidInput)
	}

	today := db.now().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))
	trend := &MoodTrend{
		UserID:    owner,
		From:      start.Format(timeutil.DateLayout),
		To:        today.Format(timeutil.DateLayout),
		Direction: TrendInsufficient,
	}

	rows, err := db.QueryContext(ctx, `
		SELECT entry_date, AVG(mood_score), AVG(anxiety_level), COUNT(*)
		FROM mood_entries
		WHERE user_id = ? AND entry_date BETWEEN ? AND ?
		GROUP BY entry_date
		ORDER BY entry_date`, owner, trend.From, trend.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query mood trend: %w", err)
	}
	defer rows.Close()

	var xs, ys []float64
	for rows.Next() {
		var pt MoodTrendPoint
		var anxiety sql.NullFloat64
		if err := rows.Scan(&pt.Date, &pt.AverageMood, &anxiety, &pt.Entries); err != nil {
			return nil, fmt.Errorf("failed to scan mood trend: %w", err)
		}
		pt.AverageAnxiety = floatFromNull(anxiety)
		trend.Points = append(trend.Points, pt)

		d, err := time.ParseInLocation(timeutil.DateLayout, pt.Date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse entry date %q: %w", pt.Date, err)
		}
		xs = append(xs, d.Sub(start).Hours()/24)
		ys = append(ys, pt.AverageMood)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ys) == 0 {
		return trend, nil
	}
	trend.Mean = stat.Mean(ys, nil)
	if len(ys) < 2 {
		return trend, nil
	}
	trend.StdDev = stat.StdDev(ys, nil)
	_, trend.Slope = stat.LinearRegression(xs, ys, nil, false)

	switch {
	case trend.Slope > trendSlopeThreshold:
		trend.Direction = TrendImproving
	case trend.Slope < -trendSlopeThreshold:
		trend.Direction = TrendDeclining
	default:
		trend.Direction = TrendStable
	}
	return trend, nil
}
