package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mindframe/internal/timeutil"
)

type HomeworkStatus string

const (
	HomeworkAssigned   HomeworkStatus = "assigned"
	HomeworkInProgress HomeworkStatus = "in_progress"
	HomeworkCompleted  HomeworkStatus = "completed"
	HomeworkOverdue    HomeworkStatus = "overdue"
	HomeworkCancelled  HomeworkStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s HomeworkStatus) Terminal() bool {
	return s == HomeworkCompleted || s == HomeworkCancelled
}

type HomeworkType string

const (
	HomeworkThoughtRecord        HomeworkType = "thought_record"
	HomeworkBehavioralActivation HomeworkType = "behavioral_activation"
	HomeworkExposure             HomeworkType = "exposure"
	HomeworkWorksheet            HomeworkType = "worksheet"
	HomeworkReading              HomeworkType = "reading"
	HomeworkOther                HomeworkType = "other"
)

type Homework struct {
	ID          string
	UserID      string
	Title       string
	Description *string
	Type        HomeworkType
	Status      HomeworkStatus
	DueDate     *string
	AssignedAt  time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type HomeworkInput struct {
	UserID      string
	Title       string
	Description *string
	Type        HomeworkType
	DueDate     *string
	Notes       *string
}

const homeworkColumns = `id, user_id, title, description, homework_type, status, due_date,
	assigned_at, started_at, completed_at, notes, created_at, updated_at`

func scanHomework(row interface{ Scan(...any) error }) (*Homework, error) {
	var h Homework
	var description, dueDate, notes sql.NullString
	var hwType, status string
	var assigned, created, updated int64
	var started, completed sql.NullInt64
	if err := row.Scan(&h.ID, &h.UserID, &h.Title, &description, &hwType, &status, &dueDate,
		&assigned, &started, &completed, &notes, &created, &updated); err != nil {
		return nil, err
	}
	h.Description = stringFromNull(description)
	h.Type = HomeworkType(hwType)
	h.Status = HomeworkStatus(status)
	h.DueDate = stringFromNull(dueDate)
	h.AssignedAt = time.Unix(assigned, 0).UTC()
	h.StartedAt = timeFromNull(started)
	h.CompletedAt = timeFromNull(completed)
	h.Notes = stringFromNull(notes)
	h.CreatedAt = time.Unix(created, 0).UTC()
	h.UpdatedAt = time.Unix(updated, 0).UTC()
	return &h, nil
}

// AssignHomework creates homework in the assigned state.
func (db *DB) AssignHomework(ctx context.Context, p Principal, in HomeworkInput) (*Homework, error) {
	owner, err := p.owner(in.UserID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	hwType := in.Type
	if hwType == "" {
		hwType = HomeworkOther
	}
	now := db.now().Unix()
	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO cbt_homework (
			id, user_id, title, description, homework_type, due_date, assigned_at, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, owner, in.Title, in.Description, string(hwType), in.DueDate, now, in.Notes, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to assign homework: %w", classify(err))
	}
	return getHomework(ctx, db.DB, p, id)
}

func getHomework(ctx context.Context, q queryer, p Principal, id string) (*Homework, error) {
	args := append([]any{id}, p.ownerArgs()...)
	h, err := scanHomework(q.QueryRowContext(ctx,
		`SELECT `+homeworkColumns+` FROM cbt_homework WHERE id = ? AND `+ownerFilter, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get homework: %w", err)
	}
	return h, nil
}

// GetHomework returns homework visible to the principal.
func (db *DB) GetHomework(ctx context.Context, p Principal, id string) (*Homework, error) {
	return getHomework(ctx, db.DB, p, id)
}

// ListHomework returns the owner's homework ordered by due date, optionally
// restricted to the given statuses.
func (db *DB) ListHomework(ctx context.Context, p Principal, userID string, statuses ...HomeworkStatus) ([]Homework, error) {
	owner, err := p.owner(userID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + homeworkColumns + ` FROM cbt_homework WHERE user_id = ?`
	args := []any{owner}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	query += ` ORDER BY due_date IS NULL, due_date, assigned_at, id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list homework: %w", err)
	}
	defer rows.Close()

	var out []Homework
	for rows.Next() {
		h, err := scanHomework(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan homework: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// StartHomework moves homework to in_progress.
func (db *DB) StartHomework(ctx context.Context, p Principal, id string) (*Homework, error) {
	return db.setHomeworkStatus(ctx, p, id, HomeworkInProgress, nil)
}

// CompleteHomework moves homework to completed, optionally replacing its notes.
func (db *DB) CompleteHomework(ctx context.Context, p Principal, id string, notes *string) (*Homework, error) {
	return db.setHomeworkStatus(ctx, p, id, HomeworkCompleted, notes)
}

// CancelHomework moves homework to cancelled.
func (db *DB) CancelHomework(ctx context.Context, p Principal, id string) (*Homework, error) {
	return db.setHomeworkStatus(ctx, p, id, HomeworkCancelled, nil)
}

// setHomeworkStatus applies a transition; the status guard trigger rejects
// illegal ones with ErrInvalidTransition. Terminal rows are frozen, so
// repeating the terminal status is rejected too.
func (db *DB) setHomeworkStatus(ctx context.Context, p Principal, id string, status HomeworkStatus, notes *string) (*Homework, error) {
	now := db.now().Unix()
	var h *Homework
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getHomework(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("homework %s is %s: %w", id, current.Status, ErrInvalidTransition)
		}

		args := append([]any{
			string(status),
			string(status), now,
			string(status), now,
			notes,
			now, id,
		}, p.ownerArgs()...)
		res, err := tx.ExecContext(ctx, `
			UPDATE cbt_homework SET
				status = ?,
				started_at = CASE WHEN ? = 'in_progress' THEN COALESCE(started_at, ?) ELSE started_at END,
				completed_at = CASE WHEN ? = 'completed' THEN COALESCE(completed_at, ?) ELSE completed_at END,
				notes = COALESCE(?, notes),
				updated_at = MAX(?, updated_at + 1)
			WHERE id = ? AND `+ownerFilter, args...)
		if err != nil {
			return fmt.Errorf("failed to set homework status: %w", classify(err))
		}
		if err := checkAffected(res); err != nil {
			return err
		}
		h, err = getHomework(ctx, tx, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// MarkOverdueHomework moves open homework whose due date is before today
// (UTC) to overdue and returns the number of rows changed.
func (db *DB) MarkOverdueHomework(ctx context.Context, p Principal) (int64, error) {
	if err := p.requireAdmin(); err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE cbt_homework SET status = 'overdue', updated_at = MAX(?, updated_at + 1)
		WHERE status IN ('assigned', 'in_progress')
		  AND due_date IS NOT NULL
		  AND due_date < ?`,
		db.now().Unix(), timeutil.Today(db.clock))
	if err != nil {
		return 0, fmt.Errorf("failed to mark overdue homework: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
