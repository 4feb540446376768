package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// QualifyingAttemptsToComplete is the number of attempts with at least
// 50% anxiety reduction that completes a step.
const QualifyingAttemptsToComplete = 3

type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

type ExposureHierarchy struct {
	ID         string
	UserID     string
	Title      string
	TargetFear *string
	IsArchived bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type HierarchyInput struct {
	UserID     string
	Title      string
	TargetFear *string
}

// ExposureStep progress counters and status are maintained by trigger
// from exposure_attempts.
type ExposureStep struct {
	ID                 string
	HierarchyID        string
	UserID             string
	StepOrder          int
	Description        string
	PredictedSUDS      *int
	Status             StepStatus
	AttemptCount       int
	SuccessfulAttempts int
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// StepInput adds a step. A zero StepOrder appends after the last step.
type StepInput struct {
	StepOrder     int
	Description   string
	PredictedSUDS *int
}

type ExposureAttempt struct {
	ID              string
	StepID          string
	UserID          string
	AnxietyBefore   int
	AnxietyPeak     *int
	AnxietyAfter    int
	DurationMinutes *int
	Notes           *string
	AttemptedAt     time.Time
}

// Qualifies reports whether the attempt reduced anxiety by at least half.
// Mirrors the rule in trg_exposure_attempts_progress_insert.
func (a ExposureAttempt) Qualifies() bool {
	return a.AnxietyBefore > 0 && 2*(a.AnxietyBefore-a.AnxietyAfter) >= a.AnxietyBefore
}

type AttemptInput struct {
	AnxietyBefore   int
	AnxietyPeak     *int
	AnxietyAfter    int
	DurationMinutes *int
	Notes           *string
	AttemptedAt     *time.Time
}

// HierarchyProgress is one row of the exposure_hierarchy_progress view.
type HierarchyProgress struct {
	HierarchyID     string
	UserID          string
	Title           string
	TotalSteps      int
	CompletedSteps  int
	InProgressSteps int
	// NextStepOrder is nil once every step is completed.
	NextStepOrder *int
}

const hierarchyColumns = `id, user_id, title, target_fear, is_archived, created_at, updated_at`

func scanHierarchy(row interface{ Scan(...any) error }) (*ExposureHierarchy, error) {
	var h ExposureHierarchy
	var target sql.NullString
	var archived int
	var created, updated int64
	if err := row.Scan(&h.ID, &h.UserID, &h.Title, &target, &archived, &created, &updated); err != nil {
		return nil, err
	}
	h.TargetFear = stringFromNull(target)
	h.IsArchived = archived == 1
	h.CreatedAt = time.Unix(created, 0).UTC()
	h.UpdatedAt = time.Unix(updated, 0).UTC()
	return &h, nil
}

const stepColumns = `id, hierarchy_id, user_id, step_order, description, predicted_suds, status,
	attempt_count, successful_attempts, completed_at, created_at, updated_at`

func scanStep(row interface{ Scan(...any) error }) (*ExposureStep, error) {
	var s ExposureStep
	var suds, completed sql.NullInt64
	var status string
	var created, updated int64
	if err := row.Scan(&s.ID, &s.HierarchyID, &s.UserID, &s.StepOrder, &s.Description, &suds, &status,
		&s.AttemptCount, &s.SuccessfulAttempts, &completed, &created, &updated); err != nil {
		return nil, err
	}
	s.PredictedSUDS = intFromNull(suds)
	s.Status = StepStatus(status)
	s.CompletedAt = timeFromNull(completed)
	s.CreatedAt = time.Unix(created, 0).UTC()
	s.UpdatedAt = time.Unix(updated, 0).UTC()
	return &s, nil
}

const attemptColumns = `id, step_id, user_id, anxiety_before, anxiety_peak, anxiety_after,
	duration_minutes, notes, attempted_at`

func scanAttempt(row interface{ Scan(...any) error }) (*ExposureAttempt, error) {
	var a ExposureAttempt
	var peak, duration sql.NullInt64
	var notes sql.NullString
	var attempted int64
	if err := row.Scan(&a.ID, &a.StepID, &a.UserID, &a.AnxietyBefore, &peak, &a.AnxietyAfter,
		&duration, &notes, &attempted); err != nil {
		return nil, err
	}
	a.AnxietyPeak = intFromNull(peak)
	a.DurationMinutes = intFromNull(duration)
	a.Notes = stringFromNull(notes)
	a.AttemptedAt = time.Unix(attempted, 0).UTC()
	return &a, nil
}

// CreateExposureHierarchy starts a new fear ladder.
func (db *DB) CreateExposureHierarchy(ctx context.Context, p Principal, in HierarchyInput) (*ExposureHierarchy, error) {
	owner, err := p.owner(in.UserID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	now := db.now().Unix()
	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO exposure_hierarchies (id, user_id, title, target_fear, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, owner, in.Title, in.TargetFear, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create exposure hierarchy: %w", classify(err))
	}
	return getHierarchy(ctx, db.DB, p, id)
}

func getHierarchy(ctx context.Context, q queryer, p Principal, id string) (*ExposureHierarchy, error) {
	args := append([]any{id}, p.ownerArgs()...)
	h, err := scanHierarchy(q.QueryRowContext(ctx,
		`SELECT `+hierarchyColumns+` FROM exposure_hierarchies WHERE id = ? AND `+ownerFilter, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exposure hierarchy: %w", err)
	}
	return h, nil
}

func (db *DB) GetExposureHierarchy(ctx context.Context, p Principal, id string) (*ExposureHierarchy, error) {
	return getHierarchy(ctx, db.DB, p, id)
}

// ListExposureHierarchies returns the owner's hierarchies, newest first.
func (db *DB) ListExposureHierarchies(ctx context.Context, p Principal, userID string, includeArchived bool) ([]ExposureHierarchy, error) {
	owner, err := p.owner(userID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+hierarchyColumns+` FROM exposure_hierarchies
		WHERE user_id = ? AND (is_archived = 0 OR ? = 1)
		ORDER BY created_at DESC, id`, owner, boolToInt(includeArchived))
	if err != nil {
		return nil, fmt.Errorf("failed to list exposure hierarchies: %w", err)
	}
	defer rows.Close()

	var out []ExposureHierarchy
	for rows.Next() {
		h, err := scanHierarchy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exposure hierarchy: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

// SetExposureHierarchyArchived archives or restores a hierarchy.
func (db *DB) SetExposureHierarchyArchived(ctx context.Context, p Principal, id string, archived bool) error {
	args := append([]any{boolToInt(archived), db.now().Unix(), id}, p.ownerArgs()...)
	res, err := db.ExecContext(ctx,
		`UPDATE exposure_hierarchies SET is_archived = ?, updated_at = MAX(?, updated_at + 1) WHERE id = ? AND `+ownerFilter, args...)
	if err != nil {
		return fmt.Errorf("failed to archive exposure hierarchy: %w", classify(err))
	}
	return checkAffected(res)
}

// AddExposureStep adds a rung to a hierarchy owned by the principal.
func (db *DB) AddExposureStep(ctx context.Context, p Principal, hierarchyID string, in StepInput) (*ExposureStep, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	var step *ExposureStep
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		h, err := getHierarchy(ctx, tx, p, hierarchyID)
		if err != nil {
			return err
		}
		order := in.StepOrder
		if order == 0 {
			if err := tx.QueryRowContext(ctx,
				`SELECT COALESCE(MAX(step_order), 0) + 1 FROM exposure_steps WHERE hierarchy_id = ?`,
				h.ID).Scan(&order); err != nil {
				return fmt.Errorf("failed to determine step order: %w", err)
			}
		}
		now := db.now().Unix()
		id := uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO exposure_steps (id, hierarchy_id, user_id, step_order, description, predicted_suds, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, h.ID, h.UserID, order, in.Description, in.PredictedSUDS, now, now)
		if err != nil {
			return fmt.Errorf("failed to add exposure step: %w", classify(err))
		}
		step, err = getStep(ctx, tx, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func getStep(ctx context.Context, q queryer, p Principal, id string) (*ExposureStep, error) {
	args := append([]any{id}, p.ownerArgs()...)
	s, err := scanStep(q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM exposure_steps WHERE id = ? AND `+ownerFilter, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exposure step: %w", err)
	}
	return s, nil
}

func (db *DB) GetExposureStep(ctx context.Context, p Principal, id string) (*ExposureStep, error) {
	return getStep(ctx, db.DB, p, id)
}

// ListExposureSteps returns the steps of a hierarchy in ladder order.
func (db *DB) ListExposureSteps(ctx context.Context, p Principal, hierarchyID string) ([]ExposureStep, error) {
	if _, err := getHierarchy(ctx, db.DB, p, hierarchyID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM exposure_steps
		WHERE hierarchy_id = ? ORDER BY step_order`, hierarchyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposure steps: %w", err)
	}
	defer rows.Close()

	var out []ExposureStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exposure step: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// StartExposureStep marks a not-yet-attempted step as in progress.
func (db *DB) StartExposureStep(ctx context.Context, p Principal, id string) (*ExposureStep, error) {
	var step *ExposureStep
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		args := append([]any{string(StepInProgress), db.now().Unix(), id}, p.ownerArgs()...)
		res, err := tx.ExecContext(ctx,
			`UPDATE exposure_steps SET status = ?, updated_at = MAX(?, updated_at + 1) WHERE id = ? AND `+ownerFilter, args...)
		if err != nil {
			return fmt.Errorf("failed to start exposure step: %w", classify(err))
		}
		if err := checkAffected(res); err != nil {
			return err
		}
		step, err = getStep(ctx, tx, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

// RecordExposureAttempt logs an attempt at a step and returns it together
// with the step as updated by the progress trigger.
func (db *DB) RecordExposureAttempt(ctx context.Context, p Principal, stepID string, in AttemptInput) (*ExposureAttempt, *ExposureStep, error) {
	attemptedAt := db.now()
	if in.AttemptedAt != nil {
		attemptedAt = in.AttemptedAt.UTC()
	}
	var attempt *ExposureAttempt
	var step *ExposureStep
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getStep(ctx, tx, p, stepID)
		if err != nil {
			return err
		}
		attempt = &ExposureAttempt{
			ID:              uuid.NewString(),
			StepID:          cur.ID,
			UserID:          cur.UserID,
			AnxietyBefore:   in.AnxietyBefore,
			AnxietyPeak:     in.AnxietyPeak,
			AnxietyAfter:    in.AnxietyAfter,
			DurationMinutes: in.DurationMinutes,
			Notes:           in.Notes,
			AttemptedAt:     attemptedAt.Truncate(time.Second),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO exposure_attempts (`+attemptColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			attempt.ID, attempt.StepID, attempt.UserID, attempt.AnxietyBefore, attempt.AnxietyPeak,
			attempt.AnxietyAfter, attempt.DurationMinutes, attempt.Notes, attempt.AttemptedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to record exposure attempt: %w", classify(err))
		}
		step, err = getStep(ctx, tx, p, stepID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return attempt, step, nil
}

// ListExposureAttempts returns the attempts at a step, oldest first.
func (db *DB) ListExposureAttempts(ctx context.Context, p Principal, stepID string) ([]ExposureAttempt, error) {
	if _, err := getStep(ctx, db.DB, p, stepID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM exposure_attempts
		WHERE step_id = ? ORDER BY attempted_at, id`, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exposure attempts: %w", err)
	}
	defer rows.Close()

	var out []ExposureAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exposure attempt: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteExposureAttempt removes an attempt. Counters are recomputed by
// trigger; a completed step stays completed.
func (db *DB) DeleteExposureAttempt(ctx context.Context, p Principal, id string) error {
	args := append([]any{id}, p.ownerArgs()...)
	res, err := db.ExecContext(ctx, `DELETE FROM exposure_attempts WHERE id = ? AND `+ownerFilter, args...)
	if err != nil {
		return fmt.Errorf("failed to delete exposure attempt: %w", classify(err))
	}
	return checkAffected(res)
}

// GetHierarchyProgress summarises step completion for a hierarchy.
func (db *DB) GetHierarchyProgress(ctx context.Context, p Principal, hierarchyID string) (*HierarchyProgress, error) {
	args := append([]any{hierarchyID}, p.ownerArgs()...)
	var hp HierarchyProgress
	var next sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT hierarchy_id, user_id, title, total_steps, completed_steps, in_progress_steps, next_step_order
		FROM exposure_hierarchy_progress
		WHERE hierarchy_id = ? AND `+ownerFilter, args...).Scan(
		&hp.HierarchyID, &hp.UserID, &hp.Title, &hp.TotalSteps, &hp.CompletedSteps, &hp.InProgressSteps, &next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hierarchy progress: %w", err)
	}
	hp.NextStepOrder = intFromNull(next)
	return &hp, nil
}
