package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Emotion is a named feeling with an intensity from 0 to 100.
type Emotion struct {
	Name      string `json:"name"`
	Intensity int    `json:"intensity"`
}

type ThoughtRecord struct {
	ID               string
	UserID           string
	Situation        string
	AutomaticThought *string
	Emotions         []Emotion
	Distortions      []string
	EvidenceFor      *string
	EvidenceAgainst  *string
	BalancedThought  *string
	// EmotionsAfter is nil until the record has been reframed.
	EmotionsAfter []Emotion
	BeliefBefore  *int
	BeliefAfter   *int
	IsArchived    bool
	RecordedAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ThoughtRecordInput holds the editable fields of a thought record.
// UserID is only honoured for the service principal.
type ThoughtRecordInput struct {
	UserID           string
	Situation        string
	AutomaticThought *string
	Emotions         []Emotion
	Distortions      []string
	EvidenceFor      *string
	EvidenceAgainst  *string
	BalancedThought  *string
	EmotionsAfter    []Emotion
	BeliefBefore     *int
	BeliefAfter      *int
	RecordedAt       *time.Time
}

// ThoughtRecordFilter narrows ListThoughtRecords.
type ThoughtRecordFilter struct {
	UserID          string
	IncludeArchived bool
	Distortion      string
	Limit           int
}

type CognitiveDistortion struct {
	Slug string
	Name string
}

const thoughtRecordColumns = `id, user_id, situation, automatic_thought, emotions, distortions,
	evidence_for, evidence_against, balanced_thought, emotions_after, belief_before,
	belief_after, is_archived, recorded_at, created_at, updated_at`

func scanThoughtRecord(row interface{ Scan(...any) error }) (*ThoughtRecord, error) {
	var tr ThoughtRecord
	var automatic, evFor, evAgainst, balanced, emotionsAfter sql.NullString
	var emotions, distortions string
	var beliefBefore, beliefAfter sql.NullInt64
	var archived int
	var recorded, created, updated int64
	if err := row.Scan(&tr.ID, &tr.UserID, &tr.Situation, &automatic, &emotions, &distortions,
		&evFor, &evAgainst, &balanced, &emotionsAfter, &beliefBefore,
		&beliefAfter, &archived, &recorded, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emotions), &tr.Emotions); err != nil {
		return nil, fmt.Errorf("failed to decode emotions: %w", err)
	}
	if err := json.Unmarshal([]byte(distortions), &tr.Distortions); err != nil {
		return nil, fmt.Errorf("failed to decode distortions: %w", err)
	}
	if emotionsAfter.Valid {
		if err := json.Unmarshal([]byte(emotionsAfter.String), &tr.EmotionsAfter); err != nil {
			return nil, fmt.Errorf("failed to decode emotions_after: %w", err)
		}
	}
	tr.AutomaticThought = stringFromNull(automatic)
	tr.EvidenceFor = stringFromNull(evFor)
	tr.EvidenceAgainst = stringFromNull(evAgainst)
	tr.BalancedThought = stringFromNull(balanced)
	tr.BeliefBefore = intFromNull(beliefBefore)
	tr.BeliefAfter = intFromNull(beliefAfter)
	tr.IsArchived = archived == 1
	tr.RecordedAt = time.Unix(recorded, 0).UTC()
	tr.CreatedAt = time.Unix(created, 0).UTC()
	tr.UpdatedAt = time.Unix(updated, 0).UTC()
	return &tr, nil
}

// encodedThoughtRecord is the column form of a ThoughtRecordInput.
type encodedThoughtRecord struct {
	emotions      string
	distortions   string
	emotionsAfter any
}

func encodeThoughtRecord(in ThoughtRecordInput) (encodedThoughtRecord, error) {
	var enc encodedThoughtRecord
	if strings.TrimSpace(in.Situation) == "" {
		return enc, fmt.Errorf("%w: situation is required", ErrInvalidInput)
	}
	for _, set := range [][]Emotion{in.Emotions, in.EmotionsAfter} {
		for _, e := range set {
			if e.Name == "" || e.Intensity < 0 || e.Intensity > 100 {
				return enc, fmt.Errorf("%w: emotion %q intensity %d", ErrInvalidInput, e.Name, e.Intensity)
			}
		}
	}

	emotions := in.Emotions
	if emotions == nil {
		emotions = []Emotion{}
	}
	distortions := in.Distortions
	if distortions == nil {
		distortions = []string{}
	}
	b, err := json.Marshal(emotions)
	if err != nil {
		return enc, err
	}
	enc.emotions = string(b)
	if b, err = json.Marshal(distortions); err != nil {
		return enc, err
	}
	enc.distortions = string(b)
	if in.EmotionsAfter != nil {
		if b, err = json.Marshal(in.EmotionsAfter); err != nil {
			return enc, err
		}
		enc.emotionsAfter = string(b)
	}
	return enc, nil
}

// checkDistortions rejects slugs missing from cognitive_distortions.
func checkDistortions(ctx context.Context, q queryer, slugs []string) error {
	for _, slug := range slugs {
		var exists bool
		err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM cognitive_distortions WHERE slug = ?)`, slug).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check distortion: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %q", ErrUnknownDistortion, slug)
		}
	}
	return nil
}

// CreateThoughtRecord stores a new thought record owned by the principal.
func (db *DB) CreateThoughtRecord(ctx context.Context, p Principal, in ThoughtRecordInput) (*ThoughtRecord, error) {
	owner, err := p.owner(in.UserID)
	if err != nil {
		return nil, err
	}
	enc, err := encodeThoughtRecord(in)
	if err != nil {
		return nil, err
	}

	now := db.now()
	recorded := now
	if in.RecordedAt != nil {
		recorded = in.RecordedAt.UTC()
	}
	id := uuid.NewString()
	var tr *ThoughtRecord
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkDistortions(ctx, tx, in.Distortions); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO thought_records (
				id, user_id, situation, automatic_thought, emotions, distortions,
				evidence_for, evidence_against, balanced_thought, emotions_after,
				belief_before, belief_after, recorded_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, owner, in.Situation, in.AutomaticThought, enc.emotions, enc.distortions,
			in.EvidenceFor, in.EvidenceAgainst, in.BalancedThought, enc.emotionsAfter,
			in.BeliefBefore, in.BeliefAfter, recorded.Unix(), now.Unix(), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to create thought record: %w", classify(err))
		}
		tr, err = getThoughtRecord(ctx, tx, ServicePrincipal(), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

func getThoughtRecord(ctx context.Context, q queryer, p Principal, id string) (*ThoughtRecord, error) {
	args := append([]any{id}, p.ownerArgs()...)
	tr, err := scanThoughtRecord(q.QueryRowContext(ctx,
		`SELECT `+thoughtRecordColumns+` FROM thought_records WHERE id = ? AND `+ownerFilter, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thought record: %w", err)
	}
	return tr, nil
}

// GetThoughtRecord returns a thought record visible to the principal.
func (db *DB) GetThoughtRecord(ctx context.Context, p Principal, id string) (*ThoughtRecord, error) {
	return getThoughtRecord(ctx, db.DB, p, id)
}

// ListThoughtRecords returns the owner's records, most recent first.
func (db *DB) ListThoughtRecords(ctx context.Context, p Principal, f ThoughtRecordFilter) ([]ThoughtRecord, error) {
	owner, err := p.owner(f.UserID)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + thoughtRecordColumns + ` FROM thought_records
		WHERE user_id = ? AND (is_archived = 0 OR ? = 1)`
	args := []any{owner, boolToInt(f.IncludeArchived)}
	if f.Distortion != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(thought_records.distortions) WHERE value = ?)`
		args = append(args, f.Distortion)
	}
	query += ` ORDER BY recorded_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list thought records: %w", err)
	}
	defer rows.Close()

	var out []ThoughtRecord
	for rows.Next() {
		tr, err := scanThoughtRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan thought record: %w", err)
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}

// UpdateThoughtRecord replaces the editable fields of a record. RecordedAt
// is left unchanged when nil.
func (db *DB) UpdateThoughtRecord(ctx context.Context, p Principal, id string, in ThoughtRecordInput) (*ThoughtRecord, error) {
	enc, err := encodeThoughtRecord(in)
	if err != nil {
		return nil, err
	}
	var tr *ThoughtRecord
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getThoughtRecord(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if err := checkDistortions(ctx, tx, in.Distortions); err != nil {
			return err
		}
		recorded := cur.RecordedAt
		if in.RecordedAt != nil {
			recorded = in.RecordedAt.UTC()
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE thought_records SET
				situation = ?, automatic_thought = ?, emotions = ?, distortions = ?,
				evidence_for = ?, evidence_against = ?, balanced_thought = ?, emotions_after = ?,
				belief_before = ?, belief_after = ?, recorded_at = ?, updated_at = MAX(?, updated_at + 1)
			WHERE id = ?`,
			in.Situation, in.AutomaticThought, enc.emotions, enc.distortions,
			in.EvidenceFor, in.EvidenceAgainst, in.BalancedThought, enc.emotionsAfter,
			in.BeliefBefore, in.BeliefAfter, recorded.Unix(), db.now().Unix(), id)
		if err != nil {
			return fmt.Errorf("failed to update thought record: %w", classify(err))
		}
		tr, err = getThoughtRecord(ctx, tx, p, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// SetThoughtRecordArchived archives or restores a record.
func (db *DB) SetThoughtRecordArchived(ctx context.Context, p Principal, id string, archived bool) error {
	args := append([]any{boolToInt(archived), db.now().Unix(), id}, p.ownerArgs()...)
	res, err := db.ExecContext(ctx,
		`UPDATE thought_records SET is_archived = ?, updated_at = MAX(?, updated_at + 1) WHERE id = ? AND `+ownerFilter, args...)
	if err != nil {
		return fmt.Errorf("failed to archive thought record: %w", classify(err))
	}
	return checkAffected(res)
}

// DeleteThoughtRecord permanently removes a record.
func (db *DB) DeleteThoughtRecord(ctx context.Context, p Principal, id string) error {
	args := append([]any{id}, p.ownerArgs()...)
	res, err := db.ExecContext(ctx, `DELETE FROM thought_records WHERE id = ? AND `+ownerFilter, args...)
	if err != nil {
		return fmt.Errorf("failed to delete thought record: %w", classify(err))
	}
	return checkAffected(res)
}

// ListCognitiveDistortions returns the distortion catalogue.
func (db *DB) ListCognitiveDistortions(ctx context.Context) ([]CognitiveDistortion, error) {
	rows, err := db.QueryContext(ctx, `SELECT slug, name FROM cognitive_distortions ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distortions: %w", err)
	}
	defer rows.Close()

	var out []CognitiveDistortion
	for rows.Next() {
		var d CognitiveDistortion
		if err := rows.Scan(&d.Slug, &d.Name); err != nil {
			return nil, fmt.Errorf("failed to scan distortion: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
