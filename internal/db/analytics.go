package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mindframe/internal/timeutil"
)

// AnalyticsEvent is a product analytics event. UserID is nil for
// anonymous events and for events whose user was purged.
type AnalyticsEvent struct {
	ID         string
	UserID     *string
	Name       string
	Properties map[string]any
	SessionID  *string
	OccurredAt time.Time
	EventDate  string
}

// NewAnalyticsEvent is the input to RecordEvent. OccurredAt defaults to now.
type NewAnalyticsEvent struct {
	UserID     string
	Name       string
	Properties map[string]any
	SessionID  *string
	OccurredAt *time.Time
}

// RecordEvent stores an analytics event. Users record events for
// themselves; the service may record anonymous events.
func (db *DB) RecordEvent(ctx context.Context, p Principal, in NewAnalyticsEvent) (*AnalyticsEvent, error) {
	var userID *string
	if !p.IsService() || in.UserID != "" {
		owner, err := p.owner(in.UserID)
		if err != nil {
			return nil, err
		}
		userID = &owner
	}

	props := in.Properties
	if props == nil {
		props = map[string]any{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("%w: properties: %v", ErrInvalidInput, err)
	}

	occurred := db.now()
	if in.OccurredAt != nil {
		occurred = in.OccurredAt.UTC()
	}
	ev := &AnalyticsEvent{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       in.Name,
		Properties: props,
		SessionID:  in.SessionID,
		OccurredAt: occurred.Truncate(time.Second),
		EventDate:  occurred.Format(timeutil.DateLayout),
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO analytics_events (id, user_id, event_name, properties, session_id, occurred_at, event_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.UserID, ev.Name, string(propsJSON), ev.SessionID, ev.OccurredAt.Unix(), ev.EventDate)
	if err != nil {
		return nil, fmt.Errorf("failed to record event: %w", classify(err))
	}
	return ev, nil
}

// ListEvents returns the events recorded on a UTC date, oldest first.
func (db *DB) ListEvents(ctx context.Context, p Principal, date string) ([]AnalyticsEvent, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, event_name, properties, session_id, occurred_at, event_date
		FROM analytics_events WHERE event_date = ?
		ORDER BY occurred_at, id`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []AnalyticsEvent
	for rows.Next() {
		var ev AnalyticsEvent
		var userID, sessionID *string
		var props string
		var occurred int64
		if err := rows.Scan(&ev.ID, &userID, &ev.Name, &props, &sessionID, &occurred, &ev.EventDate); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(props), &ev.Properties); err != nil {
			return nil, fmt.Errorf("failed to decode event properties: %w", err)
		}
		ev.UserID = userID
		ev.SessionID = sessionID
		ev.OccurredAt = time.Unix(occurred, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// CleanupAnalyticsEvents deletes events older than retention and returns
// the number removed.
func (db *DB) CleanupAnalyticsEvents(ctx context.Context, p Principal, retention time.Duration) (int64, error) {
	if err := p.requireAdmin(); err != nil {
		return 0, err
	}
	if retention <= 0 {
		return 0, fmt.Errorf("%w: retention must be positive", ErrInvalidInput)
	}
	cutoff := db.now().Add(-retention).Unix()
	res, err := db.ExecContext(ctx, `DELETE FROM analytics_events WHERE occurred_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up analytics events: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
