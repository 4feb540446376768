package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/mindframe/internal/timeutil"
)

// DailyMetrics is the rollup for one UTC calendar date.
type DailyMetrics struct {
	MetricDate            string
	NewUsers              int64
	ActiveUsers           int64
	TotalEvents           int64
	ThoughtRecordsCreated int64
	MoodEntriesLogged     int64
	PromoRedemptions      int64
	PromoDiscountCents    int64
	ReferralConversions   int64
	ReferralRevenueCents  int64
	ComputedAt            time.Time
}

// ComputeDailyMetrics recomputes the rollup for date (YYYY-MM-DD, UTC) from
// the source tables and replaces the stored row.
func (db *DB) ComputeDailyMetrics(ctx context.Context, p Principal, date string) (*DailyMetrics, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	start, end, err := timeutil.DayBounds(date)
	if err != nil {
		return nil, fmt.Errorf("%w: metric date %q: %v", ErrInvalidInput, date, err)
	}

	m := DailyMetrics{MetricDate: date, ComputedAt: db.now().Truncate(time.Second)}
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM users WHERE created_at >= ?1 AND created_at < ?2),
				(SELECT COUNT(DISTINCT user_id) FROM analytics_events WHERE event_date = ?3 AND user_id IS NOT NULL),
				(SELECT COUNT(*) FROM analytics_events WHERE event_date = ?3),
				(SELECT COUNT(*) FROM thought_records WHERE created_at >= ?1 AND created_at < ?2),
				(SELECT COUNT(*) FROM mood_entries WHERE entry_date = ?3),
				(SELECT COUNT(*) FROM promo_code_redemptions WHERE redeemed_at >= ?1 AND redeemed_at < ?2),
				(SELECT COALESCE(SUM(discount_applied_cents), 0) FROM promo_code_redemptions
					WHERE redeemed_at >= ?1 AND redeemed_at < ?2),
				(SELECT COUNT(*) FROM affiliate_referrals WHERE converted_at >= ?1 AND converted_at < ?2),
				(SELECT COALESCE(SUM(revenue_cents), 0) FROM affiliate_referrals
					WHERE converted_at >= ?1 AND converted_at < ?2)`,
			start, end, date,
		).Scan(&m.NewUsers, &m.ActiveUsers, &m.TotalEvents, &m.ThoughtRecordsCreated,
			&m.MoodEntriesLogged, &m.PromoRedemptions, &m.PromoDiscountCents,
			&m.ReferralConversions, &m.ReferralRevenueCents)
		if err != nil {
			return fmt.Errorf("failed to aggregate metrics: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_metrics (
				metric_date, new_users, active_users, total_events, thought_records_created,
				mood_entries_logged, promo_redemptions, promo_discount_cents,
				referral_conversions, referral_revenue_cents, computed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(metric_date) DO UPDATE SET
				new_users = excluded.new_users,
				active_users = excluded.active_users,
				total_events = excluded.total_events,
				thought_records_created = excluded.thought_records_created,
				mood_entries_logged = excluded.mood_entries_logged,
				promo_redemptions = excluded.promo_redemptions,
				promo_discount_cents = excluded.promo_discount_cents,
				referral_conversions = excluded.referral_conversions,
				referral_revenue_cents = excluded.referral_revenue_cents,
				computed_at = excluded.computed_at`,
			m.MetricDate, m.NewUsers, m.ActiveUsers, m.TotalEvents, m.ThoughtRecordsCreated,
			m.MoodEntriesLogged, m.PromoRedemptions, m.PromoDiscountCents,
			m.ReferralConversions, m.ReferralRevenueCents, m.ComputedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to store daily metrics: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListDailyMetrics returns stored rollups with from <= metric_date <= to,
// oldest first.
func (db *DB) ListDailyMetrics(ctx context.Context, p Principal, from, to string) ([]DailyMetrics, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT metric_date, new_users, active_users, total_events, thought_records_created,
			mood_entries_logged, promo_redemptions, promo_discount_cents,
			referral_conversions, referral_revenue_cents, computed_at
		FROM daily_metrics
		WHERE metric_date BETWEEN ? AND ?
		ORDER BY metric_date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily metrics: %w", err)
	}
	defer rows.Close()

	var out []DailyMetrics
	for rows.Next() {
		var m DailyMetrics
		var computed int64
		if err := rows.Scan(&m.MetricDate, &m.NewUsers, &m.ActiveUsers, &m.TotalEvents,
			&m.ThoughtRecordsCreated, &m.MoodEntriesLogged, &m.PromoRedemptions,
			&m.PromoDiscountCents, &m.ReferralConversions, &m.ReferralRevenueCents,
			&computed); err != nil {
			return nil, fmt.Errorf("failed to scan daily metrics: %w", err)
		}
		m.ComputedAt = time.Unix(computed, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// ComputeDailyMetricsRange recomputes every date in [from, to].
func (db *DB) ComputeDailyMetricsRange(ctx context.Context, p Principal, from, to string) ([]DailyMetrics, error) {
	start, err := time.ParseInLocation(timeutil.DateLayout, from, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: from date %q", ErrInvalidInput, from)
	}
	end, err := time.ParseInLocation(timeutil.DateLayout, to, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: to date %q", ErrInvalidInput, to)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: to date precedes from date", ErrInvalidInput)
	}

	var out []DailyMetrics
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		m, err := db.ComputeDailyMetrics(ctx, p, d.Format(timeutil.DateLayout))
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, nil
}
