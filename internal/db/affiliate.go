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

type AffiliateStatus string

const (
	AffiliateActive     AffiliateStatus = "active"
	AffiliatePaused     AffiliateStatus = "paused"
	AffiliateTerminated AffiliateStatus = "terminated"
)

type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralConverted ReferralStatus = "converted"
	ReferralPaid      ReferralStatus = "paid"
	ReferralRefunded  ReferralStatus = "refunded"
)

// defaultCommissionBps is 10%.
const defaultCommissionBps = 1000

// Affiliate totals are maintained by trigger from affiliate_referrals and
// are never written from Go.
type Affiliate struct {
	ID                   string
	UserID               string
	Code                 string
	CommissionRateBps    int
	Status               AffiliateStatus
	TotalReferrals       int64
	TotalRevenueCents    int64
	TotalCommissionCents int64
	PayoutEmail          *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Commission returns the commission owed on revenueCents, rounded down.
func (a *Affiliate) Commission(revenueCents int64) int64 {
	return revenueCents * int64(a.CommissionRateBps) / 10000
}

type NewAffiliate struct {
	UserID string
	Code   string
	// CommissionRateBps defaults to 1000 when nil.
	CommissionRateBps *int
	PayoutEmail       *string
}

type Referral struct {
	ID              string
	AffiliateID     string
	ReferredUserID  *string
	Status          ReferralStatus
	RevenueCents    int64
	CommissionCents int64
	ReferredAt      time.Time
	ConvertedAt     *time.Time
}

const affiliateColumns = `id, user_id, code, commission_rate_bps, status, total_referrals,
	total_revenue_cents, total_commission_cents, payout_email, created_at, updated_at`

func scanAffiliate(row interface{ Scan(...any) error }) (*Affiliate, error) {
	var a Affiliate
	var status string
	var payout sql.NullString
	var created, updated int64
	if err := row.Scan(&a.ID, &a.UserID, &a.Code, &a.CommissionRateBps, &status, &a.TotalReferrals,
		&a.TotalRevenueCents, &a.TotalCommissionCents, &payout, &created, &updated); err != nil {
		return nil, err
	}
	a.Status = AffiliateStatus(status)
	a.PayoutEmail = stringFromNull(payout)
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()
	return &a, nil
}

const referralColumns = `id, affiliate_id, referred_user_id, status, revenue_cents,
	commission_cents, referred_at, converted_at`

func scanReferral(row interface{ Scan(...any) error }) (*Referral, error) {
	var r Referral
	var referred sql.NullString
	var status string
	var referredAt int64
	var converted sql.NullInt64
	if err := row.Scan(&r.ID, &r.AffiliateID, &referred, &status, &r.RevenueCents,
		&r.CommissionCents, &referredAt, &converted); err != nil {
		return nil, err
	}
	r.ReferredUserID = stringFromNull(referred)
	r.Status = ReferralStatus(status)
	r.ReferredAt = time.Unix(referredAt, 0).UTC()
	r.ConvertedAt = timeFromNull(converted)
	return &r, nil
}

// CreateAffiliate enrolls a user as an affiliate.
func (db *DB) CreateAffiliate(ctx context.Context, p Principal, in NewAffiliate) (*Affiliate, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rate := defaultCommissionBps
	if in.CommissionRateBps != nil {
		rate = *in.CommissionRateBps
	}
	now := db.now().Unix()
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO affiliates (id, user_id, code, commission_rate_bps, payout_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.UserID, strings.TrimSpace(in.Code), rate, in.PayoutEmail, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create affiliate: %w", classify(err))
	}
	return db.getAffiliate(ctx, db.DB, "id", id)
}

func (db *DB) getAffiliate(ctx context.Context, q queryer, column, value string) (*Affiliate, error) {
	a, err := scanAffiliate(q.QueryRowContext(ctx,
		`SELECT `+affiliateColumns+` FROM affiliates WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get affiliate: %w", err)
	}
	return a, nil
}

// visibleAffiliate loads an affiliate the principal may read: admins see
// all, users only their own.
func (db *DB) visibleAffiliate(ctx context.Context, q queryer, p Principal, id string) (*Affiliate, error) {
	a, err := db.getAffiliate(ctx, q, "id", id)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && a.UserID != p.UserID {
		return nil, ErrNotFound
	}
	return a, nil
}

// GetAffiliate returns an affiliate with its trigger-maintained totals.
func (db *DB) GetAffiliate(ctx context.Context, p Principal, id string) (*Affiliate, error) {
	return db.visibleAffiliate(ctx, db.DB, p, id)
}

// GetAffiliateByCode looks up an affiliate by its (case-insensitive) code.
func (db *DB) GetAffiliateByCode(ctx context.Context, p Principal, code string) (*Affiliate, error) {
	a, err := db.getAffiliate(ctx, db.DB, "code", strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && a.UserID != p.UserID {
		return nil, ErrNotFound
	}
	return a, nil
}

// SetAffiliateStatus pauses, terminates or reactivates an affiliate.
func (db *DB) SetAffiliateStatus(ctx context.Context, p Principal, id string, status AffiliateStatus) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE affiliates SET status = ?, updated_at = MAX(?, updated_at + 1) WHERE id = ?`,
		string(status), db.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set affiliate status: %w", classify(err))
	}
	return checkAffected(res)
}

// RecordReferral attributes a signup to the affiliate owning code. Only
// active affiliates accept referrals.
func (db *DB) RecordReferral(ctx context.Context, p Principal, code string, referredUserID *string) (*Referral, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	var ref *Referral
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		a, err := db.getAffiliate(ctx, tx, "code", strings.TrimSpace(code))
		if err != nil {
			return err
		}
		if a.Status != AffiliateActive {
			return fmt.Errorf("affiliate %s: %w", a.Code, ErrAffiliateInactive)
		}
		ref = &Referral{
			ID:             uuid.NewString(),
			AffiliateID:    a.ID,
			ReferredUserID: referredUserID,
			Status:         ReferralPending,
			ReferredAt:     db.now().Truncate(time.Second),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO affiliate_referrals (id, affiliate_id, referred_user_id, status, referred_at)
			VALUES (?, ?, ?, ?, ?)`,
			ref.ID, ref.AffiliateID, ref.ReferredUserID, string(ref.Status), ref.ReferredAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to record referral: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// ConvertReferral marks a pending referral as converted with the revenue
// it produced. Commission is derived from the affiliate's rate.
func (db *DB) ConvertReferral(ctx context.Context, p Principal, referralID string, revenueCents int64) (*Referral, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	if revenueCents < 0 {
		return nil, fmt.Errorf("%w: revenue must not be negative", ErrInvalidInput)
	}
	var ref *Referral
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getReferral(ctx, tx, referralID)
		if err != nil {
			return err
		}
		if cur.Status != ReferralPending {
			return fmt.Errorf("referral %s is %s: %w", cur.ID, cur.Status, ErrInvalidTransition)
		}
		a, err := db.getAffiliate(ctx, tx, "id", cur.AffiliateID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE affiliate_referrals
			SET status = ?, revenue_cents = ?, commission_cents = ?, converted_at = ?
			WHERE id = ?`,
			string(ReferralConverted), revenueCents, a.Commission(revenueCents), db.now().Unix(), referralID)
		if err != nil {
			return fmt.Errorf("failed to convert referral: %w", classify(err))
		}
		ref, err = getReferral(ctx, tx, referralID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// referralTransitions lists the statuses each referral status may move to
// through UpdateReferralStatus. Conversion goes through ConvertReferral.
var referralTransitions = map[ReferralStatus][]ReferralStatus{
	ReferralPending:   {ReferralRefunded},
	ReferralConverted: {ReferralPaid, ReferralRefunded},
	ReferralPaid:      {ReferralRefunded},
}

// UpdateReferralStatus moves a referral to paid or refunded. A refund
// zeroes the referral's revenue and commission.
func (db *DB) UpdateReferralStatus(ctx context.Context, p Principal, referralID string, status ReferralStatus) (*Referral, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	var ref *Referral
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := getReferral(ctx, tx, referralID)
		if err != nil {
			return err
		}
		allowed := false
		for _, s := range referralTransitions[cur.Status] {
			if s == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("referral %s: %s -> %s: %w", cur.ID, cur.Status, status, ErrInvalidTransition)
		}

		query := `UPDATE affiliate_referrals SET status = ? WHERE id = ?`
		if status == ReferralRefunded {
			query = `UPDATE affiliate_referrals SET status = ?, revenue_cents = 0, commission_cents = 0 WHERE id = ?`
		}
		if _, err := tx.ExecContext(ctx, query, string(status), referralID); err != nil {
			return fmt.Errorf("failed to update referral: %w", classify(err))
		}
		ref, err = getReferral(ctx, tx, referralID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// MoveReferral reattributes a referral to another affiliate. Totals of both
// affiliates are recomputed by trigger.
func (db *DB) MoveReferral(ctx context.Context, p Principal, referralID, affiliateID string) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE affiliate_referrals SET affiliate_id = ? WHERE id = ?`, affiliateID, referralID)
	if err != nil {
		return fmt.Errorf("failed to move referral: %w", classify(err))
	}
	return checkAffected(res)
}

// DeleteReferral removes a referral; the affiliate totals follow.
func (db *DB) DeleteReferral(ctx context.Context, p Principal, referralID string) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM affiliate_referrals WHERE id = ?`, referralID)
	if err != nil {
		return fmt.Errorf("failed to delete referral: %w", classify(err))
	}
	return checkAffected(res)
}

func getReferral(ctx context.Context, q queryer, id string) (*Referral, error) {
	r, err := scanReferral(q.QueryRowContext(ctx,
		`SELECT `+referralColumns+` FROM affiliate_referrals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get referral: %w", err)
	}
	return r, nil
}

// ListReferrals returns the referrals of an affiliate, oldest first.
func (db *DB) ListReferrals(ctx context.Context, p Principal, affiliateID string) ([]Referral, error) {
	if _, err := db.visibleAffiliate(ctx, db.DB, p, affiliateID); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+referralColumns+` FROM affiliate_referrals
		WHERE affiliate_id = ? ORDER BY referred_at, id`, affiliateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list referrals: %w", err)
	}
	defer rows.Close()

	var out []Referral
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan referral: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// LeaderboardEntry is one row of the affiliate_leaderboard view.
type LeaderboardEntry struct {
	AffiliateID          string
	Code                 string
	UserID               string
	Status               AffiliateStatus
	TotalReferrals       int64
	ConvertedReferrals   int64
	TotalRevenueCents    int64
	TotalCommissionCents int64
}

// AffiliateLeaderboard returns affiliates ranked by revenue. A limit of
// zero or less returns every affiliate.
func (db *DB) AffiliateLeaderboard(ctx context.Context, p Principal, limit int) ([]LeaderboardEntry, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, code, user_id, status, total_referrals, converted_referrals,
			total_revenue_cents, total_commission_cents
		FROM affiliate_leaderboard
		ORDER BY total_revenue_cents DESC, total_referrals DESC, code ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		var status string
		if err := rows.Scan(&e.AffiliateID, &e.Code, &e.UserID, &status, &e.TotalReferrals,
			&e.ConvertedReferrals, &e.TotalRevenueCents, &e.TotalCommissionCents); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard: %w", err)
		}
		e.Status = AffiliateStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}
