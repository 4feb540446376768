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

// DiscountType selects how DiscountValue is applied.
type DiscountType string

const (
	// DiscountPercent takes DiscountValue percent off the order (1-100).
	DiscountPercent DiscountType = "percent"
	// DiscountFixed takes DiscountValue cents off the order.
	DiscountFixed DiscountType = "fixed"
)

type PromoCode struct {
	ID            string
	Code          string
	Description   *string
	DiscountType  DiscountType
	DiscountValue int64
	MaxUses       *int64
	CurrentUses   int64
	ValidFrom     *time.Time
	ValidUntil    *time.Time
	IsActive      bool
	CreatedBy     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Discount returns the discount in cents for an order of amountCents,
// rounded down. Percent discounts split the amount into whole hundreds and
// a remainder so any non-negative int64 amount is safe.
func (pc *PromoCode) Discount(amountCents int64) int64 {
	switch pc.DiscountType {
	case DiscountPercent:
		return amountCents/100*pc.DiscountValue + amountCents%100*pc.DiscountValue/100
	case DiscountFixed:
		return min(pc.DiscountValue, amountCents)
	}
	return 0
}

// checkUsable reports why the code cannot be redeemed at now, if at all.
func (pc *PromoCode) checkUsable(now time.Time) error {
	if !pc.IsActive {
		return ErrPromoInactive
	}
	if pc.ValidFrom != nil && now.Before(*pc.ValidFrom) {
		return ErrPromoExpired
	}
	if pc.ValidUntil != nil && !now.Before(*pc.ValidUntil) {
		return ErrPromoExpired
	}
	if pc.MaxUses != nil && pc.CurrentUses >= *pc.MaxUses {
		return ErrPromoLimitReached
	}
	return nil
}

// NewPromoCode is the input to CreatePromoCode.
type NewPromoCode struct {
	Code          string
	Description   *string
	DiscountType  DiscountType
	DiscountValue int64
	MaxUses       *int64
	ValidFrom     *time.Time
	ValidUntil    *time.Time
}

type PromoRedemption struct {
	ID                   string
	PromoCodeID          string
	UserID               string
	OrderRef             *string
	DiscountAppliedCents int64
	RedeemedAt           time.Time
}

// RedeemRequest is the input to RedeemPromoCode. UserID may be left empty
// by a user redeeming for themselves.
type RedeemRequest struct {
	Code             string
	UserID           string
	OrderRef         *string
	OrderAmountCents int64
}

const promoColumns = `id, code, description, discount_type, discount_value, max_uses,
	current_uses, valid_from, valid_until, is_active, created_by, created_at, updated_at`

func scanPromoCode(row interface{ Scan(...any) error }) (*PromoCode, error) {
	var pc PromoCode
	var description, createdBy sql.NullString
	var maxUses, validFrom, validUntil sql.NullInt64
	var discountType string
	var active int
	var created, updated int64
	if err := row.Scan(&pc.ID, &pc.Code, &description, &discountType, &pc.DiscountValue, &maxUses,
		&pc.CurrentUses, &validFrom, &validUntil, &active, &createdBy, &created, &updated); err != nil {
		return nil, err
	}
	pc.Description = stringFromNull(description)
	pc.DiscountType = DiscountType(discountType)
	pc.MaxUses = int64FromNull(maxUses)
	pc.ValidFrom = timeFromNull(validFrom)
	pc.ValidUntil = timeFromNull(validUntil)
	pc.IsActive = active == 1
	pc.CreatedBy = stringFromNull(createdBy)
	pc.CreatedAt = time.Unix(created, 0).UTC()
	pc.UpdatedAt = time.Unix(updated, 0).UTC()
	return &pc, nil
}

// CreatePromoCode stores a new active promo code. Codes are unique
// regardless of case.
func (db *DB) CreatePromoCode(ctx context.Context, p Principal, in NewPromoCode) (*PromoCode, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	var createdBy any
	if p.UserID != "" {
		createdBy = p.UserID
	}
	now := db.now().Unix()
	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO promo_codes (
			id, code, description, discount_type, discount_value, max_uses,
			valid_from, valid_until, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, strings.TrimSpace(in.Code), in.Description, string(in.DiscountType), in.DiscountValue, in.MaxUses,
		unixOrNil(in.ValidFrom), unixOrNil(in.ValidUntil), createdBy, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create promo code: %w", classify(err))
	}
	return db.getPromoCode(ctx, db.DB, "id", id)
}

func (db *DB) getPromoCode(ctx context.Context, q queryer, column, value string) (*PromoCode, error) {
	pc, err := scanPromoCode(q.QueryRowContext(ctx,
		`SELECT `+promoColumns+` FROM promo_codes WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return pc, nil
}

// GetPromoCode returns a promo code by its (case-insensitive) code.
func (db *DB) GetPromoCode(ctx context.Context, p Principal, code string) (*PromoCode, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	return db.getPromoCode(ctx, db.DB, "code", code)
}

// ValidatePromoCode returns the code if it can be redeemed now.
func (db *DB) ValidatePromoCode(ctx context.Context, p Principal, code string) (*PromoCode, error) {
	if p.UserID == "" && !p.IsService() {
		return nil, fmt.Errorf("%w: anonymous principal", ErrForbidden)
	}
	pc, err := db.getPromoCode(ctx, db.DB, "code", strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}
	if err := pc.checkUsable(db.now()); err != nil {
		return nil, fmt.Errorf("promo code %s: %w", pc.Code, err)
	}
	return pc, nil
}

// RedeemPromoCode validates the code and records a redemption for the
// user. Each user may redeem a code once.
func (db *DB) RedeemPromoCode(ctx context.Context, p Principal, req RedeemRequest) (*PromoRedemption, error) {
	userID, err := p.owner(req.UserID)
	if err != nil {
		return nil, err
	}
	if req.OrderAmountCents < 0 {
		return nil, fmt.Errorf("%w: order amount must not be negative", ErrInvalidInput)
	}

	now := db.now()
	var red *PromoRedemption
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		pc, err := db.getPromoCode(ctx, tx, "code", strings.TrimSpace(req.Code))
		if err != nil {
			return err
		}
		if err := pc.checkUsable(now); err != nil {
			return fmt.Errorf("promo code %s: %w", pc.Code, err)
		}

		red = &PromoRedemption{
			ID:                   uuid.NewString(),
			PromoCodeID:          pc.ID,
			UserID:               userID,
			OrderRef:             req.OrderRef,
			DiscountAppliedCents: pc.Discount(req.OrderAmountCents),
			RedeemedAt:           now.Truncate(time.Second),
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO promo_code_redemptions (id, promo_code_id, user_id, order_ref, discount_applied_cents, redeemed_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			red.ID, red.PromoCodeID, red.UserID, red.OrderRef, red.DiscountAppliedCents, red.RedeemedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to redeem promo code: %w", classify(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return red, nil
}

// DeleteRedemption removes a redemption, for example after a refund. The
// code's usage counter is decremented by trigger.
func (db *DB) DeleteRedemption(ctx context.Context, p Principal, redemptionID string) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM promo_code_redemptions WHERE id = ?`, redemptionID)
	if err != nil {
		return fmt.Errorf("failed to delete redemption: %w", classify(err))
	}
	return checkAffected(res)
}

// ListRedemptions returns redemptions of a promo code. Users see only
// their own.
func (db *DB) ListRedemptions(ctx context.Context, p Principal, promoCodeID string) ([]PromoRedemption, error) {
	args := append([]any{promoCodeID}, p.readerArgs()...)
	rows, err := db.QueryContext(ctx, `
		SELECT id, promo_code_id, user_id, order_ref, discount_applied_cents, redeemed_at
		FROM promo_code_redemptions
		WHERE promo_code_id = ? AND `+ownerFilter+`
		ORDER BY redeemed_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list redemptions: %w", err)
	}
	defer rows.Close()

	var out []PromoRedemption
	for rows.Next() {
		var r PromoRedemption
		var orderRef sql.NullString
		var redeemed int64
		if err := rows.Scan(&r.ID, &r.PromoCodeID, &r.UserID, &orderRef, &r.DiscountAppliedCents, &redeemed); err != nil {
			return nil, fmt.Errorf("failed to scan redemption: %w", err)
		}
		r.OrderRef = stringFromNull(orderRef)
		r.RedeemedAt = time.Unix(redeemed, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeactivatePromoCode stops a code from being redeemed. Existing
// redemptions are kept.
func (db *DB) DeactivatePromoCode(ctx context.Context, p Principal, id string) error {
	if err := p.requireAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE promo_codes SET is_active = 0, updated_at = MAX(?, updated_at + 1) WHERE id = ?`, db.now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate promo code: %w", classify(err))
	}
	return checkAffected(res)
}

// PromoCodeStat is one row of the promo_code_stats view.
type PromoCodeStat struct {
	ID                 string
	Code               string
	DiscountType       DiscountType
	DiscountValue      int64
	MaxUses            *int64
	CurrentUses        int64
	RemainingUses      *int64
	TotalDiscountCents int64
	LastRedeemedAt     *time.Time
	IsActive           bool
}

// PromoCodeStats returns usage statistics for every promo code.
func (db *DB) PromoCodeStats(ctx context.Context, p Principal) ([]PromoCodeStat, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, code, discount_type, discount_value, max_uses, current_uses,
			remaining_uses, total_discount_cents, last_redeemed_at, is_active
		FROM promo_code_stats
		ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to query promo code stats: %w", err)
	}
	defer rows.Close()

	var out []PromoCodeStat
	for rows.Next() {
		var s PromoCodeStat
		var discountType string
		var maxUses, remaining, lastRedeemed sql.NullInt64
		var active int
		if err := rows.Scan(&s.ID, &s.Code, &discountType, &s.DiscountValue, &maxUses, &s.CurrentUses,
			&remaining, &s.TotalDiscountCents, &lastRedeemed, &active); err != nil {
			return nil, fmt.Errorf("failed to scan promo code stats: %w", err)
		}
		s.DiscountType = DiscountType(discountType)
		s.MaxUses = int64FromNull(maxUses)
		s.RemainingUses = int64FromNull(remaining)
		s.LastRedeemedAt = timeFromNull(lastRedeemed)
		s.IsActive = active == 1
		out = append(out, s)
	}
	return out, rows.Err()
}
