package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AdminGrant is one row of admin_users.
type AdminGrant struct {
	UserID    string
	Role      Role
	GrantedBy *string
	CreatedAt time.Time
}

// ResolvePrincipal derives the principal for an authenticated user from
// admin_users. Unknown or deleted users resolve to ErrNotFound.
func (db *DB) ResolvePrincipal(ctx context.Context, userID string) (Principal, error) {
	var deleted sql.NullInt64
	var role sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT u.deleted_at, a.role
		FROM users u
		LEFT JOIN admin_users a ON a.user_id = u.id
		WHERE u.id = ?`, userID).Scan(&deleted, &role)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && deleted.Valid) {
		return Principal{}, ErrNotFound
	}
	if err != nil {
		return Principal{}, fmt.Errorf("failed to resolve principal: %w", err)
	}
	if role.Valid {
		return Principal{UserID: userID, Role: Role(role.String)}, nil
	}
	return UserPrincipal(userID), nil
}

// GrantAdmin gives userID an admin role, replacing any existing grant.
func (db *DB) GrantAdmin(ctx context.Context, p Principal, userID string, role Role) error {
	if err := p.requireSuperAdmin(); err != nil {
		return err
	}
	if role != RoleAdmin && role != RoleSuperAdmin {
		return fmt.Errorf("%w: role %q cannot be granted", ErrInvalidInput, role)
	}
	var grantedBy any
	if p.UserID != "" {
		grantedBy = p.UserID
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO admin_users (user_id, role, granted_by, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET role = excluded.role, granted_by = excluded.granted_by`,
		userID, string(role), grantedBy, db.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to grant admin: %w", classify(err))
	}
	return nil
}

// RevokeAdmin removes an admin grant.
func (db *DB) RevokeAdmin(ctx context.Context, p Principal, userID string) error {
	if err := p.requireSuperAdmin(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM admin_users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke admin: %w", classify(err))
	}
	return checkAffected(res)
}

// ListAdmins returns every admin grant.
func (db *DB) ListAdmins(ctx context.Context, p Principal) ([]AdminGrant, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT user_id, role, granted_by, created_at FROM admin_users ORDER BY created_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	var grants []AdminGrant
	for rows.Next() {
		var g AdminGrant
		var role string
		var grantedBy sql.NullString
		var created int64
		if err := rows.Scan(&g.UserID, &role, &grantedBy, &created); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		g.Role = Role(role)
		g.GrantedBy = stringFromNull(grantedBy)
		g.CreatedAt = time.Unix(created, 0).UTC()
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
