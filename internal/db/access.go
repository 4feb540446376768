package db

import "fmt"

// Role is the access class a Principal acts with.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
	RoleService    Role = "service"
)

// Principal identifies the caller of a data-access method. Row visibility
// is decided from it in place of database-side row-level security.
type Principal struct {
	UserID string
	Role   Role
}

// UserPrincipal returns a principal acting as an ordinary user.
func UserPrincipal(userID string) Principal {
	return Principal{UserID: userID, Role: RoleUser}
}

// ServicePrincipal returns the trusted backend principal. It bypasses all
// ownership checks.
func ServicePrincipal() Principal {
	return Principal{Role: RoleService}
}

func (p Principal) IsService() bool {
	return p.Role == RoleService
}

// IsAdmin reports whether p may manage shared data (promo codes,
// affiliates, metrics).
func (p Principal) IsAdmin() bool {
	switch p.Role {
	case RoleAdmin, RoleSuperAdmin, RoleService:
		return true
	}
	return false
}

func (p Principal) String() string {
	if p.UserID == "" {
		return string(p.Role)
	}
	return fmt.Sprintf("%s:%s", p.Role, p.UserID)
}

func (p Principal) requireAdmin() error {
	if !p.IsAdmin() {
		return fmt.Errorf("%w: %s requires admin", ErrForbidden, p)
	}
	return nil
}

func (p Principal) requireSuperAdmin() error {
	if p.Role != RoleSuperAdmin && p.Role != RoleService {
		return fmt.Errorf("%w: %s requires super_admin", ErrForbidden, p)
	}
	return nil
}

func (p Principal) requireService() error {
	if !p.IsService() {
		return fmt.Errorf("%w: %s requires service", ErrForbidden, p)
	}
	return nil
}

// owner resolves the user a write is made on behalf of. Non-service
// principals may only write their own rows; an empty userID means "self".
func (p Principal) owner(userID string) (string, error) {
	if p.IsService() {
		if userID == "" {
			return "", fmt.Errorf("%w: user id is required", ErrInvalidInput)
		}
		return userID, nil
	}
	if p.UserID == "" {
		return "", fmt.Errorf("%w: anonymous principal", ErrForbidden)
	}
	if userID != "" && userID != p.UserID {
		return "", fmt.Errorf("%w: %s cannot act for user %s", ErrForbidden, p, userID)
	}
	return p.UserID, nil
}

// ownerArgs returns the arguments for an "(user_id = ? OR ? = 1)" filter.
// Only the service principal sees every row of an owned table.
func (p Principal) ownerArgs() []any {
	return []any{p.UserID, boolToInt(p.IsService())}
}

// readerArgs is ownerArgs for tables admins may also read.
func (p Principal) readerArgs() []any {
	return []any{p.UserID, boolToInt(p.IsAdmin())}
}

const ownerFilter = "(user_id = ? OR ? = 1)"
