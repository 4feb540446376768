package db

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Constraint classes raised by the schema.
var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrCheckViolation      = errors.New("check constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrNotNullViolation    = errors.New("not null constraint violation")
	ErrPromoLimitReached   = errors.New("promo code usage limit reached")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Guards applied in Go before touching the database.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrPromoInactive     = errors.New("promo code is not active")
	ErrPromoExpired      = errors.New("promo code is outside its validity window")
	ErrAffiliateInactive = errors.New("affiliate is not active")
	ErrUnknownDistortion = errors.New("unknown cognitive distortion")
)

// ConstraintError pairs a classified sentinel with the driver error that
// produced it. errors.Is matches both.
type ConstraintError struct {
	Kind error
	Err  error
}

func (e *ConstraintError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *ConstraintError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// triggerMessages maps RAISE(ABORT, ...) texts to sentinels.
var triggerMessages = []struct {
	msg  string
	kind error
}{
	{"promo code usage limit reached", ErrPromoLimitReached},
	{"invalid status transition", ErrInvalidTransition},
}

// constraintMessages is the fallback when the extended code is unavailable.
var constraintMessages = []struct {
	msg  string
	kind error
}{
	{"UNIQUE constraint failed", ErrUniqueViolation},
	{"CHECK constraint failed", ErrCheckViolation},
	{"FOREIGN KEY constraint failed", ErrForeignKeyViolation},
	{"NOT NULL constraint failed", ErrNotNullViolation},
}

// ClassifyError wraps a driver error in a ConstraintError when it was raised
// by a constraint or trigger. Other errors are returned unchanged.
func ClassifyError(err error) error {
	return classify(err)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var ce *ConstraintError
	if errors.As(err, &ce) {
		return err
	}

	msg := err.Error()
	var code int
	var se *sqlite.Error
	if errors.As(err, &se) {
		code = se.Code()
		msg = se.Error()
	}

	if kind := kindForCode(code); kind != nil {
		return &ConstraintError{Kind: kind, Err: err}
	}
	for _, t := range triggerMessages {
		if strings.Contains(msg, t.msg) {
			return &ConstraintError{Kind: t.kind, Err: err}
		}
	}
	for _, c := range constraintMessages {
		if strings.Contains(msg, c.msg) {
			return &ConstraintError{Kind: c.kind, Err: err}
		}
	}
	return err
}

func kindForCode(code int) error {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return ErrUniqueViolation
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return ErrCheckViolation
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return ErrForeignKeyViolation
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return ErrNotNullViolation
	}
	// SQLITE_CONSTRAINT_TRIGGER carries its meaning in the message.
	return nil
}
