package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxFirebaseUIDLength is the longest UID Firebase Auth issues.
const maxFirebaseUIDLength = 128

// User is the local mirror of a Firebase Auth account.
type User struct {
	ID                string
	FirebaseUID       string
	Email             *string
	DisplayName       *string
	PhotoURL          *string
	EmailVerified     bool
	Provider          *string
	Disabled          bool
	FirebaseCreatedAt *time.Time
	LastSignInAt      *time.Time
	LastSyncedAt      time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// IsDeleted reports whether the account was removed upstream.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// FirebaseUser carries the upstream account fields written by a sync.
type FirebaseUser struct {
	UID           string
	Email         *string
	DisplayName   *string
	PhotoURL      *string
	EmailVerified bool
	Provider      *string
	Disabled      bool
	CreatedAt     *time.Time
	LastSignInAt  *time.Time
}

// SyncAction is the kind of change recorded in user_sync_log.
type SyncAction string

const (
	SyncCreated SyncAction = "created"
	SyncUpdated SyncAction = "updated"
	SyncDeleted SyncAction = "deleted"
)

const userColumns = `id, firebase_uid, email, display_name, photo_url, email_verified,
	provider, disabled, firebase_created_at, last_sign_in_at, last_synced_at,
	created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var email, displayName, photoURL, provider sql.NullString
	var fbCreated, lastSignIn, deleted sql.NullInt64
	var synced, created, updated int64
	var verified, disabled int
	if err := row.Scan(&u.ID, &u.FirebaseUID, &email, &displayName, &photoURL, &verified,
		&provider, &disabled, &fbCreated, &lastSignIn, &synced,
		&created, &updated, &deleted); err != nil {
		return nil, err
	}
	u.Email = stringFromNull(email)
	u.DisplayName = stringFromNull(displayName)
	u.PhotoURL = stringFromNull(photoURL)
	u.Provider = stringFromNull(provider)
	u.EmailVerified = verified == 1
	u.Disabled = disabled == 1
	u.FirebaseCreatedAt = timeFromNull(fbCreated)
	u.LastSignInAt = timeFromNull(lastSignIn)
	u.DeletedAt = timeFromNull(deleted)
	u.LastSyncedAt = time.Unix(synced, 0).UTC()
	u.CreatedAt = time.Unix(created, 0).UTC()
	u.UpdatedAt = time.Unix(updated, 0).UTC()
	return &u, nil
}

// UpsertUserByFirebaseUID inserts or refreshes the local row for a Firebase
// account and records the change in user_sync_log. A previously deleted
// account is restored. The returned bool is true when a row was created.
func (db *DB) UpsertUserByFirebaseUID(ctx context.Context, p Principal, fu FirebaseUser) (*User, bool, error) {
	if err := p.requireService(); err != nil {
		return nil, false, err
	}
	if fu.UID == "" || len(fu.UID) > maxFirebaseUIDLength {
		return nil, false, fmt.Errorf("%w: firebase uid must be 1-%d characters", ErrInvalidInput, maxFirebaseUIDLength)
	}

	now := db.now().Unix()
	var user *User
	var created bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE firebase_uid = ?`, fu.UID).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			existingID = uuid.NewString()
		case err != nil:
			return fmt.Errorf("failed to look up user: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (
				id, firebase_uid, email, display_name, photo_url, email_verified,
				provider, disabled, firebase_created_at, last_sign_in_at,
				last_synced_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(firebase_uid) DO UPDATE SET
				email = excluded.email,
				display_name = excluded.display_name,
				photo_url = excluded.photo_url,
				email_verified = excluded.email_verified,
				provider = excluded.provider,
				disabled = excluded.disabled,
				firebase_created_at = excluded.firebase_created_at,
				last_sign_in_at = excluded.last_sign_in_at,
				last_synced_at = excluded.last_synced_at,
				updated_at = MAX(excluded.updated_at, users.updated_at + 1),
				deleted_at = NULL`,
			existingID, fu.UID, fu.Email, fu.DisplayName, fu.PhotoURL, boolToInt(fu.EmailVerified),
			fu.Provider, boolToInt(fu.Disabled), unixOrNil(fu.CreatedAt), unixOrNil(fu.LastSignInAt),
			now, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", classify(err))
		}

		action := SyncUpdated
		if created {
			action = SyncCreated
		}
		if err := logSync(ctx, tx, fu.UID, action, now); err != nil {
			return err
		}

		user, err = scanUser(tx.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE firebase_uid = ?`, fu.UID))
		if err != nil {
			return fmt.Errorf("failed to read user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return user, created, nil
}

// MarkUserDeleted soft-deletes the account with the given Firebase UID and
// disables it. Journal rows are kept until the account row is purged.
func (db *DB) MarkUserDeleted(ctx context.Context, p Principal, firebaseUID string) error {
	if err := p.requireService(); err != nil {
		return err
	}
	now := db.now().Unix()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users SET deleted_at = ?, disabled = 1, last_synced_at = ?, updated_at = MAX(?, updated_at + 1)
			WHERE firebase_uid = ? AND deleted_at IS NULL`,
			now, now, now, firebaseUID)
		if err != nil {
			return fmt.Errorf("failed to mark user deleted: %w", classify(err))
		}
		if err := checkAffected(res); err != nil {
			return err
		}
		return logSync(ctx, tx, firebaseUID, SyncDeleted, now)
	})
}

// PurgeUser hard-deletes a user row. Owned rows cascade.
func (db *DB) PurgeUser(ctx context.Context, p Principal, userID string) error {
	if err := p.requireService(); err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to purge user: %w", classify(err))
	}
	return checkAffected(res)
}

func logSync(ctx context.Context, q queryer, firebaseUID string, action SyncAction, at int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_sync_log (firebase_uid, action, synced_at) VALUES (?, ?, ?)`,
		firebaseUID, string(action), at)
	if err != nil {
		return fmt.Errorf("failed to write sync log: %w", classify(err))
	}
	return nil
}

// GetUser returns a user by local id. Users see only themselves; admins see
// everyone.
func (db *DB) GetUser(ctx context.Context, p Principal, id string) (*User, error) {
	args := append([]any{id}, p.readerArgs()...)
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND (id = ? OR ? = 1)`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByFirebaseUID is GetUser keyed by the Firebase UID.
func (db *DB) GetUserByFirebaseUID(ctx context.Context, p Principal, firebaseUID string) (*User, error) {
	args := append([]any{firebaseUID}, p.readerArgs()...)
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE firebase_uid = ? AND (id = ? OR ? = 1)`, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users ordered by creation time.
func (db *DB) ListUsers(ctx context.Context, p Principal, includeDeleted bool) ([]User, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE deleted_at IS NULL OR ? = 1
		ORDER BY created_at, id`, boolToInt(includeDeleted))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// ActiveFirebaseUIDs returns the Firebase UIDs of users not marked deleted.
func (db *DB) ActiveFirebaseUIDs(ctx context.Context, p Principal) ([]string, error) {
	if err := p.requireService(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT firebase_uid FROM users WHERE deleted_at IS NULL ORDER BY firebase_uid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list firebase uids: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan firebase uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// SyncLogEntry is one row of user_sync_log.
type SyncLogEntry struct {
	ID          int64
	FirebaseUID string
	Action      SyncAction
	SyncedAt    time.Time
}

// ListSyncLog returns the sync history of one Firebase UID, oldest first.
func (db *DB) ListSyncLog(ctx context.Context, p Principal, firebaseUID string) ([]SyncLogEntry, error) {
	if err := p.requireAdmin(); err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, firebase_uid, action, synced_at FROM user_sync_log
		WHERE firebase_uid = ? ORDER BY id`, firebaseUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		var e SyncLogEntry
		var action string
		var synced int64
		if err := rows.Scan(&e.ID, &e.FirebaseUID, &action, &synced); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.Action = SyncAction(action)
		e.SyncedAt = time.Unix(synced, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
