// Package usersync mirrors Firebase Auth accounts into the local users table.
//
// The input is the JSON written by `firebase auth:export --format=json`.
package usersync

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/mindframe/internal/db"
)

// Export is the top-level document of a Firebase Auth export.
type Export struct {
	Users []ExportUser `json:"users"`
}

// ExportUser is one account in an export. Timestamps are epoch
// milliseconds encoded as strings.
type ExportUser struct {
	LocalID          string         `json:"localId"`
	Email            string         `json:"email,omitempty"`
	EmailVerified    bool           `json:"emailVerified,omitempty"`
	DisplayName      string         `json:"displayName,omitempty"`
	PhotoURL         string         `json:"photoUrl,omitempty"`
	Disabled         bool           `json:"disabled,omitempty"`
	CreatedAt        string         `json:"createdAt,omitempty"`
	LastSignedInAt   string         `json:"lastSignedInAt,omitempty"`
	ProviderUserInfo []ProviderInfo `json:"providerUserInfo,omitempty"`
}

type ProviderInfo struct {
	ProviderID string `json:"providerId"`
	RawID      string `json:"rawId,omitempty"`
	Email      string `json:"email,omitempty"`
}

// ParseExport decodes an export document. Unknown fields such as password
// hashes are ignored.
func ParseExport(r io.Reader) (*Export, error) {
	var exp Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return nil, fmt.Errorf("failed to parse firebase export: %w", err)
	}
	return &exp, nil
}

// FirebaseUser converts the export record into the upsert input.
func (u ExportUser) FirebaseUser() (db.FirebaseUser, error) {
	fu := db.FirebaseUser{
		UID:           u.LocalID,
		Email:         optional(u.Email),
		DisplayName:   optional(u.DisplayName),
		PhotoURL:      optional(u.PhotoURL),
		EmailVerified: u.EmailVerified,
		Disabled:      u.Disabled,
		Provider:      optional(u.provider()),
	}
	var err error
	if fu.CreatedAt, err = parseMillis(u.CreatedAt); err != nil {
		return fu, fmt.Errorf("createdAt: %w", err)
	}
	if fu.LastSignInAt, err = parseMillis(u.LastSignedInAt); err != nil {
		return fu, fmt.Errorf("lastSignedInAt: %w", err)
	}
	return fu, nil
}

// provider is the first linked identity provider. Accounts with only an
// email and password have no providerUserInfo in some exports.
func (u ExportUser) provider() string {
	for _, p := range u.ProviderUserInfo {
		if p.ProviderID != "" {
			return p.ProviderID
		}
	}
	if u.Email != "" {
		return "password"
	}
	return ""
}

func parseMillis(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid epoch milliseconds %q", s)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
