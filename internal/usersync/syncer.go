package usersync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/banshee-data/mindframe/internal/db"
	"github.com/banshee-data/mindframe/internal/monitoring"
)

// ErrEmptyExport is returned when pruning is requested against an export
// with no users, which would otherwise delete every local account.
var ErrEmptyExport = errors.New("refusing to prune against an empty export")

// Store is the subset of *db.DB the syncer writes through.
type Store interface {
	UpsertUserByFirebaseUID(ctx context.Context, p db.Principal, fu db.FirebaseUser) (*db.User, bool, error)
	MarkUserDeleted(ctx context.Context, p db.Principal, firebaseUID string) error
	ActiveFirebaseUIDs(ctx context.Context, p db.Principal) ([]string, error)
}

// Options controls a sync run.
type Options struct {
	// Prune soft-deletes local accounts that are missing from the export.
	Prune bool
}

// Failure records one account that could not be synced.
type Failure struct {
	UID string
	Err error
}

// Result summarises a sync run.
type Result struct {
	Created int
	Updated int
	Deleted int
	Failed  []Failure
}

func (r Result) String() string {
	return fmt.Sprintf("created=%d updated=%d deleted=%d failed=%d",
		r.Created, r.Updated, r.Deleted, len(r.Failed))
}

// Syncer applies Firebase exports to a Store.
type Syncer struct {
	store Store
	opts  Options
	logf  func(format string, v ...interface{})
}

func New(store Store, opts Options) *Syncer {
	return &Syncer{store: store, opts: opts, logf: monitoring.Prefixed("[usersync]")}
}

// SyncFile reads an export from path and syncs it.
func (s *Syncer) SyncFile(ctx context.Context, path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	exp, err := ParseExport(f)
	if err != nil {
		return Result{}, err
	}
	return s.Sync(ctx, exp.Users)
}

// Sync upserts every exported account. Per-account failures are collected
// in the result and do not stop the run; only context cancellation and
// store failures while pruning abort it.
func (s *Syncer) Sync(ctx context.Context, users []ExportUser) (Result, error) {
	var res Result
	if s.opts.Prune && len(users) == 0 {
		return res, ErrEmptyExport
	}

	svc := db.ServicePrincipal()
	seen := make(map[string]bool, len(users))
	for _, eu := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if eu.LocalID != "" {
			seen[eu.LocalID] = true
		}
		fu, err := eu.FirebaseUser()
		if err != nil {
			res.fail(s.logf, eu.LocalID, err)
			continue
		}
		_, created, err := s.store.UpsertUserByFirebaseUID(ctx, svc, fu)
		if err != nil {
			res.fail(s.logf, eu.LocalID, err)
			continue
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}

	if s.opts.Prune {
		active, err := s.store.ActiveFirebaseUIDs(ctx, svc)
		if err != nil {
			return res, fmt.Errorf("failed to list active users: %w", err)
		}
		for _, uid := range active {
			if seen[uid] {
				continue
			}
			if err := s.store.MarkUserDeleted(ctx, svc, uid); err != nil {
				res.fail(s.logf, uid, err)
				continue
			}
			res.Deleted++
		}
	}

	s.logf("sync finished: %s", res)
	return res, nil
}

func (r *Result) fail(logf func(string, ...interface{}), uid string, err error) {
	logf("user %q failed: %v", uid, err)
	r.Failed = append(r.Failed, Failure{UID: uid, Err: err})
}
