package db

import (
	"context"
	"time"

	"github.com/banshee-data/mindframe/internal/monitoring"
)

// MaintenanceResult counts the rows touched by RunMaintenance.
type MaintenanceResult struct {
	OverdueHomework int64
	DeletedEvents   int64
}

// RunMaintenance marks overdue homework and prunes analytics events older
// than retention.
func (db *DB) RunMaintenance(ctx context.Context, p Principal, retention time.Duration) (MaintenanceResult, error) {
	var res MaintenanceResult
	var err error
	if res.OverdueHomework, err = db.MarkOverdueHomework(ctx, p); err != nil {
		return res, err
	}
	if res.DeletedEvents, err = db.CleanupAnalyticsEvents(ctx, p, retention); err != nil {
		return res, err
	}
	monitoring.Logf("maintenance: %d homework marked overdue, %d analytics events deleted",
		res.OverdueHomework, res.DeletedEvents)
	return res, nil
}
