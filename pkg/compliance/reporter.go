// Package compliance computes read-only projections over the audit trail.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

// Reporter aggregates audit history. It never writes; snapshots are
// recomputed on demand and not persisted.
type Reporter struct {
	store *audit.Store
}

// New builds a Reporter over the audit store.
func New(store *audit.Store) *Reporter {
	return &Reporter{store: store}
}

// Status aggregates access attempts and usage in [since, until). An empty
// range yields zero counts and a score of 100.
func (r *Reporter) Status(ctx context.Context, since, until time.Time) (models.ComplianceSnapshot, error) {
	total, authorized, err := r.store.AccessCounts(ctx, since, until)
	if err != nil {
		return models.ComplianceSnapshot{}, fmt.Errorf("compliance status: %w", err)
	}

	breakdown, err := r.store.UsageBySubsystem(ctx, since, until)
	if err != nil {
		return models.ComplianceSnapshot{}, fmt.Errorf("compliance status: %w", err)
	}

	return models.ComplianceSnapshot{
		WindowStart:   since,
		WindowEnd:     until,
		TotalAccesses: total,
		Authorized:    authorized,
		Unauthorized:  total - authorized,
		Score:         score(total, authorized),
		Subsystems:    breakdown,
	}, nil
}

// StatusLast24h is the gateway's default status window.
func (r *Reporter) StatusLast24h(ctx context.Context) (models.ComplianceSnapshot, error) {
	now := time.Now().UTC()
	return r.Status(ctx, now.Add(-24*time.Hour), now)
}

// Export aggregates per-day access attempts and per-subsystem usage over
// [start, end] calendar dates (inclusive). Empty ranges are not an error.
func (r *Reporter) Export(ctx context.Context, start, end time.Time) (models.ComplianceExport, error) {
	since := start.UTC().Truncate(24 * time.Hour)
	until := end.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)

	days, err := r.store.AccessByDay(ctx, since, until)
	if err != nil {
		return models.ComplianceExport{}, fmt.Errorf("compliance export: %w", err)
	}
	breakdown, err := r.store.UsageBySubsystem(ctx, since, until)
	if err != nil {
		return models.ComplianceExport{}, fmt.Errorf("compliance export: %w", err)
	}

	return models.ComplianceExport{
		StartDate:  since.Format("2006-01-02"),
		EndDate:    end.UTC().Format("2006-01-02"),
		Days:       days,
		Subsystems: breakdown,
	}, nil
}

// score is authorized/total as a percentage, defaulting to 100 for an
// empty window so an idle system never reports non-compliance.
func score(total, authorized int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(authorized) / float64(total) * 100
}
