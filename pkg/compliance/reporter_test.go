package compliance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/WriteProRO/writeproro-backendv2/pkg/audit"
	"github.com/WriteProRO/writeproro-backendv2/pkg/models"
)

func newReporter(t *testing.T) (*Reporter, *audit.Store) {
	t.Helper()
	store, err := audit.NewStore(models.AuditConfig{
		DBPath:        filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays: 90,
	}, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func writeAccess(t *testing.T, store *audit.Store, id string, authorized bool, at time.Time) {
	t.Helper()
	err := store.WriteAccess(context.Background(), models.AccessEvent{
		ID:         id,
		Caller:     "tech-1",
		Endpoint:   "/api/compliance/elevated/generate-documentation",
		SourceAddr: "10.0.0.1",
		Authorized: authorized,
		CreatedAt:  at,
	})
	if err != nil {
		t.Fatalf("WriteAccess: %v", err)
	}
}

func writeUsage(t *testing.T, store *audit.Store, id, subsystem string, enhanced bool, at time.Time) {
	t.Helper()
	err := store.WriteUsage(context.Background(), models.UsageEvent{
		ID:        id,
		Caller:    "tech-1",
		VINSuffix: "9186",
		Subsystem: subsystem,
		Enhanced:  enhanced,
		CreatedAt: at,
	})
	if err != nil {
		t.Fatalf("WriteUsage: %v", err)
	}
}

func TestStatusAggregates(t *testing.T) {
	r, store := newReporter(t)
	now := time.Now().UTC()

	writeAccess(t, store, "a-1", true, now)
	writeAccess(t, store, "a-2", true, now)
	writeAccess(t, store, "a-3", false, now)
	writeUsage(t, store, "u-1", "Engine", true, now)
	writeUsage(t, store, "u-2", "Engine", false, now)

	snap, err := r.Status(context.Background(), now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.TotalAccesses != 3 || snap.Authorized != 2 || snap.Unauthorized != 1 {
		t.Errorf("unexpected counts: %+v", snap)
	}
	wantScore := 2.0 / 3.0 * 100
	if snap.Score < wantScore-0.01 || snap.Score > wantScore+0.01 {
		t.Errorf("expected score near %.2f, got %.2f", wantScore, snap.Score)
	}
	if len(snap.Subsystems) != 1 || snap.Subsystems[0].Count != 2 || snap.Subsystems[0].EnhancedCount != 1 {
		t.Errorf("unexpected subsystem breakdown: %+v", snap.Subsystems)
	}
}

func TestStatusEmptyWindowScoresHundred(t *testing.T) {
	r, _ := newReporter(t)

	snap, err := r.Status(context.Background(),
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snap.Score != 100 {
		t.Errorf("empty window must score 100, got %.2f", snap.Score)
	}
	if snap.TotalAccesses != 0 {
		t.Errorf("expected zero accesses, got %d", snap.TotalAccesses)
	}
}

func TestExportGroupsByDay(t *testing.T) {
	r, store := newReporter(t)

	day1 := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 21, 11, 0, 0, 0, time.UTC)

	writeAccess(t, store, "a-1", true, day1)
	writeAccess(t, store, "a-2", false, day1)
	writeAccess(t, store, "a-3", true, day2)
	writeUsage(t, store, "u-1", "Brakes", false, day1)

	export, err := r.Export(context.Background(), day1, day2)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if export.StartDate != "2026-08-20" || export.EndDate != "2026-08-21" {
		t.Errorf("unexpected range %s..%s", export.StartDate, export.EndDate)
	}
	if len(export.Days) != 2 {
		t.Fatalf("expected 2 day rows, got %d", len(export.Days))
	}
	if export.Days[0].Day != "2026-08-20" || export.Days[0].Count != 2 || export.Days[0].Authorized != 1 {
		t.Errorf("unexpected first day row %+v", export.Days[0])
	}
	if export.Days[1].Count != 1 {
		t.Errorf("unexpected second day row %+v", export.Days[1])
	}
	if len(export.Subsystems) != 1 || export.Subsystems[0].Subsystem != "Brakes" {
		t.Errorf("unexpected subsystem rows %+v", export.Subsystems)
	}
}

func TestExportEmptyRange(t *testing.T) {
	r, _ := newReporter(t)

	export, err := r.Export(context.Background(),
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 7, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(export.Days) != 0 || len(export.Subsystems) != 0 {
		t.Errorf("expected empty export, got %+v", export)
	}
}
