package learning

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/yungbote/rulelearn/internal/types"
)

func seedWithStats(repo *fakeRepo, text, field string, conf float64, timesMatched int64) uuid.UUID {
	row := seedPattern(text, field)
	row.ConfidenceScore = conf
	row.TimesMatched = timesMatched
	return repo.seed(row)
}

// A well-sampled low-confidence pattern is retired; the same score with a
// thin sample is left alone.
func TestMaintenanceDeactivatesOnlyWithEnoughSamples(t *testing.T) {
	repo := newFakeRepo()
	sampled := seedWithStats(repo, "이상한 규칙", "성명", 0.25, 40)
	thin := seedWithStats(repo, "또다른 규칙", "부서", 0.25, 2)

	summary, err := RunMaintenance(context.Background(), MaintenanceDeps{Repo: repo, Log: testLogger(t)}, MaintenanceInput{
		LowThreshold:  0.30,
		HighThreshold: 0.90,
		MinSampleSize: 10,
	})
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if summary.Deactivated != 1 || summary.Unchanged != 1 {
		t.Fatalf("summary = %+v, want 1 deactivated and 1 unchanged", summary)
	}

	got, _ := repo.GetByID(context.Background(), sampled)
	if got.Status != types.StatusInactive {
		t.Fatalf("sampled pattern status = %s, want inactive", got.Status)
	}
	got, _ = repo.GetByID(context.Background(), thin)
	if got.Status != types.StatusActive {
		t.Fatalf("thin-sample pattern status = %s, want active", got.Status)
	}
}

func TestMaintenanceConfirmsHighConfidence(t *testing.T) {
	repo := newFakeRepo()
	id := seedWithStats(repo, "YYYYMMDD 형식", "입사일자", 0.96, 30)

	summary, err := RunMaintenance(context.Background(), MaintenanceDeps{Repo: repo, Log: testLogger(t)}, MaintenanceInput{})
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if summary.Confirmed != 1 {
		t.Fatalf("summary = %+v, want 1 confirmed", summary)
	}

	got, _ := repo.GetByID(context.Background(), id)
	if got.Status != types.StatusArchived {
		t.Fatalf("status = %s, want archived", got.Status)
	}

	// Confirmation must not change matchability.
	rows, err := repo.ListMatchable(context.Background())
	if err != nil {
		t.Fatalf("ListMatchable: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("archived pattern dropped out of the matchable set")
	}
}

// Boundary scores stay put: the thresholds are strict inequalities.
func TestMaintenanceBoundaryScoresUnchanged(t *testing.T) {
	repo := newFakeRepo()
	seedWithStats(repo, "하한 경계", "a", 0.30, 50)
	seedWithStats(repo, "상한 경계", "b", 0.90, 50)

	summary, err := RunMaintenance(context.Background(), MaintenanceDeps{Repo: repo, Log: testLogger(t)}, MaintenanceInput{})
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if summary.Deactivated != 0 || summary.Confirmed != 0 || summary.Unchanged != 2 {
		t.Fatalf("summary = %+v, want everything unchanged", summary)
	}
}

// One pattern's failing transition costs only that pattern; the rest of the
// batch still lands, and the failure is counted instead of aborting the pass.
func TestMaintenanceIsolatesPatternFailures(t *testing.T) {
	repo := newFakeRepo()
	failing := seedWithStats(repo, "이상한 규칙", "성명", 0.25, 40)
	healthy := seedWithStats(repo, "YYYYMMDD 형식", "입사일자", 0.96, 30)
	repo.setStatusErr = map[uuid.UUID]error{failing: errors.New("connection reset")}

	summary, err := RunMaintenance(context.Background(), MaintenanceDeps{Repo: repo, Log: testLogger(t)}, MaintenanceInput{})
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if summary.Errors != 1 {
		t.Fatalf("summary = %+v, want 1 error", summary)
	}
	if summary.Confirmed != 1 || summary.Deactivated != 0 {
		t.Fatalf("summary = %+v, want the healthy pattern confirmed", summary)
	}

	got, _ := repo.GetByID(context.Background(), healthy)
	if got.Status != types.StatusArchived {
		t.Fatalf("healthy pattern status = %s, want archived", got.Status)
	}
	got, _ = repo.GetByID(context.Background(), failing)
	if got.Status != types.StatusActive {
		t.Fatalf("failing pattern status = %s, want active (transition lost, nothing else)", got.Status)
	}
}

// A second pass over an already-classified corpus is a no-op: inactive and
// archived patterns are not re-classified.
func TestMaintenanceIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	seedWithStats(repo, "이상한 규칙", "성명", 0.25, 40)
	seedWithStats(repo, "YYYYMMDD 형식", "입사일자", 0.96, 30)

	ctx := context.Background()
	deps := MaintenanceDeps{Repo: repo, Log: testLogger(t)}
	first, err := RunMaintenance(ctx, deps, MaintenanceInput{})
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Deactivated != 1 || first.Confirmed != 1 {
		t.Fatalf("first pass summary = %+v", first)
	}

	second, err := RunMaintenance(ctx, deps, MaintenanceInput{})
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Deactivated != 0 || second.Confirmed != 0 || second.Unchanged != 2 {
		t.Fatalf("second pass summary = %+v, want all unchanged", second)
	}
}

func TestServiceRunMaintenanceInvalidatesIndex(t *testing.T) {
	repo := newFakeRepo()
	id := seedWithStats(repo, "이상한 규칙", "성명", 0.25, 40)
	svc := newTestService(t, repo)
	ctx := context.Background()

	// Warm the snapshot so we can observe the invalidation.
	if _, err := svc.FindMatch(ctx, "이상한 규칙", "성명", 0.5); err != nil {
		t.Fatalf("FindMatch: %v", err)
	}

	summary, err := svc.RunMaintenance(ctx)
	if err != nil {
		t.Fatalf("RunMaintenance: %v", err)
	}
	if summary.Deactivated != 1 {
		t.Fatalf("summary = %+v, want 1 deactivated", summary)
	}

	// The retired pattern must disappear from matching without waiting for
	// the staleness bound.
	result, err := svc.FindMatch(ctx, "이상한 규칙", "성명", 0.5)
	if err != nil {
		t.Fatalf("FindMatch after maintenance: %v", err)
	}
	if result.Matched {
		t.Fatalf("retired pattern %v still matchable", id)
	}
}
