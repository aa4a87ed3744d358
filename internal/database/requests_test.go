package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/queryportal/queryportal/internal/risk"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func seedRequester(t *testing.T, db *DB) *UserRecord {
	t.Helper()
	user, err := db.CreateUser("alice", "hash", RoleRequester)
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return user
}

func seedRequest(t *testing.T, db *DB, id string, userID int64) *RequestRecord {
	t.Helper()
	r := &RequestRecord{
		ID:          id,
		Kind:        "query",
		Backend:     "postgres",
		InstanceID:  "pg-main",
		Database:    "app",
		Content:     "SELECT 1",
		RequestedBy: userID,
		RiskLevel:   "SAFE",
		Risk: &risk.Assessment{
			Overall:    risk.Safe,
			Operations: []risk.Operation{{Name: "SELECT", Category: risk.CategoryRead, Risk: risk.Safe}},
		},
	}
	if err := db.CreateRequest(r); err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return r
}

func TestCreateRequest_RoundTripsRiskAssessment(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)

	saved, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if saved == nil {
		t.Fatal("expected request to be saved")
	}
	if saved.Status != StatusPending {
		t.Fatalf("expected status pending, got %q", saved.Status)
	}
	if saved.Risk == nil || len(saved.Risk.Operations) != 1 {
		t.Fatalf("expected risk assessment to round trip, got %+v", saved.Risk)
	}
	if saved.Risk.Operations[0].Name != "SELECT" {
		t.Fatalf("expected SELECT operation, got %q", saved.Risk.Operations[0].Name)
	}
}

func TestGetRequest_ReturnsNilWhenMissing(t *testing.T) {
	db := openTestDB(t)

	saved, err := db.GetRequest("no-such-id")
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if saved != nil {
		t.Fatalf("expected nil for unknown id, got %+v", saved)
	}
}

func TestReviewRequest_OnlyFirstReviewerWins(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)

	ok, err := db.ReviewRequest("req-1", StatusApproved, 2, "looks fine")
	if err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected first review to apply")
	}

	// A second racing decision must not overwrite the first.
	ok, err = db.ReviewRequest("req-1", StatusRejected, 3, "too risky")
	if err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second review of a non-pending request to be rejected")
	}

	saved, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if saved.Status != StatusApproved {
		t.Fatalf("expected status approved, got %q", saved.Status)
	}
	if saved.ReviewedBy == nil || *saved.ReviewedBy != 2 {
		t.Fatalf("expected reviewer 2, got %v", saved.ReviewedBy)
	}
	if saved.ReviewComment != "looks fine" {
		t.Fatalf("unexpected review comment %q", saved.ReviewComment)
	}
}

func TestReviewRequest_RejectsInvalidStatus(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.ReviewRequest("req-1", StatusCompleted, 1, ""); err == nil {
		t.Fatal("expected error for non-review status")
	}
}

func TestMarkExecuting_RequiresApprovedState(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)

	ok, err := db.MarkExecuting("req-1")
	if err != nil {
		t.Fatalf("MarkExecuting returned error: %v", err)
	}
	if ok {
		t.Fatal("expected pending request to refuse execution")
	}

	if _, err := db.ReviewRequest("req-1", StatusApproved, 2, ""); err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}

	ok, err = db.MarkExecuting("req-1")
	if err != nil {
		t.Fatalf("MarkExecuting returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected approved request to transition to executing")
	}

	// A second executor racing on the same request must lose.
	ok, err = db.MarkExecuting("req-1")
	if err != nil {
		t.Fatalf("MarkExecuting returned error: %v", err)
	}
	if ok {
		t.Fatal("expected second MarkExecuting to fail")
	}

	saved, _ := db.GetRequest("req-1")
	if saved.StartedAt == nil {
		t.Fatal("expected started_at to be recorded")
	}
}

func TestFinishRequest_RecordsOutcome(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)

	if _, err := db.ReviewRequest("req-1", StatusApproved, 2, ""); err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}
	if _, err := db.MarkExecuting("req-1"); err != nil {
		t.Fatalf("MarkExecuting returned error: %v", err)
	}
	if err := db.FinishRequest("req-1", StatusCompleted, `{"rowsAffected":1}`, ""); err != nil {
		t.Fatalf("FinishRequest returned error: %v", err)
	}

	saved, err := db.GetRequest("req-1")
	if err != nil {
		t.Fatalf("GetRequest returned error: %v", err)
	}
	if saved.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", saved.Status)
	}
	if saved.ResultJSON != `{"rowsAffected":1}` {
		t.Fatalf("unexpected result json %q", saved.ResultJSON)
	}
	if saved.FinishedAt == nil {
		t.Fatal("expected finished_at to be recorded")
	}
}

func TestListRequests_FiltersAndOrders(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)
	seedRequest(t, db, "req-2", user.ID)

	other, err := db.CreateUser("bob", "hash", RoleRequester)
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	seedRequest(t, db, "req-3", other.ID)

	if _, err := db.ReviewRequest("req-2", StatusRejected, 9, "no"); err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}

	pending, err := db.ListRequests(RequestFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending requests, got %d", len(pending))
	}

	mine, err := db.ListRequests(RequestFilter{RequestedBy: other.ID})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "req-3" {
		t.Fatalf("expected only req-3, got %+v", mine)
	}

	limited, err := db.ListRequests(RequestFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRequests returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 request with limit, got %d", len(limited))
	}
}

func TestExpirePendingRequests_OnlyTouchesOldPending(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-old", user.ID)
	seedRequest(t, db, "req-new", user.ID)

	// Everything created just now is newer than a cutoff in the past.
	n, err := db.ExpirePendingRequests(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ExpirePendingRequests returned error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no expirations, got %d", n)
	}

	n, err = db.ExpirePendingRequests(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ExpirePendingRequests returned error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expirations, got %d", n)
	}

	saved, _ := db.GetRequest("req-old")
	if saved.Status != StatusExpired {
		t.Fatalf("expected expired, got %q", saved.Status)
	}
}

func TestPruneTerminalRequests_LeavesActiveRows(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-active", user.ID)
	seedRequest(t, db, "req-done", user.ID)

	if _, err := db.ReviewRequest("req-done", StatusRejected, 2, ""); err != nil {
		t.Fatalf("ReviewRequest returned error: %v", err)
	}

	n, err := db.PruneTerminalRequests(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneTerminalRequests returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned request, got %d", n)
	}

	if saved, _ := db.GetRequest("req-active"); saved == nil {
		t.Fatal("expected the pending request to survive pruning")
	}
	if saved, _ := db.GetRequest("req-done"); saved != nil {
		t.Fatal("expected the rejected request to be pruned")
	}
}

func TestAppendRequestEvent_AuditTrailIsOrdered(t *testing.T) {
	db := openTestDB(t)
	user := seedRequester(t, db)
	seedRequest(t, db, "req-1", user.ID)

	actor := user.ID
	if err := db.AppendRequestEvent("req-1", "submitted", &actor, "1 operation detected"); err != nil {
		t.Fatalf("AppendRequestEvent returned error: %v", err)
	}
	if err := db.AppendRequestEvent("req-1", "approved", nil, ""); err != nil {
		t.Fatalf("AppendRequestEvent returned error: %v", err)
	}

	events, err := db.ListRequestEvents("req-1")
	if err != nil {
		t.Fatalf("ListRequestEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != "submitted" || events[1].Event != "approved" {
		t.Fatalf("expected oldest-first ordering, got %q then %q", events[0].Event, events[1].Event)
	}
	if events[0].ActorID == nil || *events[0].ActorID != user.ID {
		t.Fatalf("expected actor %d, got %v", user.ID, events[0].ActorID)
	}
	if events[1].ActorID != nil {
		t.Fatalf("expected nil actor for system event, got %v", events[1].ActorID)
	}
}
