package driver

import (
	"strings"
	"testing"

	"github.com/queryportal/queryportal/internal/config"
)

func TestValidate_RejectsEmptyContent(t *testing.T) {
	d := NewPostgresDriver(nil)
	if _, err := d.Validate("   "); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestValidate_RejectsOversizedContent(t *testing.T) {
	d := NewPostgresDriver(nil)
	content := strings.Repeat("x", MaxContentLength+1)
	if _, err := d.Validate(content); err == nil {
		t.Fatal("expected error for oversized content")
	}
}

func TestValidate_DangerousStatementsWarnButStayValid(t *testing.T) {
	d := NewPostgresDriver(nil)
	res, err := d.Validate("DELETE FROM users WHERE id = 1")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !res.Valid {
		t.Fatal("expected dangerous content to remain valid; blocking is the approver's call")
	}
	if len(res.Warnings) == 0 {
		t.Fatal("expected a warning for the DELETE")
	}
}

func TestValidate_PlainSelectHasNoWarnings(t *testing.T) {
	d := NewPostgresDriver(nil)
	res, err := d.Validate("SELECT 1")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !res.Valid || len(res.Warnings) != 0 {
		t.Fatalf("expected clean result, got %+v", res)
	}
}

func TestValidate_MongoWherePredicateWarns(t *testing.T) {
	d := NewMongoDriver(nil)
	res, err := d.Validate(`db.users.find({ $where: "true" })`)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	var warned bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "JavaScript predicate") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected $where warning, got %v", res.Warnings)
	}
}

func TestCheckTarget_RejectsBackendMismatch(t *testing.T) {
	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres, Databases: []string{"app"}}
	err := checkTarget(&Request{Instance: inst, Database: "app"}, config.BackendMongo)
	if err == nil {
		t.Fatal("expected error for backend mismatch")
	}
}

func TestCheckTarget_RejectsUnknownDatabase(t *testing.T) {
	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres, Databases: []string{"app"}}
	err := checkTarget(&Request{Instance: inst, Database: "secrets"}, config.BackendPostgres)
	if err == nil {
		t.Fatal("expected error for database not exposed by the instance")
	}
}

func TestCheckTarget_AcceptsExposedDatabase(t *testing.T) {
	inst := &config.Instance{ID: "pg1", Backend: config.BackendPostgres, Databases: []string{"app", "analytics"}}
	if err := checkTarget(&Request{Instance: inst, Database: "analytics"}, config.BackendPostgres); err != nil {
		t.Fatalf("expected database to be accepted, got %v", err)
	}
}
