package risk

import (
	"strings"
	"testing"

	"github.com/queryportal/queryportal/internal/config"
)

func TestAnalyze_RejectsEmptyContent(t *testing.T) {
	if _, err := Analyze("   \n\t", config.BackendPostgres); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestAnalyze_RejectsUnknownBackend(t *testing.T) {
	if _, err := Analyze("SELECT 1", config.Backend("oracle")); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestAnalyze_ClassifiesSelectAsSafe(t *testing.T) {
	a, err := Analyze("SELECT id, name FROM users WHERE id = 1", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != Safe {
		t.Fatalf("expected overall SAFE, got %s", a.Overall)
	}
	if len(a.Operations) != 1 || a.Operations[0].Category != CategoryRead {
		t.Fatalf("expected one read operation, got %+v", a.Operations)
	}
}

func TestAnalyze_DropTableIsCritical(t *testing.T) {
	a, err := Analyze("DROP TABLE orders", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != Critical {
		t.Fatalf("expected overall CRITICAL, got %s", a.Overall)
	}
	if a.Operations[0].Name != "DROP TABLE" {
		t.Fatalf("expected DROP TABLE, got %s", a.Operations[0].Name)
	}
	if len(a.Recommendations) == 0 || !strings.Contains(a.Recommendations[0], "backup") {
		t.Fatalf("expected backup recommendation, got %v", a.Recommendations)
	}
}

func TestAnalyze_DeleteRiskDependsOnWhereClause(t *testing.T) {
	constrained, err := Analyze("DELETE FROM logs WHERE created_at < '2024-01-01'", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if constrained.Overall != High {
		t.Fatalf("expected DELETE with WHERE to be HIGH, got %s", constrained.Overall)
	}

	unconstrained, err := Analyze("DELETE FROM logs", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if unconstrained.Overall != Critical {
		t.Fatalf("expected DELETE without WHERE to be CRITICAL, got %s", unconstrained.Overall)
	}
}

func TestAnalyze_UpdateWithoutWhereIsCritical(t *testing.T) {
	a, err := Analyze("UPDATE users SET active = false", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != Critical {
		t.Fatalf("expected CRITICAL, got %s", a.Overall)
	}
}

func TestAnalyze_MultiStatementTakesHighestRisk(t *testing.T) {
	content := "SELECT * FROM users WHERE id = 1; DELETE FROM users WHERE id = 1;"
	a, err := Analyze(content, config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(a.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(a.Operations))
	}
	if a.Overall != High {
		t.Fatalf("expected overall HIGH from the DELETE, got %s", a.Overall)
	}

	var multi bool
	for _, w := range a.Warnings {
		if strings.Contains(w.Message, "2 statements") {
			multi = true
		}
	}
	if !multi {
		t.Fatalf("expected multi-statement warning, got %v", a.Warnings)
	}
}

func TestAnalyze_SemicolonInsideStringLiteralIsNotASplit(t *testing.T) {
	a, err := Analyze("SELECT * FROM users WHERE note = 'a;b' LIMIT 10", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(a.Operations) != 1 {
		t.Fatalf("expected 1 operation, got %d", len(a.Operations))
	}
}

func TestAnalyze_BroadSelectWithoutLimitWarns(t *testing.T) {
	a, err := Analyze("SELECT * FROM events", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	var warned bool
	for _, w := range a.Warnings {
		if strings.Contains(w.Message, "LIMIT") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected no-LIMIT warning, got %v", a.Warnings)
	}
}

func TestAnalyze_CascadeWarns(t *testing.T) {
	a, err := Analyze("DROP TABLE orders CASCADE", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	var warned bool
	for _, w := range a.Warnings {
		if w.Severity == High && strings.Contains(w.Message, "CASCADE") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected CASCADE warning, got %v", a.Warnings)
	}
}

func TestAnalyze_UnrecognizedStatementIsUnclassifiedMedium(t *testing.T) {
	a, err := Analyze("VACUUM FULL users", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Operations[0].Name != UnclassifiedName {
		t.Fatalf("expected %s, got %s", UnclassifiedName, a.Operations[0].Name)
	}
	if a.Overall != Medium {
		t.Fatalf("expected unclassified content to land at MEDIUM, got %s", a.Overall)
	}
}

func TestAnalyze_MongoDeleteManyEmptyFilterIsCritical(t *testing.T) {
	a, err := Analyze("db.users.deleteMany({})", config.BackendMongo)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != Critical {
		t.Fatalf("expected CRITICAL, got %s", a.Overall)
	}

	var warned bool
	for _, w := range a.Warnings {
		if w.Severity == Critical && strings.Contains(w.Message, "empty filter") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected empty-filter warning, got %v", a.Warnings)
	}
}

func TestAnalyze_MongoDeleteManyWithFilterIsHigh(t *testing.T) {
	a, err := Analyze(`db.users.deleteMany({ status: "inactive" })`, config.BackendMongo)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != High {
		t.Fatalf("expected HIGH, got %s", a.Overall)
	}
}

func TestAnalyze_MongoFindIsSafe(t *testing.T) {
	a, err := Analyze(`db.users.find({ active: true }).limit(10)`, config.BackendMongo)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if a.Overall != Safe {
		t.Fatalf("expected SAFE, got %s", a.Overall)
	}
}

func TestAnalyze_MongoWherePredicateWarns(t *testing.T) {
	a, err := Analyze(`db.users.find({ $where: "this.a > this.b" })`, config.BackendMongo)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	var warned bool
	for _, w := range a.Warnings {
		if strings.Contains(w.Message, "$where") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected $where warning, got %v", a.Warnings)
	}
}

func TestAnalyze_MongoConsecutiveCallsSplitIntoStatements(t *testing.T) {
	content := "db.users.find({})\ndb.users.deleteOne({ _id: 1 })"
	a, err := Analyze(content, config.BackendMongo)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if len(a.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d: %+v", len(a.Operations), a.Operations)
	}
	if a.Overall != High {
		t.Fatalf("expected overall HIGH from the deleteOne, got %s", a.Overall)
	}
}

func TestAnalyze_IsDeterministic(t *testing.T) {
	content := "UPDATE users SET name = 'x' WHERE id = 3; CREATE INDEX idx ON users(name);"
	first, err := Analyze(content, config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	second, err := Analyze(content, config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if Summary(first) != Summary(second) || first.Overall != second.Overall {
		t.Fatal("expected identical assessments for identical input")
	}
}

func TestSummary_HandlesEmptyAssessment(t *testing.T) {
	if got := Summary(nil); got != "No operations detected." {
		t.Fatalf("unexpected summary for nil assessment: %q", got)
	}

	a, err := Analyze("DROP TABLE t; SELECT 1", config.BackendPostgres)
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	got := Summary(a)
	if !strings.Contains(got, "2 operations") || !strings.Contains(got, "CRITICAL") {
		t.Fatalf("unexpected summary: %q", got)
	}
}
