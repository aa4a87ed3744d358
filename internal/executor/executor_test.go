package executor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/pool"
	"github.com/queryportal/queryportal/internal/sandbox"
)

const testCatalog = `
instances:
  - id: pg-main
    name: Main Postgres
    backend: postgres
    host: localhost
    databases:
      - app
  - id: mongo-main
    name: Main Mongo
    backend: mongodb
    uri: mongodb://localhost:27017
    databases:
      - events
`

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	path := filepath.Join(t.TempDir(), "instances.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}
	store, err := config.NewStore(path)
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	runtime, err := sandbox.NewRuntime("python3")
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close() })

	return New(store, pool.NewManager(), runtime, nil)
}

func TestExecute_UnknownInstanceFails(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.Execute(context.Background(), &Request{
		ID:         "r1",
		Kind:       KindQuery,
		Backend:    config.BackendPostgres,
		InstanceID: "nope",
		Database:   "app",
		Content:    "SELECT 1",
	})
	if err == nil {
		t.Fatal("expected error for unknown instance")
	}
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if res == nil || res.Success {
		t.Fatalf("expected failed result, got %+v", res)
	}
}

func TestExecute_BackendMismatchFails(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Execute(context.Background(), &Request{
		ID:         "r1",
		Kind:       KindQuery,
		Backend:    config.BackendMongo,
		InstanceID: "pg-main",
		Database:   "app",
		Content:    "db.users.find({})",
	})
	if err == nil {
		t.Fatal("expected error for backend mismatch")
	}
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExecute_UnknownKindFails(t *testing.T) {
	o := newTestOrchestrator(t)

	_, err := o.Execute(context.Background(), &Request{
		ID:         "r1",
		Kind:       Kind("batch"),
		Backend:    config.BackendPostgres,
		InstanceID: "pg-main",
		Database:   "app",
		Content:    "SELECT 1",
	})
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecute_ScriptRunsInSandbox(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.Execute(context.Background(), &Request{
		ID:             "r1",
		Kind:           KindScript,
		Backend:        config.BackendPostgres,
		InstanceID:     "pg-main",
		Database:       "app",
		Content:        "const total = 40 + 2; console.log(total); total",
		ScriptLanguage: sandbox.LanguageJavaScript,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !res.Success || res.Script == nil {
		t.Fatalf("expected successful script result, got %+v", res)
	}
	if res.Script.State != sandbox.StateCompleted {
		t.Fatalf("expected completed state, got %s", res.Script.State)
	}
	if n, ok := res.Script.Result.(int64); !ok || n != 42 {
		t.Fatalf("expected result 42, got %v (%T)", res.Script.Result, res.Script.Result)
	}
}

func TestExecute_ScriptFailureKeepsCapturedOutput(t *testing.T) {
	o := newTestOrchestrator(t)

	res, err := o.Execute(context.Background(), &Request{
		ID:             "r1",
		Kind:           KindScript,
		Backend:        config.BackendPostgres,
		InstanceID:     "pg-main",
		Database:       "app",
		Content:        `console.log("before the crash"); throw new Error("boom")`,
		ScriptLanguage: sandbox.LanguageJavaScript,
	})
	if err == nil {
		t.Fatal("expected error from thrown exception")
	}
	if res == nil || res.Script == nil {
		t.Fatal("expected the partial script result to survive the failure")
	}
	if len(res.Script.Output) == 0 || res.Script.Output[0].Message != "before the crash" {
		t.Fatalf("expected output captured before the crash, got %+v", res.Script.Output)
	}
}

type capturePublisher struct {
	mu      sync.Mutex
	entries map[string][]sandbox.OutputEntry
}

func (p *capturePublisher) Publish(requestID string, entry sandbox.OutputEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.entries == nil {
		p.entries = make(map[string][]sandbox.OutputEntry)
	}
	p.entries[requestID] = append(p.entries[requestID], entry)
}

func TestExecute_ScriptOutputIsPublishedByRequestID(t *testing.T) {
	o := newTestOrchestrator(t)
	pub := &capturePublisher{}
	o.SetOutputPublisher(pub)

	_, err := o.Execute(context.Background(), &Request{
		ID:             "req-42",
		Kind:           KindScript,
		Backend:        config.BackendPostgres,
		InstanceID:     "pg-main",
		Database:       "app",
		Content:        `console.log("line one"); console.log("line two")`,
		ScriptLanguage: sandbox.LanguageJavaScript,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	got := pub.entries["req-42"]
	if len(got) != 2 {
		t.Fatalf("expected 2 published entries for req-42, got %d", len(got))
	}
	if got[0].Message != "line one" || got[1].Message != "line two" {
		t.Fatalf("unexpected published entries: %+v", got)
	}
}
