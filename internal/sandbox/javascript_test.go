package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/queryportal/queryportal/internal/driver"
	"github.com/queryportal/queryportal/internal/errdefs"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := NewRuntime("python3")
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

type fakeHandle struct {
	queries []string
	result  *driver.Result
	err     error
}

func (f *fakeHandle) Query(ctx context.Context, content string) (*driver.Result, error) {
	f.queries = append(f.queries, content)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestExecute_JavaScriptReturnsExportedValue(t *testing.T) {
	r := newTestRuntime(t)

	res, err := r.Execute(context.Background(), &Request{
		Content:  "const a = 2; const b = 3; a * b",
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.State != StateCompleted {
		t.Fatalf("expected completed state, got %s", res.State)
	}
	if n, ok := res.Result.(int64); !ok || n != 6 {
		t.Fatalf("expected result 6, got %v (%T)", res.Result, res.Result)
	}
}

func TestExecute_JavaScriptCapturesConsoleOutput(t *testing.T) {
	r := newTestRuntime(t)

	var streamed []OutputEntry
	res, err := r.Execute(context.Background(), &Request{
		Content:  `console.log("first", 1); console.warn("second");`,
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
		Sink:     func(e OutputEntry) { streamed = append(streamed, e) },
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(res.Output) != 2 {
		t.Fatalf("expected 2 output entries, got %d", len(res.Output))
	}
	if res.Output[0].Type != "info" || res.Output[0].Message != "first 1" {
		t.Fatalf("unexpected first entry: %+v", res.Output[0])
	}
	if res.Output[1].Type != "warn" || res.Output[1].Message != "second" {
		t.Fatalf("unexpected second entry: %+v", res.Output[1])
	}
	if len(streamed) != len(res.Output) {
		t.Fatalf("expected sink to see every entry, got %d of %d", len(streamed), len(res.Output))
	}
}

func TestExecute_JavaScriptBlockedConstructNeverRuns(t *testing.T) {
	r := newTestRuntime(t)

	res, err := r.Execute(context.Background(), &Request{
		Content:  `require("fs").readFileSync("/etc/passwd")`,
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected validation error for blocked construct")
	}
	if res.State != StateFailed {
		t.Fatalf("expected failed state, got %s", res.State)
	}
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecute_JavaScriptBusyLoopHitsDeadline(t *testing.T) {
	r := newTestRuntime(t)

	start := time.Now()
	res, err := r.Execute(context.Background(), &Request{
		Content:  "while (true) {}",
		Language: LanguageJavaScript,
		Timeout:  300 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errdefs.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if res.State != StateTimedOut {
		t.Fatalf("expected timed_out state, got %s", res.State)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("interrupt took too long: %s", elapsed)
	}
}

func TestExecute_JavaScriptThrownErrorIsProcessError(t *testing.T) {
	r := newTestRuntime(t)

	res, err := r.Execute(context.Background(), &Request{
		Content:  `throw new Error("boom")`,
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected error from thrown exception")
	}
	if res.State != StateFailed {
		t.Fatalf("expected failed state, got %s", res.State)
	}
}

func TestExecute_JavaScriptQueriesGoThroughHandle(t *testing.T) {
	r := newTestRuntime(t)

	handle := &fakeHandle{result: &driver.Result{
		Rows:         []map[string]any{{"n": int64(1)}},
		Columns:      []string{"n"},
		RowsAffected: 1,
	}}

	res, err := r.Execute(context.Background(), &Request{
		Content:  `const out = db.query("SELECT 1 AS n"); out.rows.length`,
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
		Handle:   handle,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if len(handle.queries) != 1 || handle.queries[0] != "SELECT 1 AS n" {
		t.Fatalf("expected one query through the handle, got %v", handle.queries)
	}
	if n, ok := res.Result.(int64); !ok || n != 1 {
		t.Fatalf("expected result 1, got %v (%T)", res.Result, res.Result)
	}
}

func TestExecute_JavaScriptWithoutHandleHasNoDatabase(t *testing.T) {
	r := newTestRuntime(t)

	_, err := r.Execute(context.Background(), &Request{
		Content:  `db.query("SELECT 1")`,
		Language: LanguageJavaScript,
		Timeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected error when no database handle is injected")
	}
}
