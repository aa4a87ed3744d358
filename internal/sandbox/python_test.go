package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
)

// newStubRuntime builds a runtime whose "interpreter" is a shell script, so
// the spawn path runs without a real python installation. The stub drains
// stdin first because the worker config is always written there.
func newStubRuntime(t *testing.T, body string) *Runtime {
	t.Helper()
	stub := filepath.Join(t.TempDir(), "python-stub")
	script := "#!/bin/sh\ncat >/dev/null\n" + body + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write stub interpreter: %v", err)
	}

	rt, err := NewRuntime(stub)
	if err != nil {
		t.Fatalf("failed to create runtime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func postgresInstance() *config.Instance {
	return &config.Instance{
		ID:       "pg-main",
		Backend:  config.BackendPostgres,
		Host:     "localhost",
		Port:     5432,
		User:     "svc",
		Password: "secret",
	}
}

func TestParseWorkerResult_UsesFinalLine(t *testing.T) {
	stdout := []byte("connecting\nstill working\n" +
		`{"success":true,"result":7,"output":[{"type":"info","message":"done","timestamp":"2026-01-01T00:00:00Z"}]}` + "\n")

	result, err := parseWorkerResult(stdout)
	if err != nil {
		t.Fatalf("parseWorkerResult returned error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Result != float64(7) {
		t.Fatalf("expected result 7, got %v", result.Result)
	}
	if len(result.Output) != 1 || result.Output[0].Message != "done" {
		t.Fatalf("unexpected output: %+v", result.Output)
	}
}

func TestParseWorkerResult_EmptyOutputIsProcessError(t *testing.T) {
	_, err := parseWorkerResult(nil)
	if errdefs.KindOf(err) != errdefs.KindProcess {
		t.Fatalf("expected process error, got %v", err)
	}
}

func TestParseWorkerResult_UnparsableOutputIsProcessError(t *testing.T) {
	_, err := parseWorkerResult([]byte("Traceback (most recent call last):\n  something broke"))
	if errdefs.KindOf(err) != errdefs.KindProcess {
		t.Fatalf("expected process error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unparsable") {
		t.Fatalf("expected unparsable output message, got %v", err)
	}
}

func TestBuildWorkerConfig_RequiresInstance(t *testing.T) {
	_, err := buildWorkerConfig(&Request{Content: "print(1)", Timeout: time.Second})
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBuildWorkerConfig_Postgres(t *testing.T) {
	cfg, err := buildWorkerConfig(&Request{
		Content:  "print(1)",
		Instance: postgresInstance(),
		Database: "app",
		Timeout:  45 * time.Second,
	})
	if err != nil {
		t.Fatalf("buildWorkerConfig returned error: %v", err)
	}
	if cfg.DatabaseType != "postgresql" {
		t.Fatalf("expected postgresql, got %q", cfg.DatabaseType)
	}
	if cfg.Instance.User != "svc" || cfg.Instance.Password != "secret" {
		t.Fatalf("unexpected credentials: %+v", cfg.Instance)
	}
	if cfg.DatabaseName != "app" {
		t.Fatalf("expected database app, got %q", cfg.DatabaseName)
	}
	if cfg.TimeoutMS != 45000 {
		t.Fatalf("expected timeout 45000ms, got %d", cfg.TimeoutMS)
	}
}

func TestBuildWorkerConfig_MongoGetsURI(t *testing.T) {
	cfg, err := buildWorkerConfig(&Request{
		Content: "print(1)",
		Instance: &config.Instance{
			ID:      "mongo-main",
			Backend: config.BackendMongo,
			URI:     "mongodb://localhost:27017",
		},
		Database: "events",
		Timeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("buildWorkerConfig returned error: %v", err)
	}
	if cfg.DatabaseType != "mongodb" {
		t.Fatalf("expected mongodb, got %q", cfg.DatabaseType)
	}
	if cfg.Instance.URI != "mongodb://localhost:27017" {
		t.Fatalf("unexpected uri %q", cfg.Instance.URI)
	}
}

func TestBuildWorkerConfig_RejectsUnknownBackend(t *testing.T) {
	_, err := buildWorkerConfig(&Request{
		Content:  "print(1)",
		Instance: &config.Instance{ID: "x", Backend: "oracle"},
		Timeout:  time.Second,
	})
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("boom happened\nmore detail"); got != "boom happened" {
		t.Fatalf("expected first line, got %q", got)
	}
	if got := firstLine(strings.Repeat("x", 500)); len(got) != 200 {
		t.Fatalf("expected truncation to 200 chars, got %d", len(got))
	}
}

func TestExecute_PythonStubSuccess(t *testing.T) {
	rt := newStubRuntime(t, "echo 'worker chatter'\n"+
		`echo '{"success":true,"result":7,"output":[{"type":"info","message":"from worker","timestamp":"2026-01-01T00:00:00Z"}]}'`)

	result, err := rt.Execute(context.Background(), &Request{
		Content:  "print('hello')",
		Language: LanguagePython,
		Instance: postgresInstance(),
		Database: "app",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("expected completed, got %q", result.State)
	}
	if result.Result != float64(7) {
		t.Fatalf("expected result 7, got %v", result.Result)
	}
	if len(result.Output) != 1 || result.Output[0].Message != "from worker" {
		t.Fatalf("unexpected output: %+v", result.Output)
	}
}

func TestExecute_PythonStubFailureKeepsOutput(t *testing.T) {
	rt := newStubRuntime(t,
		`echo '{"success":false,"output":[{"type":"info","message":"before the crash","timestamp":"2026-01-01T00:00:00Z"}],"error":{"type":"RuntimeError","message":"nope"}}'`)

	result, err := rt.Execute(context.Background(), &Request{
		Content:  "print('hello')",
		Language: LanguagePython,
		Instance: postgresInstance(),
		Database: "app",
		Timeout:  5 * time.Second,
	})
	if errdefs.KindOf(err) != errdefs.KindProcess {
		t.Fatalf("expected process error, got %v", err)
	}
	if !strings.Contains(err.Error(), "RuntimeError: nope") {
		t.Fatalf("expected worker error detail, got %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("expected failed, got %q", result.State)
	}
	if len(result.Output) != 1 || result.Output[0].Message != "before the crash" {
		t.Fatalf("expected captured output to survive, got %+v", result.Output)
	}
}

func TestExecute_PythonStubAbnormalExit(t *testing.T) {
	rt := newStubRuntime(t, "echo 'boom happened' >&2\nexit 3")

	result, err := rt.Execute(context.Background(), &Request{
		Content:  "print('hello')",
		Language: LanguagePython,
		Instance: postgresInstance(),
		Database: "app",
		Timeout:  5 * time.Second,
	})
	if errdefs.KindOf(err) != errdefs.KindProcess {
		t.Fatalf("expected process error, got %v", err)
	}
	if !strings.Contains(err.Error(), "boom happened") {
		t.Fatalf("expected stderr detail, got %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("expected failed, got %q", result.State)
	}
}

func TestExecute_PythonKilledOnDeadline(t *testing.T) {
	rt := newStubRuntime(t, "exec sleep 30")

	start := time.Now()
	result, err := rt.Execute(context.Background(), &Request{
		Content:  "print('hello')",
		Language: LanguagePython,
		Instance: postgresInstance(),
		Database: "app",
		Timeout:  200 * time.Millisecond,
	})
	if !errdefs.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if result.State != StateTimedOut {
		t.Fatalf("expected timed_out, got %q", result.State)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("deadline kill took too long: %v", elapsed)
	}
}
