package sandbox

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/pool"
)

//go:embed worker/worker.py
var workerSource []byte

// writeWorker materializes the embedded worker so the interpreter can be
// spawned with a fixed, non-configurable entrypoint.
func writeWorker() (string, error) {
	f, err := os.CreateTemp("", "queryportal-worker-*.py")
	if err != nil {
		return "", fmt.Errorf("failed to create worker file: %w", err)
	}
	if _, err := f.Write(workerSource); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write worker file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close worker file: %w", err)
	}
	return f.Name(), nil
}

func removeWorker(path string) error {
	if path == "" {
		return nil
	}
	return os.Remove(path)
}

// workerConfig is the JSON handed to the worker on stdin.
type workerConfig struct {
	ScriptContent string         `json:"scriptContent"`
	DatabaseType  string         `json:"databaseType"`
	Instance      workerInstance `json:"instance"`
	DatabaseName  string         `json:"databaseName"`
	TimeoutMS     int64          `json:"timeout"`
}

type workerInstance struct {
	ID       string `json:"id"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	URI      string `json:"uri,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// workerResult is the JSON-over-stdout protocol. Any deviation from this
// shape is a process error, never silently swallowed.
type workerResult struct {
	Success bool                `json:"success"`
	Result  any                 `json:"result"`
	Output  []workerOutputEntry `json:"output"`
	Error   *workerError        `json:"error"`
}

type workerOutputEntry struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type workerError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// runPython executes a script in a child interpreter process. The process is
// killed on the wall-clock deadline and never reused.
func (r *Runtime) runPython(ctx context.Context, req *Request, buf *outputBuffer) (any, error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	cfg, err := buildWorkerConfig(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, errdefs.Process(err, "failed to encode worker config")
	}

	cmd := exec.CommandContext(runCtx, r.pythonBin, r.workerPath)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grace period between the deadline kill signal and a hard kill.
	cmd.WaitDelay = 5 * time.Second

	runErr := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		log.Warn().Dur("timeout", req.Timeout).Msg("Killed python worker on deadline")
		return nil, errdefs.Timeout("script exceeded the %s deadline", req.Timeout)
	}

	result, parseErr := parseWorkerResult(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, errdefs.Process(runErr, "worker exited abnormally: %s", firstLine(stderr.String()))
		}
		return nil, parseErr
	}

	for _, entry := range result.Output {
		buf.addEntry(OutputEntry{
			Type:      entry.Type,
			Message:   entry.Message,
			Timestamp: parseWorkerTime(entry.Timestamp),
		})
	}

	if !result.Success {
		if result.Error != nil {
			return nil, errdefs.Process(nil, "%s: %s", result.Error.Type, result.Error.Message)
		}
		return nil, errdefs.Process(nil, "script failed without error detail")
	}
	return result.Result, nil
}

// buildWorkerConfig resolves instance credentials into the worker payload.
// The process boundary means the worker opens its own connection; it gets
// exactly the credentials for the requested instance and nothing else.
func buildWorkerConfig(req *Request) (*workerConfig, error) {
	if req.Instance == nil {
		return nil, errdefs.Configuration("script execution requires a resolved instance")
	}

	creds := pool.ResolveCredentials(req.Instance)
	cfg := &workerConfig{
		ScriptContent: req.Content,
		DatabaseName:  req.Database,
		TimeoutMS:     req.Timeout.Milliseconds(),
		Instance: workerInstance{
			ID:   req.Instance.ID,
			Host: req.Instance.Host,
			Port: req.Instance.Port,
		},
	}

	switch req.Instance.Backend {
	case config.BackendPostgres:
		cfg.DatabaseType = "postgresql"
		cfg.Instance.User = creds.User
		cfg.Instance.Password = creds.Password
	case config.BackendMongo:
		cfg.DatabaseType = "mongodb"
		uri, err := pool.MongoURI(req.Instance)
		if err != nil {
			return nil, err
		}
		cfg.Instance.URI = uri
	default:
		return nil, errdefs.Configuration("unsupported backend for scripts: %s", req.Instance.Backend)
	}
	return cfg, nil
}

// parseWorkerResult decodes the final protocol line from worker stdout.
func parseWorkerResult(stdout []byte) (*workerResult, error) {
	lines := strings.Split(strings.TrimSpace(string(stdout)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil, errdefs.Process(nil, "worker produced no output")
	}

	var result workerResult
	if err := json.Unmarshal([]byte(last), &result); err != nil {
		return nil, errdefs.Process(err, "unparsable worker output: %.120s", last)
	}
	return &result, nil
}

func parseWorkerTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now().UTC()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
