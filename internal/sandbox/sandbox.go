// Package sandbox executes requester-supplied scripts in isolated,
// time-bounded, capability-stripped environments.
//
// JavaScript runs in a fresh in-process VM whose global object is built from
// nothing: the host adds console, JSON, Math and a narrow database handle,
// and nothing else exists to escape through. Python runs as a child OS
// process with a fixed embedded worker entrypoint speaking JSON over
// stdin/stdout. Either way each execution owns its VM or process
// exclusively; nothing is pooled or reused between runs.
package sandbox

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/driver"
	"github.com/queryportal/queryportal/internal/errdefs"
)

// Language identifies a supported scripting language.
type Language string

const (
	LanguagePython     Language = "python"
	LanguageJavaScript Language = "javascript"
)

// State tracks one execution through its lifecycle. Terminal states are
// mutually exclusive; each cleans up the VM or process exactly once.
type State string

const (
	StateCreated          State = "created"
	StateLanguageDetected State = "language_detected"
	StateValidated        State = "validated"
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateTimedOut         State = "timed_out"
)

// OutputEntry is one captured line of structured script output.
type OutputEntry struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OutputSink receives output entries as they are produced, for live
// streaming. May be nil.
type OutputSink func(OutputEntry)

// QueryHandle is the single external capability injected into a JavaScript
// sandbox: a narrow query/execute path bound to the same backend drivers as
// direct queries, so scripts only touch the database through the validated,
// pooled, row-capped path.
type QueryHandle interface {
	Query(ctx context.Context, content string) (*driver.Result, error)
}

// Request describes one script execution.
type Request struct {
	Content  string
	Language Language // explicit declaration wins over detection
	FileName string   // optional extension hint
	Instance *config.Instance
	Database string
	Timeout  time.Duration
	Handle   QueryHandle // database capability for JavaScript runs
	Sink     OutputSink
}

// RunResult is the normalized outcome of a script execution.
type RunResult struct {
	State    State         `json:"state"`
	Language Language      `json:"language"`
	Result   any           `json:"result,omitempty"`
	Output   []OutputEntry `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Runtime executes scripts. One runtime serves all executions; per-run state
// lives entirely in the run.
type Runtime struct {
	pythonBin  string
	workerPath string
}

// NewRuntime prepares a runtime, materializing the embedded Python worker.
func NewRuntime(pythonBin string) (*Runtime, error) {
	if pythonBin == "" {
		pythonBin = "python3"
	}
	workerPath, err := writeWorker()
	if err != nil {
		return nil, err
	}
	return &Runtime{pythonBin: pythonBin, workerPath: workerPath}, nil
}

// Execute runs one script through detection, validation and isolated
// execution. Validation failures never reach the running state. The
// returned result is non-nil even on failure so the caller gets the output
// captured before the error.
func (r *Runtime) Execute(ctx context.Context, req *Request) (*RunResult, error) {
	if req.Timeout <= 0 {
		req.Timeout = 30 * time.Second
	}

	result := &RunResult{State: StateCreated}
	buf := newOutputBuffer(req.Sink)

	lang, err := DetectLanguage(req.Content, req.Language, req.FileName)
	if err != nil {
		result.State = StateFailed
		return result, err
	}
	result.Language = lang
	result.State = StateLanguageDetected

	warnings, err := ValidateScript(lang, req.Content)
	if err != nil {
		result.State = StateFailed
		result.Output = buf.entries()
		return result, err
	}
	for _, w := range warnings {
		buf.add("warn", w)
	}
	result.State = StateValidated

	log.Debug().
		Str("language", string(lang)).
		Dur("timeout", req.Timeout).
		Int("warnings", len(warnings)).
		Msg("Script validated, starting sandbox")

	result.State = StateRunning
	start := time.Now()

	var value any
	switch lang {
	case LanguageJavaScript:
		value, err = r.runJavaScript(ctx, req, buf)
	case LanguagePython:
		value, err = r.runPython(ctx, req, buf)
	default:
		err = errdefs.Validation("unsupported language: %s", lang)
	}

	result.Duration = time.Since(start)
	result.Output = buf.entries()

	if err != nil {
		if errdefs.IsTimeout(err) {
			result.State = StateTimedOut
		} else {
			result.State = StateFailed
		}
		return result, err
	}

	result.State = StateCompleted
	result.Result = value
	return result, nil
}

// Close removes the materialized worker file.
func (r *Runtime) Close() error {
	return removeWorker(r.workerPath)
}

// outputBuffer collects structured output and forwards it to the sink.
type outputBuffer struct {
	sink  OutputSink
	items []OutputEntry
}

func newOutputBuffer(sink OutputSink) *outputBuffer {
	return &outputBuffer{sink: sink}
}

func (b *outputBuffer) add(entryType, message string) {
	entry := OutputEntry{Type: entryType, Message: message, Timestamp: time.Now().UTC()}
	b.items = append(b.items, entry)
	if b.sink != nil {
		b.sink(entry)
	}
}

func (b *outputBuffer) addEntry(entry OutputEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	b.items = append(b.items, entry)
	if b.sink != nil {
		b.sink(entry)
	}
}

func (b *outputBuffer) entries() []OutputEntry {
	return b.items
}

// DetectLanguage resolves the script language: explicit declaration first,
// then the file extension hint, then a content heuristic.
func DetectLanguage(content string, declared Language, fileName string) (Language, error) {
	switch declared {
	case LanguagePython, LanguageJavaScript:
		return declared, nil
	case "":
	default:
		return "", errdefs.Validation("unsupported script language: %s", declared)
	}

	switch {
	case strings.HasSuffix(fileName, ".py"):
		return LanguagePython, nil
	case strings.HasSuffix(fileName, ".js") || strings.HasSuffix(fileName, ".mjs"):
		return LanguageJavaScript, nil
	}

	if pythonHintRe.MatchString(content) {
		return LanguagePython, nil
	}
	return LanguageJavaScript, nil
}
