package sandbox

import (
	"regexp"

	"github.com/queryportal/queryportal/internal/errdefs"
)

// pythonHintRe signals Python during content-based language detection.
var pythonHintRe = regexp.MustCompile(`(?m)^\s*(import\s+\w|from\s+\w+(\.\w+)*\s+import\b|def\s+\w+\s*\(|class\s+\w+\s*[(:])`)

// blockedConstruct names a capability-escape primitive. Matching one fails
// validation outright; the script never reaches the running state.
type blockedConstruct struct {
	re   *regexp.Regexp
	name string
}

// Imports and calls that break isolation: process, filesystem, subprocess
// and network primitives, plus dynamic code loading.
var pythonBlocked = []blockedConstruct{
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+os\b`), "os module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+sys\b`), "sys module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+subprocess\b`), "subprocess module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+socket\b`), "socket module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+shutil\b`), "shutil module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+ctypes\b`), "ctypes module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+importlib\b`), "importlib module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+multiprocessing\b`), "multiprocessing module"},
	{regexp.MustCompile(`(?m)^\s*(import|from)\s+(urllib|http|requests)\b`), "network module"},
	{regexp.MustCompile(`__import__\s*\(`), "__import__ call"},
	{regexp.MustCompile(`\bopen\s*\(`), "open call"},
	{regexp.MustCompile(`\beval\s*\(`), "eval call"},
	{regexp.MustCompile(`\bexec\s*\(`), "exec call"},
	{regexp.MustCompile(`\bcompile\s*\(`), "compile call"},
	{regexp.MustCompile(`\b(globals|locals|vars)\s*\(`), "introspection call"},
	{regexp.MustCompile(`\bbreakpoint\s*\(`), "breakpoint call"},
	{regexp.MustCompile(`\binput\s*\(`), "input call"},
}

var javascriptBlocked = []blockedConstruct{
	{regexp.MustCompile(`\brequire\s*\(`), "require call"},
	{regexp.MustCompile(`\bprocess\s*[.\[]`), "process object"},
	{regexp.MustCompile(`\bchild_process\b`), "child_process module"},
	{regexp.MustCompile(`\b(fs|net|http|https|dgram|cluster|worker_threads)\s*\.\s*\w`), "node builtin module"},
	{regexp.MustCompile(`\beval\s*\(`), "eval call"},
	{regexp.MustCompile(`\bnew\s+Function\b|\bFunction\s*\(`), "Function constructor"},
	{regexp.MustCompile(`\bimport\s*\(`), "dynamic import"},
	{regexp.MustCompile(`(?m)^\s*import\s`), "module import"},
	{regexp.MustCompile(`\b(XMLHttpRequest|fetch|WebSocket)\s*\(`), "network primitive"},
	{regexp.MustCompile(`\bglobalThis\s*\[`), "computed global access"},
}

// riskyPattern is the lower-severity list: destructive database calls that
// warrant a warning in the output but do not block execution. The approval
// gate, not the sandbox, decides whether risky database work proceeds.
type riskyPattern struct {
	re      *regexp.Regexp
	message string
}

var riskyCalls = []riskyPattern{
	{regexp.MustCompile(`dropDatabase\s*\(`), "script drops a database"},
	{regexp.MustCompile(`\.drop\s*\(`), "script drops a collection"},
	{regexp.MustCompile(`deleteMany\s*\(`), "script deletes documents in bulk"},
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`), "script drops a database object"},
	{regexp.MustCompile(`(?i)\bTRUNCATE\b`), "script truncates a table"},
	{regexp.MustCompile(`(?i)\bDELETE\s+FROM\b`), "script deletes rows"},
}

// ValidateScript statically checks a script before execution. A blocked
// construct fails validation with a named violation; risky database calls
// only produce warnings.
func ValidateScript(lang Language, content string) ([]string, error) {
	if content == "" {
		return nil, errdefs.Validation("script is empty")
	}

	var blocked []blockedConstruct
	switch lang {
	case LanguagePython:
		blocked = pythonBlocked
	case LanguageJavaScript:
		blocked = javascriptBlocked
	default:
		return nil, errdefs.Validation("unsupported script language: %s", lang)
	}

	for _, b := range blocked {
		if b.re.MatchString(content) {
			return nil, errdefs.Validation("script uses blocked construct: %s", b.name)
		}
	}

	var warnings []string
	for _, r := range riskyCalls {
		if r.re.MatchString(content) {
			warnings = append(warnings, r.message)
		}
	}
	return warnings, nil
}
