// Package driver executes validated queries against the two backend engines.
//
// Both drivers implement the same contract: validate content, execute an
// approved request through the shared connection pool, and probe instance
// connectivity. Result sets are capped; the cap is reported through the
// Truncated flag rather than by failing the request.
package driver

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
)

const (
	// MaxContentLength is the largest accepted submission, in characters.
	MaxContentLength = 100_000

	// MaxResultRows caps the rows or documents returned by one execution.
	MaxResultRows = 10_000
)

// Request describes one approved execution.
type Request struct {
	Instance *config.Instance
	Database string
	Content  string
}

// Result is the normalized outcome of a successful execution.
type Result struct {
	Rows         []map[string]any `json:"rows,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
	RowsAffected int64            `json:"rowsAffected"`
	Truncated    bool             `json:"truncated"`
	Duration     time.Duration    `json:"duration"`
	Message      string           `json:"message,omitempty"`
}

// ValidationResult carries the verdict and advisory warnings for content.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings,omitempty"`
}

// PingResult is the outcome of a connectivity probe.
type PingResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Driver is the per-backend execution contract.
type Driver interface {
	// Backend returns the engine this driver serves.
	Backend() config.Backend

	// Validate checks content before any side effect. Dangerous operations
	// are flagged as warnings, never blocked here; blocking is the
	// approver's call.
	Validate(content string) (*ValidationResult, error)

	// Execute runs an approved request and returns a normalized result.
	// The connection is released on every exit path.
	Execute(ctx context.Context, req *Request) (*Result, error)

	// TestConnection opens a throwaway connection and performs a trivial
	// round trip without mutating state.
	TestConnection(ctx context.Context, inst *config.Instance, database string) (*PingResult, error)
}

// validateContent applies the checks shared by both drivers.
func validateContent(content string, dangerous []dangerPattern) (*ValidationResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errdefs.Validation("content is empty")
	}
	if len(content) > MaxContentLength {
		return nil, errdefs.Validation("content exceeds maximum length of %d characters", MaxContentLength)
	}

	result := &ValidationResult{Valid: true}
	for _, d := range dangerous {
		if d.re.MatchString(content) {
			result.Warnings = append(result.Warnings, d.message)
		}
	}
	return result, nil
}

type dangerPattern struct {
	re      *regexp.Regexp
	message string
}

// checkTarget verifies that the request's instance matches the driver and
// exposes the requested database.
func checkTarget(req *Request, backend config.Backend) error {
	if req.Instance == nil {
		return errdefs.Configuration("request has no resolved instance")
	}
	if req.Instance.Backend != backend {
		return errdefs.Configuration("instance %s is %s, not %s", req.Instance.ID, req.Instance.Backend, backend)
	}
	if req.Database != "" && len(req.Instance.Databases) > 0 && !req.Instance.HasDatabase(req.Database) {
		return errdefs.Configuration("instance %s does not expose database %s", req.Instance.ID, req.Database)
	}
	return nil
}
