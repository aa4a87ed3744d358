package risk

import (
	"fmt"
	"strings"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/errdefs"
)

// Analyze classifies content for the given backend. The only hard failures
// are empty content and an unsupported backend; everything else produces a
// best-effort assessment the approver can act on.
func Analyze(content string, backend config.Backend) (*Assessment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errdefs.Validation("cannot assess empty content")
	}
	if !backend.Valid() {
		return nil, errdefs.Validation("unsupported backend type: %s", backend)
	}

	statements := splitStatements(content, backend)

	var ops []Operation
	for _, stmt := range statements {
		ops = append(ops, classify(stmt, backend))
	}

	a := &Assessment{Operations: ops}
	for _, op := range ops {
		if op.Risk > a.Overall {
			a.Overall = op.Risk
		}
	}

	a.Warnings = collectWarnings(content, statements, backend)
	a.Recommendations = recommend(a)
	return a, nil
}

// classify runs a single statement through the backend's rule table.
func classify(stmt string, backend config.Backend) Operation {
	rules := sqlRules
	if backend == config.BackendMongo {
		rules = mongoRules
	}
	for _, r := range rules {
		if r.re.MatchString(stmt) {
			return Operation{Name: r.name, Category: r.category, Risk: r.risk, Detail: r.detail}
		}
	}
	return Unclassified(truncateDetail(stmt))
}

// collectWarnings appends cross-cutting observations. These never change the
// primary classification; they give the approver extra context.
func collectWarnings(content string, statements []string, backend config.Backend) []Warning {
	var warnings []Warning

	if cascadeRe.MatchString(content) {
		warnings = append(warnings, Warning{High, "CASCADE drops dependent objects along with the target"})
	}
	if len(statements) > 1 {
		warnings = append(warnings, Warning{Medium, fmt.Sprintf("submission contains %d statements; each is classified independently", len(statements))})
	}

	switch backend {
	case config.BackendPostgres:
		for _, stmt := range statements {
			if selectRe.MatchString(stmt) && !whereRe.MatchString(stmt) && !limitRe.MatchString(stmt) {
				warnings = append(warnings, Warning{Low, "broad read has no LIMIT; the result may be very large"})
				break
			}
		}
	case config.BackendMongo:
		if jsPredicateRe.MatchString(content) {
			warnings = append(warnings, Warning{High, "$where executes a free-form JavaScript predicate on the server"})
		}
		if emptyFilterRe.MatchString(content) {
			warnings = append(warnings, Warning{Critical, "empty filter on a bulk mutation matches every document"})
		}
	}

	return warnings
}

// recommend derives prioritized recommendations from the final assessment.
func recommend(a *Assessment) []string {
	var recs []string

	if a.Overall >= Critical {
		recs = append(recs, "Take a backup of the target before running this operation")
	}

	var hasDelete, hasDDL, hasIndex bool
	for _, op := range a.Operations {
		switch op.Category {
		case CategoryDelete:
			hasDelete = true
		case CategoryDDL:
			hasDDL = true
		case CategoryIndex:
			hasIndex = true
		}
	}

	if hasDelete {
		recs = append(recs, "Run the equivalent read (SELECT / find) first to preview the affected rows")
	}
	if hasDDL {
		recs = append(recs, "Notify stakeholders before applying schema changes")
	}
	if hasIndex {
		recs = append(recs, "Schedule index operations during a low-traffic window")
	}

	return recs
}

// Summary renders a single human-readable sentence for an assessment.
func Summary(a *Assessment) string {
	if a == nil || len(a.Operations) == 0 {
		return "No operations detected."
	}

	top := a.Operations[0]
	for _, op := range a.Operations {
		if op.Risk > top.Risk {
			top = op
		}
	}

	plural := ""
	if len(a.Operations) != 1 {
		plural = "s"
	}
	return fmt.Sprintf("%d operation%s detected; highest risk %s (%s).", len(a.Operations), plural, a.Overall, top.Name)
}

// splitStatements breaks a submission into individual statements. Semicolons
// inside quoted strings are respected; empty fragments are dropped. Mongo
// submissions are additionally split at lines that start a new db. call,
// since shell statements rarely carry terminators.
func splitStatements(content string, backend config.Backend) []string {
	var fragments []string
	var sb strings.Builder
	var quote rune

	for _, r := range content {
		switch {
		case quote != 0:
			sb.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			sb.WriteRune(r)
		case r == ';':
			fragments = append(fragments, sb.String())
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	fragments = append(fragments, sb.String())

	var statements []string
	for _, frag := range fragments {
		if backend == config.BackendMongo {
			statements = append(statements, splitMongoCalls(frag)...)
			continue
		}
		if s := strings.TrimSpace(frag); s != "" {
			statements = append(statements, s)
		}
	}
	return statements
}

// splitMongoCalls separates consecutive shell statements within a fragment.
func splitMongoCalls(frag string) []string {
	locs := mongoCallRe.FindAllStringIndex(frag, -1)
	if len(locs) < 2 {
		if s := strings.TrimSpace(frag); s != "" {
			return []string{s}
		}
		return nil
	}

	var statements []string
	for i, loc := range locs {
		end := len(frag)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if s := strings.TrimSpace(frag[loc[0]:end]); s != "" {
			statements = append(statements, s)
		}
	}
	return statements
}

func truncateDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
