package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/queryportal/queryportal/internal/risk"
)

// Request lifecycle states. Transitions are guarded: an update only applies
// when the row is still in the expected state, so two approvers racing on
// the same request cannot both win.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// TerminalStatuses are the states a request can never leave.
var TerminalStatuses = []string{StatusRejected, StatusCompleted, StatusFailed, StatusExpired}

// RequestRecord represents a submitted query or script and its review state.
type RequestRecord struct {
	ID            string
	Kind          string
	Backend       string
	InstanceID    string
	Database      string
	Content       string
	Language      string
	Title         string
	RequestedBy   int64
	Status        string
	RiskLevel     string
	Risk          *risk.Assessment
	ReviewedBy    *int64
	ReviewComment string
	ReviewedAt    *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ResultJSON    string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateRequest inserts a new pending request with its risk assessment.
func (db *DB) CreateRequest(r *RequestRecord) error {
	riskJSON, err := marshalToString(r.Risk)
	if err != nil {
		return fmt.Errorf("failed to marshal risk assessment: %w", err)
	}

	now := time.Now()
	_, err = db.Exec(`
		INSERT INTO requests (id, kind, backend, instance_id, database_name, content,
			language, title, requested_by, status, risk_level, risk_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Kind, r.Backend, r.InstanceID, r.Database, r.Content,
		r.Language, r.Title, r.RequestedBy, StatusPending, r.RiskLevel, riskJSON, now, now)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	r.Status = StatusPending
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

const requestColumns = `id, kind, backend, instance_id, database_name, content,
	language, title, requested_by, status, risk_level, risk_json,
	reviewed_by, review_comment, reviewed_at, started_at, finished_at,
	result_json, error, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*RequestRecord, error) {
	r := &RequestRecord{}
	var language, reviewComment, resultJSON, errText sql.NullString
	var riskJSON string
	var reviewedBy sql.NullInt64
	var reviewedAt, startedAt, finishedAt sql.NullTime

	err := row.Scan(&r.ID, &r.Kind, &r.Backend, &r.InstanceID, &r.Database, &r.Content,
		&language, &r.Title, &r.RequestedBy, &r.Status, &r.RiskLevel, &riskJSON,
		&reviewedBy, &reviewComment, &reviewedAt, &startedAt, &finishedAt,
		&resultJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Language = nullStringValue(language)
	r.ReviewComment = nullStringValue(reviewComment)
	r.ResultJSON = nullStringValue(resultJSON)
	r.Error = nullStringValue(errText)
	r.ReviewedBy = nullInt64ToPtr(reviewedBy)
	r.ReviewedAt = nullTimeToPtr(reviewedAt)
	r.StartedAt = nullTimeToPtr(startedAt)
	r.FinishedAt = nullTimeToPtr(finishedAt)

	if riskJSON != "" && riskJSON != "null" {
		r.Risk = &risk.Assessment{}
		if err := unmarshalFromString(riskJSON, r.Risk); err != nil {
			return nil, fmt.Errorf("failed to unmarshal risk assessment: %w", err)
		}
	}
	return r, nil
}

// GetRequest retrieves a request by ID. Returns nil when not found.
func (db *DB) GetRequest(id string) (*RequestRecord, error) {
	r, err := scanRequest(db.QueryRow(
		"SELECT "+requestColumns+" FROM requests WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	return r, nil
}

// RequestFilter narrows ListRequests. Zero values mean no filter.
type RequestFilter struct {
	Status      string
	InstanceID  string
	RequestedBy int64
	Limit       int
}

// ListRequests returns requests matching the filter, newest first.
func (db *DB) ListRequests(filter RequestFilter) ([]*RequestRecord, error) {
	query := "SELECT " + requestColumns + " FROM requests WHERE 1=1"
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}
	if filter.RequestedBy != 0 {
		query += " AND requested_by = ?"
		args = append(args, filter.RequestedBy)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*RequestRecord
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// ReviewRequest records an approve/reject decision. Only a pending request
// can be reviewed; returns false when the request was not pending anymore.
func (db *DB) ReviewRequest(id string, status string, reviewerID int64, comment string) (bool, error) {
	if status != StatusApproved && status != StatusRejected {
		return false, fmt.Errorf("invalid review status: %s", status)
	}

	now := time.Now()
	result, err := db.Exec(`
		UPDATE requests
		SET status = ?, reviewed_by = ?, review_comment = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, reviewerID, comment, now, now, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to review request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check review update: %w", err)
	}
	return n > 0, nil
}

// MarkExecuting transitions approved -> executing. Returns false when the
// request was not in the approved state (already running, or never approved).
func (db *DB) MarkExecuting(id string) (bool, error) {
	now := time.Now()
	result, err := db.Exec(`
		UPDATE requests SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, StatusExecuting, now, now, id, StatusApproved)
	if err != nil {
		return false, fmt.Errorf("failed to mark request executing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check executing update: %w", err)
	}
	return n > 0, nil
}

// FinishRequest transitions executing -> completed/failed with the outcome.
func (db *DB) FinishRequest(id string, status string, resultJSON string, errText string) error {
	if status != StatusCompleted && status != StatusFailed {
		return fmt.Errorf("invalid terminal status: %s", status)
	}

	now := time.Now()
	_, err := db.Exec(`
		UPDATE requests SET status = ?, result_json = ?, error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, status, resultJSON, errText, now, now, id, StatusExecuting)
	if err != nil {
		return fmt.Errorf("failed to finish request: %w", err)
	}
	return nil
}

// ExpirePendingRequests marks pending requests older than the cutoff as
// expired and returns how many were affected.
func (db *DB) ExpirePendingRequests(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		UPDATE requests SET status = ?, updated_at = ?
		WHERE status = ? AND created_at < ?
	`, StatusExpired, time.Now(), StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending requests: %w", err)
	}
	return result.RowsAffected()
}

// PruneTerminalRequests deletes terminal requests older than the cutoff.
func (db *DB) PruneTerminalRequests(cutoff time.Time) (int64, error) {
	result, err := db.Exec(`
		DELETE FROM requests
		WHERE status IN (?, ?, ?, ?) AND updated_at < ?
	`, StatusRejected, StatusCompleted, StatusFailed, StatusExpired, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune requests: %w", err)
	}
	return result.RowsAffected()
}
