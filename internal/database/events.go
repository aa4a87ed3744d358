package database

import (
	"database/sql"
	"fmt"
	"time"
)

// RequestEvent is one append-only audit entry for a request.
type RequestEvent struct {
	ID        int64
	RequestID string
	Event     string
	ActorID   *int64
	Detail    string
	CreatedAt time.Time
}

// AppendRequestEvent records an audit entry. actorID may be nil for
// system-initiated events such as expiry.
func (db *DB) AppendRequestEvent(requestID, event string, actorID *int64, detail string) error {
	_, err := db.Exec(`
		INSERT INTO request_events (request_id, event, actor_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, requestID, event, actorID, detail, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append request event: %w", err)
	}
	return nil
}

// ListRequestEvents returns the audit trail for a request, oldest first.
func (db *DB) ListRequestEvents(requestID string) ([]*RequestEvent, error) {
	rows, err := db.Query(`
		SELECT id, request_id, event, actor_id, detail, created_at
		FROM request_events WHERE request_id = ? ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to list request events: %w", err)
	}
	defer rows.Close()

	var events []*RequestEvent
	for rows.Next() {
		e := &RequestEvent{}
		var actorID sql.NullInt64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Event, &actorID, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request event: %w", err)
		}
		e.ActorID = nullInt64ToPtr(actorID)
		e.Detail = nullStringValue(detail)
		events = append(events, e)
	}
	return events, rows.Err()
}
