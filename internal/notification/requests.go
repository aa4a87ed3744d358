package notification

import (
	"fmt"

	"github.com/queryportal/queryportal/internal/database"
)

// RequestEvents adapts request lifecycle events to notification events so
// the workflow layer stays decoupled from providers.
type RequestEvents struct {
	m *Manager
}

// NewRequestEvents creates the workflow-facing notifier.
func NewRequestEvents(m *Manager) *RequestEvents {
	return &RequestEvents{m: m}
}

var requestEventTitles = map[EventType]string{
	EventRequestSubmitted: "Request Submitted",
	EventRequestApproved:  "Request Approved",
	EventRequestRejected:  "Request Rejected",
	EventRequestCompleted: "Request Completed",
	EventRequestFailed:    "Request Failed",
}

// Notify queues a notification for a request lifecycle event.
func (r *RequestEvents) Notify(event string, req *database.RequestRecord) {
	if req == nil {
		return
	}

	eventType := EventType(event)
	title, ok := requestEventTitles[eventType]
	if !ok {
		title = "Request Update"
	}

	message := fmt.Sprintf("%s request %s on %s/%s", req.Kind, req.ID, req.InstanceID, req.Database)
	if req.Title != "" {
		message = fmt.Sprintf("%s: %s", req.Title, message)
	}
	if eventType == EventRequestFailed && req.Error != "" {
		message = fmt.Sprintf("%s\n%s", message, req.Error)
	}

	fields := map[string]string{
		"instance": req.InstanceID,
		"database": req.Database,
		"kind":     req.Kind,
		"risk":     req.RiskLevel,
		"status":   req.Status,
	}

	r.m.Notify(Event{
		Type:    eventType,
		Title:   title,
		Message: message,
		Fields:  fields,
	})
}
