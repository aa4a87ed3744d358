package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/risk"
	"github.com/queryportal/queryportal/internal/web/middleware"
	"github.com/queryportal/queryportal/internal/workflow"
)

// requestView is the wire representation of a request.
type requestView struct {
	ID            string           `json:"id"`
	Kind          string           `json:"kind"`
	Backend       string           `json:"backend"`
	InstanceID    string           `json:"instanceId"`
	Database      string           `json:"database"`
	Content       string           `json:"content"`
	Language      string           `json:"language,omitempty"`
	Title         string           `json:"title,omitempty"`
	RequestedBy   int64            `json:"requestedBy"`
	Status        string           `json:"status"`
	RiskLevel     string           `json:"riskLevel"`
	Risk          *risk.Assessment `json:"risk,omitempty"`
	ReviewedBy    *int64           `json:"reviewedBy,omitempty"`
	ReviewComment string           `json:"reviewComment,omitempty"`
	ReviewedAt    *time.Time       `json:"reviewedAt,omitempty"`
	StartedAt     *time.Time       `json:"startedAt,omitempty"`
	FinishedAt    *time.Time       `json:"finishedAt,omitempty"`
	Result        json.RawMessage  `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

func viewRequest(r *database.RequestRecord) requestView {
	v := requestView{
		ID:            r.ID,
		Kind:          r.Kind,
		Backend:       r.Backend,
		InstanceID:    r.InstanceID,
		Database:      r.Database,
		Content:       r.Content,
		Language:      r.Language,
		Title:         r.Title,
		RequestedBy:   r.RequestedBy,
		Status:        r.Status,
		RiskLevel:     r.RiskLevel,
		Risk:          r.Risk,
		ReviewedBy:    r.ReviewedBy,
		ReviewComment: r.ReviewComment,
		ReviewedAt:    r.ReviewedAt,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
	if r.ResultJSON != "" {
		v.Result = json.RawMessage(r.ResultJSON)
	}
	return v
}

// RequestCreate submits a new query or script for review.
func (h *Handlers) RequestCreate(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var in workflow.SubmitInput
	if !h.decodeBody(w, r, &in) {
		return
	}

	record, err := h.workflowMgr.Submit(user, &in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, viewRequest(record))
}

// RequestList lists requests, optionally filtered by status or instance.
func (h *Handlers) RequestList(w http.ResponseWriter, r *http.Request) {
	filter := database.RequestFilter{
		Status:     r.URL.Query().Get("status"),
		InstanceID: r.URL.Query().Get("instance"),
		Limit:      100,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	if r.URL.Query().Get("mine") == "true" {
		filter.RequestedBy = middleware.GetUser(r.Context()).ID
	}

	records, err := h.db.ListRequests(filter)
	if err != nil {
		h.jsonError(w, "failed to list requests", http.StatusInternalServerError)
		return
	}

	views := make([]requestView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewRequest(rec))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// RequestGet returns one request with its full risk assessment and result.
func (h *Handlers) RequestGet(w http.ResponseWriter, r *http.Request) {
	record, ok := h.fetchRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, viewRequest(record))
}

// RequestEvents returns the audit trail for a request.
func (h *Handlers) RequestEvents(w http.ResponseWriter, r *http.Request) {
	record, ok := h.fetchRequest(w, r)
	if !ok {
		return
	}

	events, err := h.db.ListRequestEvents(record.ID)
	if err != nil {
		h.jsonError(w, "failed to list request events", http.StatusInternalServerError)
		return
	}

	type eventView struct {
		Event     string     `json:"event"`
		ActorID   *int64     `json:"actorId,omitempty"`
		Detail    string     `json:"detail,omitempty"`
		CreatedAt time.Time  `json:"createdAt"`
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{Event: e.Event, ActorID: e.ActorID, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, views)
}

type reviewBody struct {
	Comment string `json:"comment"`
}

// RequestApprove approves a pending request. Reviewer role required.
func (h *Handlers) RequestApprove(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.workflowMgr.Approve)
}

// RequestReject rejects a pending request. Reviewer role required.
func (h *Handlers) RequestReject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.workflowMgr.Reject)
}

func (h *Handlers) review(w http.ResponseWriter, r *http.Request, fn func(string, *database.UserRecord, string) (*database.RequestRecord, error)) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	var body reviewBody
	if r.ContentLength > 0 && !h.decodeBody(w, r, &body) {
		return
	}

	record, err := fn(id, user, body.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewRequest(record))
}

// RequestExecute runs an approved request and returns its result.
func (h *Handlers) RequestExecute(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	id := chi.URLParam(r, "id")

	result, err := h.workflowMgr.Execute(r.Context(), id, user)

	if h.streamBroker != nil {
		status := database.StatusCompleted
		if err != nil {
			status = database.StatusFailed
		}
		h.streamBroker.Complete(id, status)
	}

	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RequestStream streams live script output for a request over WebSocket.
func (h *Handlers) RequestStream(w http.ResponseWriter, r *http.Request) {
	if h.streamBroker == nil {
		h.jsonError(w, "streaming is not available", http.StatusServiceUnavailable)
		return
	}

	record, ok := h.fetchRequest(w, r)
	if !ok {
		return
	}
	h.streamBroker.ServeRequest(w, r, record.ID)
}

func (h *Handlers) fetchRequest(w http.ResponseWriter, r *http.Request) (*database.RequestRecord, bool) {
	id := chi.URLParam(r, "id")
	record, err := h.db.GetRequest(id)
	if err != nil {
		h.jsonError(w, "failed to get request", http.StatusInternalServerError)
		return nil, false
	}
	if record == nil {
		h.jsonError(w, "request not found", http.StatusNotFound)
		return nil, false
	}
	return record, true
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
