// Package workflow owns the request lifecycle: submission with upfront
// validation and risk assessment, the approval gate, execution hand-off, and
// scheduled maintenance of the request store.
package workflow

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/executor"
	"github.com/queryportal/queryportal/internal/risk"
	"github.com/queryportal/queryportal/internal/sandbox"
)

// Notification event names.
const (
	EventSubmitted = "request_submitted"
	EventApproved  = "request_approved"
	EventRejected  = "request_rejected"
	EventCompleted = "request_completed"
	EventFailed    = "request_failed"
)

// Notifier delivers lifecycle events. Delivery failures are logged by the
// implementation and never fail the workflow.
type Notifier interface {
	Notify(event string, req *database.RequestRecord)
}

// Manager coordinates the request lifecycle and runs store maintenance.
type Manager struct {
	db           *database.DB
	instances    *config.Store
	orchestrator *executor.Orchestrator
	loader       *config.Loader
	notifier     Notifier
	cron         *cron.Cron
	cronEntryID  cron.EntryID
	mu           sync.RWMutex
	running      bool
}

// NewManager creates a new workflow manager.
func NewManager(db *database.DB, instances *config.Store, orch *executor.Orchestrator, loader *config.Loader) *Manager {
	return &Manager{
		db:           db,
		instances:    instances,
		orchestrator: orch,
		loader:       loader,
		cron:         cron.New(),
	}
}

// SetNotifier sets the lifecycle event notifier.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

func (m *Manager) notify(event string, req *database.RequestRecord) {
	if m.notifier != nil {
		m.notifier.Notify(event, req)
	}
}

// Start starts the maintenance scheduler.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true

	id, err := m.cron.AddFunc("@hourly", m.runMaintenance)
	if err != nil {
		return err
	}
	m.cronEntryID = id
	m.cron.Start()

	log.Info().Msg("Workflow manager started")
	return nil
}

// Stop stops the maintenance scheduler and waits for a running job.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	ctx := m.cron.Stop()
	<-ctx.Done()

	m.running = false
	log.Info().Msg("Workflow manager stopped")
	return nil
}

// SubmitInput is a new query or script submission.
type SubmitInput struct {
	Kind       executor.Kind `json:"kind"`
	InstanceID string        `json:"instanceId"`
	Database   string        `json:"database"`
	Content    string        `json:"content"`
	Language   string        `json:"language,omitempty"`
	FileName   string        `json:"fileName,omitempty"`
	Title      string        `json:"title,omitempty"`
}

// Submit validates a submission, assesses its risk and stores it as a
// pending request. Validation failures reject the submission outright;
// risk only determines what the approver sees.
func (m *Manager) Submit(user *database.UserRecord, in *SubmitInput) (*database.RequestRecord, error) {
	inst, ok := m.instances.Instance(in.InstanceID)
	if !ok {
		return nil, errdefs.Configuration("unknown instance: %s", in.InstanceID)
	}
	if !inst.HasDatabase(in.Database) {
		return nil, errdefs.Configuration("instance %s does not expose database %s", inst.ID, in.Database)
	}

	language := in.Language
	switch in.Kind {
	case executor.KindQuery:
		d, ok := m.orchestrator.Driver(inst.Backend)
		if !ok {
			return nil, errdefs.Validation("no driver for backend %s", inst.Backend)
		}
		if _, err := d.Validate(in.Content); err != nil {
			return nil, err
		}
	case executor.KindScript:
		lang, err := sandbox.DetectLanguage(in.Content, sandbox.Language(in.Language), in.FileName)
		if err != nil {
			return nil, err
		}
		if _, err := sandbox.ValidateScript(lang, in.Content); err != nil {
			return nil, err
		}
		language = string(lang)
	default:
		return nil, errdefs.Validation("unknown submission kind: %s", in.Kind)
	}

	assessment, err := risk.Analyze(in.Content, inst.Backend)
	if err != nil {
		return nil, err
	}

	record := &database.RequestRecord{
		ID:          uuid.NewString(),
		Kind:        string(in.Kind),
		Backend:     string(inst.Backend),
		InstanceID:  inst.ID,
		Database:    in.Database,
		Content:     in.Content,
		Language:    language,
		Title:       in.Title,
		RequestedBy: user.ID,
		RiskLevel:   assessment.Overall.String(),
		Risk:        assessment,
	}
	if err := m.db.CreateRequest(record); err != nil {
		return nil, err
	}
	if err := m.db.AppendRequestEvent(record.ID, "submitted", &user.ID, risk.Summary(assessment)); err != nil {
		log.Error().Err(err).Str("request", record.ID).Msg("Failed to record submission event")
	}

	log.Info().
		Str("request", record.ID).
		Str("kind", record.Kind).
		Str("instance", record.InstanceID).
		Str("risk", record.RiskLevel).
		Msg("Request submitted")

	m.notify(EventSubmitted, record)
	return record, nil
}

// Approve marks a pending request approved. The reviewer needs the approver
// role, and cannot approve their own request unless self-approval is
// explicitly enabled.
func (m *Manager) Approve(id string, reviewer *database.UserRecord, comment string) (*database.RequestRecord, error) {
	return m.review(id, database.StatusApproved, reviewer, comment)
}

// Reject marks a pending request rejected.
func (m *Manager) Reject(id string, reviewer *database.UserRecord, comment string) (*database.RequestRecord, error) {
	return m.review(id, database.StatusRejected, reviewer, comment)
}

func (m *Manager) review(id, status string, reviewer *database.UserRecord, comment string) (*database.RequestRecord, error) {
	if !reviewer.CanReview() {
		return nil, errdefs.Validation("user %s cannot review requests", reviewer.Username)
	}

	record, err := m.db.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errdefs.Validation("unknown request: %s", id)
	}
	if record.RequestedBy == reviewer.ID && !m.loader.Bool("workflow.allow_self_approval", false) {
		return nil, errdefs.Validation("requests cannot be reviewed by their requester")
	}

	applied, err := m.db.ReviewRequest(id, status, reviewer.ID, comment)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errdefs.Validation("request %s is not pending (current status: %s)", id, record.Status)
	}

	event := EventApproved
	auditEvent := "approved"
	if status == database.StatusRejected {
		event = EventRejected
		auditEvent = "rejected"
	}
	if err := m.db.AppendRequestEvent(id, auditEvent, &reviewer.ID, comment); err != nil {
		log.Error().Err(err).Str("request", id).Msg("Failed to record review event")
	}

	record, err = m.db.GetRequest(id)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("request", id).
		Str("status", status).
		Str("reviewer", reviewer.Username).
		Msg("Request reviewed")

	m.notify(event, record)
	return record, nil
}

// Execute runs an approved request through the orchestrator and records the
// outcome. Only one execution can win the approved -> executing transition.
func (m *Manager) Execute(ctx context.Context, id string, actor *database.UserRecord) (*executor.Result, error) {
	record, err := m.db.GetRequest(id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, errdefs.Validation("unknown request: %s", id)
	}

	started, err := m.db.MarkExecuting(id)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, errdefs.Validation("request %s is not approved (current status: %s)", id, record.Status)
	}
	if err := m.db.AppendRequestEvent(id, "execution_started", &actor.ID, ""); err != nil {
		log.Error().Err(err).Str("request", id).Msg("Failed to record execution event")
	}

	result, execErr := m.orchestrator.Execute(ctx, &executor.Request{
		ID:             record.ID,
		Kind:           executor.Kind(record.Kind),
		Backend:        config.Backend(record.Backend),
		InstanceID:     record.InstanceID,
		Database:       record.Database,
		Content:        record.Content,
		ScriptLanguage: sandbox.Language(record.Language),
	})

	resultJSON := ""
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			resultJSON = string(data)
		}
	}

	status := database.StatusCompleted
	errText := ""
	event := EventCompleted
	auditEvent := "completed"
	if execErr != nil {
		status = database.StatusFailed
		errText = execErr.Error()
		event = EventFailed
		auditEvent = "failed"
	}

	if err := m.db.FinishRequest(id, status, resultJSON, errText); err != nil {
		log.Error().Err(err).Str("request", id).Msg("Failed to record execution outcome")
	}
	if err := m.db.AppendRequestEvent(id, auditEvent, nil, firstLine(errText)); err != nil {
		log.Error().Err(err).Str("request", id).Msg("Failed to record outcome event")
	}

	record, _ = m.db.GetRequest(id)
	m.notify(event, record)

	return result, execErr
}

// runMaintenance expires stale pending requests, prunes old terminal ones
// and cleans up expired sessions.
func (m *Manager) runMaintenance() {
	pendingExpiry := m.loader.DurationDays("workflow.pending_expiry_days", 7)
	pruneAfter := m.loader.DurationDays("workflow.prune_after_days", 90)

	if expired, err := m.db.ExpirePendingRequests(time.Now().Add(-pendingExpiry)); err != nil {
		log.Error().Err(err).Msg("Failed to expire pending requests")
	} else if expired > 0 {
		log.Info().Int64("count", expired).Msg("Expired stale pending requests")
	}

	if pruned, err := m.db.PruneTerminalRequests(time.Now().Add(-pruneAfter)); err != nil {
		log.Error().Err(err).Msg("Failed to prune old requests")
	} else if pruned > 0 {
		log.Info().Int64("count", pruned).Msg("Pruned old terminal requests")
	}

	if removed, err := m.db.DeleteExpiredSessions(); err != nil {
		log.Error().Err(err).Msg("Failed to delete expired sessions")
	} else if removed > 0 {
		log.Debug().Int64("count", removed).Msg("Deleted expired sessions")
	}

	if err := m.db.Optimize(); err != nil {
		log.Error().Err(err).Msg("Failed to optimize database")
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
