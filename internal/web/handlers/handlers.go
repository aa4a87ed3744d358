package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/auth"
	"github.com/queryportal/queryportal/internal/config"
	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/errdefs"
	"github.com/queryportal/queryportal/internal/executor"
	"github.com/queryportal/queryportal/internal/notification"
	"github.com/queryportal/queryportal/internal/pool"
	"github.com/queryportal/queryportal/internal/web/stream"
	"github.com/queryportal/queryportal/internal/workflow"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db              *database.DB
	instances       *config.Store
	authService     *auth.Service
	workflowMgr     *workflow.Manager
	orchestrator    *executor.Orchestrator
	pools           *pool.Manager
	notificationMgr *notification.Manager
	loader          *config.Loader
	streamBroker    *stream.Broker
	logFile         string
	isDev           bool
}

// New creates a new Handlers instance
func New(db *database.DB, instances *config.Store, authService *auth.Service, workflowMgr *workflow.Manager, orch *executor.Orchestrator, pools *pool.Manager, isDev bool) *Handlers {
	return &Handlers{
		db:           db,
		instances:    instances,
		authService:  authService,
		workflowMgr:  workflowMgr,
		orchestrator: orch,
		pools:        pools,
		loader:       config.NewLoader(db),
		isDev:        isDev,
	}
}

// SetNotificationManager sets the notification manager
func (h *Handlers) SetNotificationManager(mgr *notification.Manager) {
	h.notificationMgr = mgr
}

// SetStreamBroker sets the output stream broker
func (h *Handlers) SetStreamBroker(b *stream.Broker) {
	h.streamBroker = b
}

// SetLogFile records the active log file so settings changes re-apply to it
func (h *Handlers) SetLogFile(path string) {
	h.logFile = path
}

// writeJSON sends a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeError maps a domain error onto an HTTP status
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errdefs.KindOf(err) {
	case errdefs.KindValidation, errdefs.KindConfiguration:
		status = http.StatusBadRequest
	case errdefs.KindTimeout:
		status = http.StatusGatewayTimeout
	case errdefs.KindQueryExecution, errdefs.KindProcess:
		status = http.StatusUnprocessableEntity
	}
	h.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(errdefs.KindOf(err)),
	})
}

// decodeBody decodes a JSON request body
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// applyCookieSecurity sets Secure/SameSite defaults based on environment.
func (h *Handlers) applyCookieSecurity(c *http.Cookie) {
	if h.isDev {
		if c.SameSite == 0 {
			c.SameSite = http.SameSiteLaxMode
		}
		return
	}
	c.Secure = true
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteStrictMode
	}
}
