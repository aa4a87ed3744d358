package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/queryportal/queryportal/internal/database"
	"github.com/queryportal/queryportal/internal/logging"
)

// SettingsGet returns all stored settings. Admin only.
func (h *Handlers) SettingsGet(w http.ResponseWriter, r *http.Request) {
	settings, err := h.db.GetAllSettings()
	if err != nil {
		h.jsonError(w, "failed to load settings", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, settings)
}

// SettingsUpdate stores settings and re-applies the ones that take effect
// immediately (logging, notification providers). Admin only.
func (h *Handlers) SettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if !h.decodeBody(w, r, &body) {
		return
	}

	for key, value := range body {
		if _, known := database.DefaultSettings[key]; !known {
			h.jsonError(w, "unknown setting: "+key, http.StatusBadRequest)
			return
		}
		if err := h.db.SetSettingJSON(key, value); err != nil {
			h.jsonError(w, "failed to store setting "+key, http.StatusInternalServerError)
			return
		}
	}

	logging.Apply(h.loader.String("log.level", "info"), h.loader, h.logFile)
	if h.notificationMgr != nil {
		h.notificationMgr.ApplySettings(h.loader)
	}

	log.Info().Int("count", len(body)).Msg("Settings updated")
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// NotificationTest sends a test notification through one provider. Admin only.
func (h *Handlers) NotificationTest(w http.ResponseWriter, r *http.Request) {
	if h.notificationMgr == nil {
		h.jsonError(w, "notifications are not configured", http.StatusServiceUnavailable)
		return
	}

	provider := chi.URLParam(r, "provider")
	if err := h.notificationMgr.TestProvider(provider); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
