package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// instanceView hides connection details; requesters only need to know what
// they can target.
type instanceView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Backend   string   `json:"backend"`
	Databases []string `json:"databases"`
}

// InstanceList returns the configured database instances.
func (h *Handlers) InstanceList(w http.ResponseWriter, r *http.Request) {
	cfg := h.instances.Current()
	views := make([]instanceView, 0, len(cfg.Instances))
	for i := range cfg.Instances {
		inst := &cfg.Instances[i]
		views = append(views, instanceView{
			ID:        inst.ID,
			Name:      inst.Name,
			Backend:   string(inst.Backend),
			Databases: inst.Databases,
		})
	}
	h.writeJSON(w, http.StatusOK, views)
}

// InstanceTest probes connectivity to one instance.
func (h *Handlers) InstanceTest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	database := r.URL.Query().Get("database")
	if database == "" {
		if inst, ok := h.instances.Instance(id); ok && len(inst.Databases) > 0 {
			database = inst.Databases[0]
		}
	}

	result, err := h.orchestrator.TestConnection(r.Context(), id, database)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// PoolStats reports live connection pool statistics.
func (h *Handlers) PoolStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pools.Stats())
}

// PoolRelease closes pooled connections: all of them, or just the keys named
// in the body. Admin only.
func (h *Handlers) PoolRelease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Keys []string `json:"keys"`
	}
	if r.ContentLength > 0 && !h.decodeBody(w, r, &body) {
		return
	}

	if err := h.pools.Release(body.Keys...); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Health is the unauthenticated liveness endpoint.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
