package handlers

import (
	"context"
	"net/http"
	"time"

	"kettleplane/pkg/api"

	"go.uber.org/zap"
)

// engineCheckTimeout bounds the Carte check of the readiness check.
const engineCheckTimeout = 2 * time.Second

// Healthz is the liveness check. It only shows the process is serving.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz reports whether the controller can serve catalog and change
// requests. The repository database gates readiness. Carte reachability,
// the catalog snapshot age and the freeze state are reported alongside so an
// operator sees a stale or disconnected controller at a glance.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	resp := api.ReadyResponse{Status: "ready", Database: "ok", Frozen: h.Freeze.Frozen()}
	status := http.StatusOK

	if err := h.DB.Ping(r.Context()); err != nil {
		h.log(r).Warn("readiness: repository unreachable", zap.Error(err))
		resp.Status, resp.Database = "unavailable", "unreachable"
		status = http.StatusServiceUnavailable
	}

	if h.Engine != nil {
		ctx, cancel := context.WithTimeout(r.Context(), engineCheckTimeout)
		err := h.Engine.Ping(ctx)
		cancel()
		resp.Carte = "reachable"
		if err != nil {
			h.log(r).Warn("readiness: carte unreachable", zap.Error(err))
			resp.Carte = "unreachable"
		}
	}

	if h.Catalog != nil {
		if tree := h.Catalog.Snapshot(); tree != nil {
			age := time.Since(tree.BuiltAt()).Seconds()
			resp.CatalogAgeSeconds = &age
			resp.CatalogArtifacts = tree.ArtifactCount()
		}
	}

	h.respondJson(w, status, resp)
}
