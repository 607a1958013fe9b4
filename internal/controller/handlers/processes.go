package handlers

import (
	"net/http"

	"kettleplane/internal/carte"
	"kettleplane/internal/runnable"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
)

// ListProcesses handles GET /processes.
// An unreachable engine yields an empty list, never an error.
func (h *Handlers) ListProcesses(w http.ResponseWriter, r *http.Request) {
	procs := h.Processes.ListActive(r.Context())

	resp := api.ProcessListResponse{Processes: make([]api.ProcessResponse, 0, len(procs))}
	for _, p := range procs {
		resp.Processes = append(resp.Processes, api.ProcessResponse{
			ID:      p.ID,
			ShortID: carte.ShortID(p.ID),
			Name:    p.Name,
			Kind:    p.Kind.String(),
			Status:  p.StatusDesc,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// StopProcess handles POST /processes/{shortId}/stop?kind=.
func (h *Handlers) StopProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	shortID := chi.URLParam(r, "shortId")

	var kind runnable.Kind
	if k := r.URL.Query().Get("kind"); k != "" {
		parsed, err := runnable.Parse(k)
		if err != nil {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = parsed
	}

	ack, err := h.Processes.Stop(ctx, shortID, kind)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(ctx, store.ActionStop, shortID, ack.Message)
	h.respondJson(w, http.StatusOK, api.MessageResponse{Message: ack.Message})
}
