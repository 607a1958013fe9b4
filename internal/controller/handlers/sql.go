package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"kettleplane/internal/changecontrol"
	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
)

// GetSql handles GET /transformations/{name}/sql.
func (h *Handlers) GetSql(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	steps, err := h.ChangeControl.ReadQuery(r.Context(), name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(steps) == 0 {
		h.httpError(w, fmt.Sprintf("No SQL steps found in %s", name), http.StatusNotFound)
		return
	}

	resp := make([]api.SqlStepResponse, 0, len(steps))
	for _, s := range steps {
		resp = append(resp, api.SqlStepResponse{
			Transformation: s.TransformationName,
			Step:           s.StepName,
			SQL:            s.CurrentText,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// UpdateSql handles PUT /transformations/{name}/sql/{step}.
// The new text must pass the read-only guard; the old text is archived in
// the same transaction.
func (h *Handlers) UpdateSql(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	step := chi.URLParam(r, "step")

	var req api.UpdateSqlRequest
	if !h.decode(w, r, &req) {
		return
	}
	operator, _ := middleware.OperatorFromContext(ctx)

	if err := h.ChangeControl.ProposeUpdate(ctx, name, step, req.SQL, operator); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(ctx, store.ActionEditSQL, name+"/"+step, excerpt(req.SQL))
	h.respondJson(w, http.StatusOK, api.MessageResponse{Message: "SQL updated"})
}

// ListSqlVersions handles GET /transformations/{name}/sql/{step}/versions?limit=.
func (h *Handlers) ListSqlVersions(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, changecontrol.DefaultVersionLimit)

	versions, err := h.ChangeControl.ListVersions(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "step"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]api.SqlVersionResponse, 0, len(versions))
	for _, v := range versions {
		resp = append(resp, versionResponse(&v))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetSqlVersion handles GET /versions/{id}.
func (h *Handlers) GetSqlVersion(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.httpError(w, "Invalid version id", http.StatusBadRequest)
		return
	}

	v, err := h.ChangeControl.ReadVersion(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, versionResponse(v))
}

// FindSqlUsage handles GET /sql/usage?q=.
func (h *Handlers) FindSqlUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	usage, err := h.ChangeControl.FindUsage(ctx, r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]api.SqlUsageResponse, 0, len(usage))
	for _, u := range usage {
		resp = append(resp, api.SqlUsageResponse{
			Transformation: u.TransformationName,
			Step:           u.StepName,
			DirectoryID:    u.DirectoryID,
			Path:           h.Catalog.ResolvePath(ctx, u.DirectoryID),
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

func versionResponse(v *store.SqlVersion) api.SqlVersionResponse {
	return api.SqlVersionResponse{
		ID:             v.ID,
		Transformation: v.TransformationName,
		Step:           v.StepName,
		PreviousSQL:    v.PreviousText,
		ChangedBy:      v.ChangedBy,
		ChangedAt:      v.ChangedAt,
	}
}

// excerpt keeps audit details short.
func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= 80 {
		return s
	}
	return s[:80] + "..."
}
