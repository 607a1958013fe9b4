package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"kettleplane/internal/carte"
	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/errs"
	"kettleplane/internal/monitor"
	"kettleplane/internal/runnable"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateExecution handles POST /executions.
// It resolves the directory path, dispatches the artifact and starts a
// background watch that audits the final outcome.
func (h *Handlers) CreateExecution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.DispatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}
	kind, err := runnable.Parse(req.Kind)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	path := h.Catalog.ResolvePath(ctx, req.DirectoryID)
	handle, err := h.Dispatcher.Trigger(ctx, req.Name, path, kind)
	if err != nil {
		h.audit(ctx, store.ActionRun, req.Name, "failed: "+errs.Message(err))
		h.fail(w, r, err)
		return
	}
	handle.DirectoryID = req.DirectoryID

	h.audit(ctx, store.ActionRun, req.Name, fmt.Sprintf("%s %s", kind.Label(), handle.ID))
	operator, _ := middleware.OperatorFromContext(ctx)
	h.Monitor.Start(handle, h.onOutcome(operator))

	h.respondJson(w, http.StatusAccepted, api.DispatchResponse{
		ID:          handle.ID,
		ShortID:     carte.ShortID(handle.ID),
		Name:        handle.Name,
		Kind:        handle.Kind.String(),
		DirectoryID: handle.DirectoryID,
		Path:        path,
	})
}

// onOutcome logs a finished watch and records it against the operator who
// started the execution.
func (h *Handlers) onOutcome(operator string) func(monitor.Outcome) {
	return func(out monitor.Outcome) {
		fields := []zap.Field{
			zap.String("id", out.Handle.ID),
			zap.String("name", out.Handle.Name),
			zap.String("state", string(out.State)),
			zap.String("status", out.Status),
			zap.Int("polls", out.Polls),
		}
		err := out.Err()
		switch {
		case err == nil:
			h.logger.Info("execution finished", fields...)
		case errs.IsTimeout(err):
			h.logger.Warn("execution watch gave up", append(fields, zap.String("reason", errs.Message(err)))...)
		default:
			h.logger.Warn("execution failed", append(fields, zap.String("reason", errs.Message(err)))...)
		}
		if operator == "" || h.Audit == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		details := string(out.State)
		if err != nil {
			details += ": " + errs.Message(err)
		} else if out.Status != "" {
			details += ": " + out.Status
		}
		h.writeAudit(ctx, operator, store.ActionRunResult, out.Handle.Name, details)
	}
}

// GetExecution handles GET /executions/{id}?name=&kind=.
// Returns one status reading; it does not wait for completion.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		h.httpError(w, "Query parameter name is required", http.StatusBadRequest)
		return
	}
	kind, err := runnable.Parse(q.Get("kind"))
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle := carte.Handle{ID: chi.URLParam(r, "id"), Name: name, Kind: kind}
	st, err := h.Monitor.PollOnce(r.Context(), handle)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.StatusResponse{
		ID:     handle.ID,
		Name:   handle.Name,
		Kind:   kind.String(),
		Status: st.Status,
		Detail: st.Detail,
	})
}
