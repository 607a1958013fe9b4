// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/errs"
	"kettleplane/internal/logger"
	"kettleplane/internal/monitor"
	"kettleplane/internal/runnable"
	"kettleplane/internal/schedule"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Catalog answers directory and search queries.
type Catalog interface {
	Fetch(ctx context.Context) (*catalog.Tree, error)
	Node(ctx context.Context, id int64) (*catalog.Node, *catalog.Tree, error)
	Search(ctx context.Context, term string) ([]catalog.ArtifactRef, error)
	ResolvePath(ctx context.Context, id int64) string
	// Snapshot returns the loaded tree without touching the repository, or
	// nil before the first load.
	Snapshot() *catalog.Tree
}

// Dispatcher starts artifacts on the engine.
type Dispatcher interface {
	Trigger(ctx context.Context, name, directory string, kind runnable.Kind) (carte.Handle, error)
}

// Monitor reads execution status and watches dispatched executions.
type Monitor interface {
	PollOnce(ctx context.Context, h carte.Handle) (monitor.Status, error)
	Start(h carte.Handle, notify func(monitor.Outcome))
}

// Processes lists and stops live engine work.
type Processes interface {
	ListActive(ctx context.Context) []carte.RemoteProcess
	Stop(ctx context.Context, shortID string, kind runnable.Kind) (carte.Ack, error)
}

// ChangeControl reads and edits step SQL.
type ChangeControl interface {
	ReadQuery(ctx context.Context, transformation string) ([]store.SqlAttribute, error)
	ProposeUpdate(ctx context.Context, transformation, step, newText, actor string) error
	ListVersions(ctx context.Context, transformation, step string, limit int) ([]store.SqlVersion, error)
	ReadVersion(ctx context.Context, id int64) (*store.SqlVersion, error)
	FindUsage(ctx context.Context, term string) ([]store.SqlUsage, error)
}

// Scheduler manages schedule entries.
type Scheduler interface {
	Upsert(jobID string, b schedule.Binding, t schedule.Trigger) (schedule.Entry, error)
	ApplyHint(jobID string, b schedule.Binding, hint store.ScheduleHint) (schedule.Entry, bool, error)
	Remove(jobID string) error
	Pause(jobID string) (schedule.Entry, error)
	Resume(jobID string) (schedule.Entry, error)
	Reschedule(jobID string, hour, minute int) (schedule.Entry, error)
	Get(jobID string) (schedule.Entry, error)
	List() []schedule.Entry
}

// Pinger checks a backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services behind the API.
type Deps struct {
	Catalog       Catalog
	Dispatcher    Dispatcher
	Monitor       Monitor
	Processes     Processes
	ChangeControl ChangeControl
	Scheduler     Scheduler
	Runs          store.RunStore
	Audit         store.AuditStore
	DB            Pinger
	// Engine, when set, is checked by Readyz.
	Engine Pinger
	// Freeze, when set, refuses changes while it is on.
	Freeze *Freeze
	Logger *zap.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	Deps
	logger *zap.Logger
}

// auditTimeout bounds audit writes that outlive their request.
const auditTimeout = 5 * time.Second

// New creates a new Handlers instance with the given dependencies.
func New(d Deps) *Handlers {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{Deps: d, logger: logger}
}

// Register mounts the API routes on r.
func (h *Handlers) Register(r chi.Router) {
	r.Post("/catalog/refresh", h.RefreshCatalog)
	r.Get("/catalog/dirs/{id}", h.GetDirectory)
	r.Get("/catalog/search", h.SearchCatalog)

	r.With(h.unlessFrozen).Post("/executions", h.CreateExecution)
	r.Get("/executions/{id}", h.GetExecution)

	r.Get("/processes", h.ListProcesses)
	r.With(h.unlessFrozen).Post("/processes/{shortId}/stop", h.StopProcess)

	r.Get("/transformations/{name}/sql", h.GetSql)
	r.With(h.unlessFrozen).Put("/transformations/{name}/sql/{step}", h.UpdateSql)
	r.Get("/transformations/{name}/sql/{step}/versions", h.ListSqlVersions)
	r.Get("/versions/{id}", h.GetSqlVersion)
	r.Get("/sql/usage", h.FindSqlUsage)

	r.Get("/schedules", h.ListSchedules)
	r.Get("/schedules/{jobId}", h.GetSchedule)
	r.Group(func(r chi.Router) {
		r.Use(h.unlessFrozen)
		r.Put("/schedules/{jobId}", h.PutSchedule)
		r.Patch("/schedules/{jobId}", h.RescheduleJob)
		r.Delete("/schedules/{jobId}", h.DeleteSchedule)
		r.Post("/schedules/{jobId}/pause", h.PauseSchedule)
		r.Post("/schedules/{jobId}/resume", h.ResumeSchedule)
		r.Post("/schedules/{jobId}/from-hint", h.ScheduleFromHint)
	})

	r.Get("/artifacts/{kind}/{name}/runs", h.ListRuns)
	r.Get("/jobs/{name}/schedule-hint", h.GetScheduleHint)
	r.Get("/reports/failures", h.GetFailureReport)

	r.Get("/admin/freeze", h.GetFreeze)
	r.Post("/admin/freeze", h.SetFreeze)

	r.Get("/audit/searches", h.ListSearches)
	r.Get("/audit", h.ListAudit)
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// fail answers with the status the error kind maps to. Unclassified errors
// are logged and masked.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log(r).Error("request failed", zap.Error(err))
		h.httpError(w, "Internal server error", status)
		return
	}
	resp := api.ErrorResponse{Error: errs.Message(err), Code: strconv.Itoa(status)}
	var e *errs.Error
	if errors.As(err, &e) && e.Kind != nil {
		resp.Details = e.Kind.Error()
	}
	h.respondJson(w, status, resp)
}

func (h *Handlers) log(r *http.Request) *zap.Logger {
	return logger.FromContext(r.Context(), h.logger).With(zap.String("path", r.URL.Path))
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// audit records an operator action. A failed write is logged and never fails
// the request it describes.
func (h *Handlers) audit(ctx context.Context, action, target, details string) {
	operator, ok := middleware.OperatorFromContext(ctx)
	if !ok || h.Audit == nil {
		return
	}
	h.writeAudit(ctx, operator, action, target, details)
}

func (h *Handlers) writeAudit(ctx context.Context, operator, action, target, details string) {
	entry := &store.AuditEntry{
		UserID:     operator,
		ActionType: action,
		TargetName: target,
		Details:    details,
	}
	if err := h.Audit.AddAuditEntry(ctx, entry); err != nil {
		h.logger.Warn("failed to write audit entry",
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}

func pathInt(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func queryLimit(r *http.Request, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
