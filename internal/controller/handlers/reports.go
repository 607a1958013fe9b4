package handlers

import (
	"net/http"

	"kettleplane/internal/runnable"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
)

// ListRuns handles GET /artifacts/{kind}/{name}/runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	kind, err := runnable.Parse(chi.URLParam(r, "kind"))
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	name := chi.URLParam(r, "name")

	runs, err := h.Runs.RecentRuns(r.Context(), name, kind == runnable.Job)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.RunListResponse{Name: name, Kind: kind.String(), Runs: make([]api.RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, api.RunResponse{
			Status:     run.Status,
			ReplayDate: run.ReplayDate,
			Log:        run.Log,
			User:       run.User,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetScheduleHint handles GET /jobs/{name}/schedule-hint.
func (h *Handlers) GetScheduleHint(w http.ResponseWriter, r *http.Request) {
	hint, err := h.Runs.ScheduleHint(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.ScheduleHintResponse{
		Type:            string(hint.Type),
		Description:     hint.Description,
		Hour:            hint.Hour,
		Minute:          hint.Minute,
		IntervalMinutes: hint.IntervalMinutes,
	})
}

// GetFailureReport handles GET /reports/failures.
func (h *Handlers) GetFailureReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.Runs.FailureReport(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.FailureReportResponse{
		TotalRuns: report.TotalRuns,
		Failures:  make([]api.FailureResponse, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		resp.Failures = append(resp.Failures, api.FailureResponse{
			Kind:   f.Kind,
			Name:   f.Name,
			Status: f.Status,
			Time:   f.Time,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}
