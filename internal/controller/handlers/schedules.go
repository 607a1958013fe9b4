package handlers

import (
	"net/http"

	"kettleplane/internal/runnable"
	"kettleplane/internal/schedule"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"github.com/go-chi/chi/v5"
)

// ListSchedules handles GET /schedules. Paused entries come last.
func (h *Handlers) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries := h.Scheduler.List()

	resp := api.ScheduleListResponse{Schedules: make([]api.ScheduleResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Schedules = append(resp.Schedules, scheduleResponse(e))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetSchedule handles GET /schedules/{jobId}.
func (h *Handlers) GetSchedule(w http.ResponseWriter, r *http.Request) {
	e, err := h.Scheduler.Get(chi.URLParam(r, "jobId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, scheduleResponse(e))
}

// PutSchedule handles PUT /schedules/{jobId}. It replaces any existing entry.
func (h *Handlers) PutSchedule(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	var req api.ScheduleRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind := runnable.Job
	if req.Kind != "" {
		parsed, err := runnable.Parse(req.Kind)
		if err != nil {
			h.httpError(w, err.Error(), http.StatusBadRequest)
			return
		}
		kind = parsed
	}
	trigger, err := schedule.ParseTrigger(req.Trigger)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	e, err := h.Scheduler.Upsert(jobID, schedule.Binding{DirectoryID: req.DirectoryID, Kind: kind}, trigger)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), store.ActionSchedule, jobID, "set "+trigger.String())
	h.respondJson(w, http.StatusOK, scheduleResponse(e))
}

// RescheduleJob handles PATCH /schedules/{jobId}, moving the entry to a new daily time.
func (h *Handlers) RescheduleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	var req api.RescheduleRequest
	if !h.decode(w, r, &req) {
		return
	}

	e, err := h.Scheduler.Reschedule(jobID, req.Hour, req.Minute)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), store.ActionSchedule, jobID, "reschedule "+e.Trigger.String())
	h.respondJson(w, http.StatusOK, scheduleResponse(e))
}

// DeleteSchedule handles DELETE /schedules/{jobId}.
func (h *Handlers) DeleteSchedule(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	if err := h.Scheduler.Remove(jobID); err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), store.ActionSchedule, jobID, "remove")
	w.WriteHeader(http.StatusNoContent)
}

// PauseSchedule handles POST /schedules/{jobId}/pause.
func (h *Handlers) PauseSchedule(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "pause", h.Scheduler.Pause)
}

// ResumeSchedule handles POST /schedules/{jobId}/resume.
func (h *Handlers) ResumeSchedule(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, "resume", h.Scheduler.Resume)
}

func (h *Handlers) toggle(w http.ResponseWriter, r *http.Request, verb string, fn func(string) (schedule.Entry, error)) {
	jobID := chi.URLParam(r, "jobId")

	e, err := fn(jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.audit(r.Context(), store.ActionSchedule, jobID, verb)
	h.respondJson(w, http.StatusOK, scheduleResponse(e))
}

// ScheduleFromHint handles POST /schedules/{jobId}/from-hint.
// The job's Start entry decides the trigger.
func (h *Handlers) ScheduleFromHint(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobId")

	var req api.ScheduleFromHintRequest
	if !h.decode(w, r, &req) {
		return
	}

	hint, err := h.Runs.ScheduleHint(ctx, jobID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	e, applied, err := h.Scheduler.ApplyHint(jobID, schedule.Binding{DirectoryID: req.DirectoryID, Kind: runnable.Job}, *hint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !applied {
		h.httpError(w, "Job has no default schedule", http.StatusUnprocessableEntity)
		return
	}

	h.audit(ctx, store.ActionSchedule, jobID, "from hint "+e.Trigger.String())
	h.respondJson(w, http.StatusOK, scheduleResponse(e))
}

func scheduleResponse(e schedule.Entry) api.ScheduleResponse {
	return api.ScheduleResponse{
		JobID:        e.JobID,
		DirectoryID:  e.Binding.DirectoryID,
		Kind:         e.Binding.Kind.String(),
		Trigger:      e.Trigger.String(),
		Paused:       e.Paused(),
		NextRun:      e.NextRun,
		NextRunLabel: e.NextRunLabel(),
	}
}
