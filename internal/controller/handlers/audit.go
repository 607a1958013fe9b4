package handlers

import (
	"net/http"
	"strings"

	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"
)

const (
	defaultAuditLimit     = 15
	defaultUserAuditLimit = 10
	defaultSearchLimit    = 5
)

// ListAudit handles GET /audit?limit=&user=.
// With user set only that operator's actions are listed.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	var (
		entries []store.AuditEntry
		err     error
	)
	if user := strings.TrimSpace(r.URL.Query().Get("user")); user != "" {
		entries, err = h.Audit.UserAuditEntries(r.Context(), user, queryLimit(r, defaultUserAuditLimit))
	} else {
		entries, err = h.Audit.RecentAuditEntries(r.Context(), queryLimit(r, defaultAuditLimit))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := api.AuditListResponse{Entries: make([]api.AuditEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, api.AuditEntryResponse{
			UserID:   e.UserID,
			Action:   e.ActionType,
			Target:   e.TargetName,
			Details:  e.Details,
			LoggedAt: e.LoggedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListSearches handles GET /audit/searches?user=&limit=.
// The user defaults to the calling operator.
func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	if user == "" {
		user, _ = middleware.OperatorFromContext(r.Context())
	}
	if user == "" {
		h.httpError(w, "Query parameter user or the "+api.OperatorHeader+" header is required", http.StatusBadRequest)
		return
	}

	terms, err := h.Audit.RecentSearches(r.Context(), user, queryLimit(r, defaultSearchLimit))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if terms == nil {
		terms = []string{}
	}
	h.respondJson(w, http.StatusOK, api.SearchHistoryResponse{UserID: user, Terms: terms})
}
