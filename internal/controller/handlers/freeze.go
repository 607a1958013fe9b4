package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/store"
	"kettleplane/pkg/api"

	"go.uber.org/zap"
)

// ErrFrozen is the message of every route refused while frozen.
const ErrFrozen = "System is frozen: changes are disabled"

// Freeze is the controller-wide kill switch. While it is on, routes that
// start, stop or edit anything answer 503. Reads keep working.
type Freeze struct {
	mu     sync.RWMutex
	frozen bool
	by     string
	at     time.Time
}

// Frozen reports whether changes are currently refused. A nil Freeze is
// never frozen.
func (f *Freeze) Frozen() bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.frozen
}

// Set switches the freeze and records who did it.
func (f *Freeze) Set(frozen bool, by string, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frozen, f.by, f.at = frozen, by, at
}

func (f *Freeze) response() api.FreezeResponse {
	if f == nil {
		return api.FreezeResponse{}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	resp := api.FreezeResponse{Frozen: f.frozen, ChangedBy: f.by}
	if !f.at.IsZero() {
		at := f.at
		resp.ChangedAt = &at
	}
	return resp
}

// unlessFrozen refuses the wrapped route while the freeze is on.
func (h *Handlers) unlessFrozen(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Freeze.Frozen() {
			h.log(r).Info("change refused while frozen")
			h.httpError(w, ErrFrozen, http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetFreeze handles GET /admin/freeze.
func (h *Handlers) GetFreeze(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, h.Freeze.response())
}

// SetFreeze handles POST /admin/freeze.
func (h *Handlers) SetFreeze(w http.ResponseWriter, r *http.Request) {
	if h.Freeze == nil {
		h.httpError(w, "Freeze switch is not configured", http.StatusNotImplemented)
		return
	}
	var req api.FreezeRequest
	if !h.decode(w, r, &req) {
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	h.Freeze.Set(req.Frozen, operator, time.Now())
	h.log(r).Warn("freeze switched", zap.Bool("frozen", req.Frozen), zap.String("operator", operator))
	h.audit(r.Context(), store.ActionFreeze, "SYSTEM", "frozen="+strconv.FormatBool(req.Frozen))
	h.respondJson(w, http.StatusOK, h.Freeze.response())
}
