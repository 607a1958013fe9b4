package controller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"kettleplane/internal/controller/handlers"
	"kettleplane/internal/schedule"
	"kettleplane/pkg/api"
)

type fakeDB struct{ err error }

func (f fakeDB) Ping(ctx context.Context) error { return f.err }

func testDeps(pingErr error) handlers.Deps {
	return handlers.Deps{
		Scheduler: schedule.New(nil, nil, schedule.Config{}, nil),
		DB:        fakeDB{err: pingErr},
	}
}

func serve(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_HealthSkipsAuth(t *testing.T) {
	router := NewRouter(testDeps(nil), Options{APIToken: "s3cret"})

	if rr := serve(router, http.MethodGet, "/healthz", nil); rr.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/readyz", nil); rr.Code != http.StatusOK {
		t.Errorf("readyz: expected 200, got %d", rr.Code)
	}
}

func TestRouter_ReadyzReportsDatabase(t *testing.T) {
	router := NewRouter(testDeps(errors.New("connection refused")), Options{})

	if rr := serve(router, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	router := NewRouter(testDeps(nil), Options{APIToken: "s3cret"})

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.auth != "" {
				headers["Authorization"] = tt.auth
			}
			rr := serve(router, http.MethodGet, "/schedules", headers)
			if rr.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRouter_MutationsNeedOperator(t *testing.T) {
	router := NewRouter(testDeps(nil), Options{})

	rr := serve(router, http.MethodDelete, "/schedules/load_sales", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without operator, got %d", rr.Code)
	}

	rr = serve(router, http.MethodDelete, "/schedules/load_sales", map[string]string{api.OperatorHeader: "ops.alice"})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown schedule, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouter_RateLimited(t *testing.T) {
	router := NewRouter(testDeps(nil), Options{RateLimit: 1, RateLimitBurst: 1})

	if rr := serve(router, http.MethodGet, "/schedules", map[string]string{api.OperatorHeader: "ops.alice"}); rr.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rr.Code)
	}
	// Switching the operator header does not reset the client's bucket.
	if rr := serve(router, http.MethodGet, "/schedules", map[string]string{api.OperatorHeader: "ops.bob"}); rr.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rr.Code)
	}
}

func TestRouter_MetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# HELP up\n"))
	})

	router := NewRouter(testDeps(nil), Options{APIToken: "s3cret", Metrics: metrics})
	if rr := serve(router, http.MethodGet, "/metrics", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200 from /metrics, got %d", rr.Code)
	}

	router = NewRouter(testDeps(nil), Options{})
	if rr := serve(router, http.MethodGet, "/metrics", nil); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a metrics handler, got %d", rr.Code)
	}
}

func TestRouter_SetsRequestID(t *testing.T) {
	router := NewRouter(testDeps(nil), Options{})

	rr := serve(router, http.MethodGet, "/healthz", nil)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRouter_FrozenRefusesChanges(t *testing.T) {
	deps := testDeps(nil)
	deps.Freeze = &handlers.Freeze{}
	deps.Freeze.Set(true, "ops.alice", time.Now())
	router := NewRouter(deps, Options{})

	rr := serve(router, http.MethodDelete, "/schedules/load_sales", map[string]string{api.OperatorHeader: "ops.alice"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while frozen, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr := serve(router, http.MethodGet, "/schedules", nil); rr.Code != http.StatusOK {
		t.Errorf("reads while frozen: expected 200, got %d", rr.Code)
	}
	rr = serve(router, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"frozen":true`) {
		t.Errorf("readyz should stay ready and report the freeze, got %d: %s", rr.Code, rr.Body.String())
	}
}
