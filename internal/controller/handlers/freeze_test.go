package handlers

import (
	"net/http"
	"testing"

	"kettleplane/internal/store"
	"kettleplane/pkg/api"
)

func TestFreeze_RefusesChanges(t *testing.T) {
	routes := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPost, "/executions", api.DispatchRequest{Name: "load_sales", DirectoryID: 2, Kind: "job"}},
		{http.MethodPost, "/processes/3f9e/stop", nil},
		{http.MethodPut, "/transformations/stage_sales/sql/Read", api.UpdateSqlRequest{}},
		{http.MethodPut, "/schedules/load_sales", api.ScheduleRequest{}},
		{http.MethodPatch, "/schedules/load_sales", api.RescheduleRequest{}},
		{http.MethodDelete, "/schedules/load_sales", nil},
		{http.MethodPost, "/schedules/load_sales/pause", nil},
		{http.MethodPost, "/schedules/load_sales/resume", nil},
		{http.MethodPost, "/schedules/load_sales/from-hint", api.ScheduleFromHintRequest{}},
	}

	f := newFixture()
	f.freeze.Set(true, "1001", testNow)
	router := f.router()

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			rr := do(t, router, rt.method, rt.path, rt.body, "1001")
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("got status %d, want %d", rr.Code, http.StatusServiceUnavailable)
			}
			var resp api.ErrorResponse
			decodeBody(t, rr, &resp)
			if resp.Error != ErrFrozen {
				t.Errorf("got error %q, want %q", resp.Error, ErrFrozen)
			}
		})
	}

	if f.dispatcher.capturedName != "" || f.processes.capturedShortID != "" || f.sql.capturedText != "" {
		t.Error("a frozen route reached its service")
	}
	if got := f.audit.actions(); len(got) != 0 {
		t.Errorf("refused changes were audited: %v", got)
	}
}

func TestFreeze_ReadsStillServed(t *testing.T) {
	f := newFixture()
	f.freeze.Set(true, "1001", testNow)
	router := f.router()

	for _, path := range []string{"/schedules", "/processes", "/catalog/search?q=sales", "/audit"} {
		if rr := do(t, router, http.MethodGet, path, nil, "1001"); rr.Code != http.StatusOK {
			t.Errorf("%s: got status %d, want %d", path, rr.Code, http.StatusOK)
		}
	}
}

func TestSetFreeze(t *testing.T) {
	f := newFixture()
	router := f.router()

	rr := do(t, router, http.MethodPost, "/admin/freeze", api.FreezeRequest{Frozen: true}, "1001")
	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rr.Code, http.StatusOK)
	}
	var resp api.FreezeResponse
	decodeBody(t, rr, &resp)
	if !resp.Frozen || resp.ChangedBy != "1001" || resp.ChangedAt == nil {
		t.Errorf("unexpected freeze state: %+v", resp)
	}
	if !f.freeze.Frozen() {
		t.Fatal("switch did not turn on")
	}

	if rr := do(t, router, http.MethodPost, "/executions",
		api.DispatchRequest{Name: "load_sales", DirectoryID: 2, Kind: "job"}, "1001"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("dispatch while frozen: got status %d", rr.Code)
	}

	// Unfreezing is itself allowed while frozen.
	rr = do(t, router, http.MethodPost, "/admin/freeze", api.FreezeRequest{Frozen: false}, "2002")
	if rr.Code != http.StatusOK || f.freeze.Frozen() {
		t.Fatalf("unfreeze: status %d, frozen %v", rr.Code, f.freeze.Frozen())
	}

	rr = do(t, router, http.MethodGet, "/admin/freeze", nil, "")
	decodeBody(t, rr, &resp)
	if resp.Frozen || resp.ChangedBy != "2002" {
		t.Errorf("unexpected freeze state: %+v", resp)
	}

	var toggles []string
	for _, e := range f.audit.entries {
		if e.ActionType == store.ActionFreeze {
			toggles = append(toggles, e.UserID+":"+e.Details)
		}
	}
	if len(toggles) != 2 || toggles[0] != "1001:frozen=true" || toggles[1] != "2002:frozen=false" {
		t.Errorf("freeze toggles audited as %v", toggles)
	}
}

func TestSetFreeze_NeedsOperator(t *testing.T) {
	f := newFixture()
	rr := do(t, f.router(), http.MethodPost, "/admin/freeze", api.FreezeRequest{Frozen: true}, "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if f.freeze.Frozen() {
		t.Error("anonymous caller froze the system")
	}
}

func TestNilFreezeIsNeverFrozen(t *testing.T) {
	var f *Freeze
	if f.Frozen() {
		t.Error("nil freeze reported frozen")
	}
	h := New(Deps{})
	rr := do(t, http.HandlerFunc(h.SetFreeze), http.MethodPost, "/admin/freeze", api.FreezeRequest{Frozen: true}, "1001")
	if rr.Code != http.StatusNotImplemented {
		t.Errorf("got status %d, want %d", rr.Code, http.StatusNotImplemented)
	}
}
