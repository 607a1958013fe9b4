package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"
)

// scripted replays a fixed sequence of readings, repeating the last one.
type scripted struct {
	mu    sync.Mutex
	steps []reading
	calls int
}

type reading struct {
	desc string
	log  string
	err  error
}

func (s *scripted) Status(ctx context.Context, kind runnable.Kind, name, id string) (carte.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	if r.err != nil {
		return carte.Status{}, r.err
	}
	return carte.Status{Desc: r.desc, Log: r.log}, nil
}

func fastConfig() Config {
	return Config{Interval: time.Millisecond, MaxWait: 5 * time.Second}
}

var testHandle = carte.Handle{ID: "abc", Name: "J_DAILY", Kind: runnable.Job}

func TestWatch(t *testing.T) {
	refused := errors.New("connection refused")

	tests := []struct {
		name       string
		steps      []reading
		maxPolls   int
		wantState  State
		wantPolls  int
		wantStatus string
		wantDetail string
	}{
		{
			name:       "runs to success",
			steps:      []reading{{desc: "Initializing"}, {desc: "Running"}, {desc: "Finished", log: "done"}},
			wantState:  Success,
			wantPolls:  3,
			wantStatus: "Finished",
		},
		{
			name:       "failure carries the log",
			steps:      []reading{{desc: "Running"}, {desc: "Failed", log: "ERROR: table missing"}},
			wantState:  Failure,
			wantPolls:  2,
			wantStatus: "Failed",
			wantDetail: "ERROR: table missing",
		},
		{
			name:       "finished with errors is a failure",
			steps:      []reading{{desc: "Finished (with errors)", log: "step 3 failed"}},
			wantState:  Failure,
			wantPolls:  1,
			wantStatus: "Finished (with errors)",
			wantDetail: "step 3 failed",
		},
		{
			name:       "stopped is a failure",
			steps:      []reading{{desc: "Stopped"}},
			wantState:  Failure,
			wantPolls:  1,
			wantStatus: "Stopped",
		},
		{
			name:       "connection errors are retried",
			steps:      []reading{{err: refused}, {err: refused}, {desc: "Finished"}},
			wantState:  Success,
			wantPolls:  3,
			wantStatus: "Finished",
		},
		{
			name:       "poll budget ends in timeout",
			steps:      []reading{{desc: "Running"}},
			maxPolls:   4,
			wantState:  Timeout,
			wantPolls:  4,
			wantStatus: "Running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := &scripted{steps: tt.steps}
			cfg := fastConfig()
			cfg.MaxPolls = tt.maxPolls
			m := New(context.Background(), reader, cfg, nil)

			out := m.Watch(context.Background(), testHandle)

			if out.State != tt.wantState {
				t.Errorf("State = %s, want %s", out.State, tt.wantState)
			}
			if out.Polls != tt.wantPolls {
				t.Errorf("Polls = %d, want %d", out.Polls, tt.wantPolls)
			}
			if out.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", out.Status, tt.wantStatus)
			}
			if out.Detail != tt.wantDetail {
				t.Errorf("Detail = %q, want %q", out.Detail, tt.wantDetail)
			}
			if out.Handle != testHandle {
				t.Errorf("Handle = %+v", out.Handle)
			}
		})
	}
}

func TestWatch_Deadline(t *testing.T) {
	reader := &scripted{steps: []reading{{desc: "Running"}}}
	m := New(context.Background(), reader, Config{Interval: 5 * time.Millisecond, MaxWait: 40 * time.Millisecond}, nil)

	out := m.Watch(context.Background(), testHandle)
	if out.State != Timeout {
		t.Fatalf("State = %s, want timeout", out.State)
	}
	if err := out.Err(); !errs.IsTimeout(err) {
		t.Errorf("Err() = %v, want a timeout", err)
	}
}

func TestWatch_Cancelled(t *testing.T) {
	reader := &scripted{steps: []reading{{desc: "Running"}}}
	m := New(context.Background(), reader, fastConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := m.Watch(ctx, testHandle)
	if out.State != Cancelled {
		t.Fatalf("State = %s, want cancelled", out.State)
	}
	if err := out.Err(); !errs.IsTimeout(err) || !errors.Is(err, context.Canceled) {
		t.Errorf("Err() = %v, want a timeout caused by cancellation", err)
	}
}

func TestOutcomeErr(t *testing.T) {
	tests := []struct {
		name     string
		out      Outcome
		wantKind error
		wantMsg  string
	}{
		{"success", Outcome{Handle: testHandle, State: Success, Status: "Finished"}, nil, ""},
		{"failure", Outcome{Handle: testHandle, State: Failure, Status: "Finished (with errors)"}, errs.ErrRemoteRejected, "Finished (with errors)"},
		{"failure without status", Outcome{Handle: testHandle, State: Failure}, errs.ErrRemoteRejected, "failure"},
		{"timeout", Outcome{Handle: testHandle, State: Timeout, Status: "Running", Polls: 4}, errs.ErrTimeout, `J_DAILY did not finish after 4 polls (last status "Running")`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.out.Err()
			if tt.wantKind == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Err() = %v, want kind %v", err, tt.wantKind)
			}
			if got := errs.Message(err); got != tt.wantMsg {
				t.Errorf("message = %q, want %q", got, tt.wantMsg)
			}
			if errs.HTTPStatus(err) == 500 {
				t.Errorf("outcome error %v maps to 500", err)
			}
		})
	}
}

func TestPollOnce_TransportErrorIsUnavailable(t *testing.T) {
	reader := &scripted{steps: []reading{{err: errors.New("dial tcp: refused")}}}
	m := New(context.Background(), reader, fastConfig(), nil)

	_, err := m.PollOnce(context.Background(), testHandle)
	if !errs.IsRemoteUnavailable(err) {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestStart_NotifiesOnce(t *testing.T) {
	reader := &scripted{steps: []reading{{desc: "Running"}, {desc: "Finished"}}}
	m := New(context.Background(), reader, fastConfig(), nil)

	var (
		mu    sync.Mutex
		calls []Outcome
	)
	m.Start(testHandle, func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, o)
	})
	m.Wait()

	if len(calls) != 1 {
		t.Fatalf("notify called %d times, want 1", len(calls))
	}
	if calls[0].State != Success {
		t.Errorf("State = %s, want success", calls[0].State)
	}
}

func TestStart_ShutdownCancelsWatches(t *testing.T) {
	reader := &scripted{steps: []reading{{desc: "Running"}}}
	ctx, cancel := context.WithCancel(context.Background())
	m := New(ctx, reader, fastConfig(), nil)

	done := make(chan Outcome, 1)
	m.Start(testHandle, func(o Outcome) { done <- o })
	cancel()

	select {
	case o := <-done:
		if o.State != Cancelled {
			t.Errorf("State = %s, want cancelled", o.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not end on shutdown")
	}
}

func TestWatch_AgainstCarte(t *testing.T) {
	var (
		mu    sync.Mutex
		polls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kettle/jobStatus/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		mu.Lock()
		polls++
		n := polls
		mu.Unlock()
		desc := "Running"
		if n >= 2 {
			desc = "Finished"
		}
		w.Write([]byte(`<jobstatus><id>abc</id><status_desc>` + desc + `</status_desc></jobstatus>`))
	}))
	defer srv.Close()

	m := New(context.Background(), carte.NewClient(carte.Config{BaseURL: srv.URL}), fastConfig(), nil)
	out := m.Watch(context.Background(), testHandle)

	if out.State != Success || out.Polls != 2 {
		t.Errorf("got %s after %d polls, want success after 2", out.State, out.Polls)
	}
}
