package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/monitor"
	"kettleplane/internal/runnable"
	"kettleplane/internal/schedule"
	"kettleplane/internal/store"
)

// MockRefresher fails the first Failures fetches.
type MockRefresher struct {
	Failures int32
	calls    atomic.Int32
}

func (m *MockRefresher) Fetch(ctx context.Context) (*catalog.Tree, error) {
	n := m.calls.Add(1)
	if n <= m.Failures {
		return nil, errors.New("repository unreachable")
	}
	return catalog.Build(&store.CatalogRows{}, time.Now()), nil
}

// MockScheduler blocks in Run until cancelled.
type MockScheduler struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (m *MockScheduler) Run(ctx context.Context) {
	m.started.Store(true)
	<-ctx.Done()
	m.stopped.Store(true)
}

// MockWatcher reports a fixed outcome after a short delay.
type MockWatcher struct {
	wg      sync.WaitGroup
	mu      sync.Mutex
	started []carte.Handle
}

func (m *MockWatcher) Start(h carte.Handle, notify func(monitor.Outcome)) {
	m.mu.Lock()
	m.started = append(m.started, h)
	m.mu.Unlock()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		time.Sleep(20 * time.Millisecond)
		notify(monitor.Outcome{Handle: h, State: monitor.Success, Polls: 1})
	}()
}

func (m *MockWatcher) Wait() { m.wg.Wait() }

func TestNew_Defaults(t *testing.T) {
	a := New(&MockRefresher{}, nil, nil, AgentConfig{}, nil)

	if a.config.RefreshInterval != 10*time.Minute {
		t.Errorf("expected RefreshInterval 10m, got %v", a.config.RefreshInterval)
	}
	if a.config.RetryInterval != 5*time.Second {
		t.Errorf("expected RetryInterval 5s, got %v", a.config.RetryInterval)
	}
	if a.config.MaxBackoff != a.config.RefreshInterval {
		t.Errorf("expected MaxBackoff to default to RefreshInterval, got %v", a.config.MaxBackoff)
	}
}

func TestNew_DoneChannelInitialized(t *testing.T) {
	a := New(&MockRefresher{}, nil, nil, AgentConfig{}, nil)

	select {
	case <-a.Done():
		t.Error("Done channel should not be closed before Run")
	default:
	}
}

func TestRun_GracefulShutdown(t *testing.T) {
	sched := &MockScheduler{}
	a := New(&MockRefresher{}, sched, &MockWatcher{}, AgentConfig{RefreshInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not shut down")
	}

	if !sched.started.Load() || !sched.stopped.Load() {
		t.Error("expected scheduler to start and stop")
	}
	select {
	case <-a.Done():
	default:
		t.Error("Done channel should be closed after Run returns")
	}
}

func TestRun_RetriesFailedRefreshWithBackoff(t *testing.T) {
	ref := &MockRefresher{Failures: 2}
	a := New(ref, nil, nil, AgentConfig{
		RefreshInterval: time.Hour,
		RetryInterval:   10 * time.Millisecond,
		MaxBackoff:      20 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	a.Run(ctx)

	// two failures then one success; the hour interval stops further calls
	if got := ref.calls.Load(); got != 3 {
		t.Errorf("expected 3 fetches, got %d", got)
	}
	if a.backoff != 0 {
		t.Errorf("expected backoff reset after success, got %v", a.backoff)
	}
}

func TestRefresh_BackoffIsCapped(t *testing.T) {
	a := New(&MockRefresher{Failures: 100}, nil, nil, AgentConfig{
		RefreshInterval: time.Minute,
		RetryInterval:   time.Second,
		MaxBackoff:      3 * time.Second,
	}, nil)

	var waits []time.Duration
	for i := 0; i < 4; i++ {
		waits = append(waits, a.refresh(context.Background()))
	}

	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("attempt %d: got wait %v, want %v", i, waits[i], want[i])
		}
	}
}

func TestWatch_ReportsOutcomeAndDrainsOnShutdown(t *testing.T) {
	watcher := &MockWatcher{}
	a := New(&MockRefresher{}, nil, watcher, AgentConfig{RefreshInterval: time.Hour}, nil)

	var got atomic.Value
	a.OnOutcome = func(out monitor.Outcome) { got.Store(out) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Watch(carte.Handle{ID: "abc", Name: "load_sales", Kind: runnable.Job})
	cancel()
	<-done

	out, ok := got.Load().(monitor.Outcome)
	if !ok {
		t.Fatal("expected outcome to be reported before Run returned")
	}
	if out.Handle.ID != "abc" || out.State != monitor.Success {
		t.Errorf("unexpected outcome: %+v", out)
	}
}

func TestWatch_NoWatcher(t *testing.T) {
	a := New(&MockRefresher{}, nil, nil, AgentConfig{}, nil)
	a.Watch(carte.Handle{ID: "abc"}) // must not panic
}

func TestLoadSchedules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.yaml")
	content := `
schedules:
  - job_id: load_sales
    directory_id: 2
    kind: job
    trigger: daily 02:30
    paused: false
  - job_id: stage_sales
    directory_id: 2
    kind: trans
    trigger: every 15 minutes
    paused: true
    next_run_label: PAUSED
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write schedule file: %v", err)
	}

	coord := schedule.New(nil, nil, schedule.Config{Location: time.UTC}, nil)
	n, err := LoadSchedules(path, coord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}

	e, err := coord.Get("stage_sales")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.Paused() || e.Binding.Kind != runnable.Transformation || e.Trigger.Every != 15 {
		t.Errorf("unexpected entry: %+v", e)
	}
	if e, _ := coord.Get("load_sales"); e.Paused() || e.Trigger.Hour != 2 {
		t.Errorf("unexpected entry: %+v", e)
	}
}

func TestLoadSchedules_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "schedules: [oops"},
		{"bad trigger", "schedules:\n  - job_id: x\n    trigger: hourly\n"},
		{"bad kind", "schedules:\n  - job_id: x\n    kind: report\n    trigger: daily 01:00\n"},
		{"missing job id", "schedules:\n  - trigger: daily 01:00\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatalf("failed to write schedule file: %v", err)
			}
			coord := schedule.New(nil, nil, schedule.Config{}, nil)
			if _, err := LoadSchedules(path, coord); err == nil {
				t.Error("expected error")
			}
		})
	}

	coord := schedule.New(nil, nil, schedule.Config{}, nil)
	if _, err := LoadSchedules(filepath.Join(dir, "missing.yaml"), coord); err == nil {
		t.Error("expected error for missing file")
	}
}
