package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/controller/middleware"
	"kettleplane/internal/monitor"
	"kettleplane/internal/runnable"
	"kettleplane/internal/schedule"
	"kettleplane/internal/store"

	"github.com/go-chi/chi/v5"
)

var testNow = time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)

// testRows is a small repository:
//
//	/etl            sales_dim (trans)
//	/etl/daily      load_sales (job), stage_sales (trans)
func testRows() *store.CatalogRows {
	return &store.CatalogRows{
		Directories: []store.DirectoryRow{
			{ID: 1, ParentID: 0, Name: "etl"},
			{ID: 2, ParentID: 1, Name: "daily"},
		},
		Jobs: []store.ArtifactRow{
			{ID: 1, DirectoryID: 2, Name: "load_sales"},
		},
		Transformations: []store.ArtifactRow{
			{ID: 1, DirectoryID: 2, Name: "stage_sales"},
			{ID: 2, DirectoryID: 1, Name: "sales_dim"},
		},
	}
}

type mockCatalogStore struct {
	rows *store.CatalogRows
	err  error
}

func (m *mockCatalogStore) LoadCatalog(ctx context.Context) (*store.CatalogRows, error) {
	return m.rows, m.err
}

type mockDispatcher struct {
	handle carte.Handle
	err    error

	capturedName string
	capturedDir  string
	capturedKind runnable.Kind
}

func (m *mockDispatcher) Trigger(ctx context.Context, name, directory string, kind runnable.Kind) (carte.Handle, error) {
	m.capturedName, m.capturedDir, m.capturedKind = name, directory, kind
	if m.err != nil {
		return carte.Handle{}, m.err
	}
	h := m.handle
	h.Name, h.Kind = name, kind
	return h, nil
}

type mockMonitor struct {
	status  monitor.Status
	pollErr error
	outcome monitor.Outcome

	capturedPoll carte.Handle
	started      []carte.Handle
}

func (m *mockMonitor) PollOnce(ctx context.Context, h carte.Handle) (monitor.Status, error) {
	m.capturedPoll = h
	return m.status, m.pollErr
}

// Start reports the scripted outcome synchronously.
func (m *mockMonitor) Start(h carte.Handle, notify func(monitor.Outcome)) {
	m.started = append(m.started, h)
	out := m.outcome
	out.Handle = h
	if notify != nil {
		notify(out)
	}
}

type mockProcesses struct {
	procs   []carte.RemoteProcess
	ack     carte.Ack
	stopErr error

	capturedShortID string
	capturedKind    runnable.Kind
}

func (m *mockProcesses) ListActive(ctx context.Context) []carte.RemoteProcess {
	return m.procs
}

func (m *mockProcesses) Stop(ctx context.Context, shortID string, kind runnable.Kind) (carte.Ack, error) {
	m.capturedShortID, m.capturedKind = shortID, kind
	return m.ack, m.stopErr
}

type mockChangeControl struct {
	steps     []store.SqlAttribute
	readErr   error
	updateErr error
	versions  []store.SqlVersion
	version   *store.SqlVersion
	usage     []store.SqlUsage
	err       error

	capturedActor string
	capturedText  string
	capturedLimit int
}

func (m *mockChangeControl) ReadQuery(ctx context.Context, transformation string) ([]store.SqlAttribute, error) {
	return m.steps, m.readErr
}

func (m *mockChangeControl) ProposeUpdate(ctx context.Context, transformation, step, newText, actor string) error {
	m.capturedText, m.capturedActor = newText, actor
	return m.updateErr
}

func (m *mockChangeControl) ListVersions(ctx context.Context, transformation, step string, limit int) ([]store.SqlVersion, error) {
	m.capturedLimit = limit
	return m.versions, m.err
}

func (m *mockChangeControl) ReadVersion(ctx context.Context, id int64) (*store.SqlVersion, error) {
	return m.version, m.err
}

func (m *mockChangeControl) FindUsage(ctx context.Context, term string) ([]store.SqlUsage, error) {
	return m.usage, m.err
}

type mockRuns struct {
	runs   []store.RunRecord
	report *store.FailureReport
	hint   *store.ScheduleHint
	err    error
	isJob  bool
}

func (m *mockRuns) RecentRuns(ctx context.Context, name string, isJob bool) ([]store.RunRecord, error) {
	m.isJob = isJob
	return m.runs, m.err
}

func (m *mockRuns) FailureReport(ctx context.Context) (*store.FailureReport, error) {
	return m.report, m.err
}

func (m *mockRuns) ScheduleHint(ctx context.Context, jobName string) (*store.ScheduleHint, error) {
	return m.hint, m.err
}

type mockAudit struct {
	mu      sync.Mutex
	entries []store.AuditEntry
	addErr  error
	listErr error
}

func (m *mockAudit) AddAuditEntry(ctx context.Context, entry *store.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return m.addErr
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *mockAudit) RecentAuditEntries(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit < len(m.entries) {
		return m.entries[:limit], nil
	}
	return m.entries, nil
}

func (m *mockAudit) UserAuditEntries(ctx context.Context, userID string, limit int) ([]store.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []store.AuditEntry
	for _, e := range m.entries {
		if e.UserID == userID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// RecentSearches returns distinct SEARCH details in insertion order.
func (m *mockAudit) RecentSearches(ctx context.Context, userID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range m.entries {
		if e.UserID != userID || e.ActionType != store.ActionSearch || seen[e.Details] || len(out) >= limit {
			continue
		}
		seen[e.Details] = true
		out = append(out, e.Details)
	}
	return out, nil
}

func (m *mockAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.ActionType
	}
	return out
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

type unusedDispatcher struct{}

func (unusedDispatcher) Trigger(ctx context.Context, name, directory string, kind runnable.Kind) (carte.Handle, error) {
	return carte.Handle{}, nil
}

// fixture bundles the mocks behind one Handlers.
type fixture struct {
	catalogStore *mockCatalogStore
	dispatcher   *mockDispatcher
	monitor      *mockMonitor
	processes    *mockProcesses
	sql          *mockChangeControl
	scheduler    *schedule.Coordinator
	runs         *mockRuns
	audit        *mockAudit
	db           *mockPinger
	engine       *mockPinger
	freeze       *Freeze
}

func newFixture() *fixture {
	f := &fixture{
		catalogStore: &mockCatalogStore{rows: testRows()},
		dispatcher:   &mockDispatcher{handle: carte.Handle{ID: "3f9e2c1a-77aa-4bcd-9e01-5d2c6b8a4f10"}},
		monitor:      &mockMonitor{outcome: monitor.Outcome{State: monitor.Success, Status: "Finished", Polls: 2}},
		processes:    &mockProcesses{},
		sql:          &mockChangeControl{},
		runs:         &mockRuns{},
		audit:        &mockAudit{},
		db:           &mockPinger{},
		engine:       &mockPinger{},
		freeze:       &Freeze{},
	}
	ix := catalog.New(f.catalogStore, nil)
	f.scheduler = schedule.New(unusedDispatcher{}, ix, schedule.Config{Location: time.UTC}, nil)
	return f
}

func (f *fixture) handlers() *Handlers {
	return New(Deps{
		Catalog:       catalog.New(f.catalogStore, nil),
		Dispatcher:    f.dispatcher,
		Monitor:       f.monitor,
		Processes:     f.processes,
		ChangeControl: f.sql,
		Scheduler:     f.scheduler,
		Runs:          f.runs,
		Audit:         f.audit,
		DB:            f.db,
		Engine:        f.engine,
		Freeze:        f.freeze,
	})
}

// router mounts the API behind the operator middleware, as the server does.
func (f *fixture) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Operator)
	f.handlers().Register(r)
	return r
}
