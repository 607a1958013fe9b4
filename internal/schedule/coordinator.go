// Package schedule keeps time-based triggers for jobs and dispatches them when
// due. One ticker loop finds due entries and a fixed pool of workers sends
// them to the engine.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"
	"kettleplane/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	DefaultTick      = time.Second
	DefaultGrace     = 60 * time.Second
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// PausedMarker is shown in place of the next run time of a paused entry.
const PausedMarker = "PAUSED"

// Dispatcher starts an artifact on the engine.
type Dispatcher interface {
	Trigger(ctx context.Context, name, directory string, kind runnable.Kind) (carte.Handle, error)
}

// PathResolver turns a directory id into a repository path.
type PathResolver interface {
	ResolvePath(ctx context.Context, id int64) string
}

// Binding ties an entry to the artifact it dispatches.
type Binding struct {
	DirectoryID int64         `json:"directory_id" yaml:"directory_id"`
	Kind        runnable.Kind `json:"kind" yaml:"kind"`
}

// Entry is one scheduled job. A nil NextRun means paused.
type Entry struct {
	JobID   string     `json:"job_id" yaml:"job_id"`
	Binding Binding    `json:"binding" yaml:"binding"`
	Trigger Trigger    `json:"trigger" yaml:"trigger"`
	NextRun *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
}

// Paused reports whether the entry is suspended.
func (e Entry) Paused() bool { return e.NextRun == nil }

// NextRunLabel is the next run time, or PausedMarker.
func (e Entry) NextRunLabel() string {
	if e.NextRun == nil {
		return PausedMarker
	}
	return e.NextRun.Format("2006-01-02 15:04")
}

// Config tunes the coordinator. Zero values pick the defaults.
type Config struct {
	Tick      time.Duration
	Grace     time.Duration
	Workers   int
	QueueSize int
	Location  *time.Location
}

// firing is one due entry handed to a worker.
type firing struct {
	entry Entry
	due   time.Time
}

// Coordinator owns every schedule entry.
type Coordinator struct {
	dispatcher Dispatcher
	paths      PathResolver
	logger     *zap.Logger
	cfg        Config
	now        func() time.Time

	// OnDispatched, when set, is called by a worker after each successful firing.
	OnDispatched func(carte.Handle)

	mu      sync.Mutex
	entries map[string]*Entry

	queue chan firing
	wg    sync.WaitGroup

	firings metric.Int64Counter
}

// New creates a coordinator. Nothing fires until Run is called.
func New(d Dispatcher, paths PathResolver, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	c := &Coordinator{
		dispatcher: d,
		paths:      paths,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		entries:    make(map[string]*Entry),
		queue:      make(chan firing, cfg.QueueSize),
	}

	counter, err := otel.Meter("kettleplane/schedule").Int64Counter("kettleplane.schedule.firings",
		metric.WithDescription("Schedule firings by result"))
	if err != nil {
		logger.Warn("failed to register schedule metric", zap.Error(err))
	}
	c.firings = counter
	return c
}

func (c *Coordinator) validate(jobID string, b Binding) error {
	if strings.TrimSpace(jobID) == "" {
		return errs.E("schedule", errs.ErrValidationFailed, "job id is required", nil)
	}
	if !b.Kind.Valid() {
		return errs.E("schedule", errs.ErrValidationFailed, fmt.Sprintf("invalid kind %q", b.Kind), nil)
	}
	return nil
}

// Upsert adds an entry or replaces the existing entry for jobID.
func (c *Coordinator) Upsert(jobID string, b Binding, t Trigger) (Entry, error) {
	if err := c.validate(jobID, b); err != nil {
		return Entry{}, err
	}
	if t.Kind != Daily && t.Kind != Interval {
		return Entry{}, errs.E("schedule", errs.ErrValidationFailed, "trigger is required", nil)
	}

	next := t.Next(c.now(), c.cfg.Location)
	e := &Entry{JobID: jobID, Binding: b, Trigger: t, NextRun: &next}

	c.mu.Lock()
	_, replaced := c.entries[jobID]
	c.entries[jobID] = e
	out := copyEntry(e)
	c.mu.Unlock()

	c.logger.Info("schedule saved",
		zap.String("job", jobID),
		zap.String("trigger", t.String()),
		zap.Time("next_run", next),
		zap.Bool("replaced", replaced),
	)
	return out, nil
}

// ApplyHint schedules jobID the way the repository's Start entry says.
// A NONE hint leaves the schedule untouched and reports false.
func (c *Coordinator) ApplyHint(jobID string, b Binding, hint store.ScheduleHint) (Entry, bool, error) {
	var (
		t   Trigger
		err error
	)
	switch hint.Type {
	case store.ScheduleHintInterval:
		t, err = EveryMinutes(hint.IntervalMinutes)
	case store.ScheduleHintDaily:
		t, err = DailyAt(hint.Hour, hint.Minute)
	default:
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := c.Upsert(jobID, b, t)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Remove deletes an entry.
func (c *Coordinator) Remove(jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[jobID]; !ok {
		return notFound(jobID)
	}
	delete(c.entries, jobID)
	c.logger.Info("schedule removed", zap.String("job", jobID))
	return nil
}

// Pause suspends an entry without forgetting its trigger.
func (c *Coordinator) Pause(jobID string) (Entry, error) {
	return c.update(jobID, func(e *Entry) {
		e.NextRun = nil
	})
}

// Resume reactivates an entry, computing its next run from now.
func (c *Coordinator) Resume(jobID string) (Entry, error) {
	return c.update(jobID, func(e *Entry) {
		next := e.Trigger.Next(c.now(), c.cfg.Location)
		e.NextRun = &next
	})
}

// Reschedule switches an entry to a daily trigger at hour:minute. A paused
// entry stays paused.
func (c *Coordinator) Reschedule(jobID string, hour, minute int) (Entry, error) {
	t, err := DailyAt(hour, minute)
	if err != nil {
		return Entry{}, err
	}
	return c.update(jobID, func(e *Entry) {
		e.Trigger = t
		if e.NextRun != nil {
			next := t.Next(c.now(), c.cfg.Location)
			e.NextRun = &next
		}
	})
}

func (c *Coordinator) update(jobID string, fn func(*Entry)) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[jobID]
	if !ok {
		return Entry{}, notFound(jobID)
	}
	fn(e)
	c.logger.Info("schedule updated", zap.String("job", jobID), zap.String("next_run", e.NextRunLabel()))
	return copyEntry(e), nil
}

// Get returns one entry.
func (c *Coordinator) Get(jobID string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[jobID]
	if !ok {
		return Entry{}, notFound(jobID)
	}
	return copyEntry(e), nil
}

// List returns every entry ordered by next run; paused entries come last.
func (c *Coordinator) List() []Entry {
	c.mu.Lock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, copyEntry(e))
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Paused() != b.Paused():
			return !a.Paused()
		case !a.Paused() && !a.NextRun.Equal(*b.NextRun):
			return a.NextRun.Before(*b.NextRun)
		}
		return a.JobID < b.JobID
	})
	return out
}

func copyEntry(e *Entry) Entry {
	out := *e
	if e.NextRun != nil {
		next := *e.NextRun
		out.NextRun = &next
	}
	return out
}

func notFound(jobID string) error {
	return errs.E("schedule", errs.ErrNotFound, fmt.Sprintf("no schedule for %s", jobID), nil)
}

// Run starts the worker pool and the tick loop. It blocks until ctx is
// cancelled and every worker has returned.
func (c *Coordinator) Run(ctx context.Context) {
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.logger.Info("scheduler started",
		zap.Int("workers", c.cfg.Workers),
		zap.Duration("tick", c.cfg.Tick),
	)

	ticker := time.NewTicker(c.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			c.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			c.scan(ctx, c.now())
		}
	}
}

// scan queues every entry due at now and advances its next run past now.
// Interval entries advance from their due time, not from now.
// Firings later than the grace period are dropped.
func (c *Coordinator) scan(ctx context.Context, now time.Time) {
	var due []firing

	c.mu.Lock()
	for _, e := range c.entries {
		if e.NextRun == nil || e.NextRun.After(now) {
			continue
		}
		at := *e.NextRun
		next := e.Trigger.Advance(at, now, c.cfg.Location)
		e.NextRun = &next

		if late := now.Sub(at); late > c.cfg.Grace {
			c.record(ctx, "missed")
			c.logger.Warn("schedule misfire dropped",
				zap.String("job", e.JobID),
				zap.Time("due", at),
				zap.Duration("late", late),
			)
			continue
		}
		due = append(due, firing{entry: copyEntry(e), due: at})
	}
	c.mu.Unlock()

	for _, f := range due {
		select {
		case c.queue <- f:
			c.record(ctx, "queued")
		default:
			c.record(ctx, "dropped")
			c.logger.Warn("schedule queue full, firing dropped",
				zap.String("job", f.entry.JobID),
				zap.Time("due", f.due),
			)
		}
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.queue:
			c.fire(ctx, f)
		}
	}
}

func (c *Coordinator) fire(ctx context.Context, f firing) {
	b := f.entry.Binding
	dir := c.paths.ResolvePath(ctx, b.DirectoryID)

	h, err := c.dispatcher.Trigger(ctx, f.entry.JobID, dir, b.Kind)
	if err != nil {
		c.record(ctx, "failed")
		c.logger.Error("scheduled dispatch failed",
			zap.String("job", f.entry.JobID),
			zap.String("directory", dir),
			zap.String("error", errs.Message(err)),
		)
		return
	}
	h.DirectoryID = b.DirectoryID

	c.record(ctx, "dispatched")
	c.logger.Info("scheduled dispatch",
		zap.String("job", f.entry.JobID),
		zap.String("id", h.ID),
		zap.Time("due", f.due),
	)
	if c.OnDispatched != nil {
		c.OnDispatched(h)
	}
}

func (c *Coordinator) record(ctx context.Context, result string) {
	if c.firings == nil {
		return
	}
	c.firings.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
