// Package monitor polls Carte for dispatched executions until they reach a
// terminal status, a deadline, or shutdown.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultInterval = 3 * time.Second
	DefaultMaxWait  = 6 * time.Hour
)

// State is the result class of a watch.
type State string

const (
	Success   State = "success"
	Failure   State = "failure"
	Timeout   State = "timeout"
	Cancelled State = "cancelled"
)

// Outcome is reported exactly once per watched handle.
type Outcome struct {
	Handle carte.Handle `json:"handle"`
	State  State        `json:"state"`
	// Status is the last status_desc Carte reported, if any.
	Status string `json:"status,omitempty"`
	// Detail carries the execution log on failure.
	Detail string `json:"detail,omitempty"`
	Polls  int    `json:"polls"`
}

// Err converts the outcome into an error. Success yields nil. A timeout, or a
// watch cancelled before a terminal status, wraps errs.ErrTimeout; a failed
// execution wraps errs.ErrRemoteRejected with the last status as message.
func (o Outcome) Err() error {
	switch o.State {
	case Success:
		return nil
	case Timeout:
		return errs.E("watch", errs.ErrTimeout,
			fmt.Sprintf("%s did not finish after %d polls (last status %q)", o.Handle.Name, o.Polls, o.Status), nil)
	case Cancelled:
		return errs.E("watch", errs.ErrTimeout,
			fmt.Sprintf("watch of %s cancelled before it finished", o.Handle.Name), context.Canceled)
	}
	msg := o.Status
	if msg == "" {
		msg = string(o.State)
	}
	return errs.E("watch", errs.ErrRemoteRejected, msg, nil)
}

// Status is one poll reading.
type Status struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// StatusReader reads one execution's status from the engine.
type StatusReader interface {
	Status(ctx context.Context, kind runnable.Kind, name, id string) (carte.Status, error)
}

// Config bounds a watch. Zero values pick the defaults; MaxPolls 0 means unbounded.
type Config struct {
	Interval time.Duration
	MaxWait  time.Duration
	MaxPolls int
}

// Monitor watches dispatched executions.
type Monitor struct {
	reader   StatusReader
	logger   *zap.Logger
	tracer   trace.Tracer
	interval time.Duration
	maxWait  time.Duration
	maxPolls int

	// ctx ends every background watch on shutdown.
	ctx context.Context
	wg  sync.WaitGroup

	outcomes metric.Int64Counter
}

// New creates a monitor. Watches started with Start end when ctx is cancelled.
func New(ctx context.Context, reader StatusReader, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	m := &Monitor{
		reader:   reader,
		logger:   logger,
		tracer:   otel.Tracer("kettleplane/monitor"),
		interval: cfg.Interval,
		maxWait:  cfg.MaxWait,
		maxPolls: cfg.MaxPolls,
		ctx:      ctx,
	}

	c, err := otel.Meter("kettleplane/monitor").Int64Counter("kettleplane.monitor.outcomes",
		metric.WithDescription("Watched executions by final outcome"))
	if err != nil {
		logger.Warn("failed to register monitor metric", zap.Error(err))
	}
	m.outcomes = c
	return m
}

// PollOnce reads the current status of h. Connection failures come back as
// ErrRemoteUnavailable and are safe to retry.
func (m *Monitor) PollOnce(ctx context.Context, h carte.Handle) (Status, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.PollOnce", trace.WithAttributes(
		attribute.String("kettle.id", h.ID),
		attribute.String("kettle.name", h.Name),
		attribute.String("kettle.kind", h.Kind.String()),
	))
	defer span.End()

	st, err := m.reader.Status(ctx, h.Kind, h.Name, h.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status read failed")
		return Status{}, errs.E("poll", errs.ErrRemoteUnavailable, err.Error(), err)
	}
	span.SetAttributes(attribute.String("kettle.status", st.Desc))
	return Status{Status: st.Desc, Detail: st.Log}, nil
}

// terminal classifies a status_desc. ok is false while the execution is still going.
func terminal(desc string) (State, bool) {
	switch desc {
	case "Finished":
		return Success, true
	case "Finished (with errors)", "Stopped", "Failed":
		return Failure, true
	}
	return "", false
}

// Watch polls h until it finishes, the deadline or poll budget runs out, or
// ctx is cancelled. Polls are issued strictly one after another.
func (m *Monitor) Watch(ctx context.Context, h carte.Handle) Outcome {
	deadline := time.NewTimer(m.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log := m.logger.With(zap.String("id", h.ID), zap.String("name", h.Name), zap.String("kind", h.Kind.String()))
	out := Outcome{Handle: h}

	for {
		select {
		case <-ctx.Done():
			out.State = Cancelled
			return m.finish(log, out)
		case <-deadline.C:
			out.State = Timeout
			return m.finish(log, out)
		case <-ticker.C:
		}

		st, err := m.PollOnce(ctx, h)
		out.Polls++
		if err != nil {
			log.Debug("status poll failed, will retry", zap.Error(err), zap.Int("poll", out.Polls))
		} else {
			out.Status = st.Status
			if state, done := terminal(st.Status); done {
				out.State = state
				if state == Failure {
					out.Detail = st.Detail
				}
				return m.finish(log, out)
			}
		}

		if m.maxPolls > 0 && out.Polls >= m.maxPolls {
			out.State = Timeout
			return m.finish(log, out)
		}
	}
}

func (m *Monitor) finish(log *zap.Logger, out Outcome) Outcome {
	if m.outcomes != nil {
		m.outcomes.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("outcome", string(out.State)),
			attribute.String("kind", out.Handle.Kind.String()),
		))
	}
	fields := []zap.Field{zap.String("outcome", string(out.State)), zap.String("status", out.Status), zap.Int("polls", out.Polls)}
	switch out.State {
	case Success:
		log.Info("execution finished", fields...)
	case Cancelled:
		log.Info("watch cancelled", fields...)
	default:
		log.Warn("execution did not succeed", fields...)
	}
	return out
}

// Start watches h in the background and calls notify once with the outcome.
func (m *Monitor) Start(h carte.Handle, notify func(Outcome)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		out := m.Watch(m.ctx, h)
		if notify != nil {
			notify(out)
		}
	}()
}

// Wait blocks until every watch started with Start has reported.
func (m *Monitor) Wait() {
	m.wg.Wait()
}
