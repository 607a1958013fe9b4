// Package worker runs the background side of kettleplane: the schedule loop,
// periodic catalog refreshes and the watches of scheduled executions.
package worker

import (
	"context"
	"sync"
	"time"

	"kettleplane/internal/carte"
	"kettleplane/internal/catalog"
	"kettleplane/internal/errs"
	"kettleplane/internal/monitor"

	"go.uber.org/zap"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID string
	// RefreshInterval is how often the catalog is reloaded (default: 10m).
	RefreshInterval time.Duration
	// RetryInterval is the first wait after a failed refresh (default: 5s).
	RetryInterval time.Duration
	// MaxBackoff caps the wait between failed refreshes (default: RefreshInterval).
	MaxBackoff time.Duration
}

// Refresher reloads the catalog.
type Refresher interface {
	Fetch(ctx context.Context) (*catalog.Tree, error)
}

// Scheduler runs the schedule loop until ctx ends.
type Scheduler interface {
	Run(ctx context.Context)
}

// Watcher follows dispatched executions to completion.
type Watcher interface {
	Start(h carte.Handle, notify func(monitor.Outcome))
	Wait()
}

// Agent ties the background loops together.
type Agent struct {
	catalog   Refresher
	scheduler Scheduler
	watcher   Watcher
	logger    *zap.Logger
	config    AgentConfig
	done      chan struct{}
	backoff   time.Duration

	// OnOutcome, when set, receives every outcome of a watch started by Watch.
	OnOutcome func(monitor.Outcome)
}

// New creates a new worker agent. scheduler may be nil to run refreshes only.
func New(cat Refresher, scheduler Scheduler, watcher Watcher, config AgentConfig, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = 10 * time.Minute
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 5 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = config.RefreshInterval
	}

	return &Agent{
		catalog:   cat,
		scheduler: scheduler,
		watcher:   watcher,
		logger:    logger.With(zap.String("agent", config.ID)),
		config:    config,
		done:      make(chan struct{}),
	}
}

// Run starts the schedule loop and refreshes the catalog until ctx is
// cancelled. On shutdown it waits for the scheduler's workers and for every
// watch to report before returning.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting",
		zap.Duration("refresh_interval", a.config.RefreshInterval),
	)

	var wg sync.WaitGroup
	if a.scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.scheduler.Run(ctx)
		}()
	}

	// Current wait (grows on failed refreshes, resets on success)
	wait := a.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for scheduler and watches to finish")
			wg.Wait()
			if a.watcher != nil {
				a.watcher.Wait()
			}
			close(a.done)
			return ctx.Err()

		case <-time.After(wait):
			wait = a.refresh(ctx)
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// refresh reloads the catalog and returns how long to wait before the next
// attempt. Failures back off exponentially, capped at MaxBackoff.
func (a *Agent) refresh(ctx context.Context) time.Duration {
	tree, err := a.catalog.Fetch(ctx)
	if err == nil {
		a.backoff = 0
		a.logger.Info("catalog refreshed",
			zap.Int("directories", tree.Len()),
			zap.Int("artifacts", tree.ArtifactCount()),
		)
		return a.config.RefreshInterval
	}
	if ctx.Err() != nil {
		return a.config.RefreshInterval
	}

	if a.backoff == 0 {
		a.backoff = a.config.RetryInterval
	} else {
		a.backoff *= 2
	}
	if a.backoff > a.config.MaxBackoff {
		a.backoff = a.config.MaxBackoff
	}
	a.logger.Warn("catalog refresh failed", zap.Error(err), zap.Duration("retry_in", a.backoff))
	return a.backoff
}

// Watch follows h in the background. It is meant as the scheduler's
// dispatch hook.
func (a *Agent) Watch(h carte.Handle) {
	if a.watcher == nil {
		return
	}
	a.watcher.Start(h, func(out monitor.Outcome) {
		fields := []zap.Field{
			zap.String("id", out.Handle.ID),
			zap.String("name", out.Handle.Name),
			zap.String("state", string(out.State)),
			zap.Int("polls", out.Polls),
		}
		if err := out.Err(); err != nil {
			a.logger.Warn("scheduled execution did not succeed", append(fields, zap.String("reason", errs.Message(err)))...)
		} else {
			a.logger.Info("scheduled execution finished", fields...)
		}
		if a.OnOutcome != nil {
			a.OnOutcome(out)
		}
	})
}
