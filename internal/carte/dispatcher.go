package carte

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// UnknownID is reported when Carte accepted a dispatch but its answer carried no id.
const UnknownID = "Started (ID Unknown)"

const errWithoutMessage = "Carte returned error without message"

// Handle identifies one dispatched execution. It is never persisted.
type Handle struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Kind        runnable.Kind `json:"kind"`
	DirectoryID int64         `json:"directory_id"`
}

// strategy is one way of addressing an artifact. Carte resolves repository
// paths differently across versions, so several spellings are tried.
type strategy struct {
	label string
	dir   string
	name  string
}

func strategies(directory, name string) []strategy {
	return []strategy{
		{label: "dir+name", dir: directory, name: name},
		{label: "root+path", dir: "/", name: collapse(directory + "/" + name)},
		{label: "relative", dir: strings.TrimLeft(directory, "/"), name: name},
	}
}

func collapse(p string) string {
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// Dispatcher starts jobs and transformations on Carte.
type Dispatcher struct {
	client *Client
	logger *zap.Logger
	tracer trace.Tracer

	dispatches metric.Int64Counter
	attempts   metric.Int64Counter
}

// NewDispatcher creates a dispatcher over c.
func NewDispatcher(c *Client, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		client: c,
		logger: logger,
		tracer: otel.Tracer("kettleplane/carte"),
	}

	meter := otel.Meter("kettleplane/carte")
	var err error
	if d.dispatches, err = meter.Int64Counter("kettleplane.dispatch.total",
		metric.WithDescription("Dispatch requests by kind and result")); err != nil {
		logger.Warn("failed to register dispatch metric", zap.Error(err))
	}
	if d.attempts, err = meter.Int64Counter("kettleplane.dispatch.attempts",
		metric.WithDescription("Addressing attempts sent to Carte")); err != nil {
		logger.Warn("failed to register dispatch attempts metric", zap.Error(err))
	}
	return d
}

// attempt is the outcome of one addressing strategy.
type attempt struct {
	id        string
	ok        bool
	transport bool // the request never got a response
	message   string
}

// Trigger dispatches name in directory, trying each addressing strategy in
// order until Carte accepts one. When all fail, the error carries the last
// failure text as is: ErrRemoteUnavailable if no attempt reached Carte,
// ErrRemoteRejected otherwise.
func (d *Dispatcher) Trigger(ctx context.Context, name, directory string, kind runnable.Kind) (Handle, error) {
	ctx, span := d.tracer.Start(ctx, "carte.Trigger", trace.WithAttributes(
		attribute.String("kettle.name", name),
		attribute.String("kettle.directory", directory),
		attribute.String("kettle.kind", kind.String()),
	))
	defer span.End()

	if !kind.Valid() {
		return Handle{}, errs.E("dispatch", errs.ErrValidationFailed, "unknown artifact kind", nil)
	}

	var last attempt
	allTransport := true
	for i, s := range strategies(directory, name) {
		last = d.try(ctx, kind, s)
		d.count(ctx, d.attempts, attribute.String("kind", kind.String()), attribute.String("strategy", s.label))
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.String("kettle.strategy", s.label),
			attribute.Bool("kettle.accepted", last.ok),
		))

		if last.ok {
			span.SetAttributes(attribute.String("kettle.id", last.id), attribute.Int("kettle.attempt", i+1))
			d.count(ctx, d.dispatches, attribute.String("kind", kind.String()), attribute.String("result", "ok"))
			d.logger.Info("dispatched",
				zap.String("name", name),
				zap.String("directory", directory),
				zap.String("kind", kind.String()),
				zap.String("strategy", s.label),
				zap.String("id", last.id),
			)
			return Handle{ID: last.id, Name: name, Kind: kind}, nil
		}

		allTransport = allTransport && last.transport
		d.logger.Debug("dispatch attempt failed",
			zap.String("name", name),
			zap.String("strategy", s.label),
			zap.String("error", last.message),
		)
	}

	kindErr := errs.ErrRemoteRejected
	result := "rejected"
	if allTransport {
		kindErr = errs.ErrRemoteUnavailable
		result = "unavailable"
	}
	d.count(ctx, d.dispatches, attribute.String("kind", kind.String()), attribute.String("result", result))
	span.SetStatus(codes.Error, last.message)
	d.logger.Warn("dispatch failed",
		zap.String("name", name),
		zap.String("directory", directory),
		zap.String("kind", kind.String()),
		zap.String("error", last.message),
	)
	return Handle{}, errs.E("dispatch", kindErr, last.message, nil)
}

func (d *Dispatcher) try(ctx context.Context, kind runnable.Kind, s strategy) attempt {
	ep := kind.Endpoints()
	repo := d.client.repo
	params := []param{
		{"rep", repo.Name},
		{"user", repo.User},
		{"pass", repo.Password},
		{"dir", s.dir},
		{ep.ExecuteNameParam, s.name},
		{"level", "Basic"},
	}

	code, body, err := d.client.get(ctx, ep.Execute, params, ExecuteTimeout)
	if err != nil {
		if code == 0 {
			return attempt{transport: true, message: err.Error()}
		}
		return attempt{message: err.Error()}
	}
	if code != http.StatusOK {
		return attempt{message: fmt.Sprintf("HTTP %d", code)}
	}

	r, err := decodeWebResult(body)
	if err != nil {
		// Not a webresult document; fall back to a plain text check.
		if bytes.Contains(body, []byte("OK")) {
			return attempt{ok: true, id: UnknownID}
		}
		return attempt{message: errWithoutMessage}
	}

	if strings.EqualFold(strings.TrimSpace(r.Result), "OK") {
		id := UnknownID
		if strings.TrimSpace(r.ID) != "" {
			id = strings.TrimSpace(r.ID)
		}
		return attempt{ok: true, id: id}
	}

	msg := errWithoutMessage
	if strings.TrimSpace(r.Message) != "" {
		msg = strings.TrimSpace(r.Message)
	}
	return attempt{message: msg}
}

func (d *Dispatcher) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
