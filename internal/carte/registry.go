package carte

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"

	"go.uber.org/zap"
)

// ShortIDLen is how many characters of a Carte id are shown to operators.
const ShortIDLen = 8

// StopAck is the acknowledgement text of a delivered stop request.
const StopAck = "Stop signal sent"

// ShortID truncates a Carte id for display.
func ShortID(id string) string {
	if len(id) <= ShortIDLen {
		return id
	}
	return id[:ShortIDLen]
}

// RemoteProcess is one entry of Carte's live listing.
type RemoteProcess struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Kind       runnable.Kind `json:"kind"`
	StatusDesc string        `json:"status"`
}

// Ack confirms a stop request reached Carte. Delivery is best effort.
type Ack struct {
	Message string `json:"message"`
}

// ListProcesses returns every job and transformation Carte knows about,
// finished ones included.
func (c *Client) ListProcesses(ctx context.Context) ([]RemoteProcess, error) {
	code, body, err := c.get(ctx, "status", []param{{"xml", "Y"}}, ListTimeout)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", code)
	}
	doc, err := decodeServerStatus(body)
	if err != nil {
		return nil, fmt.Errorf("decode status listing: %w", err)
	}

	out := make([]RemoteProcess, 0, len(doc.JobList)+len(doc.TransList))
	for _, j := range doc.JobList {
		out = append(out, RemoteProcess{ID: j.ID, Name: j.JobName, Kind: runnable.Job, StatusDesc: j.StatusDesc})
	}
	for _, t := range doc.TransList {
		out = append(out, RemoteProcess{ID: t.ID, Name: t.TransName, Kind: runnable.Transformation, StatusDesc: t.StatusDesc})
	}
	return out, nil
}

// stop sends the stop request for one process.
func (c *Client) stop(ctx context.Context, p RemoteProcess) (Ack, error) {
	ep := p.Kind.Endpoints()
	code, _, err := c.get(ctx, ep.Stop, []param{
		{ep.NameParam, p.Name},
		{"id", p.ID},
		{"xml", "Y"},
	}, StopTimeout)
	if err != nil {
		return Ack{}, errs.E("stop", errs.ErrRemoteUnavailable, err.Error(), err)
	}
	if code != http.StatusOK {
		return Ack{}, errs.E("stop", errs.ErrRemoteRejected, fmt.Sprintf("HTTP Error %d", code), nil)
	}
	return Ack{Message: StopAck}, nil
}

// active reports whether p is still doing work. Jobs are only counted while
// running or starting; transformations are counted unless they are done or idle.
func active(p RemoteProcess) bool {
	switch p.Kind {
	case runnable.Job:
		return p.StatusDesc == "Running" || p.StatusDesc == "Initializing"
	case runnable.Transformation:
		switch p.StatusDesc {
		case "Finished", "Stopped", "Stopped (with errors)", "Waiting":
			return false
		}
		return true
	}
	return false
}

// Registry answers "what is running" and stops processes by id prefix.
// Nothing is cached; every call reads Carte.
type Registry struct {
	client *Client
	logger *zap.Logger
}

// NewRegistry creates a registry over c.
func NewRegistry(c *Client, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{client: c, logger: logger}
}

// ListActive returns live jobs then live transformations. When Carte cannot
// be read the result is empty and the failure is only logged.
func (r *Registry) ListActive(ctx context.Context) []RemoteProcess {
	procs, err := r.activeProcesses(ctx)
	if err != nil {
		r.logger.Warn("failed to list carte processes", zap.Error(err))
		return []RemoteProcess{}
	}
	return procs
}

func (r *Registry) activeProcesses(ctx context.Context) ([]RemoteProcess, error) {
	all, err := r.client.ListProcesses(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]RemoteProcess, 0, len(all))
	for _, p := range all {
		if active(p) {
			live = append(live, p)
		}
	}
	return live, nil
}

// Stop finds the single live process whose id starts with shortID and asks
// Carte to stop it. An empty kind matches both kinds. The matched process's
// own kind picks the stop endpoint.
func (r *Registry) Stop(ctx context.Context, shortID string, kind runnable.Kind) (Ack, error) {
	prefix := strings.TrimSpace(shortID)
	if prefix == "" {
		return Ack{}, errs.E("stop", errs.ErrNotFound, "Process not found", nil)
	}

	procs, err := r.activeProcesses(ctx)
	if err != nil {
		return Ack{}, errs.E("stop", errs.ErrRemoteUnavailable, err.Error(), err)
	}

	var matches []RemoteProcess
	seen := map[string]bool{}
	for _, p := range procs {
		if kind != "" && p.Kind != kind {
			continue
		}
		if !strings.HasPrefix(p.ID, prefix) {
			continue
		}
		key := string(p.Kind) + "/" + p.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		matches = append(matches, p)
	}

	switch len(matches) {
	case 0:
		return Ack{}, errs.E("stop", errs.ErrNotFound, "Process not found", nil)
	case 1:
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return Ack{}, errs.E("stop", errs.ErrAmbiguousMatch,
			fmt.Sprintf("id prefix %q matches %d processes: %s", prefix, len(matches), strings.Join(ids, ", ")), nil)
	}

	target := matches[0]
	ack, err := r.client.stop(ctx, target)
	if err != nil {
		r.logger.Warn("stop failed",
			zap.String("id", target.ID),
			zap.String("name", target.Name),
			zap.Error(err),
		)
		return Ack{}, err
	}
	r.logger.Info("stop signal sent",
		zap.String("id", target.ID),
		zap.String("name", target.Name),
		zap.String("kind", target.Kind.String()),
	)
	return ack, nil
}
