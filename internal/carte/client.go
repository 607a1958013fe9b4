// Package carte talks to the Pentaho Carte server: dispatching jobs and
// transformations, reading their status, listing live work and stopping it.
package carte

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"
)

// Per-call timeouts.
const (
	ExecuteTimeout = 10 * time.Second
	StatusTimeout  = 2 * time.Second
	StopTimeout    = 5 * time.Second
	ListTimeout    = 5 * time.Second
)

// maxBodyBytes caps how much of a Carte response is read.
const maxBodyBytes = 8 << 20

// Repository identifies the Kettle repository Carte should load artifacts from.
type Repository struct {
	Name     string
	User     string
	Password string
}

// Config holds connection settings for a Carte server.
type Config struct {
	// BaseURL is the server root, e.g. "http://carte:8081". Endpoints live under /kettle/.
	BaseURL    string
	User       string
	Password   string
	Repository Repository
	// HTTPClient is optional; a client without a global timeout is used by default
	// since every call sets its own deadline.
	HTTPClient *http.Client
}

// Client is a thin HTTP client for Carte's XML endpoints.
type Client struct {
	base       string
	user       string
	password   string
	repo       Repository
	httpClient *http.Client
}

// NewClient creates a new Carte client.
func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		user:       cfg.User,
		password:   cfg.Password,
		repo:       cfg.Repository,
		httpClient: hc,
	}
}

// param is one query parameter. Order is preserved on the wire.
type param struct {
	key, value string
}

// encodeQuery percent-encodes params, leaving "/" readable and encoding spaces as %20.
func encodeQuery(params []param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escape(p.key))
		b.WriteByte('=')
		b.WriteString(escape(p.value))
	}
	return b.String()
}

func escape(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	return strings.ReplaceAll(e, "%2F", "/")
}

// endpointURL builds <base>/kettle/<endpoint>/?<query>.
func (c *Client) endpointURL(endpoint string, params []param) string {
	u := fmt.Sprintf("%s/kettle/%s/", c.base, endpoint)
	if len(params) > 0 {
		u += "?" + encodeQuery(params)
	}
	return u
}

// get issues an authenticated GET with its own deadline and returns the status
// code and body. A non-nil error means the request never produced a response.
func (c *Client) get(ctx context.Context, endpoint string, params []param, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(endpoint, params), nil)
	if err != nil {
		return 0, nil, err
	}
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	req.Header.Set("Accept", "text/xml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

// Ping checks that Carte answers its status page with the configured
// credentials.
func (c *Client) Ping(ctx context.Context) error {
	code, _, err := c.get(ctx, "status", nil, StatusTimeout)
	if err != nil {
		return errs.E("ping", errs.ErrRemoteUnavailable, "", err)
	}
	if code != http.StatusOK {
		return errs.E("ping", errs.ErrRemoteRejected, fmt.Sprintf("HTTP %d", code), nil)
	}
	return nil
}

// Status is one reading of a dispatched execution.
type Status struct {
	Desc string // status_desc, e.g. "Running", "Finished (with errors)"
	Log  string // logging_string, decoded when Carte ships it zipped
}

// Status reads the current status of one execution.
func (c *Client) Status(ctx context.Context, kind runnable.Kind, name, id string) (Status, error) {
	ep := kind.Endpoints()
	code, body, err := c.get(ctx, ep.Status, []param{
		{ep.NameParam, name},
		{"id", id},
		{"xml", "Y"},
	}, StatusTimeout)
	if err != nil {
		return Status{}, err
	}
	if code != http.StatusOK {
		return Status{}, fmt.Errorf("HTTP %d", code)
	}

	doc, err := decodeExecutionStatus(body)
	if err != nil {
		return Status{}, err
	}
	log := decodeLoggingString(doc.LoggingString)
	if log == "" {
		log = doc.ErrorDesc
	}
	return Status{Desc: doc.StatusDesc, Log: log}, nil
}
