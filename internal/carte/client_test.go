package carte

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"kettleplane/internal/errs"
	"kettleplane/internal/runnable"
)

// newTestClient points a client at h and returns it with the server.
func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewClient(Config{
		BaseURL:  srv.URL + "/",
		User:     "cluster",
		Password: "secret",
		Repository: Repository{
			Name:     "repo",
			User:     "admin",
			Password: "pw",
		},
	})
	return c, srv
}

func TestEncodeQuery(t *testing.T) {
	tests := []struct {
		name   string
		params []param
		want   string
	}{
		{"plain", []param{{"a", "b"}}, "a=b"},
		{"slashes kept", []param{{"dir", "/etl/daily"}}, "dir=/etl/daily"},
		{"spaces", []param{{"job", "Load Orders"}}, "job=Load%20Orders"},
		{"order kept", []param{{"z", "1"}, {"a", "2"}}, "z=1&a=2"},
		{"reserved", []param{{"pass", "p&w=d"}}, "pass=p%26w%3Dd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeQuery(tt.params); got != tt.want {
				t.Errorf("encodeQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatus_Success(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kettle/transStatus/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.RawQuery != "trans=T_LOAD&id=abc&xml=Y" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cluster" || pass != "secret" {
			t.Errorf("expected basic auth, got %q/%q", user, pass)
		}
		w.Write([]byte(`<?xml version="1.0"?><transstatus><id>abc</id><status_desc>Running</status_desc><logging_string>step 1</logging_string></transstatus>`))
	})

	st, err := c.Status(context.Background(), runnable.Transformation, "T_LOAD", "abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Desc != "Running" {
		t.Errorf("Desc = %q, want Running", st.Desc)
	}
	if st.Log != "step 1" {
		t.Errorf("Log = %q, want plain log", st.Log)
	}
}

func TestStatus_Non200(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Status(context.Background(), runnable.Job, "J", "1")
	if err == nil || err.Error() != "HTTP 500" {
		t.Fatalf("expected HTTP 500 error, got %v", err)
	}
}

func TestStatus_MissingStatusDesc(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<jobstatus><id>1</id></jobstatus>`))
	})

	if _, err := c.Status(context.Background(), runnable.Job, "J", "1"); err == nil {
		t.Fatal("expected error for status without status_desc")
	}
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kettle/status/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "cluster" || p != "secret" {
			t.Errorf("missing basic auth: %q %q", u, p)
		}
		w.Write([]byte(`<html>Status</html>`))
	})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPing_Failures(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if err := c.Ping(context.Background()); !errs.IsRemoteRejected(err) {
		t.Errorf("401: expected rejected, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	if err := NewClient(Config{BaseURL: url}).Ping(context.Background()); !errs.IsRemoteUnavailable(err) {
		t.Errorf("closed server: expected unavailable, got %v", err)
	}
}

func TestDecodeLoggingString(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte("2026/10/14 - Start of job execution"))
	zw.Close()
	packed := base64.StdEncoding.EncodeToString(buf.Bytes())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "  ", ""},
		{"plain text", "not base64 at all!", "not base64 at all!"},
		{"base64 but not gzip", base64.StdEncoding.EncodeToString([]byte("hello")), base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"zipped", "\n" + packed + "\n", "2026/10/14 - Start of job execution"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decodeLoggingString(tt.in); got != tt.want {
				t.Errorf("decodeLoggingString() = %q, want %q", got, tt.want)
			}
		})
	}
}
