package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kettleplane/pkg/api"

	"github.com/spf13/viper"
)

func TestRunCommand_Success(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST method, got %s", r.Method)
		}
		if r.URL.Path != "/executions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected Bearer token, got: %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get(api.OperatorHeader) != "ops.alice" {
			t.Errorf("expected operator header, got: %s", r.Header.Get(api.OperatorHeader))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got: %s", r.Header.Get("Content-Type"))
		}

		var req api.DispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Name != "load_sales" || req.DirectoryID != 12 || req.Kind != "job" {
			t.Errorf("unexpected request: %+v", req)
		}

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.DispatchResponse{
			ID:      "3f9e2c1a-77aa-4bcd-9e01-5d2c6b8a4f10",
			ShortID: "3f9e2c1a",
			Name:    "load_sales",
			Kind:    "job",
			Path:    "/etl/daily",
		})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("token", "test-token")
	viper.Set("operator", "ops.alice")

	output := execute(t, "run", "load_sales", "--dir", "12", "--kind", "job")

	if !strings.Contains(output, "Execution started") {
		t.Errorf("expected success message, got: %s", output)
	}
	if !strings.Contains(output, "3f9e2c1a-77aa-4bcd-9e01-5d2c6b8a4f10") {
		t.Errorf("expected execution ID in output, got: %s", output)
	}
	if !strings.Contains(output, "/etl/daily") {
		t.Errorf("expected path in output, got: %s", output)
	}
}

func TestRunCommand_MissingOperator(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without an operator")
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("operator", "")

	output := execute(t, "run", "load_sales", "--dir", "12", "--kind", "job")

	if !strings.Contains(output, "Operator ID not found") {
		t.Errorf("expected operator error message, got: %s", output)
	}
}

func TestRunCommand_NoTokenSendsNoAuthorization(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("expected no Authorization header, got: %s", got)
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.DispatchResponse{ID: "exec-1", ShortID: "exec-1"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("operator", "ops.alice")

	output := execute(t, "run", "load_sales", "--dir", "12", "--kind", "job")
	if !strings.Contains(output, "exec-1") {
		t.Errorf("expected execution ID in output, got: %s", output)
	}
}

func TestRunCommand_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"server error", http.StatusInternalServerError, "Internal Server Error", "Error (500): Internal Server Error"},
		{"not found", http.StatusNotFound, `{"error":"no job named load_sales in /etl","code":"404"}`, "Error (404): no job named load_sales in /etl"},
		{"rejected", http.StatusBadGateway, `{"error":"Carte rejected the request"}`, "Error (502): Carte rejected the request"},
		{"unauthorized", http.StatusUnauthorized, "Invalid or expired token", "Error (401)"},
		{"invalid json", http.StatusAccepted, "not-valid-json", "failed to parse response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			viper.Set("url", server.URL)
			viper.Set("token", "test-token")
			viper.Set("operator", "ops.alice")

			output := execute(t, "run", "load_sales", "--dir", "12", "--kind", "job")
			if !strings.Contains(output, tt.want) {
				t.Errorf("expected %q in output, got: %s", tt.want, output)
			}
		})
	}
}

func TestRunCommand_JSONOutput(t *testing.T) {
	resetViper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.DispatchResponse{ID: "exec-9", ShortID: "exec-9", Name: "stage_sales", Kind: "trans"})
	}))
	defer server.Close()

	viper.Set("url", server.URL)
	viper.Set("operator", "ops.alice")

	output := execute(t, "run", "stage_sales", "--dir", "2", "--kind", "trans", "-o", "json")

	var got api.DispatchResponse
	if err := json.Unmarshal([]byte(output), &got); err != nil {
		t.Fatalf("expected JSON output, got: %s", output)
	}
	if got.ID != "exec-9" || got.Kind != "trans" {
		t.Errorf("unexpected output: %+v", got)
	}
}

func TestRunCommand_RequiresNameArgument(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"run"})

	err := rootCmd.Execute()
	if err == nil {
		t.Error("expected error when no name provided")
	}
}
