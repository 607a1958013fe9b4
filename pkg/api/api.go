// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// OperatorHeader identifies the person behind a request. Mutating calls must set it.
const OperatorHeader = "X-Operator-ID"

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// ArtifactResponse is one job or transformation.
type ArtifactResponse struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	DirectoryID int64  `json:"directory_id"`
	Path        string `json:"path"`
}

// DirectorySummary is a subfolder entry of a directory listing.
type DirectorySummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DirectoryResponse is one level of the catalog tree.
type DirectoryResponse struct {
	ID              int64              `json:"id"`
	Name            string             `json:"name"`
	Path            string             `json:"path"`
	ParentID        *int64             `json:"parent_id,omitempty"`
	Subfolders      []DirectorySummary `json:"subfolders"`
	Jobs            []ArtifactResponse `json:"jobs"`
	Transformations []ArtifactResponse `json:"transformations"`
}

// RefreshResponse reports the size of a freshly loaded catalog.
type RefreshResponse struct {
	Directories int       `json:"directories"`
	Artifacts   int       `json:"artifacts"`
	BuiltAt     time.Time `json:"built_at"`
}

// SearchResponse lists artifacts ranked by match quality.
type SearchResponse struct {
	Query   string             `json:"query"`
	Results []ArtifactResponse `json:"results"`
}

// DispatchRequest is the body of POST /executions.
type DispatchRequest struct {
	Name        string `json:"name"`
	DirectoryID int64  `json:"directory_id"`
	Kind        string `json:"kind"`
}

// DispatchResponse describes a started execution.
type DispatchResponse struct {
	ID          string `json:"id"`
	ShortID     string `json:"short_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	DirectoryID int64  `json:"directory_id"`
	Path        string `json:"path"`
}

// StatusResponse is one status reading of an execution.
type StatusResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ProcessResponse is one live process on the engine.
type ProcessResponse struct {
	ID      string `json:"id"`
	ShortID string `json:"short_id"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
}

// ProcessListResponse lists live processes.
type ProcessListResponse struct {
	Processes []ProcessResponse `json:"processes"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// SqlStepResponse is the query text of one step.
type SqlStepResponse struct {
	Transformation string `json:"transformation"`
	Step           string `json:"step"`
	SQL            string `json:"sql"`
}

// UpdateSqlRequest is the body of PUT /transformations/{name}/sql/{step}.
type UpdateSqlRequest struct {
	SQL string `json:"sql"`
}

// SqlVersionResponse is one archived query text.
type SqlVersionResponse struct {
	ID             int64     `json:"id"`
	Transformation string    `json:"transformation"`
	Step           string    `json:"step"`
	PreviousSQL    string    `json:"previous_sql"`
	ChangedBy      string    `json:"changed_by"`
	ChangedAt      time.Time `json:"changed_at"`
}

// SqlUsageResponse is one step whose query mentions a search term.
type SqlUsageResponse struct {
	Transformation string `json:"transformation"`
	Step           string `json:"step"`
	DirectoryID    int64  `json:"directory_id"`
	Path           string `json:"path"`
}

// ScheduleRequest is the body of PUT /schedules/{jobId}.
type ScheduleRequest struct {
	DirectoryID int64  `json:"directory_id" yaml:"directory_id"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
	// Trigger is "daily HH:MM" or "every N minutes".
	Trigger string `json:"trigger" yaml:"trigger"`
}

// RescheduleRequest is the body of PATCH /schedules/{jobId}.
type RescheduleRequest struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ScheduleFromHintRequest is the body of POST /schedules/{jobId}/from-hint.
type ScheduleFromHintRequest struct {
	DirectoryID int64 `json:"directory_id"`
}

// ScheduleResponse is one schedule entry.
type ScheduleResponse struct {
	JobID       string     `json:"job_id" yaml:"job_id"`
	DirectoryID int64      `json:"directory_id" yaml:"directory_id"`
	Kind        string     `json:"kind" yaml:"kind"`
	Trigger     string     `json:"trigger" yaml:"trigger"`
	Paused      bool       `json:"paused" yaml:"paused"`
	NextRun     *time.Time `json:"next_run,omitempty" yaml:"next_run,omitempty"`
	// NextRunLabel is the formatted next run, or PAUSED.
	NextRunLabel string `json:"next_run_label" yaml:"next_run_label"`
}

// ScheduleListResponse lists schedule entries, paused ones last.
type ScheduleListResponse struct {
	Schedules []ScheduleResponse `json:"schedules" yaml:"schedules"`
}

// ScheduleHintResponse is the schedule stored in a job's Start entry.
type ScheduleHintResponse struct {
	Type            string `json:"type"`
	Description     string `json:"description"`
	Hour            int    `json:"hour,omitempty"`
	Minute          int    `json:"minute,omitempty"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
}

// RunResponse is one past run from the engine's log tables.
type RunResponse struct {
	Status     string     `json:"status"`
	ReplayDate *time.Time `json:"replay_date,omitempty"`
	Log        string     `json:"log"`
	User       string     `json:"user"`
}

// RunListResponse lists recent runs, newest first.
type RunListResponse struct {
	Name string        `json:"name"`
	Kind string        `json:"kind"`
	Runs []RunResponse `json:"runs"`
}

// FailureResponse is one failed artifact.
type FailureResponse struct {
	Kind   string `json:"kind"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Time   string `json:"time"`
}

// FailureReportResponse summarizes the last 24 hours.
type FailureReportResponse struct {
	TotalRuns int64             `json:"total_runs"`
	Failures  []FailureResponse `json:"failures"`
}

// AuditEntryResponse is one recorded operator action.
type AuditEntryResponse struct {
	UserID   string    `json:"user_id"`
	Action   string    `json:"action"`
	Target   string    `json:"target"`
	Details  string    `json:"details,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// AuditListResponse lists recent audit entries, newest first.
type AuditListResponse struct {
	Entries []AuditEntryResponse `json:"entries"`
}

// SearchHistoryResponse lists an operator's recent search terms, most
// recently used first.
type SearchHistoryResponse struct {
	UserID string   `json:"user_id"`
	Terms  []string `json:"terms"`
}

// FreezeRequest is the body of POST /admin/freeze.
type FreezeRequest struct {
	Frozen bool `json:"frozen"`
}

// FreezeResponse is the state of the change freeze.
type FreezeResponse struct {
	Frozen    bool       `json:"frozen"`
	ChangedBy string     `json:"changed_by,omitempty"`
	ChangedAt *time.Time `json:"changed_at,omitempty"`
}

// ReadyResponse is the readiness report of the controller. Only the
// database decides readiness; the rest is informational.
type ReadyResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	// Carte is "reachable", "unreachable" or empty when not checked.
	Carte string `json:"carte,omitempty"`
	// CatalogAgeSeconds is how old the loaded catalog snapshot is; nil when
	// nothing was loaded yet.
	CatalogAgeSeconds *float64 `json:"catalog_age_seconds,omitempty"`
	CatalogArtifacts  int      `json:"catalog_artifacts"`
	Frozen            bool     `json:"frozen"`
}
