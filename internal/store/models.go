// Package store contains the database layer for kettleplane.
// Rows mirror the Pentaho repository tables plus the two bot-owned tables.
package store

import "time"

// DirectoryRow is one R_DIRECTORY row.
type DirectoryRow struct {
	ID       int64
	ParentID int64 // 0 means top level
	Name     string
}

// ArtifactRow is one R_JOB or R_TRANSFORMATION row.
type ArtifactRow struct {
	ID          int64
	DirectoryID int64
	Name        string
}

// CatalogRows is the flat row set the catalog tree is assembled from.
type CatalogRows struct {
	Directories     []DirectoryRow
	Jobs            []ArtifactRow
	Transformations []ArtifactRow
}

// SqlAttribute is the query text of one TableInput step.
type SqlAttribute struct {
	TransformationName string
	StepName           string
	CurrentText        string
}

// SqlVersion is an archived copy of a step's query text, written before each live update.
type SqlVersion struct {
	ID                 int64
	TransformationName string
	StepName           string
	PreviousText       string
	ChangedBy          string
	ChangedAt          time.Time
}

// SqlUsage is a step whose query text mentions a search term.
type SqlUsage struct {
	DirectoryID        int64
	TransformationName string
	StepName           string
}

// RunRecord is one row of R_JOB_LOG / R_TRANS_LOG.
type RunRecord struct {
	Status     string
	ReplayDate *time.Time
	Log        string
	User       string
}

// Failure is an artifact whose latest run in the report window did not end cleanly.
type Failure struct {
	Kind   string // "Job" or "Transformation"
	Name   string
	Status string
	Time   string // HH:MM of the failing run
}

// FailureReport summarizes the last 24 hours of runs.
type FailureReport struct {
	TotalRuns int64
	Failures  []Failure
}

// ScheduleHintType is the scheduler type configured on a job's Start entry.
type ScheduleHintType string

const (
	ScheduleHintNone     ScheduleHintType = "NONE"
	ScheduleHintInterval ScheduleHintType = "INTERVAL"
	ScheduleHintDaily    ScheduleHintType = "DAILY"
)

// ScheduleHint is the default schedule stored in the job itself.
type ScheduleHint struct {
	Type            ScheduleHintType
	Description     string
	Hour            int
	Minute          int
	IntervalMinutes int
}

// AuditEntry is one BOT_AUDIT_LOG row.
type AuditEntry struct {
	UserID     string
	ActionType string
	TargetName string
	Details    string
	LoggedAt   time.Time
}

// Audit action types.
const (
	ActionRun       = "RUN"
	ActionRunResult = "RUN_RESULT"
	ActionStop      = "STOP"
	ActionEditSQL   = "EDIT_SQL"
	ActionSchedule  = "SCHEDULE"
	ActionSearch    = "SEARCH"
	ActionFreeze    = "FREEZE"
)
