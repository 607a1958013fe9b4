package store

import "context"

// CatalogStore reads the directory/job/transformation hierarchy.
type CatalogStore interface {
	// LoadCatalog reads every directory, job and transformation row.
	LoadCatalog(ctx context.Context) (*CatalogRows, error)
}

// SqlStore reads and versions the query text of TableInput steps.
type SqlStore interface {
	// ListSqlSteps returns the SQL-bearing steps of a transformation, ordered by step name.
	ListSqlSteps(ctx context.Context, transformationName string) ([]SqlAttribute, error)

	// ReplaceSql archives the current text into the history table and overwrites it,
	// both inside one transaction.
	ReplaceSql(ctx context.Context, transformationName, stepName, newText, actor string) error

	// ListSqlVersions returns the newest versions first.
	ListSqlVersions(ctx context.Context, transformationName, stepName string, limit int) ([]SqlVersion, error)

	// GetSqlVersion returns one archived version.
	GetSqlVersion(ctx context.Context, id int64) (*SqlVersion, error)

	// FindSqlUsage searches step query text case-insensitively.
	FindSqlUsage(ctx context.Context, term string) ([]SqlUsage, error)
}

// RunStore reads Kettle's own run logs.
type RunStore interface {
	// RecentRuns returns the last runs of a job (isJob) or transformation.
	RecentRuns(ctx context.Context, name string, isJob bool) ([]RunRecord, error)

	// FailureReport returns the last 24 hours' failures.
	FailureReport(ctx context.Context) (*FailureReport, error)

	// ScheduleHint reads the default schedule of a job's Start entry.
	ScheduleHint(ctx context.Context, jobName string) (*ScheduleHint, error)
}

// AuditStore appends and lists operator actions.
type AuditStore interface {
	AddAuditEntry(ctx context.Context, entry *AuditEntry) error
	RecentAuditEntries(ctx context.Context, limit int) ([]AuditEntry, error)
	// UserAuditEntries returns the newest actions of one operator.
	UserAuditEntries(ctx context.Context, userID string, limit int) ([]AuditEntry, error)
	// RecentSearches returns an operator's distinct search terms, most
	// recently used first.
	RecentSearches(ctx context.Context, userID string, limit int) ([]string, error)
}
