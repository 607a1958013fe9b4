package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"kettleplane/internal/store"
)

const (
	defaultAuditLimit     = 15
	defaultUserAuditLimit = 10
	defaultSearchLimit    = 5
)

// AddAuditEntry records an operator action.
func (s *Store) AddAuditEntry(ctx context.Context, entry *store.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO BOT_AUDIT_LOG (USER_ID, ACTION_TYPE, TARGET_NAME, DETAILS)
		VALUES ($1, $2, $3, $4)
	`, entry.UserID, entry.ActionType, entry.TargetName, entry.Details)
	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// RecentAuditEntries returns the newest entries first.
func (s *Store) RecentAuditEntries(ctx context.Context, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT USER_ID, ACTION_TYPE, TARGET_NAME, DETAILS, LOGGED_AT
		FROM BOT_AUDIT_LOG
		ORDER BY LOGGED_AT DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return scanAuditEntries(rows)
}

// UserAuditEntries returns the newest entries of userID first.
func (s *Store) UserAuditEntries(ctx context.Context, userID string, limit int) ([]store.AuditEntry, error) {
	if limit <= 0 {
		limit = defaultUserAuditLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT USER_ID, ACTION_TYPE, TARGET_NAME, DETAILS, LOGGED_AT
		FROM BOT_AUDIT_LOG
		WHERE USER_ID = $1
		ORDER BY LOGGED_AT DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log of %s: %w", userID, err)
	}
	return scanAuditEntries(rows)
}

// RecentSearches returns the distinct SEARCH terms of userID, ordered by
// their latest use.
func (s *Store) RecentSearches(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DETAILS
		FROM BOT_AUDIT_LOG
		WHERE USER_ID = $1 AND ACTION_TYPE = $2 AND DETAILS IS NOT NULL
		GROUP BY DETAILS
		ORDER BY MAX(LOGGED_AT) DESC
		LIMIT $3
	`, userID, store.ActionSearch, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read search history of %s: %w", userID, err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, fmt.Errorf("failed to scan search term: %w", err)
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

func scanAuditEntries(rows *sql.Rows) ([]store.AuditEntry, error) {
	defer rows.Close()

	var entries []store.AuditEntry
	for rows.Next() {
		var (
			e       store.AuditEntry
			target  sql.NullString
			details sql.NullString
		)
		if err := rows.Scan(&e.UserID, &e.ActionType, &target, &details, &e.LoggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.TargetName = target.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
